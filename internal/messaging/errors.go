package messaging

import (
	"errors"
	"strings"
)

// Validation errors are returned to the caller only; no state is mutated and
// the operation is not retried.
var (
	ErrSelfMessage      = errors.New("messaging: you cannot send a message to yourself")
	ErrUnknownRecipient = errors.New("messaging: recipient could not be found")
	ErrUnknownSender    = errors.New("messaging: sender could not be found")
	ErrEmptyContent     = errors.New("messaging: message content is empty")
	ErrInvalidUsername  = errors.New("messaging: username is missing or invalid")
	ErrMessageNotFound  = errors.New("messaging: message not found")
	ErrNotMessageParty  = errors.New("messaging: message does not belong to you")
	ErrInvalidContainer = errors.New("messaging: unknown mailbox container")
)

// ErrPersistence marks a failure of the message, group or user store.
var ErrPersistence = errors.New("messaging: persistence failure")

// Errors reported by store implementations.
var (
	ErrUserNotFound       = errors.New("store: user not found")
	ErrGroupNotFound      = errors.New("store: group not found")
	ErrGroupExists        = errors.New("store: group already exists")
	ErrConnectionNotFound = errors.New("store: connection not found")
	ErrStoredMsgNotFound  = errors.New("store: message not found")
)

var validationErrors = []error{
	ErrSelfMessage,
	ErrUnknownRecipient,
	ErrUnknownSender,
	ErrEmptyContent,
	ErrInvalidUsername,
	ErrMessageNotFound,
	ErrNotMessageParty,
	ErrInvalidContainer,
}

// IsValidation reports whether err was caused by a rejected request rather
// than an infrastructure failure.
func IsValidation(err error) bool {
	return isAny(err, validationErrors...)
}

// ValidUsername reports whether name can take part in a conversation group
// name. The dash is reserved as the group name separator.
func ValidUsername(name string) bool {
	return name != "" && !strings.ContainsAny(name, "- \t\r\n")
}

func isAny(err error, targets ...error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
