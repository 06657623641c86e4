package server

import (
	"errors"
	"strings"

	"github.com/Tyrowin/socialchat/internal/messaging"
)

// Inbound frame types.
const (
	frameSendMessage = "sendMessage"
)

// Frame errors reported back to the client without reaching the hub.
var (
	errInvalidFrame     = errors.New("frame is not valid JSON")
	errUnsupportedFrame = errors.New("unsupported frame type")
	errRateLimited      = errors.New("rate limit exceeded, frame dropped")
	errShuttingDown     = errors.New("server is shutting down")
)

// ClientFrame is the JSON frame a client sends over the message hub.
type ClientFrame struct {
	Type              string `json:"type"`
	RecipientUsername string `json:"recipientUsername"`
	Content           string `json:"content"`
}

// connKind distinguishes conversation connections from presence-only ones.
type connKind int

const (
	kindConversation connKind = iota
	kindPresence
)

func (k connKind) String() string {
	if k == kindPresence {
		return "presence"
	}
	return "conversation"
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}

// errorEvent builds the error frame for err. Transport-level rejections get
// their own codes; everything else goes through messaging.ErrorCode.
func errorEvent(err error) messaging.Event {
	code := messaging.ErrorCode(err)
	switch {
	case errors.Is(err, errRateLimited):
		code = "rate_limited"
	case errors.Is(err, errInvalidFrame), errors.Is(err, errUnsupportedFrame):
		code = "bad_request"
	}
	return messaging.Event{Type: messaging.EventError, Payload: messaging.ErrorPayload{Code: code, Error: err.Error()}}
}
