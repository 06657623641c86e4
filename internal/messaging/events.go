package messaging

import "encoding/json"

// Event names sent to clients.
const (
	EventGroupUpdated           = "groupUpdated"
	EventThreadSnapshot         = "threadSnapshot"
	EventNewMessage             = "newMessage"
	EventNewMessageNotification = "newMessageNotification"
	EventUserOnline             = "userOnline"
	EventUserOffline            = "userOffline"
	EventOnlineUsers            = "onlineUsers"
	EventError                  = "error"
)

// Event is one server-to-client frame.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// GroupUpdatedPayload carries the live membership of a conversation group.
type GroupUpdatedPayload struct {
	Group   Group    `json:"group"`
	Members []string `json:"members"`
}

// NotificationPayload tells a user that someone messaged them while they
// were not viewing that conversation.
type NotificationPayload struct {
	Username string `json:"username"`
	KnownAs  string `json:"knownAs"`
}

// PresencePayload names a user that came online or went offline.
type PresencePayload struct {
	Username string `json:"username"`
}

// ErrorPayload describes a rejected client request.
type ErrorPayload struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

// Encode marshals the event to the JSON wire form.
func (e Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}

func groupUpdated(g Group) Event {
	if g.Connections == nil {
		g.Connections = []Connection{}
	}
	return Event{Type: EventGroupUpdated, Payload: GroupUpdatedPayload{Group: g, Members: g.MembersViewing()}}
}

// ErrorEvent builds the error frame for err using the transport error codes.
func ErrorEvent(err error) Event {
	return Event{Type: EventError, Payload: ErrorPayload{Code: ErrorCode(err), Error: err.Error()}}
}

// ErrorCode maps err to a stable client-facing code.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case isAny(err, ErrMessageNotFound, ErrUnknownRecipient):
		return "not_found"
	case isAny(err, ErrNotMessageParty):
		return "forbidden"
	case IsValidation(err):
		return "bad_request"
	default:
		return "internal_error"
	}
}
