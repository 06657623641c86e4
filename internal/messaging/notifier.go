package messaging

// presenceGroup is the fan-out group every presence listener joins.
const presenceGroup = "presence"

// Notifier pushes presence-channel events: new-message badges to a user's
// live connections and online/offline changes to every presence listener.
type Notifier struct {
	registry *Registry
	fanout   *Fanout
	metrics  Metrics
}

// NewNotifier returns a notifier sending through fanout.
func NewNotifier(r *Registry, f *Fanout, m Metrics) *Notifier {
	if m == nil {
		m = nopMetrics{}
	}
	return &Notifier{registry: r, fanout: f, metrics: m}
}

// NotifyNewMessage tells every live connection of recipient that from sent
// them a message. It returns false, without queuing anything, when the
// recipient is offline.
func (n *Notifier) NotifyNewMessage(recipient string, from User) bool {
	conns := n.registry.ConnectionsFor(recipient)
	if len(conns) == 0 {
		return false
	}
	ev := Event{Type: EventNewMessageNotification, Payload: NotificationPayload{Username: from.Username, KnownAs: from.KnownAs}}
	if n.fanout.Send(conns, ev) == 0 {
		return false
	}
	n.metrics.NotificationSent()
	return true
}

// Listen subscribes a presence connection to online/offline broadcasts and
// sends it the current online users.
func (n *Notifier) Listen(connectionID string) {
	n.fanout.Join(presenceGroup, connectionID)
	n.fanout.Send([]string{connectionID}, Event{Type: EventOnlineUsers, Payload: n.registry.OnlineUsers()})
}

// UserOnline broadcasts that username came online.
func (n *Notifier) UserOnline(username string) {
	n.fanout.Broadcast(presenceGroup, Event{Type: EventUserOnline, Payload: PresencePayload{Username: username}})
}

// UserOffline broadcasts that username went offline.
func (n *Notifier) UserOffline(username string) {
	n.fanout.Broadcast(presenceGroup, Event{Type: EventUserOffline, Payload: PresencePayload{Username: username}})
}
