package messaging

import (
	"sync"

	"github.com/Tyrowin/socialchat/internal/logger"
)

// Fanout is the transport-level broadcast registry. Each live connection
// attaches one outbound channel; named groups index those channels so an
// event can be delivered to everyone viewing a conversation.
//
// Sends never block: a full buffer drops the frame for that connection only.
// Sending to a connection that has detached is a no-op. Callers must detach
// a connection before closing its channel.
type Fanout struct {
	mu      sync.RWMutex
	outs    map[string]chan<- []byte       // connection id -> outbound channel
	groups  map[string]map[string]struct{} // group name -> connection ids
	joined  map[string]map[string]struct{} // connection id -> group names
	metrics Metrics
}

// NewFanout returns an empty fan-out registry.
func NewFanout(m Metrics) *Fanout {
	if m == nil {
		m = nopMetrics{}
	}
	return &Fanout{
		outs:    make(map[string]chan<- []byte),
		groups:  make(map[string]map[string]struct{}),
		joined:  make(map[string]map[string]struct{}),
		metrics: m,
	}
}

// Attach registers the outbound channel of connectionID.
func (f *Fanout) Attach(connectionID string, out chan<- []byte) {
	f.mu.Lock()
	f.outs[connectionID] = out
	f.mu.Unlock()
}

// Detach removes connectionID from every group and forgets its channel.
// After Detach returns no further frame is written to that channel.
func (f *Fanout) Detach(connectionID string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for name := range f.joined[connectionID] {
		f.leaveLocked(name, connectionID)
	}
	delete(f.joined, connectionID)
	delete(f.outs, connectionID)
}

// Join subscribes connectionID to group name.
func (f *Fanout) Join(name, connectionID string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	members := f.groups[name]
	if members == nil {
		members = make(map[string]struct{})
		f.groups[name] = members
	}
	members[connectionID] = struct{}{}

	memberships := f.joined[connectionID]
	if memberships == nil {
		memberships = make(map[string]struct{})
		f.joined[connectionID] = memberships
	}
	memberships[name] = struct{}{}
}

// Leave unsubscribes connectionID from group name.
func (f *Fanout) Leave(name, connectionID string) {
	f.mu.Lock()
	f.leaveLocked(name, connectionID)
	f.mu.Unlock()
}

func (f *Fanout) leaveLocked(name, connectionID string) {
	if members := f.groups[name]; members != nil {
		delete(members, connectionID)
		if len(members) == 0 {
			delete(f.groups, name)
		}
	}
	if memberships := f.joined[connectionID]; memberships != nil {
		delete(memberships, name)
		if len(memberships) == 0 {
			delete(f.joined, connectionID)
		}
	}
}

// Members returns the connection ids subscribed to group name.
func (f *Fanout) Members(name string) []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	out := make([]string, 0, len(f.groups[name]))
	for id := range f.groups[name] {
		out = append(out, id)
	}
	return out
}

// Broadcast delivers ev to every connection in group name and returns how
// many connections accepted it.
func (f *Fanout) Broadcast(name string, ev Event) int {
	payload, ok := f.encode(ev)
	if !ok {
		return 0
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	delivered := 0
	for id := range f.groups[name] {
		if f.sendLocked(id, payload) {
			delivered++
		}
	}
	return delivered
}

// Send delivers ev to the listed connections and returns how many accepted it.
func (f *Fanout) Send(connectionIDs []string, ev Event) int {
	if len(connectionIDs) == 0 {
		return 0
	}
	payload, ok := f.encode(ev)
	if !ok {
		return 0
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	delivered := 0
	for _, id := range connectionIDs {
		if f.sendLocked(id, payload) {
			delivered++
		}
	}
	return delivered
}

func (f *Fanout) sendLocked(connectionID string, payload []byte) bool {
	out, ok := f.outs[connectionID]
	if !ok {
		logger.Debug("broadcast_to_gone_connection", "connection_id", connectionID)
		return false
	}
	select {
	case out <- payload:
		return true
	default:
		f.metrics.BroadcastDropped()
		logger.Warn("broadcast_dropped_send_buffer_full", "connection_id", connectionID)
		return false
	}
}

func (f *Fanout) encode(ev Event) ([]byte, bool) {
	payload, err := ev.Encode()
	if err != nil {
		logger.Error("event_encode_failed", "type", ev.Type, "error", err)
		return nil, false
	}
	return payload, true
}
