package server

import (
	"context"
	"sync"
	"time"

	"github.com/Tyrowin/socialchat/internal/logger"
)

// clientSet tracks every admitted WebSocket client so shutdown can close
// them and wait for their pumps to finish.
type clientSet struct {
	mu      sync.Mutex
	clients map[*Client]struct{}
	closed  bool
	wg      sync.WaitGroup
}

func newClientSet() *clientSet {
	return &clientSet{clients: make(map[*Client]struct{})}
}

// start registers c and launches its pumps. It returns false once the set
// has been closed for shutdown.
func (s *clientSet) start(c *Client) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.clients[c] = struct{}{}
	count := len(s.clients)
	s.wg.Add(2)
	s.mu.Unlock()

	logger.Info("client_registered", "connection_id", c.id, "username", c.username, "kind", c.kind.String(), "remote_addr", c.addr, "clients", count)

	go func() {
		defer s.wg.Done()
		c.writePump()
	}()
	go func() {
		defer s.wg.Done()
		c.readPump()
	}()
	return true
}

// remove forgets c and closes its send channel, which stops the write pump.
// The hub must have detached c before this is called.
func (s *clientSet) remove(c *Client) {
	s.mu.Lock()
	if _, ok := s.clients[c]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.clients, c)
	count := len(s.clients)
	s.mu.Unlock()

	close(c.send)
	logger.Info("client_unregistered", "connection_id", c.id, "remote_addr", c.addr, "clients", count)
}

func (s *clientSet) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// closeAll refuses new clients and closes every open connection. Each read
// pump then fails, disconnects from the hub and removes itself.
func (s *clientSet) closeAll() int {
	s.mu.Lock()
	s.closed = true
	clients := make([]*Client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			logger.Warn("client_close_failed", "connection_id", c.id, "remote_addr", c.addr, "error", err)
		}
	}
	return len(clients)
}

// wait blocks until every pump goroutine has returned or timeout elapses.
func (s *clientSet) wait(timeout time.Duration) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return context.DeadlineExceeded
	}
}
