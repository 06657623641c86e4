package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Tyrowin/socialchat/internal/logger"
	"github.com/Tyrowin/socialchat/internal/messaging"
)

const (
	sendBufferSize = 256
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	requestTimeout = 10 * time.Second
)

// Client is one WebSocket connection. The read pump dispatches inbound
// frames to the messaging hub; the write pump drains send, which the hub's
// fan-out fills.
type Client struct {
	id             string
	username       string
	kind           connKind
	conn           *websocket.Conn
	send           chan []byte
	server         *Server
	addr           string
	maxMessageSize int64
	rateLimiter    *rateLimiter
	rateLimit      RateLimitConfig
}

func (s *Server) newClient(conn *websocket.Conn, username string, kind connKind, addr string) *Client {
	if conn != nil {
		conn.SetReadLimit(s.cfg.MaxMessageSize)
	}
	return &Client{
		id:             uuid.NewString(),
		username:       username,
		kind:           kind,
		conn:           conn,
		send:           make(chan []byte, sendBufferSize),
		server:         s,
		addr:           addr,
		maxMessageSize: s.cfg.MaxMessageSize,
		rateLimiter:    newRateLimiter(s.cfg.RateLimit.Burst, s.cfg.RateLimit.RefillInterval),
		rateLimit:      s.cfg.RateLimit,
	}
}

func (c *Client) connection() messaging.Connection {
	return messaging.Connection{ID: c.id, Username: c.username}
}

// setupReadConnection configures read deadlines and pong handler for the WebSocket connection
func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		logger.Warn("set_read_deadline_failed", "connection_id", c.id, "error", err)
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			logger.Warn("set_read_deadline_failed", "connection_id", c.id, "error", err)
		}
		return nil
	})
}

// handleReadError logs the read failure at a level matching its cause. Every
// read error ends the read loop.
func (c *Client) handleReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		logger.Warn("frame_too_large", "connection_id", c.id, "max_bytes", c.maxMessageSize)
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
		logger.Debug("client_closed", "connection_id", c.id, "error", err)
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		logger.Debug("client_connection_closed", "connection_id", c.id, "error", err)
	case websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseMessageTooBig):
		logger.Warn("websocket_unexpected_close", "connection_id", c.id, "error", err)
	default:
		logger.Debug("websocket_read_error", "connection_id", c.id, "error", err)
	}
}

// checkRateLimit verifies if the client has exceeded rate limits
// and returns true if the message should be processed
func (c *Client) checkRateLimit() bool {
	if c.rateLimiter != nil && !c.rateLimiter.allow() {
		logger.Warn("rate_limit_exceeded", "connection_id", c.id, "username", c.username,
			"burst", c.rateLimit.Burst, "interval", c.rateLimit.RefillInterval)
		return false
	}
	return true
}

// reply queues ev for this client only. It must only be called from the read
// pump, which is the only goroutine that closes send.
func (c *Client) reply(ev messaging.Event) {
	payload, err := ev.Encode()
	if err != nil {
		logger.Error("event_encode_failed", "type", ev.Type, "error", err)
		return
	}
	select {
	case c.send <- payload:
	default:
		logger.Warn("reply_dropped_send_buffer_full", "connection_id", c.id)
	}
}

func (c *Client) replyError(err error) {
	c.reply(errorEvent(err))
}

// processMessage decodes one inbound frame and dispatches it to the hub.
func (c *Client) processMessage(rawMessage []byte) {
	var frame ClientFrame
	if err := json.Unmarshal(rawMessage, &frame); err != nil {
		logger.Debug("invalid_frame", "connection_id", c.id, "error", err)
		c.replyError(errInvalidFrame)
		return
	}

	switch {
	case frame.Type == frameSendMessage && c.kind == kindConversation:
		ctx, cancel := context.WithTimeout(c.server.ctx, requestTimeout)
		defer cancel()
		if _, err := c.server.hub.SendMessage(ctx, c.username, frame.RecipientUsername, frame.Content); err != nil {
			if !messaging.IsValidation(err) {
				logger.Error("send_message_failed", "connection_id", c.id, "username", c.username, "error", err)
			}
			c.replyError(err)
		}
	default:
		c.replyError(errUnsupportedFrame)
	}
}

func (c *Client) readPump() {
	defer func() {
		if err := c.server.hub.Disconnect(context.Background(), c.id); err != nil {
			logger.Error("disconnect_failed", "connection_id", c.id, "error", err)
		}
		c.server.clients.remove(c)
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			logger.Debug("close_in_read_pump_failed", "connection_id", c.id, "error", err)
		}
	}()

	c.setupReadConnection()

	for {
		_, rawMessage, err := c.conn.ReadMessage()
		if err != nil {
			c.handleReadError(err)
			return
		}

		if !c.checkRateLimit() {
			c.replyError(errRateLimited)
			continue
		}

		c.processMessage(rawMessage)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.closeConnection()
	}()

	for c.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop processing.
func (c *Client) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case message, ok := <-c.send:
		return c.handleMessage(message, ok)
	case <-ticker.C:
		return c.handlePing()
	}
}

// closeConnection safely closes the WebSocket connection with proper error handling
func (c *Client) closeConnection() {
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		logger.Debug("close_in_write_pump_failed", "connection_id", c.id, "error", err)
	}
}

// handleMessage writes one outgoing frame and returns false if the connection should be closed
func (c *Client) handleMessage(message []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		logger.Debug("set_write_deadline_failed", "connection_id", c.id, "error", err)
		return false
	}

	if !ok {
		return c.writeCloseMessage()
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		if !isExpectedCloseError(err) {
			logger.Debug("write_failed", "connection_id", c.id, "error", err)
		}
		return false
	}
	return true
}

// writeCloseMessage sends a close message to the client
func (c *Client) writeCloseMessage() bool {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := c.conn.WriteMessage(websocket.CloseMessage, msg); err != nil && !isExpectedCloseError(err) {
		logger.Debug("write_close_failed", "connection_id", c.id, "error", err)
	}
	return false
}

// handlePing sends a ping message to keep the connection alive
func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		logger.Debug("write_ping_failed", "connection_id", c.id, "error", err)
		return false
	}
	return true
}

// reject tells a client that was never admitted why, then closes it.
func (c *Client) reject(err error) {
	if payload, encErr := errorEvent(err).Encode(); encErr == nil {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = c.conn.WriteMessage(websocket.TextMessage, payload)
	}
	code := websocket.CloseInternalServerErr
	if messaging.IsValidation(err) {
		code = websocket.ClosePolicyViolation
	}
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, messaging.ErrorCode(err)))
	c.closeConnection()
}
