package server

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Tyrowin/socialchat/internal/logger"
	"github.com/Tyrowin/socialchat/internal/messaging"
)

const restTimeout = 5 * time.Second

// healthHandler reports that the process is serving.
func (s *Server) healthHandler(c *gin.Context) {
	c.String(http.StatusOK, "socialchat server is running")
}

// messageHubHandler upgrades the request and joins the caller to the
// conversation with the user named by the "user" query parameter.
func (s *Server) messageHubHandler(c *gin.Context) {
	username := c.GetString(ctxUsername)
	other := strings.TrimSpace(c.Query("user"))
	if !messaging.ValidUsername(other) {
		c.JSON(http.StatusBadRequest, gin.H{"code": "bad_request", "error": messaging.ErrInvalidUsername.Error()})
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("websocket_upgrade_failed", "remote_addr", c.Request.RemoteAddr, "error", err)
		return
	}

	client := s.newClient(conn, username, kindConversation, c.Request.RemoteAddr)
	ctx, cancel := context.WithTimeout(s.ctx, requestTimeout)
	defer cancel()

	if err := s.hub.Connect(ctx, client.connection(), other, client.send); err != nil {
		logger.Warn("message_hub_connect_rejected", "username", username, "other", other, "error", err)
		client.reject(err)
		return
	}
	s.admit(client)
}

// presenceHubHandler upgrades the request into a presence-only connection.
func (s *Server) presenceHubHandler(c *gin.Context) {
	username := c.GetString(ctxUsername)

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("websocket_upgrade_failed", "remote_addr", c.Request.RemoteAddr, "error", err)
		return
	}

	client := s.newClient(conn, username, kindPresence, c.Request.RemoteAddr)
	if err := s.hub.ConnectPresence(client.connection(), client.send); err != nil {
		logger.Warn("presence_connect_rejected", "username", username, "error", err)
		client.reject(err)
		return
	}
	s.admit(client)
}

// admit hands an accepted client to the client set. During shutdown the
// client is disconnected from the hub again and closed.
func (s *Server) admit(client *Client) {
	if s.clients.start(client) {
		return
	}
	if err := s.hub.Disconnect(context.Background(), client.id); err != nil {
		logger.Warn("disconnect_failed", "connection_id", client.id, "error", err)
	}
	client.reject(errShuttingDown)
}

// listMessagesHandler returns one page of the caller's mailbox.
func (s *Server) listMessagesHandler(c *gin.Context) {
	q := messaging.MailboxQuery{
		Username:  c.GetString(ctxUsername),
		Container: strings.ToLower(c.Query("container")),
		Limit:     queryInt(c, "limit", 0),
		Offset:    queryInt(c, "offset", 0),
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), restTimeout)
	defer cancel()

	page, err := s.hub.ListMailbox(ctx, q)
	if err != nil {
		writeError(c, err)
		return
	}
	c.Header("X-Total-Count", strconv.Itoa(page.Total))
	c.JSON(http.StatusOK, page)
}

// threadHandler returns the conversation with :username and marks the
// messages the caller received in it as read.
func (s *Server) threadHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), restTimeout)
	defer cancel()

	msgs, err := s.hub.GetThread(ctx, c.GetString(ctxUsername), c.Param("username"))
	if err != nil {
		writeError(c, err)
		return
	}
	if msgs == nil {
		msgs = []messaging.Message{}
	}
	c.JSON(http.StatusOK, msgs)
}

// deleteMessageHandler soft-deletes :id for the caller.
func (s *Server) deleteMessageHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), restTimeout)
	defer cancel()

	if err := s.hub.DeleteMessage(ctx, c.Param("id"), c.GetString(ctxUsername)); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) onlineUsersHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"usernames": s.hub.OnlineUsers()})
}

func queryInt(c *gin.Context, key string, def int) int {
	if v := c.Query(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// writeError maps err onto an HTTP status and the error event payload.
func writeError(c *gin.Context, err error) {
	code := messaging.ErrorCode(err)
	status := http.StatusInternalServerError
	switch code {
	case "bad_request":
		status = http.StatusBadRequest
	case "not_found":
		status = http.StatusNotFound
	case "forbidden":
		status = http.StatusForbidden
	default:
		logger.Error("request_failed", "method", c.Request.Method, "path", c.FullPath(), "error", err)
	}
	c.JSON(status, messaging.ErrorPayload{Code: code, Error: err.Error()})
}
