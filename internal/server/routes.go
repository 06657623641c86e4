package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Tyrowin/socialchat/internal/logger"
)

// routes builds the gin engine with every application route.
func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	r.GET("/health", s.healthHandler)
	if s.metrics != nil {
		r.GET("/metrics", gin.WrapH(s.metrics))
	}

	auth := s.auth.requireAuth()

	hubs := r.Group("/hubs", auth)
	hubs.GET("/message", s.messageHubHandler)
	hubs.GET("/presence", s.presenceHubHandler)

	api := r.Group("/api", auth)
	api.GET("/messages", s.listMessagesHandler)
	api.GET("/messages/thread/:username", s.threadHandler)
	api.DELETE("/messages/:id", s.deleteMessageHandler)
	api.GET("/presence/online", s.onlineUsersHandler)

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "error": "route not found"})
	})
	return r
}

// requestLogger logs one line per request once the handler returns.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("http_request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
			"remote_addr", c.ClientIP(),
		)
	}
}
