// Package server is the HTTP and WebSocket front end of the messaging hub.
//
// It authenticates callers with JWT access tokens, upgrades /hubs/message
// and /hubs/presence requests into WebSocket clients whose pumps feed the
// hub, serves the mailbox, thread and presence REST endpoints through gin,
// and loads the process configuration from defaults, YAML and environment.
package server
