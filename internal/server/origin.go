package server

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/Tyrowin/socialchat/internal/logger"
)

// originPolicy is the WebSocket origin allow-list. "*" allows every origin.
type originPolicy struct {
	allowAll bool
	allowed  map[string]struct{}
}

// newOriginPolicy builds the allow-list from configured origins. Entries
// that are not scheme://host URLs are logged and skipped.
func newOriginPolicy(origins []string) originPolicy {
	p := originPolicy{allowed: make(map[string]struct{}, len(origins))}
	for _, raw := range origins {
		entry := strings.TrimSpace(raw)
		switch entry {
		case "":
			continue
		case "*":
			p.allowAll = true
			continue
		}
		key, ok := originKey(entry)
		if !ok {
			logger.Warn("invalid_origin_ignored", "origin", raw)
			continue
		}
		p.allowed[key] = struct{}{}
	}
	return p
}

// originKey reduces an origin to its lower-cased scheme and host; any path
// is dropped.
func originKey(origin string) (string, bool) {
	u, err := url.Parse(origin)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", false
	}
	return strings.ToLower(u.Scheme + "://" + u.Host), true
}

// isAllowed reports whether the request's Origin header is well formed and
// either listed or covered by "*".
func (p originPolicy) isAllowed(r *http.Request) bool {
	key, ok := originKey(r.Header.Get("Origin"))
	if !ok {
		return false
	}
	if p.allowAll {
		return true
	}
	_, listed := p.allowed[key]
	return listed
}

// checkOrigin is the websocket.Upgrader CheckOrigin hook.
func (p originPolicy) checkOrigin(r *http.Request) bool {
	if p.isAllowed(r) {
		return true
	}

	logger.Warn("websocket_origin_blocked", "origin", r.Header.Get("Origin"), "remote_addr", r.RemoteAddr)
	return false
}
