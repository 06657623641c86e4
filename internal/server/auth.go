package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/Tyrowin/socialchat/internal/messaging"
)

// ctxUsername is the gin context key holding the authenticated username.
const ctxUsername = "username"

var (
	errMissingToken = errors.New("auth: missing access token")
	errInvalidToken = errors.New("auth: invalid access token")
)

// Authenticator validates HS256 access tokens and extracts the caller's
// username from the unique_name claim, falling back to sub.
type Authenticator struct {
	secret []byte
	issuer string
}

// NewAuthenticator returns an authenticator for cfg.
func NewAuthenticator(cfg AuthConfig) *Authenticator {
	return &Authenticator{secret: []byte(cfg.JWTSecret), issuer: cfg.Issuer}
}

// IssueToken signs a token for username valid for ttl.
func (a *Authenticator) IssueToken(username string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"unique_name": username,
		"sub":         username,
		"iat":         now.Unix(),
		"exp":         now.Add(ttl).Unix(),
	}
	if a.issuer != "" {
		claims["iss"] = a.issuer
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Authenticate validates tokenStr and returns the username it carries.
func (a *Authenticator) Authenticate(tokenStr string) (string, error) {
	if tokenStr == "" {
		return "", errMissingToken
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired()}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, opts...)
	if err != nil || !token.Valid {
		return "", fmt.Errorf("%w: %v", errInvalidToken, err)
	}

	username, _ := claims["unique_name"].(string)
	if username == "" {
		username, _ = claims.GetSubject()
	}
	if !messaging.ValidUsername(username) {
		return "", fmt.Errorf("%w: no usable username claim", errInvalidToken)
	}
	return username, nil
}

// tokenFromRequest reads the access_token query parameter, which browsers
// must use for WebSocket upgrades, or a Bearer Authorization header.
func tokenFromRequest(r *http.Request) string {
	if t := r.URL.Query().Get("access_token"); t != "" {
		return t
	}
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

// requireAuth rejects unauthenticated requests with 401 and stores the
// caller's username under ctxUsername.
func (a *Authenticator) requireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		username, err := a.Authenticate(tokenFromRequest(c.Request))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": "unauthorized", "error": err.Error()})
			return
		}
		c.Set(ctxUsername, username)
		c.Next()
	}
}
