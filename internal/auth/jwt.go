package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const identityKey contextKey = "identity"

const DevSecret = "default-secret-key-change-in-production"

// Identity is who is calling and which workspace they act in
type Identity struct {
	UserID      string
	WorkspaceID string
}

// JWTConfig holds JWT configuration
type JWTConfig struct {
	SecretKey string
	// AllowDevHeaders accepts X-Workspace-ID / X-User-ID without a token
	AllowDevHeaders bool
}

// NewJWTConfig creates a new JWT config
func NewJWTConfig(secretKey string, allowDevHeaders bool) *JWTConfig {
	if secretKey == "" {
		secretKey = DevSecret // Default for development
	}
	return &JWTConfig{SecretKey: secretKey, AllowDevHeaders: allowDevHeaders}
}

// Middleware resolves the caller's identity. Requests without credentials
// pass through anonymously; respondent endpoints need none.
func (c *JWTConfig) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := c.FromRequest(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		if id != (Identity{}) {
			r = r.WithContext(WithIdentity(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}

// FromRequest reads a bearer token (header, or ?token= for WebSocket
// upgrades) and falls back to the development headers.
func (c *JWTConfig) FromRequest(r *http.Request) (Identity, error) {
	tokenString := ""
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			return Identity{}, errors.New("invalid authorization header")
		}
		tokenString = parts[1]
	} else if r.Header.Get("Upgrade") == "websocket" {
		tokenString = r.URL.Query().Get("token")
	}

	if tokenString != "" {
		return c.ParseToken(tokenString)
	}

	if c.AllowDevHeaders {
		return Identity{
			UserID:      r.Header.Get("X-User-ID"),
			WorkspaceID: r.Header.Get("X-Workspace-ID"),
		}, nil
	}
	return Identity{}, nil
}

// ParseToken validates an HMAC-signed token and extracts the identity claims
func (c *JWTConfig) ParseToken(tokenString string) (Identity, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		// Validate signing method
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(c.SecretKey), nil
	})
	if err != nil || !token.Valid {
		return Identity{}, errors.New("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Identity{}, errors.New("invalid token claims")
	}
	userID, _ := claims["sub"].(string)
	workspaceID, _ := claims["workspace_id"].(string)
	return Identity{UserID: userID, WorkspaceID: workspaceID}, nil
}

// IssueToken signs a token for the identity, valid for ttl
func (c *JWTConfig) IssueToken(id Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":          id.UserID,
		"workspace_id": id.WorkspaceID,
		"iat":          now.Unix(),
		"exp":          now.Add(ttl).Unix(),
	})
	return token.SignedString([]byte(c.SecretKey))
}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// GetIdentity extracts the caller identity from context
func GetIdentity(ctx context.Context) Identity {
	if id, ok := ctx.Value(identityKey).(Identity); ok {
		return id
	}
	return Identity{}
}

// GetUserID extracts user ID from context
func GetUserID(ctx context.Context) string {
	return GetIdentity(ctx).UserID
}

// GetWorkspaceID extracts workspace ID from context
func GetWorkspaceID(ctx context.Context) string {
	return GetIdentity(ctx).WorkspaceID
}
