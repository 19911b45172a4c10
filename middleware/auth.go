package middleware

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"

	"github.com/breez/todo-sync/model"
	"google.golang.org/grpc/metadata"
)

const (
	SignatureHeader = "X-Powersync-Signature"
)

type contextKey string

const userIDContextKey contextKey = "user_id"

// SessionValidator resolves a session token to the authenticated user id.
type SessionValidator interface {
	ValidateToken(ctx context.Context, token string) (string, error)
}

// WithUserID stores the authenticated user id in the context.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDContextKey, userID)
}

// UserIDFromContext returns the authenticated user id, if any.
func UserIDFromContext(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(userIDContextKey).(string)
	if !ok || userID == "" {
		return "", false
	}
	return userID, true
}

func bearerToken(header string) (string, error) {
	if len(header) <= 7 || !strings.HasPrefix(header, "Bearer ") {
		return "", fmt.Errorf("%w: invalid auth header", model.ErrAuth)
	}
	return header[7:], nil
}

// Authenticate validates the bearer session token found in the incoming
// gRPC metadata and returns a context carrying the user id.
func Authenticate(sessions SessionValidator, ctx context.Context) (context.Context, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return nil, fmt.Errorf("%w: could not read request metadata", model.ErrAuth)
	}
	values := md.Get("authorization")
	if len(values) == 0 {
		return nil, fmt.Errorf("%w: missing auth header", model.ErrAuth)
	}
	token, err := bearerToken(values[0])
	if err != nil {
		return nil, err
	}
	userID, err := sessions.ValidateToken(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrAuth, err)
	}
	return WithUserID(ctx, userID), nil
}

// RequireSession rejects HTTP requests without a valid bearer session.
func RequireSession(sessions SessionValidator) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := bearerToken(r.Header.Get("Authorization"))
			if err != nil {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			userID, err := sessions.ValidateToken(r.Context(), token)
			if err != nil {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
		})
	}
}

// SignPayload returns hex(HMAC-SHA256(body, secret)).
func SignPayload(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyPayload checks a hex encoded signature over the exact raw body in
// constant time.
func VerifyPayload(secret, body []byte, signature string) error {
	if signature == "" {
		return fmt.Errorf("%w: missing signature", model.ErrSignature)
	}
	provided, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return fmt.Errorf("%w: signature is not hex encoded", model.ErrSignature)
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	if !hmac.Equal(provided, mac.Sum(nil)) {
		return model.ErrSignature
	}
	return nil
}
