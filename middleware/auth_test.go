package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/breez/todo-sync/model"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/metadata"
)

type staticSessions map[string]string

func (s staticSessions) ValidateToken(_ context.Context, token string) (string, error) {
	if userID, ok := s[token]; ok {
		return userID, nil
	}
	return "", errors.New("unknown token")
}

func TestSignVerify(t *testing.T) {
	secret := []byte("shared-secret")
	message := []byte(`{"mutations":[]}`)
	signature := SignPayload(secret, message)
	require.Len(t, signature, 64)
	require.NoError(t, VerifyPayload(secret, message, signature), "failed to verify message")

	require.ErrorIs(t, VerifyPayload([]byte("other-secret"), message, signature), model.ErrSignature)
	require.ErrorIs(t, VerifyPayload(secret, []byte(`{"mutations": []}`), signature), model.ErrSignature)
	require.ErrorIs(t, VerifyPayload(secret, message, ""), model.ErrSignature)
	require.ErrorIs(t, VerifyPayload(secret, message, "zz"), model.ErrSignature)
}

func TestAuthenticate(t *testing.T) {
	sessions := staticSessions{"good": "alice"}

	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Bearer good"))
	authed, err := Authenticate(sessions, ctx)
	require.NoError(t, err)
	userID, ok := UserIDFromContext(authed)
	require.True(t, ok)
	require.Equal(t, "alice", userID)

	for _, md := range []metadata.MD{
		metadata.Pairs(),
		metadata.Pairs("authorization", "Bearer bad"),
		metadata.Pairs("authorization", "good"),
	} {
		_, err := Authenticate(sessions, metadata.NewIncomingContext(context.Background(), md))
		require.ErrorIs(t, err, model.ErrAuth)
	}
	_, err = Authenticate(sessions, context.Background())
	require.ErrorIs(t, err, model.ErrAuth)
}

func TestRequireSession(t *testing.T) {
	handler := RequireSession(staticSessions{"good": "alice"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, _ := UserIDFromContext(r.Context())
		w.Write([]byte(userID))
	}))

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Authorization", "Bearer good")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "alice", rec.Body.String())

	req = httptest.NewRequest(http.MethodPost, "/", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRecovery(t *testing.T) {
	handler := Chain(RequestID, Recovery)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}
