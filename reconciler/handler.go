package reconciler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/breez/todo-sync/middleware"
	"github.com/breez/todo-sync/model"
	log "github.com/sirupsen/logrus"
)

const DefaultMaxBodyBytes = 1 << 20

type credentialVerifier interface {
	Verify(token string) (string, error)
}

type Handler struct {
	secret     []byte
	reconciler *Reconciler
	verifier   credentialVerifier
	maxBody    int64
}

// NewHandler builds the webhook endpoint. An empty secret is a
// configuration error: the endpoint never runs unauthenticated. When
// verifier is set every request must also carry a bearer credential, and
// its user owns the whole batch. A nil verifier trusts the owners named in
// the signed batch.
func NewHandler(secret string, reconciler *Reconciler, verifier credentialVerifier, maxBody int64) (*Handler, error) {
	if secret == "" {
		return nil, fmt.Errorf("%w: webhook secret is not configured", model.ErrConfig)
	}
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}
	return &Handler{
		secret:     []byte(secret),
		reconciler: reconciler,
		verifier:   verifier,
		maxBody:    maxBody,
	}, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.fail(w, http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.fail(w, http.StatusRequestEntityTooLarge)
			return
		}
		log.Errorf("failed to read webhook body: %v", err)
		h.fail(w, http.StatusInternalServerError)
		return
	}

	if err := middleware.VerifyPayload(h.secret, body, r.Header.Get(middleware.SignatureHeader)); err != nil {
		log.Warnf("rejected webhook request: %v", err)
		h.fail(w, http.StatusUnauthorized)
		return
	}

	user := ""
	if h.verifier != nil {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || token == "" {
			log.Warn("rejected webhook request without credential")
			h.fail(w, http.StatusUnauthorized)
			return
		}
		if user, err = h.verifier.Verify(token); err != nil {
			log.Warnf("rejected webhook credential: %v", err)
			h.fail(w, http.StatusUnauthorized)
			return
		}
	}

	payload, err := model.ParseWebhookPayload(body)
	if err != nil {
		log.Warnf("malformed webhook payload: %v", err)
		h.fail(w, http.StatusBadRequest)
		return
	}

	statuses := h.reconciler.Apply(r.Context(), payload.Mutations, user)
	log.WithFields(log.Fields{
		"mutations": len(payload.Mutations),
		"user":      user,
	}).Info("applied webhook batch")

	w.Header().Set("Content-Type", "application/json")
	h.reconciler.metrics.observeRequest(http.StatusOK)
	if err := json.NewEncoder(w).Encode(model.WebhookResponse{Statuses: statuses}); err != nil {
		log.Errorf("failed to write webhook response: %v", err)
	}
}

func (h *Handler) fail(w http.ResponseWriter, code int) {
	h.reconciler.metrics.observeRequest(code)
	http.Error(w, http.StatusText(code), code)
}
