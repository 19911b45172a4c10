package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/breez/todo-sync/model"
	log "github.com/sirupsen/logrus"
)

type credentialIssuer interface {
	Issue(ctx context.Context) (*model.Credential, error)
}

// Handler serves the credential endpoint. It must run behind
// middleware.RequireSession.
func Handler(issuer credentialIssuer) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost && r.Method != http.MethodGet {
			http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
			return
		}
		credential, err := issuer.Issue(r.Context())
		switch {
		case errors.Is(err, model.ErrAuth):
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		case err != nil:
			log.Errorf("failed to issue credential: %v", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		if err := json.NewEncoder(w).Encode(credential); err != nil {
			log.Errorf("failed to write credential response: %v", err)
		}
	})
}
