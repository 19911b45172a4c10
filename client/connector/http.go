package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/breez/todo-sync/middleware"
	"github.com/breez/todo-sync/model"
)

const (
	CredentialsPath = "/api/powersync/credentials"
	WebhookPath     = "/sync-webhook"
)

// HTTPCredentialProvider fetches credentials from the backend using the
// user's session token.
type HTTPCredentialProvider struct {
	client       *http.Client
	url          string
	sessionToken string
}

func NewHTTPCredentialProvider(serverURL, sessionToken string) *HTTPCredentialProvider {
	return &HTTPCredentialProvider{
		client:       &http.Client{Timeout: 30 * time.Second},
		url:          strings.TrimRight(serverURL, "/") + CredentialsPath,
		sessionToken: sessionToken,
	}
}

func (p *HTTPCredentialProvider) FetchCredentials(ctx context.Context) (*model.Credential, error) {
	if p.sessionToken == "" {
		return nil, fmt.Errorf("%w: no session token", model.ErrAuth)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrInternal, err)
	}
	req.Header.Set("Authorization", "Bearer "+p.sessionToken)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, transportError(ctx, err)
	}
	defer resp.Body.Close()
	if err := statusError(resp); err != nil {
		return nil, err
	}

	var credential model.Credential
	if err := json.NewDecoder(resp.Body).Decode(&credential); err != nil {
		return nil, fmt.Errorf("%w: malformed credential response: %v", model.ErrTransientNetwork, err)
	}
	if credential.Token == "" {
		return nil, fmt.Errorf("%w: empty credential", model.ErrAuth)
	}
	return &credential, nil
}

// HTTPUploader posts transactions to the webhook, signed with the shared
// secret and authorized by the sync credential.
type HTTPUploader struct {
	client *http.Client
	url    string
	secret []byte
}

func NewHTTPUploader(serverURL, secret string) (*HTTPUploader, error) {
	if secret == "" {
		return nil, fmt.Errorf("%w: webhook secret is not configured", model.ErrConfig)
	}
	return &HTTPUploader{
		client: &http.Client{},
		url:    strings.TrimRight(serverURL, "/") + WebhookPath,
		secret: []byte(secret),
	}, nil
}

func (u *HTTPUploader) Upload(ctx context.Context, credential *model.Credential, tx *model.Transaction) (*model.WebhookResponse, error) {
	body, err := json.Marshal(model.WebhookPayload{Mutations: tx.Ops})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to encode transaction %v: %v", model.ErrValidation, tx.Id, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrInternal, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middleware.SignatureHeader, middleware.SignPayload(u.secret, body))
	if credential != nil && credential.Token != "" {
		req.Header.Set("Authorization", "Bearer "+credential.Token)
	}

	resp, err := u.client.Do(req)
	if err != nil {
		return nil, transportError(ctx, err)
	}
	defer resp.Body.Close()
	if err := statusError(resp); err != nil {
		return nil, err
	}

	var response model.WebhookResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: malformed webhook response: %v", model.ErrTransientNetwork, err)
	}
	return &response, nil
}

func transportError(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return ctx.Err()
	}
	return fmt.Errorf("%w: %v", model.ErrTransientNetwork, err)
}

func statusError(resp *http.Response) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}
	message, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	detail := strings.TrimSpace(string(message))
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %v %v", model.ErrAuth, resp.StatusCode, detail)
	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("%w: %v %v", model.ErrTransientNetwork, resp.StatusCode, detail)
	default:
		return fmt.Errorf("%w: %v %v", model.ErrValidation, resp.StatusCode, detail)
	}
}
