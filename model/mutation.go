package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// OpType is the kind of a single mutation.
type OpType string

const (
	OpPut    OpType = "PUT"
	OpPatch  OpType = "PATCH"
	OpDelete OpType = "DELETE"
)

// MutationOp is one PUT/PATCH/DELETE against a (table, id) pair.
type MutationOp struct {
	Op       OpType          `json:"op"`
	Table    string          `json:"table"`
	Id       string          `json:"id"`
	Data     json.RawMessage `json:"data,omitempty"`
	ClientId string          `json:"client_id,omitempty"`
	UserId   string          `json:"user_id,omitempty"`
}

// Transaction is the ordered list of mutations produced by one local commit.
type Transaction struct {
	Id        int64        `json:"id"`
	Ops       []MutationOp `json:"ops"`
	CreatedAt time.Time    `json:"created_at"`
}

// WebhookPayload is the body of a signed mutation batch.
type WebhookPayload struct {
	Mutations []MutationOp `json:"mutations"`
}

// ParseWebhookPayload decodes a batch. A missing or non array "mutations"
// field is a validation error.
func ParseWebhookPayload(body []byte) (*WebhookPayload, error) {
	var raw struct {
		Mutations json.RawMessage `json:"mutations"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: malformed json: %v", ErrValidation, err)
	}
	if len(raw.Mutations) == 0 || raw.Mutations[0] != '[' {
		return nil, fmt.Errorf("%w: mutations must be an array", ErrValidation)
	}
	var payload WebhookPayload
	if err := json.Unmarshal(raw.Mutations, &payload.Mutations); err != nil {
		return nil, fmt.Errorf("%w: malformed mutations: %v", ErrValidation, err)
	}
	return &payload, nil
}

// OpStatus is the outcome of applying a single mutation.
type OpStatus string

const (
	StatusOK       OpStatus = "ok"
	StatusSkipped  OpStatus = "skipped"
	StatusRejected OpStatus = "rejected"
	StatusRetry    OpStatus = "retry"
)

// MutationResult reports what happened to the mutation at Index.
type MutationResult struct {
	Index  int      `json:"index"`
	Id     string   `json:"id"`
	Status OpStatus `json:"status"`
	Error  string   `json:"error,omitempty"`
}

// WebhookResponse is returned with a 200 once every mutation was attempted.
type WebhookResponse struct {
	Statuses []MutationResult `json:"statuses"`
}

// Credential authorizes a sync session for one user.
type Credential struct {
	Endpoint  string    `json:"endpoint"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the credential is unusable at now, keeping a
// safety margin so an upload does not race the expiry.
func (c *Credential) Expired(now time.Time, margin time.Duration) bool {
	return c == nil || c.Token == "" || !now.Add(margin).Before(c.ExpiresAt)
}
