// Package reconciler applies signed mutation batches from the sync service
// to the backend store.
package reconciler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/breez/todo-sync/model"
	"github.com/breez/todo-sync/store"
	log "github.com/sirupsen/logrus"
)

// Tables accepted by the reconciler. The sync service names the synced
// table "todos" while the backend schema calls it "todo".
var tables = map[string]string{
	model.TodoTable: model.TodoTable,
	"todos":         model.TodoTable,
}

type todoData struct {
	Title       *string    `json:"title"`
	Content     *string    `json:"content"`
	Owner       *string    `json:"owner"`
	OwnerId     *string    `json:"owner_id"`
	Completed   *bool      `json:"completed"`
	CompletedAt *time.Time `json:"completed_at"`
	CompletedBy *string    `json:"completed_by"`
	CreatedAt   *time.Time `json:"created_at"`
}

type Reconciler struct {
	store   store.TodoStore
	metrics *Metrics
}

func NewReconciler(store store.TodoStore, metrics *Metrics) *Reconciler {
	return &Reconciler{store: store, metrics: metrics}
}

// Apply attempts every mutation in order. A failing mutation never stops
// the ones after it. user is the caller proven by a verified credential:
// when set it owns every mutation in the batch and a mutation naming any
// other owner is rejected. Without it the owner comes from the mutation.
func (r *Reconciler) Apply(ctx context.Context, mutations []model.MutationOp, user string) []model.MutationResult {
	results := make([]model.MutationResult, len(mutations))
	for i, op := range mutations {
		status, err := r.applyOne(ctx, op, user)
		result := model.MutationResult{Index: i, Id: op.Id, Status: status}
		if err != nil {
			result.Error = err.Error()
			log.WithFields(log.Fields{
				"index": i, "op": op.Op, "table": op.Table, "id": op.Id, "status": status,
			}).Warnf("mutation not applied: %v", err)
		}
		r.metrics.observeOp(tableLabel(op.Table), opLabel(op.Op), status)
		results[i] = result
	}
	return results
}

func (r *Reconciler) applyOne(ctx context.Context, op model.MutationOp, user string) (model.OpStatus, error) {
	if _, ok := tables[op.Table]; !ok {
		return model.StatusSkipped, nil
	}
	if op.Id == "" {
		return model.StatusRejected, model.NewValidationError("id", "is required")
	}

	var err error
	switch op.Op {
	case model.OpPut, model.OpPatch:
		err = r.upsert(ctx, op, user)
	case model.OpDelete:
		err = r.remove(ctx, op, user)
	default:
		return model.StatusRejected, fmt.Errorf("%w: unsupported op %q", model.ErrValidation, op.Op)
	}

	switch {
	case err == nil:
		return model.StatusOK, nil
	case errors.Is(err, model.ErrValidation), errors.Is(err, model.ErrOwnerMismatch):
		return model.StatusRejected, err
	default:
		return model.StatusRetry, err
	}
}

func (r *Reconciler) upsert(ctx context.Context, op model.MutationOp, user string) error {
	var data todoData
	if len(op.Data) > 0 {
		if err := json.Unmarshal(op.Data, &data); err != nil {
			return fmt.Errorf("%w: malformed data: %v", model.ErrValidation, err)
		}
	}
	if data.Title == nil || data.Content == nil {
		return model.NewValidationError("data", "title and content are required")
	}

	owner, err := ownerOf(user, data.Owner, data.OwnerId, &op.UserId)
	if err != nil {
		return err
	}
	upsert := store.TodoUpsert{
		Id:          op.Id,
		Title:       *data.Title,
		Content:     *data.Content,
		Owner:       owner,
		Completed:   data.Completed,
		CompletedAt: data.CompletedAt,
		CompletedBy: data.CompletedBy,
		CreatedAt:   data.CreatedAt,
	}
	if err := upsert.Validate(); err != nil {
		return err
	}
	return r.store.Upsert(ctx, upsert)
}

// remove deletes by id. Without an owner the delete is unscoped, which only
// happens for batches that carry neither a credential nor a user id.
func (r *Reconciler) remove(ctx context.Context, op model.MutationOp, user string) error {
	owner, err := ownerOf(user, &op.UserId)
	if err != nil {
		return err
	}
	return r.store.Remove(ctx, op.Id, owner)
}

// ownerOf resolves the owner a mutation acts for. A verified user is the
// only owner allowed; otherwise the first claimed owner wins.
func ownerOf(user string, claimed ...*string) (string, error) {
	if user == "" {
		return firstNonEmpty(claimed...), nil
	}
	for _, c := range claimed {
		if c != nil && *c != "" && *c != user {
			return "", fmt.Errorf("%w: credential is for %q, mutation names %q", model.ErrOwnerMismatch, user, *c)
		}
	}
	return user, nil
}

func opLabel(op model.OpType) string {
	switch op {
	case model.OpPut, model.OpPatch, model.OpDelete:
		return string(op)
	}
	return "other"
}

func tableLabel(table string) string {
	if name, ok := tables[table]; ok {
		return name
	}
	return "other"
}

func firstNonEmpty(values ...*string) string {
	for _, v := range values {
		if v != nil && *v != "" {
			return *v
		}
	}
	return ""
}
