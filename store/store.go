package store

import (
	"context"
	"time"

	"github.com/breez/todo-sync/model"
)

const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

// TodoUpsert carries the fields of a PUT/PATCH mutation. Nil optional
// fields are left untouched when the row already exists.
type TodoUpsert struct {
	Id          string
	Title       string
	Content     string
	Owner       string
	Completed   *bool
	CompletedAt *time.Time
	CompletedBy *string
	CreatedAt   *time.Time
}

// TodoStore is the backend relational store. Every read and write made on
// behalf of a user is scoped to that user as owner.
type TodoStore interface {
	List(ctx context.Context, owner string, limit int) ([]model.Todo, error)
	Get(ctx context.Context, owner, id string) (*model.Todo, error)
	Create(ctx context.Context, owner string, input model.TodoInput) (*model.Todo, error)
	Delete(ctx context.Context, owner, id string) error

	// Upsert inserts the record or replaces the provided fields of an
	// existing one. It fails with model.ErrOwnerMismatch when the existing
	// row belongs to another owner.
	Upsert(ctx context.Context, todo TodoUpsert) error
	// Remove deletes by primary key, restricted to owner when it is not
	// empty. Removing a missing id is not an error.
	Remove(ctx context.Context, id, owner string) error
	Close()
}

// PageSize clamps a requested list size.
func PageSize(limit int) int {
	if limit <= 0 {
		return DefaultPageSize
	}
	if limit > MaxPageSize {
		return MaxPageSize
	}
	return limit
}

// Validate checks the fields required to insert a record.
func (u TodoUpsert) Validate() error {
	if err := (model.TodoInput{Title: u.Title, Content: u.Content}).Validate(); err != nil {
		return err
	}
	if u.Id == "" {
		return model.NewValidationError("id", "is required")
	}
	if u.Owner == "" {
		return model.NewValidationError("owner", "is required")
	}
	return nil
}
