// Package localstore is the on-device replica of a user's todos. Every
// committed write is recorded in the crud queue in the same database
// transaction so it can be uploaded later, in commit order.
package localstore

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/breez/todo-sync/model"
	"github.com/breez/todo-sync/store"
	"github.com/breez/todo-sync/store/sqlite"
	_ "github.com/mattn/go-sqlite3"
	log "github.com/sirupsen/logrus"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// rowData is the payload of PUT and PATCH ops.
type rowData struct {
	Title       string     `json:"title"`
	Content     string     `json:"content"`
	Owner       string     `json:"owner"`
	Completed   bool       `json:"completed"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CompletedBy *string    `json:"completed_by,omitempty"`
}

// TodoPatch lists the fields to change. Nil fields are kept.
type TodoPatch struct {
	Title     *string
	Content   *string
	Completed *bool
}

type Store struct {
	db       *sql.DB
	builder  sq.StatementBuilderType
	owner    string
	clientID string
	now      func() time.Time
	events   *eventsManager
}

// Open opens or creates the local database at file. owner is the user
// the device writes as.
func Open(file, owner, clientID string) (*Store, error) {
	if owner == "" {
		return nil, fmt.Errorf("%w: local store owner is required", model.ErrConfig)
	}
	db, err := sql.Open("sqlite3", file)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite3 database %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := sqlite.Migrate(db, migrationFS, "migrations", file); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{
		db:       db,
		builder:  sq.StatementBuilder.PlaceholderFormat(sq.Question),
		owner:    owner,
		clientID: clientID,
		now:      time.Now,
		events:   newEventsManager(),
	}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Owner() string {
	return s.owner
}

// Subscribe returns a channel signalled after every local commit and a
// function that cancels the subscription.
func (s *Store) Subscribe() (<-chan struct{}, func()) {
	sub := s.events.subscribe()
	return sub.eventsChan, func() { s.events.unsubscribe(sub.id) }
}

// Write applies ops to the replica and appends them to the queue as one
// transaction. It returns the transaction id.
func (s *Store) Write(ctx context.Context, ops ...model.MutationOp) (int64, error) {
	if len(ops) == 0 {
		return 0, fmt.Errorf("%w: empty write", model.ErrValidation)
	}
	now := s.now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := s.builder.Insert("crud_tx").Columns("created_at").Values(now).RunWith(tx).ExecContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to allocate transaction: %w", err)
	}
	txID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read transaction id: %w", err)
	}

	for _, op := range ops {
		if op.Table == "" {
			op.Table = model.TodoTable
		}
		if err := s.applyOp(ctx, tx, op, now); err != nil {
			return 0, err
		}
		_, err := s.builder.Insert("crud").
			Columns("tx_id", "op", "table_name", "row_id", "data", "created_at").
			Values(txID, string(op.Op), op.Table, op.Id, nullableJSON(op.Data), now).
			RunWith(tx).ExecContext(ctx)
		if err != nil {
			return 0, fmt.Errorf("failed to enqueue op: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	log.WithFields(log.Fields{"tx_id": txID, "ops": len(ops)}).Debug("local write committed")
	s.events.notifyChange()
	return txID, nil
}

func (s *Store) applyOp(ctx context.Context, tx *sql.Tx, op model.MutationOp, now time.Time) error {
	if op.Table != model.TodoTable {
		return fmt.Errorf("%w: unknown table %q", model.ErrValidation, op.Table)
	}
	if op.Id == "" {
		return model.NewValidationError("id", "is required")
	}

	switch op.Op {
	case model.OpPut:
		var data rowData
		if err := json.Unmarshal(op.Data, &data); err != nil {
			return fmt.Errorf("%w: malformed data: %v", model.ErrValidation, err)
		}
		if data.Owner == "" {
			data.Owner = s.owner
		}
		if data.CreatedAt.IsZero() {
			data.CreatedAt = now
		}
		_, err := s.builder.Replace("todo").
			Columns("id", "title", "content", "completed", "created_at", "completed_at", "completed_by", "owner_id").
			Values(op.Id, data.Title, data.Content, data.Completed, data.CreatedAt, data.CompletedAt, data.CompletedBy, data.Owner).
			RunWith(tx).ExecContext(ctx)
		if err != nil {
			return fmt.Errorf("failed to write todo %v: %w", op.Id, err)
		}

	case model.OpPatch:
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(op.Data, &fields); err != nil {
			return fmt.Errorf("%w: malformed data: %v", model.ErrValidation, err)
		}
		set := map[string]any{"updated_at": now}
		for _, column := range []string{"title", "content", "completed", "completed_at", "completed_by"} {
			raw, ok := fields[column]
			if !ok {
				continue
			}
			var value any
			switch column {
			case "completed":
				value = new(bool)
			case "completed_at":
				value = new(*time.Time)
			case "completed_by":
				value = new(*string)
			default:
				value = new(string)
			}
			if err := json.Unmarshal(raw, value); err != nil {
				return fmt.Errorf("%w: malformed %v: %v", model.ErrValidation, column, err)
			}
			set[column] = deref(value)
		}
		res, err := s.builder.Update("todo").SetMap(set).Where(sq.Eq{"id": op.Id}).RunWith(tx).ExecContext(ctx)
		if err != nil {
			return fmt.Errorf("failed to patch todo %v: %w", op.Id, err)
		}
		if affected, _ := res.RowsAffected(); affected == 0 {
			return fmt.Errorf("todo %v: %w", op.Id, model.ErrNotFound)
		}

	case model.OpDelete:
		if _, err := s.builder.Delete("todo").Where(sq.Eq{"id": op.Id}).RunWith(tx).ExecContext(ctx); err != nil {
			return fmt.Errorf("failed to delete todo %v: %w", op.Id, err)
		}

	default:
		return fmt.Errorf("%w: unsupported op %q", model.ErrValidation, op.Op)
	}
	return nil
}

func deref(value any) any {
	switch v := value.(type) {
	case *bool:
		return *v
	case **time.Time:
		return *v
	case **string:
		return *v
	case *string:
		return *v
	}
	return value
}

func nullableJSON(data json.RawMessage) any {
	if len(data) == 0 {
		return nil
	}
	return string(data)
}

func (s *Store) op(op model.OpType, id string, data any) (model.MutationOp, error) {
	mutation := model.MutationOp{
		Op:       op,
		Table:    model.TodoTable,
		Id:       id,
		ClientId: s.clientID,
		UserId:   s.owner,
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return mutation, fmt.Errorf("failed to encode op data: %w", err)
		}
		mutation.Data = raw
	}
	return mutation, nil
}

// Put creates a todo owned by the local user.
func (s *Store) Put(ctx context.Context, input model.TodoInput) (*model.Todo, error) {
	todo, err := store.NewTodo(s.owner, input, s.now())
	if err != nil {
		return nil, err
	}
	op, err := s.op(model.OpPut, todo.Id, rowData{
		Title:     todo.Title,
		Content:   todo.Content,
		Owner:     todo.Owner,
		CreatedAt: todo.CreatedAt,
	})
	if err != nil {
		return nil, err
	}
	if _, err := s.Write(ctx, op); err != nil {
		return nil, err
	}
	return todo, nil
}

// Patch updates an existing todo. The queued op carries the whole row so
// the backend can apply it even if it never saw the original PUT.
func (s *Store) Patch(ctx context.Context, id string, patch TodoPatch) (*model.Todo, error) {
	todo, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if patch.Title != nil {
		todo.Title = *patch.Title
	}
	if patch.Content != nil {
		todo.Content = *patch.Content
	}
	if err := (model.TodoInput{Title: todo.Title, Content: todo.Content}).Validate(); err != nil {
		return nil, err
	}
	if patch.Completed != nil && *patch.Completed != todo.Completed {
		todo.Completed = *patch.Completed
		if todo.Completed {
			now := s.now().UTC()
			by := s.owner
			todo.CompletedAt, todo.CompletedBy = &now, &by
		} else {
			todo.CompletedAt, todo.CompletedBy = nil, nil
		}
	}

	op, err := s.op(model.OpPatch, id, map[string]any{
		"title":        todo.Title,
		"content":      todo.Content,
		"owner":        todo.Owner,
		"completed":    todo.Completed,
		"completed_at": todo.CompletedAt,
		"completed_by": todo.CompletedBy,
	})
	if err != nil {
		return nil, err
	}
	if _, err := s.Write(ctx, op); err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

// Delete removes a todo locally and queues its deletion.
func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	op, err := s.op(model.OpDelete, id, nil)
	if err != nil {
		return err
	}
	_, err = s.Write(ctx, op)
	return err
}

// List returns the local todos, newest first.
func (s *Store) List(ctx context.Context) ([]model.Todo, error) {
	rows, err := s.builder.Select(todoColumns...).
		From("todo").
		OrderBy("created_at DESC", "id").
		RunWith(s.db).QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query todos: %w", err)
	}
	defer rows.Close()

	todos := make([]model.Todo, 0)
	for rows.Next() {
		todo, err := store.ScanTodo(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan todo: %w", err)
		}
		todos = append(todos, todo)
	}
	return todos, rows.Err()
}

func (s *Store) Get(ctx context.Context, id string) (*model.Todo, error) {
	todo, err := store.ScanTodo(s.builder.Select(todoColumns...).
		From("todo").
		Where(sq.Eq{"id": id}).
		RunWith(s.db).QueryRowContext(ctx))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("todo %v: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get todo %v: %w", id, err)
	}
	return &todo, nil
}

var todoColumns = []string{
	"id", "title", "content", "completed", "created_at", "updated_at",
	"completed_at", "completed_by", "owner_id",
}
