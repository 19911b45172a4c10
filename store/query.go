package store

import (
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/breez/todo-sync/model"
	"github.com/google/uuid"
)

const TodoTable = "todo"

var todoColumns = []string{
	"id", "title", "content", "completed", "created_at", "updated_at",
	"completed_at", "completed_by", "owner_id",
}

// Scanner is implemented by both database/sql and pgx rows.
type Scanner interface {
	Scan(dest ...any) error
}

// ScanTodo reads a row selected with the todo column list.
func ScanTodo(row Scanner) (model.Todo, error) {
	var todo model.Todo
	err := row.Scan(&todo.Id, &todo.Title, &todo.Content, &todo.Completed, &todo.CreatedAt,
		&todo.UpdatedAt, &todo.CompletedAt, &todo.CompletedBy, &todo.Owner)
	return todo, err
}

// ListQuery selects an owner's newest records first.
func ListQuery(builder sq.StatementBuilderType, owner string, limit int) (string, []any, error) {
	return builder.Select(todoColumns...).
		From(TodoTable).
		Where(sq.Eq{"owner_id": owner}).
		OrderBy("created_at DESC", "id").
		Limit(uint64(PageSize(limit))).
		ToSql()
}

// GetQuery selects a single record scoped to its owner.
func GetQuery(builder sq.StatementBuilderType, owner, id string) (string, []any, error) {
	return builder.Select(todoColumns...).
		From(TodoTable).
		Where(sq.Eq{"id": id, "owner_id": owner}).
		ToSql()
}

// DeleteQuery deletes by id, scoped to owner when it is set.
func DeleteQuery(builder sq.StatementBuilderType, id, owner string) (string, []any, error) {
	where := sq.Eq{"id": id}
	if owner != "" {
		where["owner_id"] = owner
	}
	return builder.Delete(TodoTable).Where(where).ToSql()
}

// NewTodo stamps a validated input with its owner and creation time.
func NewTodo(owner string, input model.TodoInput, now time.Time) (*model.Todo, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}
	id := input.Id
	if id == "" {
		id = uuid.New().String()
	}
	return &model.Todo{
		Id:        id,
		Title:     input.Title,
		Content:   input.Content,
		Owner:     owner,
		CreatedAt: now.UTC(),
	}, nil
}

// InsertQuery inserts a freshly created record.
func InsertQuery(builder sq.StatementBuilderType, todo *model.Todo) (string, []any, error) {
	return builder.Insert(TodoTable).
		Columns("id", "title", "content", "completed", "created_at", "owner_id").
		Values(todo.Id, todo.Title, todo.Content, todo.Completed, todo.CreatedAt, todo.Owner).
		ToSql()
}

// UpsertQuery inserts the record or, on primary key conflict, replaces the
// provided fields. The update only happens when the stored owner matches,
// so a conflicting owner affects zero rows.
func UpsertQuery(builder sq.StatementBuilderType, todo TodoUpsert, now time.Time) (string, []any, error) {
	now = now.UTC()
	createdAt := now
	if todo.CreatedAt != nil {
		createdAt = todo.CreatedAt.UTC()
	}
	completed := false
	if todo.Completed != nil {
		completed = *todo.Completed
	}

	set := []string{"title = excluded.title", "content = excluded.content", "updated_at = ?"}
	if todo.Completed != nil {
		set = append(set, "completed = excluded.completed")
	}
	if todo.CompletedAt != nil {
		set = append(set, "completed_at = excluded.completed_at")
	}
	if todo.CompletedBy != nil {
		set = append(set, "completed_by = excluded.completed_by")
	}

	return builder.Insert(TodoTable).
		Columns("id", "title", "content", "completed", "created_at", "completed_at", "completed_by", "owner_id").
		Values(todo.Id, todo.Title, todo.Content, completed, createdAt, todo.CompletedAt, todo.CompletedBy, todo.Owner).
		Suffix("ON CONFLICT (id) DO UPDATE SET "+strings.Join(set, ", ")+" WHERE todo.owner_id = excluded.owner_id", now).
		ToSql()
}
