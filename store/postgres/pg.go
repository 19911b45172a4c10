package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/breez/todo-sync/model"
	"github.com/breez/todo-sync/store"

	"github.com/golang-migrate/migrate/v4"
	pgxmigrate "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// pgxPool is the subset of *pgxpool.Pool the store needs.
type pgxPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

type PgTodoStore struct {
	db      pgxPool
	builder sq.StatementBuilderType
	now     func() time.Time
}

func NewPGTodoStore(databaseURL string) (*PgTodoStore, error) {

	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres database %w", err)
	}
	defer db.Close()
	driver, err := pgxmigrate.WithInstance(db, &pgxmigrate.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create migration driver %w", err)
	}

	migrationDriver, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to create migration driver %w", err)
	}

	m, err := migrate.NewWithInstance(
		"iofs", migrationDriver,
		"todo-sync", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to instantiate migrations %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return nil, fmt.Errorf("failed to run migrations %w", err)
	}

	pgxPool, err := pgxpool.New(context.Background(), databaseURL)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New(%v): %w", databaseURL, err)
	}
	return newPgTodoStore(pgxPool), nil
}

func newPgTodoStore(db pgxPool) *PgTodoStore {
	return &PgTodoStore{
		db:      db,
		builder: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
		now:     time.Now,
	}
}

func (s *PgTodoStore) Close() {
	s.db.Close()
}

func (s *PgTodoStore) List(ctx context.Context, owner string, limit int) ([]model.Todo, error) {
	query, args, err := store.ListQuery(s.builder, owner, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to build list query: %w", err)
	}
	rows, err := s.db.Query(ctx, query, args...)
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

func (s *PgTodoStore) Get(ctx context.Context, owner, id string) (*model.Todo, error) {
	query, args, err := store.GetQuery(s.builder, owner, id)
	if err != nil {
		return nil, fmt.Errorf("failed to build get query: %w", err)
	}
	todo, err := store.ScanTodo(s.db.QueryRow(ctx, query, args...))
	if err != nil {
		return nil, mapError(err, id)
	}
	return &todo, nil
}

func (s *PgTodoStore) Create(ctx context.Context, owner string, input model.TodoInput) (*model.Todo, error) {
	todo, err := store.NewTodo(owner, input, s.now())
	if err != nil {
		return nil, err
	}
	query, args, err := store.InsertQuery(s.builder, todo)
	if err != nil {
		return nil, fmt.Errorf("failed to build insert query: %w", err)
	}
	if _, err := s.db.Exec(ctx, query, args...); err != nil {
		return nil, mapError(err, todo.Id)
	}
	return todo, nil
}

func (s *PgTodoStore) Delete(ctx context.Context, owner, id string) error {
	affected, err := s.remove(ctx, id, owner)
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("todo %v: %w", id, model.ErrNotFound)
	}
	return nil
}

func (s *PgTodoStore) Remove(ctx context.Context, id, owner string) error {
	_, err := s.remove(ctx, id, owner)
	return err
}

func (s *PgTodoStore) remove(ctx context.Context, id, owner string) (int64, error) {
	query, args, err := store.DeleteQuery(s.builder, id, owner)
	if err != nil {
		return 0, fmt.Errorf("failed to build delete query: %w", err)
	}
	tag, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		return 0, mapError(err, id)
	}
	return tag.RowsAffected(), nil
}

func (s *PgTodoStore) Upsert(ctx context.Context, todo store.TodoUpsert) error {
	if err := todo.Validate(); err != nil {
		return err
	}
	query, args, err := store.UpsertQuery(s.builder, todo, s.now())
	if err != nil {
		return fmt.Errorf("failed to build upsert query: %w", err)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	tag, err := tx.Exec(ctx, query, args...)
	if err != nil {
		_ = tx.Rollback(ctx)
		return mapError(err, todo.Id)
	}
	if tag.RowsAffected() == 0 {
		_ = tx.Rollback(ctx)
		return fmt.Errorf("todo %v: %w", todo.Id, model.ErrOwnerMismatch)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// mapError converts pgx errors to model errors. Context errors and
// connection failures pass through wrapped.
func mapError(err error, id string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("todo %v: %w", id, model.ErrNotFound)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("todo %v: %w: id already exists", id, model.ErrValidation)
		case "23502", "23514", "22001": // not_null, check, string_data_right_truncation
			return fmt.Errorf("todo %v: %w: %v", id, model.ErrValidation, pgErr.Message)
		}
	}
	return fmt.Errorf("todo %v: %w", id, err)
}
