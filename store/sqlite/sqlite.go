package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/breez/todo-sync/model"
	"github.com/breez/todo-sync/store"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	sqlite "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

type SQLiteTodoStore struct {
	db      *sql.DB
	builder sq.StatementBuilderType
	now     func() time.Time
}

func NewSQLiteTodoStore(file string) (*SQLiteTodoStore, error) {
	db, err := sql.Open("sqlite3", file)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite3 database %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := Migrate(db, migrationFS, "migrations", file); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteTodoStore{
		db:      db,
		builder: sq.StatementBuilder.PlaceholderFormat(sq.Question),
		now:     time.Now,
	}, nil
}

// Migrate applies the embedded migrations found under dir to db.
func Migrate(db *sql.DB, fsys embed.FS, dir, name string) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver %w", err)
	}

	migrationDriver, err := iofs.New(fsys, dir)
	if err != nil {
		return fmt.Errorf("failed to create migration source %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", migrationDriver, name, driver)
	if err != nil {
		return fmt.Errorf("failed to instantiate migrations %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to run migrations %w", err)
	}
	return nil
}

func (s *SQLiteTodoStore) Close() {
	s.db.Close()
}

func (s *SQLiteTodoStore) List(ctx context.Context, owner string, limit int) ([]model.Todo, error) {
	query, args, err := store.ListQuery(s.builder, owner, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to build list query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
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

func (s *SQLiteTodoStore) Get(ctx context.Context, owner, id string) (*model.Todo, error) {
	query, args, err := store.GetQuery(s.builder, owner, id)
	if err != nil {
		return nil, fmt.Errorf("failed to build get query: %w", err)
	}
	todo, err := store.ScanTodo(s.db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("todo %v: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get todo %v: %w", id, err)
	}
	return &todo, nil
}

func (s *SQLiteTodoStore) Create(ctx context.Context, owner string, input model.TodoInput) (*model.Todo, error) {
	todo, err := store.NewTodo(owner, input, s.now())
	if err != nil {
		return nil, err
	}
	query, args, err := store.InsertQuery(s.builder, todo)
	if err != nil {
		return nil, fmt.Errorf("failed to build insert query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return nil, mapError(err, todo.Id)
	}
	return todo, nil
}

func (s *SQLiteTodoStore) Delete(ctx context.Context, owner, id string) error {
	affected, err := s.remove(ctx, id, owner)
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("todo %v: %w", id, model.ErrNotFound)
	}
	return nil
}

func (s *SQLiteTodoStore) Remove(ctx context.Context, id, owner string) error {
	_, err := s.remove(ctx, id, owner)
	return err
}

func (s *SQLiteTodoStore) remove(ctx context.Context, id, owner string) (int64, error) {
	query, args, err := store.DeleteQuery(s.builder, id, owner)
	if err != nil {
		return 0, fmt.Errorf("failed to build delete query: %w", err)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, mapError(err, id)
	}
	return res.RowsAffected()
}

func (s *SQLiteTodoStore) Upsert(ctx context.Context, todo store.TodoUpsert) error {
	if err := todo.Validate(); err != nil {
		return err
	}
	query, args, err := store.UpsertQuery(s.builder, todo, s.now())
	if err != nil {
		return fmt.Errorf("failed to build upsert query: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return mapError(err, todo.Id)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("todo %v: %w", todo.Id, model.ErrOwnerMismatch)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func mapError(err error, id string) error {
	var sqliteErr sqlite.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite.ErrConstraint {
		if strings.Contains(sqliteErr.Error(), "UNIQUE") {
			return fmt.Errorf("todo %v: %w: id already exists", id, model.ErrValidation)
		}
		return fmt.Errorf("todo %v: %w: %v", id, model.ErrValidation, sqliteErr)
	}
	return fmt.Errorf("todo %v: %w", id, err)
}
