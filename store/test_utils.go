package store

import (
	"context"
	"testing"
	"time"

	"github.com/breez/todo-sync/model"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// StoreTest is the behaviour every TodoStore backend must share.
type StoreTest struct{}

func (s *StoreTest) TestCreateAndList(t *testing.T, storage TodoStore) {
	ctx := context.Background()
	owner := uuid.New().String()

	created, err := storage.Create(ctx, owner, model.TodoInput{Title: "first", Content: "c1"})
	require.NoError(t, err, "failed to call Create")
	require.NotEmpty(t, created.Id)
	require.Equal(t, owner, created.Owner)
	require.False(t, created.Completed)
	require.False(t, created.CreatedAt.IsZero())

	fetched, err := storage.Get(ctx, owner, created.Id)
	require.NoError(t, err, "failed to call Get")
	require.Equal(t, "first", fetched.Title)

	base := time.Now().UTC().Add(-time.Hour).Truncate(time.Second)
	for i, title := range []string{"older", "newer"} {
		createdAt := base.Add(time.Duration(i) * time.Minute)
		err := storage.Upsert(ctx, TodoUpsert{
			Id: uuid.New().String(), Title: title, Content: "c", Owner: owner, CreatedAt: &createdAt,
		})
		require.NoError(t, err, "failed to call Upsert")
	}

	todos, err := storage.List(ctx, owner, 0)
	require.NoError(t, err, "failed to call List")
	require.Len(t, todos, 3)
	require.Equal(t, []string{"first", "newer", "older"}, titles(todos))

	limited, err := storage.List(ctx, owner, 2)
	require.NoError(t, err)
	require.Equal(t, []string{"first", "newer"}, titles(limited))

	_, err = storage.Create(ctx, owner, model.TodoInput{Title: "", Content: "c"})
	require.ErrorIs(t, err, model.ErrValidation)
}

func (s *StoreTest) TestOwnership(t *testing.T, storage TodoStore) {
	ctx := context.Background()
	alice := uuid.New().String()
	bob := uuid.New().String()

	todo, err := storage.Create(ctx, alice, model.TodoInput{Title: "mine", Content: "c"})
	require.NoError(t, err)

	err = storage.Delete(ctx, bob, todo.Id)
	require.ErrorIs(t, err, model.ErrNotFound)
	err = storage.Delete(ctx, bob, uuid.New().String())
	require.ErrorIs(t, err, model.ErrNotFound)

	_, err = storage.Get(ctx, bob, todo.Id)
	require.ErrorIs(t, err, model.ErrNotFound)

	bobs, err := storage.List(ctx, bob, 0)
	require.NoError(t, err)
	require.Empty(t, bobs)

	alices, err := storage.List(ctx, alice, 0)
	require.NoError(t, err)
	require.Len(t, alices, 1)

	err = storage.Upsert(ctx, TodoUpsert{Id: todo.Id, Title: "stolen", Content: "c", Owner: bob})
	require.ErrorIs(t, err, model.ErrOwnerMismatch)
	err = storage.Remove(ctx, todo.Id, bob)
	require.NoError(t, err)

	fetched, err := storage.Get(ctx, alice, todo.Id)
	require.NoError(t, err)
	require.Equal(t, "mine", fetched.Title)
	require.Equal(t, alice, fetched.Owner)

	require.NoError(t, storage.Delete(ctx, alice, todo.Id))
	_, err = storage.Get(ctx, alice, todo.Id)
	require.ErrorIs(t, err, model.ErrNotFound)
}

func (s *StoreTest) TestUpsertIdempotent(t *testing.T, storage TodoStore) {
	ctx := context.Background()
	owner := uuid.New().String()
	id := uuid.New().String()
	done := true

	upsert := TodoUpsert{Id: id, Title: "A", Content: "body", Owner: owner, Completed: &done}
	require.NoError(t, storage.Upsert(ctx, upsert))
	first, err := storage.Get(ctx, owner, id)
	require.NoError(t, err)

	require.NoError(t, storage.Upsert(ctx, upsert))
	second, err := storage.Get(ctx, owner, id)
	require.NoError(t, err)
	require.Equal(t, first.Title, second.Title)
	require.Equal(t, first.Content, second.Content)
	require.Equal(t, first.Completed, second.Completed)
	require.True(t, first.CreatedAt.Equal(second.CreatedAt))

	// A patch without the completed flag keeps it.
	require.NoError(t, storage.Upsert(ctx, TodoUpsert{Id: id, Title: "B", Content: "body", Owner: owner}))
	patched, err := storage.Get(ctx, owner, id)
	require.NoError(t, err)
	require.Equal(t, "B", patched.Title)
	require.True(t, patched.Completed)
	require.NotNil(t, patched.UpdatedAt)

	todos, err := storage.List(ctx, owner, 0)
	require.NoError(t, err)
	require.Len(t, todos, 1)

	require.NoError(t, storage.Remove(ctx, id, ""))
	require.NoError(t, storage.Remove(ctx, id, ""))
	todos, err = storage.List(ctx, owner, 0)
	require.NoError(t, err)
	require.Empty(t, todos)
}

func (s *StoreTest) TestUpsertValidation(t *testing.T, storage TodoStore) {
	err := storage.Upsert(context.Background(), TodoUpsert{Id: uuid.New().String(), Title: "A"})
	require.ErrorIs(t, err, model.ErrValidation)
}

func titles(todos []model.Todo) []string {
	result := make([]string, len(todos))
	for i, t := range todos {
		result[i] = t.Title
	}
	return result
}
