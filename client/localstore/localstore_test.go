package localstore

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/breez/todo-sync/model"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	local, err := Open(fmt.Sprintf("file:%v?mode=memory&cache=shared", t.Name()), "alice", "device-1")
	require.NoError(t, err, "failed to open local store")
	t.Cleanup(func() { local.Close() })
	return local
}

func TestPutQueuesTransaction(t *testing.T) {
	local := newTestStore(t)
	ctx := context.Background()

	todo, err := local.Put(ctx, model.TodoInput{Id: "42", Title: "A", Content: "B"})
	require.NoError(t, err)
	require.Equal(t, "alice", todo.Owner)

	todos, err := local.List(ctx)
	require.NoError(t, err)
	require.Len(t, todos, 1)

	tx, err := local.NextTransaction(ctx)
	require.NoError(t, err)
	require.NotNil(t, tx)
	require.Len(t, tx.Ops, 1)
	op := tx.Ops[0]
	require.Equal(t, model.OpPut, op.Op)
	require.Equal(t, "42", op.Id)
	require.Equal(t, "alice", op.UserId)
	require.Equal(t, "device-1", op.ClientId)

	var data map[string]any
	require.NoError(t, json.Unmarshal(op.Data, &data))
	require.Equal(t, "A", data["title"])
	require.Equal(t, "B", data["content"])
	require.Equal(t, "alice", data["owner"])
}

func TestQueueIsFIFO(t *testing.T) {
	local := newTestStore(t)
	ctx := context.Background()

	_, err := local.Put(ctx, model.TodoInput{Id: "1", Title: "one", Content: "c"})
	require.NoError(t, err)
	done := true
	_, err = local.Patch(ctx, "1", TodoPatch{Completed: &done})
	require.NoError(t, err)
	require.NoError(t, local.Delete(ctx, "1"))

	count, err := local.PendingCount(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, count)

	var seen []model.OpType
	var last int64
	for {
		tx, err := local.NextTransaction(ctx)
		require.NoError(t, err)
		if tx == nil {
			break
		}
		require.Greater(t, tx.Id, last)
		last = tx.Id
		for _, op := range tx.Ops {
			seen = append(seen, op.Op)
		}
		require.NoError(t, local.Complete(ctx, tx.Id))
	}
	require.Equal(t, []model.OpType{model.OpPut, model.OpPatch, model.OpDelete}, seen)
}

func TestWriteSharesTransactionId(t *testing.T) {
	local := newTestStore(t)
	ctx := context.Background()

	ops := []model.MutationOp{
		{Op: model.OpPut, Id: "1", Data: json.RawMessage(`{"title":"one","content":"c"}`)},
		{Op: model.OpPut, Id: "2", Data: json.RawMessage(`{"title":"two","content":"c"}`)},
		{Op: model.OpPatch, Id: "1", Data: json.RawMessage(`{"completed":true}`)},
	}
	txID, err := local.Write(ctx, ops...)
	require.NoError(t, err)

	tx, err := local.NextTransaction(ctx)
	require.NoError(t, err)
	require.Equal(t, txID, tx.Id)
	require.Len(t, tx.Ops, 3)
	require.Equal(t, []string{"1", "2", "1"}, []string{tx.Ops[0].Id, tx.Ops[1].Id, tx.Ops[2].Id})

	todo, err := local.Get(ctx, "1")
	require.NoError(t, err)
	require.True(t, todo.Completed)
	require.Equal(t, "alice", todo.Owner)

	// A failing op rolls the whole commit back.
	_, err = local.Write(ctx,
		model.MutationOp{Op: model.OpPut, Id: "3", Data: json.RawMessage(`{"title":"three","content":"c"}`)},
		model.MutationOp{Op: model.OpPatch, Id: "missing", Data: json.RawMessage(`{"title":"x"}`)},
	)
	require.ErrorIs(t, err, model.ErrNotFound)
	_, err = local.Get(ctx, "3")
	require.ErrorIs(t, err, model.ErrNotFound)
	count, err := local.PendingCount(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestCompleteIsIdempotent(t *testing.T) {
	local := newTestStore(t)
	ctx := context.Background()

	_, err := local.Put(ctx, model.TodoInput{Title: "one", Content: "c"})
	require.NoError(t, err)
	_, err = local.Put(ctx, model.TodoInput{Title: "two", Content: "c"})
	require.NoError(t, err)

	first, err := local.NextTransaction(ctx)
	require.NoError(t, err)
	require.NoError(t, local.Complete(ctx, first.Id))
	require.NoError(t, local.Complete(ctx, first.Id))

	next, err := local.NextTransaction(ctx)
	require.NoError(t, err)
	require.NotNil(t, next)
	require.NotEqual(t, first.Id, next.Id)

	count, err := local.PendingCount(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestQueueSurvivesRestart(t *testing.T) {
	file := filepath.Join(t.TempDir(), "todo.db")
	ctx := context.Background()

	local, err := Open(file, "alice", "device-1")
	require.NoError(t, err)
	_, err = local.Put(ctx, model.TodoInput{Id: "42", Title: "A", Content: "B"})
	require.NoError(t, err)
	before, err := local.NextTransaction(ctx)
	require.NoError(t, err)
	require.NoError(t, local.Close())

	reopened, err := Open(file, "alice", "device-1")
	require.NoError(t, err)
	defer reopened.Close()

	after, err := reopened.NextTransaction(ctx)
	require.NoError(t, err)
	require.Equal(t, before.Id, after.Id)
	require.Equal(t, before.Ops, after.Ops)

	todo, err := reopened.Get(ctx, "42")
	require.NoError(t, err)
	require.Equal(t, "A", todo.Title)
}

func TestDeadLetter(t *testing.T) {
	local := newTestStore(t)
	ctx := context.Background()

	_, err := local.Put(ctx, model.TodoInput{Id: "42", Title: "A", Content: "B"})
	require.NoError(t, err)
	tx, err := local.NextTransaction(ctx)
	require.NoError(t, err)

	require.NoError(t, local.DeadLetter(ctx, tx.Id, tx.Ops, "validation error"))

	next, err := local.NextTransaction(ctx)
	require.NoError(t, err)
	require.Nil(t, next)

	letters, err := local.DeadLetters(ctx)
	require.NoError(t, err)
	require.Len(t, letters, 1)
	require.Equal(t, tx.Id, letters[0].TxId)
	require.Equal(t, "validation error", letters[0].Reason)
	require.Equal(t, "42", letters[0].Ops[0].Id)

	// The local row is kept so the user can see what was refused.
	_, err = local.Get(ctx, "42")
	require.NoError(t, err)
}

func TestSubscribeCoalesces(t *testing.T) {
	local := newTestStore(t)
	ctx := context.Background()

	changes, cancel := local.Subscribe()
	defer cancel()

	for i := 0; i < 3; i++ {
		_, err := local.Put(ctx, model.TodoInput{Title: "t", Content: "c"})
		require.NoError(t, err)
	}
	require.Len(t, changes, 1)
	<-changes
	require.Len(t, changes, 0)

	cancel()
	_, err := local.Put(ctx, model.TodoInput{Title: "t", Content: "c"})
	require.NoError(t, err)
	require.Len(t, changes, 0)
}

func TestPatchAndDeleteValidation(t *testing.T) {
	local := newTestStore(t)
	ctx := context.Background()

	_, err := local.Patch(ctx, "missing", TodoPatch{})
	require.ErrorIs(t, err, model.ErrNotFound)
	require.ErrorIs(t, local.Delete(ctx, "missing"), model.ErrNotFound)

	_, err = local.Put(ctx, model.TodoInput{Id: "1", Title: "A", Content: "B"})
	require.NoError(t, err)
	empty := ""
	_, err = local.Patch(ctx, "1", TodoPatch{Title: &empty})
	require.ErrorIs(t, err, model.ErrValidation)

	done := true
	todo, err := local.Patch(ctx, "1", TodoPatch{Completed: &done})
	require.NoError(t, err)
	require.True(t, todo.Completed)
	require.NotNil(t, todo.CompletedAt)
	require.Equal(t, "alice", *todo.CompletedBy)
	require.NotNil(t, todo.UpdatedAt)

}

func TestResetKeepsUnacknowledgedTransactions(t *testing.T) {
	local := newTestStore(t)
	ctx := context.Background()

	_, err := local.Put(ctx, model.TodoInput{Id: "1", Title: "A", Content: "B"})
	require.NoError(t, err)

	err = local.Reset(ctx)
	require.ErrorIs(t, err, ErrPendingChanges)
	todos, err := local.List(ctx)
	require.NoError(t, err)
	require.Len(t, todos, 1)
	count, err := local.PendingCount(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	head, err := local.NextTransaction(ctx)
	require.NoError(t, err)
	require.NoError(t, local.Complete(ctx, head.Id))

	require.NoError(t, local.Reset(ctx))
	todos, err = local.List(ctx)
	require.NoError(t, err)
	require.Empty(t, todos)
}
