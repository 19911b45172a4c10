package reconciler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/breez/todo-sync/middleware"
	"github.com/breez/todo-sync/model"
	"github.com/breez/todo-sync/store"
	"github.com/breez/todo-sync/store/sqlite"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

const testSecret = "webhook-secret"

type fixture struct {
	store   *sqlite.SQLiteTodoStore
	handler *Handler
}

func newFixture(t *testing.T, verifier credentialVerifier) *fixture {
	storage, err := sqlite.NewSQLiteTodoStore(fmt.Sprintf("file:%v?mode=memory&cache=shared", t.Name()))
	require.NoError(t, err, "failed to connect")
	t.Cleanup(storage.Close)

	handler, err := NewHandler(testSecret, NewReconciler(storage, NewMetrics(prometheus.NewRegistry())), verifier, 0)
	require.NoError(t, err)
	return &fixture{store: storage, handler: handler}
}

func (f *fixture) post(t *testing.T, body []byte, signature string, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/sync-webhook", bytes.NewReader(body))
	if signature != "" {
		req.Header.Set(middleware.SignatureHeader, signature)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) postSigned(t *testing.T, body []byte, headers ...string) *httptest.ResponseRecorder {
	return f.post(t, body, middleware.SignPayload([]byte(testSecret), body), headers...)
}

func statuses(t *testing.T, rec *httptest.ResponseRecorder) []model.OpStatus {
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var response model.WebhookResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	var result []model.OpStatus
	for i, s := range response.Statuses {
		require.Equal(t, i, s.Index)
		result = append(result, s.Status)
	}
	return result
}

func TestNewHandlerRequiresSecret(t *testing.T) {
	_, err := NewHandler("", NewReconciler(nil, nil), nil, 0)
	require.ErrorIs(t, err, model.ErrConfig)
}

func TestPutThenDelete(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	put := []byte(`{"mutations":[{"op":"PUT","table":"todo","id":"42","data":{"title":"A","content":"B","owner":"alice"}}]}`)
	require.Equal(t, []model.OpStatus{model.StatusOK}, statuses(t, f.postSigned(t, put)))

	todo, err := f.store.Get(ctx, "alice", "42")
	require.NoError(t, err)
	require.Equal(t, "A", todo.Title)
	require.Equal(t, "B", todo.Content)
	require.Equal(t, "alice", todo.Owner)

	del := []byte(`{"mutations":[{"op":"DELETE","table":"todo","id":"42"}]}`)
	require.Equal(t, []model.OpStatus{model.StatusOK}, statuses(t, f.postSigned(t, del)))

	_, err = f.store.Get(ctx, "alice", "42")
	require.ErrorIs(t, err, model.ErrNotFound)

	// Deleting an absent record is a no-op.
	require.Equal(t, []model.OpStatus{model.StatusOK}, statuses(t, f.postSigned(t, del)))
}

func TestBatchIdempotent(t *testing.T) {
	f := newFixture(t, nil)
	body := []byte(`{"mutations":[
		{"op":"PUT","table":"todos","id":"1","data":{"title":"one","content":"c","owner":"alice"}},
		{"op":"PATCH","table":"todos","id":"1","data":{"title":"one!","content":"c","owner":"alice","completed":true}},
		{"op":"PUT","table":"todos","id":"2","data":{"title":"two","content":"c","owner":"alice"}}
	]}`)

	for i := 0; i < 2; i++ {
		require.Equal(t, []model.OpStatus{model.StatusOK, model.StatusOK, model.StatusOK}, statuses(t, f.postSigned(t, body)))
	}

	todos, err := f.store.List(context.Background(), "alice", 0)
	require.NoError(t, err)
	require.Len(t, todos, 2)
	byId := map[string]model.Todo{}
	for _, todo := range todos {
		byId[todo.Id] = todo
	}
	require.Equal(t, "one!", byId["1"].Title)
	require.True(t, byId["1"].Completed)
	require.Equal(t, "two", byId["2"].Title)
}

func TestRejectsBadSignature(t *testing.T) {
	f := newFixture(t, nil)
	body := []byte(`{"mutations":[{"op":"PUT","table":"todo","id":"42","data":{"title":"A","content":"B","owner":"alice"}}]}`)

	require.Equal(t, http.StatusUnauthorized, f.post(t, body, "").Code)
	require.Equal(t, http.StatusUnauthorized, f.post(t, body, "not-hex").Code)
	wrong := middleware.SignPayload([]byte("other-secret"), body)
	require.Equal(t, http.StatusUnauthorized, f.post(t, body, wrong).Code)

	tampered := bytes.Replace(body, []byte(`"A"`), []byte(`"X"`), 1)
	require.Equal(t, http.StatusUnauthorized, f.post(t, tampered, middleware.SignPayload([]byte(testSecret), body)).Code)

	_, err := f.store.Get(context.Background(), "alice", "42")
	require.ErrorIs(t, err, model.ErrNotFound)
}

func TestRejectsMalformedPayload(t *testing.T) {
	f := newFixture(t, nil)
	for _, body := range []string{`{"mutations":`, `{"mutations":{"op":"PUT"}}`, `{}`, `[]`} {
		rec := f.postSigned(t, []byte(body))
		require.Equal(t, http.StatusBadRequest, rec.Code, body)
	}

	req := httptest.NewRequest(http.MethodGet, "/sync-webhook", nil)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestPerOpOutcomes(t *testing.T) {
	f := newFixture(t, nil)
	body := []byte(`{"mutations":[
		{"op":"PUT","table":"lists","id":"l1","data":{"name":"x"}},
		{"op":"PUT","table":"todo","id":"1","data":{"content":"no title","owner":"alice"}},
		{"op":"PUT","table":"todo","id":"2","data":{"title":"t","content":"c"}},
		{"op":"MERGE","table":"todo","id":"3"},
		{"op":"PUT","table":"todo","id":"4","data":"oops"},
		{"op":"PUT","table":"todo","id":"5","data":{"title":"t","content":"c","owner":"alice"}}
	]}`)

	require.Equal(t, []model.OpStatus{
		model.StatusSkipped,
		model.StatusRejected,
		model.StatusRejected,
		model.StatusRejected,
		model.StatusRejected,
		model.StatusOK,
	}, statuses(t, f.postSigned(t, body)))

	todos, err := f.store.List(context.Background(), "alice", 0)
	require.NoError(t, err)
	require.Len(t, todos, 1)
	require.Equal(t, "5", todos[0].Id)
}

func TestOwnerNeverChanges(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	put := []byte(`{"mutations":[{"op":"PUT","table":"todo","id":"42","data":{"title":"A","content":"B","owner":"alice"}}]}`)
	require.Equal(t, []model.OpStatus{model.StatusOK}, statuses(t, f.postSigned(t, put)))

	steal := []byte(`{"mutations":[{"op":"PUT","table":"todo","id":"42","data":{"title":"mine","content":"B","owner":"bob"}}]}`)
	rec := f.postSigned(t, steal)
	require.Equal(t, []model.OpStatus{model.StatusRejected}, statuses(t, rec))

	todo, err := f.store.Get(ctx, "alice", "42")
	require.NoError(t, err)
	require.Equal(t, "A", todo.Title)
	_, err = f.store.Get(ctx, "bob", "42")
	require.ErrorIs(t, err, model.ErrNotFound)

	// A delete scoped to another user leaves the record in place.
	del := []byte(`{"mutations":[{"op":"DELETE","table":"todo","id":"42","user_id":"bob"}]}`)
	require.Equal(t, []model.OpStatus{model.StatusOK}, statuses(t, f.postSigned(t, del)))
	_, err = f.store.Get(ctx, "alice", "42")
	require.NoError(t, err)
}

type staticVerifier map[string]string

func (v staticVerifier) Verify(token string) (string, error) {
	if user, ok := v[token]; ok {
		return user, nil
	}
	return "", model.ErrAuth
}

func TestCredentialSuppliesOwner(t *testing.T) {
	f := newFixture(t, staticVerifier{"good": "carol"})
	body := []byte(`{"mutations":[{"op":"PUT","table":"todo","id":"7","data":{"title":"t","content":"c"}}]}`)

	require.Equal(t, http.StatusUnauthorized, f.postSigned(t, body).Code)
	require.Equal(t, http.StatusUnauthorized, f.postSigned(t, body, "Authorization", "Bearer ").Code)
	require.Equal(t, http.StatusUnauthorized, f.postSigned(t, body, "Authorization", "Bearer bad").Code)
	require.Equal(t, http.StatusUnauthorized, f.postSigned(t, body, "Authorization", "good").Code)
	_, err := f.store.Get(context.Background(), "carol", "7")
	require.ErrorIs(t, err, model.ErrNotFound)

	require.Equal(t, []model.OpStatus{model.StatusOK}, statuses(t, f.postSigned(t, body, "Authorization", "Bearer good")))
	todo, err := f.store.Get(context.Background(), "carol", "7")
	require.NoError(t, err)
	require.Equal(t, "carol", todo.Owner)
}

func TestCredentialBindsOwner(t *testing.T) {
	f := newFixture(t, staticVerifier{"alice-token": "alice"})
	ctx := context.Background()
	require.NoError(t, f.store.Upsert(ctx, store.TodoUpsert{Id: "b1", Title: "bob's", Content: "c", Owner: "bob"}))

	body := []byte(`{"mutations":[
		{"op":"PUT","table":"todo","id":"planted","data":{"title":"t","content":"c","owner":"bob"}},
		{"op":"PUT","table":"todo","id":"p2","data":{"title":"t","content":"c","owner_id":"bob"}},
		{"op":"PUT","table":"todo","id":"p3","user_id":"bob","data":{"title":"t","content":"c"}},
		{"op":"DELETE","table":"todo","id":"b1","user_id":"bob"},
		{"op":"DELETE","table":"todo","id":"b1"},
		{"op":"PUT","table":"todo","id":"a1","user_id":"alice","data":{"title":"t","content":"c","owner":"alice"}}
	]}`)
	rec := f.postSigned(t, body, "Authorization", "Bearer alice-token")
	require.Equal(t, []model.OpStatus{
		model.StatusRejected,
		model.StatusRejected,
		model.StatusRejected,
		model.StatusRejected,
		model.StatusOK,
		model.StatusOK,
	}, statuses(t, rec))

	var response model.WebhookResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	require.Contains(t, response.Statuses[0].Error, "owner mismatch")

	bobs, err := f.store.List(ctx, "bob", 0)
	require.NoError(t, err)
	require.Len(t, bobs, 1)
	require.Equal(t, "b1", bobs[0].Id)

	alices, err := f.store.List(ctx, "alice", 0)
	require.NoError(t, err)
	require.Len(t, alices, 1)
	require.Equal(t, "a1", alices[0].Id)
}

func TestOpLabelIsBounded(t *testing.T) {
	registry := prometheus.NewRegistry()
	reconciler := NewReconciler(nil, NewMetrics(registry))
	reconciler.Apply(context.Background(), []model.MutationOp{
		{Op: "MERGE", Table: "todo", Id: "1"},
		{Op: "UPSERT", Table: "todo", Id: "2"},
		{Op: "X", Table: "lists", Id: "3"},
	}, "")

	families, err := registry.Gather()
	require.NoError(t, err)
	labels := map[string]bool{}
	for _, family := range families {
		if family.GetName() != "todo_sync_webhook_ops_total" {
			continue
		}
		for _, metric := range family.GetMetric() {
			for _, label := range metric.GetLabel() {
				if label.GetName() == "op" {
					labels[label.GetValue()] = true
				}
			}
		}
	}
	require.Equal(t, map[string]bool{"other": true}, labels)
}

type failingStore struct {
	store.TodoStore
	err error
}

func (s *failingStore) Upsert(ctx context.Context, todo store.TodoUpsert) error {
	return s.err
}

func (s *failingStore) Remove(ctx context.Context, id, owner string) error {
	return s.err
}

func TestStoreFailureIsRetryable(t *testing.T) {
	reconciler := NewReconciler(&failingStore{err: errors.New("connection reset")}, nil)
	results := reconciler.Apply(context.Background(), []model.MutationOp{
		{Op: model.OpPut, Table: "todo", Id: "1", Data: json.RawMessage(`{"title":"t","content":"c","owner":"alice"}`)},
		{Op: model.OpDelete, Table: "todo", Id: "2"},
	}, "")
	require.Len(t, results, 2)
	for _, result := range results {
		require.Equal(t, model.StatusRetry, result.Status)
		require.Contains(t, result.Error, "connection reset")
	}
}
