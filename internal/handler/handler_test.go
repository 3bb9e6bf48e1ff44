package handler

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"shared-list-server/internal/domain"
	"shared-list-server/internal/kvstore"
	"shared-list-server/internal/middleware"
	"shared-list-server/internal/notify"
	"shared-list-server/internal/repository"
	"shared-list-server/internal/service"
	"shared-list-server/internal/stream"
	"shared-list-server/pkg/response"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingStore struct {
	kvstore.Store
}

func (failingStore) Get(context.Context, string) ([]byte, error) {
	return nil, errors.New("disk on fire")
}

func newTestRouter(t *testing.T, store kvstore.Store) (*mux.Router, *stream.Hub) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	broker := notify.NewLocal()
	t.Cleanup(func() { broker.Close() })

	svc := service.NewListService(repository.NewListRepository(store), broker, nil)
	hub := stream.NewHub(0, nil)
	go hub.Run(ctx)
	streamer := stream.NewStreamer(svc, broker, hub, stream.Options{PollInterval: 10 * time.Millisecond}, nil)

	lists := NewListHandler(svc, hub, nil)
	r := mux.NewRouter()
	RegisterRoutes(r.PathPrefix("/api/v1").Subrouter(), lists, NewStreamHandler(lists, streamer))
	return r, hub
}

func do(t *testing.T, h http.Handler, method, path, participant string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if participant != "" {
		req.Header.Set(middleware.ParticipantHeader, participant)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func syncBody(t *testing.T, op domain.OperationType, data interface{}, expected *int64) map[string]interface{} {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	body := map[string]interface{}{"operation": op, "data": json.RawMessage(raw)}
	if expected != nil {
		body["expectedVersion"] = *expected
	}
	return body
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) *response.Response {
	t.Helper()
	env, err := response.Decode(rr.Body, v)
	require.NoError(t, err)
	return env
}

func TestListHandler_CreateGetDelete(t *testing.T) {
	r, _ := newTestRouter(t, kvstore.NewMemory())

	rr := do(t, r, http.MethodPost, "/api/v1/lists", "alice", map[string]string{"id": "groceries"})
	require.Equal(t, http.StatusCreated, rr.Code)
	var created domain.List
	decode(t, rr, &created)
	assert.Equal(t, "groceries", created.ID)
	assert.Equal(t, "alice", created.Owner)

	rr = do(t, r, http.MethodPost, "/api/v1/lists", "bob", map[string]string{"id": "groceries"})
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = do(t, r, http.MethodGet, "/api/v1/lists/groceries", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	tag := rr.Header().Get("ETag")
	require.NotEmpty(t, tag)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/lists/groceries", nil)
	req.Header.Set("If-None-Match", tag)
	notModified := httptest.NewRecorder()
	r.ServeHTTP(notModified, req)
	assert.Equal(t, http.StatusNotModified, notModified.Code)

	rr = do(t, r, http.MethodDelete, "/api/v1/lists/groceries", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = do(t, r, http.MethodGet, "/api/v1/lists/groceries", "", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	env := decode(t, rr, nil)
	assert.Equal(t, "List not found", env.Error)

	rr = do(t, r, http.MethodDelete, "/api/v1/lists/groceries", "", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestListHandler_CreateWithoutBody(t *testing.T) {
	r, _ := newTestRouter(t, kvstore.NewMemory())

	rr := do(t, r, http.MethodPost, "/api/v1/lists", "", nil)
	require.Equal(t, http.StatusCreated, rr.Code)
	var created domain.List
	decode(t, rr, &created)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, middleware.AnonymousParticipant, created.Owner)
}

func TestListHandler_Sync(t *testing.T) {
	r, _ := newTestRouter(t, kvstore.NewMemory())

	rr := do(t, r, http.MethodPost, "/api/v1/lists/l/sync", "alice",
		syncBody(t, domain.OpCreate, domain.Item{ID: "milk", Text: "Milk", Rank: "a0"}, nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var res domain.SyncResponse
	decode(t, rr, &res)
	require.Len(t, res.Items, 1)
	assert.Equal(t, int64(1), res.Version)
	assert.False(t, res.ServerTime.IsZero())
	assert.False(t, res.LastModified.IsZero())

	stale := int64(0)
	rr = do(t, r, http.MethodPost, "/api/v1/lists/l/sync", "alice",
		syncBody(t, domain.OpUpdate, domain.Item{ID: "milk", Text: "Oat milk", Rank: "a0"}, &stale))
	assert.Equal(t, http.StatusConflict, rr.Code)

	current := res.Version
	rr = do(t, r, http.MethodPost, "/api/v1/lists/l/sync", "alice",
		syncBody(t, domain.OpUpdate, domain.Item{ID: "milk", Text: "Oat milk", Rank: "a0"}, &current))
	require.Equal(t, http.StatusOK, rr.Code)
	decode(t, rr, &res)
	assert.Equal(t, "Oat milk", res.Items[0].Text)
}

func TestListHandler_SyncErrors(t *testing.T) {
	r, _ := newTestRouter(t, kvstore.NewMemory())

	tests := []struct {
		name    string
		path    string
		body    interface{}
		code    int
		message string
	}{
		{
			name:    "unknown operation",
			path:    "/api/v1/lists/l/sync",
			body:    map[string]interface{}{"operation": "rename", "data": map[string]string{"id": "x"}},
			code:    http.StatusBadRequest,
			message: "Invalid operation",
		},
		{
			name:    "empty operation",
			path:    "/api/v1/lists/l/sync",
			body:    map[string]interface{}{"operation": "", "data": map[string]string{"id": "x"}},
			code:    http.StatusBadRequest,
			message: "Invalid operation",
		},
		{
			name:    "missing operation",
			path:    "/api/v1/lists/l/sync",
			body:    map[string]interface{}{"data": map[string]string{"id": "x"}},
			code:    http.StatusBadRequest,
			message: "Invalid operation",
		},
		{
			name:    "update on missing list",
			path:    "/api/v1/lists/missing/sync",
			body:    syncBody(t, domain.OpUpdate, domain.Item{ID: "x", Rank: "a0"}, nil),
			code:    http.StatusNotFound,
			message: "List not found",
		},
		{
			name: "missing data",
			path: "/api/v1/lists/l/sync",
			body: map[string]interface{}{"operation": "create"},
			code: http.StatusBadRequest,
		},
		{
			name: "bad rank",
			path: "/api/v1/lists/l/sync",
			body: syncBody(t, domain.OpCreate, domain.Item{ID: "x", Rank: "!!"}, nil),
			code: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, r, http.MethodPost, tt.path, "", tt.body)
			assert.Equal(t, tt.code, rr.Code)
			if tt.message != "" {
				env := decode(t, rr, nil)
				assert.Equal(t, tt.message, env.Error)
			}
		})
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/lists/l/sync", strings.NewReader("{not json"))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestListHandler_RankTaken(t *testing.T) {
	r, _ := newTestRouter(t, kvstore.NewMemory())

	rr := do(t, r, http.MethodPost, "/api/v1/lists/l/sync", "alice",
		syncBody(t, domain.OpCreate, domain.Item{ID: "x", Text: "milk", Rank: "Zz"}, nil))
	require.Equal(t, http.StatusOK, rr.Code)

	rr = do(t, r, http.MethodPost, "/api/v1/lists/l/sync", "bob",
		syncBody(t, domain.OpCreate, domain.Item{ID: "y", Text: "eggs", Rank: "Zz"}, nil))
	assert.Equal(t, http.StatusConflict, rr.Code)
	env := decode(t, rr, nil)
	assert.Equal(t, "Rank already in use", env.Error)
}

func TestListHandler_PersistenceFailure(t *testing.T) {
	r, _ := newTestRouter(t, failingStore{Store: kvstore.NewMemory()})

	rr := do(t, r, http.MethodPost, "/api/v1/lists/l/sync", "",
		syncBody(t, domain.OpCreate, domain.Item{ID: "x", Rank: "a0"}, nil))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	env := decode(t, rr, nil)
	assert.Equal(t, "Sync operation failed", env.Error)
}

func TestListHandler_Activity(t *testing.T) {
	r, _ := newTestRouter(t, kvstore.NewMemory())

	for i, id := range []string{"a", "b", "c"} {
		rr := do(t, r, http.MethodPost, "/api/v1/lists/l/sync", "",
			syncBody(t, domain.OpCreate, domain.Item{ID: id, Text: id, Rank: "a" + strconv.Itoa(i)}, nil))
		require.Equal(t, http.StatusOK, rr.Code)
	}

	rr := do(t, r, http.MethodGet, "/api/v1/lists/l/activity?limit=2", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var entries []domain.Activity
	decode(t, rr, &entries)
	assert.Len(t, entries, 2)

	rr = do(t, r, http.MethodGet, "/api/v1/lists/l/activity?since=yesterday", "", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, r, http.MethodGet, "/api/v1/lists/l/activity?limit=-1", "", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, r, http.MethodGet, "/api/v1/lists/none/activity", "", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestListHandler_Subscribers(t *testing.T) {
	r, hub := newTestRouter(t, kvstore.NewMemory())

	rr := do(t, r, http.MethodPost, "/api/v1/lists", "alice", map[string]string{"id": "l"})
	require.Equal(t, http.StatusCreated, rr.Code)
	require.NoError(t, hub.Register(context.Background(), &stream.Conn{ID: "c1", ListID: "l", ParticipantID: "bob"}))

	rr = do(t, r, http.MethodGet, "/api/v1/lists/l/subscribers", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var res domain.SubscribersResponse
	decode(t, rr, &res)
	assert.Equal(t, []string{"alice"}, res.Subscribers)
	assert.Equal(t, 1, res.LiveConnections)
	assert.Equal(t, []string{"bob"}, res.LiveParticipants)
}

func TestStreamHandler(t *testing.T) {
	r, _ := newTestRouter(t, kvstore.NewMemory())
	srv := httptest.NewServer(r)
	defer srv.Close()

	rr := do(t, r, http.MethodGet, "/api/v1/lists/missing/stream", "", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = do(t, r, http.MethodPost, "/api/v1/lists", "alice", map[string]string{"id": "l"})
	require.Equal(t, http.StatusCreated, rr.Code)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/v1/lists/l/stream?participant=dave", nil)
	require.NoError(t, err)
	req.Header.Set("Accept", "text/event-stream")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	scanner := bufio.NewScanner(resp.Body)
	require.True(t, scanner.Scan())
	assert.Equal(t, "event: connected", scanner.Text())
	require.True(t, scanner.Scan())
	assert.Contains(t, scanner.Text(), `"participantId":"dave"`)

	rr = do(t, r, http.MethodDelete, "/api/v1/lists/l", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	done := make(chan struct{})
	go func() {
		for scanner.Scan() {
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream stayed open after delete")
	}
}
