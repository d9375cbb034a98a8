package task

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"task-manager/internal/auth"
)

const testSecret = "test-secret"

type fakeUsers struct {
	mu    sync.Mutex
	seq   int64
	users map[string]auth.User
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{users: make(map[string]auth.User)}
}

func (f *fakeUsers) Create(_ context.Context, username, passwordHash string) (auth.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, exists := f.users[username]; exists {
		return auth.User{}, auth.ErrUsernameTaken
	}

	f.seq++
	user := auth.User{ID: f.seq, Username: username, PasswordHash: passwordHash}
	f.users[username] = user
	return user, nil
}

func (f *fakeUsers) GetByUsername(_ context.Context, username string) (auth.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	user, exists := f.users[username]
	if !exists {
		return auth.User{}, auth.ErrUserNotFound
	}
	return user, nil
}

type memStore struct {
	mu    sync.Mutex
	seq   int64
	tasks map[int64]Task
}

func newMemStore() *memStore {
	return &memStore{tasks: make(map[int64]Task)}
}

func (m *memStore) Create(_ context.Context, userID int64, input CreateInput) (Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq++
	t := Task{
		ID:          m.seq,
		Title:       input.Title,
		Description: input.Description,
		Status:      input.Status,
		UserID:      userID,
	}
	m.tasks[t.ID] = t
	return t, nil
}

func (m *memStore) List(_ context.Context, userID int64, status *bool) ([]Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tasks := make([]Task, 0)
	for _, t := range m.tasks {
		if t.UserID != userID {
			continue
		}
		if status != nil && t.Status != *status {
			continue
		}
		tasks = append(tasks, t)
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })
	return tasks, nil
}

func (m *memStore) GetByID(_ context.Context, id int64) (Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, exists := m.tasks[id]
	if !exists {
		return Task{}, ErrTaskNotFound
	}
	return t, nil
}

func (m *memStore) Update(_ context.Context, id int64, patch Patch) (Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, exists := m.tasks[id]
	if !exists {
		return Task{}, ErrTaskNotFound
	}

	if patch.Title != nil {
		t.Title = *patch.Title
	}
	if patch.Description != nil {
		t.Description = *patch.Description
	}
	if patch.Status != nil {
		t.Status = *patch.Status
	}
	m.tasks[id] = t
	return t, nil
}

func (m *memStore) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.tasks[id]; !exists {
		return ErrTaskNotFound
	}
	delete(m.tasks, id)
	return nil
}

// newTestMux wires the same route table as the app bootstrap, backed by
// in-memory stores and a miniredis registry.
func newTestMux(t *testing.T) *http.ServeMux {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	users := newFakeUsers()
	tokens := auth.NewTokenManager(testSecret, 30*time.Minute, 7*24*time.Hour)
	service := auth.NewService(users, auth.NewRefreshTokenRegistry(client), tokens)
	authHandler := auth.NewHandler(service)
	taskHandler := NewHandler(newMemStore(), users)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/register", authHandler.Register)
	mux.HandleFunc("POST /auth/refresh", authHandler.Refresh)
	mux.Handle("POST /tasks", auth.Middleware(service, http.HandlerFunc(taskHandler.CreateTask)))
	mux.Handle("GET /tasks", auth.Middleware(service, http.HandlerFunc(taskHandler.ListTasks)))
	mux.Handle("PUT /tasks/{id}", auth.Middleware(service, http.HandlerFunc(taskHandler.UpdateTask)))
	mux.Handle("DELETE /tasks/{id}", auth.Middleware(service, http.HandlerFunc(taskHandler.DeleteTask)))

	return mux
}

func do(t *testing.T, mux *http.ServeMux, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func register(t *testing.T, mux *http.ServeMux, username, password string) string {
	t.Helper()

	payload, err := json.Marshal(map[string]string{"username": username, "password": password})
	require.NoError(t, err)

	rec := do(t, mux, http.MethodPost, "/auth/register", "", string(payload))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		AccessToken string `json:"access_token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotEmpty(t, body.AccessToken)
	return body.AccessToken
}

func decodeTask(t *testing.T, rec *httptest.ResponseRecorder) Task {
	t.Helper()

	var task Task
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &task))
	return task
}

func decodeTasks(t *testing.T, rec *httptest.ResponseRecorder) []Task {
	t.Helper()

	var tasks []Task
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tasks))
	return tasks
}

func TestTasks_EndToEnd(t *testing.T) {
	t.Parallel()

	mux := newTestMux(t)
	token := register(t, mux, "alice", "pw1")

	rec := do(t, mux, http.MethodPost, "/tasks", token, `{"title":"buy milk"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decodeTask(t, rec)
	require.Equal(t, int64(1), created.ID)
	require.Equal(t, "buy milk", created.Title)
	require.False(t, created.Status)

	rec = do(t, mux, http.MethodGet, "/tasks", token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	tasks := decodeTasks(t, rec)
	require.Len(t, tasks, 1)
	require.Equal(t, created, tasks[0])

	rec = do(t, mux, http.MethodPut, "/tasks/1", token, `{"status":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	updated := decodeTask(t, rec)
	require.True(t, updated.Status)
	require.Equal(t, "buy milk", updated.Title)

	rec = do(t, mux, http.MethodDelete, "/tasks/1", token, "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, mux, http.MethodGet, "/tasks", token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, decodeTasks(t, rec))
}

func TestTasks_OwnershipIsolation(t *testing.T) {
	t.Parallel()

	mux := newTestMux(t)
	aliceToken := register(t, mux, "alice", "pw1")
	bobToken := register(t, mux, "bob", "pw2")

	rec := do(t, mux, http.MethodPost, "/tasks", aliceToken, `{"title":"alice task"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decodeTask(t, rec)

	rec = do(t, mux, http.MethodGet, "/tasks", bobToken, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, decodeTasks(t, rec))

	rec = do(t, mux, http.MethodPut, "/tasks/1", bobToken, `{"status":true}`)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, mux, http.MethodDelete, "/tasks/1", bobToken, "")
	require.Equal(t, http.StatusForbidden, rec.Code)

	// Alice's task is untouched.
	rec = do(t, mux, http.MethodGet, "/tasks", aliceToken, "")
	require.Equal(t, http.StatusOK, rec.Code)
	tasks := decodeTasks(t, rec)
	require.Len(t, tasks, 1)
	require.Equal(t, created, tasks[0])
}

func TestTasks_StatusFilter(t *testing.T) {
	t.Parallel()

	mux := newTestMux(t)
	token := register(t, mux, "alice", "pw1")

	rec := do(t, mux, http.MethodPost, "/tasks", token, `{"title":"open task"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = do(t, mux, http.MethodPost, "/tasks", token, `{"title":"done task","status":true}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = do(t, mux, http.MethodGet, "/tasks?status=true", token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	tasks := decodeTasks(t, rec)
	require.Len(t, tasks, 1)
	require.Equal(t, "done task", tasks[0].Title)

	rec = do(t, mux, http.MethodGet, "/tasks?status=false", token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	tasks = decodeTasks(t, rec)
	require.Len(t, tasks, 1)
	require.Equal(t, "open task", tasks[0].Title)

	rec = do(t, mux, http.MethodGet, "/tasks?status=maybe", token, "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTasks_NotFound(t *testing.T) {
	t.Parallel()

	mux := newTestMux(t)
	token := register(t, mux, "alice", "pw1")

	rec := do(t, mux, http.MethodPut, "/tasks/999", token, `{"status":true}`)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, mux, http.MethodDelete, "/tasks/999", token, "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTasks_RequireToken(t *testing.T) {
	t.Parallel()

	mux := newTestMux(t)

	rec := do(t, mux, http.MethodPost, "/tasks", "", `{"title":"no auth"}`)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, mux, http.MethodGet, "/tasks", "", "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestTasks_UnresolvableSubject(t *testing.T) {
	t.Parallel()

	mux := newTestMux(t)

	// Valid signature, but the subject has no user row.
	tokens := auth.NewTokenManager(testSecret, 30*time.Minute, 7*24*time.Hour)
	ghost, err := tokens.IssueAccessToken("ghost")
	require.NoError(t, err)

	rec := do(t, mux, http.MethodPost, "/tasks", ghost, `{"title":"orphan"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateTask_Validation(t *testing.T) {
	t.Parallel()

	mux := newTestMux(t)
	token := register(t, mux, "alice", "pw1")

	rec := do(t, mux, http.MethodPost, "/tasks", token, `{"title":"  "}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, mux, http.MethodPost, "/tasks", token, `{"title":"ok","unknown":1}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, mux, http.MethodPut, "/tasks/abc", token, `{"status":true}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateTask_PartialPatch(t *testing.T) {
	t.Parallel()

	mux := newTestMux(t)
	token := register(t, mux, "alice", "pw1")

	rec := do(t, mux, http.MethodPost, "/tasks", token, `{"title":"first draft","description":"keep me"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = do(t, mux, http.MethodPut, "/tasks/1", token, `{"title":"renamed"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	updated := decodeTask(t, rec)
	require.Equal(t, "renamed", updated.Title)
	require.Equal(t, "keep me", updated.Description)
	require.False(t, updated.Status)
}
