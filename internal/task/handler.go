package task

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/getsentry/sentry-go"

	"task-manager/internal/auth"
)

const maxJSONBodyBytes = 1 << 20

type Handler struct {
	store Store
	users auth.UserStore
}

func NewHandler(store Store, users auth.UserStore) *Handler {
	return &Handler{store: store, users: users}
}

type createTaskRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Status      bool   `json:"status"`
}

type updateTaskRequest struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Status      *bool   `json:"status"`
}

func (h *Handler) CreateTask(w http.ResponseWriter, r *http.Request) {
	user, ok := h.resolveUser(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	var body createTaskRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	body.Title = strings.TrimSpace(body.Title)
	if !validTitle(body.Title) {
		writeError(w, http.StatusBadRequest, "title is invalid")
		return
	}
	if !validDescription(body.Description) {
		writeError(w, http.StatusBadRequest, "description is invalid")
		return
	}

	t, err := h.store.Create(r.Context(), user.ID, CreateInput{
		Title:       body.Title,
		Description: body.Description,
		Status:      body.Status,
	})
	if err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to create task")
		return
	}

	writeJSON(w, http.StatusCreated, t)
}

func (h *Handler) ListTasks(w http.ResponseWriter, r *http.Request) {
	user, ok := h.resolveUser(w, r)
	if !ok {
		return
	}

	var status *bool
	if raw := r.URL.Query().Get("status"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "status must be a boolean")
			return
		}
		status = &parsed
	}

	tasks, err := h.store.List(r.Context(), user.ID, status)
	if err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to list tasks")
		return
	}

	writeJSON(w, http.StatusOK, tasks)
}

func (h *Handler) UpdateTask(w http.ResponseWriter, r *http.Request) {
	user, ok := h.resolveUser(w, r)
	if !ok {
		return
	}

	id, ok := taskID(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	var body updateTaskRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	if body.Title != nil {
		trimmed := strings.TrimSpace(*body.Title)
		if !validTitle(trimmed) {
			writeError(w, http.StatusBadRequest, "title is invalid")
			return
		}
		body.Title = &trimmed
	}
	if body.Description != nil && !validDescription(*body.Description) {
		writeError(w, http.StatusBadRequest, "description is invalid")
		return
	}

	if !h.requireOwnership(w, r, id, user.ID) {
		return
	}

	t, err := h.store.Update(r.Context(), id, Patch{
		Title:       body.Title,
		Description: body.Description,
		Status:      body.Status,
	})
	if err != nil {
		if errors.Is(err, ErrTaskNotFound) {
			writeError(w, http.StatusNotFound, "task not found")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to update task")
		return
	}

	writeJSON(w, http.StatusOK, t)
}

func (h *Handler) DeleteTask(w http.ResponseWriter, r *http.Request) {
	user, ok := h.resolveUser(w, r)
	if !ok {
		return
	}

	id, ok := taskID(w, r)
	if !ok {
		return
	}

	if !h.requireOwnership(w, r, id, user.ID) {
		return
	}

	if err := h.store.Delete(r.Context(), id); err != nil {
		if errors.Is(err, ErrTaskNotFound) {
			writeError(w, http.StatusNotFound, "task not found")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to delete task")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// resolveUser maps the username placed in the context by the auth middleware
// to its user row. A token whose subject no longer resolves is a bad request,
// not an auth failure: the bearer token itself already verified.
func (h *Handler) resolveUser(w http.ResponseWriter, r *http.Request) (auth.User, bool) {
	username, ok := auth.UsernameFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusBadRequest, "could not resolve user")
		return auth.User{}, false
	}

	user, err := h.users.GetByUsername(r.Context(), username)
	if err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			writeError(w, http.StatusBadRequest, "could not resolve user")
			return auth.User{}, false
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to resolve user")
		return auth.User{}, false
	}

	return user, true
}

// requireOwnership answers 404 for an absent task and 403 for someone else's.
func (h *Handler) requireOwnership(w http.ResponseWriter, r *http.Request, id, userID int64) bool {
	t, err := h.store.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrTaskNotFound) {
			writeError(w, http.StatusNotFound, "task not found")
			return false
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to load task")
		return false
	}

	if t.UserID != userID {
		writeError(w, http.StatusForbidden, "task belongs to another user")
		return false
	}

	return true
}

func taskID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid task id")
		return 0, false
	}
	return id, true
}

func validTitle(title string) bool {
	return title != "" && utf8.ValidString(title) && len(title) <= 150
}

func validDescription(description string) bool {
	return utf8.ValidString(description) && len(description) <= 1000
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
