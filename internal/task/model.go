package task

import "errors"

var ErrTaskNotFound = errors.New("task not found")

type Task struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Status      bool   `json:"status"`
	UserID      int64  `json:"user_id"`
}

type CreateInput struct {
	Title       string
	Description string
	Status      bool
}

// Patch carries a partial update; nil fields are left unchanged.
type Patch struct {
	Title       *string
	Description *string
	Status      *bool
}
