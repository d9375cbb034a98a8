package task

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Store is the task persistence boundary.
type Store interface {
	Create(ctx context.Context, userID int64, input CreateInput) (Task, error)
	List(ctx context.Context, userID int64, status *bool) ([]Task, error)
	GetByID(ctx context.Context, id int64) (Task, error)
	Update(ctx context.Context, id int64, patch Patch) (Task, error)
	Delete(ctx context.Context, id int64) error
}

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Create(ctx context.Context, userID int64, input CreateInput) (Task, error) {
	t := Task{
		Title:       input.Title,
		Description: input.Description,
		Status:      input.Status,
		UserID:      userID,
	}
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO tasks (title, description, status, user_id)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, t.Title, t.Description, t.Status, t.UserID).Scan(&t.ID)
	if err != nil {
		return Task{}, fmt.Errorf("insert task: %w", err)
	}

	return t, nil
}

func (r *Repository) List(ctx context.Context, userID int64, status *bool) ([]Task, error) {
	query := `
		SELECT id, title, description, status, user_id
		FROM tasks
		WHERE user_id = $1
	`
	args := []any{userID}
	if status != nil {
		query += ` AND status = $2`
		args = append(args, *status)
	}
	query += ` ORDER BY id ASC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	tasks := make([]Task, 0)
	for rows.Next() {
		var t Task
		if err := rows.Scan(&t.ID, &t.Title, &t.Description, &t.Status, &t.UserID); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}

	return tasks, nil
}

func (r *Repository) GetByID(ctx context.Context, id int64) (Task, error) {
	var t Task
	err := r.db.QueryRowContext(ctx, `
		SELECT id, title, description, status, user_id
		FROM tasks
		WHERE id = $1
	`, id).Scan(&t.ID, &t.Title, &t.Description, &t.Status, &t.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Task{}, ErrTaskNotFound
		}
		return Task{}, fmt.Errorf("query task by id: %w", err)
	}

	return t, nil
}

func (r *Repository) Update(ctx context.Context, id int64, patch Patch) (Task, error) {
	var t Task
	err := r.db.QueryRowContext(ctx, `
		UPDATE tasks
		SET title = COALESCE($2, title),
		    description = COALESCE($3, description),
		    status = COALESCE($4, status)
		WHERE id = $1
		RETURNING id, title, description, status, user_id
	`, id, patch.Title, patch.Description, patch.Status).
		Scan(&t.ID, &t.Title, &t.Description, &t.Status, &t.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Task{}, ErrTaskNotFound
		}
		return Task{}, fmt.Errorf("update task: %w", err)
	}

	return t, nil
}

func (r *Repository) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrTaskNotFound
	}

	return nil
}
