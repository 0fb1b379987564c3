package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/gavelhouse/gavel/internal/models"
)

const userColumns = `id, username, display_name, email, is_active, created_at`

type CreateUserRequest struct {
	Username    string
	DisplayName string
	Email       string
}

// CreateUser inserts a user. Usernames are normalized to lowercase and are
// unique; a duplicate insert surfaces the store's uniqueness error.
func (q *Queries) CreateUser(ctx context.Context, req CreateUserRequest) (*models.User, error) {
	ctx, cancel := withDeadline(ctx)
	defer cancel()

	row := q.db.QueryRow(ctx, `
		INSERT INTO users (username, display_name, email)
		VALUES ($1, $2, $3)
		RETURNING `+userColumns,
		strings.ToLower(req.Username), req.DisplayName, req.Email)

	user, err := scanUser(row)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

// FindUserByID fetches a user by id.
func (q *Queries) FindUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	ctx, cancel := withDeadline(ctx)
	defer cancel()

	row := q.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// FindUserByUsername fetches a user by their unique lowercase username.
func (q *Queries) FindUserByUsername(ctx context.Context, username string) (*models.User, error) {
	ctx, cancel := withDeadline(ctx)
	defer cancel()

	row := q.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`,
		strings.ToLower(username))
	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user by username: %w", err)
	}
	return user, nil
}

func scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.Username, &u.DisplayName, &u.Email, &u.IsActive, &u.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}
