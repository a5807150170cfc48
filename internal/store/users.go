package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/teemow/mailminder/internal/model"
)

// UpsertUser creates the user for googleSub, or refreshes their email and
// display name if they already exist. The stored row is returned.
func (s *Store) UpsertUser(ctx context.Context, googleSub, email, displayName string) (model.User, error) {
	if googleSub == "" {
		return model.User{}, errors.New("google subject is required")
	}

	const q = `INSERT INTO users (id, google_sub, email, display_name, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (google_sub) DO UPDATE SET email = excluded.email, display_name = excluded.display_name
		RETURNING id`

	var id string
	err := s.db.GetContext(ctx, &id, s.db.Rebind(q),
		uuid.NewString(), googleSub, email, displayName, time.Now().UTC())
	if err != nil {
		return model.User{}, fmt.Errorf("upserting user: %w", err)
	}

	return s.GetUser(ctx, id)
}

// GetUser returns the user with id, or ErrNotFound.
func (s *Store) GetUser(ctx context.Context, id string) (model.User, error) {
	var u model.User
	err := s.db.GetContext(ctx, &u, s.db.Rebind(
		`SELECT id, google_sub, email, display_name, created_at FROM users WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return model.User{}, ErrNotFound
	}
	if err != nil {
		return model.User{}, fmt.Errorf("getting user: %w", err)
	}
	u.CreatedAt = u.CreatedAt.UTC()
	return u, nil
}
