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

// CreateSender adds a tracked address for ownerID. A second sender with the
// same address for the same owner returns ErrDuplicate.
func (s *Store) CreateSender(ctx context.Context, ownerID, email, displayName string) (model.Sender, error) {
	sender := model.Sender{
		ID:          uuid.NewString(),
		OwnerUserID: ownerID,
		Email:       email,
		DisplayName: displayName,
		CreatedAt:   time.Now().UTC(),
	}

	_, err := s.db.ExecContext(ctx, s.db.Rebind(
		`INSERT INTO senders (id, owner_user_id, email, display_name, created_at) VALUES (?, ?, ?, ?, ?)`),
		sender.ID, sender.OwnerUserID, sender.Email, sender.DisplayName, sender.CreatedAt)
	if isUniqueViolation(err) {
		return model.Sender{}, ErrDuplicate
	}
	if err != nil {
		return model.Sender{}, fmt.Errorf("creating sender: %w", err)
	}

	return sender, nil
}

// GetSender returns the sender only when ownerID owns it; any other case is
// ErrNotFound so callers cannot probe for foreign ids.
func (s *Store) GetSender(ctx context.Context, ownerID, id string) (model.Sender, error) {
	var sender model.Sender
	err := s.db.GetContext(ctx, &sender, s.db.Rebind(
		`SELECT id, owner_user_id, email, display_name, created_at FROM senders WHERE id = ? AND owner_user_id = ?`),
		id, ownerID)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Sender{}, ErrNotFound
	}
	if err != nil {
		return model.Sender{}, fmt.Errorf("getting sender: %w", err)
	}
	sender.CreatedAt = sender.CreatedAt.UTC()
	return sender, nil
}

// ListSenders returns ownerID's senders, newest first, with EmailCount set.
func (s *Store) ListSenders(ctx context.Context, ownerID string) ([]model.Sender, error) {
	senders := []model.Sender{}
	err := s.db.SelectContext(ctx, &senders, s.db.Rebind(
		`SELECT id, owner_user_id, email, display_name, created_at FROM senders
		WHERE owner_user_id = ? ORDER BY created_at DESC, id`), ownerID)
	if err != nil {
		return nil, fmt.Errorf("listing senders: %w", err)
	}

	var counts []struct {
		SenderID string `db:"sender_id"`
		Count    int    `db:"n"`
	}
	err = s.db.SelectContext(ctx, &counts, s.db.Rebind(
		`SELECT sender_id, COUNT(*) AS n FROM emails WHERE user_id = ? GROUP BY sender_id`), ownerID)
	if err != nil {
		return nil, fmt.Errorf("counting emails: %w", err)
	}

	byID := make(map[string]int, len(counts))
	for _, c := range counts {
		byID[c.SenderID] = c.Count
	}
	for i := range senders {
		senders[i].CreatedAt = senders[i].CreatedAt.UTC()
		senders[i].EmailCount = byID[senders[i].ID]
	}

	return senders, nil
}

// DeleteSender removes the sender and, through the foreign key, its emails.
func (s *Store) DeleteSender(ctx context.Context, ownerID, id string) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(
		`DELETE FROM senders WHERE id = ? AND owner_user_id = ?`), id, ownerID)
	if err != nil {
		return fmt.Errorf("deleting sender: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting sender: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
