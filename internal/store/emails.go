package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/teemow/mailminder/internal/model"
)

// NewEmail is a message ready to be persisted for a sender.
type NewEmail struct {
	Subject           string
	Body              string
	ReceivedAt        time.Time
	ProviderMessageID string
}

// InsertEmails stores emails for the sender in one statement. Rows whose
// provider message id already exists are skipped; the number of rows actually
// inserted is returned. The whole batch succeeds or fails together.
func (s *Store) InsertEmails(ctx context.Context, userID, senderID string, emails []NewEmail) (int, error) {
	if len(emails) == 0 {
		return 0, nil
	}

	const cols = 8
	var b strings.Builder
	b.WriteString(`INSERT INTO emails (id, sender_id, user_id, subject, body, received_at, provider_message_id, created_at) VALUES `)

	args := make([]any, 0, len(emails)*cols)
	now := time.Now().UTC()
	seen := make(map[string]struct{}, len(emails))

	for _, e := range emails {
		// Within one statement a repeated key would conflict with itself.
		if _, dup := seen[e.ProviderMessageID]; dup {
			continue
		}
		seen[e.ProviderMessageID] = struct{}{}

		if len(args) > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(?, ?, ?, ?, ?, ?, ?, ?)")
		args = append(args,
			uuid.NewString(), senderID, userID, e.Subject, e.Body,
			e.ReceivedAt.UTC(), e.ProviderMessageID, now)
	}
	b.WriteString(` ON CONFLICT (provider_message_id) DO NOTHING RETURNING id`)

	rows, err := s.db.QueryxContext(ctx, s.db.Rebind(b.String()), args...)
	if err != nil {
		return 0, fmt.Errorf("inserting emails: %w", err)
	}
	defer rows.Close()

	inserted := 0
	for rows.Next() {
		inserted++
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("inserting emails: %w", err)
	}

	return inserted, nil
}

// ListEmails returns the sender's stored emails, newest first. The sender
// must belong to ownerID.
func (s *Store) ListEmails(ctx context.Context, ownerID, senderID string) ([]model.Email, error) {
	if _, err := s.GetSender(ctx, ownerID, senderID); err != nil {
		return nil, err
	}

	emails := []model.Email{}
	err := s.db.SelectContext(ctx, &emails, s.db.Rebind(
		`SELECT id, sender_id, user_id, subject, body, received_at, provider_message_id, created_at
		FROM emails WHERE sender_id = ? AND user_id = ?
		ORDER BY received_at DESC, id`), senderID, ownerID)
	if err != nil {
		return nil, fmt.Errorf("listing emails: %w", err)
	}

	for i := range emails {
		emails[i].ReceivedAt = emails[i].ReceivedAt.UTC()
		emails[i].CreatedAt = emails[i].CreatedAt.UTC()
	}
	return emails, nil
}

// CountEmails returns how many emails are stored for the sender.
func (s *Store) CountEmails(ctx context.Context, senderID string) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, s.db.Rebind(`SELECT COUNT(*) FROM emails WHERE sender_id = ?`), senderID); err != nil {
		return 0, fmt.Errorf("counting emails: %w", err)
	}
	return n, nil
}
