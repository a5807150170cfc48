package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/teemow/mailminder/internal/model"
)

type credentialRow struct {
	UserID       string       `db:"user_id"`
	Provider     string       `db:"provider"`
	AccessToken  string       `db:"access_token"`
	RefreshToken string       `db:"refresh_token"`
	ExpiresAt    sql.NullTime `db:"expires_at"`
	UpdatedAt    time.Time    `db:"updated_at"`
}

// UpsertCredential stores the provider token for the user. An empty refresh
// token keeps the previously stored one, since Google only returns it on the
// first consent.
func (s *Store) UpsertCredential(ctx context.Context, c model.Credential) error {
	if c.UserID == "" || c.Provider == "" {
		return errors.New("credential needs user id and provider")
	}

	var expires sql.NullTime
	if !c.ExpiresAt.IsZero() {
		expires = sql.NullTime{Time: c.ExpiresAt.UTC(), Valid: true}
	}

	const q = `INSERT INTO user_tokens (user_id, provider, access_token, refresh_token, expires_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, provider) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = CASE WHEN excluded.refresh_token <> '' THEN excluded.refresh_token ELSE user_tokens.refresh_token END,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at`

	_, err := s.db.ExecContext(ctx, s.db.Rebind(q),
		c.UserID, c.Provider, c.AccessToken, c.RefreshToken, expires, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upserting credential: %w", err)
	}
	return nil
}

// GetCredential returns the stored credential, or ErrNotFound.
func (s *Store) GetCredential(ctx context.Context, userID, provider string) (model.Credential, error) {
	var row credentialRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(
		`SELECT user_id, provider, access_token, refresh_token, expires_at, updated_at
		FROM user_tokens WHERE user_id = ? AND provider = ?`), userID, provider)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Credential{}, ErrNotFound
	}
	if err != nil {
		return model.Credential{}, fmt.Errorf("getting credential: %w", err)
	}

	c := model.Credential{
		UserID:       row.UserID,
		Provider:     row.Provider,
		AccessToken:  row.AccessToken,
		RefreshToken: row.RefreshToken,
		UpdatedAt:    row.UpdatedAt.UTC(),
	}
	if row.ExpiresAt.Valid {
		c.ExpiresAt = row.ExpiresAt.Time.UTC()
	}
	return c, nil
}

// DeleteCredential removes the stored credential. Deleting a missing
// credential is not an error.
func (s *Store) DeleteCredential(ctx context.Context, userID, provider string) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(
		`DELETE FROM user_tokens WHERE user_id = ? AND provider = ?`), userID, provider)
	if err != nil {
		return fmt.Errorf("deleting credential: %w", err)
	}
	return nil
}
