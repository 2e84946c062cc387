package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/calendar-bot/backend/internal/storage/models"
)

// DirectoryRepository stores the people directory fed by external systems:
// email to chat identity mappings and the list of people out of office today.
type DirectoryRepository struct {
	BaseRepository
}

// NewDirectoryRepository creates a new directory repository.
func NewDirectoryRepository(db *DB) *DirectoryRepository {
	return &DirectoryRepository{
		BaseRepository: NewBaseRepository(db),
	}
}

// GetIdentityMappings returns all known email to chat id mappings.
func (r *DirectoryRepository) GetIdentityMappings(ctx context.Context) ([]models.IdentityMapping, error) {
	rows, err := r.query(ctx, r.DB(), "SELECT email, chat_id FROM identity_mappings ORDER BY email")
	if err != nil {
		return nil, fmt.Errorf("querying identity mappings: %w", err)
	}
	defer rows.Close()

	var mappings []models.IdentityMapping
	for rows.Next() {
		var m models.IdentityMapping
		if err := rows.Scan(&m.Email, &m.ChatID); err != nil {
			return nil, fmt.Errorf("scanning identity mapping: %w", err)
		}
		mappings = append(mappings, m)
	}

	return mappings, rows.Err()
}

// AddIdentityMapping inserts or replaces the chat id for an email address.
func (r *DirectoryRepository) AddIdentityMapping(ctx context.Context, m models.IdentityMapping) error {
	_, err := r.exec(ctx, r.DB(), `
		INSERT INTO identity_mappings (email, chat_id) VALUES (?, ?)
		ON CONFLICT (email) DO UPDATE SET chat_id = excluded.chat_id
	`, strings.ToLower(m.Email), m.ChatID)
	if err != nil {
		return fmt.Errorf("upserting identity mapping: %w", err)
	}
	return nil
}

// SetOutToday replaces the set of people out of office today.
func (r *DirectoryRepository) SetOutToday(ctx context.Context, emails []string) error {
	return r.DB().Transaction(ctx, func(tx *sql.Tx) error {
		if _, err := r.exec(ctx, tx, "DELETE FROM out_today"); err != nil {
			return fmt.Errorf("clearing out_today: %w", err)
		}
		for _, email := range emails {
			if _, err := r.exec(ctx, tx, `
				INSERT INTO out_today (email) VALUES (?) ON CONFLICT (email) DO NOTHING
			`, strings.ToLower(email)); err != nil {
				return fmt.Errorf("inserting out_today: %w", err)
			}
		}
		return nil
	})
}

// GetOutTodayEmails returns the lower-cased emails of people out of office today.
func (r *DirectoryRepository) GetOutTodayEmails(ctx context.Context) (map[string]bool, error) {
	rows, err := r.query(ctx, r.DB(), "SELECT email FROM out_today")
	if err != nil {
		return nil, fmt.Errorf("querying out_today: %w", err)
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return nil, fmt.Errorf("scanning out_today: %w", err)
		}
		out[strings.ToLower(email)] = true
	}

	return out, rows.Err()
}
