package reminder

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/calendar-bot/backend/internal/storage/models"
)

// IdentityStore loads email to chat identity mappings.
type IdentityStore interface {
	GetIdentityMappings(ctx context.Context) ([]models.IdentityMapping, error)
}

// IdentityCache maps attendee emails to chat identities for mentions.
type IdentityCache struct {
	mu      sync.RWMutex
	byEmail map[string]string
}

// NewIdentityCache creates an empty cache.
func NewIdentityCache() *IdentityCache {
	return &IdentityCache{byEmail: make(map[string]string)}
}

// Replace swaps the cached mappings.
func (c *IdentityCache) Replace(mappings []models.IdentityMapping) {
	byEmail := make(map[string]string, len(mappings))
	for _, m := range mappings {
		if m.ChatID == "" {
			continue
		}
		byEmail[strings.ToLower(m.Email)] = m.ChatID
	}

	c.mu.Lock()
	c.byEmail = byEmail
	c.mu.Unlock()
}

// Lookup returns the chat identity for email.
func (c *IdentityCache) Lookup(email string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.byEmail[strings.ToLower(email)]
	return id, ok
}

// Len returns the number of cached mappings.
func (c *IdentityCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byEmail)
}

// Refresh reloads the cache from store. The previous mappings stay in place on error.
func (c *IdentityCache) Refresh(ctx context.Context, store IdentityStore) error {
	mappings, err := store.GetIdentityMappings(ctx)
	if err != nil {
		return fmt.Errorf("loading identity mappings: %w", err)
	}
	c.Replace(mappings)
	return nil
}
