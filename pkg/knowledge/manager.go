// Package knowledge maintains the set of external knowledge references
// attached to a chat session. The server is the source of truth: every
// mutation re-reads the authoritative list instead of mutating locally, so
// the view may be briefly stale but never inconsistent with the server.
package knowledge

import (
	"context"
	"fmt"
	"sync"

	"github.com/brandloom/personachat/pkg/api"
)

// API is the slice of the REST surface the manager needs
type API interface {
	ListContext(ctx context.Context, personaID, sessionID string) ([]api.ContextItem, error)
	ApplyContext(ctx context.Context, personaID, sessionID string, items []api.ContextItem) error
	RemoveContext(ctx context.Context, personaID, sessionID, itemID string) error
	AvailableContext(ctx context.Context, personaID string) ([]api.ContextItem, error)
}

// Manager tracks the server-confirmed context attachments for one session
type Manager struct {
	mu        sync.Mutex
	personaID string
	sessionID string
	client    API

	items []api.ContextItem
}

// NewManager creates a context manager for one session
func NewManager(personaID, sessionID string, client API) *Manager {
	return &Manager{
		personaID: personaID,
		sessionID: sessionID,
		client:    client,
	}
}

// Refresh re-reads the attached context list from the server
func (m *Manager) Refresh(ctx context.Context) error {
	items, err := m.client.ListContext(ctx, m.personaID, m.sessionID)
	if err != nil {
		return fmt.Errorf("failed to refresh context: %w", err)
	}

	m.mu.Lock()
	m.items = items
	m.mu.Unlock()
	return nil
}

// ApplySelection attaches a selection of knowledge references as one
// all-or-nothing bulk operation, then refetches the authoritative list
func (m *Manager) ApplySelection(ctx context.Context, items []api.ContextItem) error {
	if len(items) == 0 {
		return nil
	}
	if err := m.client.ApplyContext(ctx, m.personaID, m.sessionID, items); err != nil {
		return err
	}
	return m.Refresh(ctx)
}

// Remove detaches a single knowledge reference, then refetches
func (m *Manager) Remove(ctx context.Context, itemID string) error {
	if err := m.client.RemoveContext(ctx, m.personaID, m.sessionID, itemID); err != nil {
		return err
	}
	return m.Refresh(ctx)
}

// Available lists the catalogue of references that can be attached
func (m *Manager) Available(ctx context.Context) ([]api.ContextItem, error) {
	return m.client.AvailableContext(ctx, m.personaID)
}

// Items returns a copy of the last server-confirmed attachment list
func (m *Manager) Items() []api.ContextItem {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]api.ContextItem, len(m.items))
	copy(out, m.items)
	return out
}
