// Package insights drives asynchronous insight extraction for a chat session.
// Extraction is user-initiated and infrequent, so the coordinator serializes
// to one in-flight request per session rather than managing a queue.
package insights

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/brandloom/personachat/pkg/api"
	"github.com/brandloom/personachat/pkg/chat"
	"github.com/brandloom/personachat/pkg/logger"
)

var (
	// ErrExtractionInFlight is returned when another extraction is already running
	// for this session
	ErrExtractionInFlight = errors.New("an insight extraction is already in progress")

	// ErrInsightExists is returned when the target message already has an insight
	ErrInsightExists = errors.New("an insight already exists for this message")

	// ErrUnresolvedMessage is returned when the message id is still a temporary
	// client id; extraction requires a server-resolved identity
	ErrUnresolvedMessage = errors.New("message has not been resolved to a server id")
)

// API is the slice of the REST surface the coordinator needs
type API interface {
	ListInsights(ctx context.Context, personaID, sessionID string) ([]api.Insight, error)
	CreateInsight(ctx context.Context, personaID, sessionID, messageID string) (api.Insight, error)
	DeleteInsight(ctx context.Context, personaID, sessionID, insightID string) error
}

// Coordinator owns the insight collection for one session. The in-flight guard
// is scoped to the coordinator value, so sessions for different personas never
// serialize against each other.
type Coordinator struct {
	mu        sync.Mutex
	personaID string
	sessionID string
	client    API

	inFlight string // message id of the running extraction, "" when idle
	insights []api.Insight
}

// NewCoordinator creates a coordinator for one session
func NewCoordinator(personaID, sessionID string, client API) *Coordinator {
	return &Coordinator{
		personaID: personaID,
		sessionID: sessionID,
		client:    client,
	}
}

// Refresh re-reads the authoritative insight list from the server
func (c *Coordinator) Refresh(ctx context.Context) error {
	list, err := c.client.ListInsights(ctx, c.personaID, c.sessionID)
	if err != nil {
		return fmt.Errorf("failed to refresh insights: %w", err)
	}

	c.mu.Lock()
	c.insights = list
	c.mu.Unlock()
	return nil
}

// Generate derives an insight from one assistant message. It rejects
// synchronously, before any request is issued, when another extraction is in
// flight, when the message already has an insight, or when the message id is
// still temporary. On success the insight list is refetched so the new insight
// becomes visible; on failure no retry is attempted and the message remains
// eligible.
func (c *Coordinator) Generate(ctx context.Context, messageID string) (api.Insight, error) {
	c.mu.Lock()
	if c.inFlight != "" {
		c.mu.Unlock()
		return api.Insight{}, ErrExtractionInFlight
	}
	if c.hasInsightLocked(messageID) {
		c.mu.Unlock()
		return api.Insight{}, ErrInsightExists
	}
	if chat.IsTemporaryID(messageID) {
		c.mu.Unlock()
		return api.Insight{}, ErrUnresolvedMessage
	}
	c.inFlight = messageID
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.inFlight = ""
		c.mu.Unlock()
	}()

	insight, err := c.client.CreateInsight(ctx, c.personaID, c.sessionID, messageID)
	if err != nil {
		logger.Warn("insight extraction failed for message %s: %v", messageID, err)
		return api.Insight{}, err
	}

	if err := c.Refresh(ctx); err != nil {
		// The insight was created; a stale local list is tolerable
		logger.Warn("insight list refresh failed after creation: %v", err)
		c.mu.Lock()
		c.insights = append(c.insights, insight)
		c.mu.Unlock()
	}

	return insight, nil
}

// Delete removes an insight and refetches the authoritative list
func (c *Coordinator) Delete(ctx context.Context, insightID string) error {
	if err := c.client.DeleteInsight(ctx, c.personaID, c.sessionID, insightID); err != nil {
		return err
	}
	return c.Refresh(ctx)
}

// HasInsight reports whether an insight already exists for the message
func (c *Coordinator) HasInsight(messageID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hasInsightLocked(messageID)
}

// InFlight reports whether an extraction is currently running
func (c *Coordinator) InFlight() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inFlight != ""
}

// Insights returns a copy of the last fetched insight list
func (c *Coordinator) Insights() []api.Insight {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]api.Insight, len(c.insights))
	copy(out, c.insights)
	return out
}

func (c *Coordinator) hasInsightLocked(messageID string) bool {
	for _, in := range c.insights {
		if in.MessageID == messageID {
			return true
		}
	}
	return false
}
