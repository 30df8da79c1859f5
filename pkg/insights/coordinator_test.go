package insights

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brandloom/personachat/pkg/api"
)

// stubAPI is an in-memory insight backend
type stubAPI struct {
	mu          sync.Mutex
	insights    []api.Insight
	createCalls int
	listCalls   int
	createErr   error

	// block, when non-nil, is received from inside CreateInsight so tests can
	// hold an extraction in flight
	block chan struct{}
}

func (s *stubAPI) ListInsights(ctx context.Context, personaID, sessionID string) ([]api.Insight, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listCalls++
	out := make([]api.Insight, len(s.insights))
	copy(out, s.insights)
	return out, nil
}

func (s *stubAPI) CreateInsight(ctx context.Context, personaID, sessionID, messageID string) (api.Insight, error) {
	s.mu.Lock()
	s.createCalls++
	err := s.createErr
	block := s.block
	s.mu.Unlock()

	if block != nil {
		<-block
	}
	if err != nil {
		return api.Insight{}, err
	}

	insight := api.Insight{
		ID:        fmt.Sprintf("ins-%s", messageID),
		Type:      "observation",
		Title:     "insight",
		MessageID: messageID,
	}
	s.mu.Lock()
	s.insights = append(s.insights, insight)
	s.mu.Unlock()
	return insight, nil
}

func (s *stubAPI) DeleteInsight(ctx context.Context, personaID, sessionID, insightID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.insights[:0]
	for _, in := range s.insights {
		if in.ID != insightID {
			kept = append(kept, in)
		}
	}
	s.insights = kept
	return nil
}

func (s *stubAPI) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createCalls
}

func TestCoordinatorGenerate(t *testing.T) {
	ctx := context.Background()

	t.Run("creates one insight and refetches", func(t *testing.T) {
		backend := &stubAPI{}
		c := NewCoordinator("aria", "sess-1", backend)

		insight, err := c.Generate(ctx, "m1")
		require.NoError(t, err)
		assert.Equal(t, "m1", insight.MessageID)
		assert.True(t, c.HasInsight("m1"))
		assert.False(t, c.InFlight())
	})

	t.Run("second generation for the same message is rejected without a request", func(t *testing.T) {
		backend := &stubAPI{}
		c := NewCoordinator("aria", "sess-1", backend)

		_, err := c.Generate(ctx, "m1")
		require.NoError(t, err)
		callsAfterFirst := backend.calls()

		_, err = c.Generate(ctx, "m1")
		assert.ErrorIs(t, err, ErrInsightExists)
		assert.Equal(t, callsAfterFirst, backend.calls(), "no network call for the rejected attempt")

		// Exactly one insight exists for the message
		count := 0
		for _, in := range c.Insights() {
			if in.MessageID == "m1" {
				count++
			}
		}
		assert.Equal(t, 1, count)
	})

	t.Run("rejects a temporary message id", func(t *testing.T) {
		backend := &stubAPI{}
		c := NewCoordinator("aria", "sess-1", backend)

		_, err := c.Generate(ctx, "streaming-1712000000")
		assert.ErrorIs(t, err, ErrUnresolvedMessage)

		_, err = c.Generate(ctx, "temp-user-1712000000")
		assert.ErrorIs(t, err, ErrUnresolvedMessage)

		assert.Zero(t, backend.calls())
	})

	t.Run("rejects while another extraction is in flight", func(t *testing.T) {
		backend := &stubAPI{block: make(chan struct{})}
		c := NewCoordinator("aria", "sess-1", backend)

		firstDone := make(chan error, 1)
		go func() {
			_, err := c.Generate(ctx, "m1")
			firstDone <- err
		}()

		require.Eventually(t, c.InFlight, time.Second, time.Millisecond, "first extraction should be holding the guard")

		_, err := c.Generate(ctx, "m2")
		assert.ErrorIs(t, err, ErrExtractionInFlight)
		assert.Equal(t, 1, backend.calls())

		close(backend.block)
		require.NoError(t, <-firstDone)

		// The guard clears once the first extraction resolves
		_, err = c.Generate(ctx, "m2")
		assert.NoError(t, err)
	})

	t.Run("failure leaves the message eligible for a manual retry", func(t *testing.T) {
		backend := &stubAPI{createErr: fmt.Errorf("extraction backend down")}
		c := NewCoordinator("aria", "sess-1", backend)

		_, err := c.Generate(ctx, "m1")
		require.Error(t, err)
		assert.False(t, c.HasInsight("m1"))
		assert.False(t, c.InFlight())

		backend.mu.Lock()
		backend.createErr = nil
		backend.mu.Unlock()

		_, err = c.Generate(ctx, "m1")
		assert.NoError(t, err)
	})
}

func TestCoordinatorRefresh(t *testing.T) {
	backend := &stubAPI{insights: []api.Insight{{ID: "ins-1", MessageID: "m1"}}}
	c := NewCoordinator("aria", "sess-1", backend)

	assert.False(t, c.HasInsight("m1"), "nothing known before the first fetch")
	require.NoError(t, c.Refresh(context.Background()))
	assert.True(t, c.HasInsight("m1"))
}

func TestCoordinatorDelete(t *testing.T) {
	backend := &stubAPI{}
	c := NewCoordinator("aria", "sess-1", backend)

	insight, err := c.Generate(context.Background(), "m1")
	require.NoError(t, err)

	require.NoError(t, c.Delete(context.Background(), insight.ID))
	assert.False(t, c.HasInsight("m1"))
}

func TestCoordinatorGuardIsPerSession(t *testing.T) {
	backend := &stubAPI{block: make(chan struct{})}
	blocked := NewCoordinator("aria", "sess-1", backend)

	done := make(chan struct{})
	go func() {
		blocked.Generate(context.Background(), "m1")
		close(done)
	}()
	require.Eventually(t, blocked.InFlight, time.Second, time.Millisecond)

	// A coordinator for a different session is not serialized against sess-1
	other := NewCoordinator("zeke", "sess-2", &stubAPI{})
	_, err := other.Generate(context.Background(), "m9")
	assert.NoError(t, err)

	close(backend.block)
	<-done
}
