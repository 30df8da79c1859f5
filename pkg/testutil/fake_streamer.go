package testutil

import (
	"context"
	"sync"

	"github.com/brandloom/personachat/pkg/stream"
)

// Step drives one callback on a FakeStreamer run
type Step func(cb stream.Callbacks)

// Token emits a fragment
func Token(fragment string) Step {
	return func(cb stream.Callbacks) {
		if cb.OnToken != nil {
			cb.OnToken(fragment)
		}
	}
}

// Resolve emits the identity-resolution event
func Resolve(meta stream.Meta) Step {
	return func(cb stream.Callbacks) {
		if cb.OnMeta != nil {
			cb.OnMeta(meta)
		}
	}
}

// Finish emits the terminal success event
func Finish(fullText string, usage stream.Usage) Step {
	return func(cb stream.Callbacks) {
		if cb.OnDone != nil {
			cb.OnDone(fullText, usage)
		}
	}
}

// Fail emits the terminal error event
func Fail(message string) Step {
	return func(cb stream.Callbacks) {
		if cb.OnError != nil {
			cb.OnError(message)
		}
	}
}

// FakeStreamer replays a scripted step sequence instead of talking HTTP.
// When Gate is set, the streamer blocks on it before each step, letting a test
// interleave cancellation with delivery.
type FakeStreamer struct {
	mu    sync.Mutex
	steps []Step
	calls int

	// Gate, when non-nil, is received from before every step
	Gate chan struct{}

	// Synchronous, when true, runs the script on the caller's goroutine so the
	// test observes all effects by the time Stream returns
	Synchronous bool
}

// NewFakeStreamer creates a streamer that replays the given steps per turn
func NewFakeStreamer(steps ...Step) *FakeStreamer {
	return &FakeStreamer{steps: steps}
}

// SetScript replaces the step sequence for subsequent turns
func (f *FakeStreamer) SetScript(steps ...Step) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.steps = steps
}

// Calls returns how many turns were streamed
func (f *FakeStreamer) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// Stream implements stream.Streamer
func (f *FakeStreamer) Stream(ctx context.Context, personaID, sessionID, text string, cb stream.Callbacks) {
	f.mu.Lock()
	f.calls++
	steps := make([]Step, len(f.steps))
	copy(steps, f.steps)
	synchronous := f.Synchronous
	f.mu.Unlock()

	run := func() {
		for _, step := range steps {
			if f.Gate != nil {
				select {
				case <-f.Gate:
				case <-ctx.Done():
					return
				}
			}
			step(cb)
		}
	}

	if synchronous {
		run()
		return
	}
	go run()
}

var _ stream.Streamer = (*FakeStreamer)(nil)
