package chat

import (
	"context"
	"fmt"
	"sync"

	"github.com/brandloom/personachat/pkg/api"
	"github.com/brandloom/personachat/pkg/logger"
	"github.com/brandloom/personachat/pkg/stream"
)

// State is the lifecycle state of a chat session
type State int

const (
	StateUninitialized State = iota
	StateStarting
	StateReady
	StateStreaming
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateStreaming:
		return "streaming"
	default:
		return "unknown"
	}
}

// SessionStarter bootstraps a conversation session server-side
type SessionStarter interface {
	StartSession(ctx context.Context, personaID string) (api.SessionBootstrap, error)
}

// TokenCallback is invoked for each streamed fragment as it is applied,
// letting a UI render incrementally
type TokenCallback func(fragment string)

// TurnResult reports how one turn ended
type TurnResult struct {
	// Message is the final assistant message on success
	Message Message

	// Err is the turn's transport or protocol error, nil on success or stop
	Err error

	// Stopped is true when the turn was soft-cancelled by Stop
	Stopped bool
}

// turn tracks one in-flight send so its result resolves exactly once no
// matter which of done/error/stop fires first
type turn struct {
	ch     chan TurnResult
	once   sync.Once
	cancel context.CancelFunc
}

func (t *turn) complete(res TurnResult) {
	t.once.Do(func() {
		t.ch <- res
		close(t.ch)
	})
}

// Session owns the lifecycle of one persona conversation: it opens the
// server-side session once per chat-open, serializes turns, and drives stream
// events into its Thread.
type Session struct {
	mu sync.Mutex

	personaID string
	sessionID string
	state     State

	thread   *Thread
	starter  SessionStarter
	streamer stream.Streamer

	current *turn
	onToken TokenCallback
}

// NewSession creates a session for one persona. Nothing touches the network
// until Open.
func NewSession(personaID string, starter SessionStarter, streamer stream.Streamer) *Session {
	return &Session{
		personaID: personaID,
		thread:    NewThread(),
		starter:   starter,
		streamer:  streamer,
	}
}

// SetTokenCallback registers a callback invoked for each applied fragment
func (s *Session) SetTokenCallback(cb TokenCallback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onToken = cb
}

// Open bootstraps the server-side session. It is idempotent: calling it on an
// already-open session is a no-op, so re-renders of the same open chat never
// re-trigger it. A bootstrap failure leaves the session uninitialized and is a
// startup error, distinct from chat errors.
func (s *Session) Open(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateUninitialized {
		s.mu.Unlock()
		return nil
	}
	s.state = StateStarting
	s.mu.Unlock()

	bootstrap, err := s.starter.StartSession(ctx, s.personaID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.state = StateUninitialized
		return fmt.Errorf("session startup failed: %w", err)
	}

	s.sessionID = bootstrap.SessionID
	s.thread.Seed(bootstrapMessages(bootstrap.Messages))
	s.state = StateReady
	logger.Info("session %s opened for persona %s (%d prior messages)",
		s.sessionID, s.personaID, len(bootstrap.Messages))
	return nil
}

// Send submits one user turn. The returned channel resolves exactly once with
// the turn's outcome. A send while another turn is streaming is rejected, not
// queued; a send at the message ceiling is rejected before any network call.
func (s *Session) Send(ctx context.Context, text string) (<-chan TurnResult, error) {
	s.mu.Lock()

	switch s.state {
	case StateUninitialized, StateStarting:
		s.mu.Unlock()
		return nil, fmt.Errorf("session not ready (state %s)", s.state)
	case StateStreaming:
		s.mu.Unlock()
		return nil, ErrStreamActive
	}

	_, _, turnID, err := s.thread.AppendTurn(text)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}

	streamCtx, cancel := context.WithCancel(ctx)
	t := &turn{
		ch:     make(chan TurnResult, 1),
		cancel: cancel,
	}
	s.current = t
	s.state = StateStreaming
	sessionID := s.sessionID

	// The lock is released before the stream starts so callbacks, which take
	// it again, may fire on any schedule, including synchronously.
	s.mu.Unlock()

	s.streamer.Stream(streamCtx, s.personaID, sessionID, text, stream.Callbacks{
		OnToken: func(fragment string) {
			if s.thread.ApplyToken(turnID, fragment) {
				s.notifyToken(fragment)
			}
		},
		OnMeta: func(meta stream.Meta) {
			if meta.SessionID != "" && meta.SessionID != sessionID {
				logger.Warn("session %s: meta names session %s", sessionID, meta.SessionID)
			}
			s.thread.ApplyMeta(turnID, meta)
		},
		OnDone: func(fullText string, usage stream.Usage) {
			s.thread.ApplyDone(turnID, fullText, usage)
			s.finishTurn(t, func() TurnResult {
				msg, _ := lastAssistant(s.thread.Messages())
				return TurnResult{Message: msg}
			})
		},
		OnError: func(message string) {
			s.thread.ApplyError(turnID, message)
			s.finishTurn(t, func() TurnResult {
				return TurnResult{Err: fmt.Errorf("%s", message)}
			})
		},
	})

	return t.ch, nil
}

// Retry resends the last user text after a failed turn
func (s *Session) Retry(ctx context.Context) (<-chan TurnResult, error) {
	text := s.thread.LastUserText()
	if text == "" {
		return nil, fmt.Errorf("nothing to retry")
	}
	return s.Send(ctx, text)
}

// Stop soft-cancels the in-flight turn. The UI is marked non-streaming
// immediately; the underlying read keeps running but the thread drops its
// callbacks. The request context is additionally cancelled so an
// abort-capable transport can stop reading early.
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateStreaming {
		return
	}
	s.thread.Stop()
	s.state = StateReady
	if s.current != nil {
		s.current.cancel()
		s.current.complete(TurnResult{Stopped: true})
		s.current = nil
	}
}

// Reset abandons the conversation: the transcript is cleared and the session
// returns to uninitialized so the next Open starts fresh.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateStreaming {
		s.thread.Stop()
		if s.current != nil {
			s.current.cancel()
			s.current.complete(TurnResult{Stopped: true})
			s.current = nil
		}
	}
	s.thread.Clear()
	s.sessionID = ""
	s.state = StateUninitialized
	logger.Info("session reset for persona %s", s.personaID)
}

// finishTurn resolves a turn unless Stop already did. The session lock is
// taken because stream callbacks arrive on the transport goroutine.
func (s *Session) finishTurn(t *turn, result func() TurnResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == t {
		s.state = StateReady
		s.current = nil
	}
	t.complete(result())
}

func (s *Session) notifyToken(fragment string) {
	s.mu.Lock()
	cb := s.onToken
	s.mu.Unlock()
	if cb != nil {
		cb(fragment)
	}
}

// SessionID returns the server-issued session id, empty before Open succeeds
func (s *Session) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// PersonaID returns the persona this session talks to
func (s *Session) PersonaID() string {
	return s.personaID
}

// State returns the current lifecycle state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Thread returns the session's message thread
func (s *Session) Thread() *Thread {
	return s.thread
}

func bootstrapMessages(in []api.BootstrapMessage) []Message {
	out := make([]Message, 0, len(in))
	for _, m := range in {
		out = append(out, Message{
			ID:        m.ID,
			Role:      m.Role,
			Content:   m.Content,
			CreatedAt: m.CreatedAt,
		})
	}
	return out
}

func lastAssistant(messages []Message) (Message, bool) {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].IsAssistant() {
			return messages[i], true
		}
	}
	return Message{}, false
}
