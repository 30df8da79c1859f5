package chat

import (
	"errors"
	"sync"

	"github.com/brandloom/personachat/pkg/logger"
	"github.com/brandloom/personachat/pkg/stream"
)

// Client-enforced session limits. The server is not consulted; a send at the
// ceiling is rejected before any network call.
const (
	MaxSessionMessages = 50
	NearLimitThreshold = 45
)

var (
	// ErrMessageLimit is returned when the session has reached the message ceiling
	ErrMessageLimit = errors.New("message limit reached for this session")

	// ErrStreamActive is returned when a turn is attempted while another is in flight
	ErrStreamActive = errors.New("a response is already streaming")
)

// Thread owns the ordered message list for one chat session and is its only
// writer. It reconciles optimistic client identity with server identity as
// stream events arrive. All methods are safe for concurrent use; stream
// callbacks funnel through the same lock the UI reads under.
//
// Every turn gets a tag from AppendTurn, and the Apply methods require it: a
// cancelled stream keeps draining on its own goroutine after the next turn has
// started, so its late events must be told apart from the live turn's.
type Thread struct {
	mu       sync.RWMutex
	messages []Message

	// In-flight turn state. turn tags the current turn; assistantID and
	// userID track the current ids of its two messages and follow the meta
	// rewrite.
	turn        uint64
	streaming   bool
	cancelled   bool
	assistantID string
	userID      string

	lastUserText string
	lastError    string
}

// NewThread creates an empty thread
func NewThread() *Thread {
	return &Thread{}
}

// Seed loads previously persisted messages into an empty thread. Used when a
// session bootstrap returns history from an earlier visit.
func (t *Thread) Seed(messages []Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.messages = make([]Message, len(messages))
	copy(t.messages, messages)
}

// AppendTurn atomically appends the optimistic user message and the empty
// assistant placeholder for one turn and returns the turn tag the stream's
// events must carry. It rejects without mutating anything if the message
// ceiling is reached or a stream is already in flight.
func (t *Thread) AppendTurn(userText string) (Message, Message, uint64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.streaming {
		return Message{}, Message{}, 0, ErrStreamActive
	}
	if len(t.messages) >= MaxSessionMessages {
		return Message{}, Message{}, 0, ErrMessageLimit
	}

	user := NewUserMessage(userText)
	placeholder := NewAssistantPlaceholder()
	t.messages = append(t.messages, user, placeholder)

	t.turn++
	t.streaming = true
	t.cancelled = false
	t.assistantID = placeholder.ID
	t.userID = user.ID
	t.lastUserText = user.Content
	t.lastError = ""

	return user, placeholder, t.turn, nil
}

// ApplyToken appends a streamed fragment to the in-flight placeholder and
// reports whether it was applied. Fragments from an earlier turn, or arriving
// after Stop or after the turn finished, are dropped.
func (t *Thread) ApplyToken(turn uint64, fragment string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if turn != t.turn || !t.streaming || t.cancelled {
		return false
	}

	if i := t.indexOf(t.assistantID); i >= 0 {
		t.messages[i].Content += fragment
		return true
	}
	return false
}

// ApplyMeta rewrites the turn's two temporary ids to their server-issued ids
// in place, preserving list order. Applying the same meta twice is a no-op
// because the temporary ids no longer exist after the first application.
func (t *Thread) ApplyMeta(turn uint64, meta stream.Meta) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if turn != t.turn || t.cancelled {
		return
	}

	if i := t.indexOf(t.assistantID); i >= 0 && t.messages[i].IsTemporary() && meta.MessageID != "" {
		t.messages[i].ID = meta.MessageID
		t.assistantID = meta.MessageID
	}
	if i := t.indexOf(t.userID); i >= 0 && t.messages[i].IsTemporary() && meta.UserMessageID != "" {
		t.messages[i].ID = meta.UserMessageID
		t.userID = meta.UserMessageID
	}
}

// ApplyDone freezes the turn: the assistant content is overwritten with the
// authoritative full text (guarding against fragment loss or duplication) and
// usage is attached.
func (t *Thread) ApplyDone(turn uint64, fullText string, usage stream.Usage) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if turn != t.turn || !t.streaming || t.cancelled {
		return
	}

	if i := t.indexOf(t.assistantID); i >= 0 {
		t.messages[i].Content = fullText
		u := usage
		t.messages[i].Usage = &u
	}
	t.streaming = false
}

// ApplyError evicts the assistant placeholder and records the error. The user
// message is kept so the typed text is never lost; LastUserText feeds the
// retry affordance.
func (t *Thread) ApplyError(turn uint64, message string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if turn != t.turn || t.cancelled {
		return
	}

	if i := t.indexOf(t.assistantID); i >= 0 {
		t.messages = append(t.messages[:i], t.messages[i+1:]...)
	}
	t.lastError = message
	t.streaming = false
	logger.Debug("thread: turn failed: %s", message)
}

// Stop soft-cancels the in-flight turn: the thread is immediately marked
// non-streaming and every later stream callback for this turn is dropped.
// The placeholder keeps whatever content had streamed in. Returns false if no
// stream was active.
func (t *Thread) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.streaming {
		return false
	}
	t.cancelled = true
	t.streaming = false
	return true
}

// Messages returns a copy of the ordered transcript
func (t *Thread) Messages() []Message {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Message, len(t.messages))
	copy(out, t.messages)
	return out
}

// Message returns the message with the given id
func (t *Thread) Message(id string) (Message, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if i := t.indexOf(id); i >= 0 {
		return t.messages[i], true
	}
	return Message{}, false
}

// Len returns the number of messages in the thread
func (t *Thread) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.messages)
}

// AtLimit reports whether the session has reached the message ceiling
func (t *Thread) AtLimit() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.messages) >= MaxSessionMessages
}

// NearLimit reports whether the session is close enough to the ceiling to warn
func (t *Thread) NearLimit() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.messages) >= NearLimitThreshold
}

// IsStreaming reports whether a turn is in flight
func (t *Thread) IsStreaming() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.streaming
}

// LastUserText returns the text of the most recent turn's user message
func (t *Thread) LastUserText() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lastUserText
}

// LastError returns the recorded error from the most recent failed turn
func (t *Thread) LastError() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lastError
}

// Clear removes all messages and turn state
func (t *Thread) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.messages = nil
	t.streaming = false
	t.cancelled = false
	t.assistantID = ""
	t.userID = ""
	t.lastUserText = ""
	t.lastError = ""
}

// indexOf locates a message by its current id. Callers hold the lock.
func (t *Thread) indexOf(id string) int {
	if id == "" {
		return -1
	}
	for i := range t.messages {
		if t.messages[i].ID == id {
			return i
		}
	}
	return -1
}
