package chat

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/brandloom/personachat/pkg/stream"
)

// Message is one entry in the ordered chat transcript. The ID starts out as a
// client-generated temporary identifier and is rewritten exactly once to the
// server-issued id when the turn's meta event arrives.
type Message struct {
	ID        string        `json:"id"`
	Role      string        `json:"role"`
	Content   string        `json:"content"`
	CreatedAt time.Time     `json:"createdAt"`
	Usage     *stream.Usage `json:"usage,omitempty"`
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Temporary id prefixes. A message carrying one of these has not yet been
// acknowledged by the server.
const (
	tempUserPrefix  = "temp-user-"
	streamingPrefix = "streaming-"
)

// NewUserMessage creates an optimistic user message with a temporary id.
// Ids are uuid-suffixed: turns minted within the same instant must still get
// distinct ids, because id lookups drive the temp-to-server rewrite.
func NewUserMessage(content string) Message {
	return Message{
		ID:        tempUserPrefix + uuid.NewString(),
		Role:      RoleUser,
		Content:   strings.TrimSpace(content),
		CreatedAt: time.Now(),
	}
}

// NewAssistantPlaceholder creates the empty assistant message that streamed
// fragments accumulate into
func NewAssistantPlaceholder() Message {
	return Message{
		ID:        streamingPrefix + uuid.NewString(),
		Role:      RoleAssistant,
		Content:   "",
		CreatedAt: time.Now(),
	}
}

// IsTemporaryID reports whether id is a client-generated identifier that has
// not been resolved to a server id
func IsTemporaryID(id string) bool {
	return strings.HasPrefix(id, tempUserPrefix) || strings.HasPrefix(id, streamingPrefix)
}

// IsTemporary reports whether the message still carries a client-generated id
func (m Message) IsTemporary() bool {
	return IsTemporaryID(m.ID)
}

func (m Message) IsUser() bool {
	return m.Role == RoleUser
}

func (m Message) IsAssistant() bool {
	return m.Role == RoleAssistant
}

func (m Message) IsEmpty() bool {
	return strings.TrimSpace(m.Content) == ""
}
