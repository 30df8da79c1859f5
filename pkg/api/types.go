package api

import "time"

// SessionBootstrap is the response of a session-open request: the server-issued
// session id plus any messages persisted from an earlier visit.
type SessionBootstrap struct {
	SessionID string             `json:"sessionId"`
	Messages  []BootstrapMessage `json:"messages"`
}

// BootstrapMessage is a previously persisted chat message returned on session open.
type BootstrapMessage struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// Insight is a structured note derived from exactly one assistant message.
type Insight struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Severity  string    `json:"severity,omitempty"`
	MessageID string    `json:"messageId"`
	CreatedAt time.Time `json:"createdAt"`
}

// ContextItem is an external knowledge reference attached to a session.
type ContextItem struct {
	ID         string `json:"id"`
	SourceType string `json:"sourceType"`
	SourceID   string `json:"sourceId"`
	SourceName string `json:"sourceName"`
}
