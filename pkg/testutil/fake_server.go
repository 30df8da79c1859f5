// Package testutil provides fakes for exercising the chat pipeline without a
// real persona service.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/brandloom/personachat/pkg/api"
)

// Event is one pre-rendered line of the chat response stream
type Event string

// TokenEvent renders a token fragment event
func TokenEvent(fragment string) Event {
	b, _ := json.Marshal(map[string]string{"token": fragment})
	return Event("data: " + string(b))
}

// MetaEvent renders the identity-resolution event
func MetaEvent(messageID, userMessageID, sessionID string) Event {
	b, _ := json.Marshal(map[string]any{
		"meta":          true,
		"messageId":     messageID,
		"userMessageId": userMessageID,
		"sessionId":     sessionID,
	})
	return Event("data: " + string(b))
}

// DoneEvent renders the terminal success event
func DoneEvent(fullText string, promptTokens, completionTokens int) Event {
	b, _ := json.Marshal(map[string]any{
		"done":     true,
		"fullText": fullText,
		"usage": map[string]int{
			"promptTokens":     promptTokens,
			"completionTokens": completionTokens,
		},
	})
	return Event("data: " + string(b))
}

// ErrorEvent renders a mid-stream protocol error
func ErrorEvent(message string) Event {
	b, _ := json.Marshal(map[string]string{"error": message})
	return Event("data: " + string(b))
}

// RawLine passes a line through verbatim, for malformed-input tests
func RawLine(line string) Event {
	return Event(line)
}

// FakePersonaServer is an httptest-backed persona service scripted per test.
// The zero value is not usable; construct with NewFakePersonaServer.
type FakePersonaServer struct {
	Server *httptest.Server

	mu sync.Mutex

	sessionID string
	bootstrap []api.BootstrapMessage
	script    []Event

	chatStatus int
	chatBody   string

	insights      []api.Insight
	attached      []api.ContextItem
	available     []api.ContextItem
	insightStatus int

	chatCalls          int
	createInsightCalls int
}

// NewFakePersonaServer starts a fake persona service with a generated session id
func NewFakePersonaServer() *FakePersonaServer {
	f := &FakePersonaServer{
		sessionID:     "sess-" + uuid.New().String(),
		chatStatus:    http.StatusOK,
		insightStatus: http.StatusOK,
	}
	f.Server = httptest.NewServer(http.HandlerFunc(f.handle))
	return f
}

// Close shuts the server down
func (f *FakePersonaServer) Close() {
	f.Server.Close()
}

// URL returns the server base URL
func (f *FakePersonaServer) URL() string {
	return f.Server.URL
}

// SessionID returns the id handed out by the bootstrap endpoint
func (f *FakePersonaServer) SessionID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessionID
}

// ScriptStream sets the event lines emitted by the next chat turns
func (f *FakePersonaServer) ScriptStream(events ...Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.script = events
}

// FailChat makes the chat endpoint answer with an HTTP error instead of a stream
func (f *FakePersonaServer) FailChat(status int, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chatStatus = status
	f.chatBody = body
}

// FailCreateInsight makes insight creation answer with an HTTP error
func (f *FakePersonaServer) FailCreateInsight(status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.insightStatus = status
}

// SetBootstrapMessages seeds the history returned on session open
func (f *FakePersonaServer) SetBootstrapMessages(messages []api.BootstrapMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bootstrap = messages
}

// SetAvailableContext seeds the attachable context catalogue
func (f *FakePersonaServer) SetAvailableContext(items []api.ContextItem) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.available = items
}

// ChatCalls returns how many streaming turns were requested
func (f *FakePersonaServer) ChatCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.chatCalls
}

// CreateInsightCalls returns how many insight creations were requested
func (f *FakePersonaServer) CreateInsightCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.createInsightCalls
}

func (f *FakePersonaServer) handle(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	// Expected shapes:
	//   api personas {id} chat
	//   api personas {id} chat {sessionID} insights
	//   api personas {id} chat {sessionID} context
	//   api personas {id} chat-available
	if len(parts) < 4 || parts[0] != "api" || parts[1] != "personas" {
		http.NotFound(w, r)
		return
	}

	switch {
	case len(parts) == 4 && parts[3] == "chat":
		f.handleChat(w, r)
	case len(parts) == 4 && parts[3] == "chat-available":
		f.respondJSON(w, map[string]any{"items": f.snapshotAvailable()})
	case len(parts) == 6 && parts[5] == "insights":
		f.handleInsights(w, r)
	case len(parts) == 6 && parts[5] == "context":
		f.handleContext(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (f *FakePersonaServer) handleChat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Message   string `json:"message"`
		SessionID string `json:"sessionId"`
		Mode      string `json:"mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"bad request"}`, http.StatusBadRequest)
		return
	}

	// Bootstrap: mode without a session id, answered as a single document
	if req.SessionID == "" && req.Mode != "" {
		f.mu.Lock()
		resp := api.SessionBootstrap{SessionID: f.sessionID, Messages: f.bootstrap}
		f.mu.Unlock()
		f.respondJSON(w, resp)
		return
	}

	f.mu.Lock()
	f.chatCalls++
	status := f.chatStatus
	body := f.chatBody
	script := make([]Event, len(f.script))
	copy(script, f.script)
	f.mu.Unlock()

	if status != http.StatusOK {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		fmt.Fprint(w, body)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	flusher, _ := w.(http.Flusher)
	for _, ev := range script {
		fmt.Fprintln(w, string(ev))
		if flusher != nil {
			flusher.Flush()
		}
	}
}

func (f *FakePersonaServer) handleInsights(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		f.mu.Lock()
		list := make([]api.Insight, len(f.insights))
		copy(list, f.insights)
		f.mu.Unlock()
		f.respondJSON(w, map[string]any{"insights": list})

	case http.MethodPost:
		var req struct {
			MessageID string `json:"messageId"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":"bad request"}`, http.StatusBadRequest)
			return
		}

		f.mu.Lock()
		f.createInsightCalls++
		status := f.insightStatus
		f.mu.Unlock()

		if status != http.StatusOK {
			http.Error(w, `{"error":"extraction failed"}`, status)
			return
		}

		insight := api.Insight{
			ID:        "ins-" + uuid.New().String(),
			Type:      "observation",
			Title:     "Generated insight",
			Content:   "Derived from message " + req.MessageID,
			MessageID: req.MessageID,
		}
		f.mu.Lock()
		f.insights = append(f.insights, insight)
		f.mu.Unlock()
		f.respondJSON(w, insight)

	case http.MethodDelete:
		id := r.URL.Query().Get("insightId")
		f.mu.Lock()
		kept := f.insights[:0]
		for _, in := range f.insights {
			if in.ID != id {
				kept = append(kept, in)
			}
		}
		f.insights = kept
		f.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)

	default:
		http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
	}
}

func (f *FakePersonaServer) handleContext(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		f.mu.Lock()
		items := make([]api.ContextItem, len(f.attached))
		copy(items, f.attached)
		f.mu.Unlock()
		f.respondJSON(w, map[string]any{"items": items})

	case http.MethodPost:
		var req struct {
			Items []api.ContextItem `json:"items"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":"bad request"}`, http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.attached = append(f.attached, req.Items...)
		f.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)

	case http.MethodDelete:
		id := r.URL.Query().Get("itemId")
		f.mu.Lock()
		kept := f.attached[:0]
		for _, item := range f.attached {
			if item.ID != id {
				kept = append(kept, item)
			}
		}
		f.attached = kept
		f.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)

	default:
		http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
	}
}

func (f *FakePersonaServer) snapshotAvailable() []api.ContextItem {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := make([]api.ContextItem, len(f.available))
	copy(items, f.available)
	return items
}

func (f *FakePersonaServer) respondJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":"encode failed"}`, http.StatusInternalServerError)
	}
}
