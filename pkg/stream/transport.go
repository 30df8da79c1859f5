package stream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/brandloom/personachat/pkg/logger"
)

// eventPrefix marks meaningful lines in the chat response stream. Anything not
// carrying the prefix is ignored.
const eventPrefix = "data: "

// Meta carries the server-issued identity for one completed turn: which
// optimistic client ids map to which persisted message ids.
type Meta struct {
	MessageID     string
	UserMessageID string
	SessionID     string
}

// Usage reports token counts for a completed assistant response.
type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
}

// Callbacks receive the decoded stream events for one turn. OnToken fires zero
// or more times in arrival order; OnMeta at most once; OnDone exactly once on
// success; OnError at most once and never together with OnDone. Nil callbacks
// are skipped.
type Callbacks struct {
	OnToken func(fragment string)
	OnMeta  func(meta Meta)
	OnDone  func(fullText string, usage Usage)
	OnError func(message string)
}

func (cb Callbacks) token(fragment string) {
	if cb.OnToken != nil {
		cb.OnToken(fragment)
	}
}

func (cb Callbacks) meta(m Meta) {
	if cb.OnMeta != nil {
		cb.OnMeta(m)
	}
}

func (cb Callbacks) done(fullText string, usage Usage) {
	if cb.OnDone != nil {
		cb.OnDone(fullText, usage)
	}
}

func (cb Callbacks) fail(message string) {
	if cb.OnError != nil {
		cb.OnError(message)
	}
}

// Streamer issues one streaming chat turn. Implementations report progress only
// through the callbacks, never synchronously.
type Streamer interface {
	Stream(ctx context.Context, personaID, sessionID, text string, cb Callbacks)
}

// Transport is the HTTP implementation of Streamer. One POST per turn; the
// response body is a newline-delimited event stream.
type Transport struct {
	baseURL    string
	httpClient *http.Client
}

// NewTransport creates a streaming transport for the given server.
// No client-side timeout is applied to the streaming request: a turn is open
// until the server finishes or the connection drops.
func NewTransport(baseURL string) *Transport {
	return &Transport{
		baseURL:    baseURL,
		httpClient: &http.Client{},
	}
}

// chatRequest is the wire body of a streaming turn
type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"sessionId"`
}

// payload is the union of every recognized event shape, discriminated by which
// fields are present
type payload struct {
	Error string `json:"error,omitempty"`

	Meta          bool   `json:"meta,omitempty"`
	MessageID     string `json:"messageId,omitempty"`
	UserMessageID string `json:"userMessageId,omitempty"`
	SessionID     string `json:"sessionId,omitempty"`

	Done     bool   `json:"done,omitempty"`
	FullText string `json:"fullText,omitempty"`
	Usage    Usage  `json:"usage,omitempty"`

	// Pointer so an empty token fragment is still distinguishable from absence
	Token *string `json:"token,omitempty"`
}

// Stream issues the turn request and decodes the response stream into cb.
// It returns immediately; all outcomes, including request construction
// failures, arrive through the callbacks.
func (t *Transport) Stream(ctx context.Context, personaID, sessionID, text string, cb Callbacks) {
	go t.run(ctx, personaID, sessionID, text, cb)
}

func (t *Transport) run(ctx context.Context, personaID, sessionID, text string, cb Callbacks) {
	turnID := uuid.New().String()
	logger.Debug("stream %s: starting turn for persona %s session %s", turnID, personaID, sessionID)

	reqBody, err := json.Marshal(chatRequest{Message: text, SessionID: sessionID})
	if err != nil {
		cb.fail(fmt.Sprintf("failed to marshal request: %v", err))
		return
	}

	endpoint := fmt.Sprintf("%s/api/personas/%s/chat", t.baseURL, url.PathEscape(personaID))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewBuffer(reqBody))
	if err != nil {
		cb.fail(fmt.Sprintf("failed to create request: %v", err))
		return
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := t.httpClient.Do(httpReq)
	if err != nil {
		cb.fail(fmt.Sprintf("request failed: %v", err))
		return
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		message := extractErrorMessage(resp.Body)
		resp.Body.Close()
		cb.fail(fmt.Sprintf("request failed with status %d: %s", resp.StatusCode, message))
		return
	}

	readStream(resp.Body, cb, turnID)
}

// readStream decodes the event stream line by line and dispatches to cb.
// Lines split across reads are carried by the scanner until the newline
// arrives; a malformed line never aborts the stream.
func readStream(body io.ReadCloser, cb Callbacks, turnID string) {
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	metaSeen := false

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, eventPrefix) {
			continue
		}

		var ev payload
		if err := json.Unmarshal([]byte(line[len(eventPrefix):]), &ev); err != nil {
			// A single corrupt line is not fatal
			logger.Debug("stream %s: dropping malformed line: %v", turnID, err)
			continue
		}

		switch {
		case ev.Error != "":
			// Fatal for this turn; nothing after it is meaningful
			logger.Debug("stream %s: server error: %s", turnID, ev.Error)
			cb.fail(ev.Error)
			return

		case ev.Meta:
			if metaSeen {
				// Protocol violation; first meta wins
				logger.Warn("stream %s: duplicate meta event ignored", turnID)
				continue
			}
			metaSeen = true
			cb.meta(Meta{
				MessageID:     ev.MessageID,
				UserMessageID: ev.UserMessageID,
				SessionID:     ev.SessionID,
			})

		case ev.Done:
			logger.Debug("stream %s: done (%d prompt / %d completion tokens)",
				turnID, ev.Usage.PromptTokens, ev.Usage.CompletionTokens)
			cb.done(ev.FullText, ev.Usage)
			return

		case ev.Token != nil:
			cb.token(*ev.Token)

		default:
			// Valid JSON but not a recognized shape; ignore
			logger.Debug("stream %s: dropping unrecognized event", turnID)
		}
	}

	if err := scanner.Err(); err != nil {
		cb.fail(fmt.Sprintf("stream reading error: %v", err))
		return
	}

	// EOF before a terminal event means the turn never completed
	cb.fail("stream ended before completion")
}

// extractErrorMessage pulls a message out of a non-2xx response body,
// preferring the JSON {"error": "..."} shape
func extractErrorMessage(body io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(body, 4096))
	if err != nil || len(raw) == 0 {
		return "no error detail"
	}

	var errResp struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &errResp) == nil && errResp.Error != "" {
		return errResp.Error
	}
	return strings.TrimSpace(string(raw))
}

var _ Streamer = (*Transport)(nil)
