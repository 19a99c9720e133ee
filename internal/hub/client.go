package hub

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/mbourmaud/conductor/internal/agent"
	"github.com/mbourmaud/conductor/internal/lease"
	"github.com/mbourmaud/conductor/internal/mailbox"
	"github.com/mbourmaud/conductor/internal/orchestrator"
	"github.com/mbourmaud/conductor/internal/workitem"
)

// APIError is a non-2xx hub response.
type APIError struct {
	StatusCode int
	Message    string
	Rollback   string
}

func (e *APIError) Error() string {
	if e.Rollback != "" {
		return fmt.Sprintf("%s (%s)", e.Message, e.Rollback)
	}
	return e.Message
}

// IsNotFound reports whether err is a 404 from the hub.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// Client talks to a running hub.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for the hub at baseURL, e.g.
// "http://localhost:7433".
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// BaseURL returns the hub address.
func (c *Client) BaseURL() string { return c.baseURL }

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("contacting hub at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var er ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&er); err != nil || er.Error == "" {
			er.Error = resp.Status
		}
		return &APIError{StatusCode: resp.StatusCode, Message: er.Error, Rollback: er.Rollback}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// Health checks the hub.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var out HealthResponse
	if err := c.do(ctx, http.MethodGet, "/health", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Status returns the pool and orchestrator status.
func (c *Client) Status(ctx context.Context) (*StatusResponse, error) {
	var out StatusResponse
	if err := c.do(ctx, http.MethodGet, "/status", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SubmitTask queues work for the orchestrator.
func (c *Client) SubmitTask(ctx context.Context, text string) (*orchestrator.Task, error) {
	var out orchestrator.Task
	if err := c.do(ctx, http.MethodPost, "/tasks", TaskRequest{Text: text}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Tasks lists pending, running and recent tasks.
func (c *Client) Tasks(ctx context.Context) ([]orchestrator.Task, error) {
	var out []orchestrator.Task
	if err := c.do(ctx, http.MethodGet, "/tasks", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Conversation returns the orchestrator conversation log.
func (c *Client) Conversation(ctx context.Context) ([]orchestrator.Message, error) {
	var out []orchestrator.Message
	if err := c.do(ctx, http.MethodGet, "/conversation", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CheckConsistency lists orphaned work items, rolling them back if autofix.
func (c *Client) CheckConsistency(ctx context.Context, autofix bool) ([]orchestrator.Orphan, error) {
	var out ConsistencyResponse
	path := "/consistency"
	if autofix {
		path += "?autofix=true"
	}
	if err := c.do(ctx, http.MethodPost, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Orphans, nil
}

// Agents lists live and waiting workers.
func (c *Client) Agents(ctx context.Context) ([]agent.Info, error) {
	var out []agent.Info
	if err := c.do(ctx, http.MethodGet, "/agents", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Agent returns one worker.
func (c *Client) Agent(ctx context.Context, name string) (*agent.Info, error) {
	var out agent.Info
	if err := c.do(ctx, http.MethodGet, "/agents/"+url.PathEscape(name), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Spawn starts a worker.
func (c *Client) Spawn(ctx context.Context, req agent.SpawnRequest) (*agent.Info, error) {
	var out agent.Info
	if err := c.do(ctx, http.MethodPost, "/agents", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Destroy stops a worker and releases its claims.
func (c *Client) Destroy(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodDelete, "/agents/"+url.PathEscape(name), nil, nil)
}

// AgentMessages returns a worker's message log.
func (c *Client) AgentMessages(ctx context.Context, name string) ([]agent.Message, error) {
	var out []agent.Message
	if err := c.do(ctx, http.MethodGet, "/agents/"+url.PathEscape(name)+"/messages", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Prompt sends text to an idle worker. With notify a busy worker gets the
// text as a notification instead.
func (c *Client) Prompt(ctx context.Context, name, text string, notify bool) error {
	return c.do(ctx, http.MethodPost, "/agents/"+url.PathEscape(name)+"/prompt", PromptRequest{Text: text, Notify: notify}, nil)
}

// Pause pauses a worker.
func (c *Client) Pause(ctx context.Context, name string) (*agent.Info, error) {
	var out agent.Info
	if err := c.do(ctx, http.MethodPost, "/agents/"+url.PathEscape(name)+"/pause", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Resume resumes a paused worker.
func (c *Client) Resume(ctx context.Context, name string) (*agent.Info, error) {
	var out agent.Info
	if err := c.do(ctx, http.MethodPost, "/agents/"+url.PathEscape(name)+"/resume", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Complete marks a worker complete.
func (c *Client) Complete(ctx context.Context, name, summary string) (*agent.Info, error) {
	var out agent.Info
	if err := c.do(ctx, http.MethodPost, "/agents/"+url.PathEscape(name)+"/complete", CompleteRequest{Summary: summary}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// MailQuery filters a mail listing.
type MailQuery struct {
	Participant     string
	UnreadOnly      bool
	IncludeArchived bool
	Limit           int
}

// Mail lists message headers for a participant.
func (c *Client) Mail(ctx context.Context, q MailQuery) ([]mailbox.Header, error) {
	v := url.Values{}
	if q.Participant != "" {
		v.Set("participant", q.Participant)
	}
	if q.UnreadOnly {
		v.Set("unread_only", "true")
	}
	if q.IncludeArchived {
		v.Set("include_archived", "true")
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	path := "/mail"
	if len(v) > 0 {
		path += "?" + v.Encode()
	}
	var out []mailbox.Header
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SendMail sends a message.
func (c *Client) SendMail(ctx context.Context, req mailbox.SendRequest) (*mailbox.Message, error) {
	var out mailbox.Message
	if err := c.do(ctx, http.MethodPost, "/mail", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetMail returns a message without marking it read.
func (c *Client) GetMail(ctx context.Context, id string) (*mailbox.Message, error) {
	var out mailbox.Message
	if err := c.do(ctx, http.MethodGet, "/mail/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ReadMail returns a message and marks it read.
func (c *Client) ReadMail(ctx context.Context, id string) (*mailbox.Message, error) {
	var out mailbox.Message
	if err := c.do(ctx, http.MethodPost, "/mail/"+url.PathEscape(id)+"/read", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ArchiveMail archives a message.
func (c *Client) ArchiveMail(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/mail/"+url.PathEscape(id)+"/archive", nil, nil)
}

// UnarchiveMail returns a message to the inbox.
func (c *Client) UnarchiveMail(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/mail/"+url.PathEscape(id)+"/unarchive", nil, nil)
}

// DeleteMail removes a message.
func (c *Client) DeleteMail(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/mail/"+url.PathEscape(id), nil, nil)
}

// Leases lists unexpired claims, or one agent's claims.
func (c *Client) Leases(ctx context.Context, agentName string) ([]lease.Claim, error) {
	path := "/leases"
	if agentName != "" {
		path += "?agent=" + url.QueryEscape(agentName)
	}
	var out []lease.Claim
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Claim acquires file claims for an agent.
func (c *Client) Claim(ctx context.Context, req lease.AcquireRequest) (*lease.AcquireResult, error) {
	var out lease.AcquireResult
	if err := c.do(ctx, http.MethodPost, "/leases", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ReleaseClaim drops one claim.
func (c *Client) ReleaseClaim(ctx context.Context, id string) (*lease.Claim, error) {
	var out lease.Claim
	if err := c.do(ctx, http.MethodDelete, "/leases/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Items lists work items, optionally in one column.
func (c *Client) Items(ctx context.Context, status workitem.Status) ([]*workitem.Item, error) {
	path := "/items"
	if status != "" {
		path += "?status=" + url.QueryEscape(string(status))
	}
	var out []*workitem.Item
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateItem adds a work item.
func (c *Client) CreateItem(ctx context.Context, req workitem.CreateRequest) (*workitem.Item, error) {
	var out workitem.Item
	if err := c.do(ctx, http.MethodPost, "/items", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Item returns one work item.
func (c *Client) Item(ctx context.Context, id string) (*workitem.Item, error) {
	var out workitem.Item
	if err := c.do(ctx, http.MethodGet, "/items/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// MoveItem moves a work item to another column.
func (c *Client) MoveItem(ctx context.Context, id string, status workitem.Status) (*workitem.Item, error) {
	var out workitem.Item
	if err := c.do(ctx, http.MethodPost, "/items/"+url.PathEscape(id)+"/move", MoveRequest{Status: string(status)}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Tools lists the orchestrator tool catalog.
func (c *Client) Tools(ctx context.Context) ([]ToolInfo, error) {
	var out []ToolInfo
	if err := c.do(ctx, http.MethodGet, "/tools", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CallTool runs an orchestrator tool. Tool failures come back in the
// response, not as errors.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]interface{}) (*ToolCallResponse, error) {
	var out ToolCallResponse
	if err := c.do(ctx, http.MethodPost, "/tools/"+url.PathEscape(name), ToolCallRequest{Arguments: args}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Events reads the server-sent event stream and calls fn for each event
// until ctx is done, the stream ends or fn returns an error.
func (c *Client) Events(ctx context.Context, fn func(RawEvent) error) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/events", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	// The stream stays open; the client timeout would cut it.
	resp, err := (&http.Client{Transport: c.httpClient.Transport}).Do(req)
	if err != nil {
		return fmt.Errorf("contacting hub at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &APIError{StatusCode: resp.StatusCode, Message: resp.Status}
	}

	return readSSE(ctx, resp.Body, fn)
}

// Watch is Events over the websocket endpoint.
func (c *Client) Watch(ctx context.Context, fn func(RawEvent) error) error {
	wsURL := "ws" + strings.TrimPrefix(c.baseURL, "http") + "/ws"
	ws, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", wsURL, err)
	}
	defer ws.CloseNow()

	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if ctx.Err() != nil || websocket.CloseStatus(err) != -1 {
				return nil
			}
			return err
		}
		var ev RawEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			continue
		}
		if err := fn(ev); err != nil {
			ws.Close(websocket.StatusNormalClosure, "")
			return err
		}
	}
}

// RawEvent is a stream event with its payload left undecoded.
type RawEvent struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

func readSSE(ctx context.Context, r io.Reader, fn func(RawEvent) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var data strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if data.Len() == 0 {
				continue
			}
			var ev RawEvent
			err := json.Unmarshal([]byte(data.String()), &ev)
			data.Reset()
			if err != nil {
				continue
			}
			if err := fn(ev); err != nil {
				return err
			}
		case strings.HasPrefix(line, "data:"):
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
