package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/mbourmaud/conductor/internal/agent"
	"github.com/mbourmaud/conductor/internal/embed"
	"github.com/mbourmaud/conductor/internal/hub"
	"github.com/mbourmaud/conductor/internal/logger"
	"github.com/mbourmaud/conductor/internal/mailbox"
	"github.com/mbourmaud/conductor/internal/orchestrator"
	"github.com/mbourmaud/conductor/internal/workitem"
)

// Backend is the slice of the hub API the bridge needs. *hub.Client
// satisfies it.
type Backend interface {
	Tools(ctx context.Context) ([]hub.ToolInfo, error)
	CallTool(ctx context.Context, name string, args map[string]interface{}) (*hub.ToolCallResponse, error)
	SubmitTask(ctx context.Context, text string) (*orchestrator.Task, error)
	Status(ctx context.Context) (*hub.StatusResponse, error)
	Agents(ctx context.Context) ([]agent.Info, error)
	AgentMessages(ctx context.Context, name string) ([]agent.Message, error)
	Items(ctx context.Context, status workitem.Status) ([]*workitem.Item, error)
	Conversation(ctx context.Context) ([]orchestrator.Message, error)
	Mail(ctx context.Context, q hub.MailQuery) ([]mailbox.Header, error)
}

// ToolSubmitTask queues free-form work for the orchestrator. It is the only
// tool the bridge adds on top of the hub catalog.
const ToolSubmitTask = "submit_task"

// Resource URIs.
const (
	URIStatus       = "conductor://status"
	URIAgents       = "conductor://agents"
	URIItems        = "conductor://items"
	URIConversation = "conductor://conversation"
	URIMail         = "conductor://mail"
	uriAgentPrefix  = "conductor://agents/"
)

// Options configures a Server.
type Options struct {
	// PromptDir overrides the embedded prompts, see embed.Prompt.
	PromptDir string
	Version   string
	Logger    *logger.Logger
}

// Server is an MCP server exposing a hub to an MCP client.
type Server struct {
	backend Backend
	opts    Options
	log     *logger.Logger

	mu          sync.RWMutex
	initialized bool
	client      ClientInfo
}

// NewServer creates a new MCP server.
func NewServer(backend Backend, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = logger.Default()
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}
	return &Server{
		backend: backend,
		opts:    opts,
		log:     opts.Logger.Component("mcp"),
	}
}

// Initialized reports whether a client has completed the handshake, and
// which one.
func (s *Server) Initialized() (bool, ClientInfo) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.initialized, s.client
}

// Run serves stdio until stdin closes or ctx is done.
func (s *Server) Run(ctx context.Context) error {
	return s.Serve(ctx, os.Stdin, os.Stdout)
}

// Serve reads newline-delimited JSON-RPC messages from r and writes
// responses to w.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	reader := bufio.NewReader(r)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line, err := reader.ReadBytes('\n')
		if len(strings.TrimSpace(string(line))) > 0 {
			if response := s.handleRequest(ctx, line); response != nil {
				data, merr := json.Marshal(response)
				if merr != nil {
					s.log.Error("encoding response: %v", merr)
				} else if _, werr := w.Write(append(data, '\n')); werr != nil {
					return fmt.Errorf("failed to write stdout: %w", werr)
				}
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("failed to read stdin: %w", err)
		}
	}
}

// handleRequest processes a JSON-RPC request and returns a response.
func (s *Server) handleRequest(ctx context.Context, data []byte) *JSONRPCResponse {
	var req JSONRPCRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return &JSONRPCResponse{
			JSONRPC: "2.0",
			Error: &JSONRPCError{
				Code:    ErrCodeParseError,
				Message: "Parse error",
			},
		}
	}

	// Notifications carry no id
	if req.ID == nil {
		s.handleNotification(req)
		return nil
	}

	result, rpcErr := s.handleMethod(ctx, req.Method, req.Params)
	if rpcErr != nil {
		return &JSONRPCResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error:   rpcErr,
		}
	}

	resultBytes, err := json.Marshal(result)
	if err != nil {
		return &JSONRPCResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error:   &JSONRPCError{Code: ErrCodeInternalError, Message: err.Error()},
		}
	}
	return &JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result:  resultBytes,
	}
}

func (s *Server) handleNotification(req JSONRPCRequest) {
	switch req.Method {
	case MethodInitialized:
		s.log.Debug("client initialized")
	case MethodNotificationsCancelled:
		s.log.Debug("client cancelled a request")
	}
}

// handleMethod dispatches the request to the appropriate handler.
func (s *Server) handleMethod(ctx context.Context, method string, params json.RawMessage) (interface{}, *JSONRPCError) {
	switch method {
	case MethodInitialize:
		return s.handleInitialize(params)
	case MethodPing:
		return struct{}{}, nil
	case MethodToolsList:
		return s.handleToolsList(ctx)
	case MethodToolsCall:
		return s.handleToolsCall(ctx, params)
	case MethodResourcesList:
		return s.handleResourcesList()
	case MethodResourcesRead:
		return s.handleResourcesRead(ctx, params)
	case MethodPromptsList:
		return s.handlePromptsList()
	case MethodPromptsGet:
		return s.handlePromptsGet(params)
	default:
		return nil, &JSONRPCError{
			Code:    ErrCodeMethodNotFound,
			Message: fmt.Sprintf("Method not found: %s", method),
		}
	}
}

func invalidParams(msg string) *JSONRPCError {
	return &JSONRPCError{Code: ErrCodeInvalidParams, Message: msg}
}

func internalError(err error) *JSONRPCError {
	return &JSONRPCError{Code: ErrCodeInternalError, Message: err.Error()}
}

func (s *Server) handleInitialize(params json.RawMessage) (interface{}, *JSONRPCError) {
	var initParams InitializeParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &initParams); err != nil {
			return nil, invalidParams("Invalid params")
		}
	}

	s.mu.Lock()
	s.initialized = true
	s.client = initParams.ClientInfo
	s.mu.Unlock()
	s.log.Info("initialized by %s %s", initParams.ClientInfo.Name, initParams.ClientInfo.Version)

	return InitializeResult{
		ProtocolVersion: ProtocolVersion,
		Capabilities: Capabilities{
			Tools:     &ToolsCapability{},
			Resources: &ResourcesCapability{},
			Prompts:   &PromptsCapability{},
		},
		ServerInfo: ServerInfo{
			Name:    "conductor",
			Version: s.opts.Version,
		},
	}, nil
}

// handleToolsList publishes the hub's orchestrator tools plus submit_task.
func (s *Server) handleToolsList(ctx context.Context) (interface{}, *JSONRPCError) {
	infos, err := s.backend.Tools(ctx)
	if err != nil {
		return nil, internalError(err)
	}

	tools := make([]Tool, 0, len(infos)+1)
	tools = append(tools, Tool{
		Name:        ToolSubmitTask,
		Description: "Queue a task for the orchestrator. Returns immediately; the orchestrator works through tasks one at a time.",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"text": map[string]interface{}{"type": "string", "description": "What the orchestrator should do"},
			},
			"required": []string{"text"},
		},
	})
	for _, info := range infos {
		tools = append(tools, Tool{Name: info.Name, Description: info.Description, InputSchema: info.InputSchema})
	}
	return ToolsListResult{Tools: tools}, nil
}

func (s *Server) handleToolsCall(ctx context.Context, params json.RawMessage) (interface{}, *JSONRPCError) {
	var call ToolsCallParams
	if err := json.Unmarshal(params, &call); err != nil || call.Name == "" {
		return nil, invalidParams("Invalid params")
	}

	if call.Name == ToolSubmitTask {
		text, _ := call.Arguments["text"].(string)
		if strings.TrimSpace(text) == "" {
			return errorResult("text is required"), nil
		}
		task, err := s.backend.SubmitTask(ctx, text)
		if err != nil {
			return errorResult(err.Error()), nil
		}
		return textResult(fmt.Sprintf("Queued task %s.", task.ID)), nil
	}

	res, err := s.backend.CallTool(ctx, call.Name, call.Arguments)
	if err != nil {
		if hub.IsNotFound(err) {
			return nil, &JSONRPCError{Code: ErrCodeMethodNotFound, Message: fmt.Sprintf("Unknown tool: %s", call.Name)}
		}
		return errorResult(err.Error()), nil
	}
	if res.IsError {
		return errorResult(res.Output), nil
	}
	return textResult(res.Output), nil
}

func textResult(text string) ToolsCallResult {
	return ToolsCallResult{Content: []Content{{Type: "text", Text: text}}}
}

func errorResult(text string) ToolsCallResult {
	return ToolsCallResult{Content: []Content{{Type: "text", Text: text}}, IsError: true}
}

func (s *Server) handleResourcesList() (interface{}, *JSONRPCError) {
	return ResourcesListResult{
		Resources: []Resource{
			{URI: URIStatus, Name: "Status", Description: "Pool, queue and cost summary", MimeType: "application/json"},
			{URI: URIAgents, Name: "Agents", Description: "Live and waiting agents", MimeType: "application/json"},
			{URI: URIItems, Name: "Work items", Description: "The work item board", MimeType: "application/json"},
			{URI: URIConversation, Name: "Conversation", Description: "The orchestrator conversation log", MimeType: "application/json"},
			{URI: URIMail, Name: "Mail", Description: "Unarchived mail addressed to the user", MimeType: "application/json"},
		},
	}, nil
}

func (s *Server) handleResourcesRead(ctx context.Context, params json.RawMessage) (interface{}, *JSONRPCError) {
	var req ResourcesReadParams
	if err := json.Unmarshal(params, &req); err != nil || req.URI == "" {
		return nil, invalidParams("Invalid params")
	}

	var (
		data interface{}
		err  error
	)
	switch {
	case req.URI == URIStatus:
		data, err = s.backend.Status(ctx)
	case req.URI == URIAgents:
		data, err = s.backend.Agents(ctx)
	case req.URI == URIItems:
		data, err = s.backend.Items(ctx, "")
	case req.URI == URIConversation:
		data, err = s.backend.Conversation(ctx)
	case req.URI == URIMail:
		data, err = s.backend.Mail(ctx, hub.MailQuery{Participant: mailbox.User})
	case strings.HasPrefix(req.URI, uriAgentPrefix) && strings.HasSuffix(req.URI, "/messages"):
		name := strings.TrimSuffix(strings.TrimPrefix(req.URI, uriAgentPrefix), "/messages")
		data, err = s.backend.AgentMessages(ctx, name)
	default:
		return nil, invalidParams(fmt.Sprintf("Unknown resource: %s", req.URI))
	}
	if err != nil {
		return nil, internalError(err)
	}

	text, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return nil, internalError(err)
	}
	return ResourcesReadResult{
		Contents: []ResourceContent{{URI: req.URI, MimeType: "application/json", Text: string(text)}},
	}, nil
}

func (s *Server) handlePromptsList() (interface{}, *JSONRPCError) {
	return PromptsListResult{
		Prompts: []Prompt{
			{Name: embed.PromptOrchestrator, Description: "System prompt of the orchestrator"},
			{
				Name:        embed.PromptAgent,
				Description: "Base system prompt of every worker agent",
				Arguments:   []PromptArgument{{Name: "focus", Description: "Task the worker should focus on"}},
			},
		},
	}, nil
}

func (s *Server) handlePromptsGet(params json.RawMessage) (interface{}, *JSONRPCError) {
	var req PromptsGetParams
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, invalidParams("Invalid params")
	}
	if req.Name != embed.PromptOrchestrator && req.Name != embed.PromptAgent {
		return nil, invalidParams(fmt.Sprintf("Unknown prompt: %s", req.Name))
	}

	text, err := embed.Prompt(req.Name, s.opts.PromptDir)
	if err != nil {
		return nil, internalError(err)
	}
	if focus := req.Arguments["focus"]; focus != "" && req.Name == embed.PromptAgent {
		text += "\n\nYour focus: " + focus
	}
	return PromptsGetResult{
		Messages: []PromptMessage{{Role: "user", Content: Content{Type: "text", Text: text}}},
	}, nil
}
