package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/google/uuid"

	"github.com/mbourmaud/conductor/internal/logger"
)

const (
	defaultMaxTokens     = 8192
	defaultMaxIterations = 50
)

// AnthropicConfig configures the Messages API adapter.
type AnthropicConfig struct {
	APIKey        string // falls back to ANTHROPIC_API_KEY
	Model         string
	MaxTokens     int
	MaxIterations int
	Logger        *logger.Logger
	// Options are appended to the client options, e.g. option.WithBaseURL in tests.
	Options []option.RequestOption
}

// Anthropic runs turns against the Anthropic Messages API with a local tool
// loop. Conversation history lives in memory, keyed by session id, so a
// resumed session continues where the last turn stopped.
type Anthropic struct {
	client        anthropic.Client
	model         anthropic.Model
	maxTokens     int64
	maxIterations int
	log           *logger.Logger

	mu       sync.Mutex
	sessions map[string][]anthropic.MessageParam
}

// NewAnthropic creates the adapter.
func NewAnthropic(cfg AnthropicConfig) (*Anthropic, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY environment variable is not set")
	}

	opts := append([]option.RequestOption{option.WithAPIKey(apiKey)}, cfg.Options...)

	model := anthropic.Model(cfg.Model)
	if model == "" {
		model = anthropic.ModelClaudeSonnet4_20250514
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	maxIter := cfg.MaxIterations
	if maxIter <= 0 {
		maxIter = defaultMaxIterations
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Default()
	}

	return &Anthropic{
		client:        anthropic.NewClient(opts...),
		model:         model,
		maxTokens:     int64(maxTokens),
		maxIterations: maxIter,
		log:           log.Component("runtime"),
		sessions:      make(map[string][]anthropic.MessageParam),
	}, nil
}

// Name implements Adapter.
func (a *Anthropic) Name() string { return "anthropic" }

// Open implements Adapter.
func (a *Anthropic) Open(ctx context.Context, req Request) (*Stream, error) {
	if req.Prompt == "" {
		return nil, fmt.Errorf("prompt is required")
	}

	sessionID := req.ResumeSessionID
	a.mu.Lock()
	history, known := a.sessions[sessionID]
	if sessionID == "" || !known {
		sessionID = uuid.New().String()
		history = nil
	}
	// Copy so a cancelled turn never leaves half an exchange in the session.
	messages := append([]anthropic.MessageParam(nil), history...)
	a.mu.Unlock()

	tools := toolParams(req.Tools)

	return Go(ctx, func(ctx context.Context, emit func(Event) error) error {
		started := time.Now()
		messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)))

		var inputTokens, outputTokens int64
		for iter := 0; iter < a.maxIterations; iter++ {
			params := anthropic.MessageNewParams{
				Model:     a.model,
				MaxTokens: a.maxTokens,
				Messages:  messages,
			}
			if req.SystemPrompt != "" {
				params.System = []anthropic.TextBlockParam{{Text: req.SystemPrompt}}
			}
			if len(tools) > 0 {
				params.Tools = tools
			}

			resp, err := a.client.Messages.New(ctx, params)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return fmt.Errorf("%w: %v", ErrBackend, err)
			}

			inputTokens += resp.Usage.InputTokens
			outputTokens += resp.Usage.OutputTokens

			var assistantBlocks []anthropic.ContentBlockParamUnion
			var toolResultBlocks []anthropic.ContentBlockParamUnion
			var finalText strings.Builder

			for _, block := range resp.Content {
				switch variant := block.AsAny().(type) {
				case anthropic.TextBlock:
					if err := emit(TextEvent(variant.Text)); err != nil {
						return err
					}
					finalText.WriteString(variant.Text)
					assistantBlocks = append(assistantBlocks, anthropic.NewTextBlock(variant.Text))

				case anthropic.ToolUseBlock:
					call := ToolInvocation{ID: variant.ID, Name: variant.Name}
					if len(variant.Input) > 0 {
						if err := json.Unmarshal(variant.Input, &call.Arguments); err != nil {
							a.log.Warn("tool %s sent undecodable input: %v", variant.Name, err)
						}
					}
					if err := emit(ToolEvent(call)); err != nil {
						return err
					}

					output, isErr := a.runTool(ctx, req.Handler, call)
					if ctx.Err() != nil {
						return ctx.Err()
					}

					assistantBlocks = append(assistantBlocks,
						anthropic.NewToolUseBlock(variant.ID, variant.Input, variant.Name))
					toolResultBlocks = append(toolResultBlocks,
						anthropic.NewToolResultBlock(variant.ID, output, isErr))
				}
			}

			if len(assistantBlocks) > 0 {
				messages = append(messages, anthropic.NewAssistantMessage(assistantBlocks...))
			}

			if resp.StopReason != anthropic.StopReasonToolUse || len(toolResultBlocks) == 0 {
				a.mu.Lock()
				a.sessions[sessionID] = messages
				a.mu.Unlock()

				return emit(CompletionEvent(Completion{
					SessionID:  sessionID,
					CostUSD:    EstimateCost(string(a.model), inputTokens, outputTokens),
					DurationMs: time.Since(started).Milliseconds(),
					Result:     finalText.String(),
				}))
			}

			messages = append(messages, anthropic.NewUserMessage(toolResultBlocks...))
		}

		return fmt.Errorf("%w: max iterations (%d) reached", ErrBackend, a.maxIterations)
	}), nil
}

func (a *Anthropic) runTool(ctx context.Context, handler ToolHandler, call ToolInvocation) (string, bool) {
	if handler == nil {
		return fmt.Sprintf("Error: tool %s is not available", call.Name), true
	}
	out, err := handler(ctx, call)
	if err != nil {
		return fmt.Sprintf("Error: %s", err.Error()), true
	}
	return out, false
}

// ForgetSession drops the stored history of a session.
func (a *Anthropic) ForgetSession(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.sessions, id)
}

func toolParams(specs []ToolSpec) []anthropic.ToolUnionParam {
	if len(specs) == 0 {
		return nil
	}
	out := make([]anthropic.ToolUnionParam, 0, len(specs))
	for _, spec := range specs {
		out = append(out, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        spec.Name,
				Description: anthropic.String(spec.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: spec.Schema(),
					Required:   spec.Required,
				},
			},
		})
	}
	return out
}

// Per-million-token prices in USD.
type price struct{ input, output float64 }

var modelPrices = []struct {
	prefix string
	price  price
}{
	{"claude-opus-4", price{15, 75}},
	{"claude-sonnet-4", price{3, 15}},
	{"claude-3-7-sonnet", price{3, 15}},
	{"claude-haiku-4", price{1, 5}},
	{"claude-3-5-haiku", price{0.8, 4}},
}

// EstimateCost converts token usage to dollars. Unknown models are priced
// like Sonnet.
func EstimateCost(model string, inputTokens, outputTokens int64) float64 {
	p := price{3, 15}
	for _, mp := range modelPrices {
		if strings.HasPrefix(model, mp.prefix) {
			p = mp.price
			break
		}
	}
	return (float64(inputTokens)*p.input + float64(outputTokens)*p.output) / 1_000_000
}
