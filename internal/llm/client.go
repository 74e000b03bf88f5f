// Package llm adapts the teacher's external gRPC Cognitive Orchestrator
// client into an in-process OpenAI-compatible streaming chat completion
// client. The response channel shape (text chunk / tool call / tool result /
// done / error) is preserved from internal/orchestrator so the turn driver's
// consumption pattern does not change; only the transport does.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/lexiqai/callagent/internal/callerr"
	"github.com/lexiqai/callagent/internal/config"
	"github.com/lexiqai/callagent/internal/observability"
	"github.com/lexiqai/callagent/internal/resilience"
)

// Client wraps an OpenAI-compatible streaming chat completion API.
type Client struct {
	config         *config.Config
	client         *openai.Client
	circuitBreaker *resilience.CircuitBreaker
}

// NewClient builds a Client from config. LLMBaseURL, when set, points at an
// OpenAI-compatible endpoint other than api.openai.com.
func NewClient(cfg *config.Config) *Client {
	oaiCfg := openai.DefaultConfig(cfg.LLMAPIKey)
	if cfg.LLMBaseURL != "" {
		oaiCfg.BaseURL = cfg.LLMBaseURL
	}

	return &Client{
		config: cfg,
		client: openai.NewClientWithConfig(oaiCfg),
		circuitBreaker: resilience.NewCircuitBreaker(
			"llm",
			cfg.CircuitBreakerMaxFailures,
			time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second,
		),
	}
}

// StreamChat starts a streaming chat completion and returns a channel of
// deltas. conversationID is carried through onto every Response for
// correlation with SSE telemetry.
func (c *Client) StreamChat(ctx context.Context, conversationID, systemPrompt, userText string, tools []Tool) (<-chan *Response, error) {
	req := openai.ChatCompletionRequest{
		Model: c.config.LLMModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userText},
		},
		Stream: true,
		Tools:  toOpenAITools(tools),
	}

	var stream *openai.ChatCompletionStream
	err := c.circuitBreaker.Call(func() error {
		retryCfg := &resilience.RetryConfig{
			MaxAttempts:       c.config.RetryMaxAttempts,
			InitialBackoff:    time.Duration(c.config.RetryInitialBackoff) * time.Millisecond,
			MaxBackoff:        5 * time.Second,
			BackoffMultiplier: 2.0,
			Jitter:            true,
		}
		return resilience.Retry(func() error {
			s, sErr := c.client.CreateChatCompletionStream(ctx, req)
			if sErr != nil {
				return sErr
			}
			stream = s
			return nil
		}, retryCfg, resilience.IsRetryableNetworkError)
	})

	observability.UpdateCircuitBreakerState("llm", int(c.circuitBreaker.GetState()))
	if err != nil {
		observability.IncrementCircuitBreakerFailures("llm")
		return nil, callerr.New(classify(err), "llm.StreamChat", err)
	}

	out := make(chan *Response, 64)
	go c.pump(ctx, stream, conversationID, out)
	return out, nil
}

func (c *Client) pump(ctx context.Context, stream *openai.ChatCompletionStream, conversationID string, out chan<- *Response) {
	defer stream.Close()
	defer close(out)

	toolCalls := map[int]*openai.ToolCall{}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		chunk, err := stream.Recv()
		if err != nil {
			if err.Error() == "EOF" {
				out <- finalizeToolCalls(conversationID, toolCalls)
				return
			}
			out <- &Response{
				ConversationID: conversationID,
				IsDone:         true,
				Error: &Error{
					Code:    callerr.KindOf(err).String(),
					Message: err.Error(),
				},
			}
			return
		}

		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]

		if choice.Delta.Content != "" {
			out <- &Response{ConversationID: conversationID, TextChunk: choice.Delta.Content}
		}

		for _, tc := range choice.Delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			existing, ok := toolCalls[idx]
			if !ok {
				tcCopy := tc
				toolCalls[idx] = &tcCopy
				continue
			}
			existing.Function.Arguments += tc.Function.Arguments
			if tc.Function.Name != "" {
				existing.Function.Name = tc.Function.Name
			}
			if tc.ID != "" {
				existing.ID = tc.ID
			}
		}

		if choice.FinishReason != "" {
			out <- finalizeToolCalls(conversationID, toolCalls)
			return
		}
	}
}

func finalizeToolCalls(conversationID string, toolCalls map[int]*openai.ToolCall) *Response {
	for _, tc := range toolCalls {
		return &Response{
			ConversationID: conversationID,
			ToolCall: &ToolCall{
				ToolName:       tc.Function.Name,
				ParametersJSON: tc.Function.Arguments,
				CallID:         tc.ID,
			},
		}
	}
	return &Response{ConversationID: conversationID, IsDone: true}
}

// Complete runs a single non-streaming completion, used by the delay-
// notification workflow's adjudication steps (appointment selection, time
// parsing, yes/no classification) where a full stream is unnecessary.
func (c *Client) Complete(ctx context.Context, systemPrompt, userText string) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.config.LLMModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userText},
		},
	})
	if err != nil {
		return "", callerr.New(classify(err), "llm.Complete", err)
	}
	if len(resp.Choices) == 0 {
		return "", callerr.New(callerr.KindInternal, "llm.Complete", fmt.Errorf("empty completion"))
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// TranslateToHindi implements language.Translator using a single, non-
// streaming completion, per §4.G's "single LLM completion" rule.
func (c *Client) TranslateToHindi(ctx context.Context, text string) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.config.LLMModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: "Translate the user's message to conversational Hindi. Reply with only the translation."},
			{Role: openai.ChatMessageRoleUser, Content: text},
		},
	})
	if err != nil {
		return "", callerr.New(classify(err), "llm.TranslateToHindi", err)
	}
	if len(resp.Choices) == 0 {
		return "", callerr.New(callerr.KindInternal, "llm.TranslateToHindi", fmt.Errorf("empty completion"))
	}
	return resp.Choices[0].Message.Content, nil
}

func toOpenAITools(tools []Tool) []openai.Tool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		params, _ := json.Marshal(t.ParametersSchema)
		var raw json.RawMessage = params
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  raw,
			},
		})
	}
	return out
}

func classify(err error) callerr.Kind {
	if resilience.IsRetryableNetworkError(err) {
		return callerr.KindTransientIO
	}
	return callerr.KindInternal
}
