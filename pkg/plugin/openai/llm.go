package openai

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/voicebridge/voicebridge/pkg/ai/llm"
)

const defaultChatModel = "gpt-4.1-mini"

// ChatLLM implements chat completion using the OpenAI API.
type ChatLLM struct {
	client      *openai.Client
	model       string
	temperature float32
	logger      *slog.Logger
}

// LLMConfig holds configuration for the chat provider.
type LLMConfig struct {
	APIKey      string
	Model       string  // default gpt-4.1-mini
	Temperature float32 // applied when the request leaves it unset
}

// NewChatLLM creates an OpenAI chat completion provider.
func NewChatLLM(cfg LLMConfig) (*ChatLLM, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}

	model := cfg.Model
	if model == "" {
		model = defaultChatModel
	}

	return &ChatLLM{
		client:      openai.NewClient(cfg.APIKey),
		model:       model,
		temperature: cfg.Temperature,
		logger:      slog.Default().With("component", "openai-llm"),
	}, nil
}

// Chat performs a chat completion, exposing tool definitions when the
// request carries any.
func (c *ChatLLM) Chat(ctx context.Context, req llm.ChatRequest) (llm.ChatResponse, error) {
	start := time.Now()

	messages := chatMessages(req.Messages)

	var tools []openai.Tool
	if len(req.Functions) > 0 {
		tools = make([]openai.Tool, len(req.Functions))
		for i, fn := range req.Functions {
			tools[i] = openai.Tool{
				Type: openai.ToolTypeFunction,
				Function: &openai.FunctionDefinition{
					Name:        fn.Name,
					Description: fn.Description,
					Parameters:  fn.Parameters,
				},
			}
		}
	}

	temperature := req.Temperature
	if temperature == 0 {
		temperature = c.temperature
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: temperature,
		Tools:       tools,
	})
	if err != nil {
		return llm.ChatResponse{}, fmt.Errorf("%w: chat completion: %v", llm.ErrRecoverable, err)
	}

	if len(resp.Choices) == 0 {
		return llm.ChatResponse{}, fmt.Errorf("%w: no completion choices returned", llm.ErrRecoverable)
	}

	choice := resp.Choices[0]

	result := llm.ChatResponse{
		Message: llm.Message{
			Role:    llm.MessageRole(choice.Message.Role),
			Content: choice.Message.Content,
		},
		TokensUsed:   resp.Usage.TotalTokens,
		FinishReason: string(choice.FinishReason),
	}

	// The turn loop dispatches one tool at a time.
	if len(choice.Message.ToolCalls) > 0 {
		call := choice.Message.ToolCalls[0]
		result.FunctionCall = &llm.FunctionCall{
			ID:        call.ID,
			Name:      call.Function.Name,
			Arguments: call.Function.Arguments,
		}
	}

	c.logger.Debug("chat completion",
		"model", c.model,
		"tokens", resp.Usage.TotalTokens,
		"duration", time.Since(start),
		"tool_call", result.FunctionCall != nil)

	return result, nil
}

// chatMessages converts conversation history to the wire format. An
// assistant message carrying a tool invocation becomes a tool_calls entry,
// and the matching function-role result becomes a tool message threaded by
// call id.
func chatMessages(msgs []llm.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, len(msgs))
	for i, msg := range msgs {
		m := openai.ChatCompletionMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
			Name:    msg.Name,
		}
		if msg.FunctionCall != nil {
			switch msg.Role {
			case llm.RoleAssistant:
				m.ToolCalls = []openai.ToolCall{{
					ID:   msg.FunctionCall.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      msg.FunctionCall.Name,
						Arguments: msg.FunctionCall.Arguments,
					},
				}}
			case llm.RoleFunction:
				m.Role = openai.ChatMessageRoleTool
				m.ToolCallID = msg.FunctionCall.ID
				m.Name = ""
			}
		}
		out[i] = m
	}
	return out
}

// Capabilities describes the chat provider.
func (c *ChatLLM) Capabilities() llm.Capabilities {
	return llm.Capabilities{
		SupportsFunctions:  true,
		SupportsStreaming:  false,
		MaxTokens:          128000,
		SupportedModels:    []string{"gpt-4.1", "gpt-4.1-mini", "gpt-4o", "gpt-4o-mini"},
		SupportsSystemRole: true,
	}
}
