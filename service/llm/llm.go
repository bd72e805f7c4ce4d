package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/asaskevich/govalidator"
	"github.com/pandodao/plebwallet/core"
	"github.com/sashabaranov/go-openai"
)

type Config struct {
	BaseURL     string `valid:"url,required"`
	Model       string `valid:"required"`
	APIKey      string
	Temperature float32
	// SystemPrompt is prepended to every request when set.
	SystemPrompt string
}

func New(logger *slog.Logger, cfg Config) core.LLMService {
	if _, err := govalidator.ValidateStruct(cfg); err != nil {
		panic(err)
	}

	if cfg.APIKey == "" {
		cfg.APIKey = "not-needed"
	}

	c := openai.DefaultConfig(cfg.APIKey)
	c.BaseURL = cfg.BaseURL

	return &service{
		client: openai.NewClientWithConfig(c),
		logger: logger.With("service", "llm"),
		cfg:    cfg,
	}
}

type service struct {
	client *openai.Client
	logger *slog.Logger
	cfg    Config
}

func (s *service) Chat(ctx context.Context, req *core.ChatRequest) (*core.ChatResponse, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if s.cfg.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: s.cfg.SystemPrompt})
	}

	for _, m := range req.Messages {
		messages = append(messages, toMessage(m))
	}

	creq := openai.ChatCompletionRequest{
		Model:       s.cfg.Model,
		Messages:    messages,
		Temperature: s.cfg.Temperature,
	}

	for _, t := range req.Tools {
		def := &openai.FunctionDefinition{Name: t.Name, Description: t.Description}
		if len(t.Parameters) > 0 {
			def.Parameters = t.Parameters
		}

		creq.Tools = append(creq.Tools, openai.Tool{Type: openai.ToolTypeFunction, Function: def})
	}

	resp, err := s.client.CreateChatCompletion(ctx, creq)
	if err != nil {
		s.logger.Error("CreateChatCompletion", "model", s.cfg.Model, "err", err)
		return nil, err
	}

	if len(resp.Choices) == 0 {
		return nil, errors.New("llm: empty completion")
	}

	choice := resp.Choices[0]
	return &core.ChatResponse{
		Message:      fromMessage(choice.Message),
		FinishReason: string(choice.FinishReason),
	}, nil
}

func toMessage(m core.Message) openai.ChatCompletionMessage {
	msg := openai.ChatCompletionMessage{
		Role:       string(m.Role),
		Content:    m.Content,
		ToolCallID: m.ToolCallID,
		Name:       m.Name,
	}

	for _, tc := range m.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
			ID:   tc.ID,
			Type: openai.ToolTypeFunction,
			Function: openai.FunctionCall{
				Name:      tc.Name,
				Arguments: tc.Arguments,
			},
		})
	}

	return msg
}

func fromMessage(msg openai.ChatCompletionMessage) core.Message {
	m := core.Message{
		Role:    core.Role(msg.Role),
		Content: msg.Content,
	}

	if m.Role == "" {
		m.Role = core.RoleAssistant
	}

	for i, tc := range msg.ToolCalls {
		id := tc.ID
		if id == "" {
			id = fmt.Sprintf("call_%d", i)
		}

		m.ToolCalls = append(m.ToolCalls, core.ToolCall{ID: id, Name: tc.Function.Name, Arguments: tc.Function.Arguments})
	}

	return m
}
