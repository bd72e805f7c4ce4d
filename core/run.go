package core

import (
	"context"
	"encoding/json"
	"time"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
}

type Payment struct {
	Token string `json:"token"`
}

// Run is a single invocation of the conversation flow against a thread.
type Run struct {
	ThreadID string    `json:"thread_id"`
	RunID    string    `json:"run_id"`
	AgentID  string    `json:"agent_id,omitempty"`
	Messages []Message `json:"messages"`
	// Payment is nil in free mode.
	Payment *Payment `json:"payment,omitempty"`

	PaymentValidated bool `json:"payment_validated"`
	PaymentRedeemed  bool `json:"payment_redeemed"`
	// PaidAmount is the value of the validated token.
	PaidAmount uint64 `json:"paid_amount,omitempty"`
	// PendingToken holds a validated token until it is redeemed after a successful answer.
	PendingToken *string `json:"pending_token,omitempty"`

	Refund      bool    `json:"refund"`
	RefundToken *string `json:"refund_token,omitempty"`
	Error       *string `json:"error,omitempty"`

	ToolCallCount int       `json:"tool_call_count"`
	StartedAt     time.Time `json:"started_at"`
}

// HumanTurns counts user messages in the history.
func (r *Run) HumanTurns() int {
	var n int
	for _, m := range r.Messages {
		if m.Role == RoleUser {
			n++
		}
	}

	return n
}

func (r *Run) LastMessage() *Message {
	if len(r.Messages) == 0 {
		return nil
	}

	return &r.Messages[len(r.Messages)-1]
}

func (r *Run) LastUserMessage() string {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == RoleUser {
			return r.Messages[i].Content
		}
	}

	return ""
}

func (r *Run) Fail(msg string) {
	r.Error = &msg
}

type ToolSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type ChatRequest struct {
	AgentID  string
	Messages []Message
	Tools    []ToolSpec
}

type ChatResponse struct {
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

type LLMService interface {
	Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
}

const (
	EventRunStart      = "run_start"
	EventToolCall      = "tool_call"
	EventLLMResponse   = "llm_response"
	EventToolInterrupt = "tool_interrupt"
	EventToolResume    = "tool_resume"
	EventRunEnd        = "run_end"
	EventPaymentPrefix = "payment_"
)

type RunEvent struct {
	Event     string         `json:"event"`
	RunID     string         `json:"run_id"`
	Timestamp time.Time      `json:"timestamp"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// RunLog is an append only per thread event log.
type RunLog interface {
	Append(ctx context.Context, threadID string, event *RunEvent) error
	ListThreads(ctx context.Context) ([]string, error)
	ReadThread(ctx context.Context, threadID string) ([]map[string]any, error)
}

// ContinuationStore remembers which suspended runs were already resumed.
type ContinuationStore interface {
	// Consume marks id as used and reports whether this call was the first to do so.
	Consume(ctx context.Context, id string, expiresAt time.Time) (bool, error)
	// Purge forgets ids that expired before t, their markers are rejected on expiry alone.
	Purge(ctx context.Context, before time.Time) (int64, error)
}
