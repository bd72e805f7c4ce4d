package chat

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/asaskevich/govalidator"
	"github.com/google/uuid"
	"github.com/pandodao/plebwallet/core"
	"github.com/pandodao/plebwallet/metrics"
)

type Policy string

const (
	// PolicyRedeemBefore redeems the token before the model is called.
	PolicyRedeemBefore Policy = "redeem-before"
	// PolicyRedeemAfter only checks the token up front and redeems it once the model answered.
	PolicyRedeemAfter Policy = "redeem-after"
)

type Node string

const (
	NodeValidatePayment Node = "validate_payment"
	NodeAgent           Node = "agent"
	NodeTools           Node = "tools"
	NodeFinalize        Node = "finalize"
	NodeEnd             Node = "end"
)

type Config struct {
	Policy    Policy `valid:"in(redeem-before|redeem-after)"`
	DebugMode bool
	// ContinuationKey signs suspended runs; a random key is used when empty.
	ContinuationKey []byte
	// ContinuationTTL bounds how long a suspended run can be resumed, 15 minutes by default.
	ContinuationTTL time.Duration
}

type Graph struct {
	gateway core.PaymentGateway
	llm     core.LLMService
	runs    core.RunLog
	markers core.ContinuationStore
	logger  *slog.Logger
	cfg     Config
	pricing Pricing
	now     func() time.Time
}

func New(
	gateway core.PaymentGateway,
	llm core.LLMService,
	runs core.RunLog,
	markers core.ContinuationStore,
	logger *slog.Logger,
	cfg Config,
) *Graph {
	if cfg.Policy == "" {
		cfg.Policy = PolicyRedeemBefore
	}

	if cfg.ContinuationTTL <= 0 {
		cfg.ContinuationTTL = 15 * time.Minute
	}

	if _, err := govalidator.ValidateStruct(cfg); err != nil {
		panic(err)
	}

	if len(cfg.ContinuationKey) == 0 {
		cfg.ContinuationKey = make([]byte, 32)
		if _, err := rand.Read(cfg.ContinuationKey); err != nil {
			panic(err)
		}
	}

	return &Graph{
		gateway: gateway,
		llm:     llm,
		runs:    runs,
		markers: markers,
		logger:  logger.With("service", "chat", "policy", cfg.Policy),
		cfg:     cfg,
		pricing: Pricing{Debug: cfg.DebugMode},
		now:     time.Now,
	}
}

func (g *Graph) Policy() Policy {
	return g.cfg.Policy
}

func (g *Graph) Pricing() Pricing {
	return g.pricing
}

type StartRequest struct {
	ThreadID string          `json:"thread_id"`
	AgentID  string          `json:"agent_id"`
	Messages []core.Message  `json:"messages"`
	Payment  *core.Payment   `json:"payment,omitempty"`
	Tools    []core.ToolSpec `json:"tools,omitempty"`
}

type Result struct {
	Run   *core.Run     `json:"run"`
	Reply *core.Message `json:"reply,omitempty"`
	// Continuation is set when the run is suspended waiting for tool results.
	Continuation string          `json:"continuation,omitempty"`
	ToolCalls    []core.ToolCall `json:"tool_calls,omitempty"`
	Path         []Node          `json:"path"`
}

// state is one invocation of the graph, either fresh or resumed.
type state struct {
	run    *core.Run
	tools  []core.ToolSpec
	path   []Node
	logger *slog.Logger
}

func (g *Graph) Invoke(ctx context.Context, req StartRequest) (*Result, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("chat: no messages")
	}

	run := &core.Run{
		ThreadID:  req.ThreadID,
		RunID:     uuid.NewString(),
		AgentID:   req.AgentID,
		Messages:  append([]core.Message(nil), req.Messages...),
		Payment:   req.Payment,
		StartedAt: g.now(),
	}

	if run.ThreadID == "" {
		run.ThreadID = uuid.NewString()
	}

	if run.AgentID == "" {
		run.AgentID = DefaultAgent
	}

	st := &state{
		run:    run,
		tools:  req.Tools,
		logger: g.logger.With("thread", run.ThreadID, "run", run.RunID),
	}

	return g.execute(ctx, st, NodeValidatePayment)
}

// Resume feeds client tool results back into a suspended run. Every pending call must be answered,
// and a marker is only ever resumed once.
func (g *Graph) Resume(ctx context.Context, continuation string, results []core.Message) (*Result, error) {
	s, err := decodeContinuation(g.cfg.ContinuationKey, continuation, g.now)
	if err != nil {
		return nil, err
	}

	answered := make(map[string]core.Message, len(results))
	for _, r := range results {
		answered[r.ToolCallID] = r
	}

	for _, call := range s.Pending {
		if _, ok := answered[call.ID]; !ok {
			return nil, fmt.Errorf("%w: no result for tool call %s", ErrBadContinuation, call.ID)
		}
	}

	first, err := g.markers.Consume(ctx, s.ID, s.ExpiresAt)
	if err != nil {
		g.logger.Error("markers.Consume", "err", err)
		return nil, err
	}

	if !first {
		g.logger.Warn("continuation replayed", "thread", s.Run.ThreadID, "run", s.Run.RunID, "marker", s.ID)
		return nil, fmt.Errorf("%w: already resumed", ErrBadContinuation)
	}

	st := &state{
		run:    s.Run,
		tools:  s.Tools,
		logger: g.logger.With("thread", s.Run.ThreadID, "run", s.Run.RunID),
	}

	logged := make([]map[string]any, 0, len(s.Pending))
	for _, call := range s.Pending {
		r := answered[call.ID]
		msg := core.Message{Role: core.RoleTool, Content: r.Content, ToolCallID: call.ID, Name: call.Name}
		st.run.Messages = append(st.run.Messages, msg)

		g.event(ctx, st, core.EventToolCall, map[string]any{
			"tool_name":      call.Name,
			"tool_args":      call.Arguments,
			"tool_call_id":   call.ID,
			"result_preview": truncate(r.Content, 500),
		})

		logged = append(logged, map[string]any{"tool_call_id": call.ID, "name": call.Name, "content_length": len(r.Content)})
	}

	g.event(ctx, st, core.EventToolResume, map[string]any{"tool_results": logged})
	st.path = append(st.path, NodeTools)

	return g.execute(ctx, st, NodeAgent)
}

func (g *Graph) execute(ctx context.Context, st *state, node Node) (*Result, error) {
	for {
		st.path = append(st.path, node)

		switch node {
		case NodeValidatePayment:
			node = g.validatePayment(ctx, st)
		case NodeAgent:
			node = g.agent(ctx, st)
		case NodeTools:
			return g.suspend(ctx, st)
		case NodeFinalize:
			node = g.finalize(ctx, st)
		case NodeEnd:
			return g.end(ctx, st), nil
		default:
			return nil, fmt.Errorf("chat: unknown node %q", node)
		}
	}
}

func (g *Graph) validatePayment(ctx context.Context, st *state) Node {
	run := st.run

	g.event(ctx, st, core.EventRunStart, map[string]any{
		"message":     truncate(run.LastUserMessage(), 500),
		"agent_id":    run.AgentID,
		"has_payment": run.Payment != nil && run.Payment.Token != "",
	})

	if run.Payment == nil || run.Payment.Token == "" {
		st.logger.Info("no payment token, free mode")
		run.PaymentValidated = true
		g.payment(ctx, st, "skipped", 0, "", nil)
		return NodeAgent
	}

	token := run.Payment.Token
	required := g.pricing.Required(run.AgentID, run.HumanTurns() <= 1)

	if g.cfg.DebugMode && IsDebugToken(token) {
		st.logger.Info("debug token accepted")
		run.PaymentValidated = true
		g.payment(ctx, st, "debug_mode", required, token, nil)
		return NodeAgent
	}

	check, err := g.gateway.Check(ctx, token)
	if err == nil {
		err = checkError(check, required)
	}

	if err != nil {
		st.logger.Info("payment validation failed", "required", required, "err", err)
		var amount uint64
		if check != nil {
			amount = check.Amount
		}

		g.payment(ctx, st, "validation_failed", amount, token, err)
		g.refuse(st, fmt.Sprintf("Payment validation failed: %v", err))
		return NodeEnd
	}

	run.PaidAmount = check.Amount

	if g.cfg.Policy == PolicyRedeemAfter {
		run.PaymentValidated = true
		run.PendingToken = &token
		g.payment(ctx, st, "validated", check.Amount, token, nil)
		return NodeAgent
	}

	receipt, err := g.gateway.Receive(ctx, token)
	if err != nil {
		st.logger.Error("redemption failed, LLM call blocked", "err", err)
		g.payment(ctx, st, "redemption_failed", check.Amount, token, err)
		g.refuse(st, "Payment redemption failed")
		return NodeEnd
	}

	run.PaymentValidated = true
	run.PaymentRedeemed = true
	run.PaidAmount = receipt.Amount
	g.payment(ctx, st, "redeemed", receipt.Amount, token, nil)
	return NodeAgent
}

func checkError(check *core.TokenCheck, required uint64) error {
	switch {
	case !check.Valid:
		if check.Error != "" {
			return errors.New(check.Error)
		}

		return errors.New("invalid token")
	case check.Spent:
		return core.ErrAlreadySpent
	case check.Amount < required:
		return fmt.Errorf("insufficient amount: %d < %d sats required", check.Amount, required)
	default:
		return nil
	}
}

// refuse ends the run before the model is called, handing the token back.
func (g *Graph) refuse(st *state, msg string) {
	run := st.run
	token := run.Payment.Token

	run.PaymentValidated = false
	run.PaymentRedeemed = false
	run.Refund = true
	run.RefundToken = &token
	run.Fail(msg)
	run.Messages = append(run.Messages, core.Message{
		Role:    core.RoleAssistant,
		Content: fmt.Sprintf("Payment failed: %s. Your token has been returned for a refund.", strings.TrimSuffix(msg, ".")),
	})
}

func (g *Graph) agent(ctx context.Context, st *state) Node {
	run := st.run

	resp, err := g.llm.Chat(ctx, &core.ChatRequest{
		AgentID:  run.AgentID,
		Messages: run.Messages,
		Tools:    st.tools,
	})
	if err != nil {
		st.logger.Error("llm.Chat", "err", err)
		run.Fail(fmt.Sprintf("LLM error: %v", err))

		reply := "Sorry, I encountered an error processing your request. Please try again with a new payment."
		if g.cfg.Policy == PolicyRedeemAfter && run.PendingToken != nil {
			// nothing was taken yet, the token goes back to the client
			run.Refund = true
			run.RefundToken = run.PendingToken
			run.PendingToken = nil
			reply = "Sorry, I encountered an error processing your request. Your payment has not been taken - please try again."
		}

		run.Messages = append(run.Messages, core.Message{Role: core.RoleAssistant, Content: reply})
		return NodeFinalize
	}

	msg := resp.Message
	run.Messages = append(run.Messages, msg)

	g.event(ctx, st, core.EventLLMResponse, map[string]any{
		"content_length":  len(msg.Content),
		"content_preview": truncate(msg.Content, 500),
		"tool_calls":      toolCallsField(msg.ToolCalls),
		"finish_reason":   resp.FinishReason,
	})

	if len(msg.ToolCalls) > 0 && len(st.tools) > 0 {
		run.ToolCallCount += len(msg.ToolCalls)
		return NodeTools
	}

	return NodeFinalize
}

func (g *Graph) suspend(ctx context.Context, st *state) (*Result, error) {
	pending := st.run.LastMessage().ToolCalls

	g.event(ctx, st, core.EventToolInterrupt, map[string]any{"tool_calls": toolCallsField(pending)})

	now := g.now()
	marker, err := encodeContinuation(g.cfg.ContinuationKey, &suspended{
		ID:        uuid.NewString(),
		Run:       st.run,
		Tools:     st.tools,
		Pending:   pending,
		ExpiresAt: now.Add(g.cfg.ContinuationTTL),
	}, now)
	if err != nil {
		return nil, err
	}

	st.logger.Info("run suspended for client tools", "tool_calls", len(pending))
	return &Result{
		Run:          st.run,
		Continuation: marker,
		ToolCalls:    pending,
		Path:         st.path,
	}, nil
}

func (g *Graph) finalize(ctx context.Context, st *state) Node {
	run := st.run
	if run.PendingToken == nil || run.Error != nil {
		return NodeEnd
	}

	token := *run.PendingToken
	run.PendingToken = nil

	receipt, err := g.gateway.Receive(ctx, token)
	if err != nil {
		// the answer was delivered, the operator reconciles by hand
		st.logger.Error("UNREDEEMED TOKEN - MANUAL RECOVERY NEEDED", "raw_token", token, "err", err)
		g.payment(ctx, st, "redemption_failed", run.PaidAmount, token, err)
		return NodeEnd
	}

	run.PaymentValidated = true
	run.PaymentRedeemed = true
	run.PaidAmount = receipt.Amount
	g.payment(ctx, st, "redeemed", receipt.Amount, token, nil)
	return NodeEnd
}

func (g *Graph) end(ctx context.Context, st *state) *Result {
	run := st.run

	var reply *core.Message
	if last := run.LastMessage(); last != nil && last.Role == core.RoleAssistant {
		reply = last
	}

	fields := map[string]any{
		"success":         run.Error == nil,
		"refund":          run.Refund,
		"duration_ms":     g.now().Sub(run.StartedAt).Milliseconds(),
		"tool_call_count": run.ToolCallCount,
	}

	if run.Error != nil {
		fields["error"] = *run.Error
	}

	if reply != nil {
		fields["response_preview"] = truncate(reply.Content, 500)
	}

	g.event(ctx, st, core.EventRunEnd, fields)
	metrics.Runs.WithLabelValues(outcomeOf(run)).Inc()

	return &Result{Run: run, Reply: reply, Path: st.path}
}

func outcomeOf(run *core.Run) string {
	switch {
	case run.Error == nil:
		return "success"
	case !run.PaymentValidated && run.Refund:
		return "payment_failed"
	default:
		return "llm_failed"
	}
}

func (g *Graph) payment(ctx context.Context, st *state, kind string, amount uint64, token string, err error) {
	fields := map[string]any{"amount_sats": amount}
	if token != "" {
		fields["token_preview"] = tokenPreview(token)
	}

	if err != nil {
		fields["error"] = err.Error()
	}

	g.event(ctx, st, core.EventPaymentPrefix+kind, fields)
}

func (g *Graph) event(ctx context.Context, st *state, name string, fields map[string]any) {
	if g.runs == nil {
		return
	}

	evt := &core.RunEvent{
		Event:     name,
		RunID:     st.run.RunID,
		Timestamp: g.now(),
		Fields:    fields,
	}

	if err := g.runs.Append(ctx, st.run.ThreadID, evt); err != nil {
		st.logger.Warn("runs.Append", "event", name, "err", err)
	}
}

func toolCallsField(calls []core.ToolCall) []map[string]any {
	if len(calls) == 0 {
		return nil
	}

	out := make([]map[string]any, len(calls))
	for i, c := range calls {
		out[i] = map[string]any{"id": c.ID, "name": c.Name, "args": c.Arguments}
	}

	return out
}

func tokenPreview(token string) string {
	if len(token) <= 20 {
		return token
	}

	return cut(token, 20) + "..."
}

// truncate keeps s within n bytes, marking the cut with "...".
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}

	return cut(s, n-3) + "..."
}

// cut returns at most the first n bytes of s without splitting a rune.
func cut(s string, n int) string {
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}

	return s[:n]
}
