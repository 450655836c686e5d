// Package orchestrator implements the bounded tool-use loop that turns one
// user message into one assistant reply, grounded on the teacher's
// internal/agent.Engine run loop and generalised to this domain's fixed
// 12-step algorithm, fuse fallback, and error taxonomy.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"aetheria/internal/domain"
	"aetheria/internal/extract"
	"aetheria/internal/llm"
	"aetheria/internal/memory"
	"aetheria/internal/observability"
	"aetheria/internal/prompt"
	"aetheria/internal/safety"
	"aetheria/internal/sanitize"
	"aetheria/internal/tools"
)

// Config bundles the tunables from spec §6.
type Config struct {
	MaxToolIterations  int
	HistoryLimit       int
	WindowThreshold    int
	EpisodicWindowSize int
	TargetLanguage     string
	TurnTimeout        time.Duration
	ToolTimeout        time.Duration
	LMTimeout          time.Duration

	// MaxToolParallelism is retained for a future provider that tolerates
	// reordered tool results. The loop always dispatches sequentially
	// regardless of this value (spec §5 requires issuance in LM order), so
	// any value other than 1 is currently a no-op.
	MaxToolParallelism int
}

// DefaultConfig mirrors the defaults enumerated in spec §6.
func DefaultConfig() Config {
	return Config{
		MaxToolIterations:  5,
		HistoryLimit:       12,
		WindowThreshold:    30,
		EpisodicWindowSize: 20,
		TargetLanguage:     "zh-Hant",
		TurnTimeout:        180 * time.Second,
		ToolTimeout:        15 * time.Second,
		LMTimeout:          60 * time.Second,
		MaxToolParallelism: 1,
	}
}

// Loop is the constructor-injected Orchestration Loop (spec §4.7), with no
// process-wide global state (spec §9).
type Loop struct {
	LM      llm.Provider
	Tools   *tools.Registry
	Store   memory.Store
	Config  Config
	FastModel string
	StrongModel string
}

// New builds a Loop from its collaborators.
func New(lm llm.Provider, reg *tools.Registry, store memory.Store, cfg Config, fastModel, strongModel string) *Loop {
	return &Loop{LM: lm, Tools: reg, Store: store, Config: cfg, FastModel: fastModel, StrongModel: strongModel}
}

// RunTurn executes one turn and streams Turn Events on the returned
// channel. The channel is closed when the turn completes, errors out, or
// the context is cancelled. Cancellation before completion means no
// assistant message is persisted (spec §5's cancellation contract).
func (l *Loop) RunTurn(ctx context.Context, userID, sessionID, message string) <-chan domain.TurnEvent {
	events := make(chan domain.TurnEvent, 16)
	go func() {
		defer close(events)
		l.run(ctx, userID, sessionID, message, events)
	}()
	return events
}

func (l *Loop) emit(ctx context.Context, events chan<- domain.TurnEvent, ev domain.TurnEvent) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (l *Loop) run(ctx context.Context, userID, sessionID, message string, events chan<- domain.TurnEvent) {
	ctx, cancel := context.WithTimeout(ctx, turnTimeout(l.Config))
	defer cancel()

	log := observability.LoggerWithTrace(ctx)

	// Step 1: session allocation.
	assignedNewSession := sessionID == ""
	if assignedNewSession {
		sessionID = uuid.NewString()
		if !l.emit(ctx, events, domain.TurnEvent{Kind: domain.EventSessionAssigned, SessionID: sessionID}) {
			return
		}
	}

	if err := l.Store.EnsureSession(ctx, userID, sessionID); err != nil {
		l.failClosed(ctx, events, "很抱歉，目前系統暫時無法處理你的訊息，請稍後再試一次。")
		return
	}

	// Step 2: append the user message.
	if _, err := l.Store.AppendMessage(ctx, domain.Message{
		SessionID: sessionID, Role: domain.RoleUser, Content: message, CreatedAt: time.Now(),
	}); err != nil {
		l.failClosed(ctx, events, "很抱歉，目前系統暫時無法處理你的訊息，請稍後再試一次。")
		return
	}

	// Step 3: safety filter.
	if cat := safety.Classify(message); cat != safety.CategoryNone {
		reply := safety.ReplyFor(cat)
		l.emit(ctx, events, domain.TurnEvent{Kind: domain.EventText, TextChunk: reply})
		l.persistAssistant(ctx, sessionID, reply, nil)
		l.emit(ctx, events, domain.TurnEvent{Kind: domain.EventDone, SessionID: sessionID})
		return
	}

	// Step 4: load context.
	user, err := l.Store.GetUser(ctx, userID)
	if err != nil {
		l.failClosed(ctx, events, "很抱歉，目前系統暫時無法讀取你的資料，請稍後再試一次。")
		return
	}
	chartLocks, err := l.Store.ReadChartLocks(ctx, userID)
	if err != nil {
		chartLocks = nil
	}
	memSnap, err := l.Store.ReadMemory(ctx, userID)
	if err != nil {
		memSnap = domain.MemorySnapshot{}
	}
	recent, err := l.Store.ReadRecent(ctx, sessionID, l.Config.HistoryLimit)
	if err != nil {
		recent = nil
	}

	// Step 5: best-effort structured extraction, persisted immediately.
	facts := extract.Extract(message)
	if patch, changed := patchFrom(facts); changed {
		if err := l.Store.UpdateUserFacts(ctx, userID, patch); err == nil {
			user = applyPatch(user, patch)
		}
	}

	// Step 6: turn-level signals.
	hasBirthData := user.HasBirthData()
	hasChart := len(chartLocks) > 0
	offTopic := !hasBirthData && !MessageImpliesDomainRequest(message) && len(recent) > 2
	emotionalSignals := prompt.DetectSignals(message)

	// Step 7: system prompt + model tier.
	model := l.FastModel
	contextWindow, _ := llm.ContextSize(model)
	memoryBudget := contextWindow * 15 / 100

	systemPrompt := prompt.Assemble(prompt.Inputs{
		User: user, ChartLocks: chartLocks, Memory: memSnap, UserMessage: message,
		TurnCount: len(recent), EmotionalHints: emotionalSignals, OffTopic: offTopic,
		TargetLanguage: l.Config.TargetLanguage, MemoryTokenBudget: memoryBudget,
	})

	contents := l.trimToContextBudget(ctx, model, systemPrompt, toLLMMessages(recent))
	toolSchemas := l.Tools.Schemas()

	var finalText strings.Builder
	var turnRefs []domain.ToolCallRef
	fuseUsed := false
	chartKindsProducedThisTurn := map[domain.CalculatorKind]bool{}

	maxIter := l.Config.MaxToolIterations
	if maxIter <= 0 {
		maxIter = 5
	}

	for iter := 0; iter < maxIter; iter++ {
		select {
		case <-ctx.Done():
			return
		default:
		}

		var sawLeakedCall *sanitize.ParsedToolCall
		sanitiser := sanitize.New(l.Config.TargetLanguage, func(c sanitize.ParsedToolCall) { sawLeakedCall = &c })

		var iterText strings.Builder
		var iterCalls []llm.ToolCall
		handler := &collectingHandler{
			onDelta: func(chunk string) {
				iterText.WriteString(chunk)
				clean := sanitiser.Push(chunk)
				if clean != "" {
					finalText.WriteString(clean)
					l.emit(ctx, events, domain.TurnEvent{Kind: domain.EventText, TextChunk: clean})
				}
			},
			onToolCall: func(tc llm.ToolCall) { iterCalls = append(iterCalls, tc) },
		}

		lmCtx, lmCancel := context.WithTimeout(ctx, lmTimeout(l.Config))
		err := l.LM.ChatStream(lmCtx, withSystem(systemPrompt, contents), toolSchemas, model, handler)
		lmCancel()
		if tail := sanitiser.Flush(); tail != "" {
			finalText.WriteString(tail)
			l.emit(ctx, events, domain.TurnEvent{Kind: domain.EventText, TextChunk: tail})
		}
		if err != nil {
			if ctx.Err() != nil {
				// The client disconnected or the turn's own deadline fired;
				// either way no assistant message is persisted for an
				// incomplete turn (spec §5 cancellation contract).
				return
			}
			log.Warn().Err(err).Msg("orchestrator_lm_fatal")
			apology := "很抱歉，目前無法順利產生回覆，請稍後再試一次。"
			l.emit(ctx, events, domain.TurnEvent{Kind: domain.EventText, TextChunk: apology})
			l.persistAssistant(ctx, sessionID, apology, nil)
			l.emit(ctx, events, domain.TurnEvent{Kind: domain.EventDone, SessionID: sessionID})
			return
		}

		if sawLeakedCall != nil {
			argsJSON, _ := json.Marshal(sawLeakedCall.Args)
			iterCalls = append(iterCalls, llm.ToolCall{Name: sawLeakedCall.Name, Args: argsJSON, ID: fmt.Sprintf("leak-%d", iter)})
		}

		// Step 9: fuse, evaluated only at iteration 0 with no tool calls yet.
		if iter == 0 && len(iterCalls) == 0 && !fuseUsed && hasBirthData && !hasChart && MessageImpliesDomainRequest(message) {
			if fc, ok := buildFuseCall(user, chartLocks); ok {
				iterCalls = append(iterCalls, fc)
				fuseUsed = true
			}
		}

		if len(iterCalls) == 0 {
			break
		}

		assistantMsg := llm.Message{Role: "assistant", Content: iterText.String(), ToolCalls: iterCalls}
		contents = append(contents, assistantMsg)

		for _, tc := range iterCalls {
			fuseTriggered := fuseUsed && tc.ThoughtSignature == llm.FuseSignature
			l.emit(ctx, events, domain.TurnEvent{
				Kind: domain.EventTool, ToolName: tc.Name, ToolPhase: domain.ToolExecuting,
				ToolArgs: decodeArgsMap(tc.Args), FuseTriggered: fuseTriggered,
			})

			toolCtx, toolCancel := context.WithTimeout(ctx, toolTimeout(l.Config))
			result, invokeErr := l.Tools.Invoke(toolCtx, tc.Name, tc.Args, tools.TurnContext{UserID: userID})
			toolCancel()

			var toolContent string
			phase := domain.ToolCompleted
			if invokeErr != nil {
				phase = domain.ToolFailed
				toolContent = toolErrorPayload(invokeErr)
			} else {
				b, _ := json.Marshal(result)
				toolContent = string(b)
				if kind, ok := calculatorKindFor(tc.Name); ok {
					payload, _ := result.(map[string]any)
					_ = l.Store.WriteChartLock(ctx, userID, kind, payload)
					chartKindsProducedThisTurn[kind] = true
				}
			}
			l.emit(ctx, events, domain.TurnEvent{
				Kind: domain.EventTool, ToolName: tc.Name, ToolPhase: phase, FuseTriggered: fuseTriggered,
			})

			turnRefs = append(turnRefs, domain.ToolCallRef{Name: tc.Name, ToolID: tc.ID, FuseTriggered: fuseTriggered})
			contents = append(contents, llm.Message{Role: "tool", ToolID: tc.ID, Content: toolContent})
		}
	}

	text := finalText.String()
	if strings.TrimSpace(text) == "" {
		text = "讓我再想一下，稍等我一下。"
	}

	// Post-hoc quality guard.
	for kind := range chartKindsProducedThisTurn {
		if !vocabularyMentioned(text, kind) {
			appendix := GuardAppendix(kind)
			if appendix != "" {
				guardSan := sanitize.New(l.Config.TargetLanguage, nil)
				clean := guardSan.Push(appendix) + guardSan.Flush()
				text = text + "\n" + clean
				l.emit(ctx, events, domain.TurnEvent{Kind: domain.EventText, TextChunk: "\n" + clean})
			}
		}
	}

	// Step 10: persist assistant message.
	l.persistAssistant(ctx, sessionID, text, turnRefs)

	// Step 11: update memory / trigger auto-summariser.
	l.maybeSummarise(ctx, userID)

	// Step 12: done.
	l.emit(ctx, events, domain.TurnEvent{Kind: domain.EventDone, SessionID: sessionID})
}

func (l *Loop) failClosed(ctx context.Context, events chan<- domain.TurnEvent, warning string) {
	l.emit(ctx, events, domain.TurnEvent{Kind: domain.EventText, TextChunk: warning})
	l.emit(ctx, events, domain.TurnEvent{Kind: domain.EventDone})
}

func (l *Loop) persistAssistant(ctx context.Context, sessionID, text string, refs []domain.ToolCallRef) {
	_, _ = l.Store.AppendMessage(ctx, domain.Message{
		SessionID: sessionID, Role: domain.RoleAssistant, Content: text, ToolCalls: refs, CreatedAt: time.Now(),
	})
}

type collectingHandler struct {
	onDelta    func(string)
	onToolCall func(llm.ToolCall)
}

func (h *collectingHandler) OnDelta(content string)     { h.onDelta(content) }
func (h *collectingHandler) OnToolCall(tc llm.ToolCall) { h.onToolCall(tc) }

func withSystem(system string, contents []llm.Message) []llm.Message {
	out := make([]llm.Message, 0, len(contents)+1)
	out = append(out, llm.Message{Role: "system", Content: system})
	out = append(out, contents...)
	return out
}

func toLLMMessages(msgs []domain.Message) []llm.Message {
	out := make([]llm.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, llm.Message{Role: string(m.Role), Content: m.Content})
	}
	return out
}

func decodeArgsMap(raw json.RawMessage) map[string]any {
	if len(raw) == 0 {
		return map[string]any{}
	}
	var m map[string]any
	_ = json.Unmarshal(raw, &m)
	return m
}

func toolErrorPayload(err error) string {
	if te, ok := err.(*tools.Error); ok {
		b, _ := json.Marshal(map[string]any{"ok": false, "kind": te.Kind, "message": te.Message})
		return string(b)
	}
	b, _ := json.Marshal(map[string]any{"ok": false, "message": err.Error()})
	return string(b)
}

func calculatorKindFor(toolName string) (domain.CalculatorKind, bool) {
	switch toolName {
	case "calculate_bazi":
		return domain.KindBazi, true
	case "calculate_ziwei":
		return domain.KindZiwei, true
	case "calculate_western_astrology":
		return domain.KindWestern, true
	case "calculate_human_design":
		return domain.KindHumanDesign, true
	case "draw_tarot":
		return domain.KindTarot, true
	case "calculate_numerology":
		return domain.KindNumerology, true
	default:
		return "", false
	}
}

func turnTimeout(cfg Config) time.Duration {
	if cfg.TurnTimeout <= 0 {
		return 180 * time.Second
	}
	return cfg.TurnTimeout
}

func toolTimeout(cfg Config) time.Duration {
	if cfg.ToolTimeout <= 0 {
		return 15 * time.Second
	}
	return cfg.ToolTimeout
}

func lmTimeout(cfg Config) time.Duration {
	if cfg.LMTimeout <= 0 {
		return 60 * time.Second
	}
	return cfg.LMTimeout
}
