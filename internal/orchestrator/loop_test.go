package orchestrator

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aetheria/internal/domain"
	"aetheria/internal/llm"
	"aetheria/internal/memory"
	"aetheria/internal/memory/inmemory"
	"aetheria/internal/tools"
)

// scriptedProvider replays one response per call to ChatStream/Chat, in
// order, so a test can script an entire multi-iteration turn.
type scriptedProvider struct {
	turns []scriptedTurn
	calls int
}

type scriptedTurn struct {
	text  string
	calls []llm.ToolCall
}

func (p *scriptedProvider) Chat(_ context.Context, _ []llm.Message, _ []llm.ToolSchema, _ string) (llm.Message, error) {
	return llm.Message{Content: "摘要內容。"}, nil
}

func (p *scriptedProvider) ChatStream(_ context.Context, _ []llm.Message, _ []llm.ToolSchema, _ string, h llm.StreamHandler) error {
	if p.calls >= len(p.turns) {
		return nil
	}
	t := p.turns[p.calls]
	p.calls++
	if t.text != "" {
		h.OnDelta(t.text)
	}
	for _, tc := range t.calls {
		h.OnToolCall(tc)
	}
	return nil
}

func newRegistry() *tools.Registry {
	r := tools.NewRegistry()
	tools.RegisterCalculators(r)
	return r
}

func TestRunTurnPlainReplyNoTools(t *testing.T) {
	store := inmemory.New()
	provider := &scriptedProvider{turns: []scriptedTurn{{text: "你好，很高興認識你。"}}}
	loop := New(provider, newRegistry(), store, DefaultConfig(), "fast-model", "strong-model")

	events := collectEvents(loop.RunTurn(context.Background(), "u1", "", "你好"))

	require.NotEmpty(t, events)
	assert.Equal(t, domain.EventSessionAssigned, events[0].Kind)
	assertHasKind(t, events, domain.EventText)
	assertHasKind(t, events, domain.EventDone)
}

func TestRunTurnSafetyShortCircuitSkipsLM(t *testing.T) {
	store := inmemory.New()
	provider := &scriptedProvider{turns: []scriptedTurn{{text: "不應該被呼叫"}}}
	loop := New(provider, newRegistry(), store, DefaultConfig(), "fast-model", "strong-model")

	events := collectEvents(loop.RunTurn(context.Background(), "u1", "", "我不想活了"))

	assert.Equal(t, 0, provider.calls)
	assertHasKind(t, events, domain.EventText)
	assertHasKind(t, events, domain.EventDone)
}

func TestRunTurnDispatchesRealToolCall(t *testing.T) {
	store := inmemory.New()
	argsJSON, _ := json.Marshal(map[string]any{
		"birthDate": "1990-07-22", "birthTime": "14:15", "gender": "male",
	})
	provider := &scriptedProvider{turns: []scriptedTurn{
		{calls: []llm.ToolCall{{Name: "calculate_bazi", ID: "call-1", Args: argsJSON}}},
		{text: "根據你的八字命盤，天干地支顯示..."},
	}}
	loop := New(provider, newRegistry(), store, DefaultConfig(), "fast-model", "strong-model")

	events := collectEvents(loop.RunTurn(context.Background(), "u1", "", "幫我算八字，1990年7月22日下午2點15分，男生"))

	var sawExecuting, sawCompleted bool
	for _, ev := range events {
		if ev.Kind == domain.EventTool && ev.ToolName == "calculate_bazi" {
			if ev.ToolPhase == domain.ToolExecuting {
				sawExecuting = true
			}
			if ev.ToolPhase == domain.ToolCompleted {
				sawCompleted = true
			}
		}
	}
	assert.True(t, sawExecuting)
	assert.True(t, sawCompleted)

	locks, err := store.ReadChartLocks(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, locks, 1)
	assert.Equal(t, domain.KindBazi, locks[0].Kind)
}

func TestRunTurnFuseTriggersWhenBirthDataKnownAndNoChart(t *testing.T) {
	store := inmemory.New()
	loop := New(&scriptedProvider{turns: []scriptedTurn{
		{}, // no tool calls, no text: forces fuse evaluation
		{text: "這是你的命盤解讀。"},
	}}, newRegistry(), store, DefaultConfig(), "fast-model", "strong-model")

	date, tme, gender := "1990-07-22", "14:15", "male"
	require.NoError(t, store.UpdateUserFacts(context.Background(), "u1", memory.UserFactPatch{
		BirthDate: &date, BirthTime: &tme, Gender: &gender,
	}))

	events := collectEvents(loop.RunTurn(context.Background(), "u1", "", "幫我算一下命盤"))

	var sawFuse bool
	for _, ev := range events {
		if ev.Kind == domain.EventTool && ev.FuseTriggered {
			sawFuse = true
		}
	}
	assert.True(t, sawFuse)
	assertHasKind(t, events, domain.EventDone)

	locks, err := store.ReadChartLocks(context.Background(), "u1")
	require.NoError(t, err)
	assert.NotEmpty(t, locks)
}

func collectEvents(ch <-chan domain.TurnEvent) []domain.TurnEvent {
	var out []domain.TurnEvent
	for ev := range ch {
		out = append(out, ev)
	}
	return out
}

func assertHasKind(t *testing.T, events []domain.TurnEvent, kind domain.TurnEventKind) {
	t.Helper()
	for _, ev := range events {
		if ev.Kind == kind {
			return
		}
	}
	t.Fatalf("expected an event of kind %s, got %v", kind, events)
}
