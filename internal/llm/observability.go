package llm

import (
	"context"
	"encoding/json"
	"sync"

	"aetheria/internal/observability"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var (
	mu                   sync.RWMutex
	enablePayloadLogging = false
	truncateBytes        = 0 // 0 means no truncation
)

// ConfigureLogging sets global behavior for prompt/response logging. Call
// once at startup from the config loader.
func ConfigureLogging(enable bool, truncate int) {
	mu.Lock()
	defer mu.Unlock()
	enablePayloadLogging = enable
	truncateBytes = truncate
}

func shouldLog() (bool, int) {
	mu.RLock()
	defer mu.RUnlock()
	return enablePayloadLogging, truncateBytes
}

// StartRequestSpan starts a tracer span for an LLM request and sets common attributes.
func StartRequestSpan(ctx context.Context, operation, model string, tools, messages int) (context.Context, trace.Span) {
	ctx, span := otel.Tracer("internal/llm").Start(ctx, operation)
	span.SetAttributes(
		attribute.String("llm.model", model),
		attribute.Int("llm.tools", tools),
		attribute.Int("llm.messages", messages),
	)
	return ctx, span
}

// LogRedactedPrompt logs a redacted copy of the outgoing messages at debug
// level. No-op unless ConfigureLogging(true, ...) was called.
func LogRedactedPrompt(ctx context.Context, msgs []Message) {
	logRedacted(ctx, "llm_request", "prompt", msgs)
}

// LogRedactedResponse logs a redacted copy of the provider response at debug level.
func LogRedactedResponse(ctx context.Context, resp any) {
	logRedacted(ctx, "llm_response", "response", resp)
}

func logRedacted(ctx context.Context, event, field string, payload any) {
	ok, limit := shouldLog()
	if !ok {
		return
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return
	}
	red := observability.RedactJSON(b)
	if limit > 0 && len(red) > limit {
		red, _ = json.Marshal(map[string]any{"truncated": true, "preview": string(red[:limit])})
	}
	log := observability.LoggerWithTrace(ctx)
	entry := log.With().RawJSON(field, red).Logger()
	entry.Debug().Msg(event)
}

// RecordTokenAttributes sets token count attributes on the provided span.
func RecordTokenAttributes(span trace.Span, promptTokens, completionTokens, totalTokens int) {
	if span == nil {
		return
	}
	span.SetAttributes(
		attribute.Int("llm.prompt_tokens", promptTokens),
		attribute.Int("llm.completion_tokens", completionTokens),
		attribute.Int("llm.total_tokens", totalTokens),
	)
}
