// Package llm defines the thin contract the orchestration core uses to talk
// to a remote language model provider, plus a tokenizer/context-window
// helper used for prompt-memory and context-trim budgeting.
package llm

import (
	"context"
	"encoding/json"
)

// FuseSignature is the fixed placeholder opaque signature attached to
// server-synthesised ("fused") tool calls, per spec §4.3: the provider
// requires every tool call, real or synthetic, to carry a signature value.
const FuseSignature = "fuse-synthetic-v1"

// ToolCall is a single function call emitted by the provider.
//
// ThoughtSignature is opaque, provider-specific metadata that must be
// replayed verbatim on the next request or the provider will reject the
// follow-up call. The core never parses it.
type ToolCall struct {
	Name             string
	Args             json.RawMessage
	ID               string
	ThoughtSignature string
}

// Message is one chronological content item: a prior turn, the current
// user message, or a tool result appended so far this turn.
type Message struct {
	Role      string // "system" | "user" | "assistant" | "tool"
	Content   string
	ToolID    string // set on tool-role messages, echoes the originating ToolCall.ID
	ToolCalls []ToolCall
}

// ToolSchema is the provider-facing description of one callable tool.
type ToolSchema struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// StreamHandler receives incremental output from ChatStream in emission
// order.
type StreamHandler interface {
	OnDelta(content string)
	OnToolCall(tc ToolCall)
}

// Provider is a thin adapter over a remote LM. Implementations own their own
// retry policy for transient failures.
type Provider interface {
	Chat(ctx context.Context, msgs []Message, tools []ToolSchema, model string) (Message, error)
	ChatStream(ctx context.Context, msgs []Message, tools []ToolSchema, model string, h StreamHandler) error
}
