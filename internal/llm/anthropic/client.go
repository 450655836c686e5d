// Package anthropic adapts github.com/anthropics/anthropic-sdk-go to the
// llm.Provider contract, grounded on the teacher's internal/llm/anthropic
// client: same message/tool adaptation shape, same opaque-signature
// handling, same span/log wiring. The teacher's token-dashboard concerns
// were dropped; extended-thinking blocks are kept only for the
// ThoughtSignature round-trip (see DESIGN.md).
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"
	"github.com/cenkalti/backoff/v5"

	"aetheria/internal/config"
	"aetheria/internal/llm"
	"aetheria/internal/observability"
)

const defaultMaxTokens int64 = 4096

// Client is a retrying llm.Provider backed by the Anthropic Messages API.
type Client struct {
	sdk         anthropic.Client
	fastModel   string
	strongModel string
	maxTokens   int64
}

// New builds a Client from the resolved Anthropic config.
func New(cfg config.AnthropicConfig, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	opts := []option.RequestOption{
		option.WithAPIKey(strings.TrimSpace(cfg.APIKey)),
		option.WithHTTPClient(httpClient),
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimSuffix(base, "/")))
	}
	fast := strings.TrimSpace(cfg.FastModel)
	if fast == "" {
		fast = string(anthropic.ModelClaudeHaiku4_5)
	}
	strong := strings.TrimSpace(cfg.StrongModel)
	if strong == "" {
		strong = string(anthropic.ModelClaudeSonnet4_5)
	}
	return &Client{
		sdk:         anthropic.NewClient(opts...),
		fastModel:   fast,
		strongModel: strong,
		maxTokens:   defaultMaxTokens,
	}
}

// Tokenizer returns an accurate, API-backed token counter scoped to the
// fast-tier model, implementing llm.TokenizableProvider.
func (c *Client) Tokenizer() llm.Tokenizer {
	return NewMessagesTokenizer(c.sdk, c.fastModel)
}

var _ llm.TokenizableProvider = (*Client)(nil)

// FastModel is the interactive-dialogue tier model name.
func (c *Client) FastModel() string { return c.fastModel }

// StrongModel is the long-synthesis tier model name.
func (c *Client) StrongModel() string { return c.strongModel }

func (c *Client) pickModel(model string) string {
	if m := strings.TrimSpace(model); m != "" {
		return m
	}
	return c.fastModel
}

// retry implements spec §4.3: exponential backoff (5s, 10s, 20s),
// bounded at 3 retries, only for transient failures (rate limit, timeout,
// 5xx). Anything else is returned immediately as a permanent error.
func (c *Client) retry(ctx context.Context, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Second
	b.Multiplier = 2
	b.RandomizationFactor = 0

	attempt := 0
	for {
		err := op()
		if err == nil {
			return nil
		}
		if !isTransient(err) || attempt >= 3 {
			return err
		}
		wait := b.NextBackOff()
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		attempt++
	}
}

func isTransient(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusTooManyRequests, http.StatusRequestTimeout:
			return true
		}
		if apiErr.StatusCode >= 500 {
			return true
		}
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded") ||
		strings.Contains(msg, "connection reset") || strings.Contains(msg, "eof")
}

func (c *Client) Chat(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, model string) (llm.Message, error) {
	sys, converted, err := adaptMessages(msgs)
	if err != nil {
		return llm.Message{}, err
	}
	toolDefs, err := adaptTools(tools)
	if err != nil {
		return llm.Message{}, err
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.pickModel(model)),
		Messages:  converted,
		System:    sys,
		Tools:     toolDefs,
		MaxTokens: c.maxTokens,
	}

	ctx, span := llm.StartRequestSpan(ctx, "Anthropic Chat", string(params.Model), len(tools), len(msgs))
	defer span.End()
	llm.LogRedactedPrompt(ctx, msgs)
	log := observability.LoggerWithTrace(ctx)

	var resp *anthropic.Message
	start := time.Now()
	err = c.retry(ctx, func() error {
		r, err := c.sdk.Messages.New(ctx, params)
		if err != nil {
			return err
		}
		resp = r
		return nil
	})
	dur := time.Since(start)
	if err != nil {
		span.RecordError(err)
		log.Error().Err(err).Str("model", string(params.Model)).Dur("duration", dur).Msg("anthropic_chat_error")
		return llm.Message{}, err
	}

	llm.LogRedactedResponse(ctx, resp)
	out := messageFromResponse(resp)

	promptTokens := int(resp.Usage.CacheCreationInputTokens + resp.Usage.CacheReadInputTokens + resp.Usage.InputTokens)
	completionTokens := int(resp.Usage.OutputTokens)
	llm.RecordTokenAttributes(span, promptTokens, completionTokens, promptTokens+completionTokens)

	log.Debug().Str("model", string(params.Model)).Dur("duration", dur).
		Int("prompt_tokens", promptTokens).Int("completion_tokens", completionTokens).
		Msg("anthropic_chat_ok")
	return out, nil
}

func (c *Client) ChatStream(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, model string, h llm.StreamHandler) error {
	sys, converted, err := adaptMessages(msgs)
	if err != nil {
		return err
	}
	toolDefs, err := adaptTools(tools)
	if err != nil {
		return err
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.pickModel(model)),
		Messages:  converted,
		System:    sys,
		Tools:     toolDefs,
		MaxTokens: c.maxTokens,
	}

	ctx, span := llm.StartRequestSpan(ctx, "Anthropic ChatStream", string(params.Model), len(tools), len(msgs))
	defer span.End()
	llm.LogRedactedPrompt(ctx, msgs)
	log := observability.LoggerWithTrace(ctx)

	start := time.Now()
	var streamErr error
	var acc anthropic.Message
	toolBuffers := map[int]*toolBuffer{}
	hasDelta := false

	// An attempt is retried only while no text delta has reached the
	// handler: once tokens have reached the client, replaying the whole call
	// would duplicate output, so a later failure is returned as-is.
	var deliveredErr error
	streamErr = c.retry(ctx, func() error {
		acc = anthropic.Message{}
		toolBuffers = map[int]*toolBuffer{}
		hasDelta = false

		stream := c.sdk.Messages.NewStreaming(ctx, params)
		defer func() { _ = stream.Close() }()

		for stream.Next() {
			event := stream.Current()
			_ = acc.Accumulate(event)

			switch ev := event.AsAny().(type) {
			case anthropic.ContentBlockStartEvent:
				if block, ok := ev.ContentBlock.AsAny().(anthropic.ToolUseBlock); ok {
					id := strings.TrimSpace(block.ID)
					if id == "" {
						id = fmt.Sprintf("call-%d", len(toolBuffers)+1)
					}
					tb := &toolBuffer{name: block.Name, id: id}
					tb.appendInitial(block.Input)
					toolBuffers[int(ev.Index)] = tb
				}
			case anthropic.ContentBlockDeltaEvent:
				switch delta := ev.Delta.AsAny().(type) {
				case anthropic.TextDelta:
					if h != nil && delta.Text != "" {
						h.OnDelta(delta.Text)
						hasDelta = true
					}
				case anthropic.InputJSONDelta:
					if tb := toolBuffers[int(ev.Index)]; tb != nil {
						tb.appendPartial(delta.PartialJSON)
					}
				}
			}
		}
		if err := stream.Err(); err != nil && hasDelta {
			deliveredErr = err
			return nil
		}
		return stream.Err()
	})
	if streamErr == nil {
		streamErr = deliveredErr
	}

	if streamErr != nil {
		span.RecordError(streamErr)
		log.Error().Err(streamErr).Str("model", string(params.Model)).Dur("duration", time.Since(start)).Msg("anthropic_stream_error")
		return streamErr
	}

	msg := messageFromResponse(&acc)
	hasStreamedDeltas := false
	for _, tb := range toolBuffers {
		if tb != nil && tb.hasDeltas {
			hasStreamedDeltas = true
			break
		}
	}

	var sig string
	if len(msg.ToolCalls) > 0 {
		sig = msg.ToolCalls[0].ThoughtSignature
	}
	emit := func() {
		indices := make([]int, 0, len(toolBuffers))
		for i := range toolBuffers {
			indices = append(indices, i)
		}
		sort.Ints(indices)
		for _, idx := range indices {
			if tb := toolBuffers[idx]; tb != nil && h != nil {
				tc := tb.toToolCall()
				tc.ThoughtSignature = sig
				h.OnToolCall(tc)
			}
		}
	}
	switch {
	case len(toolBuffers) > 0 && hasStreamedDeltas:
		emit()
	case len(msg.ToolCalls) > 0:
		for _, tc := range msg.ToolCalls {
			if h != nil {
				h.OnToolCall(tc)
			}
		}
	case len(toolBuffers) > 0:
		emit()
	}
	if !hasDelta && h != nil && msg.Content != "" {
		h.OnDelta(msg.Content)
	}

	dur := time.Since(start)
	log.Debug().Str("model", string(params.Model)).Dur("duration", dur).Msg("anthropic_stream_ok")
	return nil
}

func adaptTools(tools []llm.ToolSchema) ([]anthropic.ToolUnionParam, error) {
	if len(tools) == 0 {
		return nil, nil
	}
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		name := strings.TrimSpace(t.Name)
		if name == "" {
			return nil, fmt.Errorf("anthropic provider: tool name required")
		}
		schema := anthropic.ToolInputSchemaParam{Type: constant.ValueOf[constant.Object]()}
		extras := map[string]any{}
		for k, v := range t.Parameters {
			extras[k] = v
		}
		if props, ok := extras["properties"]; ok {
			schema.Properties = props
			delete(extras, "properties")
		}
		if req, ok := extras["required"]; ok {
			delete(extras, "required")
			switch v := req.(type) {
			case []string:
				schema.Required = v
			case []any:
				for _, item := range v {
					if s, ok := item.(string); ok {
						schema.Required = append(schema.Required, s)
					}
				}
			}
		}
		delete(extras, "type")
		if len(extras) > 0 {
			schema.ExtraFields = extras
		}
		param := anthropic.ToolParam{Name: name, InputSchema: schema}
		if desc := strings.TrimSpace(t.Description); desc != "" {
			param.Description = anthropic.String(desc)
		}
		out = append(out, anthropic.ToolUnionParam{OfTool: &param})
	}
	return out, nil
}

func adaptMessages(msgs []llm.Message) ([]anthropic.TextBlockParam, []anthropic.MessageParam, error) {
	if len(msgs) == 0 {
		return nil, nil, fmt.Errorf("messages required")
	}
	var system []anthropic.TextBlockParam
	out := make([]anthropic.MessageParam, 0, len(msgs))
	toolResultCount := 0

	for _, m := range msgs {
		role := strings.ToLower(strings.TrimSpace(m.Role))
		switch role {
		case "system":
			if strings.TrimSpace(m.Content) != "" {
				system = append(system, anthropic.TextBlockParam{Text: m.Content})
			}
		case "user":
			if strings.TrimSpace(m.Content) != "" {
				out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
			}
		case "assistant":
			var blocks []anthropic.ContentBlockParamUnion
			// Thinking blocks must lead the assistant message; replay the
			// first tool call's signature verbatim or the follow-up request
			// is rejected.
			for _, tc := range m.ToolCalls {
				if tc.ThoughtSignature == "" || tc.ThoughtSignature == llm.FuseSignature {
					continue
				}
				var saved []thinkingData
				if err := json.Unmarshal([]byte(tc.ThoughtSignature), &saved); err == nil {
					for _, td := range saved {
						blocks = append(blocks, anthropic.NewThinkingBlock(td.Signature, td.Thinking))
					}
				}
				break
			}
			if strings.TrimSpace(m.Content) != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			for i, tc := range m.ToolCalls {
				id := strings.TrimSpace(tc.ID)
				if id == "" {
					id = fmt.Sprintf("call-%d", i+1)
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(id, decodeArgs(tc.Args), tc.Name))
			}
			if len(blocks) > 0 {
				out = append(out, anthropic.NewAssistantMessage(blocks...))
			}
		case "tool":
			id := strings.TrimSpace(m.ToolID)
			if id == "" {
				toolResultCount++
				id = fmt.Sprintf("tool-result-%d", toolResultCount)
			}
			out = append(out, anthropic.NewUserMessage(anthropic.NewToolResultBlock(id, m.Content, false)))
		default:
			return nil, nil, fmt.Errorf("unsupported role for anthropic provider: %s", m.Role)
		}
	}
	return system, out, nil
}

func decodeArgs(raw json.RawMessage) any {
	if len(raw) == 0 {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err == nil {
		return m
	}
	return map[string]any{}
}

// thinkingData is the wire shape ThoughtSignature carries across turns: the
// extended-thinking blocks that preceded a tool call, so adaptMessages can
// replay them verbatim on the follow-up request.
type thinkingData struct {
	Signature string `json:"signature"`
	Thinking  string `json:"thinking"`
}

func messageFromResponse(resp *anthropic.Message) llm.Message {
	if resp == nil {
		return llm.Message{}
	}
	var sb strings.Builder
	var calls []llm.ToolCall
	var thinkingBlocks []thinkingData
	callIdx := 0
	for _, block := range resp.Content {
		switch v := block.AsAny().(type) {
		case anthropic.ThinkingBlock:
			thinkingBlocks = append(thinkingBlocks, thinkingData{Signature: v.Signature, Thinking: v.Thinking})
		case anthropic.TextBlock:
			sb.WriteString(v.Text)
		case anthropic.ToolUseBlock:
			callIdx++
			id := strings.TrimSpace(v.ID)
			if id == "" {
				id = fmt.Sprintf("call-%d", callIdx)
			}
			args := v.Input
			if len(args) == 0 {
				args = json.RawMessage("{}")
			}
			calls = append(calls, llm.ToolCall{Name: v.Name, Args: args, ID: id})
		}
	}
	// A thinking block, when present, precedes every tool_use block in the
	// same response; every tool call this turn replays the same signature.
	if len(thinkingBlocks) > 0 {
		if encoded, err := json.Marshal(thinkingBlocks); err == nil {
			sig := string(encoded)
			for i := range calls {
				calls[i].ThoughtSignature = sig
			}
		}
	}
	return llm.Message{Role: "assistant", Content: sb.String(), ToolCalls: calls}
}

type toolBuffer struct {
	name      string
	id        string
	buf       strings.Builder
	hasDeltas bool
}

func (tb *toolBuffer) appendInitial(raw json.RawMessage) {
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	tb.buf.WriteString(string(raw))
}

func (tb *toolBuffer) appendPartial(partial string) {
	if partial == "" {
		return
	}
	if !tb.hasDeltas {
		tb.buf.Reset()
		tb.hasDeltas = true
	}
	tb.buf.WriteString(partial)
}

func (tb *toolBuffer) toToolCall() llm.ToolCall {
	trimmed := strings.TrimSpace(tb.buf.String())
	if trimmed == "" {
		trimmed = "{}"
	}
	if !strings.HasPrefix(trimmed, "{") {
		trimmed = "{" + trimmed
	}
	if !strings.HasSuffix(trimmed, "}") {
		trimmed += "}"
	}
	if !json.Valid([]byte(trimmed)) {
		trimmed = "{}"
	}
	return llm.ToolCall{Name: tb.name, Args: json.RawMessage(trimmed), ID: tb.id}
}
