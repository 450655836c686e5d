package sanitize

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPushBuffersBelowWindowWithoutTerminator(t *testing.T) {
	s := New("zh-Hant", nil)
	out := s.Push("短文字")
	assert.Empty(t, out)
}

func TestPushEmitsOnSentenceTerminator(t *testing.T) {
	s := New("zh-Hant", nil)
	out := s.Push("你好。")
	assert.Equal(t, "你好。", out)
}

func TestPushStripsNonAllowedCharacters(t *testing.T) {
	s := New("zh-Hant", nil)
	out := s.Push("你好Привет世界。")
	assert.Equal(t, "你好世界。", out)
}

func TestLeakedToolCallSplitAcrossChunksIsSuppressedAndParsed(t *testing.T) {
	var calls []ParsedToolCall
	s := New("zh-Hant", func(c ParsedToolCall) { calls = append(calls, c) })

	var emitted strings.Builder
	emitted.WriteString(s.Push("``"))
	emitted.WriteString(s.Push("`tool_code\nprint(default_api.calculate_K(x=1))```"))
	emitted.WriteString(s.Flush())

	assert.NotContains(t, emitted.String(), "tool_code")
	assert.NotContains(t, emitted.String(), "default_api")
	require.Len(t, calls, 1)
	assert.Equal(t, "calculate_K", calls[0].Name)
	assert.Equal(t, "1", calls[0].Args["x"])
}

func TestDefaultAPICallWithoutFenceIsAlsoCaught(t *testing.T) {
	var calls []ParsedToolCall
	s := New("zh-Hant", func(c ParsedToolCall) { calls = append(calls, c) })

	out := s.Push("好的default_api.lookup(city='NYC')接下來。")
	out += s.Flush()

	assert.NotContains(t, out, "default_api")
	require.Len(t, calls, 1)
	assert.Equal(t, "lookup", calls[0].Name)
}

func TestFlushEmitsRemainderEvenBelowWindow(t *testing.T) {
	s := New("zh-Hant", nil)
	_ = s.Push("短")
	out := s.Flush()
	assert.Equal(t, "短", out)
}
