package tools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry() *Registry {
	r := NewRegistry()
	r.Register(Descriptor{
		Name: "echo",
		Params: []ParamSpec{
			{Name: "text", Kind: KindString, Required: true},
			{Name: "loud", Kind: KindBool, Required: false},
		},
	}, func(_ context.Context, _ TurnContext, args map[string]any) (any, error) {
		return args, nil
	})
	return r
}

func TestInvokeMissingRequiredParameter(t *testing.T) {
	r := newTestRegistry()
	_, err := r.Invoke(context.Background(), "echo", json.RawMessage(`{}`), TurnContext{})
	require.Error(t, err)
	toolErr, ok := err.(*Error)
	require.True(t, ok)
	assert.Equal(t, ErrMissingParameter, toolErr.Kind)
	assert.Equal(t, "text", toolErr.Param)
}

func TestInvokeInvalidParameterType(t *testing.T) {
	r := newTestRegistry()
	_, err := r.Invoke(context.Background(), "echo", json.RawMessage(`{"text":123}`), TurnContext{})
	require.Error(t, err)
	toolErr, ok := err.(*Error)
	require.True(t, ok)
	assert.Equal(t, ErrInvalidParameter, toolErr.Kind)
}

func TestInvokeUnknownTool(t *testing.T) {
	r := newTestRegistry()
	_, err := r.Invoke(context.Background(), "nope", json.RawMessage(`{}`), TurnContext{})
	require.Error(t, err)
	toolErr, ok := err.(*Error)
	require.True(t, ok)
	assert.Equal(t, ErrUnknownTool, toolErr.Kind)
}

func TestInvokeSucceedsAndNormalizes(t *testing.T) {
	r := NewRegistry()
	r.Register(Descriptor{
		Name: "capture",
		Params: []ParamSpec{
			{Name: "birthDate", Kind: KindString, Required: true},
			{Name: "gender", Kind: KindString, Required: true},
		},
	}, func(_ context.Context, _ TurnContext, args map[string]any) (any, error) {
		return args, nil
	})

	out, err := r.Invoke(context.Background(), "capture", json.RawMessage(`{"birthDate":"90/7/22","gender":"男"}`), TurnContext{})
	require.NoError(t, err)
	got := out.(map[string]any)
	assert.Equal(t, "2090-07-22", got["birthDate"])
	assert.Equal(t, "male", got["gender"])
}

func TestInvokeRecoversHandlerPanic(t *testing.T) {
	r := NewRegistry()
	r.Register(Descriptor{Name: "boom"}, func(_ context.Context, _ TurnContext, _ map[string]any) (any, error) {
		panic("kaboom")
	})
	_, err := r.Invoke(context.Background(), "boom", nil, TurnContext{})
	require.Error(t, err)
	toolErr, ok := err.(*Error)
	require.True(t, ok)
	assert.Equal(t, ErrToolExecution, toolErr.Kind)
}

func TestListIsDeterministic(t *testing.T) {
	r := NewRegistry()
	r.Register(Descriptor{Name: "b"}, func(context.Context, TurnContext, map[string]any) (any, error) { return nil, nil })
	r.Register(Descriptor{Name: "a"}, func(context.Context, TurnContext, map[string]any) (any, error) { return nil, nil })

	names := []string{}
	for _, d := range r.List() {
		names = append(names, d.Name)
	}
	assert.Equal(t, []string{"b", "a"}, names)
}
