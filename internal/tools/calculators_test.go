package tools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculateBaziIsDeterministic(t *testing.T) {
	r := NewRegistry()
	RegisterCalculators(r)

	args := json.RawMessage(`{"birthDate":"1990-07-22","birthTime":"14:15","gender":"male"}`)
	out1, err := r.Invoke(context.Background(), "calculate_bazi", args, TurnContext{})
	require.NoError(t, err)
	out2, err := r.Invoke(context.Background(), "calculate_bazi", args, TurnContext{})
	require.NoError(t, err)
	assert.Equal(t, out1, out2)
}

func TestDrawTarotWithSeedIsReplayable(t *testing.T) {
	r := NewRegistry()
	RegisterCalculators(r)

	args := json.RawMessage(`{"question":"will it work out","spread":"three_card","seed":42}`)
	out1, err := r.Invoke(context.Background(), "draw_tarot", args, TurnContext{})
	require.NoError(t, err)
	out2, err := r.Invoke(context.Background(), "draw_tarot", args, TurnContext{})
	require.NoError(t, err)

	cards1 := out1.(map[string]any)["cards"]
	cards2 := out2.(map[string]any)["cards"]
	assert.Equal(t, cards1, cards2)
}

func TestDrawTarotWithoutSeedStillReplayableForSameQuestion(t *testing.T) {
	r := NewRegistry()
	RegisterCalculators(r)

	args := json.RawMessage(`{"question":"career outlook"}`)
	out1, err := r.Invoke(context.Background(), "draw_tarot", args, TurnContext{})
	require.NoError(t, err)
	out2, err := r.Invoke(context.Background(), "draw_tarot", args, TurnContext{})
	require.NoError(t, err)
	assert.Equal(t, out1, out2)
}

func TestCalculateBaziMissingGender(t *testing.T) {
	r := NewRegistry()
	RegisterCalculators(r)

	_, err := r.Invoke(context.Background(), "calculate_bazi", json.RawMessage(`{"birthDate":"1990-07-22","birthTime":"14:15"}`), TurnContext{})
	require.Error(t, err)
	toolErr, ok := err.(*Error)
	require.True(t, ok)
	assert.Equal(t, ErrMissingParameter, toolErr.Kind)
}
