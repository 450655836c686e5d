package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aetheria/internal/domain"
	"aetheria/internal/memory/inmemory"
)

func TestSaveUserInsightThenGetUserProfile(t *testing.T) {
	store := inmemory.New()
	r := NewRegistry()
	RegisterSupportTools(r, store, NewGeocodeClient("", ""))

	require.NoError(t, store.EnsureSession(context.Background(), "u1", "s1"))

	_, err := r.Invoke(context.Background(), "saveUserInsight", json.RawMessage(`{"key":"occupation","value":"designer"}`), TurnContext{UserID: "u1"})
	require.NoError(t, err)

	out, err := r.Invoke(context.Background(), "getUserProfile", nil, TurnContext{UserID: "u1"})
	require.NoError(t, err)
	profile := out.(map[string]any)["profile"].(map[string]string)
	assert.Equal(t, "designer", profile["occupation"])
}

func TestSearchConversationHistoryFindsKeyword(t *testing.T) {
	store := inmemory.New()
	r := NewRegistry()
	RegisterSupportTools(r, store, NewGeocodeClient("", ""))

	require.NoError(t, store.EnsureSession(context.Background(), "u1", "s1"))
	_, err := store.AppendMessage(context.Background(), domain.Message{SessionID: "s1", Role: domain.RoleUser, Content: "I work as a baker"})
	require.NoError(t, err)

	out, err := r.Invoke(context.Background(), "searchConversationHistory", json.RawMessage(`{"keyword":"baker"}`), TurnContext{UserID: "u1"})
	require.NoError(t, err)
	matches := out.(map[string]any)["matches"].([]map[string]any)
	require.Len(t, matches, 1)
}

func TestGetLocationResolvesViaBackend(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"lat": 22.63, "lon": 120.3, "timezone": "Asia/Taipei"})
	}))
	t.Cleanup(srv.Close)

	r := NewRegistry()
	RegisterSupportTools(r, inmemory.New(), NewGeocodeClient(srv.URL, ""))

	out, err := r.Invoke(context.Background(), "getLocation", json.RawMessage(`{"place":"Kaohsiung"}`), TurnContext{})
	require.NoError(t, err)
	result := out.(map[string]any)
	assert.Equal(t, "Asia/Taipei", result["timezone"])
}

func TestGetLocationMissingBackendIsToolExecutionError(t *testing.T) {
	r := NewRegistry()
	RegisterSupportTools(r, inmemory.New(), NewGeocodeClient("", ""))

	_, err := r.Invoke(context.Background(), "getLocation", json.RawMessage(`{"place":"Kaohsiung"}`), TurnContext{})
	require.Error(t, err)
	toolErr, ok := err.(*Error)
	require.True(t, ok)
	assert.Equal(t, ErrToolExecution, toolErr.Kind)
}
