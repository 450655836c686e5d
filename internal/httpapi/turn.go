package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"aetheria/internal/domain"
)

type turnRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message"`
}

// sseEvent is the wire shape of one Turn Event, matching the exact field
// names each event kind is documented to carry.
type sseEvent struct {
	SessionID string         `json:"session_id,omitempty"`
	Chunk     string         `json:"chunk,omitempty"`
	Type      string         `json:"type,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Compact   bool           `json:"compact,omitempty"`
	Name      string         `json:"name,omitempty"`
	Status    string         `json:"status,omitempty"`
	Args      map[string]any `json:"args,omitempty"`
	FuseTriggered bool       `json:"fuse_triggered,omitempty"`
	TaskName  string         `json:"task_name,omitempty"`
	Progress  float64        `json:"progress,omitempty"`
	Message   string         `json:"message,omitempty"`
}

// handleTurn is the streaming entry point (spec §4.8): one user message in,
// a Server-Sent Events stream of discriminated Turn Events out.
func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	var req turnRequest
	r.Body = http.MaxBytesReader(w, r.Body, 64*1024)
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if req.Message == "" {
		http.Error(w, "message is required", http.StatusBadRequest)
		return
	}

	fl, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	var writeMu sync.Mutex
	writeSSE := func(name string, payload sseEvent) {
		b, err := json.Marshal(payload)
		if err != nil {
			return
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, b)
		fl.Flush()
	}

	ctx := r.Context()
	userID := userIDFromRequest(r)

	stopKeepalive := make(chan struct{})
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stopKeepalive:
				return
			case <-ticker.C:
				writeMu.Lock()
				fmt.Fprint(w, ": keepalive\n\n")
				fl.Flush()
				writeMu.Unlock()
			}
		}
	}()
	defer close(stopKeepalive)

	events := s.loop.RunTurn(ctx, userID, req.SessionID, req.Message)
	for ev := range events {
		name, payload := adaptEvent(ev)
		if name == "" {
			continue
		}
		writeSSE(name, payload)
	}
}

func adaptEvent(ev domain.TurnEvent) (string, sseEvent) {
	switch ev.Kind {
	case domain.EventSessionAssigned:
		return "session", sseEvent{SessionID: ev.SessionID}
	case domain.EventText:
		return "text", sseEvent{Chunk: ev.TextChunk}
	case domain.EventWidget:
		return "widget", sseEvent{Type: ev.WidgetType, Data: ev.WidgetData, Compact: ev.Compact}
	case domain.EventTool:
		return "tool", sseEvent{Name: ev.ToolName, Status: string(ev.ToolPhase), Args: ev.ToolArgs, FuseTriggered: ev.FuseTriggered}
	case domain.EventProgress:
		return "progress", sseEvent{TaskName: ev.ProgressTask, Progress: ev.ProgressFraction, Status: ev.ProgressStatus, Message: ev.ProgressMessage}
	case domain.EventDone:
		return "done", sseEvent{SessionID: ev.SessionID}
	default:
		log.Warn().Str("kind", string(ev.Kind)).Msg("httpapi_unknown_turn_event")
		return "", sseEvent{}
	}
}
