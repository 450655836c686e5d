// Package memory defines the narrow repository the orchestration core uses
// to read and write users, sessions, messages, chart locks and the
// three-layer memory record. Concrete backends live in the postgres and
// inmemory subpackages.
package memory

import (
	"context"
	"time"

	"aetheria/internal/domain"
)

// Store is the repository contract from spec §4.2. Implementations must
// serialise all writes for a single (userId, sessionId) and give reads a
// read-your-writes view within a single turn.
type Store interface {
	// EnsureSession creates the session row if it does not exist, owned by
	// userID (creating the user row too, on first contact).
	EnsureSession(ctx context.Context, userID, sessionID string) error

	AppendMessage(ctx context.Context, msg domain.Message) (string, error)
	ReadRecent(ctx context.Context, sessionID string, limit int) ([]domain.Message, error)
	ListSessions(ctx context.Context, userID string) ([]domain.SessionSummary, error)
	DeleteSession(ctx context.Context, sessionID string) error

	ReadChartLock(ctx context.Context, userID string, kind domain.CalculatorKind) (*domain.ChartLock, error)
	ReadChartLocks(ctx context.Context, userID string) ([]domain.ChartLock, error)
	WriteChartLock(ctx context.Context, userID string, kind domain.CalculatorKind, payload map[string]any) error

	ReadMemory(ctx context.Context, userID string) (domain.MemorySnapshot, error)
	WriteSummary(ctx context.Context, userID string, summary domain.Summary) error
	WriteProfileFact(ctx context.Context, userID, key, value string) error

	GetUser(ctx context.Context, userID string) (domain.User, error)
	UpdateUserFacts(ctx context.Context, userID string, patch UserFactPatch) error

	SearchMessages(ctx context.Context, userID, keyword string, limit int) ([]domain.Message, error)

	// TrimEpisodicWindow removes the oldest consumed messages from the
	// episodic window view (they remain in the message log) once the
	// auto-summariser has condensed them.
	TrimEpisodicWindow(ctx context.Context, userID string, keepLastN int) error

	RecordFeedback(ctx context.Context, messageID string, rating int, note string) error
}

// UserFactPatch carries only the fields that should be updated; nil means
// "leave unchanged". It is how the extractor and saveUserInsight write facts
// without ever clobbering unrelated fields.
type UserFactPatch struct {
	DisplayName   *string
	BirthDate     *string
	BirthTime     *string
	BirthLocation *string
	Longitude     *float64
	Latitude      *float64
	Gender        *string
	At            time.Time
}
