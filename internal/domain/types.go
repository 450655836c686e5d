// Package domain holds the core data types shared across the orchestration
// core: users, sessions, messages, chart locks, memory records and the
// discriminated turn events streamed to clients.
package domain

import "time"

// User carries the known facts the core has collected about a person.
// Any field may be absent (zero value); the core never invents a value that
// did not come from a user message or an explicit profile-update tool call.
type User struct {
	ID            string
	DisplayName   string
	BirthDate     string // "YYYY-MM-DD", Gregorian
	BirthTime     string // "HH:MM", 24h
	BirthLocation string
	Longitude     *float64
	Latitude      *float64
	Gender        string // "male" | "female" | ""
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// HasBirthData reports whether enough facts are known to attempt a chart
// computation (date, time and gender are the minimum shared requirement
// across the calculators).
func (u User) HasBirthData() bool {
	return u.BirthDate != "" && u.BirthTime != "" && u.Gender != ""
}

// Role enumerates message authorship.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Citation references an excerpt from a named system used to ground a reply.
type Citation struct {
	Source  string `json:"source"`
	Excerpt string `json:"excerpt"`
}

// ToolCallRef records that a tool was invoked while producing a message.
type ToolCallRef struct {
	Name          string `json:"name"`
	ToolID        string `json:"tool_id"`
	FuseTriggered bool   `json:"fuse_triggered,omitempty"`
}

// Widget is a structured payload rendered alongside message text.
type Widget struct {
	Type    string         `json:"type"`
	Data    map[string]any `json:"data"`
	Compact bool           `json:"compact,omitempty"`
}

// Message is immutable once appended to a session.
type Message struct {
	ID         string
	SessionID  string
	Role       Role
	Content    string
	Widget     *Widget
	Citations  []Citation
	ToolCalls  []ToolCallRef
	CreatedAt  time.Time
}

// SessionSummary is the list-view projection of a Session.
type SessionSummary struct {
	ID                  string
	UserID              string
	LastMessagePreview  string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// CalculatorKind enumerates the fixed set of supported domain calculators.
type CalculatorKind string

const (
	KindBazi        CalculatorKind = "bazi"
	KindZiwei       CalculatorKind = "ziwei"
	KindWestern     CalculatorKind = "western_astrology"
	KindHumanDesign CalculatorKind = "human_design"
	KindTarot       CalculatorKind = "tarot"
	KindNumerology  CalculatorKind = "numerology"
)

// ChartLock is the cached structured result of a calculator for a given
// (user, kind) pair. At most one lock exists per pair; a new write
// supersedes the previous one.
type ChartLock struct {
	UserID    string
	Kind      CalculatorKind
	Payload   map[string]any
	CreatedAt time.Time
}

// Summary is a condensed long-term recap of a contiguous message range.
type Summary struct {
	UserID     string
	RangeStart time.Time
	RangeEnd   time.Time
	Size       int
	Text       string
	CreatedAt  time.Time
}

// MemorySnapshot is the three-layer memory read for a single turn.
type MemorySnapshot struct {
	Episodic  []Message
	Summaries []Summary
	Profile   map[string]string
}

// TurnEventKind discriminates the event union streamed to the client.
type TurnEventKind string

const (
	EventSessionAssigned TurnEventKind = "session"
	EventText            TurnEventKind = "text"
	EventWidget          TurnEventKind = "widget"
	EventTool            TurnEventKind = "tool"
	EventProgress        TurnEventKind = "progress"
	EventDone            TurnEventKind = "done"
)

// ToolPhase enumerates the lifecycle of a tool invocation as observed by the
// client.
type ToolPhase string

const (
	ToolExecuting ToolPhase = "executing"
	ToolCompleted ToolPhase = "completed"
	ToolFailed    ToolPhase = "failed"
)

// TurnEvent is a single discriminated value emitted during a turn. Exactly
// one of the payload fields is meaningful, selected by Kind.
type TurnEvent struct {
	Kind TurnEventKind

	SessionID string // EventSessionAssigned, EventDone

	TextChunk string // EventText

	WidgetType string         // EventWidget
	WidgetData map[string]any // EventWidget
	Compact    bool           // EventWidget

	ToolName      string // EventTool
	ToolPhase     ToolPhase
	ToolArgs      map[string]any
	FuseTriggered bool

	ProgressTask     string // EventProgress
	ProgressFraction float64
	ProgressStatus   string
	ProgressMessage  string
}
