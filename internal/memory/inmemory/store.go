// Package inmemory is a process-local implementation of memory.Store,
// grounded on the teacher's persistence/databases/chat_store_memory.go
// mutex-guarded map pattern. It backs unit tests and the dev-mode server.
package inmemory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"aetheria/internal/domain"
	"aetheria/internal/memory"
)

type sessionRecord struct {
	summary domain.SessionSummary
}

// Store is a single-process, mutex-protected memory.Store. All per-user
// state lives under one lock; this trades throughput for the simplicity
// appropriate to tests and the fallback in-process deployment.
type Store struct {
	mu sync.Mutex

	users    map[string]domain.User
	sessions map[string]sessionRecord
	messages map[string][]domain.Message // sessionID -> ordered messages
	sessionOwner map[string]string       // sessionID -> userID

	episodic  map[string][]domain.Message // userID -> window, most recent last
	summaries map[string][]domain.Summary
	profile   map[string]map[string]string

	locks map[string]map[domain.CalculatorKind]domain.ChartLock

	feedback map[string][]feedbackEntry
}

type feedbackEntry struct {
	Rating int
	Note   string
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{
		users:        make(map[string]domain.User),
		sessions:     make(map[string]sessionRecord),
		messages:     make(map[string][]domain.Message),
		sessionOwner: make(map[string]string),
		episodic:     make(map[string][]domain.Message),
		summaries:    make(map[string][]domain.Summary),
		profile:      make(map[string]map[string]string),
		locks:        make(map[string]map[domain.CalculatorKind]domain.ChartLock),
		feedback:     make(map[string][]feedbackEntry),
	}
}

var _ memory.Store = (*Store)(nil)

func (s *Store) EnsureSession(_ context.Context, userID, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[userID]; !ok {
		now := time.Now()
		s.users[userID] = domain.User{ID: userID, CreatedAt: now, UpdatedAt: now}
	}
	if _, ok := s.sessions[sessionID]; !ok {
		now := time.Now()
		s.sessions[sessionID] = sessionRecord{summary: domain.SessionSummary{
			ID: sessionID, UserID: userID, CreatedAt: now, UpdatedAt: now,
		}}
		s.sessionOwner[sessionID] = userID
	}
	return nil
}

func (s *Store) AppendMessage(_ context.Context, msg domain.Message) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	s.messages[msg.SessionID] = append(s.messages[msg.SessionID], msg)

	if rec, ok := s.sessions[msg.SessionID]; ok {
		preview := msg.Content
		if len(preview) > 120 {
			preview = preview[:120]
		}
		rec.summary.LastMessagePreview = preview
		rec.summary.UpdatedAt = msg.CreatedAt
		s.sessions[msg.SessionID] = rec
	}

	if userID, ok := s.sessionOwner[msg.SessionID]; ok {
		s.episodic[userID] = append(s.episodic[userID], msg)
	}
	return msg.ID, nil
}

func (s *Store) ReadRecent(_ context.Context, sessionID string, limit int) ([]domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.messages[sessionID]
	if limit <= 0 || limit >= len(all) {
		out := make([]domain.Message, len(all))
		copy(out, all)
		return out, nil
	}
	out := make([]domain.Message, limit)
	copy(out, all[len(all)-limit:])
	return out, nil
}

func (s *Store) ListSessions(_ context.Context, userID string) ([]domain.SessionSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.SessionSummary
	for sid, owner := range s.sessionOwner {
		if owner != userID {
			continue
		}
		out = append(out, s.sessions[sid].summary)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (s *Store) DeleteSession(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	delete(s.messages, sessionID)
	delete(s.sessionOwner, sessionID)
	return nil
}

func (s *Store) ReadChartLock(_ context.Context, userID string, kind domain.CalculatorKind) (*domain.ChartLock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byKind := s.locks[userID]
	if byKind == nil {
		return nil, nil
	}
	lock, ok := byKind[kind]
	if !ok {
		return nil, nil
	}
	cp := lock
	return &cp, nil
}

func (s *Store) ReadChartLocks(_ context.Context, userID string) ([]domain.ChartLock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byKind := s.locks[userID]
	out := make([]domain.ChartLock, 0, len(byKind))
	for _, lock := range byKind {
		out = append(out, lock)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	return out, nil
}

func (s *Store) WriteChartLock(_ context.Context, userID string, kind domain.CalculatorKind, payload map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locks[userID] == nil {
		s.locks[userID] = make(map[domain.CalculatorKind]domain.ChartLock)
	}
	s.locks[userID][kind] = domain.ChartLock{
		UserID: userID, Kind: kind, Payload: payload, CreatedAt: time.Now(),
	}
	return nil
}

func (s *Store) ReadMemory(_ context.Context, userID string) (domain.MemorySnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	episodic := make([]domain.Message, len(s.episodic[userID]))
	copy(episodic, s.episodic[userID])
	summaries := make([]domain.Summary, len(s.summaries[userID]))
	copy(summaries, s.summaries[userID])
	profile := make(map[string]string, len(s.profile[userID]))
	for k, v := range s.profile[userID] {
		profile[k] = v
	}
	return domain.MemorySnapshot{Episodic: episodic, Summaries: summaries, Profile: profile}, nil
}

func (s *Store) WriteSummary(_ context.Context, userID string, summary domain.Summary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summaries[userID] = append(s.summaries[userID], summary)
	return nil
}

func (s *Store) WriteProfileFact(_ context.Context, userID, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.profile[userID] == nil {
		s.profile[userID] = make(map[string]string)
	}
	s.profile[userID][key] = value
	return nil
}

func (s *Store) GetUser(_ context.Context, userID string) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.users[userID], nil
}

func (s *Store) UpdateUserFacts(_ context.Context, userID string, patch memory.UserFactPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.users[userID]
	u.ID = userID
	if patch.DisplayName != nil {
		u.DisplayName = *patch.DisplayName
	}
	if patch.BirthDate != nil {
		u.BirthDate = *patch.BirthDate
	}
	if patch.BirthTime != nil {
		u.BirthTime = *patch.BirthTime
	}
	if patch.BirthLocation != nil {
		u.BirthLocation = *patch.BirthLocation
	}
	if patch.Longitude != nil {
		u.Longitude = patch.Longitude
	}
	if patch.Latitude != nil {
		u.Latitude = patch.Latitude
	}
	if patch.Gender != nil {
		u.Gender = *patch.Gender
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	u.UpdatedAt = time.Now()
	s.users[userID] = u
	return nil
}

func (s *Store) SearchMessages(_ context.Context, userID, keyword string, limit int) ([]domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	keyword = strings.ToLower(strings.TrimSpace(keyword))
	var out []domain.Message
	for sid, owner := range s.sessionOwner {
		if owner != userID {
			continue
		}
		for _, m := range s.messages[sid] {
			if keyword == "" || strings.Contains(strings.ToLower(m.Content), keyword) {
				out = append(out, m)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) TrimEpisodicWindow(_ context.Context, userID string, keepLastN int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	win := s.episodic[userID]
	if keepLastN <= 0 || keepLastN >= len(win) {
		return nil
	}
	s.episodic[userID] = append([]domain.Message{}, win[len(win)-keepLastN:]...)
	return nil
}

func (s *Store) RecordFeedback(_ context.Context, messageID string, rating int, note string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.feedback[messageID] = append(s.feedback[messageID], feedbackEntry{Rating: rating, Note: note})
	return nil
}
