// Package postgres implements memory.Store on top of pgx/v5, following the
// teacher's persistence/databases/chat_store_postgres.go schema-ownership
// style: raw SQL, CREATE TABLE IF NOT EXISTS in Init, no migrations engine.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"aetheria/internal/domain"
	"aetheria/internal/memory"
)

// Store is a Postgres-backed memory.Store.
type Store struct {
	pool        *pgxpool.Pool
	episodicCap int
}

// New wraps an existing pool. Call Init once at startup. episodicWindow caps
// how many recent messages ReadMemory returns as episodic context; callers
// should pass config.Config.EpisodicWindowSize so this backend honors the
// same knob the in-memory backend does. A non-positive value falls back to
// 20, the size this backend always used before the window was configurable.
func New(pool *pgxpool.Pool, episodicWindow int) *Store {
	if episodicWindow <= 0 {
		episodicWindow = 20
	}
	return &Store{pool: pool, episodicCap: episodicWindow}
}

var _ memory.Store = (*Store)(nil)

// Init creates the tables this store owns if they do not already exist.
func (s *Store) Init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			display_name TEXT NOT NULL DEFAULT '',
			birth_date TEXT NOT NULL DEFAULT '',
			birth_time TEXT NOT NULL DEFAULT '',
			birth_location TEXT NOT NULL DEFAULT '',
			longitude DOUBLE PRECISION,
			latitude DOUBLE PRECISION,
			gender TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			last_message_preview TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id, updated_at DESC)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			user_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			widget_json JSONB,
			citations_json JSONB,
			tool_calls_json JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_user ON messages(user_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS chart_locks (
			user_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			payload_json JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (user_id, kind)
		)`,
		`CREATE TABLE IF NOT EXISTS memory_summaries (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			range_start TIMESTAMPTZ NOT NULL,
			range_end TIMESTAMPTZ NOT NULL,
			size INTEGER NOT NULL,
			text TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_summaries_user ON memory_summaries(user_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS memory_profile (
			user_id TEXT NOT NULL,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (user_id, key)
		)`,
		`CREATE TABLE IF NOT EXISTS message_feedback (
			id TEXT PRIMARY KEY,
			message_id TEXT NOT NULL,
			rating INTEGER NOT NULL,
			note TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`ALTER TABLE users ADD COLUMN IF NOT EXISTS episodic_trim_cursor TIMESTAMPTZ`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres store init: %w", err)
		}
	}
	return nil
}

func (s *Store) EnsureSession(ctx context.Context, userID, sessionID string) error {
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO users (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`, userID); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sessions (id, user_id) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING`,
		sessionID, userID)
	return err
}

func (s *Store) AppendMessage(ctx context.Context, msg domain.Message) (string, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	var userID string
	if err := s.pool.QueryRow(ctx, `SELECT user_id FROM sessions WHERE id = $1`, msg.SessionID).Scan(&userID); err != nil {
		return "", fmt.Errorf("resolve session owner: %w", err)
	}

	widgetJSON, _ := json.Marshal(msg.Widget)
	citationsJSON, _ := json.Marshal(msg.Citations)
	toolCallsJSON, _ := json.Marshal(msg.ToolCalls)

	_, err := s.pool.Exec(ctx, `
		INSERT INTO messages (id, session_id, user_id, role, content, widget_json, citations_json, tool_calls_json)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		msg.ID, msg.SessionID, userID, string(msg.Role), msg.Content, widgetJSON, citationsJSON, toolCallsJSON)
	if err != nil {
		return "", err
	}

	preview := msg.Content
	if len(preview) > 120 {
		preview = preview[:120]
	}
	_, err = s.pool.Exec(ctx,
		`UPDATE sessions SET last_message_preview = $1, updated_at = NOW() WHERE id = $2`,
		preview, msg.SessionID)
	return msg.ID, err
}

func scanMessage(row pgx.Row) (domain.Message, error) {
	var m domain.Message
	var role string
	var widgetJSON, citationsJSON, toolCallsJSON []byte
	if err := row.Scan(&m.ID, &m.SessionID, &role, &m.Content, &widgetJSON, &citationsJSON, &toolCallsJSON, &m.CreatedAt); err != nil {
		return m, err
	}
	m.Role = domain.Role(role)
	if len(widgetJSON) > 0 {
		_ = json.Unmarshal(widgetJSON, &m.Widget)
	}
	if len(citationsJSON) > 0 {
		_ = json.Unmarshal(citationsJSON, &m.Citations)
	}
	if len(toolCallsJSON) > 0 {
		_ = json.Unmarshal(toolCallsJSON, &m.ToolCalls)
	}
	return m, nil
}

func (s *Store) ReadRecent(ctx context.Context, sessionID string, limit int) ([]domain.Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, session_id, role, content, widget_json, citations_json, tool_calls_json, created_at
		FROM messages WHERE session_id = $1 ORDER BY created_at DESC LIMIT $2`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, rows.Err()
}

func (s *Store) ListSessions(ctx context.Context, userID string) ([]domain.SessionSummary, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, last_message_preview, created_at, updated_at
		FROM sessions WHERE user_id = $1 ORDER BY updated_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.SessionSummary
	for rows.Next() {
		var s domain.SessionSummary
		if err := rows.Scan(&s.ID, &s.UserID, &s.LastMessagePreview, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, sessionID)
	return err
}

func (s *Store) ReadChartLock(ctx context.Context, userID string, kind domain.CalculatorKind) (*domain.ChartLock, error) {
	var lock domain.ChartLock
	var payload []byte
	err := s.pool.QueryRow(ctx,
		`SELECT user_id, kind, payload_json, created_at FROM chart_locks WHERE user_id = $1 AND kind = $2`,
		userID, string(kind)).Scan(&lock.UserID, (*string)(&lock.Kind), &payload, &lock.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	_ = json.Unmarshal(payload, &lock.Payload)
	return &lock, nil
}

func (s *Store) ReadChartLocks(ctx context.Context, userID string) ([]domain.ChartLock, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT user_id, kind, payload_json, created_at FROM chart_locks WHERE user_id = $1 ORDER BY kind`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.ChartLock
	for rows.Next() {
		var lock domain.ChartLock
		var payload []byte
		if err := rows.Scan(&lock.UserID, (*string)(&lock.Kind), &payload, &lock.CreatedAt); err != nil {
			return nil, err
		}
		_ = json.Unmarshal(payload, &lock.Payload)
		out = append(out, lock)
	}
	return out, rows.Err()
}

func (s *Store) WriteChartLock(ctx context.Context, userID string, kind domain.CalculatorKind, payload map[string]any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO chart_locks (user_id, kind, payload_json, created_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (user_id, kind) DO UPDATE SET payload_json = EXCLUDED.payload_json, created_at = NOW()`,
		userID, string(kind), b)
	return err
}

func (s *Store) ReadMemory(ctx context.Context, userID string) (domain.MemorySnapshot, error) {
	var snap domain.MemorySnapshot
	snap.Profile = make(map[string]string)

	rows, err := s.pool.Query(ctx, `
		SELECT id, session_id, role, content, widget_json, citations_json, tool_calls_json, created_at
		FROM messages WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`, userID, s.episodicCap)
	if err != nil {
		return snap, err
	}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			rows.Close()
			return snap, err
		}
		snap.Episodic = append(snap.Episodic, m)
	}
	rows.Close()
	for i, j := 0, len(snap.Episodic)-1; i < j; i, j = i+1, j-1 {
		snap.Episodic[i], snap.Episodic[j] = snap.Episodic[j], snap.Episodic[i]
	}

	srows, err := s.pool.Query(ctx, `
		SELECT user_id, range_start, range_end, size, text, created_at
		FROM memory_summaries WHERE user_id = $1 ORDER BY created_at`, userID)
	if err != nil {
		return snap, err
	}
	for srows.Next() {
		var sm domain.Summary
		if err := srows.Scan(&sm.UserID, &sm.RangeStart, &sm.RangeEnd, &sm.Size, &sm.Text, &sm.CreatedAt); err != nil {
			srows.Close()
			return snap, err
		}
		snap.Summaries = append(snap.Summaries, sm)
	}
	srows.Close()

	prows, err := s.pool.Query(ctx, `SELECT key, value FROM memory_profile WHERE user_id = $1`, userID)
	if err != nil {
		return snap, err
	}
	defer prows.Close()
	for prows.Next() {
		var k, v string
		if err := prows.Scan(&k, &v); err != nil {
			return snap, err
		}
		snap.Profile[k] = v
	}
	return snap, prows.Err()
}

func (s *Store) WriteSummary(ctx context.Context, userID string, summary domain.Summary) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO memory_summaries (id, user_id, range_start, range_end, size, text)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		uuid.NewString(), userID, summary.RangeStart, summary.RangeEnd, summary.Size, summary.Text)
	return err
}

func (s *Store) WriteProfileFact(ctx context.Context, userID, key, value string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO memory_profile (user_id, key, value, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (user_id, key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`,
		userID, key, value)
	return err
}

func (s *Store) GetUser(ctx context.Context, userID string) (domain.User, error) {
	var u domain.User
	err := s.pool.QueryRow(ctx, `
		SELECT id, display_name, birth_date, birth_time, birth_location, longitude, latitude, gender, created_at, updated_at
		FROM users WHERE id = $1`, userID).Scan(
		&u.ID, &u.DisplayName, &u.BirthDate, &u.BirthTime, &u.BirthLocation,
		&u.Longitude, &u.Latitude, &u.Gender, &u.CreatedAt, &u.UpdatedAt)
	if err == pgx.ErrNoRows {
		return domain.User{ID: userID}, nil
	}
	return u, err
}

func (s *Store) UpdateUserFacts(ctx context.Context, userID string, patch memory.UserFactPatch) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`, userID)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		UPDATE users SET
			display_name = COALESCE($2, display_name),
			birth_date = COALESCE($3, birth_date),
			birth_time = COALESCE($4, birth_time),
			birth_location = COALESCE($5, birth_location),
			longitude = COALESCE($6, longitude),
			latitude = COALESCE($7, latitude),
			gender = COALESCE($8, gender),
			updated_at = NOW()
		WHERE id = $1`,
		userID, patch.DisplayName, patch.BirthDate, patch.BirthTime, patch.BirthLocation,
		patch.Longitude, patch.Latitude, patch.Gender)
	return err
}

func (s *Store) SearchMessages(ctx context.Context, userID, keyword string, limit int) ([]domain.Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, session_id, role, content, widget_json, citations_json, tool_calls_json, created_at
		FROM messages WHERE user_id = $1 AND content ILIKE '%' || $2 || '%'
		ORDER BY created_at DESC LIMIT $3`, userID, keyword, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) TrimEpisodicWindow(ctx context.Context, userID string, keepLastN int) error {
	if keepLastN <= 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `
		DELETE FROM messages
		WHERE user_id = $1
		AND id NOT IN (
			SELECT id FROM messages WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2
		)`, userID, keepLastN)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `UPDATE users SET episodic_trim_cursor = NOW() WHERE id = $1`, userID)
	return err
}

func (s *Store) RecordFeedback(ctx context.Context, messageID string, rating int, note string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO message_feedback (id, message_id, rating, note) VALUES ($1, $2, $3, $4)`,
		uuid.NewString(), messageID, rating, note)
	return err
}
