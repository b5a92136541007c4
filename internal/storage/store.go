package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tabrecall/tabrecall/internal/event"
)

// Store defines the interface for tabrecall server data operations.
type Store interface {
	CreateUser(ctx context.Context, email, passwordHash string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)

	InsertToken(ctx context.Context, t *AuthToken) error
	GetToken(ctx context.Context, tokenHash string) (*AuthToken, error)
	GetTokenByRefresh(ctx context.Context, refreshHash string) (*AuthToken, error)
	DeleteToken(ctx context.Context, tokenHash string) error

	InsertEventBatch(ctx context.Context, userID int64, events []event.Event) ([]string, error)
	RecentEvents(ctx context.Context, userID int64, since time.Time, limit int) ([]StoredEvent, error)

	CreateSession(ctx context.Context, s *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	TouchSession(ctx context.Context, id string, lastActive time.Time) error
	SetSessionSummary(ctx context.Context, id, summary string, confidence float64) error
	DeleteSession(ctx context.Context, id string) error
	ListSessions(ctx context.Context, q SessionQuery) ([]Session, error)

	UpsertTab(ctx context.Context, t *Tab) error
	TabsForSession(ctx context.Context, sessionID string) ([]Tab, error)

	SaveVector(ctx context.Context, v *Vector) error
	GetVector(ctx context.Context, ownerType, ownerID string) (*Vector, error)

	GetStats(ctx context.Context) (*Stats, error)
	Close() error
}

// SQLiteStore implements Store backed by a SQLite database.
type SQLiteStore struct {
	db *sql.DB

	// Prepared statements
	insertUser    *sql.Stmt
	getUserEmail  *sql.Stmt
	insertToken   *sql.Stmt
	getToken      *sql.Stmt
	getRefresh    *sql.Stmt
	deleteToken   *sql.Stmt
	insertEvent   *sql.Stmt
	insertSession *sql.Stmt
	getSession    *sql.Stmt
	deleteSession *sql.Stmt
}

// NewSQLiteStore creates a new SQLiteStore from an already-opened and
// migrated database.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}

	if err := s.prepareStatements(); err != nil {
		return nil, fmt.Errorf("prepare statements: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) prepareStatements() error {
	var err error

	s.insertUser, err = s.db.Prepare(`
		INSERT INTO users (email, password_hash) VALUES (?, ?)
	`)
	if err != nil {
		return err
	}

	s.getUserEmail, err = s.db.Prepare(`
		SELECT id, email, password_hash, created_at FROM users WHERE email = ?
	`)
	if err != nil {
		return err
	}

	s.insertToken, err = s.db.Prepare(`
		INSERT INTO auth_tokens (token_hash, refresh_hash, user_id, expires_at)
		VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}

	s.getToken, err = s.db.Prepare(`
		SELECT token_hash, refresh_hash, user_id, expires_at FROM auth_tokens WHERE token_hash = ?
	`)
	if err != nil {
		return err
	}

	s.getRefresh, err = s.db.Prepare(`
		SELECT token_hash, refresh_hash, user_id, expires_at FROM auth_tokens WHERE refresh_hash = ?
	`)
	if err != nil {
		return err
	}

	s.deleteToken, err = s.db.Prepare(`DELETE FROM auth_tokens WHERE token_hash = ?`)
	if err != nil {
		return err
	}

	s.insertEvent, err = s.db.Prepare(`
		INSERT OR IGNORE INTO events (client_id, user_id, window_id, tab_id, type, title, url, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}

	s.insertSession, err = s.db.Prepare(`
		INSERT INTO sessions (id, user_id, title, summary, confidence, started_at, last_active_at, screenshot_ref, mode)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}

	s.getSession, err = s.db.Prepare(`
		SELECT id, user_id, title, summary, confidence, started_at, last_active_at, screenshot_ref, mode
		FROM sessions WHERE id = ?
	`)
	if err != nil {
		return err
	}

	s.deleteSession, err = s.db.Prepare(`DELETE FROM sessions WHERE id = ?`)
	if err != nil {
		return err
	}

	return nil
}

// parseTimestamp tries several common SQLite timestamp formats.
func parseTimestamp(s string) (time.Time, error) {
	formats := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05Z",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05.999999999-07:00",
	}
	for _, f := range formats {
		if t, err := time.Parse(f, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse timestamp: %s", s)
}

// formatTimestamp renders a fixed-width UTC timestamp. The width matters:
// SQLite compares TEXT timestamps lexicographically, so a variable-length
// fractional part (as RFC3339Nano produces) would misorder sub-second values.
func formatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000000Z")
}

// ── Users ───────────────────────────────────────────────────────

// CreateUser inserts a new user. The email must be unique.
func (s *SQLiteStore) CreateUser(ctx context.Context, email, passwordHash string) (*User, error) {
	res, err := s.insertUser.ExecContext(ctx, email, passwordHash)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &User{ID: id, Email: email, PasswordHash: passwordHash, CreatedAt: time.Now().UTC()}, nil
}

// GetUserByEmail retrieves a user by email address.
func (s *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	var u User
	var createdStr string
	err := s.getUserEmail.QueryRowContext(ctx, email).Scan(&u.ID, &u.Email, &u.PasswordHash, &createdStr)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("user %s not found", email)
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	u.CreatedAt, _ = parseTimestamp(createdStr)
	return &u, nil
}

// ── Auth tokens ─────────────────────────────────────────────────

// InsertToken stores a new token pair.
func (s *SQLiteStore) InsertToken(ctx context.Context, t *AuthToken) error {
	_, err := s.insertToken.ExecContext(ctx,
		t.TokenHash, t.RefreshHash, t.UserID, formatTimestamp(t.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("insert token: %w", err)
	}
	return nil
}

// GetToken retrieves a token pair by access-token hash.
func (s *SQLiteStore) GetToken(ctx context.Context, tokenHash string) (*AuthToken, error) {
	return s.scanToken(s.getToken.QueryRowContext(ctx, tokenHash))
}

// GetTokenByRefresh retrieves a token pair by refresh-token hash.
func (s *SQLiteStore) GetTokenByRefresh(ctx context.Context, refreshHash string) (*AuthToken, error) {
	return s.scanToken(s.getRefresh.QueryRowContext(ctx, refreshHash))
}

func (s *SQLiteStore) scanToken(row *sql.Row) (*AuthToken, error) {
	var t AuthToken
	var expiresStr string
	err := row.Scan(&t.TokenHash, &t.RefreshHash, &t.UserID, &expiresStr)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("token not found")
		}
		return nil, fmt.Errorf("get token: %w", err)
	}
	t.ExpiresAt, _ = parseTimestamp(expiresStr)
	return &t, nil
}

// DeleteToken removes a token pair by access-token hash. Deleting an unknown
// token is a no-op.
func (s *SQLiteStore) DeleteToken(ctx context.Context, tokenHash string) error {
	if _, err := s.deleteToken.ExecContext(ctx, tokenHash); err != nil {
		return fmt.Errorf("delete token: %w", err)
	}
	return nil
}

// ── Events ──────────────────────────────────────────────────────

// InsertEventBatch persists a batch of events in a single all-or-nothing
// transaction. Re-sent events (same client id) are ignored rather than
// rejected, so at-least-once delivery cannot corrupt state or fail a retry.
// Returns the client ids that were actually inserted; ids skipped as
// duplicates are absent, letting callers avoid replaying their side effects.
func (s *SQLiteStore) InsertEventBatch(ctx context.Context, userID int64, events []event.Event) ([]string, error) {
	if len(events) == 0 {
		return nil, fmt.Errorf("empty batch")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	inserted := make([]string, 0, len(events))
	stmt := tx.StmtContext(ctx, s.insertEvent)
	for _, ev := range events {
		res, err := stmt.ExecContext(ctx,
			ev.ID, userID, ev.WindowID, ev.TabID, ev.Type, ev.Title, ev.URL,
			formatTimestamp(ev.Timestamp),
		)
		if err != nil {
			return nil, fmt.Errorf("insert event %s: %w", ev.ID, err)
		}
		if n, err := res.RowsAffected(); err == nil && n > 0 {
			inserted = append(inserted, ev.ID)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit batch: %w", err)
	}

	return inserted, nil
}

// RecentEvents returns events for a user at or after since, oldest first.
func (s *SQLiteStore) RecentEvents(ctx context.Context, userID int64, since time.Time, limit int) ([]StoredEvent, error) {
	if limit <= 0 {
		limit = 500
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, client_id, user_id, window_id, tab_id, type, title, url, ts
		FROM events WHERE user_id = ? AND ts >= ?
		ORDER BY ts ASC, id ASC LIMIT ?`,
		userID, formatTimestamp(since), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := []StoredEvent{}
	for rows.Next() {
		var e StoredEvent
		var tsStr string
		if err := rows.Scan(
			&e.ID, &e.ClientID, &e.UserID, &e.WindowID, &e.TabID,
			&e.Type, &e.Title, &e.URL, &tsStr,
		); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Timestamp, _ = parseTimestamp(tsStr)
		events = append(events, e)
	}

	return events, rows.Err()
}

// ── Sessions ────────────────────────────────────────────────────

// CreateSession inserts a new session. A missing ID is generated; a missing
// LastActiveAt defaults to StartedAt.
func (s *SQLiteStore) CreateSession(ctx context.Context, sess *Session) error {
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	if sess.Mode == "" {
		sess.Mode = "loose"
	}
	if sess.LastActiveAt.Before(sess.StartedAt) {
		sess.LastActiveAt = sess.StartedAt
	}

	var summary, screenshot sql.NullString
	if sess.Summary != "" {
		summary = sql.NullString{String: sess.Summary, Valid: true}
	}
	if sess.ScreenshotRef != "" {
		screenshot = sql.NullString{String: sess.ScreenshotRef, Valid: true}
	}

	_, err := s.insertSession.ExecContext(ctx,
		sess.ID, sess.UserID, sess.Title, summary, sess.Confidence,
		formatTimestamp(sess.StartedAt), formatTimestamp(sess.LastActiveAt),
		screenshot, sess.Mode,
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// GetSession retrieves a single session by ID.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*Session, error) {
	sess, err := scanSession(s.getSession.QueryRowContext(ctx, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("session %s not found", id)
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row rowScanner) (*Session, error) {
	var sess Session
	var summary, screenshot sql.NullString
	var startedStr, lastActiveStr string

	err := row.Scan(
		&sess.ID, &sess.UserID, &sess.Title, &summary, &sess.Confidence,
		&startedStr, &lastActiveStr, &screenshot, &sess.Mode,
	)
	if err != nil {
		return nil, err
	}

	sess.StartedAt, _ = parseTimestamp(startedStr)
	sess.LastActiveAt, _ = parseTimestamp(lastActiveStr)
	if summary.Valid {
		sess.Summary = summary.String
	}
	if screenshot.Valid {
		sess.ScreenshotRef = screenshot.String
	}
	return &sess, nil
}

// TouchSession extends a session's last-active time. The time never moves
// backwards.
func (s *SQLiteStore) TouchSession(ctx context.Context, id string, lastActive time.Time) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE sessions SET last_active_at = ? WHERE id = ? AND last_active_at <= ?",
		formatTimestamp(lastActive), id, formatTimestamp(lastActive),
	)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Either unknown session or an out-of-order timestamp; distinguish.
		if _, err := s.GetSession(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// SetSessionSummary stores a derived summary and revises the confidence.
func (s *SQLiteStore) SetSessionSummary(ctx context.Context, id, summary string, confidence float64) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE sessions SET summary = ?, confidence = ? WHERE id = ?",
		summary, confidence, id,
	)
	if err != nil {
		return fmt.Errorf("set summary: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("session %s not found", id)
	}
	return nil
}

// DeleteSession removes a session. Its tabs are cascade-deleted by the
// schema.
func (s *SQLiteStore) DeleteSession(ctx context.Context, id string) error {
	res, err := s.deleteSession.ExecContext(ctx, id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("session %s not found", id)
	}
	return nil
}

// ListSessions queries sessions with optional filters, most recently active
// first.
func (s *SQLiteStore) ListSessions(ctx context.Context, q SessionQuery) ([]Session, error) {
	if q.Limit <= 0 {
		q.Limit = 20
	}

	clauses := []string{"user_id = ?"}
	args := []interface{}{q.UserID}

	if q.Mode != "" {
		clauses = append(clauses, "mode = ?")
		args = append(args, q.Mode)
	}
	if !q.From.IsZero() {
		clauses = append(clauses, "last_active_at >= ?")
		args = append(args, formatTimestamp(q.From))
	}
	if !q.To.IsZero() {
		clauses = append(clauses, "started_at <= ?")
		args = append(args, formatTimestamp(q.To))
	}

	query := `
		SELECT id, user_id, title, summary, confidence, started_at, last_active_at, screenshot_ref, mode
		FROM sessions
		WHERE ` + strings.Join(clauses, " AND ") + `
		ORDER BY last_active_at DESC LIMIT ? OFFSET ?`
	args = append(args, q.Limit, q.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	sessions := []Session{}
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, *sess)
	}

	return sessions, rows.Err()
}

// ── Tabs ────────────────────────────────────────────────────────

// UpsertTab inserts a tab or, if the session already has a tab with the same
// URL, updates its title, pinned flag, and last-seen time. New tabs take the
// next order index in the session.
func (s *SQLiteStore) UpsertTab(ctx context.Context, t *Tab) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var existingID int64
	var orderIdx int
	err = tx.QueryRowContext(ctx,
		"SELECT id, order_idx FROM tabs WHERE session_id = ? AND url = ?",
		t.SessionID, t.URL,
	).Scan(&existingID, &orderIdx)

	switch {
	case err == sql.ErrNoRows:
		var next int
		if err := tx.QueryRowContext(ctx,
			"SELECT COALESCE(MAX(order_idx)+1, 0) FROM tabs WHERE session_id = ?",
			t.SessionID,
		).Scan(&next); err != nil {
			return fmt.Errorf("next order index: %w", err)
		}
		if t.FirstSeenAt.IsZero() {
			t.FirstSeenAt = t.LastSeenAt
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO tabs (session_id, url, title, pinned, order_idx, first_seen_at, last_seen_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			t.SessionID, t.URL, t.Title, t.Pinned, next,
			formatTimestamp(t.FirstSeenAt), formatTimestamp(t.LastSeenAt),
		)
		if err != nil {
			return fmt.Errorf("insert tab: %w", err)
		}
		t.ID, _ = res.LastInsertId()
		t.OrderIdx = next

	case err != nil:
		return fmt.Errorf("lookup tab: %w", err)

	default:
		_, err := tx.ExecContext(ctx,
			"UPDATE tabs SET title = ?, pinned = ?, last_seen_at = ? WHERE id = ?",
			t.Title, t.Pinned, formatTimestamp(t.LastSeenAt), existingID,
		)
		if err != nil {
			return fmt.Errorf("update tab: %w", err)
		}
		t.ID = existingID
		t.OrderIdx = orderIdx
	}

	return tx.Commit()
}

// TabsForSession returns a session's tabs in order-index order.
func (s *SQLiteStore) TabsForSession(ctx context.Context, sessionID string) ([]Tab, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, url, title, pinned, order_idx, first_seen_at, last_seen_at
		FROM tabs WHERE session_id = ? ORDER BY order_idx ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query tabs: %w", err)
	}
	defer rows.Close()

	tabs := []Tab{}
	for rows.Next() {
		var t Tab
		var firstStr, lastStr string
		if err := rows.Scan(
			&t.ID, &t.SessionID, &t.URL, &t.Title, &t.Pinned, &t.OrderIdx,
			&firstStr, &lastStr,
		); err != nil {
			return nil, fmt.Errorf("scan tab: %w", err)
		}
		t.FirstSeenAt, _ = parseTimestamp(firstStr)
		t.LastSeenAt, _ = parseTimestamp(lastStr)
		tabs = append(tabs, t)
	}

	return tabs, rows.Err()
}

// ── Vectors ─────────────────────────────────────────────────────

// SaveVector stores (or replaces) the embedding for an owner.
func (s *SQLiteStore) SaveVector(ctx context.Context, v *Vector) error {
	blob, err := json.Marshal(v.Embedding)
	if err != nil {
		return fmt.Errorf("encode embedding: %w", err)
	}
	v.Dimensions = len(v.Embedding)

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO vectors (owner_type, owner_id, model, dimensions, embedding)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(owner_type, owner_id)
		DO UPDATE SET model = excluded.model, dimensions = excluded.dimensions, embedding = excluded.embedding`,
		v.OwnerType, v.OwnerID, v.Model, v.Dimensions, blob,
	)
	if err != nil {
		return fmt.Errorf("save vector: %w", err)
	}
	return nil
}

// GetVector retrieves the embedding for an owner.
func (s *SQLiteStore) GetVector(ctx context.Context, ownerType, ownerID string) (*Vector, error) {
	var v Vector
	var blob []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT id, owner_type, owner_id, model, dimensions, embedding
		FROM vectors WHERE owner_type = ? AND owner_id = ?`,
		ownerType, ownerID,
	).Scan(&v.ID, &v.OwnerType, &v.OwnerID, &v.Model, &v.Dimensions, &blob)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("vector for %s %s not found", ownerType, ownerID)
		}
		return nil, fmt.Errorf("get vector: %w", err)
	}
	if err := json.Unmarshal(blob, &v.Embedding); err != nil {
		return nil, fmt.Errorf("decode embedding: %w", err)
	}
	return &v, nil
}

// ── Stats ───────────────────────────────────────────────────────

// GetStats returns aggregate statistics about the database.
func (s *SQLiteStore) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	counts := []struct {
		query string
		dest  *int64
	}{
		{"SELECT COUNT(*) FROM users", &stats.TotalUsers},
		{"SELECT COUNT(*) FROM sessions", &stats.TotalSessions},
		{"SELECT COUNT(*) FROM tabs", &stats.TotalTabs},
		{"SELECT COUNT(*) FROM events", &stats.TotalEvents},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query).Scan(c.dest); err != nil {
			return nil, fmt.Errorf("count: %w", err)
		}
	}

	if stats.TotalEvents > 0 {
		var oldestStr, newestStr string
		err := s.db.QueryRowContext(ctx, "SELECT MIN(ts), MAX(ts) FROM events").Scan(&oldestStr, &newestStr)
		if err != nil {
			return nil, fmt.Errorf("event time range: %w", err)
		}
		stats.OldestEvent, _ = parseTimestamp(oldestStr)
		stats.NewestEvent, _ = parseTimestamp(newestStr)
	}

	return stats, nil
}

// Close releases all prepared statements. The underlying *sql.DB is NOT
// closed — that is the caller's responsibility.
func (s *SQLiteStore) Close() error {
	stmts := []*sql.Stmt{
		s.insertUser, s.getUserEmail,
		s.insertToken, s.getToken, s.getRefresh, s.deleteToken,
		s.insertEvent,
		s.insertSession, s.getSession, s.deleteSession,
	}
	for _, stmt := range stmts {
		if stmt != nil {
			stmt.Close()
		}
	}
	return nil
}
