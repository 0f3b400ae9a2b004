// Package store is the durable side of session lifecycle: session
// spans, per-listener listening spans, at-most-once usage events, and
// a session event log. Backed by SQLite; a Store with no path
// configured is a no-op so the daemon can run without persistence.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/exaudilabs/exaudi-core/internal/config"
	_ "modernc.org/sqlite"
)

// timeLayout is fixed-width UTC so string comparison orders
// chronologically inside SQLite.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// SessionSpan is one continuous presence of a host session.
type SessionSpan struct {
	ID          string
	SessionID   string
	OrgID       string
	StartedAt   time.Time
	LastSeenAt  time.Time
	EndedAt     *time.Time
	EndedReason string
}

// ListeningSpan is one continuous listening interval of a user in a
// session. At most one open span per (session_id, user_id).
type ListeningSpan struct {
	ID             string
	SessionID      string
	UserID         string
	OrgID          string
	TargetLanguage string
	StartedAt      time.Time
	LastSeenAt     time.Time
	EndedAt        *time.Time
	EndedReason    string
}

// BillableSeconds is the span's billing duration, floored at zero.
func (s ListeningSpan) BillableSeconds() float64 {
	if s.EndedAt == nil {
		return 0
	}
	d := s.EndedAt.Sub(s.StartedAt)
	if d < 0 {
		return 0
	}
	return d.Seconds()
}

// SessionEvent is one recorded lifecycle entry.
type SessionEvent struct {
	ID        int64
	SessionID string
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// UsageEvent is one recorded billing increment.
type UsageEvent struct {
	IdempotencyKey string
	Metric         string
	Quantity       float64
	Metadata       map[string]string
	CreatedAt      time.Time
}

// Store wraps the SQLite-backed session state.
type Store struct {
	db    *sql.DB
	cfg   config.StoreConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the store according to config. An empty path
// yields a no-op store.
func Open(ctx context.Context, cfg config.StoreConfig, log *slog.Logger) (*Store, error) {
	if cfg.Path == "" {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.VacuumOnStart {
		if err := s.vacuum(ctx); err != nil {
			log.Warn("store vacuum failed", slogError(err))
		}
	}

	if err := s.Prune(ctx); err != nil {
		log.Warn("store prune on start failed", slogError(err))
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	ddl := `
CREATE TABLE IF NOT EXISTS session_spans (
    id TEXT PRIMARY KEY,
    session_id TEXT NOT NULL,
    org_id TEXT,
    started_at TEXT NOT NULL,
    last_seen_at TEXT NOT NULL,
    ended_at TEXT,
    ended_reason TEXT
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_session_spans_open
    ON session_spans(session_id) WHERE ended_at IS NULL;
CREATE TABLE IF NOT EXISTS listening_spans (
    id TEXT PRIMARY KEY,
    session_id TEXT NOT NULL,
    user_id TEXT NOT NULL,
    org_id TEXT,
    target_language TEXT,
    started_at TEXT NOT NULL,
    last_seen_at TEXT NOT NULL,
    ended_at TEXT,
    ended_reason TEXT
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_listening_spans_open
    ON listening_spans(session_id, user_id) WHERE ended_at IS NULL;
CREATE INDEX IF NOT EXISTS idx_listening_spans_session ON listening_spans(session_id);
CREATE TABLE IF NOT EXISTS usage_events (
    idempotency_key TEXT PRIMARY KEY,
    metric TEXT NOT NULL,
    quantity REAL NOT NULL,
    metadata TEXT,
    created_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS session_events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    event_type TEXT NOT NULL,
    payload TEXT,
    created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_session_events ON session_events(session_id, created_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

func (s *Store) vacuum(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Enabled reports whether the store persists anything.
func (s *Store) Enabled() bool { return s.db != nil }

func (s *Store) now() string { return s.clock().UTC().Format(timeLayout) }

func parseTime(v string) time.Time {
	t, err := time.Parse(timeLayout, v)
	if err != nil {
		return time.Time{}
	}
	return t
}

// BeginSessionSpan opens (or touches) the session's span and returns
// the live span id.
func (s *Store) BeginSessionSpan(ctx context.Context, spanID, sessionID, orgID string) (string, error) {
	if s.db == nil {
		return spanID, nil
	}
	now := s.now()
	var id string
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO session_spans(id, session_id, org_id, started_at, last_seen_at)
		 VALUES(?, ?, ?, ?, ?)
		 ON CONFLICT(session_id) WHERE ended_at IS NULL
		 DO UPDATE SET last_seen_at=excluded.last_seen_at
		 RETURNING id`,
		spanID, sessionID, orgID, now, now).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("begin session span: %w", err)
	}
	return id, nil
}

// TouchSession refreshes the open session span's last_seen_at.
func (s *Store) TouchSession(ctx context.Context, sessionID string) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE session_spans SET last_seen_at=? WHERE session_id=? AND ended_at IS NULL`,
		s.now(), sessionID)
	return err
}

// EndSessionSpan closes the open span with the grace-bounded
// effective end. Reports whether an open span existed.
func (s *Store) EndSessionSpan(ctx context.Context, sessionID, reason string, grace time.Duration) (SessionSpan, bool, error) {
	if s.db == nil {
		return SessionSpan{}, false, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return SessionSpan{}, false, err
	}
	defer tx.Rollback()

	var span SessionSpan
	var started, seen string
	err = tx.QueryRowContext(ctx,
		`SELECT id, org_id, started_at, last_seen_at FROM session_spans
		 WHERE session_id=? AND ended_at IS NULL`, sessionID).
		Scan(&span.ID, &span.OrgID, &started, &seen)
	if err == sql.ErrNoRows {
		return SessionSpan{}, false, nil
	}
	if err != nil {
		return SessionSpan{}, false, err
	}
	span.SessionID = sessionID
	span.StartedAt = parseTime(started)
	span.LastSeenAt = parseTime(seen)

	ended := effectiveEnd(s.clock().UTC(), span.LastSeenAt, grace)
	span.EndedAt = &ended
	span.EndedReason = reason
	if _, err = tx.ExecContext(ctx,
		`UPDATE session_spans SET ended_at=?, ended_reason=? WHERE id=?`,
		ended.Format(timeLayout), reason, span.ID); err != nil {
		return SessionSpan{}, false, err
	}
	if err = tx.Commit(); err != nil {
		return SessionSpan{}, false, err
	}
	return span, true, nil
}

// BeginListeningSpan opens (or touches) the user's listening span in
// a session and returns the live span id. A re-join while a span is
// open keeps the original span and updates its language.
func (s *Store) BeginListeningSpan(ctx context.Context, spanID, sessionID, userID, orgID, targetLanguage string) (string, error) {
	if s.db == nil {
		return spanID, nil
	}
	now := s.now()
	var id string
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO listening_spans(id, session_id, user_id, org_id, target_language, started_at, last_seen_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(session_id, user_id) WHERE ended_at IS NULL
		 DO UPDATE SET last_seen_at=excluded.last_seen_at, target_language=excluded.target_language
		 RETURNING id`,
		spanID, sessionID, userID, orgID, targetLanguage, now, now).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("begin listening span: %w", err)
	}
	return id, nil
}

// TouchListener refreshes the open listening span's last_seen_at.
func (s *Store) TouchListener(ctx context.Context, sessionID, userID string) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE listening_spans SET last_seen_at=? WHERE session_id=? AND user_id=? AND ended_at IS NULL`,
		s.now(), sessionID, userID)
	return err
}

// UpdateListenerLanguage records a language switch on the open span.
func (s *Store) UpdateListenerLanguage(ctx context.Context, sessionID, userID, targetLanguage string) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE listening_spans SET target_language=?, last_seen_at=? WHERE session_id=? AND user_id=? AND ended_at IS NULL`,
		targetLanguage, s.now(), sessionID, userID)
	return err
}

// EndListeningSpan closes the user's open span. ended_at is
// min(now, last_seen_at+grace) so a dropped connection stops billing
// at its last sign of life. Reports whether an open span existed.
func (s *Store) EndListeningSpan(ctx context.Context, sessionID, userID, reason string, grace time.Duration) (ListeningSpan, bool, error) {
	if s.db == nil {
		return ListeningSpan{}, false, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ListeningSpan{}, false, err
	}
	defer tx.Rollback()

	var span ListeningSpan
	var started, seen string
	err = tx.QueryRowContext(ctx,
		`SELECT id, org_id, target_language, started_at, last_seen_at FROM listening_spans
		 WHERE session_id=? AND user_id=? AND ended_at IS NULL`, sessionID, userID).
		Scan(&span.ID, &span.OrgID, &span.TargetLanguage, &started, &seen)
	if err == sql.ErrNoRows {
		return ListeningSpan{}, false, nil
	}
	if err != nil {
		return ListeningSpan{}, false, err
	}
	span.SessionID = sessionID
	span.UserID = userID
	span.StartedAt = parseTime(started)
	span.LastSeenAt = parseTime(seen)

	ended := effectiveEnd(s.clock().UTC(), span.LastSeenAt, grace)
	span.EndedAt = &ended
	span.EndedReason = reason
	if _, err = tx.ExecContext(ctx,
		`UPDATE listening_spans SET ended_at=?, ended_reason=? WHERE id=?`,
		ended.Format(timeLayout), reason, span.ID); err != nil {
		return ListeningSpan{}, false, err
	}
	if err = tx.Commit(); err != nil {
		return ListeningSpan{}, false, err
	}
	return span, true, nil
}

// effectiveEnd bounds the billed end of a span that stopped
// heartbeating before it was closed.
func effectiveEnd(now, lastSeen time.Time, grace time.Duration) time.Time {
	bound := lastSeen.Add(grace)
	if bound.Before(now) {
		return bound
	}
	return now
}

// StaleListeningSpans returns open spans whose last_seen_at is before
// cutoff.
func (s *Store) StaleListeningSpans(ctx context.Context, cutoff time.Time) ([]ListeningSpan, error) {
	if s.db == nil {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, user_id, org_id, target_language, started_at, last_seen_at
		 FROM listening_spans WHERE ended_at IS NULL AND last_seen_at < ?`,
		cutoff.UTC().Format(timeLayout))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var spans []ListeningSpan
	for rows.Next() {
		var span ListeningSpan
		var started, seen string
		if err := rows.Scan(&span.ID, &span.SessionID, &span.UserID, &span.OrgID, &span.TargetLanguage, &started, &seen); err != nil {
			return nil, err
		}
		span.StartedAt = parseTime(started)
		span.LastSeenAt = parseTime(seen)
		spans = append(spans, span)
	}
	return spans, rows.Err()
}

// StaleSessionSpans returns open session spans past cutoff that have
// no open listening spans left.
func (s *Store) StaleSessionSpans(ctx context.Context, cutoff time.Time) ([]SessionSpan, error) {
	if s.db == nil {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, org_id, started_at, last_seen_at
		 FROM session_spans s WHERE ended_at IS NULL AND last_seen_at < ?
		 AND NOT EXISTS (
		     SELECT 1 FROM listening_spans l
		     WHERE l.session_id = s.session_id AND l.ended_at IS NULL
		 )`,
		cutoff.UTC().Format(timeLayout))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var spans []SessionSpan
	for rows.Next() {
		var span SessionSpan
		var started, seen string
		if err := rows.Scan(&span.ID, &span.SessionID, &span.OrgID, &started, &seen); err != nil {
			return nil, err
		}
		span.StartedAt = parseTime(started)
		span.LastSeenAt = parseTime(seen)
		spans = append(spans, span)
	}
	return spans, rows.Err()
}

// OpenSessionSpans lists sessions currently marked active.
func (s *Store) OpenSessionSpans(ctx context.Context) ([]SessionSpan, error) {
	if s.db == nil {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, org_id, started_at, last_seen_at
		 FROM session_spans WHERE ended_at IS NULL ORDER BY started_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var spans []SessionSpan
	for rows.Next() {
		var span SessionSpan
		var started, seen string
		if err := rows.Scan(&span.ID, &span.SessionID, &span.OrgID, &started, &seen); err != nil {
			return nil, err
		}
		span.StartedAt = parseTime(started)
		span.LastSeenAt = parseTime(seen)
		spans = append(spans, span)
	}
	return spans, rows.Err()
}

// RecordUsageEvent writes one usage event at most once per
// idempotency key. Reports whether this call recorded it.
func (s *Store) RecordUsageEvent(ctx context.Context, key, metric string, quantity float64, metadata map[string]string) (bool, error) {
	if s.db == nil {
		return false, nil
	}
	meta := ""
	if len(metadata) > 0 {
		data, err := json.Marshal(metadata)
		if err != nil {
			return false, fmt.Errorf("marshal usage metadata: %w", err)
		}
		meta = string(data)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO usage_events(idempotency_key, metric, quantity, metadata, created_at)
		 VALUES(?, ?, ?, ?, ?)
		 ON CONFLICT(idempotency_key) DO NOTHING`,
		key, metric, quantity, meta, s.now())
	if err != nil {
		return false, fmt.Errorf("record usage event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// UsageEvents lists recorded events for one metric, newest first.
func (s *Store) UsageEvents(ctx context.Context, metric string, limit int) ([]UsageEvent, error) {
	if s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT idempotency_key, metric, quantity, metadata, created_at
		 FROM usage_events WHERE metric = ? ORDER BY created_at DESC, idempotency_key LIMIT ?`,
		metric, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []UsageEvent
	for rows.Next() {
		var e UsageEvent
		var meta, created string
		if err := rows.Scan(&e.IdempotencyKey, &e.Metric, &e.Quantity, &meta, &created); err != nil {
			return nil, err
		}
		if meta != "" {
			if err := json.Unmarshal([]byte(meta), &e.Metadata); err != nil {
				return nil, fmt.Errorf("decode usage metadata: %w", err)
			}
		}
		e.CreatedAt = parseTime(created)
		events = append(events, e)
	}
	return events, rows.Err()
}

// AppendSessionEvent records a lifecycle entry. payload is marshaled
// to JSON; nil payload stores an empty object.
func (s *Store) AppendSessionEvent(ctx context.Context, sessionID, eventType string, payload any) error {
	if s.db == nil {
		return nil
	}
	body := []byte("{}")
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal session event: %w", err)
		}
		body = data
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO session_events(session_id, event_type, payload, created_at) VALUES(?, ?, ?, ?)`,
		sessionID, eventType, string(body), s.now())
	return err
}

// SessionEvents retrieves up to limit entries for a session ordered
// ascending by time.
func (s *Store) SessionEvents(ctx context.Context, sessionID string, limit int) ([]SessionEvent, error) {
	if s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, event_type, payload, created_at
		 FROM session_events WHERE session_id = ? ORDER BY created_at ASC, id ASC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []SessionEvent
	for rows.Next() {
		var e SessionEvent
		var payload, created string
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Type, &payload, &created); err != nil {
			return nil, err
		}
		e.Payload = []byte(payload)
		e.CreatedAt = parseTime(created)
		events = append(events, e)
	}
	return events, rows.Err()
}

// Prune applies configured retention to closed spans, usage events,
// and the event log.
func (s *Store) Prune(ctx context.Context) error {
	if s.db == nil || s.cfg.RetentionDays <= 0 {
		return nil
	}
	cutoff := s.clock().UTC().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour).Format(timeLayout)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, q := range []string{
		`DELETE FROM listening_spans WHERE ended_at IS NOT NULL AND ended_at < ?`,
		`DELETE FROM session_spans WHERE ended_at IS NOT NULL AND ended_at < ?`,
		`DELETE FROM usage_events WHERE created_at < ?`,
		`DELETE FROM session_events WHERE created_at < ?`,
	} {
		if _, err = tx.ExecContext(ctx, q, cutoff); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
