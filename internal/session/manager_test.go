package session

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/exaudilabs/exaudi-core/internal/config"
	"github.com/exaudilabs/exaudi-core/internal/fanout"
	"github.com/exaudilabs/exaudi-core/internal/store"
	"github.com/exaudilabs/exaudi-core/internal/wire"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testManager(t *testing.T) (*Manager, *store.Store) {
	t.Helper()
	st, err := store.Open(context.Background(),
		config.StoreConfig{Path: filepath.Join(t.TempDir(), "exaudi.db")}, newLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	fan := fanout.NewRegistry(newLogger())
	m := NewManager(context.Background(), config.SessionConfig{
		AbandonedThresholdSeconds: 300,
		HeartbeatGraceSeconds:     45,
	}, st, fan, newLogger())
	t.Cleanup(m.Close)
	return m, st
}

func TestCreateSessionIdempotent(t *testing.T) {
	m, _ := testManager(t)
	ctx := context.Background()

	s := m.CreateSession(ctx, "sess-1", "org-1", "en")
	again := m.CreateSession(ctx, "sess-1", "org-1", "de")
	if s != again {
		t.Fatalf("re-init must return the same session")
	}
	if got := s.SourceLang(); got != "de" {
		t.Fatalf("re-init must update source language, got %s", got)
	}
	if m.Count() != 1 {
		t.Fatalf("expected 1 session, got %d", m.Count())
	}
}

func TestListenerLifecycle(t *testing.T) {
	m, st := testManager(t)
	ctx := context.Background()
	m.CreateSession(ctx, "sess-1", "org-1", "en")

	held, _ := wire.Pipe()
	ver, err := m.AddListener(ctx, "sess-1", "sub-1", "user-1", held, "es")
	if err != nil {
		t.Fatalf("add listener: %v", err)
	}
	if ver != 1 {
		t.Fatalf("initial language version = %d, want 1", ver)
	}
	if got := m.fan.Count("sess-1"); got != 1 {
		t.Fatalf("fanout count = %d, want 1", got)
	}

	ver, ok := m.ChangeLanguage(ctx, "sess-1", "sub-1", "fr")
	if !ok || ver != 2 {
		t.Fatalf("change language: ok=%v ver=%d", ok, ver)
	}
	if langs := m.fan.Languages("sess-1"); len(langs) != 1 || langs[0] != "fr" {
		t.Fatalf("fanout languages = %v, want [fr]", langs)
	}

	if !m.RemoveListener(ctx, "sess-1", "sub-1", ReasonDisconnected) {
		t.Fatalf("remove listener failed")
	}
	if got := m.fan.Count("sess-1"); got != 0 {
		t.Fatalf("fanout count after remove = %d, want 0", got)
	}
	if _, ok, _ := st.EndListeningSpan(ctx, "sess-1", "user-1", "x", time.Second); ok {
		t.Fatalf("listening span must already be closed")
	}

	if _, err := m.AddListener(ctx, "missing", "sub-2", "user-2", held, "es"); err != ErrSessionNotFound {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestRemoveListenerRecordsUsage(t *testing.T) {
	m, st := testManager(t)
	ctx := context.Background()
	m.CreateSession(ctx, "sess-1", "org-1", "en")

	// Pre-open the span with a known id; AddListener keeps it.
	if _, err := st.BeginListeningSpan(ctx, "ls-known", "sess-1", "user-1", "org-1", "es"); err != nil {
		t.Fatalf("begin span: %v", err)
	}
	held, _ := wire.Pipe()
	if _, err := m.AddListener(ctx, "sess-1", "sub-1", "user-1", held, "es"); err != nil {
		t.Fatalf("add listener: %v", err)
	}

	if !m.RemoveListener(ctx, "sess-1", "sub-1", ReasonStopped) {
		t.Fatalf("remove listener failed")
	}
	recorded, err := st.RecordUsageEvent(ctx, "listening:ls-known", "listening_seconds", 0, nil)
	if err != nil {
		t.Fatalf("probe usage event: %v", err)
	}
	if recorded {
		t.Fatalf("span close must already have recorded the usage event")
	}
}

func TestEndSessionClosesEverything(t *testing.T) {
	m, st := testManager(t)
	ctx := context.Background()

	var endedID, endedReason string
	m.OnSessionEnd(func(sessionID, reason string) {
		endedID, endedReason = sessionID, reason
	})

	s := m.CreateSession(ctx, "sess-1", "org-1", "en")
	a, _ := wire.Pipe()
	b, _ := wire.Pipe()
	if _, err := m.AddListener(ctx, "sess-1", "sub-1", "user-1", a, "es"); err != nil {
		t.Fatalf("add listener: %v", err)
	}
	if _, err := m.AddListener(ctx, "sess-1", "sub-2", "user-2", b, "fr"); err != nil {
		t.Fatalf("add listener: %v", err)
	}

	if !m.EndSession(ctx, "sess-1", ReasonStopped) {
		t.Fatalf("end session failed")
	}
	if m.Count() != 0 {
		t.Fatalf("session still registered")
	}
	if got := m.fan.Count("sess-1"); got != 0 {
		t.Fatalf("fanout count = %d, want 0", got)
	}
	if endedID != "sess-1" || endedReason != ReasonStopped {
		t.Fatalf("onEnd hook got (%s, %s)", endedID, endedReason)
	}
	select {
	case <-s.Context().Done():
	default:
		t.Fatalf("session context must be cancelled")
	}
	if _, ok, _ := st.EndListeningSpan(ctx, "sess-1", "user-1", "x", time.Second); ok {
		t.Fatalf("listening span must be closed")
	}
	if _, ok, _ := st.EndSessionSpan(ctx, "sess-1", "x", time.Second); ok {
		t.Fatalf("session span must be closed")
	}
	if m.EndSession(ctx, "sess-1", ReasonStopped) {
		t.Fatalf("second end must report false")
	}
}

func TestReapAbandonedSessions(t *testing.T) {
	m, st := testManager(t)
	ctx := context.Background()

	var reapedReason string
	m.OnSessionEnd(func(_, reason string) { reapedReason = reason })

	m.CreateSession(ctx, "sess-1", "org-1", "en")
	held, _ := wire.Pipe()
	if _, err := m.AddListener(ctx, "sess-1", "sub-1", "user-1", held, "es"); err != nil {
		t.Fatalf("add listener: %v", err)
	}

	// Nothing has heartbeated for longer than the threshold.
	m.clock = func() time.Time { return time.Now().Add(10 * time.Minute) }
	m.Reap(ctx)

	if m.Count() != 0 {
		t.Fatalf("abandoned session must be reaped")
	}
	if reapedReason != ReasonAbandoned {
		t.Fatalf("reason = %s, want %s", reapedReason, ReasonAbandoned)
	}

	events, err := st.SessionEvents(ctx, "sess-1", 20)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	var sawEnd bool
	for _, e := range events {
		if e.Type != "session_ended" {
			continue
		}
		sawEnd = true
		var payload map[string]string
		if err := json.Unmarshal(e.Payload, &payload); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		if payload["reason"] != ReasonAbandoned {
			t.Fatalf("session_ended reason = %s", payload["reason"])
		}
	}
	if !sawEnd {
		t.Fatalf("expected a session_ended event")
	}
}

func TestReapSparesTouchedSessions(t *testing.T) {
	m, _ := testManager(t)
	ctx := context.Background()
	base := time.Now()

	m.clock = func() time.Time { return base }
	m.CreateSession(ctx, "quiet", "org-1", "en")
	m.CreateSession(ctx, "alive", "org-1", "en")

	m.clock = func() time.Time { return base.Add(4 * time.Minute) }
	if !m.TouchSession(ctx, "alive") {
		t.Fatalf("touch failed")
	}

	m.clock = func() time.Time { return base.Add(6 * time.Minute) }
	m.Reap(ctx)

	if _, ok := m.Session("alive"); !ok {
		t.Fatalf("touched session must survive the reaper")
	}
	if _, ok := m.Session("quiet"); ok {
		t.Fatalf("quiet session must be reaped")
	}
}

func TestReapClosesOrphanedStoreRows(t *testing.T) {
	m, st := testManager(t)
	ctx := context.Background()

	// Rows left behind by a previous process: no in-memory presence.
	if _, err := st.BeginSessionSpan(ctx, "sp-ghost", "ghost-1", "org-1"); err != nil {
		t.Fatalf("begin session span: %v", err)
	}
	if _, err := st.BeginListeningSpan(ctx, "ls-ghost", "ghost-1", "user-1", "org-1", "es"); err != nil {
		t.Fatalf("begin listening span: %v", err)
	}

	m.clock = func() time.Time { return time.Now().Add(10 * time.Minute) }
	m.Reap(ctx)

	recorded, err := st.RecordUsageEvent(ctx, "listening:ls-ghost", "listening_seconds", 0, nil)
	if err != nil {
		t.Fatalf("probe usage event: %v", err)
	}
	if recorded {
		t.Fatalf("reaper must have recorded the span's usage event")
	}
	open, err := st.OpenSessionSpans(ctx)
	if err != nil {
		t.Fatalf("open spans: %v", err)
	}
	if len(open) != 0 {
		t.Fatalf("orphaned session span must be closed, still open: %+v", open)
	}
}

func TestStoreFailuresCounted(t *testing.T) {
	m, st := testManager(t)
	ctx := context.Background()

	m.CreateSession(ctx, "sess-1", "org-1", "en")
	held, _ := wire.Pipe()
	if _, err := m.AddListener(ctx, "sess-1", "sub-1", "user-1", held, "es"); err != nil {
		t.Fatalf("add listener: %v", err)
	}

	st.Close()
	m.EndSession(ctx, "sess-1", ReasonStopped)

	if m.StoreFailures() == 0 {
		t.Fatalf("store failures must be counted")
	}
	if m.Count() != 0 {
		t.Fatalf("session must still be removed despite store failures")
	}
}
