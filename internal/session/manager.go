// Package session tracks live sessions and their listeners: presence,
// heartbeats, listening spans, and the reaper that closes out what
// stopped heartbeating.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/exaudilabs/exaudi-core/internal/config"
	"github.com/exaudilabs/exaudi-core/internal/fanout"
	"github.com/exaudilabs/exaudi-core/internal/metrics"
	"github.com/exaudilabs/exaudi-core/internal/store"
	"github.com/exaudilabs/exaudi-core/internal/wire"
)

// Span end reasons.
const (
	ReasonStopped      = "stopped"
	ReasonDisconnected = "disconnected"
	ReasonSessionEnded = "session_ended"
	ReasonAbandoned    = "abandoned_reaper"
)

var ErrSessionNotFound = errors.New("session not found")

// Session is one live hosted session. ID, OrgID and CreatedAt are
// immutable; everything else is guarded by mu.
type Session struct {
	ID        string
	OrgID     string
	CreatedAt time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	sourceLang string
	lastSeen   time.Time
	listeners  map[string]*listenerState
}

type listenerState struct {
	userID   string
	language string
	langVer  uint64
	spanID   string
	lastSeen time.Time
}

// Context is cancelled when the session ends; in-flight translation
// and synthesis calls hang off it.
func (s *Session) Context() context.Context { return s.ctx }

func (s *Session) SourceLang() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sourceLang
}

func (s *Session) ListenerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.listeners)
}

// Info is a point-in-time snapshot for admin surfaces.
type Info struct {
	ID         string    `json:"id"`
	OrgID      string    `json:"org_id"`
	SourceLang string    `json:"source_lang"`
	CreatedAt  time.Time `json:"created_at"`
	LastSeenAt time.Time `json:"last_seen_at"`
	Listeners  int       `json:"listeners"`
}

// Manager owns the session registry and the reaper.
type Manager struct {
	cfg    config.SessionConfig
	store  *store.Store
	fan    *fanout.Registry
	logger *slog.Logger
	clock  func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	onEnd  func(sessionID, reason string)

	mu       sync.RWMutex
	sessions map[string]*Session

	storeFailures atomic.Int64
}

func NewManager(parent context.Context, cfg config.SessionConfig, st *store.Store, fan *fanout.Registry, log *slog.Logger) *Manager {
	ctx, cancel := context.WithCancel(parent)
	return &Manager{
		cfg:      cfg,
		store:    st,
		fan:      fan,
		logger:   log.With(slog.String("component", "session")),
		clock:    time.Now,
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[string]*Session),
	}
}

// OnSessionEnd registers the hook run after a session is removed,
// whatever ended it. Set before Start.
func (m *Manager) OnSessionEnd(fn func(sessionID, reason string)) { m.onEnd = fn }

// Start launches the reaper loop.
func (m *Manager) Start() {
	interval := time.Duration(m.cfg.ReaperIntervalMS) * time.Millisecond
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-m.ctx.Done():
				return
			case <-ticker.C:
				m.Reap(m.ctx)
			}
		}
	}()
}

// Close stops the reaper and cancels every session context. Sessions
// are not marked ended; a restart resumes them or the reaper closes
// their store rows.
func (m *Manager) Close() {
	m.cancel()
	m.wg.Wait()
}

// StoreFailures counts session-store writes that failed and were
// skipped over.
func (m *Manager) StoreFailures() int64 { return m.storeFailures.Load() }

func (m *Manager) grace() time.Duration {
	if m.cfg.HeartbeatGraceSeconds <= 0 {
		return 45 * time.Second
	}
	return time.Duration(m.cfg.HeartbeatGraceSeconds) * time.Second
}

func (m *Manager) threshold() time.Duration {
	if m.cfg.AbandonedThresholdSeconds <= 0 {
		return 300 * time.Second
	}
	return time.Duration(m.cfg.AbandonedThresholdSeconds) * time.Second
}

// CreateSession registers a session, or refreshes it when the host
// re-initializes an existing one.
func (m *Manager) CreateSession(ctx context.Context, sessionID, orgID, sourceLang string) *Session {
	now := m.clock()

	m.mu.Lock()
	if s, ok := m.sessions[sessionID]; ok {
		m.mu.Unlock()
		s.mu.Lock()
		s.lastSeen = now
		if sourceLang != "" {
			s.sourceLang = sourceLang
		}
		s.mu.Unlock()
		if err := m.store.TouchSession(ctx, sessionID); err != nil {
			m.warnStore("touch session", sessionID, err)
		}
		return s
	}
	sctx, cancel := context.WithCancel(m.ctx)
	s := &Session{
		ID:         sessionID,
		OrgID:      orgID,
		CreatedAt:  now,
		ctx:        sctx,
		cancel:     cancel,
		sourceLang: sourceLang,
		lastSeen:   now,
		listeners:  make(map[string]*listenerState),
	}
	m.sessions[sessionID] = s
	m.mu.Unlock()

	if _, err := m.store.BeginSessionSpan(ctx, uuid.NewString(), sessionID, orgID); err != nil {
		m.warnStore("begin session span", sessionID, err)
	}
	if err := m.store.AppendSessionEvent(ctx, sessionID, "session_started",
		map[string]string{"org_id": orgID, "source_lang": sourceLang}); err != nil {
		m.warnStore("append session event", sessionID, err)
	}
	m.logger.Info("session started",
		slog.String("session_id", sessionID),
		slog.String("org_id", orgID),
		slog.String("source_lang", sourceLang))
	return s
}

// Session returns the live session, if any.
func (m *Manager) Session(sessionID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	return s, ok
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Sessions snapshots every live session, ordered by id.
func (m *Manager) Sessions() []Info {
	m.mu.RLock()
	infos := make([]Info, 0, len(m.sessions))
	for _, s := range m.sessions {
		s.mu.Lock()
		infos = append(infos, Info{
			ID:         s.ID,
			OrgID:      s.OrgID,
			SourceLang: s.sourceLang,
			CreatedAt:  s.CreatedAt,
			LastSeenAt: s.lastSeen,
			Listeners:  len(s.listeners),
		})
		s.mu.Unlock()
	}
	m.mu.RUnlock()
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// TouchSession records a host heartbeat.
func (m *Manager) TouchSession(ctx context.Context, sessionID string) bool {
	s, ok := m.Session(sessionID)
	if !ok {
		return false
	}
	now := m.clock()
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
	if err := m.store.TouchSession(ctx, sessionID); err != nil {
		m.warnStore("touch session", sessionID, err)
	}
	return true
}

// AddListener attaches a listener wire to a session and opens its
// listening span. Returns the initial language version.
func (m *Manager) AddListener(ctx context.Context, sessionID, subscriptionID, userID string, w wire.Wire, targetLanguage string) (uint64, error) {
	s, ok := m.Session(sessionID)
	if !ok {
		return 0, ErrSessionNotFound
	}
	now := m.clock()

	spanID, err := m.store.BeginListeningSpan(ctx, uuid.NewString(), sessionID, userID, s.OrgID, targetLanguage)
	if err != nil {
		// Presence beats billing: the listener still joins.
		m.warnStore("begin listening span", sessionID, err)
		spanID = ""
	}

	s.mu.Lock()
	s.listeners[subscriptionID] = &listenerState{
		userID:   userID,
		language: targetLanguage,
		langVer:  1,
		spanID:   spanID,
		lastSeen: now,
	}
	s.lastSeen = now
	s.mu.Unlock()

	m.fan.Register(sessionID, subscriptionID, w, targetLanguage)
	if err := m.store.AppendSessionEvent(ctx, sessionID, "listener_joined",
		map[string]string{"user_id": userID, "target_language": targetLanguage}); err != nil {
		m.warnStore("append session event", sessionID, err)
	}
	m.logger.Info("listener joined",
		slog.String("session_id", sessionID),
		slog.String("subscription_id", subscriptionID),
		slog.String("target_language", targetLanguage))
	return 1, nil
}

// TouchListener records a listener heartbeat.
func (m *Manager) TouchListener(ctx context.Context, sessionID, subscriptionID string) bool {
	s, ok := m.Session(sessionID)
	if !ok {
		return false
	}
	now := m.clock()
	s.mu.Lock()
	l, ok := s.listeners[subscriptionID]
	if !ok {
		s.mu.Unlock()
		return false
	}
	l.lastSeen = now
	s.lastSeen = now
	userID := l.userID
	s.mu.Unlock()

	if err := m.store.TouchListener(ctx, sessionID, userID); err != nil {
		m.warnStore("touch listener", sessionID, err)
	}
	return true
}

// ChangeLanguage atomically swaps a listener's language filter and
// returns the new language version.
func (m *Manager) ChangeLanguage(ctx context.Context, sessionID, subscriptionID, newLanguage string) (uint64, bool) {
	s, ok := m.Session(sessionID)
	if !ok {
		return 0, false
	}
	now := m.clock()
	s.mu.Lock()
	l, ok := s.listeners[subscriptionID]
	if !ok {
		s.mu.Unlock()
		return 0, false
	}
	l.language = newLanguage
	l.langVer++
	ver := l.langVer
	l.lastSeen = now
	s.lastSeen = now
	userID := l.userID
	s.mu.Unlock()

	if !m.fan.UpdateTargetLanguage(sessionID, subscriptionID, newLanguage) {
		m.logger.Warn("language switch for unknown subscription",
			slog.String("session_id", sessionID),
			slog.String("subscription_id", subscriptionID))
	}
	if err := m.store.UpdateListenerLanguage(ctx, sessionID, userID, newLanguage); err != nil {
		m.warnStore("update listener language", sessionID, err)
	}
	if err := m.store.AppendSessionEvent(ctx, sessionID, "language_changed",
		map[string]string{"user_id": userID, "target_language": newLanguage}); err != nil {
		m.warnStore("append session event", sessionID, err)
	}
	return ver, true
}

// RemoveListener detaches a listener and closes its span.
func (m *Manager) RemoveListener(ctx context.Context, sessionID, subscriptionID, reason string) bool {
	s, ok := m.Session(sessionID)
	if !ok {
		return false
	}
	s.mu.Lock()
	l, ok := s.listeners[subscriptionID]
	if ok {
		delete(s.listeners, subscriptionID)
	}
	s.mu.Unlock()
	if !ok {
		return false
	}

	m.fan.Unregister(sessionID, subscriptionID)
	m.closeListeningSpan(ctx, sessionID, l.userID, reason)
	if err := m.store.AppendSessionEvent(ctx, sessionID, "listener_left",
		map[string]string{"user_id": l.userID, "reason": reason}); err != nil {
		m.warnStore("append session event", sessionID, err)
	}
	return true
}

// EndSession removes the session, closes every open span, and cancels
// the session context.
func (m *Manager) EndSession(ctx context.Context, sessionID, reason string) bool {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return false
	}
	delete(m.sessions, sessionID)
	m.mu.Unlock()

	s.mu.Lock()
	listeners := make(map[string]listenerState, len(s.listeners))
	for id, l := range s.listeners {
		listeners[id] = *l
	}
	s.listeners = make(map[string]*listenerState)
	s.mu.Unlock()

	listenerReason := ReasonSessionEnded
	if reason == ReasonAbandoned {
		listenerReason = ReasonAbandoned
	}
	for subscriptionID, l := range listeners {
		m.fan.Unregister(sessionID, subscriptionID)
		m.closeListeningSpan(ctx, sessionID, l.userID, listenerReason)
	}

	if _, _, err := m.store.EndSessionSpan(ctx, sessionID, reason, m.grace()); err != nil {
		m.warnStore("end session span", sessionID, err)
	}
	if err := m.store.AppendSessionEvent(ctx, sessionID, "session_ended",
		map[string]string{"reason": reason}); err != nil {
		m.warnStore("append session event", sessionID, err)
	}
	s.cancel()
	m.logger.Info("session ended",
		slog.String("session_id", sessionID),
		slog.String("reason", reason))
	if m.onEnd != nil {
		m.onEnd(sessionID, reason)
	}
	return true
}

// Reap ends abandoned in-memory sessions and closes stale store rows.
// Store failures are logged and counted; the cycle keeps going.
func (m *Manager) Reap(ctx context.Context) {
	cutoff := m.clock().Add(-m.threshold())

	var abandoned []string
	m.mu.RLock()
	for id, s := range m.sessions {
		s.mu.Lock()
		quiet := s.lastSeen.Before(cutoff)
		s.mu.Unlock()
		if quiet {
			abandoned = append(abandoned, id)
		}
	}
	m.mu.RUnlock()
	for _, id := range abandoned {
		m.logger.Info("reaping abandoned session", slog.String("session_id", id))
		if m.EndSession(ctx, id, ReasonAbandoned) {
			metrics.SessionsReaped.Add(ctx, 1)
		}
	}

	stale, err := m.store.StaleListeningSpans(ctx, cutoff)
	if err != nil {
		m.warnStore("scan stale listening spans", "", err)
	}
	for _, span := range stale {
		if m.hasListener(span.SessionID, span.UserID) {
			continue
		}
		m.closeListeningSpan(ctx, span.SessionID, span.UserID, ReasonAbandoned)
	}

	orphans, err := m.store.StaleSessionSpans(ctx, cutoff)
	if err != nil {
		m.warnStore("scan stale session spans", "", err)
	}
	for _, span := range orphans {
		if _, live := m.Session(span.SessionID); live {
			continue
		}
		if _, _, err := m.store.EndSessionSpan(ctx, span.SessionID, ReasonAbandoned, m.grace()); err != nil {
			m.warnStore("end orphaned session span", span.SessionID, err)
			continue
		}
		m.logger.Info("closed orphaned session span", slog.String("session_id", span.SessionID))
	}
}

func (m *Manager) hasListener(sessionID, userID string) bool {
	s, ok := m.Session(sessionID)
	if !ok {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.listeners {
		if l.userID == userID {
			return true
		}
	}
	return false
}

// closeListeningSpan ends the span and records its usage event.
func (m *Manager) closeListeningSpan(ctx context.Context, sessionID, userID, reason string) {
	span, ok, err := m.store.EndListeningSpan(ctx, sessionID, userID, reason, m.grace())
	if err != nil {
		m.warnStore("end listening span", sessionID, err)
		return
	}
	if !ok {
		return
	}
	key := "listening:" + span.ID
	if _, err := m.store.RecordUsageEvent(ctx, key, "listening_seconds", span.BillableSeconds(),
		map[string]string{"session_id": sessionID, "user_id": userID, "reason": reason}); err != nil {
		m.warnStore("record usage event", sessionID, err)
	}
}

func (m *Manager) warnStore(op, sessionID string, err error) {
	m.storeFailures.Add(1)
	attrs := []any{slogError(err)}
	if sessionID != "" {
		attrs = append(attrs, slog.String("session_id", sessionID))
	}
	m.logger.Warn("session store "+op+" failed", attrs...)
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
