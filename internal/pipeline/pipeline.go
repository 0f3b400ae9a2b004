// Package pipeline drives each session's processing chain: ASR events
// are reconciled into committed finals, finals are translated for
// every listener language, and each translation is handed to
// synthesis. One goroutine pair per session keeps the reconciler
// single-threaded; synthesis runs on per-language queues so a slow
// provider cannot stall text delivery.
package pipeline

import (
	"log/slog"
	"sync"
	"time"

	"github.com/exaudilabs/exaudi-core/internal/config"
	"github.com/exaudilabs/exaudi-core/internal/fanout"
	"github.com/exaudilabs/exaudi-core/internal/session"
	"github.com/exaudilabs/exaudi-core/internal/store"
	"github.com/exaudilabs/exaudi-core/internal/translate"
	"github.com/exaudilabs/exaudi-core/internal/tts"
	"github.com/exaudilabs/exaudi-core/internal/ttsroute"
)

// Publisher is the bus surface transcript events are published on.
type Publisher interface {
	Publish(subject string, v any) error
}

// Deps are the collaborators one Service drives. Bus, Translator and
// Synth may be nil; the matching stage is skipped.
type Deps struct {
	Bus        Publisher
	Translator translate.Translator
	Synth      *tts.Synthesizer
	Resolver   *ttsroute.Resolver
	Fanout     *fanout.Registry
	Store      *store.Store
}

// Service owns the per-session workers.
type Service struct {
	cfg    config.Config
	deps   Deps
	logger *slog.Logger

	mu      sync.Mutex
	workers map[string]*worker
}

func NewService(cfg config.Config, deps Deps, log *slog.Logger) *Service {
	return &Service{
		cfg:     cfg,
		deps:    deps,
		logger:  log.With(slog.String("component", "pipeline")),
		workers: make(map[string]*worker),
	}
}

// StartSession attaches a worker to sess. Starting an already running
// session is a no-op, so a host re-init keeps the utterance state.
func (s *Service) StartSession(sess *session.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.workers == nil {
		return
	}
	if _, ok := s.workers[sess.ID]; ok {
		return
	}
	w := s.newWorker(sess)
	s.workers[sess.ID] = w
	w.start()
	s.logger.Info("pipeline attached", slog.String("session_id", sess.ID))
}

// StopSession tears the session's worker down and waits for in-flight
// work to abort.
func (s *Service) StopSession(sessionID string) {
	s.mu.Lock()
	w := s.workers[sessionID]
	delete(s.workers, sessionID)
	s.mu.Unlock()
	if w == nil {
		return
	}
	w.stop()
	s.logger.Info("pipeline detached", slog.String("session_id", sessionID))
}

// Ingest hands one ASR event to the session's worker. Returns false
// when the session has no running pipeline.
func (s *Service) Ingest(sessionID, text string, isPartial bool) bool {
	s.mu.Lock()
	w := s.workers[sessionID]
	s.mu.Unlock()
	if w == nil {
		return false
	}
	return w.enqueue(job{text: text, partial: isPartial})
}

// Count returns the number of sessions with a running worker.
func (s *Service) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.workers)
}

func (s *Service) Healthy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.workers != nil
}

// Close stops every worker. The service accepts no sessions afterward.
func (s *Service) Close() {
	s.mu.Lock()
	workers := s.workers
	s.workers = nil
	s.mu.Unlock()
	for _, w := range workers {
		w.stop()
	}
}

func (s *Service) forcedFinalTimeout() time.Duration {
	if ms := s.cfg.Transcript.ForcedFinalTimeoutMS; ms > 0 {
		return time.Duration(ms) * time.Millisecond
	}
	return 2 * time.Second
}

func (s *Service) translateTimeout() time.Duration {
	if ms := s.cfg.Translate.TimeoutMS; ms > 0 {
		return time.Duration(ms) * time.Millisecond
	}
	return 10 * time.Second
}

func (s *Service) publish(subject string, v any) {
	if s.deps.Bus == nil {
		return
	}
	if err := s.deps.Bus.Publish(subject, v); err != nil {
		s.logger.Warn("transcript publish failed",
			slog.String("subject", subject),
			slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
