package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/exaudilabs/exaudi-core/internal/bus"
	"github.com/exaudilabs/exaudi-core/internal/config"
	"github.com/exaudilabs/exaudi-core/internal/protocol"
)

// Service consumes committed finals off the bus and publishes
// annotations for the sessions that produced them.
type Service struct {
	cfg    config.AnalyzerConfig
	bus    *bus.Client
	index  *Index
	sub    *nats.Subscription
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *slog.Logger
}

func NewService(parent context.Context, cfg config.AnalyzerConfig, busClient *bus.Client, index *Index, log *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		cfg:    cfg,
		bus:    busClient,
		index:  index,
		ctx:    ctx,
		cancel: cancel,
		logger: log.With(slog.String("component", "analyzer")),
	}
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	sub, err := s.bus.Subscribe(protocol.SubjectTranscriptFinalPrefix+".>", s.handleFinal)
	if err != nil {
		return fmt.Errorf("subscribe transcript finals: %w", err)
	}
	s.sub = sub
	return nil
}

func (s *Service) Close() {
	s.cancel()
	if s.sub != nil {
		_ = s.sub.Drain()
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool { return !s.cfg.Enabled || s.sub != nil }

func (s *Service) handleFinal(data []byte) {
	var evt protocol.TranscriptEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		s.logger.Warn("failed to decode transcript event", slogError(err))
		return
	}
	if evt.IsPartial {
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		refs := s.index.Analyze(evt.Text)
		if len(refs) == 0 {
			return
		}
		ann := protocol.Annotation{
			SessionID: evt.SessionID,
			Seq:       evt.Seq,
			Refs:      refs,
			Timestamp: time.Now().UTC(),
		}
		if err := s.bus.Publish(protocol.AnnotationSubject(evt.SessionID), ann); err != nil {
			s.logger.Warn("failed to publish annotation", slogError(err))
			return
		}
		s.logger.Debug("published annotation",
			slog.String("session_id", evt.SessionID),
			slog.Int("refs", len(refs)))
	}()
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
