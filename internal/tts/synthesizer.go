package tts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/exaudilabs/exaudi-core/internal/config"
	"github.com/exaudilabs/exaudi-core/internal/fanout"
	"github.com/exaudilabs/exaudi-core/internal/frame"
	"github.com/exaudilabs/exaudi-core/internal/metrics"
	"github.com/exaudilabs/exaudi-core/internal/ttsroute"
)

const (
	synthTimeout     = 45 * time.Second
	defaultRetryWait = 500 * time.Millisecond
)

// Synthesizer turns one committed segment into audio frames for a
// session's listeners: route, synthesize, fan out. Transient and
// rate-limit failures get one retry; permission, invalid-argument,
// and unsupported-voice failures get one re-route to the fallback
// tier and one retry. A segment that still fails is cancelled on the
// wire; text delivery is not affected.
type Synthesizer struct {
	router    *ttsroute.Router
	provider  Provider
	fan       *fanout.Registry
	streaming bool
	timeout   time.Duration
	retryWait time.Duration
	logger    *slog.Logger
}

// NewProvider builds the synthesis backend for the configured mode.
func NewProvider(cfg config.TTSConfig) (Provider, error) {
	switch cfg.Mode {
	case "", "mock":
		return NewMockProvider(), nil
	case "exec":
		return NewExecProvider(cfg.Command)
	}
	return nil, fmt.Errorf("unknown tts mode %q", cfg.Mode)
}

func NewSynthesizer(router *ttsroute.Router, provider Provider, fan *fanout.Registry, cfg config.TTSConfig, log *slog.Logger) *Synthesizer {
	s := &Synthesizer{
		router:    router,
		provider:  provider,
		fan:       fan,
		streaming: cfg.SynthesisMode == "streaming",
		timeout:   synthTimeout,
		retryWait: defaultRetryWait,
		logger:    log.With(slog.String("component", "tts")),
	}
	if s.streaming {
		if _, ok := provider.(StreamingProvider); !ok {
			s.logger.Warn("provider cannot stream, using unary synthesis")
			s.streaming = false
		}
	}
	return s
}

// Speak resolves a route for one segment, synthesizes it, and fans
// the frames out. Frame versions increase across attempts so a
// receiver can discard a partially delivered earlier attempt.
func (s *Synthesizer) Speak(ctx context.Context, req Request, routeReq ttsroute.Request) error {
	route, err := s.router.Route(routeReq)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	s.logger.Info("routed synthesis",
		slog.String("session_id", req.SessionID),
		slog.String("segment_id", req.SegmentID),
		slog.String("tier", route.Tier),
		slog.String("voice", route.VoiceName),
		slog.String("reason", route.Reason))

	s.start(req, route)
	version := 1
	err = s.attempt(ctx, req, route, version)
	if err != nil && transient(err) {
		s.logger.Warn("synthesis failed, retrying",
			slog.String("session_id", req.SessionID),
			slog.String("segment_id", req.SegmentID),
			slogError(err))
		select {
		case <-ctx.Done():
			err = ctx.Err()
		case <-time.After(s.retryWait):
			version++
			err = s.attempt(ctx, req, route, version)
		}
	}
	if err == nil {
		s.end(req, route)
		return nil
	}
	if kind, fatal := failureKind(err); fatal {
		if fallback, rerr := s.router.ReRoute(route, routeReq, kind); rerr == nil {
			metrics.SynthFallbacks.Add(ctx, 1,
				metric.WithAttributes(attribute.String("to_tier", fallback.Tier)))
			s.logger.Warn("re-routing synthesis",
				slog.String("session_id", req.SessionID),
				slog.String("from_tier", route.Tier),
				slog.String("to_tier", fallback.Tier),
				slog.String("reason", fallback.Reason),
				slogError(err))
			s.start(req, fallback)
			version++
			if ferr := s.attempt(ctx, req, fallback, version); ferr == nil {
				s.end(req, fallback)
				return nil
			} else {
				err = ferr
			}
		}
	}
	s.cancelAudio(req, route, ErrorCode(err))
	return err
}

// attempt runs one synthesis and broadcasts its frames.
func (s *Synthesizer) attempt(ctx context.Context, req Request, route ttsroute.Route, version int) error {
	meta := frame.Metadata{StreamID: req.StreamID, SegmentID: req.SegmentID, Version: version}
	if sp, ok := s.provider.(StreamingProvider); ok && s.streaming {
		idx := 0
		return sp.SynthesizeStream(ctx, req, route, func(chunk []byte, last bool) error {
			meta.ChunkIndex = idx
			meta.IsLast = last
			buf, err := frame.Encode(meta, chunk)
			if err != nil {
				return err
			}
			s.fan.BroadcastAudio(req.SessionID, buf, route.LanguageCode)
			idx++
			return nil
		})
	}
	res, err := s.provider.SynthesizeUnary(ctx, req, route)
	if err != nil {
		return err
	}
	meta.IsLast = true
	buf, err := frame.Encode(meta, res.Audio)
	if err != nil {
		return err
	}
	s.fan.BroadcastAudio(req.SessionID, buf, route.LanguageCode)
	return nil
}

func (s *Synthesizer) start(req Request, route ttsroute.Route) {
	s.control(req.SessionID, route.LanguageCode, frame.Control{
		Type:         frame.ControlAudioStart,
		StreamID:     req.StreamID,
		SegmentID:    req.SegmentID,
		Language:     route.LanguageCode,
		Mime:         MimeForEncoding(route.AudioEncoding),
		SampleRateHz: defaultSampleRateHz,
	})
}

func (s *Synthesizer) end(req Request, route ttsroute.Route) {
	s.control(req.SessionID, route.LanguageCode, frame.Control{
		Type:      frame.ControlAudioEnd,
		StreamID:  req.StreamID,
		SegmentID: req.SegmentID,
		Language:  route.LanguageCode,
	})
}

func (s *Synthesizer) cancelAudio(req Request, route ttsroute.Route, reason string) {
	s.control(req.SessionID, route.LanguageCode, frame.Control{
		Type:      frame.ControlAudioCancel,
		StreamID:  req.StreamID,
		SegmentID: req.SegmentID,
		Language:  route.LanguageCode,
		Reason:    reason,
	})
}

func (s *Synthesizer) control(sessionID, language string, c frame.Control) {
	data, err := frame.EncodeControl(c)
	if err != nil {
		s.logger.Warn("failed to encode audio control", slogError(err))
		return
	}
	s.fan.BroadcastControl(sessionID, data, language)
}

// failureKind reports whether err warrants a re-route.
func failureKind(err error) (ttsroute.FailureKind, bool) {
	switch {
	case errors.Is(err, ErrPermissionDenied):
		return ttsroute.FailurePermissionDenied, true
	case errors.Is(err, ErrInvalidArgument):
		return ttsroute.FailureInvalidArgument, true
	case errors.Is(err, ErrUnsupportedVoice):
		return ttsroute.FailureUnsupportedVoice, true
	}
	return 0, false
}

func transient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if _, fatal := failureKind(err); fatal {
		return false
	}
	return true
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
