// Package runtime wires the services together and runs them until
// shutdown: store, bus, session manager, pipeline, synthesis stack,
// websocket gateway, and the HTTP surface for health, metrics, and
// admin reads.
package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/exaudilabs/exaudi-core/internal/analyzer"
	"github.com/exaudilabs/exaudi-core/internal/bus"
	"github.com/exaudilabs/exaudi-core/internal/catalog"
	"github.com/exaudilabs/exaudi-core/internal/config"
	"github.com/exaudilabs/exaudi-core/internal/fanout"
	"github.com/exaudilabs/exaudi-core/internal/gateway"
	"github.com/exaudilabs/exaudi-core/internal/natsserver"
	"github.com/exaudilabs/exaudi-core/internal/pipeline"
	"github.com/exaudilabs/exaudi-core/internal/session"
	"github.com/exaudilabs/exaudi-core/internal/store"
	"github.com/exaudilabs/exaudi-core/internal/translate"
	"github.com/exaudilabs/exaudi-core/internal/tts"
	"github.com/exaudilabs/exaudi-core/internal/ttsroute"
	"github.com/exaudilabs/exaudi-core/internal/voiceprefs"
)

const shutdownTimeout = 10 * time.Second

type Runtime struct {
	cfg    config.Config
	logger *slog.Logger

	httpServer *http.Server
	promServer *http.Server
	ready      atomic.Bool
	probes     []func() bool
	sessions   func() []session.Info
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Start builds every service, serves until ctx is cancelled, then
// tears down in reverse order. It returns the first serve error, if
// any.
func (r *Runtime) Start(ctx context.Context) error {
	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("setup telemetry: %w", err)
	}

	// Services tear down in reverse construction order; failures on
	// the way up unwind whatever was already running.
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	st, err := store.Open(ctx, r.cfg.Store, r.logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	closers = append(closers, func() {
		if err := st.Close(); err != nil {
			r.logger.Error("store close error", slogError(err))
		}
	})

	embedded, err := natsserver.Start(r.cfg.Bus, r.logger)
	if err != nil {
		closeAll()
		return fmt.Errorf("start embedded bus: %w", err)
	}
	busCfg := r.cfg.Bus
	if embedded != nil {
		busCfg.Servers = []string{embedded.ClientURL()}
		closers = append(closers, embedded.Shutdown)
	}
	busClient, err := bus.Connect(ctx, busCfg, r.logger)
	if err != nil {
		closeAll()
		return fmt.Errorf("connect bus: %w", err)
	}
	closers = append(closers, busClient.Close)

	fan := fanout.NewRegistry(r.logger)
	mgr := session.NewManager(ctx, r.cfg.Session, st, fan, r.logger)
	closers = append(closers, mgr.Close)

	cat, err := catalog.Load(r.cfg.Catalog.Dir, r.cfg.Catalog.SupportedLocales)
	if err != nil {
		closeAll()
		return fmt.Errorf("load voice catalog: %w", err)
	}
	prefs, err := voiceprefs.Open(r.cfg.TTS.DefaultsPath)
	if err != nil {
		closeAll()
		return fmt.Errorf("open voice defaults: %w", err)
	}
	resolver := ttsroute.NewResolver(cat, prefs, r.logger)

	var synth *tts.Synthesizer
	if r.cfg.TTS.Enabled {
		provider, perr := tts.NewProvider(r.cfg.TTS)
		if perr != nil {
			closeAll()
			return fmt.Errorf("build tts provider: %w", perr)
		}
		router := ttsroute.NewRouter(cat, r.cfg.TTS.DefaultTier, r.cfg.TTS.VertexAIEnabled)
		synth = tts.NewSynthesizer(router, provider, fan, r.cfg.TTS, r.logger)
	}

	var translator translate.Translator
	if r.cfg.Translate.Enabled {
		translator, err = translate.New(r.cfg.Translate)
		if err != nil {
			closeAll()
			return fmt.Errorf("build translator: %w", err)
		}
	}

	pipe := pipeline.NewService(r.cfg, pipeline.Deps{
		Bus:        busClient,
		Translator: translator,
		Synth:      synth,
		Resolver:   resolver,
		Fanout:     fan,
		Store:      st,
	}, r.logger)
	mgr.OnSessionEnd(func(sessionID, _ string) { pipe.StopSession(sessionID) })
	mgr.Start()
	closers = append(closers, pipe.Close)

	var anlz *analyzer.Service
	if r.cfg.Analyzer.Enabled {
		idx, ierr := analyzer.LoadIndex(r.cfg.Analyzer.IndexPath)
		if ierr != nil {
			closeAll()
			return fmt.Errorf("load analyzer index: %w", ierr)
		}
		anlz = analyzer.NewService(ctx, r.cfg.Analyzer, busClient, idx, r.logger)
		if err := anlz.Start(); err != nil {
			closeAll()
			return fmt.Errorf("start analyzer: %w", err)
		}
		closers = append(closers, anlz.Close)
	}

	gw := gateway.NewService(r.cfg, mgr, pipe, r.logger)

	r.sessions = mgr.Sessions
	r.probes = []func() bool{busClient.Healthy, pipe.Healthy}
	if anlz != nil {
		r.probes = append(r.probes, anlz.Healthy)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	mux.HandleFunc("/api/sessions", r.handleSessions)
	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}
	gw.Register(mux)

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	if bind := r.cfg.Telemetry.PrometheusBind; bind != "" && metricsHandler != nil {
		promMux := http.NewServeMux()
		promMux.Handle("/metrics", metricsHandler)
		r.promServer = &http.Server{
			Addr:              bind,
			Handler:           promMux,
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := r.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if r.promServer != nil {
		g.Go(func() error {
			if err := r.promServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("prometheus server: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("http shutdown error", slogError(err))
		}
		if r.promServer != nil {
			if err := r.promServer.Shutdown(shutdownCtx); err != nil {
				r.logger.Error("prometheus shutdown error", slogError(err))
			}
		}
		return nil
	})

	r.ready.Store(true)
	r.logger.Info("runtime started",
		slog.String("addr", addr),
		slog.Bool("embedded_bus", embedded != nil))

	serveErr := g.Wait()
	r.ready.Store(false)
	r.logger.Info("runtime stopping")

	closeAll()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		r.logger.Error("telemetry shutdown error", slogError(err))
	}

	return serveErr
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if !r.ready.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
		return
	}
	for _, probe := range r.probes {
		if !probe() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready"))
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// handleSessions serves the live session snapshot for admin tooling.
func (r *Runtime) handleSessions(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if r.sessions == nil || !r.ready.Load() {
		http.Error(w, "not ready", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(r.sessions()); err != nil {
		r.logger.Warn("encode session snapshot", slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
