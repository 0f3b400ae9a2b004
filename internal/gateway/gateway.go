// Package gateway terminates host and listener websockets and binds
// them to live sessions and the transcript pipeline.
//
// A host connects to /ws/host?session_id=...&org_id=... and drives its
// session with init, transcription, heartbeat and stop messages. A
// listener connects to /ws/listen?session_id=...&target_lang=... and
// receives translation JSON plus binary audio frames; change_language
// switches its language lane without reconnecting. Rejected messages
// earn an error frame on the offending wire and never end the session.
package gateway

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/exaudilabs/exaudi-core/internal/config"
	"github.com/exaudilabs/exaudi-core/internal/pipeline"
	"github.com/exaudilabs/exaudi-core/internal/protocol"
	"github.com/exaudilabs/exaudi-core/internal/session"
	"github.com/exaudilabs/exaudi-core/internal/wire"
)

const (
	// maxMessageBytes bounds one inbound frame; transcription lines
	// run well under this.
	maxMessageBytes = 64 << 10
	controlWait     = 10 * time.Second
)

// Service owns the websocket endpoints.
type Service struct {
	cfg      config.Config
	mgr      *session.Manager
	pipe     *pipeline.Service
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

func NewService(cfg config.Config, mgr *session.Manager, pipe *pipeline.Service, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		cfg:    cfg,
		mgr:    mgr,
		pipe:   pipe,
		logger: log.With(slog.String("component", "gateway")),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Hosts and listeners join from arbitrary web origins.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Register mounts the websocket endpoints on mux.
func (s *Service) Register(mux *http.ServeMux) {
	mux.HandleFunc("/ws/host", s.handleHost)
	mux.HandleFunc("/ws/listen", s.handleListener)
}

// pingPeriod is how often the gateway pings a peer. Pongs and explicit
// heartbeat messages both refresh liveness.
func (s *Service) pingPeriod() time.Duration {
	if ms := s.cfg.Session.HeartbeatIntervalMS; ms > 0 {
		return time.Duration(ms) * time.Millisecond
	}
	return 30 * time.Second
}

// readWait is the silence budget before a wire is considered dead.
func (s *Service) readWait() time.Duration {
	return s.pingPeriod() + time.Duration(s.cfg.Session.HeartbeatGraceSeconds)*time.Second
}

func (s *Service) sendJSON(w wire.Wire, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Error("marshal outbound message", slogError(err))
		return
	}
	if err := w.SendText(data); err != nil {
		s.logger.Debug("outbound send failed", slogError(err))
	}
}

func (s *Service) sendError(w wire.Wire, code, message string) {
	s.sendJSON(w, protocol.ErrorMessage{Type: protocol.MsgError, Code: code, Message: message})
}

// startPing pings conn until the returned stop func is called or the
// conn dies. WriteControl is safe alongside the wire's data writes.
func (s *Service) startPing(conn *websocket.Conn) func() {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(s.pingPeriod())
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(controlWait)); err != nil {
					return
				}
			}
		}
	}()
	return func() { close(done) }
}

// watchSession closes the wire when the session ends, unblocking the
// read loop. done stops the watch when the loop exits on its own.
func watchSession(sess *session.Session, w wire.Wire, done <-chan struct{}) {
	select {
	case <-sess.Context().Done():
		w.Close()
	case <-done:
	}
}

func slogError(err error) slog.Attr {
	return slog.Any("error", err)
}
