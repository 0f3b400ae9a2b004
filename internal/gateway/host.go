package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/exaudilabs/exaudi-core/internal/protocol"
	"github.com/exaudilabs/exaudi-core/internal/session"
	"github.com/exaudilabs/exaudi-core/internal/wire"
)

// handleHost upgrades a host wire. The session identity rides the URL;
// the first init message carries the source language.
func (s *Service) handleHost(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		http.Error(w, "session_id required", http.StatusBadRequest)
		return
	}
	orgID := r.URL.Query().Get("org_id")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("host upgrade failed", slogError(err))
		return
	}
	s.hostLoop(conn, sessionID, orgID)
}

func (s *Service) hostLoop(conn *websocket.Conn, sessionID, orgID string) {
	ctx := context.Background()
	hw := wire.NewWS(conn)
	defer hw.Close()

	logger := s.logger.With(slog.String("session_id", sessionID))
	readWait := s.readWait()
	conn.SetReadLimit(maxMessageBytes)
	conn.SetReadDeadline(time.Now().Add(readWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readWait))
		s.mgr.TouchSession(ctx, sessionID)
		return nil
	})
	stopPing := s.startPing(conn)
	defer stopPing()

	done := make(chan struct{})
	defer close(done)

	var sess *session.Session
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			// The session survives an accidental drop; the host can
			// reconnect and re-init, and the reaper handles the rest.
			if sess != nil {
				logger.Info("host disconnected")
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(readWait))

		var msg protocol.ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.sendError(hw, protocol.CodeInvalidRequest, "malformed message")
			continue
		}

		switch msg.Type {
		case protocol.MsgInit:
			if msg.SourceLang == "" {
				s.sendError(hw, protocol.CodeInvalidRequest, "init requires source_lang")
				continue
			}
			first := sess == nil
			sess = s.mgr.CreateSession(ctx, sessionID, orgID, msg.SourceLang)
			s.pipe.StartSession(sess)
			if first {
				go watchSession(sess, hw, done)
			}
			s.sendJSON(hw, protocol.SessionReadyMessage{
				Type:       protocol.MsgSessionReady,
				SessionID:  sessionID,
				SourceLang: sess.SourceLang(),
			})
		case protocol.MsgTranscription:
			if sess == nil {
				s.sendError(hw, protocol.CodeInvalidRequest, "init required before transcription")
				continue
			}
			if !s.pipe.Ingest(sessionID, msg.Text, msg.IsPartial) {
				logger.Debug("transcription for inactive session dropped")
			}
		case protocol.MsgHeartbeat:
			s.mgr.TouchSession(ctx, sessionID)
		case protocol.MsgStop:
			if sess != nil {
				s.mgr.EndSession(ctx, sessionID, session.ReasonStopped)
				logger.Info("host stopped session")
			}
			return
		default:
			s.sendError(hw, protocol.CodeInvalidRequest, "unknown message type: "+msg.Type)
		}
	}
}
