package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/exaudilabs/exaudi-core/internal/protocol"
	"github.com/exaudilabs/exaudi-core/internal/session"
	"github.com/exaudilabs/exaudi-core/internal/wire"
)

// handleListener upgrades a listener wire and joins it to a live
// session. target_lang and user_id ride the URL; an empty target
// defaults to the session source language so the listener hears the
// room untranslated.
func (s *Service) handleListener(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sessionID := q.Get("session_id")
	if sessionID == "" {
		http.Error(w, "session_id required", http.StatusBadRequest)
		return
	}
	sess, ok := s.mgr.Session(sessionID)
	if !ok {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}
	userID := q.Get("user_id")
	if userID == "" {
		userID = uuid.NewString()
	}
	target := q.Get("target_lang")
	if target == "" {
		target = sess.SourceLang()
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("listener upgrade failed", slogError(err))
		return
	}
	s.listenerLoop(conn, sess, userID, target)
}

func (s *Service) listenerLoop(conn *websocket.Conn, sess *session.Session, userID, target string) {
	ctx := context.Background()
	lw := wire.NewWS(conn)
	defer lw.Close()

	subID := uuid.NewString()
	logger := s.logger.With(
		slog.String("session_id", sess.ID),
		slog.String("subscription_id", subID))

	if _, err := s.mgr.AddListener(ctx, sess.ID, subID, userID, lw, target); err != nil {
		// Session ended between lookup and join.
		s.sendError(lw, protocol.CodeInvalidRequest, "unknown session")
		return
	}
	defer s.mgr.RemoveListener(ctx, sess.ID, subID, session.ReasonDisconnected)

	readWait := s.readWait()
	conn.SetReadLimit(maxMessageBytes)
	conn.SetReadDeadline(time.Now().Add(readWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readWait))
		s.mgr.TouchListener(ctx, sess.ID, subID)
		return nil
	})
	stopPing := s.startPing(conn)
	defer stopPing()

	done := make(chan struct{})
	defer close(done)
	go watchSession(sess, lw, done)

	s.sendJSON(lw, protocol.SessionReadyMessage{
		Type:       protocol.MsgSessionReady,
		SessionID:  sess.ID,
		SourceLang: sess.SourceLang(),
		TargetLang: target,
	})

	current := target
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		conn.SetReadDeadline(time.Now().Add(readWait))

		var msg protocol.ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.sendError(lw, protocol.CodeInvalidRequest, "malformed message")
			continue
		}

		switch msg.Type {
		case protocol.MsgChangeLanguage:
			if msg.TargetLang == "" {
				s.sendError(lw, protocol.CodeInvalidRequest, "change_language requires target_lang")
				continue
			}
			ver, ok := s.mgr.ChangeLanguage(ctx, sess.ID, subID, msg.TargetLang)
			if !ok {
				s.sendError(lw, protocol.CodeInvalidRequest, "subscription no longer active")
				return
			}
			current = msg.TargetLang
			s.sendJSON(lw, protocol.LanguageChangedMessage{
				Type:        protocol.MsgLanguageChanged,
				TargetLang:  msg.TargetLang,
				LangVersion: ver,
			})
		case protocol.MsgHeartbeat:
			s.mgr.TouchListener(ctx, sess.ID, subID)
		case protocol.MsgInit:
			// Clients that initialize after connect get the same ack.
			s.sendJSON(lw, protocol.SessionReadyMessage{
				Type:       protocol.MsgSessionReady,
				SessionID:  sess.ID,
				SourceLang: sess.SourceLang(),
				TargetLang: current,
			})
		case protocol.MsgStop:
			s.mgr.RemoveListener(ctx, sess.ID, subID, session.ReasonStopped)
			logger.Info("listener stopped")
			return
		default:
			s.sendError(lw, protocol.CodeInvalidRequest, "unknown message type: "+msg.Type)
		}
	}
}
