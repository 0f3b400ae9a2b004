package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/exaudilabs/exaudi-core/internal/catalog"
	"github.com/exaudilabs/exaudi-core/internal/config"
	"github.com/exaudilabs/exaudi-core/internal/fanout"
	"github.com/exaudilabs/exaudi-core/internal/frame"
	"github.com/exaudilabs/exaudi-core/internal/pipeline"
	"github.com/exaudilabs/exaudi-core/internal/protocol"
	"github.com/exaudilabs/exaudi-core/internal/session"
	"github.com/exaudilabs/exaudi-core/internal/store"
	"github.com/exaudilabs/exaudi-core/internal/translate"
	"github.com/exaudilabs/exaudi-core/internal/tts"
	"github.com/exaudilabs/exaudi-core/internal/ttsroute"
)

type fixture struct {
	t    *testing.T
	srv  *httptest.Server
	mgr  *session.Manager
	pipe *pipeline.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := config.Default()
	cfg.Store.Path = filepath.Join(t.TempDir(), "gateway.db")
	cfg.Transcript.ForcedFinalTimeoutMS = 60000
	cfg.Transcript.PartialMinIntervalMS = 0
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()

	st, err := store.Open(ctx, cfg.Store, logger)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	fan := fanout.NewRegistry(logger)
	mgr := session.NewManager(ctx, cfg.Session, st, fan, logger)

	cat, err := catalog.Load("", []string{"en-US", "es-ES", "de-DE", "fr-FR"})
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	router := ttsroute.NewRouter(cat, cfg.TTS.DefaultTier, true)
	synth := tts.NewSynthesizer(router, tts.NewMockProvider(), fan, cfg.TTS, logger)
	resolver := ttsroute.NewResolver(cat, nil, logger)

	pipe := pipeline.NewService(cfg, pipeline.Deps{
		Translator: translate.NewMock(),
		Synth:      synth,
		Resolver:   resolver,
		Fanout:     fan,
		Store:      st,
	}, logger)
	mgr.OnSessionEnd(func(sessionID, _ string) { pipe.StopSession(sessionID) })

	gw := NewService(cfg, mgr, pipe, logger)
	mux := http.NewServeMux()
	gw.Register(mux)
	srv := httptest.NewServer(mux)

	t.Cleanup(func() {
		srv.Close()
		pipe.Close()
		mgr.Close()
		st.Close()
	})
	return &fixture{t: t, srv: srv, mgr: mgr, pipe: pipe}
}

func (f *fixture) dial(path string) *websocket.Conn {
	f.t.Helper()
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + path
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		f.t.Fatalf("dial %s: %v", path, err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	f.t.Cleanup(func() { conn.Close() })
	return conn
}

func (f *fixture) startHost(sessionID, sourceLang string) *websocket.Conn {
	f.t.Helper()
	conn := f.dial("/ws/host?session_id=" + sessionID + "&org_id=org-1")
	writeJSON(f.t, conn, map[string]any{"type": "init", "source_lang": sourceLang})
	var ready protocol.SessionReadyMessage
	decodeInto(f.t, readText(f.t, conn), &ready)
	if ready.Type != protocol.MsgSessionReady || ready.SessionID != sessionID {
		f.t.Fatalf("unexpected ready ack: %+v", ready)
	}
	return conn
}

func (f *fixture) joinListener(sessionID, target string) (*websocket.Conn, protocol.SessionReadyMessage) {
	f.t.Helper()
	path := "/ws/listen?session_id=" + sessionID
	if target != "" {
		path += "&target_lang=" + target
	}
	conn := f.dial(path)
	var ready protocol.SessionReadyMessage
	decodeInto(f.t, readText(f.t, conn), &ready)
	if ready.Type != protocol.MsgSessionReady {
		f.t.Fatalf("unexpected ready ack: %+v", ready)
	}
	return conn, ready
}

func writeJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	if err := conn.WriteJSON(v); err != nil {
		t.Fatalf("write message: %v", err)
	}
}

func readRaw(t *testing.T, conn *websocket.Conn) (int, []byte) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	kind, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read message: %v", err)
	}
	return kind, data
}

func readText(t *testing.T, conn *websocket.Conn) []byte {
	t.Helper()
	kind, data := readRaw(t, conn)
	if kind != websocket.TextMessage {
		t.Fatalf("expected text frame, got type %d", kind)
	}
	return data
}

func decodeInto(t *testing.T, data []byte, v any) {
	t.Helper()
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("unmarshal %q: %v", data, err)
	}
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal(msg)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHostTranscriptionReachesListener(t *testing.T) {
	f := newFixture(t)
	host := f.startHost("evt-1", "en-US")
	lis, _ := f.joinListener("evt-1", "es")

	writeJSON(t, host, map[string]any{"type": "transcription", "text": "Hello everyone", "is_partial": true})

	var tr protocol.TranslationMessage
	decodeInto(t, readText(t, lis), &tr)
	if tr.Type != protocol.MsgTranslation {
		t.Fatalf("expected translation, got %+v", tr)
	}
	if !tr.IsPartial || tr.SeqID != 1 {
		t.Fatalf("unexpected partial envelope: %+v", tr)
	}
	if tr.TranslatedText != "[es] Hello everyone" {
		t.Fatalf("translated text = %q", tr.TranslatedText)
	}
}

func TestFinalDeliversAudioOverWebsocket(t *testing.T) {
	f := newFixture(t)
	host := f.startHost("evt-2", "en-US")
	lis, _ := f.joinListener("evt-2", "es")

	writeJSON(t, host, map[string]any{"type": "transcription", "text": "Welcome friends", "is_partial": false})

	var tr protocol.TranslationMessage
	decodeInto(t, readText(t, lis), &tr)
	if tr.IsPartial || !tr.HasTranslation {
		t.Fatalf("unexpected final envelope: %+v", tr)
	}

	start, err := frame.DecodeControl(readText(t, lis))
	if err != nil || start.Type != frame.ControlAudioStart {
		t.Fatalf("expected audio.start, got %+v (%v)", start, err)
	}
	if start.StreamID != "evt-2:es" || start.Mime != "audio/mpeg" {
		t.Fatalf("unexpected start control: %+v", start)
	}

	kind, data := readRaw(t, lis)
	if kind != websocket.BinaryMessage {
		t.Fatalf("expected binary frame, got type %d", kind)
	}
	meta, audio, err := frame.Decode(data)
	if err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	if meta.StreamID != "evt-2:es" || meta.SegmentID != start.SegmentID || !meta.IsLast {
		t.Fatalf("unexpected frame metadata: %+v", meta)
	}
	if string(audio) != "Kore|es-ES|[es] Welcome friends" {
		t.Fatalf("unexpected rendered audio: %q", audio)
	}

	end, err := frame.DecodeControl(readText(t, lis))
	if err != nil || end.Type != frame.ControlAudioEnd {
		t.Fatalf("expected audio.end, got %+v (%v)", end, err)
	}
}

func TestListenerChangeLanguage(t *testing.T) {
	f := newFixture(t)
	host := f.startHost("evt-3", "en-US")
	lis, _ := f.joinListener("evt-3", "es")

	writeJSON(t, lis, map[string]any{"type": "change_language", "target_lang": "de"})

	var ack protocol.LanguageChangedMessage
	decodeInto(t, readText(t, lis), &ack)
	if ack.Type != protocol.MsgLanguageChanged || ack.TargetLang != "de" {
		t.Fatalf("unexpected ack: %+v", ack)
	}
	if ack.LangVersion != 2 {
		t.Fatalf("lang version = %d, want 2", ack.LangVersion)
	}

	writeJSON(t, host, map[string]any{"type": "transcription", "text": "Good evening", "is_partial": false})

	var tr protocol.TranslationMessage
	decodeInto(t, readText(t, lis), &tr)
	if tr.TranslatedText != "[de] Good evening" {
		t.Fatalf("translated text = %q after language change", tr.TranslatedText)
	}
}

func TestListenerUnknownSessionRejected(t *testing.T) {
	f := newFixture(t)
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws/listen?session_id=nope"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		conn.Close()
		t.Fatal("expected handshake rejection for unknown session")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 handshake response, got %+v", resp)
	}
	resp.Body.Close()
}

func TestHostStopEndsSessionAndClosesListeners(t *testing.T) {
	f := newFixture(t)
	host := f.startHost("evt-4", "en-US")
	lis, _ := f.joinListener("evt-4", "es")

	writeJSON(t, host, map[string]any{"type": "stop"})

	waitUntil(t, 2*time.Second, func() bool {
		_, ok := f.mgr.Session("evt-4")
		return !ok
	}, "session still registered after stop")
	waitUntil(t, 2*time.Second, func() bool { return f.pipe.Count() == 0 }, "pipeline still attached after stop")

	lis.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, _, err := lis.ReadMessage()
		if err == nil {
			continue
		}
		var nerr net.Error
		if errors.As(err, &nerr) && nerr.Timeout() {
			t.Fatalf("listener wire left open after session end: %v", err)
		}
		break
	}
}

func TestListenerStopLeavesSessionRunning(t *testing.T) {
	f := newFixture(t)
	f.startHost("evt-5", "en-US")
	lis, _ := f.joinListener("evt-5", "es")

	writeJSON(t, lis, map[string]any{"type": "stop"})

	sess, ok := f.mgr.Session("evt-5")
	if !ok {
		t.Fatal("session should survive a listener stop")
	}
	waitUntil(t, 2*time.Second, func() bool { return sess.ListenerCount() == 0 }, "listener not removed after stop")
	if f.pipe.Count() != 1 {
		t.Fatalf("pipeline workers = %d, want 1", f.pipe.Count())
	}
}

func TestMalformedMessageKeepsWireUsable(t *testing.T) {
	f := newFixture(t)
	conn := f.dial("/ws/host?session_id=evt-6")

	conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	if err := conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("write malformed: %v", err)
	}

	var errMsg protocol.ErrorMessage
	decodeInto(t, readText(t, conn), &errMsg)
	if errMsg.Type != protocol.MsgError || errMsg.Code != protocol.CodeInvalidRequest {
		t.Fatalf("unexpected error frame: %+v", errMsg)
	}

	writeJSON(t, conn, map[string]any{"type": "init", "source_lang": "en-US"})
	var ready protocol.SessionReadyMessage
	decodeInto(t, readText(t, conn), &ready)
	if ready.Type != protocol.MsgSessionReady {
		t.Fatalf("init after rejected message failed: %+v", ready)
	}
}

func TestTranscriptionBeforeInitRejected(t *testing.T) {
	f := newFixture(t)
	conn := f.dial("/ws/host?session_id=evt-7")

	writeJSON(t, conn, map[string]any{"type": "transcription", "text": "too early"})

	var errMsg protocol.ErrorMessage
	decodeInto(t, readText(t, conn), &errMsg)
	if errMsg.Code != protocol.CodeInvalidRequest {
		t.Fatalf("unexpected error frame: %+v", errMsg)
	}
	if _, ok := f.mgr.Session("evt-7"); ok {
		t.Fatal("transcription before init must not create a session")
	}
}

func TestListenerDefaultTargetIsSourceLanguage(t *testing.T) {
	f := newFixture(t)
	host := f.startHost("evt-8", "en-US")
	lis, ready := f.joinListener("evt-8", "")
	if ready.TargetLang != "en-US" {
		t.Fatalf("default target = %q, want source language", ready.TargetLang)
	}

	writeJSON(t, host, map[string]any{"type": "transcription", "text": "Plain text stays", "is_partial": false})

	var tr protocol.TranslationMessage
	decodeInto(t, readText(t, lis), &tr)
	if tr.HasTranslation {
		t.Fatalf("source-language listener should get untranslated text: %+v", tr)
	}
	if tr.Text != "Plain text stays" {
		t.Fatalf("text = %q", tr.Text)
	}
}

func TestHeartbeatAdvancesLastSeen(t *testing.T) {
	f := newFixture(t)
	host := f.startHost("evt-9", "en-US")

	lastSeen := func() time.Time {
		for _, info := range f.mgr.Sessions() {
			if info.ID == "evt-9" {
				return info.LastSeenAt
			}
		}
		return time.Time{}
	}
	before := lastSeen()
	time.Sleep(10 * time.Millisecond)

	writeJSON(t, host, map[string]any{"type": "heartbeat"})

	waitUntil(t, 2*time.Second, func() bool { return lastSeen().After(before) }, "heartbeat did not advance last seen")
}

func TestUnknownMessageTypeRejectedWithoutDisconnect(t *testing.T) {
	f := newFixture(t)
	host := f.startHost("evt-10", "en-US")

	writeJSON(t, host, map[string]any{"type": "rewind"})

	var errMsg protocol.ErrorMessage
	decodeInto(t, readText(t, host), &errMsg)
	if errMsg.Code != protocol.CodeInvalidRequest {
		t.Fatalf("unexpected error frame: %+v", errMsg)
	}
	if _, ok := f.mgr.Session("evt-10"); !ok {
		t.Fatal("session must survive an unknown message type")
	}
}
