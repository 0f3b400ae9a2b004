package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/time/rate"

	"github.com/exaudilabs/exaudi-core/internal/langtag"
	"github.com/exaudilabs/exaudi-core/internal/metrics"
	"github.com/exaudilabs/exaudi-core/internal/protocol"
	"github.com/exaudilabs/exaudi-core/internal/session"
	"github.com/exaudilabs/exaudi-core/internal/transcript"
	"github.com/exaudilabs/exaudi-core/internal/tts"
	"github.com/exaudilabs/exaudi-core/internal/ttsroute"
)

const (
	ingestQueueDepth = 256
	commitQueueDepth = 16
	speechQueueDepth = 8
)

// job is one unit of reconciliation work.
type job struct {
	text    string
	partial bool
	forced  bool
}

// speechJob is one committed segment bound for synthesis in one
// language.
type speechJob struct {
	segmentID string
	text      string
}

// worker is a session's processing pair. The ingest goroutine owns the
// queue and the forced-final timer; the commit goroutine owns the
// reconciler, the sequence counter, and all emission.
type worker struct {
	svc     *Service
	session *session.Session
	ctx     context.Context
	cancel  context.CancelFunc

	rec     *transcript.Reconciler
	limiter *rate.Limiter
	seq     uint64 // commit goroutine only

	in     chan job
	jobs   chan job
	speech map[string]chan speechJob // commit goroutine only

	wg sync.WaitGroup
}

func (s *Service) newWorker(sess *session.Session) *worker {
	ctx, cancel := context.WithCancel(sess.Context())
	limit := rate.Inf
	if ms := s.cfg.Transcript.PartialMinIntervalMS; ms > 0 {
		limit = rate.Every(time.Duration(ms) * time.Millisecond)
	}
	return &worker{
		svc:     s,
		session: sess,
		ctx:     ctx,
		cancel:  cancel,
		rec: transcript.New(transcript.Config{
			DedupWindow: time.Duration(s.cfg.Transcript.PartialDedupWindowMS) * time.Millisecond,
		}),
		limiter: rate.NewLimiter(limit, 1),
		in:      make(chan job, ingestQueueDepth),
		jobs:    make(chan job, commitQueueDepth),
		speech:  make(map[string]chan speechJob),
	}
}

func (w *worker) start() {
	w.wg.Add(2)
	go w.ingestLoop()
	go w.commitLoop()
}

func (w *worker) stop() {
	w.cancel()
	w.wg.Wait()
}

// enqueue accepts an event for processing. A full queue drops the
// event rather than blocking the wire reader.
func (w *worker) enqueue(j job) bool {
	select {
	case <-w.ctx.Done():
		return false
	default:
	}
	select {
	case w.in <- j:
	default:
		w.svc.logger.Warn("ingest queue full, dropping event",
			slog.String("session_id", w.session.ID),
			slog.Bool("is_partial", j.partial))
	}
	return true
}

// ingestLoop moves events onto the serialized jobs queue and arms the
// forced-final timer on every partial. When the timer fires a forced
// job is injected so a speaker pause flushes the pending utterance.
func (w *worker) ingestLoop() {
	defer w.wg.Done()
	defer close(w.jobs)
	timeout := w.svc.forcedFinalTimeout()
	timer := time.NewTimer(timeout)
	stopTimer(timer)
	defer timer.Stop()
	for {
		select {
		case <-w.ctx.Done():
			return
		case j := <-w.in:
			if j.partial {
				resetTimer(timer, timeout)
			} else {
				stopTimer(timer)
			}
			select {
			case w.jobs <- j:
			case <-w.ctx.Done():
				return
			}
		case <-timer.C:
			select {
			case w.jobs <- job{forced: true}:
			case <-w.ctx.Done():
				return
			}
		}
	}
}

func stopTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}

func resetTimer(t *time.Timer, d time.Duration) {
	stopTimer(t)
	t.Reset(d)
}

func (w *worker) commitLoop() {
	defer w.wg.Done()
	defer w.closeSpeech()
	for j := range w.jobs {
		switch {
		case j.forced:
			w.commit(w.rec.ForceTimeout(), true)
		case j.partial:
			w.forwardPartial(j.text)
		default:
			w.commit(w.rec.Final(j.text, false), false)
		}
	}
}

// forwardPartial records the hypothesis and forwards it under the
// partial rate limit. A throttled partial still updates the tracker,
// so the eventual final reconciles against the full hypothesis.
func (w *worker) forwardPartial(text string) {
	v := w.rec.Partial(text)
	if !v.Forward || !w.limiter.Allow() {
		return
	}
	w.seq++
	w.svc.publish(protocol.TranscriptPartialSubject(w.session.ID), protocol.TranscriptEvent{
		SessionID: w.session.ID,
		Text:      v.Text,
		IsPartial: true,
		Seq:       w.seq,
		Timestamp: time.Now().UTC(),
	})
	w.deliver(v.Text, true, w.seq, "")
}

func (w *worker) commit(v transcript.FinalVerdict, forced bool) {
	if !v.Commit {
		if v.Reason != "" {
			metrics.FinalsSkipped.Add(w.ctx, 1,
				metric.WithAttributes(attribute.String("reason", v.Reason)))
			w.svc.logger.Debug("final skipped",
				slog.String("session_id", w.session.ID),
				slog.String("reason", v.Reason))
		}
		return
	}
	metrics.FinalsCommitted.Add(w.ctx, 1)
	w.seq++
	segmentID := uuid.NewString()
	w.svc.logger.Info("final committed",
		slog.String("session_id", w.session.ID),
		slog.String("segment_id", segmentID),
		slog.Uint64("seq", w.seq),
		slog.Bool("forced", forced),
		slog.Int("chars", utf8.RuneCountInString(v.Text)))
	w.svc.publish(protocol.TranscriptFinalSubject(w.session.ID), protocol.TranscriptEvent{
		SessionID: w.session.ID,
		Text:      v.Text,
		Forced:    forced,
		Seq:       w.seq,
		Timestamp: time.Now().UTC(),
	})
	w.deliver(v.Text, false, w.seq, segmentID)
}

// deliver fans text out per listener language and, for finals, queues
// synthesis of each translated variant. Listeners on the source
// language get the untranslated text and no audio.
func (w *worker) deliver(text string, isPartial bool, seq uint64, segmentID string) {
	srcLang := w.session.SourceLang()
	srcBase := baseLang(srcLang)
	for _, lang := range w.svc.deps.Fanout.Languages(w.session.ID) {
		msg := protocol.TranslationMessage{
			Type:      protocol.MsgTranslation,
			Text:      text,
			IsPartial: isPartial,
			SeqID:     seq,
		}
		if lang != srcBase && w.svc.deps.Translator != nil {
			out, err := w.translate(text, srcLang, lang)
			if err != nil {
				w.svc.logger.Warn("translation failed",
					slog.String("session_id", w.session.ID),
					slog.String("target_language", lang),
					slogError(err))
			} else {
				msg.TranslatedText = out
				msg.HasTranslation = true
			}
		}
		data, err := json.Marshal(msg)
		if err != nil {
			w.svc.logger.Warn("encode translation message failed", slogError(err))
			continue
		}
		w.svc.deps.Fanout.BroadcastControl(w.session.ID, data, lang)
		if !isPartial && msg.HasTranslation && w.svc.deps.Synth != nil {
			w.speak(lang, speechJob{segmentID: segmentID, text: msg.TranslatedText})
		}
	}
}

func (w *worker) translate(text, sourceLang, targetLang string) (string, error) {
	ctx, cancel := context.WithTimeout(w.ctx, w.svc.translateTimeout())
	defer cancel()
	return w.svc.deps.Translator.Translate(ctx, text, sourceLang, targetLang)
}

// speak queues the segment on the language's synthesis lane, spawning
// the lane on first use. Audio within one language stays ordered while
// languages synthesize in parallel.
func (w *worker) speak(language string, j speechJob) {
	q, ok := w.speech[language]
	if !ok {
		q = make(chan speechJob, speechQueueDepth)
		w.speech[language] = q
		w.wg.Add(1)
		go w.speechLoop(language, q)
	}
	select {
	case q <- j:
	default:
		w.svc.logger.Warn("speech lane full, dropping segment",
			slog.String("session_id", w.session.ID),
			slog.String("language", language),
			slog.String("segment_id", j.segmentID))
	}
}

func (w *worker) speechLoop(language string, q chan speechJob) {
	defer w.wg.Done()
	for j := range q {
		w.synthesize(language, j)
	}
}

func (w *worker) synthesize(language string, j speechJob) {
	routeReq := ttsroute.Request{
		Language:     language,
		Mode:         w.svc.cfg.TTS.SynthesisMode,
		AllowedTiers: w.svc.cfg.TTS.AllowedTiers,
	}
	if r := w.svc.deps.Resolver; r != nil {
		sel := r.Resolve(w.session.OrgID, language, nil, w.svc.cfg.TTS.AllowedTiers)
		routeReq.Tier = sel.Tier
		routeReq.Voice = sel.VoiceID
	}
	req := tts.Request{
		SessionID: w.session.ID,
		StreamID:  w.session.ID + ":" + language,
		SegmentID: j.segmentID,
		Text:      j.text,
	}
	if err := w.svc.deps.Synth.Speak(w.ctx, req, routeReq); err != nil {
		w.svc.logger.Warn("segment synthesis failed",
			slog.String("session_id", w.session.ID),
			slog.String("language", language),
			slog.String("segment_id", j.segmentID),
			slogError(err))
		return
	}
	key := "tts:" + j.segmentID + ":" + language
	if _, err := w.svc.deps.Store.RecordUsageEvent(w.ctx, key, "tts_characters",
		float64(utf8.RuneCountInString(j.text)),
		map[string]string{"session_id": w.session.ID, "language": language}); err != nil {
		w.svc.logger.Warn("tts usage event failed",
			slog.String("session_id", w.session.ID),
			slog.String("segment_id", j.segmentID),
			slogError(err))
	}
}

// closeSpeech runs when the commit goroutine exits; no speak call can
// race it.
func (w *worker) closeSpeech() {
	for _, q := range w.speech {
		close(q)
	}
	w.speech = nil
}

func baseLang(lang string) string {
	if tag, err := langtag.Normalize(lang); err == nil {
		return tag.Base
	}
	return strings.ToLower(strings.TrimSpace(lang))
}
