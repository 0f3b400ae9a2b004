// Package fanout delivers synthesized audio and segment control
// messages to the listeners of a session, filtered by each
// subscription's target language.
package fanout

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/exaudilabs/exaudi-core/internal/langtag"
	"github.com/exaudilabs/exaudi-core/internal/metrics"
	"github.com/exaudilabs/exaudi-core/internal/wire"
)

type subscription struct {
	wire   wire.Wire
	target string // canonical base language, "" matches every frame
}

// sessionFan holds one session's subscriptions. Sends run under the
// read lock; a language switch takes the write lock, so a switch
// orders strictly before or after any broadcast.
type sessionFan struct {
	mu   sync.RWMutex
	subs map[string]subscription
}

// Registry maps (session, subscription) to a wire and its language
// filter. Session maps are guarded individually so one session's
// broadcast does not stall another's.
type Registry struct {
	logger *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*sessionFan
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger:   logger.With(slog.String("component", "audio_fanout")),
		sessions: make(map[string]*sessionFan),
	}
}

// Register adds or replaces a subscription.
func (r *Registry) Register(sessionID, subscriptionID string, w wire.Wire, targetLanguage string) {
	r.mu.Lock()
	fan, ok := r.sessions[sessionID]
	if !ok {
		fan = &sessionFan{subs: make(map[string]subscription)}
		r.sessions[sessionID] = fan
	}
	r.mu.Unlock()

	fan.mu.Lock()
	fan.subs[subscriptionID] = subscription{wire: w, target: canonicalBase(targetLanguage)}
	fan.mu.Unlock()
}

// UpdateTargetLanguage swaps the subscription's language filter.
// Returns false when the subscription is not registered. Frames
// broadcast after this returns filter against the new language.
func (r *Registry) UpdateTargetLanguage(sessionID, subscriptionID, newLanguage string) bool {
	fan := r.fan(sessionID)
	if fan == nil {
		return false
	}
	fan.mu.Lock()
	defer fan.mu.Unlock()
	sub, ok := fan.subs[subscriptionID]
	if !ok {
		return false
	}
	sub.target = canonicalBase(newLanguage)
	fan.subs[subscriptionID] = sub
	return true
}

// Unregister removes a subscription and drops the session entry once
// it has none left.
func (r *Registry) Unregister(sessionID, subscriptionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fan, ok := r.sessions[sessionID]
	if !ok {
		return
	}
	fan.mu.Lock()
	delete(fan.subs, subscriptionID)
	empty := len(fan.subs) == 0
	fan.mu.Unlock()
	if empty {
		delete(r.sessions, sessionID)
	}
}

// BroadcastAudio sends a binary frame to every subscription matching
// frameLanguage. An empty frameLanguage fans out to all. Returns the
// number of deliveries.
func (r *Registry) BroadcastAudio(sessionID string, frameBytes []byte, frameLanguage string) int {
	sent := r.broadcast(sessionID, true, frameBytes, frameLanguage)
	if sent > 0 {
		metrics.FramesBroadcast.Add(context.Background(), int64(sent))
	}
	return sent
}

// BroadcastControl sends a JSON control message under the same
// filter rule as audio.
func (r *Registry) BroadcastControl(sessionID string, controlJSON []byte, controlLanguage string) int {
	return r.broadcast(sessionID, false, controlJSON, controlLanguage)
}

func (r *Registry) broadcast(sessionID string, binary bool, data []byte, language string) int {
	fan := r.fan(sessionID)
	if fan == nil {
		return 0
	}
	lang := canonicalBase(language)

	var dead []string
	sent := 0
	fan.mu.RLock()
	for id, sub := range fan.subs {
		if lang != "" && sub.target != "" && sub.target != lang {
			continue
		}
		var err error
		if binary {
			err = sub.wire.SendBinary(data)
		} else {
			err = sub.wire.SendText(data)
		}
		if err != nil {
			dead = append(dead, id)
			continue
		}
		sent++
	}
	fan.mu.RUnlock()

	for _, id := range dead {
		r.logger.Warn("dropping dead subscription",
			slog.String("session_id", sessionID),
			slog.String("subscription_id", id))
		r.Unregister(sessionID, id)
	}
	return sent
}

// Languages returns the distinct non-empty target languages of a
// session's subscriptions, sorted.
func (r *Registry) Languages(sessionID string) []string {
	fan := r.fan(sessionID)
	if fan == nil {
		return nil
	}
	fan.mu.RLock()
	seen := make(map[string]struct{}, len(fan.subs))
	for _, sub := range fan.subs {
		if sub.target != "" {
			seen[sub.target] = struct{}{}
		}
	}
	fan.mu.RUnlock()

	out := make([]string, 0, len(seen))
	for lang := range seen {
		out = append(out, lang)
	}
	sort.Strings(out)
	return out
}

// Count returns the number of subscriptions in a session.
func (r *Registry) Count(sessionID string) int {
	fan := r.fan(sessionID)
	if fan == nil {
		return 0
	}
	fan.mu.RLock()
	defer fan.mu.RUnlock()
	return len(fan.subs)
}

func (r *Registry) fan(sessionID string) *sessionFan {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[sessionID]
}

// canonicalBase folds any caller-supplied language code to its base
// so "fr", "fr-FR" and "fr-CA" all address the same audio stream.
func canonicalBase(lang string) string {
	lang = strings.TrimSpace(lang)
	if lang == "" {
		return ""
	}
	tag, err := langtag.Normalize(lang)
	if err != nil {
		return strings.ToLower(lang)
	}
	return tag.Base
}
