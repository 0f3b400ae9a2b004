package ttsroute

import (
	"log/slog"

	"github.com/exaudilabs/exaudi-core/internal/catalog"
	"github.com/exaudilabs/exaudi-core/internal/langtag"
	"github.com/exaudilabs/exaudi-core/internal/voiceprefs"
)

// Preference names a caller-supplied voice choice by catalog id or
// provider voice name, with an optional tier.
type Preference struct {
	Tier  string
	Voice string
}

// Selection is the resolver's answer. Reason is one of
// user_preference, org_default, catalog_default,
// fallback_first_available, fallback_english.
type Selection struct {
	Tier      string `json:"tier"`
	VoiceID   string `json:"voice_id"`
	VoiceName string `json:"voice_name"`
	Reason    string `json:"reason"`
}

// Resolver orders voice candidates by precedence and validates each
// against the catalog before accepting it. Invalid preferences are
// logged and skipped, never fatal.
type Resolver struct {
	catalog *catalog.Catalog
	prefs   *voiceprefs.Store
	logger  *slog.Logger
}

// NewResolver builds a Resolver. prefs may be nil when org defaults
// are not configured.
func NewResolver(cat *catalog.Catalog, prefs *voiceprefs.Store, logger *slog.Logger) *Resolver {
	return &Resolver{
		catalog: cat,
		prefs:   prefs,
		logger:  logger.With(slog.String("component", "voice_resolver")),
	}
}

// Resolve picks the voice for (orgID, language) under allowedTiers.
// The en-US Gemini fallback guarantees a result.
func (r *Resolver) Resolve(orgID, language string, user *Preference, allowedTiers []string) Selection {
	tag, err := langtag.Normalize(language)
	if err != nil {
		r.logger.Warn("voice resolve with invalid language", slog.String("language", language), slogError(err))
		return r.english()
	}

	if user != nil && user.Voice != "" {
		if sel, ok := r.trySelect(user.Tier, user.Voice, tag.Full, allowedTiers, "user_preference"); ok {
			return sel
		}
		r.logger.Warn("ignoring invalid user voice preference",
			slog.String("voice", user.Voice),
			slog.String("tier", user.Tier),
			slog.String("language", tag.Full))
	}

	if r.prefs != nil && orgID != "" {
		if pref, ok := r.prefs.Get(orgID, tag.Full); ok {
			voice := pref.VoiceID
			if voice == "" {
				voice = pref.VoiceName
			}
			if sel, ok := r.trySelect(pref.Tier, voice, tag.Full, allowedTiers, "org_default"); ok {
				return sel
			}
			r.logger.Warn("ignoring invalid org voice default",
				slog.String("org_id", orgID),
				slog.String("voice", voice),
				slog.String("language", tag.Full))
		}
	}

	if v, ok := r.catalog.CuratedDefault(tag.Full, allowedTiers); ok {
		return Selection{Tier: v.Tier, VoiceID: v.ID, VoiceName: v.Name, Reason: "catalog_default"}
	}

	if voices, err := r.catalog.VoicesFor(tag.Full, allowedTiers); err == nil && len(voices) > 0 {
		v := voices[0]
		return Selection{Tier: v.Tier, VoiceID: v.ID, VoiceName: v.Name, Reason: "fallback_first_available"}
	}

	return r.english()
}

func (r *Resolver) trySelect(tier, voice, full string, allowedTiers []string, reason string) (Selection, bool) {
	v, ok := r.catalog.Lookup(voice)
	if !ok {
		return Selection{}, false
	}
	if tier != "" && v.Tier != tier {
		return Selection{}, false
	}
	if len(allowedTiers) > 0 && !contains(allowedTiers, v.Tier) {
		return Selection{}, false
	}
	if !r.catalog.IsValid(voice, full, v.Tier) {
		return Selection{}, false
	}
	return Selection{Tier: v.Tier, VoiceID: v.ID, VoiceName: v.Name, Reason: reason}, true
}

func (r *Resolver) english() Selection {
	if v, ok := r.catalog.DefaultVoiceForTier(catalog.TierGemini, "en-US"); ok {
		return Selection{Tier: v.Tier, VoiceID: v.ID, VoiceName: v.Name, Reason: "fallback_english"}
	}
	if voices, err := r.catalog.VoicesFor("en-US", nil); err == nil && len(voices) > 0 {
		v := voices[0]
		return Selection{Tier: v.Tier, VoiceID: v.ID, VoiceName: v.Name, Reason: "fallback_english"}
	}
	// Catalog without any English entry at all: hand back the shipped
	// hard default so callers still get a routable selection.
	return Selection{
		Tier:      catalog.TierGemini,
		VoiceID:   "google:gemini-tts:en-US:Kore",
		VoiceName: "Kore",
		Reason:    "fallback_english",
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
