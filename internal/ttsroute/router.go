// Package ttsroute turns synthesis requests into fully resolved
// provider routes. The router is the single routing authority: every
// fallback decision is made here and recorded in the route's reason,
// so providers stay free of routing logic.
package ttsroute

import (
	"errors"
	"fmt"
	"strings"

	"github.com/exaudilabs/exaudi-core/internal/catalog"
	"github.com/exaudilabs/exaudi-core/internal/langtag"
)

// ErrInvalidArgument is the only failure Route and ReRoute produce.
var ErrInvalidArgument = errors.New("ttsroute: invalid argument")

// ErrNoFallback is returned by ReRoute when the fallback chain is
// exhausted.
var ErrNoFallback = errors.New("ttsroute: no fallback available")

// Synthesis modes.
const (
	ModeUnary     = "unary"
	ModeStreaming = "streaming"
)

// Audio encodings by mode.
const (
	EncodingMP3     = "MP3"
	EncodingOggOpus = "OGG_OPUS"
)

// googleChain orders the Google tiers from highest to lowest for
// fallback walks.
var googleChain = []string{
	catalog.TierGemini,
	catalog.TierChirp3HD,
	catalog.TierNeural2,
	catalog.TierStandard,
}

// elevenChain orders the ElevenLabs model steps for fallback walks.
var elevenChain = []string{"v3", "turbo", "flash", "multilingual"}

var elevenModels = map[string]string{
	"v3":           "eleven_v3",
	"turbo":        "eleven_turbo_v2_5",
	"flash":        "eleven_flash_v2_5",
	"multilingual": "eleven_multilingual_v2",
}

// FailureKind classifies a provider synthesis failure for ReRoute.
type FailureKind int

const (
	FailurePermissionDenied FailureKind = iota
	FailureInvalidArgument
	FailureUnsupportedVoice
)

// Request carries the caller's routing inputs.
type Request struct {
	Tier         string
	Voice        string
	Language     string
	Mode         string
	AllowedTiers []string
}

// Fallback records the tier a route fell back from.
type Fallback struct {
	Tier      string `json:"tier"`
	VoiceName string `json:"voice_name,omitempty"`
	Reason    string `json:"reason"`
}

// Route is the resolved synthesis target. Immutable once produced.
type Route struct {
	Provider      string    `json:"provider"`
	Tier          string    `json:"tier"`
	Engine        string    `json:"engine"`
	Model         string    `json:"model,omitempty"`
	LanguageCode  string    `json:"language_code"`
	VoiceID       string    `json:"voice_id"`
	VoiceName     string    `json:"voice_name"`
	AudioEncoding string    `json:"audio_encoding"`
	FallbackFrom  *Fallback `json:"fallback_from,omitempty"`
	Reason        string    `json:"reason"`
}

// Router resolves routes against one catalog. DefaultTier is the tier
// assumed when the caller does not ask for one; tier inference from
// the voice name only runs for requests at the default tier.
type Router struct {
	catalog       *catalog.Catalog
	defaultTier   string
	vertexEnabled bool
}

// NewRouter builds a Router. An empty defaultTier means neural2.
func NewRouter(cat *catalog.Catalog, defaultTier string, vertexEnabled bool) *Router {
	if defaultTier == "" {
		defaultTier = catalog.TierNeural2
	}
	return &Router{catalog: cat, defaultTier: defaultTier, vertexEnabled: vertexEnabled}
}

func knownTier(tier string) bool {
	switch tier {
	case catalog.TierStandard, catalog.TierNeural2, catalog.TierChirp3HD,
		catalog.TierGemini, catalog.TierElevenLabs:
		return true
	}
	return false
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// supportsAllLanguages marks tiers that bypass the per-language
// availability data.
func supportsAllLanguages(tier string) bool {
	return tier == catalog.TierElevenLabs
}

// isElevenVoiceID matches the shape of an ElevenLabs voice identifier.
func isElevenVoiceID(s string) bool {
	if len(s) < 20 || len(s) > 22 {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}

// inferTier guesses a stronger tier from the requested voice when the
// caller left the tier at the framework default.
func (r *Router) inferTier(voice string) string {
	if isElevenVoiceID(voice) {
		return catalog.TierElevenLabs
	}
	if strings.Contains(voice, "Neural2") {
		return catalog.TierNeural2
	}
	if strings.Contains(voice, "Chirp3") || strings.Contains(voice, "Chirp-3") {
		return catalog.TierChirp3HD
	}
	if v, ok := r.catalog.Lookup(voice); ok && v.Tier == catalog.TierGemini {
		return catalog.TierGemini
	}
	return ""
}

func encodingForMode(mode string) (string, error) {
	switch mode {
	case "", ModeUnary:
		return EncodingMP3, nil
	case ModeStreaming:
		return EncodingOggOpus, nil
	}
	return "", fmt.Errorf("%w: unknown mode %q", ErrInvalidArgument, mode)
}

func engineForTier(tier string) string {
	switch tier {
	case catalog.TierStandard:
		return "standard"
	case catalog.TierNeural2:
		return "neural2"
	case catalog.TierChirp3HD:
		return "chirp3-hd"
	case catalog.TierGemini:
		return "vertex"
	}
	return tier
}

// Route resolves req to a complete route. It fails only for invalid
// input: unknown tier or mode, an unparseable language, or a language
// no allowed tier can serve.
func (r *Router) Route(req Request) (Route, error) {
	tier := req.Tier
	if tier == "" {
		tier = r.defaultTier
	}
	if !knownTier(tier) {
		return Route{}, fmt.Errorf("%w: unknown tier %q", ErrInvalidArgument, req.Tier)
	}
	encoding, err := encodingForMode(req.Mode)
	if err != nil {
		return Route{}, err
	}
	tag, err := langtag.Normalize(req.Language)
	if err != nil {
		return Route{}, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}

	if tier == r.defaultTier && req.Voice != "" {
		if inferred := r.inferTier(req.Voice); inferred != "" {
			tier = inferred
		}
	}
	origin := tier

	var reasons []string

	// Subscription restriction applies before capability fallbacks.
	if len(req.AllowedTiers) > 0 && !contains(req.AllowedTiers, tier) {
		restricted := ""
		for _, t := range append(append([]string{}, googleChain...), catalog.TierElevenLabs) {
			if contains(req.AllowedTiers, t) {
				restricted = t
				break
			}
		}
		if restricted == "" {
			return Route{}, fmt.Errorf("%w: no usable tier in allowed set %v", ErrInvalidArgument, req.AllowedTiers)
		}
		reasons = append(reasons, fmt.Sprintf("tier_restricted_by_subscription; fallback_to_%s", restricted))
		tier = restricted
	}

	var route Route
	if tier == catalog.TierElevenLabs {
		route, err = r.resolveEleven(req, tag, encoding)
	} else {
		route, reasons, err = r.resolveGoogle(req, tag, tier, encoding, reasons)
	}
	if err != nil {
		return Route{}, err
	}

	if len(reasons) == 0 {
		route.Reason = "direct_match"
	} else {
		route.Reason = strings.Join(reasons, "; ")
		route.FallbackFrom = &Fallback{
			Tier:      origin,
			VoiceName: req.Voice,
			Reason:    reasons[0],
		}
	}
	return route, nil
}

func (r *Router) resolveGoogle(req Request, tag langtag.Tag, tier, encoding string, reasons []string) (Route, []string, error) {
	if tier == catalog.TierGemini && !r.vertexEnabled {
		next, ok := r.nextAvailableTier(tier, tag.Full, req.AllowedTiers)
		if !ok {
			return Route{}, reasons, fmt.Errorf("%w: no tier available for %s", ErrInvalidArgument, tag.Full)
		}
		reasons = append(reasons, fmt.Sprintf("vertex_ai_not_enabled_fallback_from_%s_to_%s", tier, next))
		tier = next
	}

	if !supportsAllLanguages(tier) && !r.catalog.TierAvailable(tier, tag.Full) {
		next, ok := r.nextAvailableTier(tier, tag.Full, req.AllowedTiers)
		if !ok {
			return Route{}, reasons, fmt.Errorf("%w: no tier available for %s", ErrInvalidArgument, tag.Full)
		}
		reasons = append(reasons, fmt.Sprintf("tier_not_available_for_language; fallback_to_%s", next))
		tier = next
	}

	var voice *catalog.Voice
	switch {
	case req.Voice != "" && r.catalog.IsValid(req.Voice, tag.Full, tier):
		voice, _ = r.catalog.Lookup(req.Voice)
	case req.Voice != "" && tier != catalog.TierStandard && r.catalog.IsValid(req.Voice, tag.Full, catalog.TierStandard):
		// The caller named a standard-family voice explicitly; honor it
		// rather than swapping in a default of the higher tier.
		voice, _ = r.catalog.Lookup(req.Voice)
		tier = catalog.TierStandard
		reasons = append(reasons, "engine_override_for_standard_voice")
	default:
		v, ok := r.catalog.DefaultVoiceForTier(tier, tag.Full)
		if !ok {
			return Route{}, reasons, fmt.Errorf("%w: no voice for %s at %s", ErrInvalidArgument, tag.Full, tier)
		}
		voice = v
	}

	return Route{
		Provider:      voice.Provider,
		Tier:          tier,
		Engine:        engineForTier(tier),
		Model:         voice.Model,
		LanguageCode:  tag.Full,
		VoiceID:       voice.ID,
		VoiceName:     voice.Name,
		AudioEncoding: encoding,
	}, reasons, nil
}

func (r *Router) resolveEleven(req Request, tag langtag.Tag, encoding string) (Route, error) {
	var voice *catalog.Voice
	if req.Voice != "" && r.catalog.IsValid(req.Voice, tag.Full, catalog.TierElevenLabs) {
		voice, _ = r.catalog.Lookup(req.Voice)
	} else {
		v, ok := r.catalog.DefaultVoiceForTier(catalog.TierElevenLabs, tag.Full)
		if !ok {
			return Route{}, fmt.Errorf("%w: no elevenlabs voice for %s", ErrInvalidArgument, tag.Full)
		}
		voice = v
	}

	step, ok := bestElevenStep(voice, "")
	if !ok {
		return Route{}, fmt.Errorf("%w: voice %s supports no model step", ErrInvalidArgument, voice.Name)
	}
	return Route{
		Provider:      voice.Provider,
		Tier:          catalog.TierElevenLabs,
		Engine:        step,
		Model:         elevenModels[step],
		LanguageCode:  tag.Full,
		VoiceID:       voice.ID,
		VoiceName:     voice.Name,
		AudioEncoding: encoding,
	}, nil
}

// bestElevenStep picks the highest chain step the voice supports,
// strictly below the "after" step when given.
func bestElevenStep(voice *catalog.Voice, after string) (string, bool) {
	supported := voice.AvailableTiers
	if len(supported) == 0 {
		supported = []string{"multilingual"}
	}
	passed := after == ""
	for _, step := range elevenChain {
		if !passed {
			if step == after {
				passed = true
			}
			continue
		}
		if contains(supported, step) {
			return step, true
		}
	}
	return "", false
}

// nextAvailableTier walks the Google chain strictly below tier and
// returns the first tier serving the locale (and permitted by allowed
// when non-empty).
func (r *Router) nextAvailableTier(tier, full string, allowed []string) (string, bool) {
	passed := false
	for _, t := range googleChain {
		if !passed {
			if t == tier {
				passed = true
			}
			continue
		}
		if len(allowed) > 0 && !contains(allowed, t) {
			continue
		}
		if r.catalog.TierAvailable(t, full) {
			return t, true
		}
	}
	return "", false
}

// ReRoute produces the fallback route after a provider failure. The
// same inputs always produce the same output, so a retried failure
// path stays deterministic.
func (r *Router) ReRoute(prev Route, req Request, kind FailureKind) (Route, error) {
	if prev.Tier == catalog.TierElevenLabs {
		voice, ok := r.catalog.Voice(prev.VoiceID)
		if !ok {
			return Route{}, fmt.Errorf("%w: unknown voice %s", ErrInvalidArgument, prev.VoiceID)
		}
		step, ok := bestElevenStep(voice, prev.Engine)
		if !ok {
			return Route{}, ErrNoFallback
		}
		reason := fmt.Sprintf("unsupported_voice_config_fallback_from_%s_to_%s", prev.Engine, step)
		next := prev
		next.Engine = step
		next.Model = elevenModels[step]
		next.Reason = reason
		next.FallbackFrom = &Fallback{Tier: prev.Tier, VoiceName: prev.VoiceName, Reason: reason}
		return next, nil
	}

	tier, ok := r.nextAvailableTier(prev.Tier, prev.LanguageCode, req.AllowedTiers)
	if !ok {
		return Route{}, ErrNoFallback
	}
	voice, vok := r.catalog.DefaultVoiceForTier(tier, prev.LanguageCode)
	if !vok {
		return Route{}, ErrNoFallback
	}

	var reason string
	if kind == FailurePermissionDenied && prev.Tier == catalog.TierGemini {
		reason = fmt.Sprintf("vertex_ai_not_enabled_fallback_from_%s_to_%s", prev.Tier, tier)
	} else {
		reason = fmt.Sprintf("unsupported_voice_config_fallback_from_%s_to_%s", prev.Tier, tier)
	}

	return Route{
		Provider:      voice.Provider,
		Tier:          tier,
		Engine:        engineForTier(tier),
		Model:         voice.Model,
		LanguageCode:  prev.LanguageCode,
		VoiceID:       voice.ID,
		VoiceName:     voice.Name,
		AudioEncoding: prev.AudioEncoding,
		FallbackFrom:  &Fallback{Tier: prev.Tier, VoiceName: prev.VoiceName, Reason: reason},
		Reason:        reason,
	}, nil
}
