// Package tts synthesizes committed translations into audio and fans
// the frames out to listeners. Providers receive a pre-resolved
// route; all routing decisions stay in ttsroute.
package tts

import (
	"context"
	"errors"

	"github.com/exaudilabs/exaudi-core/internal/protocol"
	"github.com/exaudilabs/exaudi-core/internal/ttsroute"
)

// Provider failure kinds the fallback logic distinguishes. Anything
// else is treated as transient.
var (
	ErrPermissionDenied = errors.New("tts provider permission denied")
	ErrInvalidArgument  = errors.New("tts provider invalid argument")
	ErrUnsupportedVoice = errors.New("tts provider unsupported voice")
	ErrRateLimited      = errors.New("tts provider rate limited")
)

// Request is one segment of text to synthesize.
type Request struct {
	SessionID string
	StreamID  string
	SegmentID string
	Text      string
}

// Result of a unary synthesis.
type Result struct {
	Audio        []byte
	Mime         string
	SampleRateHz int
}

// Provider synthesizes one segment for a resolved route.
type Provider interface {
	SynthesizeUnary(ctx context.Context, req Request, route ttsroute.Route) (Result, error)
}

// StreamingProvider delivers audio incrementally. onChunk runs once
// per chunk in order; returning an error aborts the stream.
type StreamingProvider interface {
	Provider
	SynthesizeStream(ctx context.Context, req Request, route ttsroute.Route, onChunk func(chunk []byte, last bool) error) error
}

const defaultSampleRateHz = 24000

// MimeForEncoding maps a route's audio encoding to the mime type
// announced on audio.start.
func MimeForEncoding(encoding string) string {
	if encoding == ttsroute.EncodingOggOpus {
		return "audio/ogg"
	}
	return "audio/mpeg"
}

// ErrorCode folds a synthesis error to the wire-facing code carried
// on audio.cancel.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, context.Canceled):
		return protocol.CodeCancelled
	case errors.Is(err, ErrPermissionDenied):
		return protocol.CodeProviderPermissionDenied
	case errors.Is(err, ErrInvalidArgument):
		return protocol.CodeProviderInvalidArgument
	case errors.Is(err, ErrUnsupportedVoice):
		return protocol.CodeProviderUnsupportedVoice
	case errors.Is(err, ErrRateLimited):
		return protocol.CodeProviderRateLimited
	default:
		return protocol.CodeSynthesisFailed
	}
}
