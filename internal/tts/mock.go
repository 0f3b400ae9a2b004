package tts

import (
	"context"
	"fmt"

	"github.com/exaudilabs/exaudi-core/internal/ttsroute"
)

// mockProvider fabricates deterministic audio from the route and text
// so the audio path can run without a synthesis backend.
type mockProvider struct {
	chunkSize int
}

// NewMockProvider returns a provider that also streams.
func NewMockProvider() Provider {
	return &mockProvider{chunkSize: 32}
}

func (m *mockProvider) render(req Request, route ttsroute.Route) []byte {
	return []byte(fmt.Sprintf("%s|%s|%s", route.VoiceName, route.LanguageCode, req.Text))
}

func (m *mockProvider) SynthesizeUnary(ctx context.Context, req Request, route ttsroute.Route) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	return Result{
		Audio:        m.render(req, route),
		Mime:         MimeForEncoding(route.AudioEncoding),
		SampleRateHz: defaultSampleRateHz,
	}, nil
}

func (m *mockProvider) SynthesizeStream(ctx context.Context, req Request, route ttsroute.Route, onChunk func(chunk []byte, last bool) error) error {
	audio := m.render(req, route)
	for off := 0; off < len(audio); off += m.chunkSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := off + m.chunkSize
		last := end >= len(audio)
		if last {
			end = len(audio)
		}
		if err := onChunk(audio[off:end], last); err != nil {
			return err
		}
	}
	return nil
}
