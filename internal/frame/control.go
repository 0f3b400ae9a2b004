package frame

import (
	"encoding/json"
	"fmt"
)

// Control message types interleaved with audio frames on a wire.
const (
	ControlAudioStart  = "audio.start"
	ControlAudioEnd    = "audio.end"
	ControlAudioCancel = "audio.cancel"
)

// Control frames a segment boundary. Start announces the payload
// format; Cancel carries the reason the segment was cut short.
type Control struct {
	Type         string `json:"type"`
	StreamID     string `json:"stream_id"`
	SegmentID    string `json:"segment_id"`
	Language     string `json:"language,omitempty"`
	Mime         string `json:"mime,omitempty"`
	SampleRateHz int    `json:"sample_rate_hz,omitempty"`
	Reason       string `json:"reason,omitempty"`
}

func EncodeControl(c Control) ([]byte, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode control: %w", err)
	}
	return data, nil
}

func DecodeControl(data []byte) (Control, error) {
	var c Control
	if err := json.Unmarshal(data, &c); err != nil {
		return c, fmt.Errorf("decode control: %w", err)
	}
	switch c.Type {
	case ControlAudioStart, ControlAudioEnd, ControlAudioCancel:
		return c, nil
	default:
		return c, fmt.Errorf("decode control: unknown type %q", c.Type)
	}
}
