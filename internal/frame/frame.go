// Package frame implements the binary envelope carried on listener
// wires: a four-byte magic, a one-byte metadata length, a JSON
// metadata object, then the raw audio payload.
package frame

import (
	"encoding/json"
	"errors"
	"fmt"
)

const magic = "EXA1"

// MaxMetadata is the largest serialized metadata object the one-byte
// length field can carry.
const MaxMetadata = 255

var (
	ErrInvalidFrame     = errors.New("invalid audio frame")
	ErrMetadataTooLarge = errors.New("frame metadata too large")
)

// Metadata identifies the position of a payload within a synthesis
// segment.
type Metadata struct {
	StreamID   string `json:"stream_id"`
	SegmentID  string `json:"segment_id"`
	Version    int    `json:"version"`
	ChunkIndex int    `json:"chunk_index"`
	IsLast     bool   `json:"is_last"`
}

// Encode wraps audio in the wire envelope.
func Encode(meta Metadata, audio []byte) ([]byte, error) {
	mb, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("encode frame metadata: %w", err)
	}
	if len(mb) > MaxMetadata {
		return nil, fmt.Errorf("%w: %d bytes", ErrMetadataTooLarge, len(mb))
	}
	buf := make([]byte, 0, len(magic)+1+len(mb)+len(audio))
	buf = append(buf, magic...)
	buf = append(buf, byte(len(mb)))
	buf = append(buf, mb...)
	buf = append(buf, audio...)
	return buf, nil
}

// Decode splits a frame into metadata and payload. The payload
// aliases buf. Any malformed envelope fails with ErrInvalidFrame.
func Decode(buf []byte) (Metadata, []byte, error) {
	var meta Metadata
	if len(buf) < len(magic)+1 {
		return meta, nil, fmt.Errorf("%w: %d bytes", ErrInvalidFrame, len(buf))
	}
	if string(buf[:len(magic)]) != magic {
		return meta, nil, fmt.Errorf("%w: magic %q", ErrInvalidFrame, buf[:len(magic)])
	}
	n := int(buf[len(magic)])
	body := buf[len(magic)+1:]
	if len(body) < n {
		return meta, nil, fmt.Errorf("%w: metadata length %d past frame end", ErrInvalidFrame, n)
	}
	if err := json.Unmarshal(body[:n], &meta); err != nil {
		return meta, nil, fmt.Errorf("%w: metadata: %v", ErrInvalidFrame, err)
	}
	return meta, body[n:], nil
}
