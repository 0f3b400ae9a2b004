// Package wire abstracts one connected peer. Sessions and the audio
// fan-out hold a Wire, never a transport connection.
package wire

import "errors"

// ErrClosed is returned by sends on a wire whose local end was
// closed.
var ErrClosed = errors.New("wire closed")

// Wire is the send surface toward one peer. Implementations must be
// safe for concurrent sends.
type Wire interface {
	// SendText delivers one UTF-8 JSON message.
	SendText(data []byte) error
	// SendBinary delivers one binary frame.
	SendBinary(data []byte) error
	Close() error
}
