// Package metrics declares the process-wide instruments. They bind to
// whatever meter provider the runtime installs; until then every Add
// is a no-op.
package metrics

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("github.com/exaudilabs/exaudi-core")

var (
	// FinalsCommitted counts final transcripts committed across all
	// sessions.
	FinalsCommitted = counter("exaudi.transcript.finals_committed",
		"Final transcripts committed across all sessions.")
	// FinalsSkipped counts finals a reconciliation rule dropped,
	// labeled by reason.
	FinalsSkipped = counter("exaudi.transcript.finals_skipped",
		"Final transcripts skipped by a reconciliation rule.")
	// FramesBroadcast counts audio frame deliveries to listener wires.
	FramesBroadcast = counter("exaudi.fanout.frames_broadcast",
		"Audio frames delivered to listener wires.")
	// SynthFallbacks counts syntheses re-routed to a fallback tier.
	SynthFallbacks = counter("exaudi.tts.fallbacks",
		"Synthesis attempts re-routed to a fallback tier.")
	// SessionsReaped counts sessions ended by the abandoned-session
	// reaper.
	SessionsReaped = counter("exaudi.session.reaped",
		"Sessions ended by the abandoned-session reaper.")
)

func counter(name, desc string) metric.Int64Counter {
	c, err := meter.Int64Counter(name, metric.WithDescription(desc))
	if err != nil {
		panic(err)
	}
	return c
}
