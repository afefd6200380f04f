package relay

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const scopeName = "github.com/haivivi/voicerelay/pkg/relay"

var (
	tracer = otel.Tracer(scopeName)
	meter  = otel.Meter(scopeName)
)

var (
	framesForwarded = int64Counter("relay.frames.forwarded", "Inbound frames sent upstream")
	framesDropped   = int64Counter("relay.frames.dropped", "Inbound frames dropped without an active session")
	itemsQueued     = int64Counter("relay.output.queued", "Output items queued for the transport")
	itemsDiscarded  = int64Counter("relay.output.discarded", "Output items dropped by barge-in")
	eventErrors     = int64Counter("relay.events.errors", "Upstream events skipped after a processing error")
)

func int64Counter(name, desc string) metric.Int64Counter {
	c, err := meter.Int64Counter(name, metric.WithDescription(desc))
	if err != nil {
		return noop.Int64Counter{}
	}
	return c
}
