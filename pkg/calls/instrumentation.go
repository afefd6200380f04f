package calls

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const scopeName = "github.com/haivivi/voicerelay/pkg/calls"

var meter = otel.Meter(scopeName)

var (
	callsStarted  = counter("calls.started", "Calls admitted")
	callsRejected = counter("calls.rejected", "Calls refused at the concurrency cap")
	callsActive   = upDownCounter("calls.active", "Calls in progress")
)

func counter(name, desc string) metric.Int64Counter {
	c, err := meter.Int64Counter(name, metric.WithDescription(desc))
	if err != nil {
		return noop.Int64Counter{}
	}
	return c
}

func upDownCounter(name, desc string) metric.Int64UpDownCounter {
	c, err := meter.Int64UpDownCounter(name, metric.WithDescription(desc))
	if err != nil {
		return noop.Int64UpDownCounter{}
	}
	return c
}
