// Package observe wires OpenTelemetry metrics and tracing for the signaling
// server. Metrics are exported through a Prometheus bridge (see
// [InitProvider]); tests build their own [Metrics] with [NewMetrics] and a
// manual reader.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/BioHazard786/duocall"

// Metrics holds the instruments recorded by the room API.
type Metrics struct {
	// Joins counts join attempts. Attribute "result" is "ok" or "full".
	Joins metric.Int64Counter

	// Leaves counts leave requests that removed a participant.
	Leaves metric.Int64Counter

	// RoomResets counts leaves that emptied the room.
	RoomResets metric.Int64Counter

	// Signals counts posted handshake artifacts. Attribute "kind" is
	// "offer", "answer" or "candidate".
	Signals metric.Int64Counter

	// Participants tracks current room membership.
	Participants metric.Int64UpDownCounter

	// WatchClients tracks open status watch streams.
	WatchClients metric.Int64UpDownCounter

	// HTTPRequestDuration tracks request latency by method and path.
	HTTPRequestDuration metric.Float64Histogram
}

// NewMetrics creates every instrument from mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.Joins, err = m.Int64Counter("duocall.room.joins",
		metric.WithDescription("Join attempts by result."),
	); err != nil {
		return nil, err
	}
	if met.Leaves, err = m.Int64Counter("duocall.room.leaves",
		metric.WithDescription("Participants that left the room."),
	); err != nil {
		return nil, err
	}
	if met.RoomResets, err = m.Int64Counter("duocall.room.resets",
		metric.WithDescription("Times the room emptied and its handshake was cleared."),
	); err != nil {
		return nil, err
	}
	if met.Signals, err = m.Int64Counter("duocall.room.signals",
		metric.WithDescription("Handshake artifacts posted by kind."),
	); err != nil {
		return nil, err
	}
	if met.Participants, err = m.Int64UpDownCounter("duocall.room.participants",
		metric.WithDescription("Participants currently in the room."),
	); err != nil {
		return nil, err
	}
	if met.WatchClients, err = m.Int64UpDownCounter("duocall.watch.clients",
		metric.WithDescription("Open status watch streams."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("duocall.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns a process-wide [Metrics] built from the global meter
// provider on first use.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordJoin counts a join attempt and, on success, a new participant.
func (m *Metrics) RecordJoin(ctx context.Context, result string) {
	m.Joins.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
	if result == "ok" {
		m.Participants.Add(ctx, 1)
	}
}

// RecordLeave counts a leave that removed a participant.
func (m *Metrics) RecordLeave(ctx context.Context, reset bool) {
	m.Leaves.Add(ctx, 1)
	m.Participants.Add(ctx, -1)
	if reset {
		m.RoomResets.Add(ctx, 1)
	}
}

// RecordSignal counts a posted offer, answer or candidate.
func (m *Metrics) RecordSignal(ctx context.Context, kind string) {
	m.Signals.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}
