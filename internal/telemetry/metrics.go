package telemetry

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/dkeye/Tandem"

// Metrics holds all the OpenTelemetry metric instruments
type Metrics struct {
	// Session registry
	SessionsCreatedTotal metric.Int64Counter
	SessionsDeletedTotal metric.Int64Counter
	ActiveSessions       metric.Int64UpDownCounter

	// Gateway
	ActiveChannels     metric.Int64UpDownCounter
	JoinsTotal         metric.Int64Counter
	JoinsRejectedTotal metric.Int64Counter

	// Relay
	RelayedTotal metric.Int64Counter
	DroppedTotal metric.Int64Counter

	// Round machine
	RoundsStartedTotal   metric.Int64Counter
	RoundsCompletedTotal metric.Int64Counter
	EmergenciesTotal     metric.Int64Counter
}

var (
	once    sync.Once
	metrics *Metrics
)

// GetMetrics returns the singleton Metrics instance, initializing it if necessary.
// Instruments bind to whatever global MeterProvider is installed, so calling it
// before InitTelemetry is fine.
func GetMetrics() *Metrics {
	once.Do(func() {
		metrics = initMetrics()
	})
	return metrics
}

func initMetrics() *Metrics {
	meter := otel.GetMeterProvider().Meter(meterName)

	m := &Metrics{}

	m.SessionsCreatedTotal, _ = meter.Int64Counter(
		"tandem.sessions.created.total",
		metric.WithDescription("Total number of sessions created"),
		metric.WithUnit("{session}"),
	)
	m.SessionsDeletedTotal, _ = meter.Int64Counter(
		"tandem.sessions.deleted.total",
		metric.WithDescription("Total number of sessions deleted (explicit, empty or reaped)"),
		metric.WithUnit("{session}"),
	)
	m.ActiveSessions, _ = meter.Int64UpDownCounter(
		"tandem.sessions.active",
		metric.WithDescription("Number of live sessions in the registry"),
		metric.WithUnit("{session}"),
	)

	m.ActiveChannels, _ = meter.Int64UpDownCounter(
		"tandem.channels.active",
		metric.WithDescription("Number of open signaling channels"),
		metric.WithUnit("{channel}"),
	)
	m.JoinsTotal, _ = meter.Int64Counter(
		"tandem.joins.total",
		metric.WithDescription("Total number of successful joins"),
		metric.WithUnit("{join}"),
	)
	m.JoinsRejectedTotal, _ = meter.Int64Counter(
		"tandem.joins.rejected.total",
		metric.WithDescription("Total number of rejected joins, by error code"),
		metric.WithUnit("{join}"),
	)

	m.RelayedTotal, _ = meter.Int64Counter(
		"tandem.relay.delivered.total",
		metric.WithDescription("Total number of negotiation messages delivered to a peer"),
		metric.WithUnit("{message}"),
	)
	m.DroppedTotal, _ = meter.Int64Counter(
		"tandem.relay.dropped.total",
		metric.WithDescription("Total number of negotiation messages dropped due to backpressure"),
		metric.WithUnit("{message}"),
	)

	m.RoundsStartedTotal, _ = meter.Int64Counter(
		"tandem.rounds.started.total",
		metric.WithDescription("Total number of rounds started"),
		metric.WithUnit("{round}"),
	)
	m.RoundsCompletedTotal, _ = meter.Int64Counter(
		"tandem.rounds.completed.total",
		metric.WithDescription("Total number of rounds completed"),
		metric.WithUnit("{round}"),
	)
	m.EmergenciesTotal, _ = meter.Int64Counter(
		"tandem.emergencies.total",
		metric.WithDescription("Total number of safeword activations"),
		metric.WithUnit("{event}"),
	)

	return m
}
