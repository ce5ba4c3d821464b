// Package observe provides application-wide observability primitives for
// voicetap: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
//
// Nothing in this package is called per sample. The fan-out histogram is
// recorded once per engine buffer; broadcast channel counters and consumer
// levels are read lazily through observable instruments at collection time.
package observe

import (
	"context"
	"errors"
	"strconv"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/voicetap/pkg/audio/broadcast"
)

// meterName is the instrumentation scope name used for all voicetap metrics.
const meterName = "github.com/MrWong99/voicetap"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	meter metric.Meter

	// FanoutDuration tracks how long one engine buffer takes to pass through
	// a broadcast channel, pass-through transform and listener delivery
	// included. Use with attribute:
	//   attribute.String("category", ...)
	FanoutDuration metric.Float64Histogram

	// EngineEvents counts callbacks received from the mixing engine. Use
	// with attribute:
	//   attribute.String("event", ...)
	EngineEvents metric.Int64Counter

	// Reconfigurations counts router Configure calls. Use with attributes:
	//   attribute.String("consumer", ...), attribute.String("consumer_id", ...),
	//   attribute.String("status", ...)
	Reconfigurations metric.Int64Counter

	// StaleRoutes counts routes found outside the valid plane range when a
	// router is configured. Use with attributes:
	//   attribute.String("consumer", ...), attribute.String("consumer_id", ...)
	StaleRoutes metric.Int64Counter

	// ActiveConsumers tracks the number of attached routers.
	ActiveConsumers metric.Int64UpDownCounter

	// EngineTier records the tier last reported by the mixing engine
	// (0 when unknown).
	EngineTier metric.Int64Gauge

	// HTTPRequestDuration tracks HTTP request processing time by method and
	// matched route pattern, never the raw path.
	HTTPRequestDuration metric.Float64Histogram
}

// fanoutBuckets defines histogram bucket boundaries (in seconds) sized for a
// real-time audio callback whose period is a few milliseconds.
var fanoutBuckets = []float64{
	0.000005, 0.00001, 0.000025, 0.00005, 0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{meter: m}

	if met.FanoutDuration, err = m.Float64Histogram("voicetap.fanout.duration",
		metric.WithDescription("Time to fan one engine buffer out to every listener."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(fanoutBuckets...),
	); err != nil {
		return nil, err
	}

	if met.EngineEvents, err = m.Int64Counter("voicetap.engine.events",
		metric.WithDescription("Total mixing-engine callback events by kind."),
	); err != nil {
		return nil, err
	}
	if met.Reconfigurations, err = m.Int64Counter("voicetap.router.reconfigurations",
		metric.WithDescription("Total router reconfigurations by consumer and status."),
	); err != nil {
		return nil, err
	}
	if met.StaleRoutes, err = m.Int64Counter("voicetap.router.stale_routes",
		metric.WithDescription("Routes resolved to silence because they exceed the valid plane range."),
	); err != nil {
		return nil, err
	}

	if met.ActiveConsumers, err = m.Int64UpDownCounter("voicetap.active_consumers",
		metric.WithDescription("Number of routers currently attached to a broadcast channel."),
	); err != nil {
		return nil, err
	}
	if met.EngineTier, err = m.Int64Gauge("voicetap.engine.tier",
		metric.WithDescription("Mixing engine tier (0 unknown, 1 basic, 2 banana, 3 potato)."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("voicetap.http.request.duration",
		metric.WithDescription("HTTP request latency by method and route."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
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

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordEngineEvent records one mixing-engine callback event.
func (m *Metrics) RecordEngineEvent(ctx context.Context, event string) {
	m.EngineEvents.Add(ctx, 1, metric.WithAttributes(attribute.String("event", event)))
}

// RecordReconfiguration records one router reconfiguration and the number of
// stale routes it contained. id distinguishes routers that share a consumer
// name across reloads.
func (m *Metrics) RecordReconfiguration(ctx context.Context, consumer, id, status string, stale int) {
	m.Reconfigurations.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("consumer", consumer),
			attribute.String("consumer_id", id),
			attribute.String("status", status),
		),
	)
	if stale > 0 {
		m.StaleRoutes.Add(ctx, int64(stale),
			metric.WithAttributes(
				attribute.String("consumer", consumer),
				attribute.String("consumer_id", id),
			),
		)
	}
}

// StatsSource is implemented by [broadcast.Channel].
type StatsSource interface {
	Name() string
	Stats() broadcast.Stats
}

// ObserveChannels registers observable instruments that report the counters
// of each channel at collection time, labelled with the channel name. Call
// Unregister on the returned registration once the channels are torn down.
func (m *Metrics) ObserveChannels(channels ...StatsSource) (metric.Registration, error) {
	writes, err1 := m.meter.Int64ObservableCounter("voicetap.channel.writes",
		metric.WithDescription("Frames written to a broadcast channel by the producer."))
	deliveries, err2 := m.meter.Int64ObservableCounter("voicetap.channel.deliveries",
		metric.WithDescription("Frames delivered to broadcast listeners."))
	skipped, err3 := m.meter.Int64ObservableCounter("voicetap.channel.skipped",
		metric.WithDescription("Deliveries skipped because the listener detached mid-write."))
	reallocs, err4 := m.meter.Int64ObservableCounter("voicetap.channel.reallocations",
		metric.WithDescription("Frame buffer reallocations caused by growing frames."))
	listeners, err5 := m.meter.Int64ObservableGauge("voicetap.channel.listeners",
		metric.WithDescription("Listeners attached to a broadcast channel."))
	if err := errors.Join(err1, err2, err3, err4, err5); err != nil {
		return nil, err
	}

	return m.meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		for _, ch := range channels {
			s := ch.Stats()
			attrs := metric.WithAttributes(attribute.String("category", ch.Name()))
			o.ObserveInt64(writes, int64(s.Writes), attrs)
			o.ObserveInt64(deliveries, int64(s.Deliveries), attrs)
			o.ObserveInt64(skipped, int64(s.Skipped), attrs)
			o.ObserveInt64(reallocs, int64(s.Reallocations), attrs)
			o.ObserveInt64(listeners, int64(s.Listeners), attrs)
		}
		return nil
	}, writes, deliveries, skipped, reallocs, listeners)
}

// LevelSource reports per-channel signal levels for one consumer.
type LevelSource interface {
	Name() string
	Snapshot() (peak, rms []float64)
}

// ObserveLevels registers gauges reporting the most recent peak and RMS
// levels of each source, labelled with consumer name and output channel.
func (m *Metrics) ObserveLevels(sources ...LevelSource) (metric.Registration, error) {
	peak, err1 := m.meter.Float64ObservableGauge("voicetap.consumer.peak",
		metric.WithDescription("Peak absolute sample value over the last report interval."))
	rms, err2 := m.meter.Float64ObservableGauge("voicetap.consumer.rms",
		metric.WithDescription("RMS sample value over the last report interval."))
	if err := errors.Join(err1, err2); err != nil {
		return nil, err
	}

	return m.meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		for _, src := range sources {
			peaks, rmss := src.Snapshot()
			for i := range peaks {
				attrs := metric.WithAttributes(
					attribute.String("consumer", src.Name()),
					attribute.String("channel", strconv.Itoa(i)),
				)
				o.ObserveFloat64(peak, peaks[i], attrs)
				if i < len(rmss) {
					o.ObserveFloat64(rms, rmss[i], attrs)
				}
			}
		}
		return nil
	}, peak, rms)
}
