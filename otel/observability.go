package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/jilio/vstore/persist"
)

const (
	instrumentationName = "github.com/jilio/vstore"
)

// Observability records store transitions and persistence operations using
// OpenTelemetry. It implements persist.Observer.
type Observability struct {
	tracer trace.Tracer
	meter  metric.Meter

	// Metrics
	setCounter      metric.Int64Counter
	setDuration     metric.Float64Histogram
	writeCounter    metric.Int64Counter
	writeDuration   metric.Float64Histogram
	writeErrors     metric.Int64Counter
	hydrateCounter  metric.Int64Counter
	hydrateDuration metric.Float64Histogram
	hydrateErrors   metric.Int64Counter
}

// Option configures the Observability
type Option func(*Observability)

// WithTracerProvider sets a custom tracer provider
func WithTracerProvider(provider trace.TracerProvider) Option {
	return func(o *Observability) {
		o.tracer = provider.Tracer(instrumentationName)
	}
}

// WithMeterProvider sets a custom meter provider
func WithMeterProvider(provider metric.MeterProvider) Option {
	return func(o *Observability) {
		o.meter = provider.Meter(instrumentationName)
	}
}

// New creates a new OpenTelemetry observability implementation
func New(opts ...Option) (*Observability, error) {
	obs := &Observability{
		tracer: otel.Tracer(instrumentationName),
		meter:  otel.Meter(instrumentationName),
	}

	for _, opt := range opts {
		opt(obs)
	}

	var err error

	obs.setCounter, err = obs.meter.Int64Counter(
		"vstore.set.count",
		metric.WithDescription("Number of state transitions"),
		metric.WithUnit("{transition}"),
	)
	if err != nil {
		return nil, err
	}

	obs.setDuration, err = obs.meter.Float64Histogram(
		"vstore.set.duration",
		metric.WithDescription("State transition duration including listeners"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	obs.writeCounter, err = obs.meter.Int64Counter(
		"vstore.persist.write.count",
		metric.WithDescription("Number of persisted state writes"),
		metric.WithUnit("{write}"),
	)
	if err != nil {
		return nil, err
	}

	obs.writeDuration, err = obs.meter.Float64Histogram(
		"vstore.persist.write.duration",
		metric.WithDescription("Persisted state write duration"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	obs.writeErrors, err = obs.meter.Int64Counter(
		"vstore.persist.write.errors",
		metric.WithDescription("Number of failed state writes"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	obs.hydrateCounter, err = obs.meter.Int64Counter(
		"vstore.persist.hydrate.count",
		metric.WithDescription("Number of rehydrations"),
		metric.WithUnit("{hydration}"),
	)
	if err != nil {
		return nil, err
	}

	obs.hydrateDuration, err = obs.meter.Float64Histogram(
		"vstore.persist.hydrate.duration",
		metric.WithDescription("Rehydration duration"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	obs.hydrateErrors, err = obs.meter.Int64Counter(
		"vstore.persist.hydrate.errors",
		metric.WithDescription("Number of failed rehydrations"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	return obs, nil
}

type storeNameKey struct{}

func withStoreName(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, storeNameKey{}, name)
}

func storeAttrs(ctx context.Context) []attribute.KeyValue {
	if name, ok := ctx.Value(storeNameKey{}).(string); ok {
		return []attribute.KeyValue{attribute.String("store.name", name)}
	}
	return nil
}

// OnWriteStart is called when a persisted state write starts
func (o *Observability) OnWriteStart(ctx context.Context, name string) context.Context {
	ctx = withStoreName(ctx, name)
	ctx, _ = o.tracer.Start(ctx, "vstore.persist.write: "+name,
		trace.WithAttributes(
			attribute.String("store.name", name),
		),
	)

	o.writeCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("store.name", name),
		),
	)

	return ctx
}

// OnWriteComplete is called when a persisted state write completes
func (o *Observability) OnWriteComplete(ctx context.Context, duration time.Duration, err error) {
	o.complete(ctx, duration, err, o.writeDuration, o.writeErrors)
}

// OnHydrateStart is called when rehydration starts
func (o *Observability) OnHydrateStart(ctx context.Context, name string) context.Context {
	ctx = withStoreName(ctx, name)
	ctx, _ = o.tracer.Start(ctx, "vstore.persist.hydrate: "+name,
		trace.WithAttributes(
			attribute.String("store.name", name),
		),
	)

	o.hydrateCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("store.name", name),
		),
	)

	return ctx
}

// OnHydrateComplete is called when rehydration completes (with or without error)
func (o *Observability) OnHydrateComplete(ctx context.Context, duration time.Duration, err error) {
	o.complete(ctx, duration, err, o.hydrateDuration, o.hydrateErrors)
}

func (o *Observability) complete(ctx context.Context, duration time.Duration, err error, hist metric.Float64Histogram, errs metric.Int64Counter) {
	span := trace.SpanFromContext(ctx)
	attrs := storeAttrs(ctx)

	durationMs := float64(duration.Microseconds()) / 1000
	hist.Record(ctx, durationMs, metric.WithAttributes(attrs...))

	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
		errs.Add(ctx, 1, metric.WithAttributes(attrs...))
	} else {
		span.SetStatus(codes.Ok, "")
	}

	span.End()
}

// Ensure Observability implements persist.Observer
var _ persist.Observer = (*Observability)(nil)
