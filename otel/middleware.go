package otel

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/jilio/vstore"
)

// Middleware traces every transition of the store called name. Each call to
// the setter becomes a span carrying the action label and whether the state
// changed; listeners run inside the span.
func Middleware[T any](o *Observability, name string) vstore.Middleware[T] {
	return func(next vstore.Initializer[T]) vstore.Initializer[T] {
		return func(set vstore.Setter[T], get vstore.Getter[T], api *vstore.API[T]) T {
			traced := func(delegate vstore.Setter[T]) vstore.Setter[T] {
				return func(fn func(T) T, opts ...vstore.SetOption) {
					ctx := o.onSetStart(context.Background(), name, vstore.ResolveSetOptions(opts))
					start := time.Now()
					before := get()

					defer func() {
						if r := recover(); r != nil {
							o.onSetComplete(ctx, name, time.Since(start), false, r)
							panic(r)
						}
					}()

					delegate(fn, opts...)
					o.onSetComplete(ctx, name, time.Since(start), !vstore.Is(before, get()), nil)
				}
			}

			api.SetState = traced(api.SetState)
			return next(traced(set), get, api)
		}
	}
}

func (o *Observability) onSetStart(ctx context.Context, name string, opts vstore.SetOptions) context.Context {
	action := opts.Action
	if action == "" {
		action = "anonymous"
	}

	ctx, _ = o.tracer.Start(ctx, "vstore.set: "+name,
		trace.WithAttributes(
			attribute.String("store.name", name),
			attribute.String("action", action),
			attribute.Bool("replace", opts.Replace),
		),
	)
	return ctx
}

func (o *Observability) onSetComplete(ctx context.Context, name string, duration time.Duration, changed bool, panicValue any) {
	span := trace.SpanFromContext(ctx)
	attrs := []attribute.KeyValue{
		attribute.String("store.name", name),
		attribute.Bool("changed", changed),
	}

	o.setCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	o.setDuration.Record(ctx, float64(duration.Microseconds())/1000, metric.WithAttributes(attrs...))

	span.SetAttributes(attribute.Bool("changed", changed))
	if panicValue != nil {
		span.SetStatus(codes.Error, "panic during transition")
		span.SetAttributes(attribute.String("panic", fmt.Sprint(panicValue)))
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
