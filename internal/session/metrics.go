package session

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/loqalabs/loqa-callbot/session"

type instruments struct {
	tracer  trace.Tracer
	turns   metric.Int64Counter
	flushes metric.Int64Counter
	dropped metric.Int64Counter
	frames  metric.Int64Counter
	latency metric.Float64Histogram
}

func newInstruments(active func() int64) (*instruments, error) {
	meter := otel.Meter(instrumentationName)
	inst := &instruments{tracer: otel.Tracer(instrumentationName)}

	var err error
	if inst.turns, err = meter.Int64Counter("callbot.turns",
		metric.WithDescription("Completed caller turns with a bot reply")); err != nil {
		return nil, err
	}
	if inst.flushes, err = meter.Int64Counter("callbot.flushes",
		metric.WithDescription("Audio buffer flushes by trigger")); err != nil {
		return nil, err
	}
	if inst.dropped, err = meter.Int64Counter("callbot.turn.dropped",
		metric.WithDescription("Flushed utterances that produced no reply")); err != nil {
		return nil, err
	}
	if inst.frames, err = meter.Int64Counter("callbot.frames.dropped",
		metric.WithDescription("Inbound media frames discarded by the rate limiter")); err != nil {
		return nil, err
	}
	if inst.latency, err = meter.Float64Histogram("callbot.collaborator.latency",
		metric.WithDescription("Latency of recognizer, dialogue and synthesis calls"),
		metric.WithUnit("ms")); err != nil {
		return nil, err
	}

	gauge, err := meter.Int64ObservableGauge("callbot.sessions.active",
		metric.WithDescription("Calls currently attached to this node"))
	if err != nil {
		return nil, err
	}
	if _, err := meter.RegisterCallback(func(_ context.Context, obs metric.Observer) error {
		obs.ObserveInt64(gauge, active())
		return nil
	}, gauge); err != nil {
		return nil, err
	}
	return inst, nil
}

func (i *instruments) flush(ctx context.Context, reason string) {
	i.flushes.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (i *instruments) drop(ctx context.Context, reason string) {
	i.dropped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (i *instruments) observe(ctx context.Context, stage string, ms float64) {
	i.latency.Record(ctx, ms, metric.WithAttributes(attribute.String("stage", stage)))
}
