package provider

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"PhysioFlow/internal/session"
)

// Instrumented wraps a provider with a span per reply, a request duration
// histogram and a failure counter.
type Instrumented struct {
	next     session.ReplyProvider
	tracer   trace.Tracer
	duration metric.Float64Histogram
	failures metric.Int64Counter
	replies  metric.Int64Counter
}

func NewInstrumented(next session.ReplyProvider, tracer trace.Tracer, meter metric.Meter, logger *slog.Logger) *Instrumented {
	in := &Instrumented{next: next, tracer: tracer}

	var err error
	in.duration, err = meter.Float64Histogram(
		"reply.request.duration",
		metric.WithDescription("Reply provider request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		logger.Warn("failed to create histogram", "error", err)
	}
	in.replies, err = meter.Int64Counter(
		"reply.requests",
		metric.WithDescription("Reply provider requests"),
	)
	if err != nil {
		logger.Warn("failed to create counter", "key", "reply.requests", "error", err)
	}
	in.failures, err = meter.Int64Counter(
		"reply.failures",
		metric.WithDescription("Reply provider requests that failed"),
	)
	if err != nil {
		logger.Warn("failed to create counter", "key", "reply.failures", "error", err)
	}
	return in
}

func (in *Instrumented) Name() string {
	return in.next.Name()
}

func (in *Instrumented) Reply(ctx context.Context, prompt string, history []session.Message) (string, error) {
	attrs := []attribute.KeyValue{attribute.String("provider", in.next.Name())}

	ctx, span := in.tracer.Start(ctx, in.next.Name()+"_reply", trace.WithAttributes(
		append(attrs,
			attribute.Int("prompt.length", len(prompt)),
			attribute.Int("history.length", len(history)),
		)...,
	))
	defer span.End()

	start := time.Now()
	reply, err := in.next.Reply(ctx, prompt, history)
	elapsed := float64(time.Since(start).Milliseconds())

	if in.duration != nil {
		in.duration.Record(ctx, elapsed, metric.WithAttributes(attrs...))
	}
	if in.replies != nil {
		in.replies.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if in.failures != nil {
			in.failures.Add(ctx, 1, metric.WithAttributes(attrs...))
		}
		return "", err
	}
	span.SetAttributes(attribute.Int("reply.length", len(reply)))
	return reply, nil
}
