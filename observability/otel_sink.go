package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/supportmesh/core"
)

const instrumentationName = "github.com/hupe1980/supportmesh"

// OTelSink exports events as OpenTelemetry metrics and spans: a counter per
// kind, an error counter, a latency histogram (seconds) and one span per
// event carrying the payload as attributes.
type OTelSink struct {
	tracer  trace.Tracer
	events  metric.Int64Counter
	errors  metric.Int64Counter
	latency metric.Float64Histogram
}

// NewOTelSink creates a sink using the given providers. Nil providers fall
// back to the global ones configured through otel.SetMeterProvider and
// otel.SetTracerProvider.
func NewOTelSink(mp metric.MeterProvider, tp trace.TracerProvider) (*OTelSink, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	if tp == nil {
		tp = otel.GetTracerProvider()
	}

	meter := mp.Meter(instrumentationName)

	events, err := meter.Int64Counter("supportmesh.events",
		metric.WithDescription("Recorded events by kind"))
	if err != nil {
		return nil, fmt.Errorf("create events counter: %w", err)
	}

	errs, err := meter.Int64Counter("supportmesh.errors",
		metric.WithDescription("Recorded failure events by kind"))
	if err != nil {
		return nil, fmt.Errorf("create errors counter: %w", err)
	}

	latency, err := meter.Float64Histogram("supportmesh.latency",
		metric.WithDescription("Latency of agent, tool and request events"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("create latency histogram: %w", err)
	}

	return &OTelSink{
		tracer:  tp.Tracer(instrumentationName),
		events:  events,
		errors:  errs,
		latency: latency,
	}, nil
}

// Consume implements Sink.
func (s *OTelSink) Consume(ev core.Event) {
	ctx := context.Background()
	kindAttr := metric.WithAttributes(attribute.String("kind", ev.Kind))

	s.events.Add(ctx, 1, kindAttr)

	errMsg, failed := ev.Payload[core.PayloadError]
	if failed {
		s.errors.Add(ctx, 1, kindAttr)
	}

	d, hasLatency := ev.Payload[core.PayloadLatency].(time.Duration)
	if hasLatency {
		s.latency.Record(ctx, d.Seconds(), kindAttr)
	}

	attrs := append([]attribute.KeyValue{
		attribute.String("session.id", ev.SessionID),
		attribute.Int64("event.seq", int64(ev.Seq)),
	}, payloadToAttrs(ev.Payload)...)

	start := ev.Timestamp
	if hasLatency {
		start = ev.Timestamp.Add(-d)
	}

	_, span := s.tracer.Start(ctx, ev.Kind, trace.WithTimestamp(start), trace.WithAttributes(attrs...))
	if failed {
		span.SetStatus(codes.Error, fmt.Sprint(errMsg))
	}
	span.End(trace.WithTimestamp(ev.Timestamp))
}

// payloadToAttrs converts payload values into span attributes. Unknown types
// are formatted with %v.
func payloadToAttrs(payload map[string]any) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(payload))
	for k, v := range payload {
		key := "payload." + k
		switch val := v.(type) {
		case string:
			attrs = append(attrs, attribute.String(key, val))
		case bool:
			attrs = append(attrs, attribute.Bool(key, val))
		case int:
			attrs = append(attrs, attribute.Int(key, val))
		case int64:
			attrs = append(attrs, attribute.Int64(key, val))
		case uint64:
			attrs = append(attrs, attribute.Int64(key, int64(val)))
		case float64:
			attrs = append(attrs, attribute.Float64(key, val))
		case time.Duration:
			attrs = append(attrs, attribute.Float64(key+"_seconds", val.Seconds()))
		default:
			attrs = append(attrs, attribute.String(key, fmt.Sprintf("%v", val)))
		}
	}
	return attrs
}
