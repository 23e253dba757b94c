package tracing

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func newTestTracer(t *testing.T) (*OTelTracer, *tracetest.InMemoryExporter) {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() { tp.Shutdown(context.Background()) })

	return NewOTelTracer(Config{ServiceName: "test-gar", TracerProvider: tp}), exporter
}

func attrValue(attrs []attribute.KeyValue, key attribute.Key) (attribute.Value, bool) {
	for _, a := range attrs {
		if a.Key == key {
			return a.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestOTelTracer_StartOperation(t *testing.T) {
	tracer, exporter := newTestTracer(t)

	_, span := tracer.StartOperation(context.Background(), "gar.advance", "GAR-0115-ABC123")
	span.End()

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}

	s := spans[0]
	if s.Name != "gar.advance" {
		t.Errorf("expected span name 'gar.advance', got '%s'", s.Name)
	}
	if s.SpanKind != trace.SpanKindInternal {
		t.Errorf("expected internal span, got %s", s.SpanKind)
	}
	v, ok := attrValue(s.Attributes, AttrReference)
	if !ok {
		t.Fatal("gar.reference attribute not found")
	}
	if v.AsString() != "GAR-0115-ABC123" {
		t.Errorf("expected reference 'GAR-0115-ABC123', got '%s'", v.AsString())
	}
}

func TestOTelTracer_StartDelivery(t *testing.T) {
	tracer, exporter := newTestTracer(t)

	ctx, parent := tracer.StartOperation(context.Background(), "gar.notify.run", "GAR-0115-ABC123")
	_, child := tracer.StartDelivery(ctx, "GAR-0115-ABC123", 3)
	child.End()
	parent.End()

	spans := exporter.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(spans))
	}

	delivery := spans[0]
	if delivery.Name != "gar.notify.deliver" {
		t.Errorf("expected span name 'gar.notify.deliver', got '%s'", delivery.Name)
	}
	if delivery.SpanKind != trace.SpanKindClient {
		t.Errorf("expected client span, got %s", delivery.SpanKind)
	}
	if v, ok := attrValue(delivery.Attributes, AttrEventIndex); !ok || v.AsInt64() != 3 {
		t.Errorf("expected gar.event_index 3, got %v", v)
	}
	if delivery.Parent.SpanID() != spans[1].SpanContext.SpanID() {
		t.Error("expected delivery span to be a child of the operation span")
	}
}

func TestOTelTracer_SpanSetError(t *testing.T) {
	tracer, exporter := newTestTracer(t)

	_, span := tracer.StartOperation(context.Background(), "gar.dispute.open", "GAR-0115-ABC123")
	span.SetError(errors.New("dispute window expired"))
	span.End()

	s := exporter.GetSpans()[0]
	if s.Status.Code != codes.Error {
		t.Errorf("expected error status, got %v", s.Status.Code)
	}
	if s.Status.Description != "dispute window expired" {
		t.Errorf("expected description 'dispute window expired', got '%s'", s.Status.Description)
	}
	if len(s.Events) == 0 {
		t.Error("expected the error to be recorded as an event")
	}
}

func TestOTelTracer_SpanSetErrorNil(t *testing.T) {
	tracer, exporter := newTestTracer(t)

	_, span := tracer.StartOperation(context.Background(), "gar.advance", "GAR-0115-ABC123")
	span.SetError(nil)
	span.End()

	if s := exporter.GetSpans()[0]; s.Status.Code != codes.Unset {
		t.Errorf("expected unset status, got %v", s.Status.Code)
	}
}

func TestOTelTracer_SpanSetAttributesAndEvents(t *testing.T) {
	tracer, exporter := newTestTracer(t)

	_, span := tracer.StartOperation(context.Background(), "gar.advance", "GAR-0115-ABC123")
	span.SetAttributes(attribute.String("gar.status.next", "delivered"))
	span.AddEvent("conflict", attribute.Int("attempt", 1))
	span.SetStatus(codes.Ok, "")
	span.End()

	s := exporter.GetSpans()[0]
	if v, ok := attrValue(s.Attributes, "gar.status.next"); !ok || v.AsString() != "delivered" {
		t.Errorf("expected gar.status.next 'delivered', got %v", v)
	}
	if len(s.Events) != 1 || s.Events[0].Name != "conflict" {
		t.Errorf("expected one 'conflict' event, got %v", s.Events)
	}
	if s.Status.Code != codes.Ok {
		t.Errorf("expected ok status, got %v", s.Status.Code)
	}
}

func TestNoopTracer(t *testing.T) {
	tracer := &NoopTracer{}
	ctx := context.Background()

	gotCtx, span := tracer.StartOperation(ctx, "gar.advance", "GAR-0115-ABC123")
	if gotCtx != ctx {
		t.Error("expected the context to be returned unchanged")
	}
	span.SetError(errors.New("ignored"))
	span.SetStatus(codes.Error, "ignored")
	span.SetAttributes(attribute.String("k", "v"))
	span.AddEvent("ignored")
	span.End()

	_, span = tracer.StartDelivery(ctx, "GAR-0115-ABC123", 0)
	span.End()
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.ServiceName != "gar" {
		t.Errorf("expected service name 'gar', got '%s'", cfg.ServiceName)
	}
	if cfg.TracerProvider != nil {
		t.Error("expected nil tracer provider")
	}
}
