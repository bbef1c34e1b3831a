package numbering

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "policykit/numbering"

// TracedStore 为每次存储调用创建 OpenTelemetry span
type TracedStore struct {
	next   IStore
	tracer trace.Tracer
}

// NewTracedStore 包装 next；tp 为 nil 时使用全局 TracerProvider
func NewTracedStore(next IStore, tp trace.TracerProvider) *TracedStore {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &TracedStore{next: next, tracer: tp.Tracer(tracerName)}
}

func (s *TracedStore) start(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "numberpool."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...))
}

func finish(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func poolAttrs(tenantID string, category Category) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("numberpool.tenant_id", tenantID),
		attribute.String("numberpool.category", string(category)),
	}
}

func keyAttrs(key Key) []attribute.KeyValue {
	return append(poolAttrs(key.TenantID, key.Category), attribute.String("numberpool.number", key.Number))
}

func (s *TracedStore) Add(ctx context.Context, tenantID string, category Category, numbers []string) (AddResult, error) {
	ctx, span := s.start(ctx, "add", append(poolAttrs(tenantID, category), attribute.Int("numberpool.batch_size", len(numbers)))...)
	res, err := s.next.Add(ctx, tenantID, category, numbers)
	if err == nil {
		span.SetAttributes(
			attribute.Int("numberpool.added", len(res.added)),
			attribute.Int("numberpool.duplicates", len(res.duplicates)),
		)
	}
	finish(span, err)
	return res, err
}

func (s *TracedStore) Reserve(ctx context.Context, tenantID string, category Category, at time.Time) (Entry, error) {
	ctx, span := s.start(ctx, "reserve", poolAttrs(tenantID, category)...)
	e, err := s.next.Reserve(ctx, tenantID, category, at)
	if err == nil {
		span.SetAttributes(attribute.String("numberpool.number", e.Number))
	}
	finish(span, err)
	return e, err
}

func (s *TracedStore) Release(ctx context.Context, key Key) error {
	ctx, span := s.start(ctx, "release", keyAttrs(key)...)
	err := s.next.Release(ctx, key)
	finish(span, err)
	return err
}

func (s *TracedStore) ReleaseExpired(ctx context.Context, before time.Time) (int, error) {
	ctx, span := s.start(ctx, "release_expired", attribute.String("numberpool.before", before.UTC().Format(time.RFC3339)))
	n, err := s.next.ReleaseExpired(ctx, before)
	span.SetAttributes(attribute.Int("numberpool.released", n))
	finish(span, err)
	return n, err
}

func (s *TracedStore) Consume(ctx context.Context, c *Consumption) error {
	ctx, span := s.start(ctx, "consume", keyAttrs(c.Key())...)
	err := s.next.Consume(ctx, c)
	finish(span, err)
	return err
}

func (s *TracedStore) GetConsumption(ctx context.Context, key Key) (*Consumption, error) {
	ctx, span := s.start(ctx, "get_consumption", keyAttrs(key)...)
	c, err := s.next.GetConsumption(ctx, key)
	finish(span, err)
	return c, err
}

func (s *TracedStore) Stats(ctx context.Context, tenantID string, category Category) (Stats, error) {
	ctx, span := s.start(ctx, "stats", poolAttrs(tenantID, category)...)
	st, err := s.next.Stats(ctx, tenantID, category)
	finish(span, err)
	return st, err
}
