package metrics

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const scope = "github.com/gabibdods/NullVelope"

// Counters for ingestion outcomes. Recording is a no-op until a meter
// provider is installed.
type Ingest struct {
	accepted  metric.Int64Counter
	rejected  metric.Int64Counter
	persisted metric.Int64Counter
}

func NewIngest() *Ingest {
	return NewIngestWithProvider(otel.GetMeterProvider())
}

func NewIngestWithProvider(provider metric.MeterProvider) *Ingest {
	meter := provider.Meter(scope)

	return &Ingest{
		accepted:  counter(meter, "ingest.accepted", "Transactions accepted"),
		rejected:  counter(meter, "ingest.rejected", "Transactions rejected"),
		persisted: counter(meter, "ingest.persisted", "Messages persisted"),
	}
}

func (i *Ingest) Accepted(ctx context.Context, model string) {
	i.accepted.Add(ctx, 1, metric.WithAttributes(attribute.String("model", model)))
}

func (i *Ingest) Rejected(ctx context.Context, model string, reason string) {
	i.rejected.Add(ctx, 1, metric.WithAttributes(
		attribute.String("model", model),
		attribute.String("reason", reason),
	))
}

// Records a persisted message along with the number of mailboxes it landed
// in.
func (i *Ingest) Persisted(ctx context.Context, model string, mailboxes int) {
	i.persisted.Add(ctx, 1, metric.WithAttributes(
		attribute.String("model", model),
		attribute.Int("mailboxes", mailboxes),
	))
}

func counter(meter metric.Meter, name string, description string) metric.Int64Counter {
	counter, err := meter.Int64Counter(name, metric.WithDescription(description))
	if err != nil {
		// The api hands back a usable noop instrument next to the error.
		slog.Warn("could not create counter", "name", name, "error", err)
	}
	return counter
}
