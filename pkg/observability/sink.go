package observability

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/aegis-labs/govern/pkg/siem"
)

// Sink forwards derived SIEM events to the telemetry pipeline. Push never
// blocks the caller on export and never returns failure: the audit record
// is already durable by the time events reach the sink, and metric export
// loss must not affect governance outcomes.
type Sink struct {
	provider *Provider
	logger   *slog.Logger
}

// NewSink creates a sink over the provider.
func NewSink(provider *Provider) *Sink {
	return &Sink{
		provider: provider,
		logger:   slog.Default().With("component", "siem-sink"),
	}
}

// Push records one counter increment per event, attributed by OCSF class
// and severity.
func (s *Sink) Push(ctx context.Context, events []siem.Event) {
	for _, ev := range events {
		if s.provider.siemCounter != nil {
			s.provider.siemCounter.Add(ctx, 1, metric.WithAttributes(
				attribute.Int("ocsf.category_uid", ev.OCSFMapping.CategoryUID),
				attribute.Int("ocsf.class_uid", ev.OCSFMapping.ClassUID),
				attribute.Int("ocsf.severity_id", ev.OCSFMapping.SeverityID),
				attribute.String("source", ev.Source),
			))
		}
		if ev.OCSFMapping.SeverityID >= 4 {
			s.logger.WarnContext(ctx, "high severity siem event",
				"siem_event_id", ev.SiemEventID,
				"class_uid", ev.OCSFMapping.ClassUID,
				"severity_id", ev.OCSFMapping.SeverityID,
			)
		}
	}
}
