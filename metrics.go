package job_dispatcher

import (
	"context"
	"fmt"
	"time"

	_const "github.com/TimeWtr/job_dispatcher/const"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/TimeWtr/job_dispatcher"

type triggerMetrics struct {
	total    metric.Int64Counter
	duration metric.Float64Histogram
}

func newTriggerMetrics(mp metric.MeterProvider) (*triggerMetrics, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(instrumentationName)
	total, err := meter.Int64Counter("dispatcher.trigger.count",
		metric.WithDescription("dispatches executed by the trigger pools"),
		metric.WithUnit("1"))
	if err != nil {
		return nil, fmt.Errorf("create trigger counter: %w", err)
	}
	duration, err := meter.Float64Histogram("dispatcher.trigger.duration",
		metric.WithDescription("dispatch latency"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, fmt.Errorf("create trigger histogram: %w", err)
	}
	return &triggerMetrics{total: total, duration: duration}, nil
}

func (m *triggerMetrics) record(ctx context.Context, pool string, typ _const.TriggerType, cost time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("pool", pool),
		attribute.String("trigger_type", string(typ)),
	)
	m.total.Add(ctx, 1, attrs)
	m.duration.Record(ctx, float64(cost.Microseconds())/1000, attrs)
}
