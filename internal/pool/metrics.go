package pool

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/coachpo/diagcore/internal/telemetry"
)

// AttrPoolName labels every pool instrument.
const AttrPoolName = telemetry.AttrPoolName

// ObserveMetrics registers observable instruments reporting the stats of every
// pool in reg on each collection cycle. Each observation carries the pool name,
// the telemetry environment and extra.
func ObserveMetrics(meter metric.Meter, reg *Registry, extra ...attribute.KeyValue) error {
	if meter == nil || reg == nil {
		return nil
	}

	stored, err := meter.Int64ObservableGauge("diagcore_pool_stored",
		metric.WithDescription("Items currently held by the pool"),
		metric.WithUnit("{item}"))
	if err != nil {
		return fmt.Errorf("pool metrics: stored gauge: %w", err)
	}
	capacity, err := meter.Int64ObservableGauge("diagcore_pool_capacity",
		metric.WithDescription("Fixed pool capacity"),
		metric.WithUnit("{item}"))
	if err != nil {
		return fmt.Errorf("pool metrics: capacity gauge: %w", err)
	}
	outstanding, err := meter.Int64ObservableGauge("diagcore_pool_outstanding",
		metric.WithDescription("Items checked out and not yet returned"),
		metric.WithUnit("{item}"))
	if err != nil {
		return fmt.Errorf("pool metrics: outstanding gauge: %w", err)
	}
	created, err := meter.Int64ObservableCounter("diagcore_pool_created_total",
		metric.WithDescription("Items minted because the store was empty"),
		metric.WithUnit("{item}"))
	if err != nil {
		return fmt.Errorf("pool metrics: created counter: %w", err)
	}
	returned, err := meter.Int64ObservableCounter("diagcore_pool_returned_total",
		metric.WithDescription("Items accepted back into the store"),
		metric.WithUnit("{item}"))
	if err != nil {
		return fmt.Errorf("pool metrics: returned counter: %w", err)
	}
	discarded, err := meter.Int64ObservableCounter("diagcore_pool_discarded_total",
		metric.WithDescription("Returned items abandoned by policy or overflow"),
		metric.WithUnit("{item}"))
	if err != nil {
		return fmt.Errorf("pool metrics: discarded counter: %w", err)
	}

	_, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		for _, st := range reg.Snapshot() {
			attrs := append(telemetry.PoolAttributes(telemetry.Environment(), st.Name), extra...)
			opt := metric.WithAttributes(attrs...)
			o.ObserveInt64(stored, int64(st.Stored), opt)
			o.ObserveInt64(capacity, int64(st.Capacity), opt)
			o.ObserveInt64(outstanding, st.Outstanding, opt)
			o.ObserveInt64(created, int64(st.Created), opt)
			o.ObserveInt64(returned, int64(st.Returned), opt)
			o.ObserveInt64(discarded, int64(st.Discarded), opt)
		}
		return nil
	}, stored, capacity, outstanding, created, returned, discarded)
	if err != nil {
		return fmt.Errorf("pool metrics: register callback: %w", err)
	}
	return nil
}
