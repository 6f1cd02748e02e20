package telemetry

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName = "github.com/avaliahq/tenancy"
)

// Metrics holds all the OpenTelemetry metric instruments
type Metrics struct {
	// Resolution metrics
	ResolveFailuresTotal metric.Int64Counter
	ResolveDuration      metric.Float64Histogram

	// Session metrics
	SessionsBoundTotal metric.Int64Counter
	BindFailuresTotal  metric.Int64Counter

	// Usage metrics
	UsageDeniedTotal    metric.Int64Counter
	UsageCommittedTotal metric.Int64Counter
	UsageReleasedTotal  metric.Int64Counter
	ReservationsSwept   metric.Int64Counter

	// Audit metrics
	AuditDroppedTotal metric.Int64Counter

	// Policy metrics
	PolicyViolationsTotal metric.Int64Counter
}

var (
	once    sync.Once
	metrics *Metrics
)

// GetMetrics returns the singleton Metrics instance, initializing it if necessary
func GetMetrics() *Metrics {
	once.Do(func() {
		metrics = initMetrics()
	})
	return metrics
}

// initMetrics creates and registers all metric instruments
func initMetrics() *Metrics {
	meter := otel.GetMeterProvider().Meter(meterName)

	m := &Metrics{}

	m.ResolveFailuresTotal, _ = meter.Int64Counter(
		"tenancy.resolve.failures.total",
		metric.WithDescription("Total number of failed tenant resolutions"),
		metric.WithUnit("{failure}"),
	)

	m.ResolveDuration, _ = meter.Float64Histogram(
		"tenancy.resolve.duration",
		metric.WithDescription("Duration of tenant resolution"),
		metric.WithUnit("ms"),
	)

	m.SessionsBoundTotal, _ = meter.Int64Counter(
		"tenancy.sessions.bound.total",
		metric.WithDescription("Total number of sessions bound to a tenant"),
		metric.WithUnit("{session}"),
	)

	m.BindFailuresTotal, _ = meter.Int64Counter(
		"tenancy.sessions.bind_failures.total",
		metric.WithDescription("Total number of failed session binds"),
		metric.WithUnit("{failure}"),
	)

	m.UsageDeniedTotal, _ = meter.Int64Counter(
		"tenancy.usage.denied.total",
		metric.WithDescription("Total number of reservations denied by a limit"),
		metric.WithUnit("{reservation}"),
	)

	m.UsageCommittedTotal, _ = meter.Int64Counter(
		"tenancy.usage.committed.total",
		metric.WithDescription("Total number of committed reservations"),
		metric.WithUnit("{reservation}"),
	)

	m.UsageReleasedTotal, _ = meter.Int64Counter(
		"tenancy.usage.released.total",
		metric.WithDescription("Total number of released reservations"),
		metric.WithUnit("{reservation}"),
	)

	m.ReservationsSwept, _ = meter.Int64Counter(
		"tenancy.usage.swept.total",
		metric.WithDescription("Total number of expired reservations released by the sweeper"),
		metric.WithUnit("{reservation}"),
	)

	m.AuditDroppedTotal, _ = meter.Int64Counter(
		"tenancy.audit.dropped.total",
		metric.WithDescription("Total number of audit entries dropped due to overflow or sink errors"),
		metric.WithUnit("{entry}"),
	)

	m.PolicyViolationsTotal, _ = meter.Int64Counter(
		"tenancy.policy.violations.total",
		metric.WithDescription("Total number of rows observed outside the bound tenant's scope"),
		metric.WithUnit("{violation}"),
	)

	return m
}
