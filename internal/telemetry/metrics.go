package telemetry

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName = "github.com/atendo/atendo"
)

// Metrics holds all the OpenTelemetry metric instruments
type Metrics struct {
	// Login metrics
	LoginsTotal      metric.Int64Counter
	LoginErrorsTotal metric.Int64Counter

	// Refresh metrics
	RefreshTotal          metric.Int64Counter
	RefreshErrorsTotal    metric.Int64Counter
	RefreshCoalescedTotal metric.Int64Counter
	RefreshSkippedTotal   metric.Int64Counter
	RefreshDuration       metric.Float64Histogram

	// Lifecycle metrics
	LogoutsTotal      metric.Int64Counter
	RehydrationsTotal metric.Int64Counter

	// API request layer metrics
	APIRequestsTotal     metric.Int64Counter
	APIReactiveRefreshes metric.Int64Counter
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

	// Login metrics
	m.LoginsTotal, _ = meter.Int64Counter(
		"atendo.session.logins.total",
		metric.WithDescription("Total number of login attempts"),
		metric.WithUnit("{login}"),
	)

	m.LoginErrorsTotal, _ = meter.Int64Counter(
		"atendo.session.logins.errors.total",
		metric.WithDescription("Total number of failed logins"),
		metric.WithUnit("{error}"),
	)

	// Refresh metrics
	m.RefreshTotal, _ = meter.Int64Counter(
		"atendo.session.refresh.total",
		metric.WithDescription("Total number of refresh endpoint calls"),
		metric.WithUnit("{refresh}"),
	)

	m.RefreshErrorsTotal, _ = meter.Int64Counter(
		"atendo.session.refresh.errors.total",
		metric.WithDescription("Total number of refreshes that ended in logout"),
		metric.WithUnit("{error}"),
	)

	m.RefreshCoalescedTotal, _ = meter.Int64Counter(
		"atendo.session.refresh.coalesced.total",
		metric.WithDescription("Total number of refresh callers that joined an in-flight operation"),
		metric.WithUnit("{caller}"),
	)

	m.RefreshSkippedTotal, _ = meter.Int64Counter(
		"atendo.session.refresh.skipped.total",
		metric.WithDescription("Total number of refresh calls short-circuited without a network call"),
		metric.WithUnit("{refresh}"),
	)

	m.RefreshDuration, _ = meter.Float64Histogram(
		"atendo.session.refresh.duration",
		metric.WithDescription("Duration of refresh endpoint calls"),
		metric.WithUnit("ms"),
	)

	// Lifecycle metrics
	m.LogoutsTotal, _ = meter.Int64Counter(
		"atendo.session.logouts.total",
		metric.WithDescription("Total number of session teardowns"),
		metric.WithUnit("{logout}"),
	)

	m.RehydrationsTotal, _ = meter.Int64Counter(
		"atendo.session.rehydrations.total",
		metric.WithDescription("Total number of start-up rehydrations by outcome"),
		metric.WithUnit("{rehydration}"),
	)

	// API request layer metrics
	m.APIRequestsTotal, _ = meter.Int64Counter(
		"atendo.api.requests.total",
		metric.WithDescription("Total number of authenticated API requests"),
		metric.WithUnit("{request}"),
	)

	m.APIReactiveRefreshes, _ = meter.Int64Counter(
		"atendo.api.reactive_refresh.total",
		metric.WithDescription("Total number of refreshes triggered by a 401 response"),
		metric.WithUnit("{refresh}"),
	)

	return m
}
