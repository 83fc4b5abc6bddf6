package telemetry

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName = "github.com/wolfeidau/bifrost"
)

// Metrics holds the OpenTelemetry instruments for certificate issuance.
type Metrics struct {
	// CertificatesIssuedTotal counts generated certificates, by role (root or leaf).
	CertificatesIssuedTotal metric.Int64Counter

	// CertificatesReusedTotal counts EnsureIssued calls answered from the store.
	CertificatesReusedTotal metric.Int64Counter

	// GenerateDuration records key generation plus signing time, by role.
	GenerateDuration metric.Float64Histogram

	// StoreErrorsTotal counts failed store operations, by operation.
	StoreErrorsTotal metric.Int64Counter
}

var (
	once    sync.Once
	metrics *Metrics
)

// GetMetrics returns the singleton Metrics bound to the global meter provider.
func GetMetrics() *Metrics {
	once.Do(func() {
		metrics = NewMetrics(otel.GetMeterProvider())
	})
	return metrics
}

// NewMetrics creates the instruments on provider.
func NewMetrics(provider metric.MeterProvider) *Metrics {
	meter := provider.Meter(meterName)

	m := &Metrics{}

	m.CertificatesIssuedTotal, _ = meter.Int64Counter(
		"bifrost.certificates.issued.total",
		metric.WithDescription("Total number of certificates generated"),
		metric.WithUnit("{certificate}"),
	)

	m.CertificatesReusedTotal, _ = meter.Int64Counter(
		"bifrost.certificates.reused.total",
		metric.WithDescription("Total number of requests served by an existing certificate"),
		metric.WithUnit("{certificate}"),
	)

	m.GenerateDuration, _ = meter.Float64Histogram(
		"bifrost.certificates.generate.duration",
		metric.WithDescription("Duration of certificate generation"),
		metric.WithUnit("ms"),
	)

	m.StoreErrorsTotal, _ = meter.Int64Counter(
		"bifrost.store.errors.total",
		metric.WithDescription("Total number of failed certificate store operations"),
		metric.WithUnit("{error}"),
	)

	return m
}
