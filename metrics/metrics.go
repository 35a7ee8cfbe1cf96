// Package metrics exposes settlement kernel telemetry as Prometheus
// collectors on a private registry.
package metrics

import (
	"math/big"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Settlement modes
const (
	ModeStandard = "standard"
	ModeLight    = "light"
)

// Fee legs
const (
	FeeProtocol  = "protocol"
	FeeAffiliate = "affiliate"
	FeeRoyalty   = "royalty"
)

// Collector records kernel metrics.
type Collector struct {
	registry *prometheus.Registry

	settlements       *prometheus.CounterVec
	rejections        *prometheus.CounterVec
	settleLatency     *prometheus.HistogramVec
	feeVolume         *prometheus.CounterVec
	checks            prometheus.Counter
	checkErrors       prometheus.Histogram
	nonceCancellation *prometheus.CounterVec
	delegations       *prometheus.CounterVec
}

// NewCollector creates a collector with its own registry.
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = "swap"
	}

	c := &Collector{registry: prometheus.NewRegistry()}

	c.settlements = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "settlement",
			Name:      "settled_total",
			Help:      "Total number of settled orders",
		},
		[]string{"mode"},
	)

	c.rejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "settlement",
			Name:      "rejected_total",
			Help:      "Total number of rejected settlements by error code",
		},
		[]string{"code"},
	)

	c.settleLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "settlement",
			Name:      "duration_seconds",
			Help:      "Time taken to settle or reject an order",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14), // 100us to ~1.6s
		},
		[]string{"result"},
	)

	c.feeVolume = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fee",
			Name:      "volume_total",
			Help:      "Total fee amount paid, in sender token base units",
		},
		[]string{"leg"},
	)

	c.checks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "preflight",
			Name:      "checks_total",
			Help:      "Total number of preflight checks",
		},
	)

	c.checkErrors = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "preflight",
			Name:      "errors",
			Help:      "Number of error codes reported per preflight check",
			Buckets:   prometheus.LinearBuckets(0, 1, 8),
		},
	)

	c.nonceCancellation = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "nonce",
			Name:      "cancelled_total",
			Help:      "Total number of nonce cancellations",
		},
		[]string{"kind"},
	)

	c.delegations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "authz",
			Name:      "changes_total",
			Help:      "Total number of delegation changes",
		},
		[]string{"role", "action"},
	)

	c.registry.MustRegister(
		c.settlements,
		c.rejections,
		c.settleLatency,
		c.feeVolume,
		c.checks,
		c.checkErrors,
		c.nonceCancellation,
		c.delegations,
	)

	return c
}

// Registry returns the Prometheus registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// RecordSettlement records a successful settlement.
func (c *Collector) RecordSettlement(light bool, duration time.Duration) {
	mode := ModeStandard
	if light {
		mode = ModeLight
	}
	c.settlements.WithLabelValues(mode).Inc()
	c.settleLatency.WithLabelValues("settled").Observe(duration.Seconds())
}

// RecordRejection records a settlement rejected with code.
func (c *Collector) RecordRejection(code string, duration time.Duration) {
	c.rejections.WithLabelValues(code).Inc()
	c.settleLatency.WithLabelValues("rejected").Observe(duration.Seconds())
}

// RecordFee adds amount to the volume of a fee leg. Amounts beyond float64
// precision are approximated.
func (c *Collector) RecordFee(leg string, amount *big.Int) {
	if amount == nil || amount.Sign() <= 0 {
		return
	}
	v, _ := new(big.Float).SetInt(amount).Float64()
	c.feeVolume.WithLabelValues(leg).Add(v)
}

// RecordCheck records a preflight check reporting count error codes.
func (c *Collector) RecordCheck(count int) {
	c.checks.Inc()
	c.checkErrors.Observe(float64(count))
}

// RecordCancellation records cancelled nonces. kind is "nonce" or
// "minimum".
func (c *Collector) RecordCancellation(kind string, n int) {
	if n <= 0 {
		return
	}
	c.nonceCancellation.WithLabelValues(kind).Add(float64(n))
}

// RecordDelegation records an authorize or revoke for role.
func (c *Collector) RecordDelegation(role, action string) {
	c.delegations.WithLabelValues(role, action).Inc()
}
