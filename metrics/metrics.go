package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const subsystem = "pathcache"

// Lookup results.
const (
	ResultHit         = "hit"
	ResultMiss        = "miss"
	ResultMalformed   = "malformed"
	ResultPoolTimeout = "pool_exhausted"
	ResultUnavailable = "unavailable"
)

// Rule dispatch results.
const (
	RuleAccepted      = "accepted"
	RuleDamped        = "damped"
	RuleOverload      = "overload"
	RuleDeviceUnknown = "device_unknown"
	RuleWriteFailed   = "write_failed"
)

// Routing decisions.
const (
	FlowHandled  = "handled"
	FlowDeferred = "deferred"
)

// Store results.
const (
	StoreOK     = "ok"
	StoreFailed = "failed"
)

var (
	lookupCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Subsystem: subsystem,
			Name:      "lookups_total",
			Help:      "Count of path cache lookups by result.",
		},
		[]string{"result"},
	)
	storeCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Subsystem: subsystem,
			Name:      "stores_total",
			Help:      "Count of path cache writes by result.",
		},
		[]string{"result"},
	)
	invalidationCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Subsystem: subsystem,
			Name:      "invalidations_total",
			Help:      "Count of whole-cache invalidations by origin.",
		},
		[]string{"origin"},
	)
	ruleCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Subsystem: subsystem,
			Name:      "rules_total",
			Help:      "Count of forwarding rules handed to the device dispatcher by result.",
		},
		[]string{"result"},
	)
	flowCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Subsystem: subsystem,
			Name:      "flows_total",
			Help:      "Count of new-flow signals by routing decision.",
		},
		[]string{"decision"},
	)
)

var registerMetrics sync.Once

// Register registers all collectors with r. Later calls are no-ops.
func Register(r prometheus.Registerer) {
	registerMetrics.Do(func() {
		r.MustRegister(lookupCounter)
		r.MustRegister(storeCounter)
		r.MustRegister(invalidationCounter)
		r.MustRegister(ruleCounter)
		r.MustRegister(flowCounter)
	})
}

// RecordLookup counts one cache lookup.
func RecordLookup(result string) {
	lookupCounter.WithLabelValues(result).Inc()
}

// RecordStore counts one cache write.
func RecordStore(result string) {
	storeCounter.WithLabelValues(result).Inc()
}

// RecordInvalidation counts one whole-cache invalidation. origin is "local"
// or "peer".
func RecordInvalidation(origin string) {
	invalidationCounter.WithLabelValues(origin).Inc()
}

// RecordRule counts one rule install request.
func RecordRule(result string) {
	ruleCounter.WithLabelValues(result).Inc()
}

// RecordFlow counts one routing decision, FlowHandled or FlowDeferred.
func RecordFlow(decision string) {
	flowCounter.WithLabelValues(decision).Inc()
}
