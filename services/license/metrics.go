package license

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	cacheHits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "license_cache_hits_total",
		Help: "Cached license view reads served from the cache.",
	}, []string{"driver"})
	cacheMiss = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "license_cache_miss_total",
		Help: "Cached license view reads that fell through to the store.",
	}, []string{"driver"})
	cacheErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "license_cache_errors_total",
		Help: "License cache operations that failed, by operation.",
	}, []string{"driver", "op"})
	validationResults = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "license_validation_results_total",
		Help: "License validations by result code.",
	}, []string{"code"})
	usageAdjustments = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "license_usage_adjustments_total",
		Help: "Usage counter changes by resource type and outcome.",
	}, []string{"type", "outcome"})
)

func init() {
	prometheus.MustRegister(cacheHits, cacheMiss, cacheErrors, validationResults, usageAdjustments)
}

func codeLabel(c Code) string {
	if c == CodeOK {
		return "OK"
	}
	return string(c)
}
