package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

// Counters are live from package init so components can increment them
// unconditionally; InitCustomMetrics only attaches them to a registry.
var (
	SignInsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "authsync_sign_ins_total",
		Help: "Total number of sessions established.",
	})
	SignOutsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "authsync_sign_outs_total",
		Help: "Total number of sessions ended.",
	})
	TokenRefreshSuccessTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "authsync_token_refresh_success_total",
		Help: "Total number of successful token refreshes.",
	})
	TokenRefreshFailureTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "authsync_token_refresh_failure_total",
		Help: "Total number of failed token refreshes.",
	})
	ProfileFetchSuccessTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "authsync_profile_fetch_success_total",
		Help: "Total number of profile fetches that resolved.",
	})
	ProfileFetchFailureTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "authsync_profile_fetch_failure_total",
		Help: "Total number of profile fetches that failed.",
	})
	StaleResponsesDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "authsync_stale_responses_dropped_total",
		Help: "Total number of profile responses discarded for arriving after a newer request started.",
	})
	OptimisticRollbacksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "authsync_optimistic_rollbacks_total",
		Help: "Total number of optimistic profile updates rolled back.",
	})
	CachePurgesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "authsync_cache_purges_total",
		Help: "Total number of sign-out cache purges.",
	})
	CacheInvalidationsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "authsync_cache_invalidations_total",
		Help: "Total number of mutation-driven cache invalidations.",
	})
)

// InitCustomMetrics registers the package counters with reg.
// It should be called once at application startup.
func InitCustomMetrics(reg prometheus.Registerer) {
	if reg == nil {
		log.Error().Msg("Prometheus registry is nil, cannot register custom metrics.")
		return
	}

	collectors := []prometheus.Collector{
		SignInsTotal,
		SignOutsTotal,
		TokenRefreshSuccessTotal,
		TokenRefreshFailureTotal,
		ProfileFetchSuccessTotal,
		ProfileFetchFailureTotal,
		StaleResponsesDroppedTotal,
		OptimisticRollbacksTotal,
		CachePurgesTotal,
		CacheInvalidationsTotal,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			log.Warn().Err(err).Msg("Failed to register metric")
		}
	}
	log.Info().Msg("Custom Prometheus metrics registered.")
}
