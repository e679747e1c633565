// Package metrics holds the Prometheus collectors for authentication
// attempts and provider metadata. Collectors are package-level so that
// every component can update them without plumbing; exposing them is
// opt-in through Register.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	Attempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "oauth2_sasl_attempts_total",
		Help: "Completed authentication attempts by mechanism and result code",
	}, []string{"mechanism", "result"})

	ValidationFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "oauth2_sasl_validation_failures_total",
		Help: "Rejected tokens by failure reason",
	}, []string{"reason"})

	MetadataFetches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "oauth2_sasl_metadata_fetches_total",
		Help: "Provider metadata fetches by outcome",
	}, []string{"result"})

	MetadataStaleServed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "oauth2_sasl_metadata_stale_served_total",
		Help: "Times a stale key set was served because a refresh failed",
	})

	OpenSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "oauth2_sasl_open_sessions",
		Help: "Server sessions currently open",
	})
)

// Register registers all collectors on reg (or the default registerer if
// nil). Collectors already registered are left alone.
func Register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	for _, c := range []prometheus.Collector{Attempts, ValidationFailures, MetadataFetches, MetadataStaleServed, OpenSessions} {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}
	return nil
}
