package monitor

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/trailcast/orchestrator/storagepolicy"
)

// StorageRejectRateProbe is the built-in probe named in spec.md §4.12's
// Non-goals carve-out: the fraction of raw API responses the Storage
// Policy Engine has declined to persist, over its running tally.
func StorageRejectRateProbe(engine storagepolicy.Engine) Probe {
	return func(ctx context.Context) (float64, error) {
		t := engine.Tally()
		if t.Seen == 0 {
			return 0, nil
		}
		rejected := t.Seen - t.Stored
		return float64(rejected) / float64(t.Seen), nil
	}
}

// Registry exposes the monitor loop's probe values as Prometheus gauges
// so they are scrapeable the same way the rest of the runtime's metrics
// are (spec.md §9 Domain Stack: prometheus/client_golang).
type Registry struct {
	StorageRejectRate prometheus.Gauge
	ActiveAlerts      *prometheus.GaugeVec
}

// NewRegistry constructs and registers the monitor's gauges against reg.
func NewRegistry(reg prometheus.Registerer) *Registry {
	r := &Registry{
		StorageRejectRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "orchestrator_storage_reject_rate",
			Help: "Fraction of raw API responses rejected by the storage policy engine.",
		}),
		ActiveAlerts: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "orchestrator_active_alerts",
			Help: "Count of active alerts by severity.",
		}, []string{"severity"}),
	}
	reg.MustRegister(r.StorageRejectRate, r.ActiveAlerts)
	return r
}

// Observe updates the gauges from the loop's current state. Intended to
// be called on the same cadence as rule evaluation.
func (r *Registry) Observe(l Loop, engine storagepolicy.Engine) {
	t := engine.Tally()
	if t.Seen > 0 {
		r.StorageRejectRate.Set(float64(t.Seen-t.Stored) / float64(t.Seen))
	}
	counts := map[string]int{}
	for _, a := range l.ActiveAlerts() {
		counts[string(a.Severity)]++
	}
	for _, sev := range []string{"INFO", "WARNING", "ERROR", "CRITICAL"} {
		r.ActiveAlerts.WithLabelValues(sev).Set(float64(counts[sev]))
	}
}
