package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNew_RegistersWithoutPanicking(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveAppend(true)
	m.ObserveAppend(false)
	m.FlushDuration.Observe(0.01)
	m.FlushFailuresTotal.Inc()
	m.SnapshotCacheHits.Inc()
	m.SnapshotCacheMiss.Inc()
	m.FileCacheHits.Inc()
	m.FileCacheMiss.Inc()
	m.Waiters.Set(2)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if len(families) == 0 {
		t.Fatalf("expected at least one registered metric family")
	}
}

func TestNew_AppendsTotalHasBothOutcomeLabels(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.ObserveAppend(true)
	m.ObserveAppend(false)
	m.ObserveAppend(true)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	var found bool
	for _, fam := range families {
		if fam.GetName() != "revstore_appends_total" {
			continue
		}
		found = true
		if len(fam.Metric) != 2 {
			t.Fatalf("expected 2 label combinations (installed, lost_race), got %d", len(fam.Metric))
		}
	}
	if !found {
		t.Fatalf("expected revstore_appends_total to be registered")
	}
}
