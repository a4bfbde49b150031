package metrics

import (
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestCheckoutMetricsExportsOutcomesAndHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCheckoutMetrics(reg)
	m.IncOutcome(OutcomeSuccess)
	m.IncOutcome(OutcomeSuccess)
	m.IncOutcome("")
	m.IncRetry()
	m.ObserveDuration(40 * time.Millisecond)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	if got, err := fetchCounterValue(mfs, "checkout_outcomes_total", map[string]string{"outcome": OutcomeSuccess}); err != nil {
		t.Fatalf("fetch success: %v", err)
	} else if got != 2 {
		t.Fatalf("expected success=2, got %f", got)
	}
	if got, err := fetchCounterValue(mfs, "checkout_outcomes_total", map[string]string{"outcome": "unknown"}); err != nil {
		t.Fatalf("fetch unknown: %v", err)
	} else if got != 1 {
		t.Fatalf("expected unknown=1, got %f", got)
	}
	if got, err := fetchCounterValue(mfs, "checkout_retries_total", nil); err != nil {
		t.Fatalf("fetch retries: %v", err)
	} else if got != 1 {
		t.Fatalf("expected retries=1, got %f", got)
	}
	mf := findMetricFamily(mfs, "checkout_duration_seconds")
	if mf == nil || mf.GetMetric()[0].GetHistogram().GetSampleSum() <= 0 {
		t.Fatalf("expected duration sample")
	}
}

func TestCartAndOutboxMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	cart := NewCartMetrics(reg)
	outbox := NewOutboxMetrics(reg)
	cart.IncMutation(CartAdd, "ok")
	cart.IncMutation(CartAdd, "CAPACITY_EXCEEDED")
	outbox.IncPublished("order_created")
	outbox.IncFailed("order_created")
	outbox.IncDeadLettered("order_created")
	outbox.ObserveBatch(time.Millisecond)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	if got, _ := fetchCounterValue(mfs, "cart_mutations_total", map[string]string{"op": CartAdd, "result": "CAPACITY_EXCEEDED"}); got != 1 {
		t.Fatalf("expected capacity rejection=1, got %f", got)
	}
	for _, name := range []string{"outbox_published_total", "outbox_failed_total", "outbox_dead_lettered_total"} {
		if got, err := fetchCounterValue(mfs, name, map[string]string{"event_type": "order_created"}); err != nil || got != 1 {
			t.Fatalf("expected %s=1, got %f (%v)", name, got, err)
		}
	}
}

func TestJobMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewJobMetrics(reg)
	m.ObserveRun("outbox-retention", time.Millisecond, nil)
	m.ObserveRun("capacity-audit", time.Millisecond, fmt.Errorf("db down"))
	m.SetOversold(3)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	if got, _ := fetchCounterValue(mfs, "cron_job_runs_total", map[string]string{"job": "outbox-retention", "result": "success"}); got != 1 {
		t.Fatalf("expected retention success=1, got %f", got)
	}
	if got, _ := fetchCounterValue(mfs, "cron_job_runs_total", map[string]string{"job": "capacity-audit", "result": "failure"}); got != 1 {
		t.Fatalf("expected audit failure=1, got %f", got)
	}
	gauge := findMetricFamily(mfs, "listings_oversold")
	if gauge == nil || gauge.GetMetric()[0].GetGauge().GetValue() != 3 {
		t.Fatalf("expected oversold gauge=3")
	}
}

func TestNilRegistererIsNoop(t *testing.T) {
	NewCheckoutMetrics(nil).IncOutcome(OutcomeConflict)
	NewCartMetrics(nil).IncMutation(CartRemove, "ok")
	NewOutboxMetrics(nil).IncPublished("x")
	NewJobMetrics(nil).SetOversold(1)
	var m *CheckoutMetrics
	m.IncRetry()
	m.ObserveDuration(time.Second)
}

func fetchCounterValue(mfs []*dto.MetricFamily, name string, labels map[string]string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabels(metric.GetLabel(), labels) {
			return metric.GetCounter().GetValue(), nil
		}
	}
	return 0, fmt.Errorf("metric %q missing labels %v", name, labels)
}

func findMetricFamily(mfs []*dto.MetricFamily, name string) *dto.MetricFamily {
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func matchesLabels(pairs []*dto.LabelPair, want map[string]string) bool {
	for name, value := range want {
		found := false
		for _, pair := range pairs {
			if pair.GetName() == name && pair.GetValue() == value {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
