package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, counter prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := counter.Write(&m); err != nil {
		t.Fatalf("write counter: %v", err)
	}
	return m.GetCounter().GetValue()
}

func gaugeValue(t *testing.T, gauge prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	if err := gauge.Write(&m); err != nil {
		t.Fatalf("write gauge: %v", err)
	}
	return m.GetGauge().GetValue()
}

func TestNewDispatchMetrics(t *testing.T) {
	metrics := newDispatchMetricsWithRegisterer(prometheus.NewRegistry())

	if metrics == nil {
		t.Fatal("newDispatchMetricsWithRegisterer should not return nil")
	}
	if metrics.dispatchSucceeded == nil {
		t.Error("dispatchSucceeded counter should not be nil")
	}
	if metrics.dispatchFailed == nil {
		t.Error("dispatchFailed counter should not be nil")
	}
	if metrics.dispatchCompensated == nil {
		t.Error("dispatchCompensated counter should not be nil")
	}
	if metrics.deadLettered == nil {
		t.Error("deadLettered counter should not be nil")
	}
	if metrics.reconciled == nil {
		t.Error("reconciled counter vec should not be nil")
	}
	if metrics.dispatchDuration == nil {
		t.Error("dispatchDuration histogram should not be nil")
	}
}

func TestDispatchMetrics_RecordOutcomes(t *testing.T) {
	metrics := newDispatchMetricsWithRegisterer(prometheus.NewRegistry())

	metrics.RecordDispatchSucceeded()
	metrics.RecordDispatchSucceeded()
	metrics.RecordDispatchFailed()
	metrics.RecordDispatchCompensated()
	metrics.RecordDeadLetter()
	metrics.RecordDispatchDuration(150 * time.Millisecond)

	if got := counterValue(t, metrics.dispatchSucceeded); got != 2 {
		t.Errorf("expected 2 successes, got %v", got)
	}
	if got := counterValue(t, metrics.dispatchFailed); got != 1 {
		t.Errorf("expected 1 failure, got %v", got)
	}
	if got := counterValue(t, metrics.dispatchCompensated); got != 1 {
		t.Errorf("expected 1 compensation, got %v", got)
	}
	if got := counterValue(t, metrics.deadLettered); got != 1 {
		t.Errorf("expected 1 dead letter, got %v", got)
	}
}

func TestDispatchMetrics_RecordReconciledByResolution(t *testing.T) {
	metrics := newDispatchMetricsWithRegisterer(prometheus.NewRegistry())

	metrics.RecordReconciled("auto restored")
	metrics.RecordReconciled("auto restored")
	metrics.RecordReconciled("provider says succeeded")

	if got := counterValue(t, metrics.reconciled.WithLabelValues("auto restored")); got != 2 {
		t.Errorf("expected 2 auto restored, got %v", got)
	}
	if got := counterValue(t, metrics.reconciled.WithLabelValues("provider says succeeded")); got != 1 {
		t.Errorf("expected 1 provider resolution, got %v", got)
	}
}

func TestDispatchMetrics_SetBacklog(t *testing.T) {
	metrics := newDispatchMetricsWithRegisterer(prometheus.NewRegistry())

	metrics.SetBacklog(7, 3)

	if got := gaugeValue(t, metrics.pendingEvents); got != 7 {
		t.Errorf("expected 7 pending, got %v", got)
	}
	if got := gaugeValue(t, metrics.deadLetterUnresolved); got != 3 {
		t.Errorf("expected 3 unresolved, got %v", got)
	}
}

func TestDispatchMetrics_DuplicateRegistrationReusesCollectors(t *testing.T) {
	registry := prometheus.NewRegistry()

	first := newDispatchMetricsWithRegisterer(registry)
	second := newDispatchMetricsWithRegisterer(registry)

	first.RecordDispatchSucceeded()
	second.RecordDispatchSucceeded()

	if got := counterValue(t, first.dispatchSucceeded); got != 2 {
		t.Fatalf("expected shared counter with value 2, got %v", got)
	}
}
