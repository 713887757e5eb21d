package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func gatheredNames(t *testing.T) map[string]bool {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("Gather() error: %v", err)
	}
	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	return names
}

func TestRequestPathMetrics(t *testing.T) {
	RequestRate.WithLabelValues("caffe:resnet50:1:224x224").Set(12.5)
	DropRate.WithLabelValues("caffe:resnet50:1:224x224").Set(0.2)
	RepliesTotal.WithLabelValues("caffe:resnet50:1:224x224", "OK").Inc()
	RelaysTotal.WithLabelValues("relayed").Inc()

	names := gatheredNames(t)
	for _, want := range []string{
		"nexusbackend_session_request_rate",
		"nexusbackend_session_drop_rate",
		"nexusbackend_replies_total",
		"nexusbackend_relays_total",
	} {
		if !names[want] {
			t.Errorf("metric %q not found", want)
		}
	}
}

func TestGPUDriverMetrics(t *testing.T) {
	DutyCycleUtilization.Set(0.87)
	ForwardLatency.WithLabelValues("caffe:resnet50:1:224x224").Observe(0.03)
	ResidentModels.Set(3)

	names := gatheredNames(t)
	for _, want := range []string{
		"nexusbackend_gpu_duty_cycle_utilization",
		"nexusbackend_forward_latency_seconds",
		"nexusbackend_resident_models",
	} {
		if !names[want] {
			t.Errorf("metric %q not found", want)
		}
	}
}

func TestReconciliationMetrics(t *testing.T) {
	ReconciliationDuration.Observe(0.012)
	ReconciliationErrors.Inc()

	names := gatheredNames(t)
	for _, want := range []string{
		"nexusbackend_reconciliation_duration_seconds",
		"nexusbackend_reconciliation_errors_total",
	} {
		if !names[want] {
			t.Errorf("metric %q not found", want)
		}
	}
}

func TestBackupPoolMetrics(t *testing.T) {
	CircuitBreakerState.WithLabelValues("node-1").Set(0)
	BackupOccupancy.WithLabelValues("node-1").Set(0.42)

	names := gatheredNames(t)
	for _, want := range []string{
		"nexusbackend_backup_circuit_breaker_state",
		"nexusbackend_backup_occupancy",
	} {
		if !names[want] {
			t.Errorf("metric %q not found", want)
		}
	}
}

func TestControlPlaneMetrics(t *testing.T) {
	HeartbeatErrors.Inc()
	RegistrationConflicts.Inc()

	names := gatheredNames(t)
	for _, want := range []string{
		"nexusbackend_heartbeat_errors_total",
		"nexusbackend_registration_conflicts_total",
	} {
		if !names[want] {
			t.Errorf("metric %q not found", want)
		}
	}
}

func TestAllMetricsGatherable(t *testing.T) {
	names := gatheredNames(t)

	count := 0
	for name := range names {
		if len(name) > len("nexusbackend_") && name[:len("nexusbackend_")] == "nexusbackend_" {
			count++
		}
	}
	if count < 10 {
		t.Errorf("expected at least 10 nexusbackend_ metrics, got %d", count)
	}
}
