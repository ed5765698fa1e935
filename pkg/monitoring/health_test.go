package monitoring

import (
	"errors"
	"testing"
)

func TestCheckHealthAggregation(t *testing.T) {
	hc := NewHealthChecker("bsky-multitool", "test")
	hc.AddCheck("ok", func() CheckResult { return CheckResult{Status: StatusHealthy} })

	status := hc.CheckHealth()
	if status.Status != StatusHealthy {
		t.Fatalf("expected healthy, got %s", status.Status)
	}

	hc.AddCheck("slow", func() CheckResult { return CheckResult{Status: StatusDegraded} })
	if got := hc.CheckHealth().Status; got != StatusDegraded {
		t.Fatalf("expected degraded, got %s", got)
	}

	hc.AddCheck("down", func() CheckResult { return CheckResult{Status: StatusUnhealthy} })
	if got := hc.CheckHealth().Status; got != StatusUnhealthy {
		t.Fatalf("expected unhealthy, got %s", got)
	}
}

func TestPingHealthCheck(t *testing.T) {
	ok := PingHealthCheck("session", func() error { return nil })()
	if ok.Status != StatusHealthy {
		t.Fatalf("expected healthy, got %s", ok.Status)
	}

	bad := PingHealthCheck("session", func() error { return errors.New("expired") })()
	if bad.Status != StatusUnhealthy {
		t.Fatalf("expected unhealthy, got %s", bad.Status)
	}
	if bad.Message == "" {
		t.Fatalf("expected failure message")
	}
}

func TestCreatePipelineMetrics(t *testing.T) {
	mc := NewMetricsCollector("bsky-multitool", "test", "none")
	pm := mc.CreatePipelineMetrics()
	if pm.RecordsClassified == nil || pm.BatchesFlushed == nil {
		t.Fatalf("expected metrics to be registered")
	}
	pm.RecordsClassified.WithLabelValues("post").Inc()
	pm.FramesDropped.WithLabelValues("decode").Inc()
}
