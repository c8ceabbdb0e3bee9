package perf

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	jobmetrics "github.com/odyssey-erp/odyssey-access/internal/jobs"
	"github.com/odyssey-erp/odyssey-access/jobs"
)

func TestInvalidationJobThroughputAndReliability(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(reg)
	stub := &countingInvalidator{}
	job := jobs.NewInvalidationJob(stub, nil, metrics)
	ctx := context.Background()

	for i := int64(1); i <= 60; i++ {
		task, err := jobs.NewInvalidateUserTask(i)
		if err != nil {
			t.Fatalf("build task: %v", err)
		}
		if err := job.HandleUser(ctx, task); err != nil {
			t.Fatalf("unexpected error handling user invalidation: %v", err)
		}
	}

	// A couple of broadcast failures must surface as failed runs.
	stub.fail = errors.New("publish timeout")
	for i := int64(1); i <= 3; i++ {
		task, err := jobs.NewInvalidateRoleTask(i)
		if err != nil {
			t.Fatalf("build task: %v", err)
		}
		if err := job.HandleRole(ctx, task); err == nil {
			t.Fatal("expected error to propagate")
		}
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	success := metricValue(t, families, "odyssey_jobs_total", map[string]string{"job": jobs.TaskAccessInvalidateUser, "status": "success"})
	if success != 60 {
		t.Fatalf("expected 60 successful user invalidations, got %f", success)
	}
	failure := metricValue(t, families, "odyssey_jobs_total", map[string]string{"job": jobs.TaskAccessInvalidateRole, "status": "failure"})
	if failure != 3 {
		t.Fatalf("expected 3 failed role invalidations, got %f", failure)
	}
	applied := metricValue(t, families, "odyssey_access_job_invalidations_total", map[string]string{"scope": "user"})
	if applied != 60 {
		t.Fatalf("expected 60 applied invalidations, got %f", applied)
	}

	mean := histogramMean(t, families, "odyssey_job_duration_seconds", map[string]string{"job": jobs.TaskAccessInvalidateUser})
	if mean > 0.05 {
		t.Fatalf("user invalidation duration above budget: %f", mean)
	}
}

type countingInvalidator struct {
	users int
	fail  error
}

func (c *countingInvalidator) Invalidate(ctx context.Context, userID int64) error {
	c.users++
	return c.fail
}

func (c *countingInvalidator) InvalidateRole(ctx context.Context, roleID int64) error {
	return c.fail
}

func (c *countingInvalidator) InvalidateAll(ctx context.Context) error {
	return c.fail
}

func metricValue(t *testing.T, families []*dto.MetricFamily, name string, labels map[string]string) float64 {
	t.Helper()
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, metric := range fam.GetMetric() {
			if hasLabels(metric, labels) {
				if fam.GetType() == dto.MetricType_COUNTER {
					return metric.GetCounter().GetValue()
				}
				if fam.GetType() == dto.MetricType_GAUGE {
					return metric.GetGauge().GetValue()
				}
			}
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

func histogramMean(t *testing.T, families []*dto.MetricFamily, name string, labels map[string]string) float64 {
	t.Helper()
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, metric := range fam.GetMetric() {
			if hasLabels(metric, labels) {
				hist := metric.GetHistogram()
				if hist == nil || hist.GetSampleCount() == 0 {
					t.Fatalf("histogram %s missing samples", name)
				}
				return hist.GetSampleSum() / float64(hist.GetSampleCount())
			}
		}
	}
	t.Fatalf("histogram %s with labels %v not found", name, labels)
	return 0
}

func hasLabels(metric *dto.Metric, labels map[string]string) bool {
	for _, lp := range metric.GetLabel() {
		if val, ok := labels[lp.GetName()]; ok {
			if lp.GetValue() != val {
				return false
			}
		}
	}
	for key := range labels {
		found := false
		for _, lp := range metric.GetLabel() {
			if lp.GetName() == key {
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
