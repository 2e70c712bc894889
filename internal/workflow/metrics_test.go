package workflow

import (
	"context"
	"errors"
	"testing"

	"github.com/example/pii-mask/internal/maskservice"
)

func TestMetricsCountSettledAttempts(t *testing.T) {
	metrics := &Metrics{}
	client := &stubClient{result: &maskservice.Result{Data: []byte("x")}}
	c, _ := newTestController(client, Options{Metrics: metrics})
	ctx := context.Background()

	c.SelectFile(ctx, validImage())
	c.Submit(ctx)

	client.mu.Lock()
	client.result, client.err = nil, errors.New("boom")
	client.mu.Unlock()
	c.Submit(ctx)

	// validation failures never reach the service
	c.Reset(ctx)
	c.Submit(ctx)

	summary := metrics.Summary()
	if summary.TotalAttempts != 2 || summary.SuccessfulAttempts != 1 || summary.FailedAttempts != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if summary.SuccessRate != 0.5 {
		t.Fatalf("unexpected success rate: %v", summary.SuccessRate)
	}
}

func TestMetricsCountDiscardedResponses(t *testing.T) {
	metrics := &Metrics{}
	client := &stubClient{
		result:  &maskservice.Result{Data: []byte("x")},
		gate:    make(chan struct{}),
		started: make(chan struct{}, 1),
	}
	c, _ := newTestController(client, Options{Metrics: metrics})
	ctx := context.Background()

	c.SelectFile(ctx, validImage())
	_, done := c.Start(ctx)
	<-client.started
	c.Reset(ctx)
	close(client.gate)
	<-done

	summary := metrics.Summary()
	if summary.DiscardedResponses != 1 || summary.SuccessfulAttempts != 0 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var metrics *Metrics
	metrics.record(StatusSucceeded, false, 0)
	if got := metrics.Summary(); got != (MetricsSummary{}) {
		t.Fatalf("expected empty summary, got %+v", got)
	}
}
