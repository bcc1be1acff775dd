package syncer

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/go-incident-snowsync/internal/servicenow"
)

func TestForwardBulk_BatchesAndCollectsErrors(t *testing.T) {
	h := newHarness(t)
	for i := 1; i <= 25; i++ {
		h.incidents.add(sampleIncident(fmt.Sprintf("inc-%02d", i)))
	}
	h.incidents.failGet["inc-07"] = true
	h.incidents.failGet["inc-23"] = true

	summary, err := h.forward.Bulk(context.Background(), BulkOptions{BatchSize: 10, Concurrency: 5, RequestsPerMinute: 60})
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Batches)
	assert.Equal(t, 25, summary.Total)
	assert.Equal(t, 23, summary.Successful)
	assert.Equal(t, 2, summary.Failed)
	assert.Equal(t, 0, summary.Skipped)
	assert.ElementsMatch(t, []string{"inc-07", "inc-23"}, []string{summary.Errors[0].ID, summary.Errors[1].ID})
	assert.NotEmpty(t, summary.RunID)
	assert.Equal(t, DirectionForward, summary.Direction)

	assert.Equal(t, []time.Duration{10 * time.Second, 10 * time.Second}, h.sleeps)
	assert.Equal(t, 23, h.snow.creates)

	require.Len(t, h.reporter.outcomes, 25)
	for _, o := range h.reporter.outcomes {
		assert.Equal(t, summary.RunID, o.RunID)
	}
}

func TestForwardBulk_BoundsInFlightRecords(t *testing.T) {
	h := newHarness(t)
	for i := 1; i <= 20; i++ {
		h.incidents.add(sampleIncident(fmt.Sprintf("inc-%02d", i)))
	}
	h.incidents.getDelay = 5 * time.Millisecond

	summary, err := h.forward.Bulk(context.Background(), BulkOptions{BatchSize: 10, Concurrency: 3})
	require.NoError(t, err)
	assert.Equal(t, 20, summary.Successful)
	assert.Positive(t, h.incidents.maxInFlight)
	assert.LessOrEqual(t, h.incidents.maxInFlight, 3)
}

func TestForwardBulk_Limit(t *testing.T) {
	h := newHarness(t)
	for i := 1; i <= 12; i++ {
		h.incidents.add(sampleIncident(fmt.Sprintf("inc-%02d", i)))
	}

	summary, err := h.forward.Bulk(context.Background(), BulkOptions{BatchSize: 5, Limit: 7})
	require.NoError(t, err)
	assert.Equal(t, 7, summary.Total)
	assert.Equal(t, 2, summary.Batches)
}

func TestReverseBulk_CountsSkips(t *testing.T) {
	h := newHarness(t)
	for i := 1; i <= 4; i++ {
		rec := linkedRecord()
		rec["sys_id"] = fmt.Sprintf("sys-%d", i)
		rec["correlation_id"] = fmt.Sprintf("inc-%d", i)
		h.snow.put(rec)
	}
	h.snow.put(servicenow.Record{"sys_id": "sys-5", "correlation_id": "inc-5"})

	summary, err := h.reverse.Bulk(context.Background(), BulkOptions{BatchSize: 2, Concurrency: 2, RequestsPerMinute: 120})
	require.NoError(t, err)
	assert.Equal(t, 5, summary.Total)
	assert.Equal(t, 3, summary.Batches)
	assert.Equal(t, 4, summary.Successful)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, []time.Duration{time.Second, time.Second}, h.sleeps)
}

func TestBulk_SleepErrorStopsRun(t *testing.T) {
	h := newHarness(t)
	for i := 1; i <= 3; i++ {
		h.incidents.add(sampleIncident(fmt.Sprintf("inc-%d", i)))
	}
	h.forward.deps.Sleep = func(ctx context.Context, d time.Duration) error { return context.Canceled }

	summary, err := h.forward.Bulk(context.Background(), BulkOptions{BatchSize: 1})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, summary.Batches)
}

func TestBatchDelay(t *testing.T) {
	assert.Equal(t, 10*time.Second, BulkOptions{}.BatchDelay())
	assert.Equal(t, 5*time.Second, BulkOptions{BatchSize: 10, RequestsPerMinute: 120}.BatchDelay())
}
