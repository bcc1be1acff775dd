package syncer

import (
	"context"
	"fmt"
	"sync"
	"time"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultBatchSize         = 10
	DefaultConcurrency       = 5
	DefaultRequestsPerMinute = 60
)

// BulkOptions controls a bulk run. Zero values fall back to the defaults.
type BulkOptions struct {
	BatchSize         int `json:"batch_size" validate:"omitempty,min=1,max=500"`
	Concurrency       int `json:"concurrency" validate:"omitempty,min=1,max=50"`
	RequestsPerMinute int `json:"requests_per_minute" validate:"omitempty,min=1"`
	// Limit caps the number of records fetched; 0 means all.
	Limit int `json:"limit" validate:"omitempty,min=1"`
}

func (o BulkOptions) withDefaults() BulkOptions {
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.Concurrency <= 0 {
		o.Concurrency = DefaultConcurrency
	}
	if o.RequestsPerMinute <= 0 {
		o.RequestsPerMinute = DefaultRequestsPerMinute
	}
	return o
}

// BatchDelay is the pause between batches that keeps a run within the
// requests-per-minute budget.
func (o BulkOptions) BatchDelay() time.Duration {
	o = o.withDefaults()
	return time.Duration(o.BatchSize) * time.Minute / time.Duration(o.RequestsPerMinute)
}

type RecordError struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

// Summary aggregates a bulk run. One record failing never stops the run.
type Summary struct {
	RunID      string        `json:"run_id"`
	Direction  Direction     `json:"direction"`
	Total      int           `json:"total"`
	Successful int           `json:"successful"`
	Failed     int           `json:"failed"`
	Skipped    int           `json:"skipped"`
	Batches    int           `json:"batches"`
	Errors     []RecordError `json:"errors"`
}

type syncFunc func(ctx context.Context, id string) (Outcome, error)

type bulkRunner struct {
	direction Direction
	sleep     func(ctx context.Context, d time.Duration) error
	logger    glog.Logger
}

func (b bulkRunner) run(ctx context.Context, ids []string, opts BulkOptions, fn syncFunc) (Summary, error) {
	opts = opts.withDefaults()
	runID := RunID(ctx)
	if runID == "" {
		runID = uuid.NewString()
		ctx = ContextWithRunID(ctx, runID)
	}

	summary := Summary{RunID: runID, Direction: b.direction, Total: len(ids), Errors: []RecordError{}}
	var mu sync.Mutex
	delay := opts.BatchDelay()

	for start := 0; start < len(ids); start += opts.BatchSize {
		if start > 0 {
			if err := b.sleep(ctx, delay); err != nil {
				return summary, fmt.Errorf("bulk %s run interrupted: %w", b.direction, err)
			}
		}
		end := min(start+opts.BatchSize, len(ids))
		batch := ids[start:end]
		summary.Batches++

		var g errgroup.Group
		g.SetLimit(opts.Concurrency)
		for _, id := range batch {
			g.Go(func() error {
				out, err := fn(ctx, id)
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err != nil:
					summary.Failed++
					summary.Errors = append(summary.Errors, RecordError{ID: id, Error: err.Error()})
				case out.Action == ActionSkipped:
					summary.Skipped++
				default:
					summary.Successful++
				}
				return nil
			})
		}
		_ = g.Wait()

		b.logger.Info("bulk batch finished",
			"direction", b.direction,
			"run_id", runID,
			"batch", summary.Batches,
			"processed", end,
			"total", len(ids),
			"failed", summary.Failed,
		)
	}
	return summary, nil
}

// Bulk syncs every incident returned by the incident platform, page by page.
func (f *Forward) Bulk(ctx context.Context, opts BulkOptions) (Summary, error) {
	opts = opts.withDefaults()
	var ids []string
	after := ""
	for {
		page, err := f.deps.Incidents.ListIncidents(ctx, opts.BatchSize, after)
		if err != nil {
			return Summary{Direction: DirectionForward}, fmt.Errorf("list incidents: %w", err)
		}
		for _, inc := range page.Incidents {
			ids = append(ids, inc.ID)
		}
		if page.After == "" || page.After == after || limitReached(ids, opts.Limit) {
			break
		}
		after = page.After
	}
	if opts.Limit > 0 && len(ids) > opts.Limit {
		ids = ids[:opts.Limit]
	}
	runner := bulkRunner{direction: DirectionForward, sleep: f.deps.Sleep, logger: f.deps.Logger}
	return runner.run(ctx, ids, opts, f.Sync)
}

// Bulk re-syncs every ServiceNow incident that carries a correlation id.
func (r *Reverse) Bulk(ctx context.Context, opts BulkOptions) (Summary, error) {
	opts = opts.withDefaults()
	var ids []string
	for offset := 0; ; offset += opts.BatchSize {
		records, err := r.deps.ServiceNow.ListLinked(ctx, opts.BatchSize, offset)
		if err != nil {
			return Summary{Direction: DirectionReverse}, fmt.Errorf("list servicenow records: %w", err)
		}
		for _, rec := range records {
			ids = append(ids, rec.SysID())
		}
		if len(records) < opts.BatchSize || limitReached(ids, opts.Limit) {
			break
		}
	}
	if opts.Limit > 0 && len(ids) > opts.Limit {
		ids = ids[:opts.Limit]
	}
	runner := bulkRunner{direction: DirectionReverse, sleep: r.deps.Sleep, logger: r.deps.Logger}
	return runner.run(ctx, ids, opts, r.SyncRecord)
}

func limitReached(ids []string, limit int) bool {
	return limit > 0 && len(ids) >= limit
}
