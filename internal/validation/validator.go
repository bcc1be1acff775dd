package validation

import (
	"fmt"

	validatorv10 "github.com/go-playground/validator/v10"

	"github.com/imrishuroy/go-incident-snowsync/internal/syncer"
)

// New returns a configured validator with custom struct-level validation registered.
func New() *validatorv10.Validate {
	v := validatorv10.New()

	// a bulk run never needs more workers than records in a batch
	v.RegisterStructValidation(bulkOptionsStructValidation, syncer.BulkOptions{})

	return v
}

func bulkOptionsStructValidation(sl validatorv10.StructLevel) {
	opts := sl.Current().Interface().(syncer.BulkOptions)

	batch := opts.BatchSize
	if batch == 0 {
		batch = syncer.DefaultBatchSize
	}
	if opts.Concurrency > batch {
		sl.ReportError(opts.Concurrency, "concurrency", "Concurrency", "concurrency_within_batch",
			fmt.Sprintf("concurrency %d > batch size %d", opts.Concurrency, batch))
	}
}
