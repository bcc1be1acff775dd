package main

import (
	"context"

	"github.com/imrishuroy/go-incident-snowsync/internal/syncer"
)

// forwardReplayer re-runs a forward sync for one incident.
type forwardReplayer interface {
	Create(ctx context.Context, incidentID string) (syncer.Outcome, error)
	Update(ctx context.Context, incidentID string) (syncer.Outcome, error)
	Sync(ctx context.Context, incidentID string) (syncer.Outcome, error)
}

// reverseReplayer re-runs a reverse sync for one ServiceNow record.
type reverseReplayer interface {
	SyncRecord(ctx context.Context, sysID string) (syncer.Outcome, error)
}

// replayBudget caps how often one record may be replayed.
type replayBudget interface {
	ClaimRetry(ctx context.Context, direction, id string, maxRetries int) (bool, error)
}
