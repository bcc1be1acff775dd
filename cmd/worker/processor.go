package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-lambda-go/events"
	glog "github.com/goliatone/go-logger/glog"

	"github.com/imrishuroy/go-incident-snowsync/internal/apperrors"
	"github.com/imrishuroy/go-incident-snowsync/internal/aws"
	"github.com/imrishuroy/go-incident-snowsync/internal/incidentio"
	"github.com/imrishuroy/go-incident-snowsync/internal/logging"
	"github.com/imrishuroy/go-incident-snowsync/internal/syncer"
)

// Processor replays syncs that failed on the webhook path.
type Processor struct {
	forward    forwardReplayer
	reverse    reverseReplayer
	budget     replayBudget
	maxReplays int
	logger     glog.Logger
}

// NewProcessor builds a Processor. budget may be nil, in which case replays
// are unbounded and the queue's redrive policy is the only cap.
func NewProcessor(forward forwardReplayer, reverse reverseReplayer, budget replayBudget, maxReplays int, logger glog.Logger) *Processor {
	return &Processor{
		forward:    forward,
		reverse:    reverse,
		budget:     budget,
		maxReplays: maxReplays,
		logger:     logging.OrNop(logger),
	}
}

// Handle receives an SQS batch event and replays each message.
func (p *Processor) Handle(ctx context.Context, ev events.SQSEvent) error {
	p.logger.Debug("retry batch received", "records", len(ev.Records))
	for _, rec := range ev.Records {
		if err := p.processMessage(ctx, rec); err != nil {
			// Lambda redelivers the batch; exhausted messages land in the DLQ.
			p.logger.WithContext(ctx).Error("retry replay failed", "message_id", rec.MessageId, "error", err)
			return err
		}
	}
	return nil
}

func (p *Processor) processMessage(ctx context.Context, rec events.SQSMessage) error {
	var msg aws.RetryMessage
	if err := json.Unmarshal([]byte(rec.Body), &msg); err != nil {
		return fmt.Errorf("invalid message body: %w", err)
	}
	if msg.ID == "" {
		return fmt.Errorf("retry message %s has no record id", rec.MessageId)
	}
	if msg.CorrelationID != "" {
		ctx = logging.ContextWithCorrelationID(ctx, msg.CorrelationID)
	}
	logger := p.logger.WithContext(ctx)

	if p.budget != nil && p.maxReplays > 0 {
		ok, err := p.budget.ClaimRetry(ctx, msg.Direction, msg.ID, p.maxReplays)
		if err != nil {
			return fmt.Errorf("claim replay for %s %s: %w", msg.Direction, msg.ID, err)
		}
		if !ok {
			logger.Warn("replay budget exhausted, dropping", "direction", msg.Direction, "id", msg.ID, "max_replays", p.maxReplays)
			return nil
		}
	}

	out, err := p.replay(ctx, msg)
	if err != nil {
		if apperrors.TextCode(err) == apperrors.TextRequiredMissing {
			// Replaying cannot produce a required field the source lacks.
			logger.Warn("replay dropped, required fields missing", "direction", msg.Direction, "id", msg.ID, "error", err)
			return nil
		}
		return err
	}
	logger.Info("replay finished",
		"direction", msg.Direction,
		"id", msg.ID,
		"kind", msg.Kind,
		"action", out.Action,
		"reason", out.Reason,
		"counterpart", out.Counterpart,
	)
	return nil
}

func (p *Processor) replay(ctx context.Context, msg aws.RetryMessage) (syncer.Outcome, error) {
	switch syncer.Direction(msg.Direction) {
	case syncer.DirectionForward:
		switch incidentio.EventKind(msg.Kind) {
		case incidentio.EventCreated:
			return p.forward.Create(ctx, msg.ID)
		case incidentio.EventUpdated, incidentio.EventStatusUpdated:
			return p.forward.Update(ctx, msg.ID)
		default:
			return p.forward.Sync(ctx, msg.ID)
		}
	case syncer.DirectionReverse:
		return p.reverse.SyncRecord(ctx, msg.ID)
	default:
		return syncer.Outcome{}, fmt.Errorf("unknown retry direction %q", msg.Direction)
	}
}
