package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/go-incident-snowsync/internal/idempotency"
	"github.com/imrishuroy/go-incident-snowsync/internal/syncer"
)

// claimDelivery claims a webhook delivery before the sync runs. proceed is
// false when a response has already been written: the delivery finished
// earlier or another invocation holds it. tracked reports whether the
// delivery must be finished afterwards. A tracker outage never blocks a sync.
func (h *handler) claimDelivery(c *gin.Context, deliveryID, recordID, eventType string) (tracked, proceed bool) {
	if h.cfg.Deliveries == nil || deliveryID == "" {
		return false, true
	}
	ctx := c.Request.Context()
	logger := h.logger.WithContext(ctx)

	created, err := h.cfg.Deliveries.CreateIfNotExists(ctx, deliveryID, recordID, eventType)
	if err != nil {
		logger.Warn("delivery claim failed, syncing without dedupe", "delivery_id", deliveryID, "error", err)
		return false, true
	}
	if created {
		return true, true
	}

	rec, err := h.cfg.Deliveries.Get(ctx, deliveryID)
	if err != nil || rec == nil {
		// Expired between the claim and the read.
		return false, true
	}
	if rec.Status == idempotency.StatusDone {
		logger.Info("duplicate delivery dropped", "delivery_id", deliveryID, "id", recordID, "outcome", rec.Outcome)
		c.JSON(http.StatusOK, gin.H{"status": "duplicate", "delivery_id": deliveryID, "outcome": rec.Outcome})
		return false, false
	}
	logger.Info("delivery already in progress", "delivery_id", deliveryID, "id", recordID)
	c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "delivery_in_progress", "delivery_id": deliveryID})
	return false, false
}

func (h *handler) finishDelivery(ctx context.Context, deliveryID string, out syncer.Outcome, cause error) {
	var err error
	if cause != nil {
		err = h.cfg.Deliveries.MarkFailed(ctx, deliveryID, cause.Error())
	} else {
		err = h.cfg.Deliveries.MarkDone(ctx, deliveryID, string(out.Action))
	}
	if err != nil {
		h.logger.WithContext(ctx).Warn("delivery state not recorded", "delivery_id", deliveryID, "error", err)
	}
}
