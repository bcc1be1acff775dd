package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/go-incident-snowsync/internal/apperrors"
	"github.com/imrishuroy/go-incident-snowsync/internal/aws"
	"github.com/imrishuroy/go-incident-snowsync/internal/incidentio"
	"github.com/imrishuroy/go-incident-snowsync/internal/syncer"
	"github.com/imrishuroy/go-incident-snowsync/internal/validation"
)

// incidentWebhook handles incident platform events. The payload only
// identifies the incident; the engine re-fetches it.
func (h *handler) incidentWebhook(c *gin.Context) {
	ctx := c.Request.Context()
	logger := h.logger.WithContext(ctx)

	body, err := c.GetRawData()
	if err != nil {
		h.respondError(c, apperrors.BadInput("read body: "+err.Error(), nil))
		return
	}

	if h.cfg.WebhookSecret != "" {
		err := verifySignature(h.cfg.WebhookSecret,
			c.GetHeader(headerWebhookID),
			c.GetHeader(headerWebhookTimestamp),
			c.GetHeader(headerWebhookSignature),
			body, h.now())
		if err != nil {
			logger.Warn("incident webhook rejected", "error", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_signature"})
			return
		}
	}

	var env incidentio.WebhookEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		h.respondError(c, apperrors.BadInput("invalid webhook body: "+err.Error(), nil))
		return
	}

	kind := env.Kind()
	if kind == incidentio.EventUnknown {
		logger.Info("incident webhook ignored", "event_type", env.EventType)
		c.JSON(http.StatusOK, gin.H{"status": "ignored", "event_type": env.EventType})
		return
	}
	id := env.IncidentID()
	if id == "" {
		h.respondError(c, apperrors.BadInput("webhook carries no incident id", map[string]any{"event_type": env.EventType}))
		return
	}

	run := h.cfg.Forward.Update
	retryKind := string(incidentio.EventUpdated)
	if kind == incidentio.EventCreated {
		run = h.cfg.Forward.Create
		retryKind = string(incidentio.EventCreated)
	}

	deliveryID := c.GetHeader(headerWebhookID)
	tracked, proceed := h.claimDelivery(c, deliveryID, id, env.EventType)
	if !proceed {
		return
	}

	out, err := run(ctx, id)
	if tracked {
		h.finishDelivery(ctx, deliveryID, out, err)
	}
	if err != nil {
		queued := h.enqueueRetry(ctx, aws.RetryMessage{Direction: string(syncer.DirectionForward), ID: id, Kind: retryKind}, err)
		h.respondSyncError(c, err, gin.H{"retry_enqueued": queued})
		return
	}
	h.respondOutcome(c, out)
}

// servicenowWebhook handles the business-rule notification for incident updates.
func (h *handler) servicenowWebhook(c *gin.Context) {
	ctx := c.Request.Context()

	var n syncer.Notification
	if err := validation.BindAndValidate(c, &n, h.cfg.Validator, false); err != nil {
		return
	}

	out, err := h.cfg.Reverse.Handle(ctx, n)
	if err != nil {
		queued := h.enqueueRetry(ctx, aws.RetryMessage{Direction: string(syncer.DirectionReverse), ID: n.RecordID}, err)
		h.respondSyncError(c, err, gin.H{"retry_enqueued": queued})
		return
	}
	if out.Reason == syncer.ReasonIgnoredEvent {
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}
	h.respondOutcome(c, out)
}
