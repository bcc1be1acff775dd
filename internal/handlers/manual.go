package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/imrishuroy/go-incident-snowsync/internal/apperrors"
	"github.com/imrishuroy/go-incident-snowsync/internal/syncer"
	"github.com/imrishuroy/go-incident-snowsync/internal/validation"
)

func (h *handler) syncForward(c *gin.Context) {
	var target validation.SyncTarget
	if err := validation.BindURIAndValidate(c, &target, h.cfg.Validator); err != nil {
		return
	}
	out, err := h.cfg.Forward.Sync(c.Request.Context(), target.ID)
	if err != nil {
		h.respondSyncError(c, err, nil)
		return
	}
	h.respondOutcome(c, out)
}

func (h *handler) syncReverse(c *gin.Context) {
	var target validation.SyncTarget
	if err := validation.BindURIAndValidate(c, &target, h.cfg.Validator); err != nil {
		return
	}
	out, err := h.cfg.Reverse.SyncRecord(c.Request.Context(), target.ID)
	if err != nil {
		h.respondSyncError(c, err, nil)
		return
	}
	h.respondOutcome(c, out)
}

// bulk starts a bulk run. By default it runs detached and answers 202 with
// the run id; ?wait=true runs it inline and returns the summary.
func (h *handler) bulk(direction syncer.Direction) gin.HandlerFunc {
	run := h.cfg.Forward.Bulk
	if direction == syncer.DirectionReverse {
		run = h.cfg.Reverse.Bulk
	}
	return func(c *gin.Context) {
		var opts syncer.BulkOptions
		if err := validation.BindAndValidate(c, &opts, h.cfg.Validator, true); err != nil {
			return
		}
		runID := uuid.NewString()
		ctx := syncer.ContextWithRunID(c.Request.Context(), runID)

		if c.Query("wait") == "true" {
			summary, err := run(ctx, opts)
			if err != nil {
				h.respondSyncError(c, err, gin.H{"summary": summary})
				return
			}
			c.JSON(http.StatusOK, summary)
			return
		}

		ctx = context.WithoutCancel(ctx)
		go func() {
			logger := h.logger.WithContext(ctx)
			summary, err := run(ctx, opts)
			if err != nil {
				logger.Error("bulk run stopped", "direction", direction, "run_id", runID, "error", err)
				return
			}
			logger.Info("bulk run finished",
				"direction", direction,
				"run_id", runID,
				"total", summary.Total,
				"successful", summary.Successful,
				"failed", summary.Failed,
				"skipped", summary.Skipped,
			)
		}()
		c.JSON(http.StatusAccepted, gin.H{"status": "started", "run_id": runID, "direction": direction})
	}
}

func (h *handler) ledgerEntry(c *gin.Context) {
	var q validation.LedgerQuery
	if err := validation.BindURIAndValidate(c, &q, h.cfg.Validator); err != nil {
		return
	}
	if h.cfg.Ledger == nil {
		h.respondError(c, apperrors.NotFound("sync ledger is not configured", nil))
		return
	}
	entry, err := h.cfg.Ledger.Get(c.Request.Context(), q.Direction, q.ID)
	if err != nil {
		h.respondError(c, apperrors.Internal(err, "read sync ledger"))
		return
	}
	if entry == nil {
		h.respondError(c, apperrors.NotFound("no ledger entry", map[string]any{"direction": q.Direction, "id": q.ID}))
		return
	}
	c.JSON(http.StatusOK, entry)
}
