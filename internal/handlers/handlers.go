// Package handlers exposes the webhook receivers and the manual sync routes.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"
	glog "github.com/goliatone/go-logger/glog"
	"github.com/google/uuid"

	"github.com/imrishuroy/go-incident-snowsync/internal/apperrors"
	"github.com/imrishuroy/go-incident-snowsync/internal/aws"
	"github.com/imrishuroy/go-incident-snowsync/internal/idempotency"
	"github.com/imrishuroy/go-incident-snowsync/internal/ledger"
	"github.com/imrishuroy/go-incident-snowsync/internal/logging"
	"github.com/imrishuroy/go-incident-snowsync/internal/syncer"
	"github.com/imrishuroy/go-incident-snowsync/internal/validation"
)

const headerRequestID = "X-Request-Id"

// Forwarder is the forward engine as seen by the HTTP layer.
type Forwarder interface {
	Create(ctx context.Context, incidentID string) (syncer.Outcome, error)
	Update(ctx context.Context, incidentID string) (syncer.Outcome, error)
	Sync(ctx context.Context, incidentID string) (syncer.Outcome, error)
	Bulk(ctx context.Context, opts syncer.BulkOptions) (syncer.Summary, error)
}

// Reverser is the reverse engine as seen by the HTTP layer.
type Reverser interface {
	Handle(ctx context.Context, n syncer.Notification) (syncer.Outcome, error)
	SyncRecord(ctx context.Context, sysID string) (syncer.Outcome, error)
	Bulk(ctx context.Context, opts syncer.BulkOptions) (syncer.Summary, error)
}

// RetryPublisher enqueues failed single-record syncs for the worker.
type RetryPublisher interface {
	PublishRetry(ctx context.Context, msg aws.RetryMessage) error
}

// LedgerReader serves the manual ledger lookup.
type LedgerReader interface {
	Get(ctx context.Context, direction, id string) (*ledger.Entry, error)
}

// DeliveryTracker deduplicates incident webhook deliveries by delivery id.
type DeliveryTracker interface {
	CreateIfNotExists(ctx context.Context, deliveryID, recordID, eventType string) (bool, error)
	Get(ctx context.Context, deliveryID string) (*idempotency.DeliveryRecord, error)
	MarkDone(ctx context.Context, deliveryID, outcome string) error
	MarkFailed(ctx context.Context, deliveryID, note string) error
}

// HandlerConfig groups dependencies for the routes. Retry, Ledger and
// Deliveries are optional.
type HandlerConfig struct {
	Forward           Forwarder
	Reverse           Reverser
	Retry             RetryPublisher
	Ledger            LedgerReader
	Deliveries        DeliveryTracker
	Validator         *validatorv10.Validate
	WebhookSecret     string
	ManualSyncEnabled bool
	Logger            glog.Logger
	NowFunc           func() time.Time
}

type handler struct {
	cfg    HandlerConfig
	logger glog.Logger
	now    func() time.Time
}

// RegisterRoutes registers the webhook routes and, when enabled, the manual
// sync routes.
func RegisterRoutes(r *gin.Engine, cfg HandlerConfig) {
	if cfg.Validator == nil {
		cfg.Validator = validation.New()
	}
	h := &handler{cfg: cfg, logger: logging.OrNop(cfg.Logger), now: cfg.NowFunc}
	if h.now == nil {
		h.now = time.Now
	}

	r.Use(CorrelationID())

	webhooks := r.Group("/webhooks")
	webhooks.POST("/incident", h.incidentWebhook)
	webhooks.POST("/servicenow", h.servicenowWebhook)

	if !cfg.ManualSyncEnabled {
		return
	}
	manual := r.Group("/sync")
	manual.POST("/forward/:id", h.syncForward)
	manual.POST("/reverse/:id", h.syncReverse)
	manual.POST("/bulk/forward", h.bulk(syncer.DirectionForward))
	manual.POST("/bulk/reverse", h.bulk(syncer.DirectionReverse))
	manual.GET("/ledger/:direction/:id", h.ledgerEntry)
}

// CorrelationID propagates X-Request-Id (or a fresh uuid) into the request
// context and the response headers.
func CorrelationID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(headerRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		c.Header(headerRequestID, id)
		c.Request = c.Request.WithContext(logging.ContextWithCorrelationID(c.Request.Context(), id))
		c.Next()
	}
}

func (h *handler) respondError(c *gin.Context, err error) {
	code, body := apperrors.Response(err)
	c.AbortWithStatusJSON(code, body)
}

// respondSyncError reports an engine failure. Engine failures are always
// server errors, including upstream not-found.
func (h *handler) respondSyncError(c *gin.Context, err error, extra gin.H) {
	code, body := apperrors.Response(err)
	if code < http.StatusInternalServerError {
		code = http.StatusBadGateway
	}
	for k, v := range extra {
		body[k] = v
	}
	c.AbortWithStatusJSON(code, body)
}

func (h *handler) respondOutcome(c *gin.Context, out syncer.Outcome) {
	c.JSON(http.StatusOK, out)
}

// enqueueRetry hands a failed sync to the worker. Required-field failures
// are not retried: they need a mapping or source fix first.
func (h *handler) enqueueRetry(ctx context.Context, msg aws.RetryMessage, cause error) bool {
	if h.cfg.Retry == nil || apperrors.TextCode(cause) == apperrors.TextRequiredMissing {
		return false
	}
	msg.CorrelationID = logging.CorrelationID(ctx)
	msg.Reason = cause.Error()
	if err := h.cfg.Retry.PublishRetry(ctx, msg); err != nil {
		h.logger.WithContext(ctx).Error("enqueue retry failed", "direction", msg.Direction, "id", msg.ID, "error", err)
		return false
	}
	h.logger.WithContext(ctx).Info("sync queued for retry", "direction", msg.Direction, "id", msg.ID)
	return true
}
