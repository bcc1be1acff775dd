// Package syncer holds the forward (incident platform to ServiceNow) and
// reverse (ServiceNow to incident platform) sync engines.
package syncer

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"

	"github.com/imrishuroy/go-incident-snowsync/internal/incidentio"
	"github.com/imrishuroy/go-incident-snowsync/internal/loopguard"
	"github.com/imrishuroy/go-incident-snowsync/internal/mapper"
	"github.com/imrishuroy/go-incident-snowsync/internal/servicenow"
)

// ServiceNow is the subset of the ServiceNow client the engines use.
type ServiceNow interface {
	mapper.Lookup
	Get(ctx context.Context, sysID string) (servicenow.Record, error)
	FindByCorrelation(ctx context.Context, incidentID string) (servicenow.Record, bool, error)
	Create(ctx context.Context, fields map[string]any) (servicenow.Record, error)
	Update(ctx context.Context, sysID string, fields map[string]any) (servicenow.Record, error)
	WorkNotes(ctx context.Context, sysID, field string) ([]string, error)
	ListLinked(ctx context.Context, limit, offset int) ([]servicenow.Record, error)
}

// IncidentPlatform is the subset of the incident platform client the engines use.
type IncidentPlatform interface {
	GetIncident(ctx context.Context, id string) (incidentio.Incident, error)
	ListIncidents(ctx context.Context, pageSize int, after string) (incidentio.Page, error)
	UpdateIncident(ctx context.Context, id string, fields map[string]any) error
	AddUpdate(ctx context.Context, id, message string) error
	SetCrossReference(ctx context.Context, id, sysID string) error
	FindByCrossReference(ctx context.Context, sysID string) (incidentio.Incident, bool, error)
}

type Direction string

const (
	DirectionForward Direction = "forward"
	DirectionReverse Direction = "reverse"
)

type Action string

const (
	ActionCreated Action = "created"
	ActionUpdated Action = "updated"
	ActionSkipped Action = "skipped"
	ActionFailed  Action = "failed"
)

// Skip reasons.
const (
	ReasonDuplicateInFlight = "duplicate_in_flight"
	ReasonLoopSuppressed    = "loop_suppressed"
	ReasonNoChanges         = "no_changes"
	ReasonNotLinked         = "not_linked"
	ReasonIgnoredEvent      = "ignored_event"
)

// Outcome describes what one single-record sync did.
type Outcome struct {
	Direction   Direction           `json:"direction"`
	ID          string              `json:"id"`
	Counterpart string              `json:"counterpart,omitempty"`
	Action      Action              `json:"action"`
	Reason      string              `json:"reason,omitempty"`
	Fields      []string            `json:"fields,omitempty"`
	FieldErrors []mapper.FieldError `json:"field_errors,omitempty"`
	RunID       string              `json:"run_id,omitempty"`
	Err         error               `json:"-"`
	At          time.Time           `json:"at"`
}

// Reporter receives every outcome after the fact. Implementations must not
// block for long and must not fail the sync.
type Reporter interface {
	Report(ctx context.Context, outcome Outcome)
}

// Reporters fans an outcome out to several reporters.
type Reporters []Reporter

func (rs Reporters) Report(ctx context.Context, outcome Outcome) {
	for _, r := range rs {
		if r != nil {
			r.Report(ctx, outcome)
		}
	}
}

// LogReporter writes one log line per outcome.
type LogReporter struct {
	Logger glog.Logger
}

func (l LogReporter) Report(ctx context.Context, o Outcome) {
	if l.Logger == nil {
		return
	}
	logger := l.Logger.WithContext(ctx)
	args := []any{"direction", o.Direction, "id", o.ID, "action", o.Action}
	if o.Counterpart != "" {
		args = append(args, "counterpart", o.Counterpart)
	}
	if o.Reason != "" {
		args = append(args, "reason", o.Reason)
	}
	if o.RunID != "" {
		args = append(args, "run_id", o.RunID)
	}
	if o.Err != nil {
		logger.Error("sync failed", append(args, "error", o.Err)...)
		return
	}
	logger.Info("sync finished", args...)
}

type runIDKey struct{}

// ContextWithRunID tags every outcome produced under ctx with id.
func ContextWithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey{}, id)
}

// RunID returns the id stored by ContextWithRunID.
func RunID(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}

// Deps are the collaborators shared by both engines.
type Deps struct {
	ServiceNow ServiceNow
	Incidents  IncidentPlatform
	Mappings   *mapper.Config
	Mapper     *mapper.Mapper
	State      *loopguard.State
	Reporter   Reporter
	Logger     glog.Logger
	// Sleep waits between bulk batches; defaults to a context-aware timer.
	Sleep   func(ctx context.Context, d time.Duration) error
	NowFunc func() time.Time
}

func (d Deps) withDefaults() Deps {
	if d.Mapper == nil {
		d.Mapper = mapper.New(mapper.WithLogger(d.Logger))
	}
	if d.State == nil {
		d.State = loopguard.NewState()
	}
	if d.Logger == nil {
		d.Logger = glog.Nop()
	}
	if d.Reporter == nil {
		d.Reporter = Reporters(nil)
	}
	if d.Sleep == nil {
		d.Sleep = sleepContext
	}
	if d.NowFunc == nil {
		d.NowFunc = time.Now
	}
	return d
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
