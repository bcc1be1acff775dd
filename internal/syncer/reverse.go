package syncer

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/imrishuroy/go-incident-snowsync/internal/expr"
	"github.com/imrishuroy/go-incident-snowsync/internal/servicenow"
)

// Incident platform fields written by the reverse engine.
const (
	FieldStatusID   = "incident_status_id"
	FieldSeverityID = "severity_id"
)

// Notification is a ServiceNow business-rule webhook.
type Notification struct {
	RecordID      string         `json:"record_id" validate:"required"`
	TableName     string         `json:"table_name" validate:"required"`
	Operation     string         `json:"operation" validate:"required"`
	UpdatedFields []string       `json:"updated_fields"`
	OldValues     map[string]any `json:"old_values"`
}

// Reverse pushes ServiceNow changes back to the incident platform.
type Reverse struct {
	deps Deps
}

func NewReverse(deps Deps) *Reverse {
	return &Reverse{deps: deps.withDefaults()}
}

// Handle processes a change notification. Only updates to the configured
// incident table are synced; anything else is acknowledged and ignored.
func (r *Reverse) Handle(ctx context.Context, n Notification) (Outcome, error) {
	if !strings.EqualFold(n.Operation, "update") || n.TableName != r.deps.Mappings.IncidentTable {
		r.deps.Logger.Debug("servicenow notification ignored",
			"sys_id", n.RecordID,
			"table", n.TableName,
			"operation", n.Operation,
		)
		return Outcome{Direction: DirectionReverse, ID: n.RecordID, Action: ActionSkipped, Reason: ReasonIgnoredEvent}, nil
	}
	return r.locked(ctx, n.RecordID, func() (Outcome, error) {
		return r.sync(ctx, n.RecordID, &n)
	})
}

// SyncRecord pushes the current state fields of a record. Notes are not
// synced because there is no previous value to diff against.
func (r *Reverse) SyncRecord(ctx context.Context, sysID string) (Outcome, error) {
	return r.locked(ctx, sysID, func() (Outcome, error) {
		return r.sync(ctx, sysID, nil)
	})
}

func (r *Reverse) locked(ctx context.Context, sysID string, run func() (Outcome, error)) (Outcome, error) {
	release, ok := r.deps.State.Reverse.TryAcquire(sysID)
	if !ok {
		r.deps.Logger.Info("reverse sync already in flight, dropping trigger", "sys_id", sysID)
		return r.report(ctx, Outcome{ID: sysID, Action: ActionSkipped, Reason: ReasonDuplicateInFlight}, nil)
	}
	defer release()

	out, err := run()
	out.ID = sysID
	if err != nil {
		out.Action = ActionFailed
	}
	return r.report(ctx, out, err)
}

func (r *Reverse) report(ctx context.Context, out Outcome, err error) (Outcome, error) {
	out.Direction = DirectionReverse
	out.Err = err
	out.RunID = RunID(ctx)
	out.At = r.deps.NowFunc()
	r.deps.Reporter.Report(ctx, out)
	return out, err
}

func (r *Reverse) sync(ctx context.Context, sysID string, n *Notification) (Outcome, error) {
	linked, found, err := r.deps.Incidents.FindByCrossReference(ctx, sysID)
	if err != nil {
		return Outcome{}, fmt.Errorf("resolve incident for %s: %w", sysID, err)
	}

	rec, err := r.deps.ServiceNow.Get(ctx, sysID)
	if err != nil {
		return Outcome{}, fmt.Errorf("fetch servicenow record %s: %w", sysID, err)
	}

	incidentID := rec.String(r.deps.Mappings.CorrelationField)
	if found {
		incidentID = linked.ID
	}
	if incidentID == "" {
		r.deps.Logger.Debug("servicenow record not linked to an incident", "sys_id", sysID)
		return Outcome{Action: ActionSkipped, Reason: ReasonNotLinked}, nil
	}
	out := Outcome{Counterpart: incidentID}

	update := r.BuildUpdate(ctx, rec, n)
	if len(update) == 0 {
		out.Action = ActionSkipped
		out.Reason = ReasonNoChanges
		return out, nil
	}
	out.Fields = sortedKeys(update)

	notesField := r.deps.Mappings.Reverse.NotesField
	delta, _ := update[notesField].(string)
	delete(update, notesField)

	if len(update) > 0 {
		if err := r.deps.Incidents.UpdateIncident(ctx, incidentID, update); err != nil {
			return out, fmt.Errorf("update incident %s: %w", incidentID, err)
		}
		// The field edit has landed; guard it even if the note append fails.
		r.deps.State.Guard.RecordReverseWrite(incidentID)
	}

	if delta != "" {
		if err := r.deps.Incidents.AddUpdate(ctx, incidentID, delta); err != nil {
			return out, fmt.Errorf("append note to incident %s: %w", incidentID, err)
		}
		r.deps.State.Guard.RecordReverseWrite(incidentID)
	}

	out.Action = ActionUpdated
	return out, nil
}

// BuildUpdate derives the incident platform update from a ServiceNow record.
// With a notification only the fields it lists are considered and the notes
// field carries the newly added text; with n == nil every mapped state field
// is considered and notes are left out.
func (r *Reverse) BuildUpdate(ctx context.Context, rec servicenow.Record, n *Notification) map[string]any {
	rev := r.deps.Mappings.Reverse
	changed := func(field string) bool {
		return n == nil || len(n.UpdatedFields) == 0 || slices.Contains(n.UpdatedFields, field)
	}

	update := map[string]any{}
	for snField, incField := range rev.FieldMap {
		if !changed(snField) {
			continue
		}
		if v := rec.String(snField); v != "" {
			update[incField] = v
		}
	}

	if n != nil && changed(rev.NotesField) {
		if previous, had := n.OldValues[rev.NotesField]; had {
			prev := expr.ToString(previous)
			current := r.currentNotes(ctx, rec, rev.NotesField)
			if delta, ok := NoteDelta(prev, current); ok {
				update[rev.NotesField] = delta
			} else if current != prev {
				r.deps.Logger.Warn("could not extract note delta, skipping notes",
					"sys_id", rec.SysID(),
					"previous_length", len(prev),
					"current_length", len(current),
				)
			}
		}
	}

	if changed("state") {
		state := rec.String("state")
		if id, ok := rev.StatusFor(state); ok {
			update[FieldStatusID] = id
		} else if state != "" {
			r.deps.Logger.Warn("no status mapping for servicenow state", "sys_id", rec.SysID(), "state", state)
		}
	}

	if changed("priority") || changed("urgency") || changed("impact") {
		if ordinal := severityOrdinal(rec); ordinal != "" {
			if id, ok := rev.SeverityFor(ordinal); ok {
				update[FieldSeverityID] = id
			} else {
				r.deps.Logger.Warn("no severity mapping for servicenow priority", "sys_id", rec.SysID(), "priority", ordinal)
			}
		}
	}
	return update
}

func (r *Reverse) currentNotes(ctx context.Context, rec servicenow.Record, field string) string {
	if current := rec.String(field); current != "" {
		return current
	}
	history, err := r.deps.ServiceNow.WorkNotes(ctx, rec.SysID(), field)
	if err != nil {
		r.deps.Logger.Warn("could not read note history", "sys_id", rec.SysID(), "error", err)
		return ""
	}
	return strings.Join(history, "\n\n")
}

// severityOrdinal returns priority, or the most urgent of urgency and impact
// when priority is absent.
func severityOrdinal(rec servicenow.Record) string {
	if p := strings.TrimSpace(rec.String("priority")); p != "" {
		return p
	}
	best := 0
	for _, field := range []string{"urgency", "impact"} {
		n, err := strconv.Atoi(strings.TrimSpace(rec.String(field)))
		if err != nil || n <= 0 {
			continue
		}
		if best == 0 || n < best {
			best = n
		}
	}
	if best == 0 {
		return ""
	}
	return strconv.Itoa(best)
}
