package syncer

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/imrishuroy/go-incident-snowsync/internal/apperrors"
	"github.com/imrishuroy/go-incident-snowsync/internal/expr"
	"github.com/imrishuroy/go-incident-snowsync/internal/mapper"
	"github.com/imrishuroy/go-incident-snowsync/internal/servicenow"
)

// Forward pushes incident platform changes into ServiceNow.
type Forward struct {
	deps Deps
}

func NewForward(deps Deps) *Forward {
	return &Forward{deps: deps.withDefaults()}
}

// Create syncs a newly created incident. When a ServiceNow record already
// references the incident the call becomes an update.
func (f *Forward) Create(ctx context.Context, incidentID string) (Outcome, error) {
	return f.locked(ctx, incidentID, func() (Outcome, error) {
		return f.createOrRedirect(ctx, incidentID)
	})
}

// Update syncs changes of an existing incident. When no ServiceNow record
// references the incident yet the call becomes a create.
func (f *Forward) Update(ctx context.Context, incidentID string) (Outcome, error) {
	return f.locked(ctx, incidentID, func() (Outcome, error) {
		return f.update(ctx, incidentID, nil)
	})
}

// Sync creates or updates, whichever applies. Used by manual triggers, bulk
// runs and retry replays.
func (f *Forward) Sync(ctx context.Context, incidentID string) (Outcome, error) {
	return f.Create(ctx, incidentID)
}

func (f *Forward) locked(ctx context.Context, incidentID string, run func() (Outcome, error)) (Outcome, error) {
	release, ok := f.deps.State.Forward.TryAcquire(incidentID)
	if !ok {
		f.deps.Logger.Info("forward sync already in flight, dropping trigger", "incident_id", incidentID)
		return f.report(ctx, Outcome{ID: incidentID, Action: ActionSkipped, Reason: ReasonDuplicateInFlight}, nil)
	}
	defer release()

	out, err := run()
	out.ID = incidentID
	if err != nil {
		out.Action = ActionFailed
	}
	return f.report(ctx, out, err)
}

func (f *Forward) report(ctx context.Context, out Outcome, err error) (Outcome, error) {
	out.Direction = DirectionForward
	out.Err = err
	out.RunID = RunID(ctx)
	out.At = f.deps.NowFunc()
	f.deps.Reporter.Report(ctx, out)
	return out, err
}

func (f *Forward) createOrRedirect(ctx context.Context, incidentID string) (Outcome, error) {
	existing, found, err := f.deps.ServiceNow.FindByCorrelation(ctx, incidentID)
	if err != nil {
		return Outcome{}, fmt.Errorf("find servicenow record for %s: %w", incidentID, err)
	}
	if found {
		f.deps.Logger.Debug("servicenow record exists, updating instead", "incident_id", incidentID, "sys_id", existing.SysID())
		return f.update(ctx, incidentID, existing)
	}
	return f.create(ctx, incidentID)
}

func (f *Forward) create(ctx context.Context, incidentID string) (Outcome, error) {
	res, err := f.mapIncident(ctx, incidentID, f.deps.Mappings.Create)
	if err != nil {
		return Outcome{}, err
	}
	out := Outcome{FieldErrors: res.Errors}
	if err := res.Err("create"); err != nil {
		return out, err
	}

	fields := res.Fields
	if _, ok := fields[f.deps.Mappings.CorrelationField]; !ok {
		fields[f.deps.Mappings.CorrelationField] = incidentID
	}

	rec, err := f.deps.ServiceNow.Create(ctx, fields)
	if err != nil {
		return out, fmt.Errorf("create servicenow record for %s: %w", incidentID, err)
	}
	sysID := rec.SysID()

	if err := f.deps.Incidents.SetCrossReference(ctx, incidentID, sysID); err != nil {
		f.deps.Logger.Warn("cross reference write-back failed",
			"incident_id", incidentID,
			"sys_id", sysID,
			"error", err,
		)
	}

	out.Action = ActionCreated
	out.Counterpart = sysID
	out.Fields = sortedKeys(fields)
	return out, nil
}

func (f *Forward) update(ctx context.Context, incidentID string, rec servicenow.Record) (Outcome, error) {
	if f.deps.State.Guard.ShouldSuppressForwardSync(incidentID) {
		f.deps.Logger.Info("forward sync suppressed after recent reverse write", "incident_id", incidentID)
		return Outcome{Action: ActionSkipped, Reason: ReasonLoopSuppressed}, nil
	}

	if rec == nil {
		found, ok, err := f.deps.ServiceNow.FindByCorrelation(ctx, incidentID)
		if err != nil {
			return Outcome{}, fmt.Errorf("find servicenow record for %s: %w", incidentID, err)
		}
		if !ok {
			f.deps.Logger.Debug("no servicenow record yet, creating", "incident_id", incidentID)
			return f.create(ctx, incidentID)
		}
		rec = found
	}
	sysID := rec.SysID()

	res, err := f.mapIncident(ctx, incidentID, f.deps.Mappings.Update)
	if err != nil {
		return Outcome{Counterpart: sysID}, err
	}
	out := Outcome{Counterpart: sysID, FieldErrors: res.Errors}
	if err := res.Err("update"); err != nil {
		return out, err
	}

	fields := f.dropUnchanged(ctx, rec, res.Fields, f.deps.Mappings.Update.NoteFields)
	if len(fields) == 0 {
		out.Action = ActionSkipped
		out.Reason = ReasonNoChanges
		return out, nil
	}

	if _, err := f.deps.ServiceNow.Update(ctx, sysID, fields); err != nil {
		return out, fmt.Errorf("update servicenow record %s: %w", sysID, err)
	}
	out.Action = ActionUpdated
	out.Fields = sortedKeys(fields)
	return out, nil
}

func (f *Forward) mapIncident(ctx context.Context, incidentID string, set *mapper.RuleSet) (mapper.Result, error) {
	inc, err := f.deps.Incidents.GetIncident(ctx, incidentID)
	if err != nil {
		return mapper.Result{}, fmt.Errorf("fetch incident %s: %w", incidentID, err)
	}
	res, err := f.deps.Mapper.Map(ctx, mapper.Document(inc.Document()), set, f.deps.ServiceNow)
	if err != nil {
		return res, apperrors.Internal(err, "map incident "+incidentID)
	}
	return res, nil
}

// dropUnchanged removes fields already holding the mapped value and note
// fields whose text already appears in the record's journal.
func (f *Forward) dropUnchanged(ctx context.Context, rec servicenow.Record, mapped map[string]any, noteFields []string) map[string]any {
	fields := make(map[string]any, len(mapped))
	for k, v := range mapped {
		fields[k] = v
	}

	isNote := map[string]bool{}
	for _, field := range noteFields {
		isNote[field] = true
		value, ok := fields[field]
		if !ok {
			continue
		}
		text := strings.TrimSpace(expr.ToString(value))
		if text == "" {
			delete(fields, field)
			continue
		}
		history, err := f.deps.ServiceNow.WorkNotes(ctx, rec.SysID(), field)
		if err != nil {
			f.deps.Logger.Warn("could not read note history, sending note", "sys_id", rec.SysID(), "field", field, "error", err)
			continue
		}
		if current := rec.String(field); current != "" {
			history = append(history, current)
		}
		for _, entry := range history {
			if strings.Contains(entry, text) {
				f.deps.Logger.Debug("note already present, dropping", "sys_id", rec.SysID(), "field", field)
				delete(fields, field)
				break
			}
		}
	}

	for k, v := range fields {
		if isNote[k] {
			continue
		}
		if _, present := rec[k]; present && rec.String(k) == expr.ToString(v) {
			delete(fields, k)
		}
	}
	return fields
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
