package syncer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/go-incident-snowsync/internal/apperrors"
	"github.com/imrishuroy/go-incident-snowsync/internal/incidentio"
	"github.com/imrishuroy/go-incident-snowsync/internal/loopguard"
	"github.com/imrishuroy/go-incident-snowsync/internal/mapper"
	"github.com/imrishuroy/go-incident-snowsync/internal/servicenow"
)

const testMappings = `
forward:
  create:
    fields:
      short_description: {source: name, type: direct, required: true}
      description: {source: summary, type: direct}
      urgency: {source: severity.name, type: choice, choices: {Critical: "1", Major: "2"}, fallback: "3"}
      caller_id: {source: creator.email, type: user_lookup}
  update:
    fields:
      short_description: {source: name, type: direct, required: true}
      urgency: {source: severity.name, type: choice, choices: {Critical: "1", Major: "2"}, fallback: "3"}
      work_notes: {source: summary, type: direct}
    note_fields: [work_notes]
reverse:
  field_map: {short_description: name, description: summary}
  notes_field: work_notes
  status_map: {"1": st_triage, "2": st_investigating, "3": st_fixing, "6": st_monitoring}
  allowed_status_ids: [st_triage, st_investigating, st_fixing, st_monitoring]
  severity_map: {"1": sev_critical, "2": sev_major, "3": sev_minor}
`

type fakeSnow struct {
	mu        sync.Mutex
	records   map[string]servicenow.Record
	notes     map[string][]string
	users     map[string]string
	nextID    int
	creates   int
	updates   []map[string]any
	createErr error
	getErr    error
}

func newFakeSnow() *fakeSnow {
	return &fakeSnow{
		records: map[string]servicenow.Record{},
		notes:   map[string][]string{},
		users:   map[string]string{"oncall@example.com": "usr_1"},
	}
}

func (f *fakeSnow) LookupUser(_ context.Context, value string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.users[value]
	return id, ok, nil
}

func (f *fakeSnow) LookupReference(_ context.Context, _, _, _ string) (string, bool, error) {
	return "", false, nil
}

func (f *fakeSnow) Get(_ context.Context, sysID string) (servicenow.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	rec, ok := f.records[sysID]
	if !ok {
		return nil, apperrors.NotFound("no record", nil)
	}
	return copyRecord(rec), nil
}

func (f *fakeSnow) FindByCorrelation(_ context.Context, incidentID string) (servicenow.Record, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, rec := range f.records {
		if rec.String("correlation_id") == incidentID {
			return copyRecord(rec), true, nil
		}
	}
	return nil, false, nil
}

func (f *fakeSnow) Create(_ context.Context, fields map[string]any) (servicenow.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.creates++
	f.nextID++
	rec := servicenow.Record{"sys_id": fmt.Sprintf("sys-%d", f.nextID)}
	for k, v := range fields {
		rec[k] = v
	}
	f.records[rec.SysID()] = rec
	return copyRecord(rec), nil
}

func (f *fakeSnow) Update(_ context.Context, sysID string, fields map[string]any) (servicenow.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, fields)
	rec := f.records[sysID]
	for k, v := range fields {
		if k == "work_notes" {
			f.notes[sysID] = append([]string{fmt.Sprint(v)}, f.notes[sysID]...)
			continue
		}
		rec[k] = v
	}
	return copyRecord(rec), nil
}

func (f *fakeSnow) WorkNotes(_ context.Context, sysID, _ string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.notes[sysID]...), nil
}

func (f *fakeSnow) ListLinked(_ context.Context, limit, offset int) ([]servicenow.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for id, rec := range f.records {
		if rec.String("correlation_id") != "" {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if offset >= len(ids) {
		return nil, nil
	}
	end := min(offset+limit, len(ids))
	out := make([]servicenow.Record, 0, end-offset)
	for _, id := range ids[offset:end] {
		out = append(out, copyRecord(f.records[id]))
	}
	return out, nil
}

func (f *fakeSnow) put(rec servicenow.Record) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[rec.SysID()] = rec
}

func (f *fakeSnow) updateCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.updates)
}

func copyRecord(rec servicenow.Record) servicenow.Record {
	out := make(servicenow.Record, len(rec))
	for k, v := range rec {
		out[k] = v
	}
	return out
}

type fakeIncidents struct {
	mu           sync.Mutex
	incidents    map[string]incidentio.Incident
	order        []string
	gets         int
	edits        map[string][]map[string]any
	notes        map[string][]string
	crossRefs    map[string]string
	crossRefErr  error
	addUpdateErr error
	failGet      map[string]bool

	getDelay    time.Duration
	inFlight    int
	maxInFlight int
}

func newFakeIncidents() *fakeIncidents {
	return &fakeIncidents{
		incidents: map[string]incidentio.Incident{},
		edits:     map[string][]map[string]any{},
		notes:     map[string][]string{},
		crossRefs: map[string]string{},
		failGet:   map[string]bool{},
	}
}

func (f *fakeIncidents) add(inc incidentio.Incident) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.incidents[inc.ID] = inc
	f.order = append(f.order, inc.ID)
}

func (f *fakeIncidents) GetIncident(_ context.Context, id string) (incidentio.Incident, error) {
	f.mu.Lock()
	f.inFlight++
	f.maxInFlight = max(f.maxInFlight, f.inFlight)
	delay := f.getDelay
	f.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.inFlight--
	f.gets++
	if f.failGet[id] {
		return incidentio.Incident{}, errors.New("platform exploded")
	}
	inc, ok := f.incidents[id]
	if !ok {
		return incidentio.Incident{}, apperrors.NotFound("incident not found", nil)
	}
	return inc, nil
}

func (f *fakeIncidents) ListIncidents(_ context.Context, pageSize int, after string) (incidentio.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	start := 0
	if after != "" {
		for i, id := range f.order {
			if id == after {
				start = i + 1
			}
		}
	}
	end := min(start+pageSize, len(f.order))
	var page incidentio.Page
	for _, id := range f.order[start:end] {
		page.Incidents = append(page.Incidents, f.incidents[id])
	}
	if end < len(f.order) {
		page.After = f.order[end-1]
	}
	return page, nil
}

func (f *fakeIncidents) UpdateIncident(_ context.Context, id string, fields map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits[id] = append(f.edits[id], fields)
	return nil
}

func (f *fakeIncidents) AddUpdate(_ context.Context, id, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.addUpdateErr != nil {
		return f.addUpdateErr
	}
	f.notes[id] = append(f.notes[id], message)
	return nil
}

func (f *fakeIncidents) SetCrossReference(_ context.Context, id, sysID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.crossRefErr != nil {
		return f.crossRefErr
	}
	f.crossRefs[id] = sysID
	return nil
}

func (f *fakeIncidents) FindByCrossReference(_ context.Context, sysID string) (incidentio.Incident, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, ref := range f.crossRefs {
		if ref == sysID {
			return f.incidents[id], true, nil
		}
	}
	return incidentio.Incident{}, false, nil
}

type recordingReporter struct {
	mu       sync.Mutex
	outcomes []Outcome
}

func (r *recordingReporter) Report(_ context.Context, o Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, o)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	snow      *fakeSnow
	incidents *fakeIncidents
	reporter  *recordingReporter
	clock     *fakeClock
	state     *loopguard.State
	sleeps    []time.Duration
	forward   *Forward
	reverse   *Reverse
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mappings, err := mapper.Parse([]byte(testMappings))
	require.NoError(t, err)

	h := &harness{
		snow:      newFakeSnow(),
		incidents: newFakeIncidents(),
		reporter:  &recordingReporter{},
		clock:     &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
	}
	h.state = loopguard.NewState(loopguard.WithClock(h.clock.Now))
	deps := Deps{
		ServiceNow: h.snow,
		Incidents:  h.incidents,
		Mappings:   mappings,
		State:      h.state,
		Reporter:   h.reporter,
		NowFunc:    h.clock.Now,
		Sleep: func(_ context.Context, d time.Duration) error {
			h.sleeps = append(h.sleeps, d)
			return nil
		},
	}
	h.forward = NewForward(deps)
	h.reverse = NewReverse(deps)
	return h
}

func sampleIncident(id string) incidentio.Incident {
	return incidentio.Incident{
		ID:       id,
		Name:     "Checkout down",
		Summary:  "Errors spiking",
		Severity: &incidentio.Severity{ID: "sev_critical", Name: "Critical", Rank: 1},
		Creator:  &incidentio.Actor{User: &incidentio.User{Email: "oncall@example.com"}},
	}
}
