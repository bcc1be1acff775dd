package incidentio

import (
	"encoding/json"
	"strings"
	"time"
)

type Named struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Status struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Category string `json:"category"`
}

type Severity struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Rank int    `json:"rank"`
}

type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type Actor struct {
	User *User `json:"user,omitempty"`
}

type CustomFieldValue struct {
	ValueText    string `json:"value_text,omitempty"`
	ValueNumeric string `json:"value_numeric,omitempty"`
	ValueOption  *struct {
		Value string `json:"value"`
	} `json:"value_option,omitempty"`
}

func (v CustomFieldValue) Text() string {
	switch {
	case v.ValueText != "":
		return v.ValueText
	case v.ValueOption != nil:
		return v.ValueOption.Value
	default:
		return v.ValueNumeric
	}
}

type CustomFieldEntry struct {
	CustomField Named              `json:"custom_field"`
	Values      []CustomFieldValue `json:"values"`
}

// Incident is the authoritative record returned by GET /v2/incidents/{id}.
type Incident struct {
	ID                 string             `json:"id"`
	Reference          string             `json:"reference"`
	Name               string             `json:"name"`
	Summary            string             `json:"summary"`
	Permalink          string             `json:"permalink"`
	Mode               string             `json:"mode"`
	Visibility         string             `json:"visibility"`
	Status             *Status            `json:"incident_status,omitempty"`
	Severity           *Severity          `json:"severity,omitempty"`
	IncidentType       *Named             `json:"incident_type,omitempty"`
	Creator            *Actor             `json:"creator,omitempty"`
	CustomFieldEntries []CustomFieldEntry `json:"custom_field_entries"`
	CreatedAt          time.Time          `json:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at"`
}

// CustomField returns the text of the first value of the custom field with
// the given id or name.
func (i Incident) CustomField(idOrName string) string {
	for _, entry := range i.CustomFieldEntries {
		if entry.CustomField.ID != idOrName && !strings.EqualFold(entry.CustomField.Name, idOrName) {
			continue
		}
		for _, v := range entry.Values {
			if text := v.Text(); text != "" {
				return text
			}
		}
	}
	return ""
}

// Document flattens the incident into the shape mapping rules address:
// name, summary, status.category, severity.name, severity.rank,
// creator.email, custom_fields[n].value, custom.<field name> and so on.
func (i Incident) Document() map[string]any {
	doc := map[string]any{
		"id":         i.ID,
		"reference":  i.Reference,
		"name":       i.Name,
		"summary":    nilIfEmpty(i.Summary),
		"permalink":  i.Permalink,
		"mode":       i.Mode,
		"visibility": i.Visibility,
	}
	if i.Status != nil {
		doc["status"] = map[string]any{"id": i.Status.ID, "name": i.Status.Name, "category": i.Status.Category}
	}
	if i.Severity != nil {
		doc["severity"] = map[string]any{"id": i.Severity.ID, "name": i.Severity.Name, "rank": float64(i.Severity.Rank)}
	}
	if i.IncidentType != nil {
		doc["incident_type"] = map[string]any{"id": i.IncidentType.ID, "name": i.IncidentType.Name}
	}
	if i.Creator != nil && i.Creator.User != nil {
		doc["creator"] = map[string]any{"id": i.Creator.User.ID, "name": i.Creator.User.Name, "email": i.Creator.User.Email}
	}
	fields := make([]any, 0, len(i.CustomFieldEntries))
	byName := map[string]any{}
	for _, entry := range i.CustomFieldEntries {
		var value any
		for _, v := range entry.Values {
			if text := v.Text(); text != "" {
				value = text
				break
			}
		}
		fields = append(fields, map[string]any{
			"id":    entry.CustomField.ID,
			"name":  entry.CustomField.Name,
			"value": value,
		})
		if entry.CustomField.Name != "" {
			byName[entry.CustomField.Name] = value
		}
	}
	doc["custom_fields"] = fields
	doc["custom"] = byName
	if !i.CreatedAt.IsZero() {
		doc["created_at"] = i.CreatedAt.UTC().Format(time.RFC3339)
	}
	if !i.UpdatedAt.IsZero() {
		doc["updated_at"] = i.UpdatedAt.UTC().Format(time.RFC3339)
	}
	return doc
}

func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// EventKind is the normalized webhook event.
type EventKind string

const (
	EventCreated       EventKind = "created"
	EventUpdated       EventKind = "updated"
	EventStatusUpdated EventKind = "status_updated"
	EventUnknown       EventKind = "unknown"
)

// WebhookEnvelope is an inbound webhook. Its incident snapshot may be stale
// and is only used to identify the record.
type WebhookEnvelope struct {
	EventType string
	raw       map[string]json.RawMessage
}

func (e *WebhookEnvelope) UnmarshalJSON(data []byte) error {
	raw := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var eventType string
	if msg, ok := raw["event_type"]; ok {
		if err := json.Unmarshal(msg, &eventType); err != nil {
			return err
		}
	}
	e.EventType = eventType
	e.raw = raw
	return nil
}

// Kind classifies the event type. "public_incident.incident_status_updated_v2"
// is a status update; other names are matched by substring.
func (e WebhookEnvelope) Kind() EventKind {
	t := strings.ToLower(e.EventType)
	switch {
	case strings.Contains(t, "incident_created"):
		return EventCreated
	case strings.Contains(t, "incident_status_updated"):
		return EventStatusUpdated
	case strings.Contains(t, "incident_updated"):
		return EventUpdated
	default:
		return EventUnknown
	}
}

type incidentRef struct {
	Incident *struct {
		ID string `json:"id"`
	} `json:"incident"`
}

// IncidentID returns the id of the incident the event refers to. The
// snapshot sits under a key named after the event type, or under "incident"
// or "data" in older payloads.
func (e WebhookEnvelope) IncidentID() string {
	for _, key := range []string{e.EventType, "data"} {
		msg, ok := e.raw[key]
		if !ok || key == "" {
			continue
		}
		var ref incidentRef
		if err := json.Unmarshal(msg, &ref); err == nil && ref.Incident != nil && ref.Incident.ID != "" {
			return ref.Incident.ID
		}
	}
	if msg, ok := e.raw["incident"]; ok {
		var inc struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(msg, &inc); err == nil {
			return inc.ID
		}
	}
	return ""
}
