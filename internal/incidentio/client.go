// Package incidentio is the client for the incident platform's v2 REST API.
package incidentio

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	glog "github.com/goliatone/go-logger/glog"

	"github.com/imrishuroy/go-incident-snowsync/internal/apperrors"
	"github.com/imrishuroy/go-incident-snowsync/internal/restclient"
)

const (
	DefaultBaseURL = "https://api.incident.io"
	platformName   = "incident"
)

type Options struct {
	BaseURL string
	Token   string
	// CrossReferenceFieldID is the custom field storing the ServiceNow sys_id.
	CrossReferenceFieldID string
	Timeout               time.Duration
	MaxRetries            int
	InitialInterval       time.Duration
	HTTPClient            *http.Client
	Logger                glog.Logger
}

type Client struct {
	rest          *restclient.Client
	crossRefField string
	logger        glog.Logger
}

func New(opts Options) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = glog.Nop()
	}
	base := opts.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	return &Client{
		rest: restclient.New(restclient.Options{
			BaseURL:         base,
			Platform:        platformName,
			Auth:            restclient.BearerAuth(opts.Token),
			Timeout:         opts.Timeout,
			MaxRetries:      opts.MaxRetries,
			InitialInterval: opts.InitialInterval,
			HTTPClient:      opts.HTTPClient,
			Logger:          logger,
		}),
		crossRefField: opts.CrossReferenceFieldID,
		logger:        logger,
	}
}

// CrossReferenceField returns the configured custom field id, if any.
func (c *Client) CrossReferenceField() string {
	return c.crossRefField
}

type incidentResponse struct {
	Incident Incident `json:"incident"`
}

// Page is one page of ListIncidents.
type Page struct {
	Incidents []Incident
	After     string
}

type listResponse struct {
	Incidents      []Incident `json:"incidents"`
	PaginationMeta struct {
		After    string `json:"after"`
		PageSize int    `json:"page_size"`
	} `json:"pagination_meta"`
}

// GetIncident fetches the current state of an incident.
func (c *Client) GetIncident(ctx context.Context, id string) (Incident, error) {
	var resp incidentResponse
	if err := c.rest.Get(ctx, "/v2/incidents/"+url.PathEscape(id), nil, &resp); err != nil {
		return Incident{}, err
	}
	if resp.Incident.ID == "" {
		return Incident{}, apperrors.NotFound("incident not found", map[string]any{"incident_id": id})
	}
	return resp.Incident, nil
}

// ListIncidents returns one page. Pass the previous page's After to continue;
// an empty After in the result means there are no more pages.
func (c *Client) ListIncidents(ctx context.Context, pageSize int, after string) (Page, error) {
	query := url.Values{}
	if pageSize > 0 {
		query.Set("page_size", strconv.Itoa(pageSize))
	}
	if after != "" {
		query.Set("after", after)
	}
	return c.list(ctx, query)
}

func (c *Client) list(ctx context.Context, query url.Values) (Page, error) {
	var resp listResponse
	if err := c.rest.Get(ctx, "/v2/incidents", query, &resp); err != nil {
		return Page{}, err
	}
	after := resp.PaginationMeta.After
	if len(resp.Incidents) == 0 {
		after = ""
	}
	return Page{Incidents: resp.Incidents, After: after}, nil
}

type editRequest struct {
	Incident              map[string]any `json:"incident"`
	NotifyIncidentChannel bool           `json:"notify_incident_channel"`
}

// UpdateIncident applies fields (name, summary, incident_status_id,
// severity_id, custom_field_entries) in a single edit action.
func (c *Client) UpdateIncident(ctx context.Context, id string, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	return c.rest.Post(ctx, "/v2/incidents/"+url.PathEscape(id)+"/actions/edit", editRequest{Incident: fields}, nil)
}

// AddUpdate appends a timeline update to the incident.
func (c *Client) AddUpdate(ctx context.Context, id, message string) error {
	body := map[string]any{"incident_id": id, "message": message}
	return c.rest.Post(ctx, "/v2/incident_updates", body, nil)
}

// SetCrossReference stores the ServiceNow sys_id on the incident. It is a
// no-op when no cross-reference custom field is configured.
func (c *Client) SetCrossReference(ctx context.Context, id, sysID string) error {
	if c.crossRefField == "" {
		return nil
	}
	return c.UpdateIncident(ctx, id, map[string]any{
		"custom_field_entries": []map[string]any{{
			"custom_field_id": c.crossRefField,
			"values":          []map[string]any{{"value_text": sysID}},
		}},
	})
}

// FindByCrossReference returns the incident whose cross-reference custom
// field holds sysID.
func (c *Client) FindByCrossReference(ctx context.Context, sysID string) (Incident, bool, error) {
	if c.crossRefField == "" {
		return Incident{}, false, nil
	}
	query := url.Values{}
	query.Set("custom_field["+c.crossRefField+"][one_of]", sysID)
	query.Set("page_size", "1")
	page, err := c.list(ctx, query)
	if err != nil {
		return Incident{}, false, err
	}
	for _, inc := range page.Incidents {
		if inc.CustomField(c.crossRefField) == sysID {
			return inc, true, nil
		}
	}
	return Incident{}, false, nil
}
