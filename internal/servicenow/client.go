// Package servicenow wraps the ServiceNow table API for incident records,
// work note history and cached sys_id lookups.
package servicenow

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/imrishuroy/go-incident-snowsync/internal/apperrors"
	"github.com/imrishuroy/go-incident-snowsync/internal/restclient"
)

const (
	DefaultCacheTTL  = 5 * time.Minute
	DefaultCacheSize = 1024
	platformName     = "servicenow"
)

// Record is a ServiceNow table row as returned by the table API.
type Record map[string]any

// SysID returns the record's sys_id.
func (r Record) SysID() string {
	return r.String("sys_id")
}

// String returns field as text. Reference fields ({"value": ..., "link": ...})
// yield their value.
func (r Record) String(field string) string {
	switch v := r[field].(type) {
	case nil:
		return ""
	case string:
		return v
	case map[string]any:
		if inner, ok := v["value"].(string); ok {
			return inner
		}
		return ""
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

type Options struct {
	InstanceURL      string
	Username         string
	Password         string
	IncidentTable    string
	CorrelationField string
	Timeout          time.Duration
	MaxRetries       int
	CacheTTL         time.Duration
	CacheSize        int
	HTTPClient       *http.Client
	InitialInterval  time.Duration
	Logger           glog.Logger
}

// ListOptions pages through the incident table.
type ListOptions struct {
	Query  string
	Limit  int
	Offset int
}

type lookupResult struct {
	id    string
	found bool
}

type Client struct {
	rest             *restclient.Client
	table            string
	correlationField string
	users            *expirable.LRU[string, lookupResult]
	refs             *expirable.LRU[string, lookupResult]
	logger           glog.Logger
}

func New(opts Options) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = glog.Nop()
	}
	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	size := opts.CacheSize
	if size <= 0 {
		size = DefaultCacheSize
	}
	table := opts.IncidentTable
	if table == "" {
		table = "incident"
	}
	correlation := opts.CorrelationField
	if correlation == "" {
		correlation = "correlation_id"
	}
	return &Client{
		rest: restclient.New(restclient.Options{
			BaseURL:         opts.InstanceURL,
			Platform:        platformName,
			Auth:            restclient.BasicAuth{Username: opts.Username, Password: opts.Password},
			Timeout:         opts.Timeout,
			MaxRetries:      opts.MaxRetries,
			InitialInterval: opts.InitialInterval,
			HTTPClient:      opts.HTTPClient,
			Logger:          logger,
		}),
		table:            table,
		correlationField: correlation,
		users:            expirable.NewLRU[string, lookupResult](size, nil, ttl),
		refs:             expirable.NewLRU[string, lookupResult](size, nil, ttl),
		logger:           logger,
	}
}

// Table returns the incident table name.
func (c *Client) Table() string {
	return c.table
}

// CorrelationField returns the field holding the incident platform id.
func (c *Client) CorrelationField() string {
	return c.correlationField
}

type singleResponse struct {
	Result Record `json:"result"`
}

type listResponse struct {
	Result []Record `json:"result"`
}

func (c *Client) tablePath(table string) string {
	return "/api/now/table/" + url.PathEscape(table)
}

// Get fetches one incident record by sys_id.
func (c *Client) Get(ctx context.Context, sysID string) (Record, error) {
	var resp singleResponse
	if err := c.rest.Get(ctx, c.tablePath(c.table)+"/"+url.PathEscape(sysID), url.Values{"sysparm_exclude_reference_link": {"true"}}, &resp); err != nil {
		return nil, err
	}
	if resp.Result == nil {
		return nil, apperrors.NotFound("servicenow record not found", map[string]any{"sys_id": sysID})
	}
	return resp.Result, nil
}

// FindByCorrelation returns the incident whose correlation field holds incidentID.
func (c *Client) FindByCorrelation(ctx context.Context, incidentID string) (Record, bool, error) {
	if err := checkOperand(c.correlationField, incidentID); err != nil {
		return nil, false, err
	}
	records, err := c.List(ctx, ListOptions{Query: c.correlationField + "=" + incidentID, Limit: 1})
	if err != nil {
		return nil, false, err
	}
	if len(records) == 0 {
		return nil, false, nil
	}
	return records[0], true, nil
}

// Create inserts an incident and returns the stored record.
func (c *Client) Create(ctx context.Context, fields map[string]any) (Record, error) {
	var resp singleResponse
	if err := c.rest.Post(ctx, c.tablePath(c.table), fields, &resp); err != nil {
		return nil, err
	}
	return resp.Result, nil
}

// Update patches the given fields of an incident.
func (c *Client) Update(ctx context.Context, sysID string, fields map[string]any) (Record, error) {
	var resp singleResponse
	if err := c.rest.Patch(ctx, c.tablePath(c.table)+"/"+url.PathEscape(sysID), fields, &resp); err != nil {
		return nil, err
	}
	return resp.Result, nil
}

// List runs an encoded query over the incident table.
func (c *Client) List(ctx context.Context, opts ListOptions) ([]Record, error) {
	query := url.Values{"sysparm_exclude_reference_link": {"true"}}
	if opts.Query != "" {
		query.Set("sysparm_query", opts.Query)
	}
	if opts.Limit > 0 {
		query.Set("sysparm_limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		query.Set("sysparm_offset", strconv.Itoa(opts.Offset))
	}
	var resp listResponse
	if err := c.rest.Get(ctx, c.tablePath(c.table), query, &resp); err != nil {
		return nil, err
	}
	return resp.Result, nil
}

// ListLinked pages through incidents that carry a correlation id.
func (c *Client) ListLinked(ctx context.Context, limit, offset int) ([]Record, error) {
	return c.List(ctx, ListOptions{
		Query:  c.correlationField + "ISNOTEMPTY^ORDERBYsys_created_on",
		Limit:  limit,
		Offset: offset,
	})
}

// WorkNotes returns the journal entries of field for a record, newest first.
func (c *Client) WorkNotes(ctx context.Context, sysID, field string) ([]string, error) {
	if field == "" {
		field = "work_notes"
	}
	if err := checkOperand("element_id", sysID); err != nil {
		return nil, err
	}
	query := url.Values{
		"sysparm_query":  {"element_id=" + sysID + "^element=" + field + "^ORDERBYDESCsys_created_on"},
		"sysparm_fields": {"value"},
	}
	var resp listResponse
	if err := c.rest.Get(ctx, c.tablePath("sys_journal_field"), query, &resp); err != nil {
		return nil, fmt.Errorf("fetch %s journal: %w", field, err)
	}
	notes := make([]string, 0, len(resp.Result))
	for _, entry := range resp.Result {
		notes = append(notes, entry.String("value"))
	}
	return notes, nil
}

// LookupUser resolves a user by email, user_name or display name.
func (c *Client) LookupUser(ctx context.Context, value string) (string, bool, error) {
	value = strings.TrimSpace(value)
	if cached, ok := c.users.Get(value); ok {
		return cached.id, cached.found, nil
	}
	if err := checkOperand("sys_user", value); err != nil {
		return "", false, err
	}
	query := "email=" + value + "^ORuser_name=" + value + "^ORname=" + value
	id, found, err := c.lookup(ctx, "sys_user", query)
	if err != nil {
		return "", false, err
	}
	c.users.Add(value, lookupResult{id: id, found: found})
	if !found {
		c.logger.Warn("servicenow user not found", "value", value)
	}
	return id, found, nil
}

// LookupReference resolves a row of table where field equals value.
func (c *Client) LookupReference(ctx context.Context, table, field, value string) (string, bool, error) {
	value = strings.TrimSpace(value)
	key := table + "|" + field + "|" + value
	if cached, ok := c.refs.Get(key); ok {
		return cached.id, cached.found, nil
	}
	if err := checkOperand(field, value); err != nil {
		return "", false, err
	}
	id, found, err := c.lookup(ctx, table, field+"="+value)
	if err != nil {
		return "", false, err
	}
	c.refs.Add(key, lookupResult{id: id, found: found})
	if !found {
		c.logger.Warn("servicenow reference not found", "table", table, "field", field, "value", value)
	}
	return id, found, nil
}

// checkOperand rejects values that would add clauses to an encoded query.
func checkOperand(field, value string) error {
	if strings.Contains(value, "^") {
		return apperrors.BadInput("query value contains '^'", map[string]any{"field": field, "value": value})
	}
	return nil
}

func (c *Client) lookup(ctx context.Context, table, query string) (string, bool, error) {
	params := url.Values{
		"sysparm_query":  {query},
		"sysparm_fields": {"sys_id"},
		"sysparm_limit":  {"1"},
	}
	var resp listResponse
	if err := c.rest.Get(ctx, c.tablePath(table), params, &resp); err != nil {
		return "", false, err
	}
	if len(resp.Result) == 0 {
		return "", false, nil
	}
	id := resp.Result[0].SysID()
	return id, id != "", nil
}
