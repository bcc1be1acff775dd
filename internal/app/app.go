// Package app wires configuration, platform clients, engines and the
// optional AWS-backed ledger, retry queue and metrics into one bridge.
package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	glog "github.com/goliatone/go-logger/glog"

	"github.com/imrishuroy/go-incident-snowsync/internal/apperrors"
	"github.com/imrishuroy/go-incident-snowsync/internal/aws"
	"github.com/imrishuroy/go-incident-snowsync/internal/config"
	"github.com/imrishuroy/go-incident-snowsync/internal/handlers"
	"github.com/imrishuroy/go-incident-snowsync/internal/idempotency"
	"github.com/imrishuroy/go-incident-snowsync/internal/incidentio"
	"github.com/imrishuroy/go-incident-snowsync/internal/ledger"
	"github.com/imrishuroy/go-incident-snowsync/internal/logging"
	"github.com/imrishuroy/go-incident-snowsync/internal/loopguard"
	"github.com/imrishuroy/go-incident-snowsync/internal/mapper"
	"github.com/imrishuroy/go-incident-snowsync/internal/servicenow"
	"github.com/imrishuroy/go-incident-snowsync/internal/syncer"
	"github.com/imrishuroy/go-incident-snowsync/internal/validation"
)

// App is a fully wired bridge. Ledger, Deliveries, Retry and Metrics are nil
// when the matching AWS setting is empty.
type App struct {
	Config     config.Config
	Logger     glog.Logger
	Mappings   *mapper.Config
	ServiceNow *servicenow.Client
	Incidents  *incidentio.Client
	State      *loopguard.State
	Forward    *syncer.Forward
	Reverse    *syncer.Reverse
	Ledger     *ledger.Store
	Deliveries *idempotency.Store
	Retry      *aws.Publisher
	Metrics    *aws.MetricsReporter
}

// Option customises New.
type Option func(*options)

type options struct {
	logger     glog.Logger
	awsClients *aws.AWSClients
	httpClient *http.Client
}

// WithLogger sets the logger shared by every component.
func WithLogger(logger glog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithAWSClients skips loading AWS config and uses clients instead.
func WithAWSClients(clients *aws.AWSClients) Option {
	return func(o *options) { o.awsClients = clients }
}

// WithHTTPClient sets the HTTP client used for both platforms.
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) { o.httpClient = client }
}

// New loads the mappings file and builds every component from cfg.
func New(ctx context.Context, cfg config.Config, opts ...Option) (*App, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	logger := logging.OrNop(o.logger)

	mappings, err := mapper.LoadFile(cfg.Sync.MappingsPath)
	if err != nil {
		return nil, err
	}
	if mappings.IncidentTable != cfg.ServiceNow.IncidentTable || mappings.CorrelationField != cfg.ServiceNow.CorrelationField {
		return nil, apperrors.Config("mappings file and configuration disagree on the incident table or correlation field", map[string]any{
			"mappings_table":       mappings.IncidentTable,
			"config_table":         cfg.ServiceNow.IncidentTable,
			"mappings_correlation": mappings.CorrelationField,
			"config_correlation":   cfg.ServiceNow.CorrelationField,
		})
	}

	a := &App{
		Config:   cfg,
		Logger:   logger,
		Mappings: mappings,
		State: loopguard.NewState(
			loopguard.WithCooldown(cfg.Sync.Cooldown),
			loopguard.WithRetention(cfg.Sync.GuardRetention),
		),
	}

	a.ServiceNow = servicenow.New(servicenow.Options{
		InstanceURL:      cfg.ServiceNow.InstanceURL,
		Username:         cfg.ServiceNow.Username,
		Password:         cfg.ServiceNow.Password,
		IncidentTable:    cfg.ServiceNow.IncidentTable,
		CorrelationField: cfg.ServiceNow.CorrelationField,
		Timeout:          cfg.HTTP.Timeout,
		MaxRetries:       cfg.HTTP.MaxRetries,
		CacheTTL:         cfg.Sync.LookupCacheTTL,
		CacheSize:        cfg.Sync.LookupCacheSize,
		HTTPClient:       o.httpClient,
		Logger:           logger,
	})
	a.Incidents = incidentio.New(incidentio.Options{
		BaseURL:               cfg.Incident.BaseURL,
		Token:                 cfg.Incident.Token,
		CrossReferenceFieldID: cfg.Incident.CrossReferenceFieldID,
		Timeout:               cfg.HTTP.Timeout,
		MaxRetries:            cfg.HTTP.MaxRetries,
		HTTPClient:            o.httpClient,
		Logger:                logger,
	})

	reporters := syncer.Reporters{syncer.LogReporter{Logger: logger}}
	if services := awsServices(cfg.AWS); services.Any() {
		clients := o.awsClients
		if clients == nil {
			clients, err = aws.NewAWSClients(ctx, aws.Settings{Region: cfg.AWS.Region, EndpointOverride: cfg.AWS.EndpointOverride}, services)
			if err != nil {
				return nil, fmt.Errorf("init aws clients: %w", err)
			}
		}
		if cfg.AWS.LedgerTable != "" {
			a.Ledger = ledger.NewStore(clients.DynamoDB, cfg.AWS.LedgerTable, cfg.AWS.LedgerTTL, logger)
			reporters = append(reporters, a.Ledger)
		}
		if cfg.AWS.IdempotencyTable != "" {
			a.Deliveries = idempotency.NewStore(clients.DynamoDB, cfg.AWS.IdempotencyTable, cfg.AWS.IdempotencyTTL)
		}
		if cfg.AWS.RetryQueueURL != "" {
			a.Retry = aws.NewPublisher(clients.SQS, cfg.AWS.RetryQueueURL)
		}
		if cfg.AWS.MetricsEnabled {
			a.Metrics = aws.NewMetricsReporter(clients.CloudWatch, cfg.AWS.MetricsNamespace, logger)
			reporters = append(reporters, a.Metrics)
		}
	}

	deps := syncer.Deps{
		ServiceNow: a.ServiceNow,
		Incidents:  a.Incidents,
		Mappings:   mappings,
		Mapper:     mapper.New(mapper.WithLogger(logger), mapper.WithExpressionTimeout(cfg.Sync.ExpressionTimeout)),
		State:      a.State,
		Reporter:   reporters,
		Logger:     logger,
	}
	a.Forward = syncer.NewForward(deps)
	a.Reverse = syncer.NewReverse(deps)

	logger.Info("bridge initialised",
		"incident_table", mappings.IncidentTable,
		"create_rules", len(mappings.Create.Rules),
		"update_rules", len(mappings.Update.Rules),
		"ledger", a.Ledger != nil,
		"delivery_dedupe", a.Deliveries != nil,
		"retry_queue", a.Retry != nil,
		"metrics", a.Metrics != nil,
	)
	return a, nil
}

func awsServices(c config.AWSConfig) aws.Services {
	return aws.Services{
		DynamoDB:   c.LedgerTable != "" || c.IdempotencyTable != "",
		SQS:        c.RetryQueueURL != "",
		CloudWatch: c.MetricsEnabled,
	}
}

// BulkOptions returns the configured bulk defaults.
func (a *App) BulkOptions() syncer.BulkOptions {
	return syncer.BulkOptions{
		BatchSize:         a.Config.Sync.BatchSize,
		Concurrency:       a.Config.Sync.Concurrency,
		RequestsPerMinute: a.Config.Sync.RequestsPerMinute,
	}
}

// HandlerConfig builds the HTTP layer's dependencies. Optional components
// stay nil interfaces when they are not configured.
func (a *App) HandlerConfig() handlers.HandlerConfig {
	cfg := handlers.HandlerConfig{
		Forward:           a.Forward,
		Reverse:           a.Reverse,
		Validator:         validation.New(),
		WebhookSecret:     a.Config.Incident.WebhookSecret,
		ManualSyncEnabled: a.Config.Server.ManualSyncEnabled,
		Logger:            a.Logger,
	}
	if a.Retry != nil {
		cfg.Retry = a.Retry
	}
	if a.Ledger != nil {
		cfg.Ledger = a.Ledger
	}
	if a.Deliveries != nil {
		cfg.Deliveries = a.Deliveries
	}
	return cfg
}

// Router returns the gin engine with health and every bridge route.
func (a *App) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	// health
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	handlers.RegisterRoutes(r, a.HandlerConfig())
	return r
}
