package aws

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	glog "github.com/goliatone/go-logger/glog"

	"github.com/imrishuroy/go-incident-snowsync/internal/syncer"
)

const (
	DefaultMetricsNamespace = "IncidentSnowSync"
	metricSyncOutcome       = "SyncOutcome"
)

// MetricsReporter counts sync outcomes in CloudWatch.
type MetricsReporter struct {
	client    CloudWatchAPI
	namespace string
	logger    glog.Logger
	nowFunc   func() time.Time
}

func NewMetricsReporter(client CloudWatchAPI, namespace string, logger glog.Logger) *MetricsReporter {
	if namespace == "" {
		namespace = DefaultMetricsNamespace
	}
	if logger == nil {
		logger = glog.Nop()
	}
	return &MetricsReporter{
		client:    client,
		namespace: namespace,
		logger:    logger,
		nowFunc:   time.Now,
	}
}

// Report emits one SyncOutcome datapoint. Failures are logged, never returned.
func (m *MetricsReporter) Report(ctx context.Context, o syncer.Outcome) {
	ts := o.At
	if ts.IsZero() {
		ts = m.nowFunc()
	}
	_, err := m.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace: awsString(m.namespace),
		MetricData: []cwtypes.MetricDatum{{
			MetricName: awsString(metricSyncOutcome),
			Dimensions: []cwtypes.Dimension{
				{Name: awsString("Direction"), Value: awsString(string(o.Direction))},
				{Name: awsString("Outcome"), Value: awsString(string(o.Action))},
			},
			Timestamp: &ts,
			Unit:      cwtypes.StandardUnitCount,
			Value:     float64Ptr(1),
		}},
	})
	if err != nil {
		m.logger.Warn("put sync metric failed", "direction", o.Direction, "id", o.ID, "error", err)
	}
}

func float64Ptr(v float64) *float64 { return &v }
