package aws

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/go-incident-snowsync/internal/syncer"
)

type mockSQS struct {
	inputs []*sqs.SendMessageInput
	err    error
}

func (m *mockSQS) SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	m.inputs = append(m.inputs, params)
	if m.err != nil {
		return nil, m.err
	}
	return &sqs.SendMessageOutput{}, nil
}

type mockCloudWatch struct {
	inputs []*cloudwatch.PutMetricDataInput
	err    error
}

func (m *mockCloudWatch) PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	m.inputs = append(m.inputs, params)
	if m.err != nil {
		return nil, m.err
	}
	return &cloudwatch.PutMetricDataOutput{}, nil
}

func TestPublishRetry(t *testing.T) {
	mock := &mockSQS{}
	p := NewPublisher(mock, "https://sqs.local/retry")

	err := p.PublishRetry(context.Background(), RetryMessage{
		Direction:     "forward",
		ID:            "inc-1",
		Reason:        "servicenow unavailable",
		CorrelationID: "corr-1",
		Kind:          "updated",
	})
	require.NoError(t, err)
	require.Len(t, mock.inputs, 1)

	in := mock.inputs[0]
	assert.Equal(t, "https://sqs.local/retry", *in.QueueUrl)

	var got RetryMessage
	require.NoError(t, json.Unmarshal([]byte(*in.MessageBody), &got))
	assert.Equal(t, "inc-1", got.ID)
	assert.Equal(t, "updated", got.Kind)

	assert.Equal(t, "forward", *in.MessageAttributes["direction"].StringValue)
	assert.Equal(t, "inc-1", *in.MessageAttributes["record_id"].StringValue)
	assert.Equal(t, "corr-1", *in.MessageAttributes["correlation_id"].StringValue)
}

func TestPublishRetry_SkipsEmptyAttributes(t *testing.T) {
	mock := &mockSQS{}
	p := NewPublisher(mock, "q")

	require.NoError(t, p.PublishRetry(context.Background(), RetryMessage{Direction: "reverse", ID: "sys-1"}))
	assert.NotContains(t, mock.inputs[0].MessageAttributes, "correlation_id")
}

func TestPublishRetry_SendError(t *testing.T) {
	p := NewPublisher(&mockSQS{err: errors.New("throttled")}, "q")

	err := p.PublishRetry(context.Background(), RetryMessage{Direction: "forward", ID: "inc-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "send message")
}

func TestMetricsReporter(t *testing.T) {
	mock := &mockCloudWatch{}
	m := NewMetricsReporter(mock, "", nil)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	m.Report(context.Background(), syncer.Outcome{Direction: syncer.DirectionReverse, ID: "sys-1", Action: syncer.ActionUpdated, At: at})

	require.Len(t, mock.inputs, 1)
	in := mock.inputs[0]
	assert.Equal(t, DefaultMetricsNamespace, *in.Namespace)
	datum := in.MetricData[0]
	assert.Equal(t, "SyncOutcome", *datum.MetricName)
	assert.Equal(t, cwtypes.StandardUnitCount, datum.Unit)
	assert.Equal(t, 1.0, *datum.Value)
	assert.Equal(t, at, *datum.Timestamp)

	dims := map[string]string{}
	for _, d := range datum.Dimensions {
		dims[*d.Name] = *d.Value
	}
	assert.Equal(t, map[string]string{"Direction": "reverse", "Outcome": "updated"}, dims)
}

func TestMetricsReporter_ErrorIsSwallowed(t *testing.T) {
	mock := &mockCloudWatch{err: errors.New("denied")}
	m := NewMetricsReporter(mock, "Custom", nil)

	assert.NotPanics(t, func() {
		m.Report(context.Background(), syncer.Outcome{Direction: syncer.DirectionForward, Action: syncer.ActionFailed})
	})
	assert.Equal(t, "Custom", *mock.inputs[0].Namespace)
}
