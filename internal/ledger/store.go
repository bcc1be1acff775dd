// Package ledger keeps the last sync outcome per record and direction in
// DynamoDB so operators can see what happened to a record.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	glog "github.com/goliatone/go-logger/glog"

	"github.com/imrishuroy/go-incident-snowsync/internal/aws"
	"github.com/imrishuroy/go-incident-snowsync/internal/syncer"
)

const maxDetailLength = 1024

// Store encapsulates ledger operations against DynamoDB.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	ttlWindow time.Duration
	logger    glog.Logger
	nowFunc   func() time.Time
}

// NewStore returns a configured Store. ttlWindow is how long an entry
// survives after its last update (e.g. 30*24*time.Hour).
func NewStore(client aws.DynamoDBAPI, tableName string, ttlWindow time.Duration, logger glog.Logger) *Store {
	if logger == nil {
		logger = glog.Nop()
	}
	return &Store{
		client:    client,
		tableName: tableName,
		ttlWindow: ttlWindow,
		logger:    logger,
		nowFunc:   time.Now,
	}
}

// Report upserts the outcome. A ledger failure never fails the sync.
func (s *Store) Report(ctx context.Context, o syncer.Outcome) {
	if err := s.Record(ctx, o); err != nil {
		s.logger.Warn("ledger write failed", "direction", o.Direction, "id", o.ID, "error", err)
	}
}

// Record upserts the entry for the outcome and bumps its attempts counter.
func (s *Store) Record(ctx context.Context, o syncer.Outcome) error {
	now := s.nowFunc()
	if !o.At.IsZero() {
		now = o.At
	}

	values := map[string]types.AttributeValue{
		":direction":  &types.AttributeValueMemberS{Value: string(o.Direction)},
		":record_id":  &types.AttributeValueMemberS{Value: o.ID},
		":status":     &types.AttributeValueMemberS{Value: statusFor(o)},
		":action":     &types.AttributeValueMemberS{Value: string(o.Action)},
		":detail":     &types.AttributeValueMemberS{Value: detailFor(o)},
		":run_id":     &types.AttributeValueMemberS{Value: o.RunID},
		":updated_at": &types.AttributeValueMemberS{Value: now.UTC().Format(time.RFC3339Nano)},
		":expires_at": &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Add(s.ttlWindow).Unix(), 10)},
		":zero":       &types.AttributeValueMemberN{Value: "0"},
		":inc":        &types.AttributeValueMemberN{Value: "1"},
	}
	set := []string{
		"direction = :direction",
		"record_id = :record_id",
		"#s = :status",
		"#a = :action",
		"detail = :detail",
		"run_id = :run_id",
		"updated_at = :updated_at",
		"expires_at = :expires_at",
		"#n = if_not_exists(#n, :zero) + :inc",
	}
	if o.Counterpart != "" {
		values[":counterpart"] = &types.AttributeValueMemberS{Value: o.Counterpart}
		set = append(set, "counterpart = :counterpart")
	}
	names := map[string]string{
		"#s": "status",
		"#a": "action",
		"#n": "attempts",
	}
	// A successful sync closes the failure episode the replay budget covers.
	if statusFor(o) == StatusSynced {
		names["#r"] = "retries"
		set = append(set, "#r = :zero")
	}

	input := &dyn.UpdateItemInput{
		TableName:                 &s.tableName,
		Key:                       s.key(string(o.Direction), o.ID),
		UpdateExpression:          awsString("SET " + strings.Join(set, ", ")),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	}
	if _, err := s.client.UpdateItem(ctx, input); err != nil {
		return fmt.Errorf("update item (record outcome): %w", err)
	}
	return nil
}

// ClaimRetry bumps the retry counter for a record unless it already reached
// maxRetries. It returns false once the budget is spent.
func (s *Store) ClaimRetry(ctx context.Context, direction, id string, maxRetries int) (bool, error) {
	now := s.nowFunc()
	input := &dyn.UpdateItemInput{
		TableName:           &s.tableName,
		Key:                 s.key(direction, id),
		UpdateExpression:    awsString("SET #n = if_not_exists(#n, :zero) + :inc, updated_at = :updated_at, expires_at = :expires_at"),
		ConditionExpression: awsString("attribute_not_exists(#n) OR #n < :max"),
		ExpressionAttributeNames: map[string]string{
			"#n": "retries",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":zero":       &types.AttributeValueMemberN{Value: "0"},
			":inc":        &types.AttributeValueMemberN{Value: "1"},
			":max":        &types.AttributeValueMemberN{Value: strconv.Itoa(maxRetries)},
			":updated_at": &types.AttributeValueMemberS{Value: now.UTC().Format(time.RFC3339Nano)},
			":expires_at": &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Add(s.ttlWindow).Unix(), 10)},
		},
	}
	_, err := s.client.UpdateItem(ctx, input)
	if err != nil {
		var sc smithy.APIError
		if errors.As(err, &sc) && sc.ErrorCode() == "ConditionalCheckFailedException" {
			return false, nil
		}
		return false, fmt.Errorf("update item (claim retry): %w", err)
	}
	return true, nil
}

// Get retrieves the entry for direction and id. If not found, returns (nil, nil).
func (s *Store) Get(ctx context.Context, direction, id string) (*Entry, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tableName,
		Key:       s.key(direction, id),
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var e Entry
	if err := attributevalue.UnmarshalMap(out.Item, &e); err != nil {
		return nil, fmt.Errorf("unmarshal item: %w", err)
	}
	return &e, nil
}

func (s *Store) key(direction, id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"ledger_key": &types.AttributeValueMemberS{Value: Key(direction, id)},
	}
}

func statusFor(o syncer.Outcome) string {
	switch {
	case o.Err != nil || o.Action == syncer.ActionFailed:
		return StatusFailed
	case o.Action == syncer.ActionSkipped:
		return StatusSkipped
	default:
		return StatusSynced
	}
}

func detailFor(o syncer.Outcome) string {
	var detail string
	switch {
	case o.Err != nil:
		detail = o.Err.Error()
	case o.Reason != "":
		detail = o.Reason
	case len(o.Fields) > 0:
		detail = "fields: " + strings.Join(o.Fields, ",")
	}
	if len(detail) > maxDetailLength {
		detail = detail[:maxDetailLength]
	}
	return detail
}

func awsString(s string) *string { return &s }
