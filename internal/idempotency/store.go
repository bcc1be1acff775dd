// Package idempotency deduplicates inbound webhook deliveries. The incident
// platform redelivers on any non-2xx answer and may deliver the same event
// twice; the delivery id is claimed here before the sync runs.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	"github.com/imrishuroy/go-incident-snowsync/internal/aws"
)

// DefaultLease is how long an IN_PROGRESS claim blocks redeliveries before
// it is treated as abandoned.
const DefaultLease = 5 * time.Minute

const maxNoteLength = 1024

// claimCondition lets a delivery be claimed when it is new, when its last
// attempt failed, or when an IN_PROGRESS lease has run out.
const claimCondition = "attribute_not_exists(idempotency_key) OR #s = :failed OR lease_until < :now"

// Store encapsulates delivery idempotency operations against DynamoDB.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	ttlWindow time.Duration
	lease     time.Duration
	nowFunc   func() time.Time
}

// NewStore returns a configured Store.
// tableName: DynamoDB table name for delivery entries.
// ttlWindow: how long a finished delivery is remembered (e.g., 48*time.Hour)
func NewStore(client aws.DynamoDBAPI, tableName string, ttlWindow time.Duration) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		ttlWindow: ttlWindow,
		lease:     DefaultLease,
		nowFunc:   time.Now,
	}
}

// CreateIfNotExists claims deliveryID with status IN_PROGRESS.
// Returns (created=true, nil) if this caller now owns the delivery.
// Returns (created=false, nil) if it is DONE or held by a live lease (caller should Get to inspect).
// Returns (created=false, err) on other errors.
func (s *Store) CreateIfNotExists(ctx context.Context, deliveryID, recordID, eventType string) (bool, error) {
	now := s.nowFunc().UTC()
	rec := DeliveryRecord{
		IdempotencyKey: deliveryID,
		Status:         StatusInProgress,
		RecordID:       recordID,
		EventType:      eventType,
		CreatedAt:      now,
		UpdatedAt:      now,
		LeaseUntil:     now.Add(s.lease).Unix(),
		ExpiresAt:      now.Add(s.ttlWindow).Unix(),
	}

	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return false, fmt.Errorf("marshal record: %w", err)
	}

	input := &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: awsString(claimCondition),
		ExpressionAttributeNames: map[string]string{
			"#s": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":failed": &types.AttributeValueMemberS{Value: StatusFailed},
			":now":    &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Unix(), 10)},
		},
	}

	_, err = s.client.PutItem(ctx, input)
	if err != nil {
		var sc smithy.APIError
		if errors.As(err, &sc) && sc.ErrorCode() == "ConditionalCheckFailedException" {
			return false, nil
		}
		return false, fmt.Errorf("put item: %w", err)
	}

	return true, nil
}

// Get retrieves a delivery record. If not found, returns (nil, nil).
func (s *Store) Get(ctx context.Context, deliveryID string) (*DeliveryRecord, error) {
	input := &dyn.GetItemInput{
		TableName: &s.tableName,
		Key:       s.key(deliveryID),
	}
	out, err := s.client.GetItem(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var rec DeliveryRecord
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal item: %w", err)
	}
	return &rec, nil
}

// MarkDone records the sync outcome and drops the lease so the delivery is
// never claimed again until it expires.
func (s *Store) MarkDone(ctx context.Context, deliveryID, outcome string) error {
	now := s.nowFunc().UTC()
	input := &dyn.UpdateItemInput{
		TableName:        &s.tableName,
		Key:              s.key(deliveryID),
		UpdateExpression: awsString("SET #s = :done, outcome = :o, updated_at = :ua REMOVE lease_until"),
		ExpressionAttributeNames: map[string]string{
			"#s": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":done": &types.AttributeValueMemberS{Value: StatusDone},
			":o":    &types.AttributeValueMemberS{Value: outcome},
			":ua":   &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
		},
		ReturnValues: types.ReturnValueUpdatedNew,
	}
	_, err := s.client.UpdateItem(ctx, input)
	if err != nil {
		return fmt.Errorf("update item (mark done): %w", err)
	}
	return nil
}

// MarkFailed releases the delivery for the next redelivery and stores a note.
func (s *Store) MarkFailed(ctx context.Context, deliveryID, note string) error {
	if len(note) > maxNoteLength {
		note = note[:maxNoteLength]
	}
	now := s.nowFunc().UTC()
	input := &dyn.UpdateItemInput{
		TableName:        &s.tableName,
		Key:              s.key(deliveryID),
		UpdateExpression: awsString("SET #s = :failed, note = :n, updated_at = :ua REMOVE lease_until"),
		ExpressionAttributeNames: map[string]string{
			"#s": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":failed": &types.AttributeValueMemberS{Value: StatusFailed},
			":n":      &types.AttributeValueMemberS{Value: note},
			":ua":     &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
		},
		ReturnValues: types.ReturnValueUpdatedNew,
	}
	_, err := s.client.UpdateItem(ctx, input)
	if err != nil {
		return fmt.Errorf("update item (mark failed): %w", err)
	}
	return nil
}

func (s *Store) key(deliveryID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"idempotency_key": &types.AttributeValueMemberS{Value: deliveryID},
	}
}

// Helper
func awsString(s string) *string { return &s }
