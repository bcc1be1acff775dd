package idempotency

import "time"

// Status values for delivery entries
const (
	StatusInProgress = "IN_PROGRESS"
	StatusDone       = "DONE"
	StatusFailed     = "FAILED"
)

// DeliveryRecord is the shape persisted in the idempotency DynamoDB table,
// one item per inbound webhook delivery.
type DeliveryRecord struct {
	IdempotencyKey string    `dynamodbav:"idempotency_key"` // PK, the webhook delivery id
	Status         string    `dynamodbav:"status"`
	RecordID       string    `dynamodbav:"record_id,omitempty"`
	EventType      string    `dynamodbav:"event_type,omitempty"`
	Outcome        string    `dynamodbav:"outcome,omitempty"`
	Note           string    `dynamodbav:"note,omitempty"`
	CreatedAt      time.Time `dynamodbav:"created_at"`
	UpdatedAt      time.Time `dynamodbav:"updated_at"`
	LeaseUntil     int64     `dynamodbav:"lease_until,omitempty"` // epoch seconds; removed once DONE
	ExpiresAt      int64     `dynamodbav:"expires_at"`            // TTL epoch seconds
}
