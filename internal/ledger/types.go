package ledger

import "time"

// Status values for ledger entries.
const (
	StatusSynced  = "SYNCED"
	StatusSkipped = "SKIPPED"
	StatusFailed  = "FAILED"
)

// Entry is the shape persisted in the ledger DynamoDB table: the last
// outcome per record and direction.
type Entry struct {
	Key         string    `dynamodbav:"ledger_key" json:"-"` // PK: direction#id
	Direction   string    `dynamodbav:"direction" json:"direction"`
	RecordID    string    `dynamodbav:"record_id" json:"record_id"`
	Counterpart string    `dynamodbav:"counterpart,omitempty" json:"counterpart,omitempty"`
	Status      string    `dynamodbav:"status" json:"status"`
	Action      string    `dynamodbav:"action" json:"action"`
	Detail      string    `dynamodbav:"detail,omitempty" json:"detail,omitempty"`
	RunID       string    `dynamodbav:"run_id,omitempty" json:"run_id,omitempty"`
	Attempts    int       `dynamodbav:"attempts" json:"attempts"`
	Retries     int       `dynamodbav:"retries,omitempty" json:"retries,omitempty"`
	UpdatedAt   time.Time `dynamodbav:"updated_at" json:"updated_at"`
	ExpiresAt   int64     `dynamodbav:"expires_at" json:"-"` // TTL epoch seconds
}

// Key builds the partition key for direction and id.
func Key(direction, id string) string {
	return direction + "#" + id
}
