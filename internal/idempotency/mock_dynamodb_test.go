package idempotency

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// simpleMock is a small in-memory table keyed by idempotency_key. PutItem
// evaluates the claim condition by hand; UpdateItem applies the SET and
// REMOVE clauses the store issues.
type simpleMock struct {
	mu          sync.Mutex
	table       map[string]map[string]types.AttributeValue
	putCalls    int
	updateCalls int
	err         error
}

func newSimpleMock() *simpleMock {
	return &simpleMock{
		table: map[string]map[string]types.AttributeValue{},
	}
}

func keyOf(av types.AttributeValue) string {
	return av.(*types.AttributeValueMemberS).Value
}

func (m *simpleMock) PutItem(ctx context.Context, params *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putCalls++
	if m.err != nil {
		return nil, m.err
	}
	keyAttr := params.Item["idempotency_key"]
	if keyAttr == nil {
		return nil, errors.New("missing key")
	}
	k := keyOf(keyAttr)
	if existing, ok := m.table[k]; ok && params.ConditionExpression != nil {
		if !claimable(existing, params.ExpressionAttributeValues) {
			return nil, &types.ConditionalCheckFailedException{}
		}
	}
	m.table[k] = params.Item
	return &dyn.PutItemOutput{}, nil
}

func claimable(item map[string]types.AttributeValue, values map[string]types.AttributeValue) bool {
	if s, ok := item["status"].(*types.AttributeValueMemberS); ok && s.Value == values[":failed"].(*types.AttributeValueMemberS).Value {
		return true
	}
	lease, ok := item["lease_until"].(*types.AttributeValueMemberN)
	if !ok {
		return false
	}
	until, _ := strconv.ParseInt(lease.Value, 10, 64)
	now, _ := strconv.ParseInt(values[":now"].(*types.AttributeValueMemberN).Value, 10, 64)
	return until < now
}

func (m *simpleMock) GetItem(ctx context.Context, params *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	item, ok := m.table[keyOf(params.Key["idempotency_key"])]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: item}, nil
}

func (m *simpleMock) UpdateItem(ctx context.Context, params *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updateCalls++
	if m.err != nil {
		return nil, m.err
	}
	item, ok := m.table[keyOf(params.Key["idempotency_key"])]
	if !ok {
		item = map[string]types.AttributeValue{"idempotency_key": params.Key["idempotency_key"]}
		m.table[keyOf(params.Key["idempotency_key"])] = item
	}

	expr := *params.UpdateExpression
	set, remove, _ := strings.Cut(strings.TrimPrefix(expr, "SET "), " REMOVE ")
	for _, assign := range strings.Split(set, ",") {
		name, placeholder, ok := strings.Cut(strings.TrimSpace(assign), " = ")
		if !ok {
			continue
		}
		if alias, ok := params.ExpressionAttributeNames[name]; ok {
			name = alias
		}
		item[name] = params.ExpressionAttributeValues[placeholder]
	}
	for _, name := range strings.Split(remove, ",") {
		if name = strings.TrimSpace(name); name != "" {
			delete(item, name)
		}
	}
	return &dyn.UpdateItemOutput{}, nil
}
