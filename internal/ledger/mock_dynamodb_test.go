package ledger

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// mockDynamo is a small in-memory table keyed by ledger_key. UpdateItem
// understands the expression shapes the store issues: plain
// "attr = :attr" assignments, the "#n" counter increment and the "#r"
// retry reset.
type mockDynamo struct {
	mu          sync.Mutex
	table       map[string]map[string]types.AttributeValue
	updateCalls int
	err         error
}

func newMockDynamo() *mockDynamo {
	return &mockDynamo{table: map[string]map[string]types.AttributeValue{}}
}

func (m *mockDynamo) PutItem(ctx context.Context, params *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := params.Item["ledger_key"].(*types.AttributeValueMemberS).Value
	m.table[k] = params.Item
	return &dyn.PutItemOutput{}, nil
}

func (m *mockDynamo) GetItem(ctx context.Context, params *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	keyAttr := params.Key["ledger_key"]
	if keyAttr == nil {
		return nil, errors.New("missing key")
	}
	item, ok := m.table[keyAttr.(*types.AttributeValueMemberS).Value]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: item}, nil
}

func (m *mockDynamo) UpdateItem(ctx context.Context, params *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updateCalls++
	if m.err != nil {
		return nil, m.err
	}
	k := params.Key["ledger_key"].(*types.AttributeValueMemberS).Value
	item, ok := m.table[k]
	if !ok {
		item = map[string]types.AttributeValue{"ledger_key": params.Key["ledger_key"]}
	}

	counter := params.ExpressionAttributeNames["#n"]
	current := 0
	if v, ok := item[counter].(*types.AttributeValueMemberN); ok {
		current, _ = strconv.Atoi(v.Value)
	}
	if params.ConditionExpression != nil && strings.Contains(*params.ConditionExpression, "< :max") {
		limit, _ := strconv.Atoi(params.ExpressionAttributeValues[":max"].(*types.AttributeValueMemberN).Value)
		if current >= limit {
			return nil, &types.ConditionalCheckFailedException{}
		}
	}

	for placeholder, v := range params.ExpressionAttributeValues {
		switch placeholder {
		case ":zero", ":inc", ":max":
			continue
		}
		attr := strings.TrimPrefix(placeholder, ":")
		for alias, name := range params.ExpressionAttributeNames {
			if strings.Contains(*params.UpdateExpression, alias+" = "+placeholder) {
				attr = name
			}
		}
		item[attr] = v
	}
	if _, ok := params.ExpressionAttributeValues[":inc"]; ok {
		item[counter] = &types.AttributeValueMemberN{Value: strconv.Itoa(current + 1)}
	}
	if reset, ok := params.ExpressionAttributeNames["#r"]; ok && strings.Contains(*params.UpdateExpression, "#r = :zero") {
		item[reset] = &types.AttributeValueMemberN{Value: "0"}
	}
	m.table[k] = item
	return &dyn.UpdateItemOutput{Attributes: item}, nil
}
