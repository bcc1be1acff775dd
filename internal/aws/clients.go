package aws

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// Services selects which clients NewAWSClients builds.
type Services struct {
	DynamoDB   bool
	SQS        bool
	CloudWatch bool
}

// Any reports whether at least one service is needed.
func (s Services) Any() bool {
	return s.DynamoDB || s.SQS || s.CloudWatch
}

// AWSClients bundles the ledger, retry queue and metrics clients. Clients
// that were not requested are nil.
type AWSClients struct {
	DynamoDB   DynamoDBAPI
	SQS        SQSAPI
	CloudWatch CloudWatchAPI
}

// NewAWSClients loads the shared AWS config once and builds the requested
// service clients from it.
func NewAWSClients(ctx context.Context, settings Settings, services Services) (*AWSClients, error) {
	cfg, err := LoadAWSConfig(ctx, settings)
	if err != nil {
		return nil, err
	}

	clients := &AWSClients{}
	if services.DynamoDB {
		clients.DynamoDB = dynamodb.NewFromConfig(cfg)
	}
	if services.SQS {
		clients.SQS = sqs.NewFromConfig(cfg)
	}
	if services.CloudWatch {
		clients.CloudWatch = cloudwatch.NewFromConfig(cfg)
	}
	return clients, nil
}
