package aws

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// Clients bundles the service clients a binary needs. SQS and CloudWatch are
// nil when the corresponding option is off, and callers treat nil as
// "feature disabled".
type Clients struct {
	DynamoDB   DynamoDBAPI
	SQS        SQSAPI
	CloudWatch CloudWatchAPI
}

// ClientOptions selects the optional clients.
type ClientOptions struct {
	Queue   bool
	Metrics bool
}

// NewClients loads the AWS config once and builds the selected clients from it.
func NewClients(ctx context.Context, opts ClientOptions) (*Clients, error) {
	cfg, err := LoadAWSConfig(ctx)
	if err != nil {
		return nil, err
	}

	c := &Clients{DynamoDB: dynamodb.NewFromConfig(cfg)}
	if opts.Queue {
		c.SQS = sqs.NewFromConfig(cfg)
	}
	if opts.Metrics {
		c.CloudWatch = cloudwatch.NewFromConfig(cfg)
	}
	return c, nil
}
