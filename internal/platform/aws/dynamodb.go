package aws

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
)

// DefaultSnapshotTTL is how long persisted items live before DynamoDB expires them
const DefaultSnapshotTTL = 7 * 24 * time.Hour

// dynamoAPI is the subset of the DynamoDB client used here
type dynamoAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// TableWriter writes items into one DynamoDB table
type TableWriter struct {
	client dynamoAPI
	table  string
}

// NewTableWriter creates a writer for table
func NewTableWriter(cfg aws.Config, endpoint, table string) *TableWriter {
	client := dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if override := endpointOverride(endpoint); override != nil {
			o.BaseEndpoint = override
		}
	})
	return &TableWriter{client: client, table: table}
}

// Table returns the table name
func (w *TableWriter) Table() string {
	return w.table
}

// Put marshals item with its dynamodbav tags and writes it
func (w *TableWriter) Put(ctx context.Context, item any) error {
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	_, err = w.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(w.table),
		Item:      av,
	})
	if err != nil {
		return fmt.Errorf("failed to put item: %w", err)
	}
	return nil
}

// ExpiresAt returns the epoch-seconds value for a TTL attribute
func ExpiresAt(now time.Time, ttl time.Duration) int64 {
	return now.Add(ttl).Unix()
}
