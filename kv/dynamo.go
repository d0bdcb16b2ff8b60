package kv

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
)

// DynamoDBAPI is the subset of the DynamoDB client used by DynamoStore.
type DynamoDBAPI interface {
	GetItem(ctx context.Context, params *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error)
	PutItem(ctx context.Context, params *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dyn.DeleteItemInput, optFns ...func(*dyn.Options)) (*dyn.DeleteItemOutput, error)
	Scan(ctx context.Context, params *dyn.ScanInput, optFns ...func(*dyn.Options)) (*dyn.ScanOutput, error)
	DescribeTable(ctx context.Context, params *dyn.DescribeTableInput, optFns ...func(*dyn.Options)) (*dyn.DescribeTableOutput, error)
}

// dynamoItem is the shape persisted in the table. The partition key is "k".
type dynamoItem struct {
	Key       string `dynamodbav:"k"`
	Value     string `dynamodbav:"v"`
	UpdatedAt int64  `dynamodbav:"updated_at"`
}

// DynamoStore is a Store backed by a DynamoDB table with string hash key "k".
type DynamoStore struct {
	client  DynamoDBAPI
	table   string
	nowFunc func() time.Time

	mu     sync.RWMutex
	closed bool
}

// NewDynamoStore returns a store bound to table.
func NewDynamoStore(client DynamoDBAPI, table string) *DynamoStore {
	return &DynamoStore{
		client:  client,
		table:   table,
		nowFunc: time.Now,
	}
}

// NewDynamoClient loads the default AWS configuration and returns a client.
// AWS_REGION is honored; region overrides it when non-empty.
func NewDynamoClient(ctx context.Context, region string) (*dyn.Client, error) {
	if region == "" {
		region = os.Getenv("AWS_REGION")
	}
	if region == "" {
		region = "us-east-1"
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("kv: load aws config: %w", err)
	}
	return dyn.NewFromConfig(cfg), nil
}

// Get returns the stored value. Returns ("", false, nil) on miss.
func (s *DynamoStore) Get(ctx context.Context, key string) (string, bool, error) {
	if err := s.usable(); err != nil {
		return "", false, err
	}
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.table,
		Key:            keyAttr(key),
		ConsistentRead: sdkaws.Bool(true),
	})
	if err != nil {
		return "", false, wrapDynamoErr("get", key, err)
	}
	if len(out.Item) == 0 {
		return "", false, nil
	}
	var item dynamoItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return "", false, fmt.Errorf("%w: unmarshal %q: %w", ErrStorage, key, err)
	}
	return item.Value, true, nil
}

// Set writes value under key, replacing any previous item.
func (s *DynamoStore) Set(ctx context.Context, key, value string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if err := s.usable(); err != nil {
		return err
	}
	item, err := attributevalue.MarshalMap(dynamoItem{
		Key:       key,
		Value:     value,
		UpdatedAt: s.nowFunc().UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("%w: marshal %q: %w", ErrStorage, key, err)
	}
	if _, err := s.client.PutItem(ctx, &dyn.PutItemInput{TableName: &s.table, Item: item}); err != nil {
		return wrapDynamoErr("put", key, err)
	}
	return nil
}

// Remove deletes key. Idempotent.
func (s *DynamoStore) Remove(ctx context.Context, key string) error {
	if err := s.usable(); err != nil {
		return err
	}
	if _, err := s.client.DeleteItem(ctx, &dyn.DeleteItemInput{TableName: &s.table, Key: keyAttr(key)}); err != nil {
		return wrapDynamoErr("delete", key, err)
	}
	return nil
}

// Keys scans the table for keys beginning with prefix, following pagination.
func (s *DynamoStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	if err := s.usable(); err != nil {
		return nil, err
	}

	input := &dyn.ScanInput{
		TableName:                &s.table,
		ProjectionExpression:     sdkaws.String("#k"),
		ExpressionAttributeNames: map[string]string{"#k": "k"},
	}
	if prefix != "" {
		input.FilterExpression = sdkaws.String("begins_with(#k, :p)")
		input.ExpressionAttributeValues = map[string]types.AttributeValue{
			":p": &types.AttributeValueMemberS{Value: prefix},
		}
	}

	keys := make([]string, 0)
	for {
		out, err := s.client.Scan(ctx, input)
		if err != nil {
			return nil, wrapDynamoErr("scan", prefix, err)
		}
		for _, raw := range out.Items {
			if attr, ok := raw["k"].(*types.AttributeValueMemberS); ok && strings.HasPrefix(attr.Value, prefix) {
				keys = append(keys, attr.Value)
			}
		}
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
	sort.Strings(keys)
	return keys, nil
}

// Ping describes the table to confirm it is reachable.
func (s *DynamoStore) Ping(ctx context.Context) error {
	if err := s.usable(); err != nil {
		return err
	}
	if _, err := s.client.DescribeTable(ctx, &dyn.DescribeTableInput{TableName: &s.table}); err != nil {
		return wrapDynamoErr("describe", s.table, err)
	}
	return nil
}

// Close marks the store closed. The client is owned by the caller.
func (s *DynamoStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *DynamoStore) usable() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

func keyAttr(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"k": &types.AttributeValueMemberS{Value: key},
	}
}

func wrapDynamoErr(op, key string, err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%w: %s %q: %s: %w", ErrStorage, op, key, apiErr.ErrorCode(), err)
	}
	return fmt.Errorf("%w: %s %q: %w", ErrStorage, op, key, err)
}

var _ Store = (*DynamoStore)(nil)
