package counter

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
)

// Attribute names of the hits table: partition key "path", number "hits".
const (
	DynamoKeyAttr  = "path"
	DynamoHitsAttr = "hits"
)

// DynamoAPI is the subset of the DynamoDB client used by DynamoStore
type DynamoAPI interface {
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// DynamoStore increments with UpdateItem ADD, which DynamoDB applies atomically.
type DynamoStore struct {
	client DynamoAPI
	table  string
}

// NewDynamoStore wraps an existing client
func NewDynamoStore(client DynamoAPI, table string) *DynamoStore {
	return &DynamoStore{
		client: client,
		table:  table,
	}
}

// DynamoOptions configures OpenDynamo
type DynamoOptions struct {
	Table    string
	Region   string
	Endpoint string
}

// OpenDynamo builds a client from the default AWS credential chain
func OpenDynamo(ctx context.Context, opts DynamoOptions) (*DynamoStore, error) {
	if opts.Table == "" {
		return nil, errors.New("dynamodb table is required")
	}
	var loadOpts []func(*config.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(opts.Region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := dynamodb.NewFromConfig(cfg, opts.clientOptions)
	return NewDynamoStore(client, opts.Table), nil
}

// clientOptions turns off the SDK retryer; Retrying is the only retry
// bound for UpdateItem
func (opts DynamoOptions) clientOptions(o *dynamodb.Options) {
	o.RetryMaxAttempts = 1
	if opts.Endpoint != "" {
		o.BaseEndpoint = aws.String(opts.Endpoint)
	}
}

func (d *DynamoStore) itemKey(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		DynamoKeyAttr: &types.AttributeValueMemberS{Value: key},
	}
}

func (d *DynamoStore) Increment(ctx context.Context, key string) (int64, error) {
	if key == "" {
		return 0, ErrEmptyKey
	}
	out, err := d.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                aws.String(d.table),
		Key:                      d.itemKey(key),
		UpdateExpression:         aws.String("ADD #hits :incr"),
		ExpressionAttributeNames: map[string]string{"#hits": DynamoHitsAttr},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":incr": &types.AttributeValueMemberN{Value: "1"},
		},
		ReturnValues: types.ReturnValueUpdatedNew,
	})
	if err != nil {
		return 0, classifyDynamo("increment", key, err)
	}
	n, ok, err := hitsAttr(out.Attributes)
	if err != nil {
		return 0, fmt.Errorf("dynamodb increment %q: %w", key, err)
	}
	if !ok {
		return 0, fmt.Errorf("dynamodb increment %q: %s missing from response", key, DynamoHitsAttr)
	}
	return n, nil
}

func (d *DynamoStore) Get(ctx context.Context, key string) (int64, bool, error) {
	if key == "" {
		return 0, false, ErrEmptyKey
	}
	out, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:                aws.String(d.table),
		Key:                      d.itemKey(key),
		ConsistentRead:           aws.Bool(true),
		ProjectionExpression:     aws.String("#hits"),
		ExpressionAttributeNames: map[string]string{"#hits": DynamoHitsAttr},
	})
	if err != nil {
		return 0, false, classifyDynamo("get", key, err)
	}
	n, ok, err := hitsAttr(out.Item)
	if err != nil {
		return 0, false, fmt.Errorf("dynamodb get %q: %w", key, err)
	}
	return n, ok, nil
}

// List scans the whole table. It is meant for small tables and admin use.
func (d *DynamoStore) List(ctx context.Context) ([]Record, error) {
	var records []Record
	p := dynamodb.NewScanPaginator(d.client, &dynamodb.ScanInput{
		TableName: aws.String(d.table),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, classifyDynamo("list", "", err)
		}
		for _, item := range page.Items {
			k, ok := item[DynamoKeyAttr].(*types.AttributeValueMemberS)
			if !ok {
				continue
			}
			n, _, err := hitsAttr(item)
			if err != nil {
				return nil, fmt.Errorf("dynamodb list %q: %w", k.Value, err)
			}
			records = append(records, Record{Key: k.Value, Count: n})
		}
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Key < records[j].Key })
	return records, nil
}

func hitsAttr(item map[string]types.AttributeValue) (int64, bool, error) {
	av, ok := item[DynamoHitsAttr]
	if !ok {
		return 0, false, nil
	}
	num, ok := av.(*types.AttributeValueMemberN)
	if !ok {
		return 0, false, fmt.Errorf("%s is %T, want number", DynamoHitsAttr, av)
	}
	n, err := strconv.ParseInt(num.Value, 10, 64)
	if err != nil {
		return 0, false, err
	}
	return n, true, nil
}

func classifyDynamo(op, key string, err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ProvisionedThroughputExceededException", "RequestLimitExceeded", "ThrottlingException":
			return throttled(op, key, err)
		case "InternalServerError", "ServiceUnavailable":
			return unavailable(op, key, err)
		default:
			return fmt.Errorf("dynamodb %s %q: %w", op, key, err)
		}
	}
	return unavailable(op, key, err)
}
