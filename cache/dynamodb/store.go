package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/quadcache/cache"
)

const (
	attrNamespace = "ns"
	attrKey       = "key"
	attrValue     = "value"
	attrExpiresAt = "expires_at"

	// MaxItemSize is the DynamoDB item size limit. Values that do not fit
	// next to their key are rejected by Put.
	MaxItemSize = 400 << 10

	// DefaultNamespace is the partition key used when none is configured.
	DefaultNamespace = "quadcache"
)

// ErrValueTooLarge is returned by Put for values exceeding the item size limit.
var ErrValueTooLarge = errors.New("dynamodb: value exceeds item size limit")

// Client is the subset of the DynamoDB API used by Store.
type Client interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// Options configures a Store.
type Options struct {
	// Namespace is the partition key of every item. Caches sharing a table
	// are isolated by namespace. Defaults to DefaultNamespace.
	Namespace string

	// MaxConcurrentDeletes limits parallel DeleteItem calls in
	// RemoveKeysWithPrefix. Defaults to 16.
	MaxConcurrentDeletes int

	// Region and Endpoint override the AWS configuration used by New.
	Region   string
	Endpoint string

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// WithNamespace sets the partition key of the cache.
func WithNamespace(ns string) func(*Options) {
	return func(o *Options) { o.Namespace = ns }
}

// WithRegion overrides the region from the environment.
func WithRegion(region string) func(*Options) {
	return func(o *Options) { o.Region = region }
}

// WithEndpoint points the client at a DynamoDB-compatible endpoint such as
// DynamoDB Local.
func WithEndpoint(endpoint string) func(*Options) {
	return func(o *Options) { o.Endpoint = endpoint }
}

// Store implements cache.Store on a DynamoDB table.
type Store struct {
	client Client
	table  string
	opts   Options
}

var _ cache.Store = (*Store)(nil)

// NewStore creates a store on table using client.
func NewStore(client Client, table string, optFns ...func(*Options)) *Store {
	opts := Options{
		Namespace:            DefaultNamespace,
		MaxConcurrentDeletes: 16,
		Now:                  time.Now,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Namespace == "" {
		opts.Namespace = DefaultNamespace
	}
	if opts.MaxConcurrentDeletes <= 0 {
		opts.MaxConcurrentDeletes = 16
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Store{client: client, table: table, opts: opts}
}

// New loads the default AWS configuration and returns a store on table.
func New(ctx context.Context, table string, optFns ...func(*Options)) (*Store, error) {
	var opts Options
	for _, fn := range optFns {
		fn(&opts)
	}

	var loadOpts []func(*config.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(opts.Region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("dynamodb: load aws config: %w", err)
	}

	client := dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
	})
	return NewStore(client, table, optFns...), nil
}

func (s *Store) itemKey(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attrNamespace: &types.AttributeValueMemberS{Value: s.opts.Namespace},
		attrKey:       &types.AttributeValueMemberS{Value: key},
	}
}

// live reports whether item exists and has not expired.
func (s *Store) live(item map[string]types.AttributeValue) bool {
	if item == nil {
		return false
	}
	n, ok := item[attrExpiresAt].(*types.AttributeValueMemberN)
	if !ok {
		return true
	}
	exp, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil {
		return false
	}
	return s.opts.Now().Unix() < exp
}

// Get implements cache.Store. Request failures are reported as misses.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool) {
	if key == "" {
		return nil, false
	}
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            s.itemKey(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil || !s.live(out.Item) {
		return nil, false
	}
	v, ok := out.Item[attrValue].(*types.AttributeValueMemberB)
	if !ok {
		return nil, false
	}
	return v.Value, true
}

// Contains implements cache.Store.
func (s *Store) Contains(ctx context.Context, key string) bool {
	if key == "" {
		return false
	}
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:                aws.String(s.table),
		Key:                      s.itemKey(key),
		ConsistentRead:           aws.Bool(true),
		ProjectionExpression:     aws.String("#k, #e"),
		ExpressionAttributeNames: map[string]string{"#k": attrKey, "#e": attrExpiresAt},
	})
	return err == nil && s.live(out.Item)
}

// Put implements cache.Store. Expiry has a resolution of one second.
func (s *Store) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return cache.ErrInvalidKey
	}
	if len(key)+len(value)+len(s.opts.Namespace) > MaxItemSize {
		return fmt.Errorf("%w: %q has %d bytes", ErrValueTooLarge, key, len(value))
	}

	item := s.itemKey(key)
	item[attrValue] = &types.AttributeValueMemberB{Value: value}
	if ttl > 0 {
		exp := s.opts.Now().Add(ttl).Unix()
		item[attrExpiresAt] = &types.AttributeValueMemberN{Value: strconv.FormatInt(exp, 10)}
	}

	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      item,
	}); err != nil {
		return fmt.Errorf("dynamodb: put %q: %w", key, err)
	}
	return nil
}

// RemoveKeysWithPrefix implements cache.Store. Matching keys are listed with
// a key-condition query on the namespace and deleted in parallel.
func (s *Store) RemoveKeysWithPrefix(ctx context.Context, prefix string) error {
	input := &dynamodb.QueryInput{
		TableName:                aws.String(s.table),
		KeyConditionExpression:   aws.String("#ns = :ns"),
		ProjectionExpression:     aws.String("#k"),
		ExpressionAttributeNames: map[string]string{"#ns": attrNamespace, "#k": attrKey},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":ns": &types.AttributeValueMemberS{Value: s.opts.Namespace},
		},
		ConsistentRead: aws.Bool(true),
	}
	if prefix != "" {
		input.KeyConditionExpression = aws.String("#ns = :ns AND begins_with(#k, :prefix)")
		input.ExpressionAttributeValues[":prefix"] = &types.AttributeValueMemberS{Value: prefix}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.MaxConcurrentDeletes)

	p := dynamodb.NewQueryPaginator(s.client, input)
	for p.HasMorePages() {
		page, err := p.NextPage(gctx)
		if err != nil {
			if werr := g.Wait(); werr != nil {
				return werr
			}
			return fmt.Errorf("dynamodb: query prefix %q: %w", prefix, err)
		}
		for _, item := range page.Items {
			k, ok := item[attrKey].(*types.AttributeValueMemberS)
			if !ok {
				continue
			}
			g.Go(func() error {
				_, err := s.client.DeleteItem(gctx, &dynamodb.DeleteItemInput{
					TableName: aws.String(s.table),
					Key:       s.itemKey(k.Value),
				})
				if err != nil {
					return fmt.Errorf("dynamodb: delete %q: %w", k.Value, err)
				}
				return nil
			})
		}
	}
	return g.Wait()
}
