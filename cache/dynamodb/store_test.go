package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/quadcache/cache"
	"github.com/hupe1980/quadcache/testutil"
)

// fakeClient is an in-memory table keyed by namespace and cache key.
type fakeClient struct {
	mu       sync.Mutex
	items    map[string]map[string]map[string]types.AttributeValue
	pageSize int

	failGet    error
	failDelete string
	queries    int
}

func newFakeClient() *fakeClient {
	return &fakeClient{items: make(map[string]map[string]map[string]types.AttributeValue), pageSize: 3}
}

func keyOf(m map[string]types.AttributeValue) (string, string) {
	return m[attrNamespace].(*types.AttributeValueMemberS).Value, m[attrKey].(*types.AttributeValueMemberS).Value
}

func (f *fakeClient) GetItem(_ context.Context, params *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failGet != nil {
		return nil, f.failGet
	}
	ns, key := keyOf(params.Key)
	return &dynamodb.GetItemOutput{Item: f.items[ns][key]}, nil
}

func (f *fakeClient) PutItem(_ context.Context, params *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ns, key := keyOf(params.Item)
	if f.items[ns] == nil {
		f.items[ns] = make(map[string]map[string]types.AttributeValue)
	}
	f.items[ns][key] = params.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeClient) Query(_ context.Context, params *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries++

	ns := params.ExpressionAttributeValues[":ns"].(*types.AttributeValueMemberS).Value
	var prefix string
	if p, ok := params.ExpressionAttributeValues[":prefix"]; ok {
		prefix = p.(*types.AttributeValueMemberS).Value
	}

	var keys []string
	for key := range f.items[ns] {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	slices.Sort(keys)

	if params.ExclusiveStartKey != nil {
		_, after := keyOf(params.ExclusiveStartKey)
		i, _ := slices.BinarySearch(keys, after)
		if i < len(keys) && keys[i] == after {
			i++
		}
		keys = keys[i:]
	}

	out := &dynamodb.QueryOutput{}
	if len(keys) > f.pageSize {
		keys = keys[:f.pageSize]
		out.LastEvaluatedKey = map[string]types.AttributeValue{
			attrNamespace: &types.AttributeValueMemberS{Value: ns},
			attrKey:       &types.AttributeValueMemberS{Value: keys[len(keys)-1]},
		}
	}
	for _, key := range keys {
		out.Items = append(out.Items, map[string]types.AttributeValue{
			attrKey: &types.AttributeValueMemberS{Value: key},
		})
	}
	return out, nil
}

func (f *fakeClient) DeleteItem(_ context.Context, params *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ns, key := keyOf(params.Key)
	if key == f.failDelete {
		return nil, errors.New("throttled")
	}
	delete(f.items[ns], key)
	return &dynamodb.DeleteItemOutput{}, nil
}

func newTestStore(client Client, clock *testutil.ManualClock, ns string) *Store {
	return NewStore(client, "quadcache", WithNamespace(ns), func(o *Options) { o.Now = clock.Now })
}

func TestStore_PutGet(t *testing.T) {
	ctx := context.Background()
	clock := testutil.NewManualClock(time.Unix(1_700_000_000, 0))
	s := newTestStore(newFakeClient(), clock, "roads")

	require.NoError(t, s.Put(ctx, "hrn::roads::h1::Data", []byte("one"), time.Minute))
	require.NoError(t, s.Put(ctx, "hrn::roads::h2::Data", []byte("two"), cache.NoExpiry))

	v, ok := s.Get(ctx, "hrn::roads::h1::Data")
	require.True(t, ok)
	assert.Equal(t, []byte("one"), v)
	assert.True(t, s.Contains(ctx, "hrn::roads::h1::Data"))

	_, ok = s.Get(ctx, "missing")
	assert.False(t, ok)
	assert.False(t, s.Contains(ctx, "missing"))

	clock.Advance(time.Minute)
	_, ok = s.Get(ctx, "hrn::roads::h1::Data")
	assert.False(t, ok, "expired items are a miss before DynamoDB deletes them")
	assert.False(t, s.Contains(ctx, "hrn::roads::h1::Data"))
	assert.True(t, s.Contains(ctx, "hrn::roads::h2::Data"))

	require.NoError(t, s.Put(ctx, "hrn::roads::h1::Data", []byte("again"), cache.NoExpiry))
	v, ok = s.Get(ctx, "hrn::roads::h1::Data")
	require.True(t, ok)
	assert.Equal(t, []byte("again"), v)
}

func TestStore_Invalid(t *testing.T) {
	ctx := context.Background()
	s := NewStore(newFakeClient(), "quadcache")

	assert.ErrorIs(t, s.Put(ctx, "", []byte("x"), 0), cache.ErrInvalidKey)
	assert.ErrorIs(t, s.Put(ctx, "big", make([]byte, MaxItemSize), 0), ErrValueTooLarge)
}

func TestStore_GetFailureIsMiss(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient()
	s := NewStore(client, "quadcache")
	require.NoError(t, s.Put(ctx, "k", []byte("v"), 0))

	client.failGet = errors.New("unavailable")
	_, ok := s.Get(ctx, "k")
	assert.False(t, ok)
	assert.False(t, s.Contains(ctx, "k"))
}

func TestStore_RemoveKeysWithPrefix(t *testing.T) {
	ctx := context.Background()
	clock := testutil.NewManualClock(time.Unix(1_700_000_000, 0))
	client := newFakeClient()
	roads := newTestStore(client, clock, "roads")
	other := newTestStore(client, clock, "other")

	for i := 0; i < 10; i++ {
		require.NoError(t, roads.Put(ctx, fmt.Sprintf("hrn::roads::%d::Data", i), []byte("x"), 0))
	}
	require.NoError(t, roads.Put(ctx, "hrn::rail::1::Data", []byte("y"), 0))
	require.NoError(t, other.Put(ctx, "hrn::roads::1::Data", []byte("z"), 0))

	require.NoError(t, roads.RemoveKeysWithPrefix(ctx, "hrn::roads::"))
	assert.GreaterOrEqual(t, client.queries, 4, "paginated over pages of 3")

	for i := 0; i < 10; i++ {
		assert.False(t, roads.Contains(ctx, fmt.Sprintf("hrn::roads::%d::Data", i)))
	}
	assert.True(t, roads.Contains(ctx, "hrn::rail::1::Data"))
	assert.True(t, other.Contains(ctx, "hrn::roads::1::Data"), "namespaces are isolated")

	require.NoError(t, roads.RemoveKeysWithPrefix(ctx, ""))
	assert.False(t, roads.Contains(ctx, "hrn::rail::1::Data"))
	assert.True(t, other.Contains(ctx, "hrn::roads::1::Data"))
}

func TestStore_RemoveKeysWithPrefixDeleteFailure(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient()
	s := NewStore(client, "quadcache")
	require.NoError(t, s.Put(ctx, "a::1", []byte("x"), 0))
	require.NoError(t, s.Put(ctx, "a::2", []byte("x"), 0))

	client.failDelete = "a::2"
	err := s.RemoveKeysWithPrefix(ctx, "a::")
	assert.ErrorContains(t, err, "throttled")
	assert.True(t, s.Contains(ctx, "a::2"))
}
