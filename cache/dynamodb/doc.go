// Package dynamodb provides a cache.Store backed by an Amazon DynamoDB table,
// so several processes can share one tile cache.
//
// # Table
//
//	aws dynamodb create-table \
//	  --table-name quadcache \
//	  --attribute-definitions AttributeName=ns,AttributeType=S AttributeName=key,AttributeType=S \
//	  --key-schema AttributeName=ns,KeyType=HASH AttributeName=key,KeyType=RANGE \
//	  --billing-mode PAY_PER_REQUEST
//	aws dynamodb update-time-to-live --table-name quadcache \
//	  --time-to-live-specification Enabled=true,AttributeName=expires_at
//
// Items carry the value as a binary attribute and, when they expire, the
// unix second in expires_at. DynamoDB deletes expired items lazily, so reads
// check expires_at themselves.
//
// # Usage
//
//	store, err := dynamodb.New(ctx, "quadcache", dynamodb.WithNamespace("roads-v42"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	client, err := quadcache.New(hrn, "roads", 42, store, svc)
//
// Store does not implement cache.Protector; the tile client protects
// entries on it by rewriting them without expiry.
package dynamodb
