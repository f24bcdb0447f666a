// Package s3 provides an S3 implementation of the blobstore.BlobStore interface.
//
// # Usage
//
//	store, err := s3.New(ctx, "my-catalog-bucket",
//	    s3.WithPrefix("catalogs/roads/"),
//	    s3.WithRegion("eu-west-1"),
//	)
//
//	cat := catalog.NewBlobCatalog(store)
//
// # Features
//
//   - Range reads for partial fetches
//   - Managed uploads (multipart for large blobs)
//   - Automatic pagination for listing
//   - Custom endpoints for S3-compatible services
package s3
