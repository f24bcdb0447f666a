// Package minio provides a BlobStore implementation using the MinIO client.
//
// It works with MinIO and other S3-compatible storage systems such as Ceph,
// SeaweedFS and Garage, and needs no AWS dependencies.
//
// # Basic Usage
//
//	store, err := minioblob.New("localhost:9000", "catalogs", minioblob.Options{
//	    AccessKey: "minioadmin",
//	    SecretKey: "minioadmin",
//	    Prefix:    "roads/",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	cat := catalog.NewBlobCatalog(store)
//
// An existing *minio.Client can be wrapped with NewStore.
package minio
