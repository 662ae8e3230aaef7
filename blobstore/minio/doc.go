// Package minio stores index files in MinIO or another S3-compatible service
// through the MinIO client, without pulling in the AWS SDK.
//
//	store, err := minio.New(ctx, minio.Config{
//	    Endpoint:     "localhost:9000",
//	    AccessKey:    "minioadmin",
//	    SecretKey:    "minioadmin",
//	    Bucket:       "indexes",
//	    Prefix:       "products",
//	    CreateBucket: true,
//	})
//	if err != nil {
//	    return err
//	}
//	idx, err := lexgo.Open(ctx, store)
//
// Create checks for an existing object before uploading. The check is not
// atomic, so run a single writer per prefix.
package minio
