// Package s3 stores index files in Amazon S3 or an S3-compatible service.
//
// # Usage
//
//	store, err := s3.New(ctx, "my-bucket", s3.WithPrefix("indexes/products"))
//	if err != nil {
//	    return err
//	}
//	idx, err := lexgo.Open(ctx, store)
//
// # Commit safety
//
// Plain S3 offers no compare-and-swap, so two writers committing to the same
// prefix can overwrite each other's CURRENT pointer. Either run a single
// writer per prefix, enable conditional writes with WithConditionalWrites
// (S3 Express and buckets supporting If-None-Match), or wrap the store in a
// DDBCommitStore that keeps the commit pointer in DynamoDB.
package s3
