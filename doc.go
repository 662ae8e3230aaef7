// Package lexgo is an embeddable, segment-based inverted index.
//
// Documents are buffered in memory, flushed into immutable segments and
// published through numbered commits. Readers search a point-in-time View
// that stays valid, files included, until they release it, while merges
// compact segments in the background.
//
// # Quick Start
//
//	ctx := context.Background()
//	store, _ := blobstore.NewLocalStore("./index")
//	idx, _ := lexgo.Open(ctx, store)
//	defer idx.Close()
//
//	_ = idx.AddDocument(ctx, model.NewDocument(
//	    model.KeywordField("id", "42", true),
//	    model.TextField("body", "hello segment world", false),
//	    model.Int64Field("price", 1299, true),
//	))
//	_ = idx.Commit(ctx, nil)
//
// # Searching
//
// Refresh publishes flushed segments to readers without a commit:
//
//	_, _ = idx.Refresh(ctx)
//	v, _ := idx.Acquire()
//	defer idx.Release(v)
//
//	p, _ := v.Postings("body", []byte("hello"))
//	for doc, _ := p.Next(); doc != model.NoMoreDocs; doc, _ = p.Next() {
//	    stored, _ := v.Document(ctx, doc)
//	    fmt.Println(stored.Get("id"))
//	}
//
// Numeric fields are indexed as trie terms and queried with a range filter:
//
//	lo, hi := int64(1000), int64(2000)
//	f, _ := numeric.NewInt64RangeFilter("price", numeric.DefaultPrecisionStep, &lo, &hi, true, true)
//	docs, _ := v.NumericRange(ctx, f)
//
// # Durability Model
//
//	idx.AddDocument(ctx, doc) // buffered in memory
//	idx.Flush(ctx)            // written as a segment, visible after Refresh
//	idx.Commit(ctx, nil)      // durable after this
//
// A separate process can follow the commits of a writer with OpenReader.
// ReadCommit reports the latest commit without opening either.
//
// # Storage
//
// Any blobstore.BlobStore works: local disk, memory, S3 (optionally with a
// DynamoDB commit pointer) or MinIO. LoadConfig and Config.OpenStore build
// one from a YAML file.
package lexgo
