package s3

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/lexgo/blobstore"
)

func keyIs(key string) any {
	return mock.MatchedBy(func(in *s3.HeadObjectInput) bool { return aws.ToString(in.Key) == key })
}

func TestStoreOpenNotFound(t *testing.T) {
	client := &MockS3Client{}
	client.On("HeadObject", mock.Anything, keyIs("idx/missing")).Return(nil, &types.NotFound{})
	store := NewStore(client, "bucket", WithPrefix("/idx/"))

	_, err := store.Open(context.Background(), "missing")
	assert.ErrorIs(t, err, blobstore.ErrNotFound)

	ok, err := blobstore.Exists(context.Background(), store, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
	client.AssertExpectations(t)
}

func TestStoreOpenAndRead(t *testing.T) {
	ctx := context.Background()
	client := &MockS3Client{}
	client.On("HeadObject", mock.Anything, keyIs("idx/_0.si")).
		Return(&s3.HeadObjectOutput{ContentLength: aws.Int64(11)}, nil)
	rangeIs := func(r string) any {
		return mock.MatchedBy(func(in *s3.GetObjectInput) bool { return aws.ToString(in.Range) == r })
	}
	client.On("GetObject", mock.Anything, rangeIs("bytes=0-4")).
		Return(&s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader([]byte("hello")))}, nil)
	client.On("GetObject", mock.Anything, rangeIs("bytes=8-10")).
		Return(&s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader([]byte("rld")))}, nil)
	client.On("GetObject", mock.Anything, rangeIs("bytes=6-10")).
		Return(&s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader([]byte("world")))}, nil)

	store := NewStore(client, "bucket", WithPrefix("idx"))
	b, err := store.Open(ctx, "_0.si")
	require.NoError(t, err)
	defer b.Close()
	assert.Equal(t, int64(11), b.Size())

	buf := make([]byte, 5)
	n, err := b.ReadAt(ctx, buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:n]))

	buf = make([]byte, 10)
	n, err = b.ReadAt(ctx, buf, 8)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, "rld", string(buf[:n]))

	_, err = b.ReadAt(ctx, buf, 11)
	assert.ErrorIs(t, err, io.EOF)

	rc, err := b.ReadRange(ctx, 6, 100)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "world", string(data))

	rc, err = b.ReadRange(ctx, 11, 5)
	require.NoError(t, err)
	data, err = io.ReadAll(rc)
	require.NoError(t, err)
	assert.Empty(t, data)
	client.AssertExpectations(t)
}

func TestStoreList(t *testing.T) {
	client := &MockS3Client{}
	firstPage := mock.MatchedBy(func(in *s3.ListObjectsV2Input) bool {
		return aws.ToString(in.Prefix) == "idx/_" && in.ContinuationToken == nil
	})
	secondPage := mock.MatchedBy(func(in *s3.ListObjectsV2Input) bool {
		return aws.ToString(in.ContinuationToken) == "next"
	})
	client.On("ListObjectsV2", mock.Anything, firstPage).Return(&s3.ListObjectsV2Output{
		Contents: []types.Object{
			{Key: aws.String("idx/_1.si")},
			{Key: aws.String("idx/_0.si")},
		},
		IsTruncated:           aws.Bool(true),
		NextContinuationToken: aws.String("next"),
	}, nil).Once()
	client.On("ListObjectsV2", mock.Anything, secondPage).Return(&s3.ListObjectsV2Output{
		Contents: []types.Object{
			{Key: aws.String("idx/_0.doc")},
			{Key: aws.String("idx/_nested/x")},
		},
		IsTruncated: aws.Bool(false),
	}, nil).Once()

	store := NewStore(client, "bucket", WithPrefix("idx"))
	names, err := store.List(context.Background(), "_")
	require.NoError(t, err)
	assert.Equal(t, []string{"_0.doc", "_0.si", "_1.si"}, names)
	client.AssertExpectations(t)
}

func TestStorePutAndDelete(t *testing.T) {
	ctx := context.Background()
	client := &MockS3Client{}
	client.On("PutObject", mock.Anything, mock.MatchedBy(func(in *s3.PutObjectInput) bool {
		return aws.ToString(in.Key) == "CURRENT" &&
			aws.ToString(in.ChecksumCRC32C) == computeCRC32C([]byte("MANIFEST-000001.bin")) &&
			aws.ToInt64(in.ContentLength) == 19
	})).Return(&s3.PutObjectOutput{}, nil)
	client.On("DeleteObject", mock.Anything, mock.MatchedBy(func(in *s3.DeleteObjectInput) bool {
		return aws.ToString(in.Key) == "_0.si"
	})).Return(&s3.DeleteObjectOutput{}, nil)

	store := NewStore(client, "bucket")
	require.NoError(t, store.Put(ctx, "CURRENT", []byte("MANIFEST-000001.bin")))
	require.NoError(t, store.Delete(ctx, "_0.si"))
	client.AssertExpectations(t)
}

func TestStoreCreate(t *testing.T) {
	ctx := context.Background()
	client := &MockS3Client{}
	client.On("HeadObject", mock.Anything, keyIs("_0.doc")).Return(nil, &types.NotFound{})

	var uploaded []byte
	client.On("PutObject", mock.Anything, mock.MatchedBy(func(in *s3.PutObjectInput) bool {
		return aws.ToString(in.Key) == "_0.doc"
	})).Run(func(args mock.Arguments) {
		in := args.Get(1).(*s3.PutObjectInput)
		uploaded, _ = io.ReadAll(in.Body)
	}).Return(&s3.PutObjectOutput{}, nil)

	store := NewStore(client, "bucket")
	w, err := store.Create(ctx, "_0.doc")
	require.NoError(t, err)
	_, err = w.Write([]byte("postings "))
	require.NoError(t, err)
	_, err = w.Write([]byte("data"))
	require.NoError(t, err)
	require.NoError(t, w.Sync())
	require.NoError(t, w.Close())
	require.NoError(t, w.Abort(), "abort after close")

	assert.Equal(t, "postings data", string(uploaded))
	client.AssertExpectations(t)
}

func TestStoreCreateExisting(t *testing.T) {
	client := &MockS3Client{}
	client.On("HeadObject", mock.Anything, keyIs("_0.doc")).Return(&s3.HeadObjectOutput{}, nil)

	_, err := NewStore(client, "bucket").Create(context.Background(), "_0.doc")
	assert.ErrorIs(t, err, blobstore.ErrExists)
}

func TestStoreCreateAbort(t *testing.T) {
	client := &MockS3Client{}
	client.On("HeadObject", mock.Anything, keyIs("_0.doc")).Return(nil, &types.NotFound{})
	client.On("PutObject", mock.Anything, mock.Anything).Return(&s3.PutObjectOutput{}, nil).Maybe()

	w, err := NewStore(client, "bucket").Create(context.Background(), "_0.doc")
	require.NoError(t, err)
	_, err = w.Write([]byte("partial"))
	require.NoError(t, err)
	require.NoError(t, w.Abort())
	assert.Error(t, w.Close())
}

func TestStoreConditionalCreate(t *testing.T) {
	client := &MockS3Client{}
	client.On("PutObject", mock.Anything, mock.MatchedBy(func(in *s3.PutObjectInput) bool {
		return aws.ToString(in.IfNoneMatch) == "*"
	})).Run(func(args mock.Arguments) {
		_, _ = io.ReadAll(args.Get(1).(*s3.PutObjectInput).Body)
	}).Return(nil, &smithy.GenericAPIError{Code: "PreconditionFailed"})

	w, err := NewStore(client, "bucket", WithConditionalWrites()).Create(context.Background(), "_0.doc")
	require.NoError(t, err)
	_, err = w.Write([]byte("x"))
	require.NoError(t, err)
	assert.ErrorIs(t, w.Close(), blobstore.ErrExists)
	client.AssertNotCalled(t, "HeadObject", mock.Anything, mock.Anything)
}

func TestComputeCRC32C(t *testing.T) {
	// Known CRC32C of "123456789" is 0xE3069283.
	assert.Equal(t, "4waSgw==", computeCRC32C([]byte("123456789")))
}
