package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/hupe1980/lexgo/blobstore"
)

// Client is the subset of the S3 API used by Store. *s3.Client implements it.
type Client interface {
	manager.UploadAPIClient
	s3.ListObjectsV2APIClient
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// Store implements blobstore.BlobStore on an S3 bucket.
type Store struct {
	client      Client
	bucket      string
	prefix      string
	upload      UploadConfig
	uploader    *manager.Uploader
	conditional bool
}

// Option configures a Store.
type Option func(*storeOptions)

type storeOptions struct {
	prefix      string
	region      string
	endpoint    string
	pathStyle   bool
	upload      UploadConfig
	conditional bool
}

// WithPrefix stores all blobs below prefix.
func WithPrefix(prefix string) Option {
	return func(o *storeOptions) { o.prefix = prefix }
}

// WithRegion sets the AWS region used by New.
func WithRegion(region string) Option {
	return func(o *storeOptions) { o.region = region }
}

// WithEndpoint points New at an S3-compatible endpoint. Path-style
// addressing is enabled as most such services require it.
func WithEndpoint(endpoint string) Option {
	return func(o *storeOptions) {
		o.endpoint = endpoint
		o.pathStyle = true
	}
}

// WithUploadConfig overrides DefaultUploadConfig.
func WithUploadConfig(cfg UploadConfig) Option {
	return func(o *storeOptions) { o.upload = cfg }
}

// WithConditionalWrites makes Create use If-None-Match so that two writers
// can never publish the same name. The bucket must support conditional puts.
func WithConditionalWrites() Option {
	return func(o *storeOptions) { o.conditional = true }
}

func applyOptions(opts []Option) storeOptions {
	o := storeOptions{upload: DefaultUploadConfig()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// New creates a Store using the default AWS credential chain.
func New(ctx context.Context, bucket string, opts ...Option) (*Store, error) {
	o := applyOptions(opts)

	var loadOpts []func(*config.LoadOptions) error
	if o.region != "" {
		loadOpts = append(loadOpts, config.WithRegion(o.region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("s3: load aws config: %w", err)
	}
	return newFromConfig(cfg, bucket, o), nil
}

// NewFromConfig creates a Store from a loaded AWS config. WithRegion is
// ignored; the region comes from cfg.
func NewFromConfig(cfg aws.Config, bucket string, opts ...Option) *Store {
	return newFromConfig(cfg, bucket, applyOptions(opts))
}

func newFromConfig(cfg aws.Config, bucket string, o storeOptions) *Store {
	client := s3.NewFromConfig(cfg, func(so *s3.Options) {
		if o.endpoint != "" {
			so.BaseEndpoint = aws.String(o.endpoint)
		}
		so.UsePathStyle = o.pathStyle
	})
	return newStore(client, bucket, o)
}

// URI returns "s3://bucket/prefix", the identity of the index in a
// DDBCommitStore.
func (s *Store) URI() string {
	return "s3://" + s.bucket + "/" + s.prefix
}

// NewStore creates a Store on an existing client.
func NewStore(client Client, bucket string, opts ...Option) *Store {
	return newStore(client, bucket, applyOptions(opts))
}

func newStore(client Client, bucket string, o storeOptions) *Store {
	return &Store{
		client:      client,
		bucket:      bucket,
		prefix:      strings.Trim(o.prefix, "/"),
		upload:      o.upload,
		uploader:    newUploader(client, o.upload),
		conditional: o.conditional,
	}
}

// Bucket returns the bucket name.
func (s *Store) Bucket() string { return s.bucket }

// Prefix returns the key prefix without surrounding slashes.
func (s *Store) Prefix() string { return s.prefix }

func (s *Store) key(name string) string {
	if s.prefix == "" {
		return name
	}
	return s.prefix + "/" + name
}

// Open opens an existing blob for reading.
func (s *Store) Open(ctx context.Context, name string) (blobstore.Blob, error) {
	key := s.key(name)
	head, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("s3: open %s: %w", name, blobstore.ErrNotFound)
		}
		return nil, fmt.Errorf("s3: head %s: %w", name, err)
	}
	return &blob{
		client: s.client,
		bucket: s.bucket,
		key:    key,
		size:   aws.ToInt64(head.ContentLength),
	}, nil
}

// Create starts a streaming upload. Without conditional writes the
// existence check and the upload are not atomic.
func (s *Store) Create(ctx context.Context, name string) (blobstore.WritableBlob, error) {
	key := s.key(name)
	if !s.conditional {
		_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		switch {
		case err == nil:
			return nil, fmt.Errorf("s3: create %s: %w", name, blobstore.ErrExists)
		case !isNotFound(err):
			return nil, fmt.Errorf("s3: head %s: %w", name, err)
		}
	}
	return newStreamingWritableBlob(ctx, s.uploader, s.bucket, key, s.upload.EnableChecksum, s.conditional), nil
}

// Put writes data in a single request, with a CRC32C checksum when enabled.
func (s *Store) Put(ctx context.Context, name string, data []byte) error {
	if err := putWithChecksum(ctx, s.client, s.bucket, s.key(name), data, s.upload.EnableChecksum); err != nil {
		return fmt.Errorf("s3: put %s: %w", name, err)
	}
	return nil
}

// Delete removes a blob. S3 reports success for missing keys.
func (s *Store) Delete(ctx context.Context, name string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("s3: delete %s: %w", name, err)
	}
	return nil
}

// List returns the sorted blob names starting with prefix.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	root := ""
	if s.prefix != "" {
		root = s.prefix + "/"
	}
	p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(root + prefix),
	})

	var names []string
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3: list %q: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), root)
			if name == "" || strings.Contains(name, "/") {
				continue
			}
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// isNotFound reports whether err means the key does not exist.
func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}
	return false
}

// isPreconditionFailed reports whether a conditional write lost its race.
func isPreconditionFailed(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "PreconditionFailed", "ConditionalRequestConflict":
			return true
		}
	}
	return false
}

// blob reads an object with ranged GETs.
type blob struct {
	client Client
	bucket string
	key    string
	size   int64
}

func (b *blob) Size() int64  { return b.size }
func (b *blob) Close() error { return nil }

func (b *blob) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("s3: negative offset %d", off)
	}
	if off >= b.size {
		if len(p) == 0 {
			return 0, nil
		}
		return 0, io.EOF
	}
	want := int64(len(p))
	if off+want > b.size {
		want = b.size - off
	}
	if want == 0 {
		return 0, nil
	}
	rc, err := b.get(ctx, off, want)
	if err != nil {
		return 0, err
	}
	defer rc.Close()

	n, err := io.ReadFull(rc, p[:want])
	if err != nil {
		return n, fmt.Errorf("s3: read %s: %w", b.key, err)
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (b *blob) ReadRange(ctx context.Context, off, length int64) (io.ReadCloser, error) {
	if off < 0 || length < 0 {
		return nil, fmt.Errorf("s3: invalid range %d+%d", off, length)
	}
	if off+length > b.size {
		length = b.size - off
	}
	if length <= 0 {
		return io.NopCloser(bytes.NewReader(nil)), nil
	}
	return b.get(ctx, off, length)
}

func (b *blob) get(ctx context.Context, off, length int64) (io.ReadCloser, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", off, off+length-1)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("s3: get %s: %w", b.key, blobstore.ErrNotFound)
		}
		return nil, fmt.Errorf("s3: get %s: %w", b.key, err)
	}
	return out.Body, nil
}
