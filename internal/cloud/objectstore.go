package cloud

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3API is the subset of the S3 client used by the ObjectStore adapter.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Object describes one stored object.
type Object struct {
	Key          string
	LastModified time.Time
	Size         int64
}

// ObjectStore provides bucket-scoped object storage operations.
type ObjectStore struct {
	api    S3API
	bucket string
}

// NewObjectStore creates an ObjectStore bound to a bucket.
func NewObjectStore(api S3API, bucket string) *ObjectStore {
	return &ObjectStore{api: api, bucket: bucket}
}

// Bucket returns the bucket this store is bound to.
func (o *ObjectStore) Bucket() string {
	return o.bucket
}

// Upload streams body to the given key.
func (o *ObjectStore) Upload(ctx context.Context, key string, body io.Reader) error {
	_, err := o.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(o.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String("text/csv"),
	})
	if err != nil {
		return fmt.Errorf("object store: put %q: %w", key, err)
	}
	return nil
}

// Put writes data to the given key.
func (o *ObjectStore) Put(ctx context.Context, key string, data []byte) error {
	return o.Upload(ctx, key, bytes.NewReader(data))
}

// Get reads the full contents of the object at key.
func (o *ObjectStore) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := o.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(o.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("object store: get %q: %w", key, err)
	}
	defer func() { _ = out.Body.Close() }()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("object store: reading %q: %w", key, err)
	}
	return data, nil
}

// List returns every object under the given prefix, following pagination.
func (o *ObjectStore) List(ctx context.Context, prefix string) ([]Object, error) {
	var (
		objects []Object
		token   *string
	)
	for {
		out, err := o.api.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(o.bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, fmt.Errorf("object store: list %q: %w", prefix, err)
		}
		for _, obj := range out.Contents {
			o := Object{Key: aws.ToString(obj.Key)}
			if obj.LastModified != nil {
				o.LastModified = *obj.LastModified
			}
			if obj.Size != nil {
				o.Size = *obj.Size
			}
			objects = append(objects, o)
		}
		if out.NextContinuationToken == nil {
			return objects, nil
		}
		token = out.NextContinuationToken
	}
}
