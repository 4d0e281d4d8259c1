package testutil

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"maps"
	"slices"
	"strconv"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// FakeObject is an object stored by FakeS3.
type FakeObject struct {
	Body        []byte
	Metadata    map[string]string
	ContentType string
	ACL         types.ObjectCannedACL
}

// FakeS3 is an in-memory, strongly consistent stand-in for the S3 calls the
// module makes. It also serves as the upload and download manager.
type FakeS3 struct {
	mu sync.Mutex

	buckets  map[string]map[string]FakeObject
	websites map[string]string

	// PageSize caps ListObjectsV2 pages; zero means 1000.
	PageSize int

	// Mutations records every mutating object call as "put <key>" or
	// "delete <key>".
	Mutations []string
}

func NewFakeS3() *FakeS3 {
	return &FakeS3{
		buckets:  make(map[string]map[string]FakeObject),
		websites: make(map[string]string),
	}
}

// AddBucket creates an empty bucket directly.
func (f *FakeS3) AddBucket(bucket string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.buckets[bucket]; !ok {
		f.buckets[bucket] = make(map[string]FakeObject)
	}
}

// PutRaw stores an object without recording a mutation.
func (f *FakeS3) PutRaw(bucket, key string, obj FakeObject) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.buckets[bucket]; !ok {
		f.buckets[bucket] = make(map[string]FakeObject)
	}
	f.buckets[bucket][key] = obj
}

// Object returns a stored object.
func (f *FakeS3) Object(bucket, key string) (FakeObject, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.buckets[bucket][key]
	return obj, ok
}

// Keys returns the sorted keys of a bucket.
func (f *FakeS3) Keys(bucket string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Sorted(maps.Keys(f.buckets[bucket]))
}

// HasBucket reports whether bucket exists.
func (f *FakeS3) HasBucket(bucket string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.buckets[bucket]
	return ok
}

// WebsiteIndex returns the configured index document suffix.
func (f *FakeS3) WebsiteIndex(bucket string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.websites[bucket]
}

// ResetMutations clears the recorded mutations.
func (f *FakeS3) ResetMutations() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Mutations = nil
}

func (f *FakeS3) bucket(name *string) (map[string]FakeObject, error) {
	objects, ok := f.buckets[aws.ToString(name)]
	if !ok {
		return nil, &types.NoSuchBucket{Message: aws.String("bucket " + aws.ToString(name) + " does not exist")}
	}
	return objects, nil
}

func (f *FakeS3) ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	objects, err := f.bucket(params.Bucket)
	if err != nil {
		return nil, err
	}

	pageSize := f.PageSize
	if pageSize <= 0 {
		pageSize = 1000
	}

	start := 0
	if token := aws.ToString(params.ContinuationToken); token != "" {
		start, err = strconv.Atoi(token)
		if err != nil {
			return nil, &smithy.GenericAPIError{Code: "InvalidArgument", Message: "bad continuation token"}
		}
	}

	keys := slices.Sorted(maps.Keys(objects))
	end := min(start+pageSize, len(keys))

	out := &s3.ListObjectsV2Output{
		Name:        params.Bucket,
		IsTruncated: aws.Bool(end < len(keys)),
		KeyCount:    aws.Int32(int32(end - start)),
	}
	for _, key := range keys[start:end] {
		out.Contents = append(out.Contents, types.Object{
			Key:  aws.String(key),
			Size: aws.Int64(int64(len(objects[key].Body))),
		})
	}
	if end < len(keys) {
		out.NextContinuationToken = aws.String(strconv.Itoa(end))
	}
	return out, nil
}

func (f *FakeS3) HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	objects, err := f.bucket(params.Bucket)
	if err != nil {
		return nil, &types.NotFound{}
	}
	obj, ok := objects[aws.ToString(params.Key)]
	if !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{
		ContentLength: aws.Int64(int64(len(obj.Body))),
		ContentType:   aws.String(obj.ContentType),
		Metadata:      maps.Clone(obj.Metadata),
	}, nil
}

func (f *FakeS3) DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	objects, err := f.bucket(params.Bucket)
	if err != nil {
		return nil, err
	}
	delete(objects, aws.ToString(params.Key))
	f.Mutations = append(f.Mutations, "delete "+aws.ToString(params.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *FakeS3) HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.buckets[aws.ToString(params.Bucket)]; !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadBucketOutput{}, nil
}

func (f *FakeS3) CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	name := aws.ToString(params.Bucket)
	if _, ok := f.buckets[name]; ok {
		return nil, &types.BucketAlreadyOwnedByYou{}
	}
	f.buckets[name] = make(map[string]FakeObject)
	return &s3.CreateBucketOutput{Location: aws.String("/" + name)}, nil
}

func (f *FakeS3) DeleteBucket(ctx context.Context, params *s3.DeleteBucketInput, optFns ...func(*s3.Options)) (*s3.DeleteBucketOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	objects, err := f.bucket(params.Bucket)
	if err != nil {
		return nil, err
	}
	if len(objects) > 0 {
		return nil, &smithy.GenericAPIError{Code: "BucketNotEmpty", Message: "The bucket you tried to delete is not empty"}
	}
	delete(f.buckets, aws.ToString(params.Bucket))
	delete(f.websites, aws.ToString(params.Bucket))
	return &s3.DeleteBucketOutput{}, nil
}

func (f *FakeS3) PutBucketWebsite(ctx context.Context, params *s3.PutBucketWebsiteInput, optFns ...func(*s3.Options)) (*s3.PutBucketWebsiteOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, err := f.bucket(params.Bucket); err != nil {
		return nil, err
	}
	if params.WebsiteConfiguration == nil || params.WebsiteConfiguration.IndexDocument == nil {
		return nil, &smithy.GenericAPIError{Code: "MalformedXML", Message: "missing index document"}
	}
	f.websites[aws.ToString(params.Bucket)] = aws.ToString(params.WebsiteConfiguration.IndexDocument.Suffix)
	return &s3.PutBucketWebsiteOutput{}, nil
}

func (f *FakeS3) GetBucketWebsite(ctx context.Context, params *s3.GetBucketWebsiteInput, optFns ...func(*s3.Options)) (*s3.GetBucketWebsiteOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, err := f.bucket(params.Bucket); err != nil {
		return nil, err
	}
	suffix, ok := f.websites[aws.ToString(params.Bucket)]
	if !ok {
		return nil, &smithy.GenericAPIError{Code: "NoSuchWebsiteConfiguration", Message: "The specified bucket does not have a website configuration"}
	}
	return &s3.GetBucketWebsiteOutput{
		IndexDocument: &types.IndexDocument{Suffix: aws.String(suffix)},
	}, nil
}

func (f *FakeS3) DeletePublicAccessBlock(ctx context.Context, params *s3.DeletePublicAccessBlockInput, optFns ...func(*s3.Options)) (*s3.DeletePublicAccessBlockOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, err := f.bucket(params.Bucket); err != nil {
		return nil, err
	}
	return &s3.DeletePublicAccessBlockOutput{}, nil
}

// Upload mirrors manager.Uploader.Upload.
func (f *FakeS3) Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error) {
	body, err := io.ReadAll(input.Body)
	if err != nil {
		return nil, fmt.Errorf("read upload body: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	objects, err := f.bucket(input.Bucket)
	if err != nil {
		return nil, err
	}
	key := aws.ToString(input.Key)
	objects[key] = FakeObject{
		Body:        body,
		Metadata:    maps.Clone(input.Metadata),
		ContentType: aws.ToString(input.ContentType),
		ACL:         input.ACL,
	}
	f.Mutations = append(f.Mutations, "put "+key)
	return &manager.UploadOutput{Key: input.Key}, nil
}

// Download mirrors manager.Downloader.Download.
func (f *FakeS3) Download(ctx context.Context, w io.WriterAt, input *s3.GetObjectInput, options ...func(*manager.Downloader)) (int64, error) {
	f.mu.Lock()
	objects, err := f.bucket(input.Bucket)
	var body []byte
	if err == nil {
		obj, ok := objects[aws.ToString(input.Key)]
		if !ok {
			err = &types.NoSuchKey{}
		}
		body = bytes.Clone(obj.Body)
	}
	f.mu.Unlock()

	if err != nil {
		return 0, err
	}
	n, err := w.WriteAt(body, 0)
	return int64(n), err
}
