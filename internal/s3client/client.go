package s3client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/yuya-takeyama/strict-site-deploy/internal/poll"
	"github.com/yuya-takeyama/strict-site-deploy/pkg/planner"
)

// MetadataKeyMD5 is the user metadata key holding an object's content hash.
const MetadataKeyMD5 = "md5"

// API is the subset of the S3 API used by this package.
type API interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
	DeleteBucket(ctx context.Context, params *s3.DeleteBucketInput, optFns ...func(*s3.Options)) (*s3.DeleteBucketOutput, error)
	PutBucketWebsite(ctx context.Context, params *s3.PutBucketWebsiteInput, optFns ...func(*s3.Options)) (*s3.PutBucketWebsiteOutput, error)
	GetBucketWebsite(ctx context.Context, params *s3.GetBucketWebsiteInput, optFns ...func(*s3.Options)) (*s3.GetBucketWebsiteOutput, error)
	DeletePublicAccessBlock(ctx context.Context, params *s3.DeletePublicAccessBlockInput, optFns ...func(*s3.Options)) (*s3.DeletePublicAccessBlockOutput, error)
}

// Uploader is satisfied by *manager.Uploader.
type Uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// Downloader is satisfied by *manager.Downloader.
type Downloader interface {
	Download(ctx context.Context, w io.WriterAt, input *s3.GetObjectInput, options ...func(*manager.Downloader)) (n int64, err error)
}

var (
	_ API        = (*s3.Client)(nil)
	_ Uploader   = (*manager.Uploader)(nil)
	_ Downloader = (*manager.Downloader)(nil)
)

// Client wraps the S3 calls for one site's bucket lifecycle and content.
// Every mutation blocks until S3 reports the new state.
type Client struct {
	api        API
	uploader   Uploader
	downloader Downloader
	region     string
	policy     poll.Policy
}

// NewAWSClient creates a client backed by the AWS SDK.
func NewAWSClient(cfg aws.Config, policy poll.Policy) *Client {
	client := s3.NewFromConfig(cfg)
	return NewClient(client, manager.NewUploader(client), manager.NewDownloader(client), cfg.Region, policy)
}

func NewClient(api API, uploader Uploader, downloader Downloader, region string, policy poll.Policy) *Client {
	return &Client{
		api:        api,
		uploader:   uploader,
		downloader: downloader,
		region:     region,
		policy:     policy,
	}
}

// BucketExists reports whether bucket exists and is reachable.
func (c *Client) BucketExists(ctx context.Context, bucket string) (bool, error) {
	_, err := c.api.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(bucket),
	})
	if err == nil {
		return true, nil
	}
	if IsNotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("head bucket %s: %w", bucket, err)
}

// WebsiteConfigured reports whether static website hosting is enabled on
// bucket.
func (c *Client) WebsiteConfigured(ctx context.Context, bucket string) (bool, error) {
	out, err := c.api.GetBucketWebsite(ctx, &s3.GetBucketWebsiteInput{
		Bucket: aws.String(bucket),
	})
	if err != nil {
		var apiErr smithy.APIError
		if IsNotFound(err) || (errors.As(err, &apiErr) && apiErr.ErrorCode() == "NoSuchWebsiteConfiguration") {
			return false, nil
		}
		return false, fmt.Errorf("get website configuration of %s: %w", bucket, err)
	}
	return out.IndexDocument != nil && aws.ToString(out.IndexDocument.Suffix) != "", nil
}

// CreateBucket creates a publicly readable bucket, waits for it to exist and
// enables static website hosting with indexDocument. An existing bucket only
// gets its public access and website configuration reapplied.
func (c *Client) CreateBucket(ctx context.Context, bucket, indexDocument string) error {
	exists, err := c.BucketExists(ctx, bucket)
	if err != nil {
		return err
	}
	if !exists {
		if err := c.createBucket(ctx, bucket); err != nil {
			return err
		}
	}

	// New buckets block public ACLs by default
	if _, err := c.api.DeletePublicAccessBlock(ctx, &s3.DeletePublicAccessBlockInput{
		Bucket: aws.String(bucket),
	}); err != nil {
		return fmt.Errorf("allow public access on %s: %w", bucket, err)
	}

	_, err = c.api.PutBucketWebsite(ctx, &s3.PutBucketWebsiteInput{
		Bucket: aws.String(bucket),
		WebsiteConfiguration: &types.WebsiteConfiguration{
			IndexDocument: &types.IndexDocument{Suffix: aws.String(indexDocument)},
		},
	})
	if err != nil {
		return fmt.Errorf("configure website on %s: %w", bucket, err)
	}
	return nil
}

func (c *Client) createBucket(ctx context.Context, bucket string) error {
	input := &s3.CreateBucketInput{
		Bucket:          aws.String(bucket),
		ACL:             types.BucketCannedACLPublicRead,
		ObjectOwnership: types.ObjectOwnershipObjectWriter,
	}
	// us-east-1 rejects an explicit location constraint
	if c.region != "" && c.region != "us-east-1" {
		input.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(c.region),
		}
	}

	if _, err := c.api.CreateBucket(ctx, input); err != nil {
		return fmt.Errorf("create bucket %s: %w", bucket, err)
	}

	waiter := s3.NewBucketExistsWaiter(c.api, func(o *s3.BucketExistsWaiterOptions) {
		o.MinDelay, o.MaxDelay = c.policy.Delay(), c.policy.Delay()
	})
	if err := waiter.Wait(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)}, c.policy.MaxWait()); err != nil {
		return fmt.Errorf("wait for bucket %s: %w", bucket, err)
	}
	return nil
}

// DeleteBucket deletes an empty bucket and waits until it is gone.
func (c *Client) DeleteBucket(ctx context.Context, bucket string) error {
	if _, err := c.api.DeleteBucket(ctx, &s3.DeleteBucketInput{
		Bucket: aws.String(bucket),
	}); err != nil {
		return fmt.Errorf("delete bucket %s: %w", bucket, err)
	}

	waiter := s3.NewBucketNotExistsWaiter(c.api, func(o *s3.BucketNotExistsWaiterOptions) {
		o.MinDelay, o.MaxDelay = c.policy.Delay(), c.policy.Delay()
	})
	if err := waiter.Wait(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)}, c.policy.MaxWait()); err != nil {
		return fmt.Errorf("wait for bucket %s removal: %w", bucket, err)
	}
	return nil
}

// Files lazily lists the non-empty objects of bucket page by page, reading
// each one's content hash from its metadata. Objects without the metadata
// get an empty hash, which never matches a local file.
func (c *Client) Files(ctx context.Context, bucket string) iter.Seq2[planner.FileEntry, error] {
	return func(yield func(planner.FileEntry, error) bool) {
		paginator := s3.NewListObjectsV2Paginator(c.api, &s3.ListObjectsV2Input{
			Bucket: aws.String(bucket),
		})

		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				yield(planner.FileEntry{}, fmt.Errorf("list objects in %s: %w", bucket, err))
				return
			}

			for _, obj := range page.Contents {
				if obj.Key == nil || aws.ToInt64(obj.Size) == 0 {
					continue
				}

				hash, err := c.remoteHash(ctx, bucket, *obj.Key)
				if err != nil {
					yield(planner.FileEntry{}, err)
					return
				}
				if !yield(planner.FileEntry{Path: *obj.Key, Hash: hash}, nil) {
					return
				}
			}
		}
	}
}

// FileSet materializes Files.
func (c *Client) FileSet(ctx context.Context, bucket string) (planner.Set, error) {
	set := planner.NewSet()
	for entry, err := range c.Files(ctx, bucket) {
		if err != nil {
			return nil, err
		}
		set.Add(entry)
	}
	return set, nil
}

func (c *Client) remoteHash(ctx context.Context, bucket, key string) (string, error) {
	head, err := c.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", fmt.Errorf("head object %s: %w", key, err)
	}
	return head.Metadata[MetadataKeyMD5], nil
}

// PutFile uploads localPath under entry.Path with the entry's hash as
// metadata, then waits until the object is visible. It returns the number of
// bytes uploaded.
func (c *Client) PutFile(ctx context.Context, bucket, localPath string, entry planner.FileEntry) (int64, error) {
	file, err := os.Open(localPath)
	if err != nil {
		return 0, fmt.Errorf("open file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat file: %w", err)
	}

	input := &s3.PutObjectInput{
		Bucket:   aws.String(bucket),
		Key:      aws.String(entry.Path),
		Body:     file,
		ACL:      types.ObjectCannedACLPublicRead,
		Metadata: map[string]string{MetadataKeyMD5: entry.Hash},
	}
	if contentType := guessContentType(localPath); contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	if _, err := c.uploader.Upload(ctx, input); err != nil {
		return 0, fmt.Errorf("upload %s: %w", entry.Path, err)
	}

	waiter := s3.NewObjectExistsWaiter(c.api, func(o *s3.ObjectExistsWaiterOptions) {
		o.MinDelay, o.MaxDelay = c.policy.Delay(), c.policy.Delay()
	})
	if err := waiter.Wait(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(entry.Path),
	}, c.policy.MaxWait()); err != nil {
		return 0, fmt.Errorf("wait for object %s: %w", entry.Path, err)
	}

	return info.Size(), nil
}

// DeleteFile deletes key and waits until it no longer exists.
func (c *Client) DeleteFile(ctx context.Context, bucket, key string) error {
	if _, err := c.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}); err != nil {
		return fmt.Errorf("delete object %s: %w", key, err)
	}

	waiter := s3.NewObjectNotExistsWaiter(c.api, func(o *s3.ObjectNotExistsWaiterOptions) {
		o.MinDelay, o.MaxDelay = c.policy.Delay(), c.policy.Delay()
	})
	if err := waiter.Wait(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}, c.policy.MaxWait()); err != nil {
		return fmt.Errorf("wait for object %s removal: %w", key, err)
	}
	return nil
}

// DownloadFile writes the object key to localPath, creating parent
// directories as needed.
func (c *Client) DownloadFile(ctx context.Context, bucket, key, localPath string) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return 0, fmt.Errorf("create directory: %w", err)
	}

	file, err := os.Create(localPath)
	if err != nil {
		return 0, fmt.Errorf("create file: %w", err)
	}
	defer file.Close()

	n, err := c.downloader.Download(ctx, file, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return 0, fmt.Errorf("download %s: %w", key, err)
	}
	return n, nil
}

// IsNotFound reports whether err is S3's answer for a missing bucket or key.
func IsNotFound(err error) bool {
	var (
		notFound  *types.NotFound
		noBucket  *types.NoSuchBucket
		noKey     *types.NoSuchKey
		apiErr    smithy.APIError
		respError interface{ HTTPStatusCode() int }
	)
	switch {
	case errors.As(err, &notFound), errors.As(err, &noBucket), errors.As(err, &noKey):
		return true
	case errors.As(err, &apiErr):
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchBucket", "NoSuchKey":
			return true
		}
	}
	return errors.As(err, &respError) && respError.HTTPStatusCode() == 404
}
