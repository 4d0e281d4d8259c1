// Package syncer mirrors a local tree into a site bucket, issuing exactly
// one call per changed path.
package syncer

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/yuya-takeyama/strict-site-deploy/internal/logging"
	"github.com/yuya-takeyama/strict-site-deploy/internal/walker"
	"github.com/yuya-takeyama/strict-site-deploy/pkg/planner"
)

// Store is the remote side of a sync. *s3client.Client implements it.
type Store interface {
	FileSet(ctx context.Context, bucket string) (planner.Set, error)
	PutFile(ctx context.Context, bucket, localPath string, entry planner.FileEntry) (int64, error)
	DeleteFile(ctx context.Context, bucket, key string) error
	DownloadFile(ctx context.Context, bucket, key, localPath string) (int64, error)
}

// Source is the local side of a sync. *walker.Walker implements it.
type Source interface {
	Root() string
	Set(ctx context.Context) (planner.Set, error)
}

type Options struct {
	// DryRun computes and logs the plan without touching the bucket.
	DryRun bool
}

type Syncer struct {
	store  Store
	logger *logging.Logger
	opts   Options
}

func New(store Store, logger *logging.Logger, opts Options) *Syncer {
	return &Syncer{store: store, logger: logger, opts: opts}
}

// Result describes one sync run. On failure it holds the calls that
// succeeded before the failing one.
type Result struct {
	Bucket string
	Root   string
	DryRun bool

	Applied []planner.Item
	Failed  *Failure

	Uploaded      int64
	Deleted       int64
	BytesUploaded int64
	Duration      time.Duration
}

type Failure struct {
	Item planner.Item
	Err  error
}

// Plan compares source against bucket and returns the calls a sync would
// issue, deletions first.
func (s *Syncer) Plan(ctx context.Context, bucket string, source Source) ([]planner.Item, error) {
	remote, err := s.store.FileSet(ctx, bucket)
	if err != nil {
		return nil, err
	}
	local, err := source.Set(ctx)
	if err != nil {
		return nil, err
	}
	return planner.Diff(local, remote).Items(), nil
}

// Sync makes the bucket hold exactly the files of source. Every call waits
// for S3 to confirm it before the next one starts, and the first error stops
// the run.
func (s *Syncer) Sync(ctx context.Context, bucket string, source Source) (*Result, error) {
	start := time.Now()
	result := &Result{Bucket: bucket, Root: source.Root(), DryRun: s.opts.DryRun}

	items, err := s.Plan(ctx, bucket, source)
	if err != nil {
		return result, err
	}
	if len(items) == 0 {
		s.logger.Debug("%s is up to date", bucket)
	}

	for _, item := range items {
		if err := s.apply(ctx, bucket, result, item); err != nil {
			result.Failed = &Failure{Item: item, Err: err}
			result.Duration = time.Since(start)
			return result, err
		}
		result.Applied = append(result.Applied, item)
	}

	result.Duration = time.Since(start)
	return result, nil
}

func (s *Syncer) apply(ctx context.Context, bucket string, result *Result, item planner.Item) error {
	switch item.Action {
	case planner.ActionDelete:
		s.logger.Delete(item.Path, s.opts.DryRun)
		if !s.opts.DryRun {
			if err := s.store.DeleteFile(ctx, bucket, item.Path); err != nil {
				return err
			}
		}
		result.Deleted++

	case planner.ActionUpload:
		s.logger.Upload(item.Path, item.Reason, s.opts.DryRun)
		if !s.opts.DryRun {
			localPath := filepath.Join(result.Root, filepath.FromSlash(item.Path))
			n, err := s.store.PutFile(ctx, bucket, localPath, planner.FileEntry{Path: item.Path, Hash: item.Hash})
			if err != nil {
				return err
			}
			result.BytesUploaded += n
		}
		result.Uploaded++

	default:
		return fmt.Errorf("unknown action %q for %s", item.Action, item.Path)
	}
	return nil
}

// DeleteAll empties the bucket. It is a sync against an empty tree.
func (s *Syncer) DeleteAll(ctx context.Context, bucket string) (*Result, error) {
	return s.Sync(ctx, bucket, walker.Empty())
}

// Download copies every file of bucket below target.
func (s *Syncer) Download(ctx context.Context, bucket, target string) (files int, bytes int64, err error) {
	remote, err := s.store.FileSet(ctx, bucket)
	if err != nil {
		return 0, 0, err
	}

	for _, entry := range remote.Sorted() {
		if !filepath.IsLocal(filepath.FromSlash(entry.Path)) {
			return files, bytes, fmt.Errorf("refusing to download %q outside %s", entry.Path, target)
		}
		localPath := filepath.Join(target, filepath.FromSlash(entry.Path))
		n, err := s.store.DownloadFile(ctx, bucket, entry.Path, localPath)
		if err != nil {
			return files, bytes, err
		}
		s.logger.Debug("downloaded %s (%d bytes)", entry.Path, n)
		files++
		bytes += n
	}
	return files, bytes, nil
}
