package walker

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/yuya-takeyama/strict-site-deploy/internal/checksum"
	"github.com/yuya-takeyama/strict-site-deploy/pkg/planner"
)

// ErrUnsupportedFile is returned for symbolic links, devices, sockets and
// named pipes found under the root.
var ErrUnsupportedFile = errors.New("unsupported file type")

// Walker enumerates the visible regular files under a root directory
type Walker struct {
	root     string
	excludes []string
}

// NewWalker creates a new file walker
func NewWalker(root string, excludes []string) (*Walker, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("get absolute path: %w", err)
	}

	// Validate root exists and is a directory
	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, fmt.Errorf("stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root is not a directory: %s", absRoot)
	}

	for _, pattern := range excludes {
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("invalid exclude pattern: %q", pattern)
		}
	}

	return &Walker{
		root:     absRoot,
		excludes: excludes,
	}, nil
}

// Empty returns a walker over no files at all.
func Empty() *Walker {
	return &Walker{}
}

// Root returns the absolute root directory, or "" for Empty.
func (w *Walker) Root() string {
	return w.root
}

// Entries lazily yields the files under the root. Each directory yields its
// own files in name order before descending into its subdirectories, also in
// name order. Hidden names are pruned without being opened.
func (w *Walker) Entries(ctx context.Context) iter.Seq2[planner.FileEntry, error] {
	return func(yield func(planner.FileEntry, error) bool) {
		if w.root == "" {
			return
		}
		w.walk(ctx, "", yield)
	}
}

// Set materializes Entries.
func (w *Walker) Set(ctx context.Context) (planner.Set, error) {
	set := planner.NewSet()
	for entry, err := range w.Entries(ctx) {
		if err != nil {
			return nil, err
		}
		set.Add(entry)
	}
	return set, nil
}

// walk returns false once the consumer stops or an error was yielded.
func (w *Walker) walk(ctx context.Context, rel string, yield func(planner.FileEntry, error) bool) bool {
	if err := ctx.Err(); err != nil {
		yield(planner.FileEntry{}, err)
		return false
	}

	dir := filepath.Join(w.root, filepath.FromSlash(rel))
	entries, err := os.ReadDir(dir)
	if err != nil {
		yield(planner.FileEntry{}, fmt.Errorf("read directory %s: %w", dir, err))
		return false
	}

	var subdirs []string
	for _, d := range entries {
		if isHidden(d.Name()) {
			continue
		}

		relPath := path.Join(rel, d.Name())
		if w.isExcluded(relPath) {
			continue
		}

		switch {
		case d.IsDir():
			subdirs = append(subdirs, relPath)
		case d.Type().IsRegular():
			hash, err := checksum.FileMD5(filepath.Join(w.root, filepath.FromSlash(relPath)))
			if err != nil {
				yield(planner.FileEntry{}, fmt.Errorf("hash %s: %w", relPath, err))
				return false
			}
			if !yield(planner.FileEntry{Path: relPath, Hash: hash}, nil) {
				return false
			}
		default:
			yield(planner.FileEntry{}, fmt.Errorf("%w: %s (%s)", ErrUnsupportedFile, relPath, d.Type()))
			return false
		}
	}

	for _, sub := range subdirs {
		if !w.walk(ctx, sub, yield) {
			return false
		}
	}
	return true
}

func isHidden(name string) bool {
	return strings.HasPrefix(name, ".")
}

// isExcluded checks if a path matches any exclude pattern. A matching
// directory prunes its whole subtree.
func (w *Walker) isExcluded(relPath string) bool {
	for _, pattern := range w.excludes {
		if matched, _ := doublestar.Match(strings.TrimSuffix(pattern, "/"), relPath); matched {
			return true
		}
	}
	return false
}
