package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// DefaultFixtureSize is the size of files written by WriteFixture.
const DefaultFixtureSize = 1000

// WriteFixture writes size pseudo-random bytes seeded by name into
// dir/name and returns the full path.
func WriteFixture(t testing.TB, dir, name string, size int) string {
	t.Helper()

	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("create fixture directory: %v", err)
	}
	if err := os.WriteFile(path, PseudoRandomBytes(filepath.Base(name), size), 0o644); err != nil {
		t.Fatalf("write fixture %s: %v", path, err)
	}
	return path
}

// SiteTree builds the reference tree used across sync tests:
//
//	.hidden_file
//	.hidden_directory/ignored_file
//	directory/.nested_hidden_file
//	directory/file4
//	file1, file2, file3
//
// It returns the root directory.
func SiteTree(t testing.TB) string {
	t.Helper()

	root := t.TempDir()
	WriteFixture(t, root, ".hidden_file", DefaultFixtureSize)
	WriteFixture(t, root, filepath.Join(".hidden_directory", "ignored_file"), DefaultFixtureSize)
	WriteFixture(t, root, filepath.Join("directory", ".nested_hidden_file"), DefaultFixtureSize)
	WriteFixture(t, root, "file1", DefaultFixtureSize)
	WriteFixture(t, root, "file2", DefaultFixtureSize)
	WriteFixture(t, root, "file3", DefaultFixtureSize)
	WriteFixture(t, root, filepath.Join("directory", "file4"), DefaultFixtureSize)
	return root
}

// Digests of the SiteTree fixtures and of the files the update scenario
// writes over it.
const (
	File1MD5        = "e382ac6f66df7fb71dae6292810182eb"
	File2MD5        = "260b6f5bf4fdfe7be7cea1737b41e797"
	File3MD5        = "7d5f31ffd43f957a4f4f8982ef65b12d"
	File4MD5        = "803ab14c32a1b1cdf9b19d7417908e43"
	File3Resized    = "0bc7622b9fbe4f9c5705270b22d3f683"
	File5MD5        = "23d235db483342f9df6200f0871dfcb2"
	DummyFixtureMD5 = "dc66e4a23e6b7873679da03302c37331"
)
