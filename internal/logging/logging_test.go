package logging

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLevels(t *testing.T) {
	tests := []struct {
		name      string
		quiet     bool
		verbose   bool
		wantInfo  bool
		wantDebug bool
	}{
		{name: "default", wantInfo: true},
		{name: "quiet", quiet: true},
		{name: "verbose", verbose: true, wantInfo: true, wantDebug: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var diag bytes.Buffer
			l := NewLogger(&diag, &bytes.Buffer{}, tt.quiet, tt.verbose)

			l.Info("hello %s", "info")
			l.Debug("hello %s", "debug")
			l.Error("hello %s", "error")

			out := diag.String()
			assert.Equal(t, tt.wantInfo, bytes.Contains(diag.Bytes(), []byte("hello info")), out)
			assert.Equal(t, tt.wantDebug, bytes.Contains(diag.Bytes(), []byte("hello debug")), out)
			assert.Contains(t, out, "hello error")
		})
	}
}

func TestFileEvents(t *testing.T) {
	var diag bytes.Buffer
	l := NewLogger(&diag, &bytes.Buffer{}, false, false).With("bucket", "www.example.com")

	l.Upload("index.html", "new file", false)
	l.Delete("old.html", true)

	out := diag.String()
	assert.Contains(t, out, "bucket=www.example.com")
	assert.Contains(t, out, "path=index.html")
	assert.Contains(t, out, "reason=\"new file\"")
	assert.Contains(t, out, "dryrun=true")
	assert.Contains(t, out, "path=old.html")
}

func TestPrintSummary(t *testing.T) {
	var out bytes.Buffer
	l := NewLogger(&bytes.Buffer{}, &out, false, false)

	l.PrintSummary(3, 1, 0, 2048, 1500*time.Millisecond)

	assert.Equal(t, "\n=== Summary ===\nUploaded: 3 files (2.0 KB)\nDeleted: 1 files\nDuration: 1.5s\n", out.String())
}

func TestPrintSummaryQuiet(t *testing.T) {
	var out bytes.Buffer
	l := NewLogger(&bytes.Buffer{}, &out, true, false)

	l.PrintSummary(3, 1, 0, 2048, time.Second)
	assert.Empty(t, out.String())

	l.PrintSummary(0, 0, 2, 0, time.Second)
	assert.Contains(t, out.String(), "Errors: 2")
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.0 KB"},
		{1536, "1.5 KB"},
		{5 * 1024 * 1024, "5.0 MB"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatBytes(tt.in))
	}
}
