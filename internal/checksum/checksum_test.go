package checksum

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yuya-takeyama/strict-site-deploy/internal/testutil"
)

func TestMD5(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "empty input",
			input: "",
			want:  "d41d8cd98f00b204e9800998ecf8427e",
		},
		{
			name:  "known phrase",
			input: "The quick brown fox jumps over the lazy dog",
			want:  "9e107d9d372bb6826bd81d3542a419d6",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MD5(strings.NewReader(tt.input))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMD5SpansBuffers(t *testing.T) {
	data := bytes.Repeat([]byte("abcdefgh"), bufferSize/4+3)

	streamed, err := MD5(bytes.NewReader(data))
	require.NoError(t, err)

	again, err := MD5(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, streamed, again)
	assert.Len(t, streamed, 32)
}

func TestFileMD5(t *testing.T) {
	dir := t.TempDir()

	t.Run("fixture digest is stable", func(t *testing.T) {
		path := testutil.WriteFixture(t, dir, "dummy", testutil.DefaultFixtureSize)

		got, err := FileMD5(path)
		require.NoError(t, err)
		assert.Equal(t, testutil.DummyFixtureMD5, got)

		again, err := FileMD5(path)
		require.NoError(t, err)
		assert.Equal(t, got, again)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := FileMD5(filepath.Join(dir, "does_not_exist"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "open file")
	})
}
