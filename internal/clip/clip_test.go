package clip

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCopier(t *testing.T, nativeErr error, tty bool, env map[string]string) (*Copier, *bytes.Buffer, *string) {
	t.Helper()
	var got string
	var termOut bytes.Buffer
	c := &Copier{
		native: func(text string) error {
			if nativeErr != nil {
				return nativeErr
			}
			got = text
			return nil
		},
		term:    &termOut,
		isTTY:   func() bool { return tty },
		getenv:  func(k string) string { return env[k] },
		tempDir: t.TempDir(),
	}
	return c, &termOut, &got
}

func TestWriteAll_Native(t *testing.T) {
	c, termOut, got := testCopier(t, nil, true, nil)

	res, err := c.WriteAll("sess-123")
	require.NoError(t, err)
	assert.Equal(t, MethodNative, res.Method)
	assert.Equal(t, "sess-123", *got)
	assert.Zero(t, termOut.Len())
}

func TestWriteAll_OSC52Fallback(t *testing.T) {
	tests := []struct {
		name   string
		env    map[string]string
		prefix string
	}{
		{"plain", nil, "\x1b]52;"},
		{"tmux", map[string]string{"TMUX": "/tmp/tmux-1000/default"}, "\x1bPtmux;"},
		{"screen", map[string]string{"STY": "1234.pts-0"}, "\x1bP"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, termOut, _ := testCopier(t, errors.New("no display"), true, tt.env)

			res, err := c.WriteAll("sess-123")
			require.NoError(t, err)
			assert.Equal(t, MethodOSC52, res.Method)
			assert.True(t, strings.HasPrefix(termOut.String(), tt.prefix), "%q", termOut.String())
		})
	}
}

func TestWriteAll_FileFallback(t *testing.T) {
	c, termOut, _ := testCopier(t, errors.New("no display"), false, nil)

	res, err := c.WriteAll("sess-123")
	require.NoError(t, err)
	assert.Equal(t, MethodFile, res.Method)
	assert.Zero(t, termOut.Len())
	assert.Equal(t, c.tempDir, filepath.Dir(res.FilePath))

	data, err := os.ReadFile(res.FilePath)
	require.NoError(t, err)
	assert.Equal(t, "sess-123", string(data))
}

func TestWriteAll_OSC52SkipsOversizedText(t *testing.T) {
	c, termOut, _ := testCopier(t, errors.New("no display"), true, nil)

	res, err := c.WriteAll(strings.Repeat("x", osc52Limit+1))
	require.NoError(t, err)
	assert.Equal(t, MethodFile, res.Method)
	assert.Zero(t, termOut.Len())
}

func TestWriteAll_TempFileFails(t *testing.T) {
	c, _, _ := testCopier(t, errors.New("no display"), false, nil)
	c.tempDir = filepath.Join(t.TempDir(), "missing")

	_, err := c.WriteAll("sess-123")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no clipboard available")
}
