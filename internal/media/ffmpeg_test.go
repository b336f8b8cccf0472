package media

import (
	"context"
	"errors"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// skipIfNoFFmpeg skips the test if ffmpeg or ffprobe is not available.
func skipIfNoFFmpeg(t *testing.T) {
	t.Helper()
	for _, bin := range []string{"ffmpeg", "ffprobe"} {
		if _, err := exec.LookPath(bin); err != nil {
			t.Skipf("%s not found in PATH, skipping test", bin)
		}
	}
}

func TestNewFFprobe(t *testing.T) {
	assert.Equal(t, "ffprobe", NewFFprobe("").ffprobePath)
	assert.Equal(t, "/opt/bin/ffprobe", NewFFprobe("/opt/bin/ffprobe").ffprobePath)
}

func TestFFprobe_Duration(t *testing.T) {
	skipIfNoFFmpeg(t)

	path := filepath.Join(t.TempDir(), "tone.wav")
	ctx := context.Background()
	err := RunFFmpeg(ctx, "ffmpeg", []string{
		"-y",
		"-f", "lavfi",
		"-i", "anullsrc=r=8000:cl=mono",
		"-t", "2",
		path,
	}, nil, nil)
	require.NoError(t, err)

	d, err := NewFFprobe("").Duration(ctx, path)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, d, 0.05)
}

func TestFFprobe_MissingFile(t *testing.T) {
	skipIfNoFFmpeg(t)

	_, err := NewFFprobe("").Duration(context.Background(), "/non/existent.ogg")
	assert.ErrorIs(t, err, ErrFFprobeExecution)
}

func TestRunFFmpeg_ErrorCarriesStderr(t *testing.T) {
	skipIfNoFFmpeg(t)

	err := RunFFmpeg(context.Background(), "ffmpeg", []string{"-i", "/non/existent.wav", "-f", "null", "-"}, nil, nil)
	require.Error(t, err)

	var ffErr *FFmpegError
	require.True(t, errors.As(err, &ffErr))
	assert.NotEmpty(t, ffErr.Stderr)
	assert.Contains(t, ffErr.Error(), "ffmpeg error")
}
