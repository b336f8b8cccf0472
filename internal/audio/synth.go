package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/maauso/slidecast/internal/media"
)

// ErrInvalidDuration is returned when a non-positive duration is requested.
var ErrInvalidDuration = errors.New("invalid duration: must be positive")

type runFunc func(ctx context.Context, path string, args []string, stdin io.Reader, stdout io.Writer) error

// FFmpegSynthesizer implements Synthesizer with ffmpeg's anullsrc source.
// Rendered files are kept in dir and reused per duration.
type FFmpegSynthesizer struct {
	ffmpegPath string
	dir        string
	run        runFunc

	mu    sync.Mutex
	cache map[int]media.Source
}

// NewFFmpegSynthesizer creates a synthesizer writing into dir.
// If ffmpegPath is empty, it defaults to "ffmpeg" (found in PATH).
func NewFFmpegSynthesizer(ffmpegPath, dir string) *FFmpegSynthesizer {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &FFmpegSynthesizer{
		ffmpegPath: ffmpegPath,
		dir:        dir,
		run:        media.RunFFmpeg,
		cache:      make(map[int]media.Source),
	}
}

// Synthesize renders seconds of mono silence as WAV.
func (s *FFmpegSynthesizer) Synthesize(ctx context.Context, seconds int) (media.Source, error) {
	if seconds <= 0 {
		return media.Source{}, fmt.Errorf("%w: got %d", ErrInvalidDuration, seconds)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if src, ok := s.cache[seconds]; ok {
		if _, err := os.Stat(src.URI); err == nil {
			return src, nil
		}
		delete(s.cache, seconds)
	}

	if err := os.MkdirAll(s.dir, 0750); err != nil {
		return media.Source{}, fmt.Errorf("create silence directory: %w", err)
	}

	path := filepath.Join(s.dir, fmt.Sprintf("silence_%ds.wav", seconds))
	args := []string{
		"-y",
		"-f", "lavfi",
		"-i", "anullsrc=r=8000:cl=mono",
		"-t", fmt.Sprintf("%d", seconds),
		"-c:a", "pcm_u8",
		path,
	}
	if err := s.run(ctx, s.ffmpegPath, args, nil, nil); err != nil {
		return media.Source{}, fmt.Errorf("synthesize silence: %w", err)
	}

	src := media.Source{URI: path, Kind: media.SourceSilent, Duration: seconds}
	s.cache[seconds] = src
	return src, nil
}

// Verify interface implementation at compile time.
var _ Synthesizer = (*FFmpegSynthesizer)(nil)
