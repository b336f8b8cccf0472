package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"sync"
	"time"
)

// ErrDeviceUnavailable is returned when the capture device cannot be opened.
var ErrDeviceUnavailable = errors.New("audio: capture device unavailable")

// FFmpegDevice captures microphone PCM through an ffmpeg input device.
type FFmpegDevice struct {
	ffmpegPath  string
	inputFormat string
	input       string
	params      CaptureParams
	// startTimeout bounds the wait for the first captured buffer.
	startTimeout time.Duration
}

// NewFFmpegDevice creates a device reading input with ffmpeg input format
// inputFormat (for example "pulse"/"default" or "alsa"/"hw:0").
func NewFFmpegDevice(ffmpegPath, inputFormat, input string, params CaptureParams) *FFmpegDevice {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if inputFormat == "" {
		inputFormat = "pulse"
	}
	if input == "" {
		input = "default"
	}
	return &FFmpegDevice{
		ffmpegPath:   ffmpegPath,
		inputFormat:  inputFormat,
		input:        input,
		params:       params.withDefaults(),
		startTimeout: 5 * time.Second,
	}
}

func (d *FFmpegDevice) captureArgs() []string {
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-f", d.inputFormat,
		"-i", d.input,
		"-ac", strconv.Itoa(d.params.Channels),
		"-ar", strconv.Itoa(d.params.SampleRate),
		"-f", "s16le",
		"pipe:1",
	}
}

// Open starts capturing and waits until the device delivers audio.
// A denied or missing device yields ErrDeviceUnavailable.
func (d *FFmpegDevice) Open(ctx context.Context) (Stream, error) {
	procCtx, cancel := context.WithCancel(context.Background())
	// #nosec G204 - ffmpegPath and device names come from configuration
	cmd := exec.CommandContext(procCtx, d.ffmpegPath, d.captureArgs()...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}

	s := &deviceStream{
		cmd:    cmd,
		cancel: cancel,
		ready:  make(chan struct{}),
		done:   make(chan struct{}),
	}
	go s.pump(stdout, d.params.BufferSize)

	timer := time.NewTimer(d.startTimeout)
	defer timer.Stop()
	select {
	case <-s.ready:
		return s, nil
	case <-s.done:
		_ = s.Close()
		return nil, fmt.Errorf("%w: %s", ErrDeviceUnavailable, bytes.TrimSpace(stderr.Bytes()))
	case <-timer.C:
		_ = s.Close()
		return nil, fmt.Errorf("%w: no audio within %s", ErrDeviceUnavailable, d.startTimeout)
	case <-ctx.Done():
		_ = s.Close()
		return nil, ctx.Err()
	}
}

type deviceStream struct {
	cmd    *exec.Cmd
	cancel context.CancelFunc
	ready  chan struct{}
	done   chan struct{}

	mu  sync.Mutex
	tap io.Writer
	seq int

	closeOnce sync.Once
}

func (s *deviceStream) pump(r io.Reader, size int) {
	defer close(s.done)
	buf := make([]byte, size)
	signalled := false
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if !signalled {
				close(s.ready)
				signalled = true
			}
			s.mu.Lock()
			if s.tap != nil {
				_, _ = s.tap.Write(buf[:n])
			}
			s.mu.Unlock()
		}
		if err != nil {
			return
		}
	}
}

// Tap routes captured PCM to w until stop is called.
func (s *deviceStream) Tap(w io.Writer) func() {
	s.mu.Lock()
	s.seq++
	seq := s.seq
	s.tap = w
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.seq == seq {
			s.tap = nil
		}
	}
}

// Close stops the capture process.
func (s *deviceStream) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		_ = s.cmd.Wait()
	})
	return nil
}
