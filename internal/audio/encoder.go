package audio

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
)

// codec describes how a segment format is encoded.
type codec struct {
	encoder string
	muxer   string
	mime    string
}

var codecs = map[string]codec{
	"ogg":  {encoder: "libopus", muxer: "ogg", mime: "audio/ogg"},
	"webm": {encoder: "libopus", muxer: "webm", mime: "audio/webm"},
	"mp3":  {encoder: "libmp3lame", muxer: "mp3", mime: "audio/mpeg"},
	"wav":  {encoder: "pcm_s16le", muxer: "wav", mime: "audio/wav"},
}

// FFmpegEncoder encodes captured PCM into compressed segments with ffmpeg.
type FFmpegEncoder struct {
	ffmpegPath string
	params     CaptureParams
}

// NewFFmpegEncoder creates an encoder. Unknown formats fall back to ogg.
func NewFFmpegEncoder(ffmpegPath string, params CaptureParams) *FFmpegEncoder {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	params = params.withDefaults()
	params.Format = strings.ToLower(strings.TrimPrefix(params.Format, "."))
	if _, ok := codecs[params.Format]; !ok {
		params.Format = "ogg"
	}
	return &FFmpegEncoder{ffmpegPath: ffmpegPath, params: params}
}

// Ext returns the extension of encoded segments.
func (e *FFmpegEncoder) Ext() string {
	return e.params.Format
}

func (e *FFmpegEncoder) encodeArgs() []string {
	c := codecs[e.params.Format]
	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-f", "s16le",
		"-ar", strconv.Itoa(e.params.SampleRate),
		"-ac", strconv.Itoa(e.params.Channels),
		"-i", "pipe:0",
		"-c:a", c.encoder,
	}
	if c.encoder != "pcm_s16le" {
		args = append(args, "-b:a", fmt.Sprintf("%dk", e.params.BitRate))
	}
	return append(args, "-f", c.muxer, "pipe:1")
}

// Start begins encoding everything s captures from now on.
func (e *FFmpegEncoder) Start(ctx context.Context, s Stream) (Segment, error) {
	pr, pw := io.Pipe()
	// #nosec G204 - ffmpegPath is set by the application, not user input
	cmd := exec.CommandContext(context.WithoutCancel(ctx), e.ffmpegPath, e.encodeArgs()...)
	seg := &ffmpegSegment{cmd: cmd, pipe: pw, codec: codecs[e.params.Format], ext: e.params.Format}
	cmd.Stdin = pr
	cmd.Stdout = &seg.out
	cmd.Stderr = &seg.stderr

	if err := cmd.Start(); err != nil {
		_ = pw.Close()
		return nil, fmt.Errorf("start encoder: %w", err)
	}
	seg.untap = s.Tap(pw)
	return seg, nil
}

type ffmpegSegment struct {
	cmd    *exec.Cmd
	pipe   *io.PipeWriter
	untap  func()
	codec  codec
	ext    string
	out    bytes.Buffer
	stderr bytes.Buffer
}

// Stop detaches from the stream, flushes the encoder and returns the payload.
func (s *ffmpegSegment) Stop(ctx context.Context) (Recording, error) {
	s.untap()
	_ = s.pipe.Close()

	done := make(chan error, 1)
	go func() { done <- s.cmd.Wait() }()

	select {
	case err := <-done:
		if err != nil {
			return Recording{}, fmt.Errorf("encoder failed: %w, stderr: %s", err, s.stderr.String())
		}
	case <-ctx.Done():
		_ = s.cmd.Process.Kill()
		<-done
		return Recording{}, fmt.Errorf("encoder cancelled: %w", ctx.Err())
	}

	return Recording{
		Data:     s.out.Bytes(),
		MIMEType: s.codec.mime,
		Ext:      s.ext,
	}, nil
}
