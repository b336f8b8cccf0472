// Package audio provides the ffmpeg-backed audio services used by the engine:
// silent filler synthesis, microphone capture and per-segment encoding.
package audio

import (
	"context"
	"io"

	"github.com/maauso/slidecast/internal/media"
)

// Synthesizer produces playable silent audio of a requested duration.
type Synthesizer interface {
	// Synthesize returns a silent source lasting seconds whole seconds.
	Synthesize(ctx context.Context, seconds int) (media.Source, error)
}

// Stream is an open capture device delivering raw PCM.
type Stream interface {
	// Tap routes captured PCM to w until the returned stop func is called.
	// Only one tap is active at a time; a new tap replaces the previous one.
	Tap(w io.Writer) (stop func())

	// Close releases the device.
	Close() error
}

// Recording is one encoded capture segment.
type Recording struct {
	Data     []byte
	MIMEType string
	Ext      string
}

// Segment is an encoder bound to a stream for the length of one unit.
type Segment interface {
	// Stop ends the segment and returns the encoded payload.
	Stop(ctx context.Context) (Recording, error)
}

// CaptureParams configures capture and encoding.
type CaptureParams struct {
	// BitRate is the encoder bit rate in kbit/s.
	BitRate int
	// SampleRate is the capture sample rate in Hz.
	SampleRate int
	// BufferSize is the number of PCM bytes read from the device at a time.
	BufferSize int
	// Channels is the number of captured channels.
	Channels int
	// Format is the container/codec extension of encoded segments.
	Format string
}

// DefaultCaptureParams returns the default capture settings.
func DefaultCaptureParams() CaptureParams {
	return CaptureParams{
		BitRate:    64,
		SampleRate: 44100,
		BufferSize: 4096,
		Channels:   1,
		Format:     "ogg",
	}
}

func (p CaptureParams) withDefaults() CaptureParams {
	d := DefaultCaptureParams()
	if p.BitRate <= 0 {
		p.BitRate = d.BitRate
	}
	if p.SampleRate <= 0 {
		p.SampleRate = d.SampleRate
	}
	if p.BufferSize <= 0 {
		p.BufferSize = d.BufferSize
	}
	if p.Channels <= 0 {
		p.Channels = d.Channels
	}
	if p.Format == "" {
		p.Format = d.Format
	}
	return p
}
