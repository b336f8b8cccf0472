package link

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maauso/slidecast/internal/asset"
	"github.com/maauso/slidecast/internal/clock"
	"github.com/maauso/slidecast/internal/loop"
	"github.com/maauso/slidecast/internal/media"
	"github.com/maauso/slidecast/internal/unit"
)

// mockSynth implements audio.Synthesizer for testing.
type mockSynth struct {
	mock.Mock
}

func (m *mockSynth) Synthesize(ctx context.Context, seconds int) (media.Source, error) {
	args := m.Called(ctx, seconds)
	return args.Get(0).(media.Source), args.Error(1)
}

func silence(seconds int) media.Source {
	return media.Source{URI: fmt.Sprintf("silence_%ds.wav", seconds), Kind: media.SourceSilent, Duration: seconds}
}

// stepRuntime queues posted tasks and background work so tests can
// interleave them by hand.
type stepRuntime struct {
	tasks []loop.Task
	work  []func() loop.Task
}

func (r *stepRuntime) Post(t loop.Task) bool {
	r.tasks = append(r.tasks, t)
	return true
}

func (r *stepRuntime) Go(w func() loop.Task) {
	r.work = append(r.work, w)
}

func (r *stepRuntime) runTasks() {
	for len(r.tasks) > 0 {
		t := r.tasks[0]
		r.tasks = r.tasks[1:]
		t()
	}
}

func (r *stepRuntime) runWork() {
	work := r.work
	r.work = nil
	for _, w := range work {
		if t := w(); t != nil {
			r.tasks = append(r.tasks, t)
		}
	}
}

func (r *stepRuntime) settle() {
	for len(r.tasks) > 0 || len(r.work) > 0 {
		r.runTasks()
		r.runWork()
	}
}

type fixture struct {
	rt    *stepRuntime
	clock *clock.Manual
	env   media.Env
	synth *mockSynth
	lk    *Linker
}

func newFixture() *fixture {
	rt := &stepRuntime{}
	c := clock.NewManual(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	synth := new(mockSynth)
	return &fixture{
		rt:    rt,
		clock: c,
		env:   media.Env{Clock: c, Runtime: rt},
		synth: synth,
		lk:    New(rt, synth, nil),
	}
}

func (f *fixture) video(uri string, seconds float64) *media.Element {
	v := f.env.NewElement("video-" + uri)
	v.AddSource(media.Source{URI: uri, Kind: media.SourceReal})
	v.Activate(uri)
	v.SetDuration(seconds)
	return v
}

func TestLink_IdempotentFallback(t *testing.T) {
	f := newFixture()
	f.synth.On("Synthesize", mock.Anything, 4).Return(silence(4), nil).Once()

	a := asset.New(f.env, unit.Slide(0, 0), asset.KindSilent)
	video := f.video("clip.mp4", 3.2)
	video.SetLoop(true)

	f.lk.Link(context.Background(), a, video, true)
	f.lk.Link(context.Background(), a, video, true)
	f.rt.settle()
	f.lk.Link(context.Background(), a, video, true)
	f.rt.settle()

	require.Len(t, a.Sources(), 1)
	src, ok := a.ActiveSource()
	require.True(t, ok)
	assert.Equal(t, silence(4), src)
	assert.True(t, a.Loaded())
	assert.Equal(t, 4.0, a.Duration())
	assert.True(t, a.Loop())

	l, ok := f.lk.Lookup(a)
	require.True(t, ok)
	fb, ok := l.Fallback()
	require.True(t, ok)
	assert.Equal(t, 4, fb.Duration)
	f.synth.AssertNumberOfCalls(t, "Synthesize", 1)
}

func TestLink_RealSourceNeedsNoSilence(t *testing.T) {
	f := newFixture()
	a := asset.New(f.env, unit.Slide(0, 0), asset.KindReal)
	a.AddSource(media.Source{URI: "narration.ogg", Kind: media.SourceReal})

	f.lk.Link(context.Background(), a, f.video("clip.mp4", 8), true)
	f.rt.settle()

	src, ok := a.ActiveSource()
	require.True(t, ok)
	assert.Equal(t, "narration.ogg", src.URI)
	f.synth.AssertNotCalled(t, "Synthesize", mock.Anything, mock.Anything)
}

func TestLink_ReplacesStaleFallback(t *testing.T) {
	f := newFixture()
	f.synth.On("Synthesize", mock.Anything, 3).Return(silence(3), nil)
	f.synth.On("Synthesize", mock.Anything, 5).Return(silence(5), nil)

	a := asset.New(f.env, unit.Slide(0, 0), asset.KindSilent)
	f.lk.Link(context.Background(), a, f.video("short.mp4", 3), true)
	f.rt.settle()

	f.lk.Link(context.Background(), a, f.video("long.mp4", 4.5), false)
	f.rt.settle()

	assert.Equal(t, []media.Source{silence(5)}, a.Sources())
	src, ok := a.ActiveSource()
	require.True(t, ok)
	assert.Equal(t, 5, src.Duration)
}

func TestLink_ReusesMatchingFallback(t *testing.T) {
	f := newFixture()
	a := asset.New(f.env, unit.Slide(0, 0), asset.KindSilent)
	a.AddSource(silence(2))
	a.AddSource(silence(6))

	f.lk.Link(context.Background(), a, f.video("clip.mp4", 5.1), true)
	f.rt.settle()

	src, ok := a.ActiveSource()
	require.True(t, ok)
	assert.Equal(t, silence(6), src)
	assert.Len(t, a.Sources(), 2)
	f.synth.AssertNotCalled(t, "Synthesize", mock.Anything, mock.Anything)
}

func TestLink_WaitsForVideoDuration(t *testing.T) {
	f := newFixture()
	f.synth.On("Synthesize", mock.Anything, 2).Return(silence(2), nil).Once()

	a := asset.New(f.env, unit.Slide(0, 0), asset.KindSilent)
	video := f.env.NewElement("video")
	video.AddSource(media.Source{URI: "clip.mp4", Kind: media.SourceReal})
	video.Activate("clip.mp4")

	f.lk.Link(context.Background(), a, video, true)
	f.lk.Link(context.Background(), a, video, true)
	f.rt.settle()
	assert.Empty(t, a.Sources())

	video.SetDuration(1.5)
	f.rt.settle()

	src, ok := a.ActiveSource()
	require.True(t, ok)
	assert.Equal(t, silence(2), src)
	f.synth.AssertNumberOfCalls(t, "Synthesize", 1)
}

func TestLink_AbortedLoadRollsBack(t *testing.T) {
	f := newFixture()
	f.synth.On("Synthesize", mock.Anything, 4).Return(silence(4), nil)

	a := asset.New(f.env, unit.Slide(0, 0), asset.KindSilent)
	video := f.video("clip.mp4", 4)

	f.lk.Link(context.Background(), a, video, true)
	f.rt.runWork()  // synthesis
	f.rt.runTasks() // attach and start loading
	require.True(t, a.Loading())

	a.AbortLoad()
	f.rt.settle()

	assert.Empty(t, a.Sources())
	_, ok := a.ActiveSource()
	assert.False(t, ok)
	l, _ := f.lk.Lookup(a)
	_, ok = l.Fallback()
	assert.False(t, ok)

	// A later link starts over.
	f.lk.Link(context.Background(), a, video, true)
	f.rt.settle()
	assert.True(t, a.Loaded())
	f.synth.AssertNumberOfCalls(t, "Synthesize", 2)
}

func TestLink_SynthesisFailureIsSilent(t *testing.T) {
	f := newFixture()
	f.synth.On("Synthesize", mock.Anything, 4).Return(media.Source{}, errors.New("no ffmpeg")).Once()
	f.synth.On("Synthesize", mock.Anything, 4).Return(silence(4), nil).Once()

	a := asset.New(f.env, unit.Slide(0, 0), asset.KindSilent)
	video := f.video("clip.mp4", 4)

	f.lk.Link(context.Background(), a, video, true)
	f.rt.settle()
	assert.Empty(t, a.Sources())

	f.lk.Link(context.Background(), a, video, true)
	f.rt.settle()
	assert.Len(t, a.Sources(), 1)
}

func TestLink_Propagation(t *testing.T) {
	f := newFixture()
	a := asset.New(f.env, unit.Slide(0, 0), asset.KindReal)
	a.AddSource(media.Source{URI: "narration.ogg", Kind: media.SourceReal})
	a.Activate("narration.ogg")
	a.SetDuration(10)
	video := f.video("clip.mp4", 10)

	f.lk.Link(context.Background(), a, video, true)
	f.rt.settle()

	require.NoError(t, a.Play())
	f.rt.settle()
	assert.False(t, video.Paused())

	f.clock.Advance(3 * time.Second)
	a.Pause()
	f.rt.settle()
	assert.True(t, video.Paused())
	assert.InDelta(t, 3.0, video.Position(), 1e-9)

	a.Seek(7)
	a.SetVolume(0.25)
	a.SetMuted(true)
	f.rt.settle()
	assert.InDelta(t, 7.0, video.Position(), 1e-9)
	assert.Equal(t, 0.25, video.Volume())
	assert.True(t, video.Muted())
}

func TestLink_SeekNotPropagatedWhenUnlinked(t *testing.T) {
	f := newFixture()
	a := asset.New(f.env, unit.Slide(0, 0), asset.KindReal)
	a.AddSource(media.Source{URI: "narration.ogg", Kind: media.SourceReal})
	a.Activate("narration.ogg")
	a.SetDuration(10)
	video := f.video("clip.mp4", 10)

	f.lk.Link(context.Background(), a, video, false)
	f.rt.settle()

	a.Seek(6)
	f.rt.settle()
	assert.Zero(t, video.Position())
}

func TestLink_PauseKeepsUnlinkedVideoPosition(t *testing.T) {
	f := newFixture()
	video := f.video("clip.mp4", 30)
	video.Seek(12)

	a := asset.New(f.env, unit.Fragment(0, 0, 1), asset.KindReal)
	a.AddSource(media.Source{URI: "step.ogg", Kind: media.SourceReal})
	a.Activate("step.ogg")
	a.SetDuration(5)

	f.lk.Link(context.Background(), a, video, false)
	f.rt.settle()

	require.NoError(t, a.Play())
	f.rt.settle()
	f.clock.Advance(2 * time.Second)
	a.Pause()
	f.rt.settle()

	assert.True(t, video.Paused())
	assert.InDelta(t, 14.0, video.Position(), 1e-9)
}

func TestLink_WarnsOnSuspiciousDuration(t *testing.T) {
	f := newFixture()
	var buf bytes.Buffer
	f.lk = New(f.rt, f.synth, slog.New(slog.NewTextHandler(&buf, nil)))
	f.synth.On("Synthesize", mock.Anything, 700).Return(silence(700), nil).Once()

	a := asset.New(f.env, unit.Slide(0, 0), asset.KindSilent)
	f.lk.Link(context.Background(), a, f.video("lecture.mp4", 700), true)
	f.rt.settle()

	assert.Contains(t, buf.String(), "suspicious video duration")
	assert.Contains(t, buf.String(), "video=lecture.mp4")
	fb, ok := f.lk.links[a].Fallback()
	require.True(t, ok)
	assert.Equal(t, 700, fb.Duration)
}
