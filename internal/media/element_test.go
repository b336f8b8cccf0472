package media

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/slidecast/internal/clock"
	"github.com/maauso/slidecast/internal/loop"
)

// stubProber returns fixed durations per URI.
type stubProber struct {
	mu        sync.Mutex
	durations map[string]float64
	err       error
	calls     int
}

func (p *stubProber) Duration(_ context.Context, uri string) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return 0, p.err
	}
	d, ok := p.durations[uri]
	if !ok {
		return 0, ErrUnknownDuration
	}
	return d, nil
}

func newTestEnv(p Prober) (Env, *clock.Manual, *loop.Loop) {
	c := clock.NewManual(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	l := loop.New(nil)
	return Env{Clock: c, Runtime: l, Prober: p}, c, l
}

func recordEvents(e *Element, types ...EventType) *[]EventType {
	var got []EventType
	for _, t := range types {
		t := t
		e.On(t, func() { got = append(got, t) })
	}
	return &got
}

func TestElement_PlayLoadsAndEnds(t *testing.T) {
	env, c, l := newTestEnv(&stubProber{durations: map[string]float64{"a.ogg": 3}})
	e := env.NewElement("audioplayer-0.0")
	events := recordEvents(e, EventPlay, EventPause, EventEnded, EventDurationChange)

	e.AddSource(Source{URI: "a.ogg", Kind: SourceReal})
	require.True(t, e.Activate("a.ogg"))
	require.NoError(t, e.Play())
	l.Settle()

	assert.True(t, e.Loaded())
	assert.Equal(t, 3.0, e.Duration())

	c.Advance(time.Second)
	assert.InDelta(t, 1.0, e.Position(), 1e-9)

	c.Advance(2 * time.Second)
	l.Settle()

	assert.True(t, e.Ended())
	assert.True(t, e.Paused())
	assert.Equal(t, 3.0, e.Position())
	assert.Equal(t, []EventType{EventPlay, EventDurationChange, EventPause, EventEnded}, *events)
}

func TestElement_PlayWithoutSource(t *testing.T) {
	env, _, _ := newTestEnv(nil)
	e := env.NewElement("x")
	assert.ErrorIs(t, e.Play(), ErrNoSource)
}

func TestElement_LoopRestarts(t *testing.T) {
	env, c, l := newTestEnv(nil)
	e := env.NewElement("x")
	e.AddSource(Source{URI: "silence-2", Kind: SourceSilent, Duration: 2})
	e.Activate("silence-2")
	e.SetLoop(true)
	ended := recordEvents(e, EventEnded)

	require.NoError(t, e.Play())
	l.Settle()
	c.Advance(2 * time.Second)
	l.Settle()
	c.Advance(time.Second)

	assert.False(t, e.Paused())
	assert.Empty(t, *ended)
	assert.InDelta(t, 1.0, e.Position(), 1e-9)
}

func TestElement_PauseAndSeek(t *testing.T) {
	env, c, l := newTestEnv(nil)
	e := env.NewElement("x")
	e.AddSource(Source{URI: "s", Kind: SourceSilent, Duration: 10})
	e.Activate("s")
	events := recordEvents(e, EventSeeked, EventPause)

	require.NoError(t, e.Play())
	l.Settle()
	c.Advance(4 * time.Second)
	e.Pause()
	c.Advance(4 * time.Second)
	assert.InDelta(t, 4.0, e.Position(), 1e-9)

	e.Seek(20)
	assert.Equal(t, 10.0, e.Position())
	e.Rewind()
	assert.Equal(t, 0.0, e.Position())
	l.Settle()
	assert.Equal(t, []EventType{EventPause, EventSeeked}, *events)
}

func TestElement_AbortLoadReportsAbort(t *testing.T) {
	env, _, l := newTestEnv(&stubProber{durations: map[string]float64{"a": 1}})
	e := env.NewElement("x")
	e.AddSource(Source{URI: "a", Kind: SourceReal})
	e.Activate("a")

	var got error
	e.Load(context.Background(), func(err error) { got = err })
	assert.True(t, e.Loading())
	e.AbortLoad()
	l.Settle()

	assert.ErrorIs(t, got, ErrLoadAborted)
	assert.False(t, e.Loaded())
}

func TestElement_LoadFailure(t *testing.T) {
	boom := errors.New("boom")
	env, _, l := newTestEnv(&stubProber{err: boom})
	e := env.NewElement("x")
	e.AddSource(Source{URI: "a", Kind: SourceReal})
	e.Activate("a")

	var got error
	e.Load(context.Background(), func(err error) { got = err })
	l.Settle()
	assert.ErrorIs(t, got, boom)
}

func TestElement_SourcesAndVolume(t *testing.T) {
	env, _, l := newTestEnv(nil)
	e := env.NewElement("x")
	changes := recordEvents(e, EventVolumeChange)

	e.AddSource(Source{URI: "a", Kind: SourceReal})
	e.AddSource(Source{URI: "a", Kind: SourceReal})
	e.AddSource(Source{URI: "b", Kind: SourceSilent, Duration: 2})
	assert.Len(t, e.Sources(), 2)

	e.Activate("b")
	assert.True(t, e.RemoveSource("a"))
	src, ok := e.ActiveSource()
	require.True(t, ok)
	assert.Equal(t, "b", src.URI)

	assert.True(t, e.RemoveSource("b"))
	_, ok = e.ActiveSource()
	assert.False(t, ok)

	e.SetVolume(0.5)
	e.SetVolume(0.5)
	e.SetMuted(true)
	e.SetVolume(7)
	l.Settle()
	assert.Equal(t, 1.0, e.Volume())
	assert.True(t, e.Muted())
	assert.Len(t, *changes, 3)
}

func TestElement_OnceAndOff(t *testing.T) {
	env, _, l := newTestEnv(nil)
	e := env.NewElement("x")
	count := 0
	e.Once(EventVolumeChange, func() { count++ })
	off := e.On(EventVolumeChange, func() { count += 10 })

	e.SetMuted(true)
	l.Settle()
	off()
	e.SetMuted(false)
	l.Settle()
	assert.Equal(t, 11, count)
}

func TestParseDuration(t *testing.T) {
	d, err := parseDuration("12.500000\n")
	require.NoError(t, err)
	assert.Equal(t, 12.5, d)

	_, err = parseDuration("N/A")
	assert.Error(t, err)

	_, err = parseDuration("0")
	assert.ErrorIs(t, err, ErrUnknownDuration)
}
