package playback

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/slidecast/internal/clock"
	"github.com/maauso/slidecast/internal/deck"
	"github.com/maauso/slidecast/internal/event"
	"github.com/maauso/slidecast/internal/link"
	"github.com/maauso/slidecast/internal/loop"
	"github.com/maauso/slidecast/internal/media"
	"github.com/maauso/slidecast/internal/resolver"
	"github.com/maauso/slidecast/internal/unit"
)

// stubSynth returns silent sources without rendering anything.
type stubSynth struct{}

func (stubSynth) Synthesize(_ context.Context, seconds int) (media.Source, error) {
	return media.Source{
		URI:      fmt.Sprintf("silence_%ds.wav", seconds),
		Kind:     media.SourceSilent,
		Duration: seconds,
	}, nil
}

// countingNav counts the advances made by the controller.
type countingNav struct {
	*deck.Deck
	next int
}

func (n *countingNav) Next() bool {
	n.next++
	return n.Deck.Next()
}

type harness struct {
	deck      *deck.Deck
	nav       *countingNav
	loop      *loop.Loop
	clock     *clock.Manual
	res       *resolver.Resolver
	ctl       *Controller
	bus       *event.Bus
	recording bool
}

// newHarness builds a controller over slides whose units get silent
// audio of silence seconds (none when zero).
func newHarness(t *testing.T, cfg Config, silence int, slides ...deck.Slide) *harness {
	t.Helper()
	d, err := deck.New(deck.Manifest{Slides: slides})
	require.NoError(t, err)

	l := loop.New(nil)
	c := clock.NewManual(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	env := media.Env{Clock: c, Runtime: l}
	res := resolver.New(env, d, nil, stubSynth{}, resolver.Options{DefaultDuration: silence}, nil)
	res.ResolveAll(context.Background())

	h := &harness{
		deck:  d,
		nav:   &countingNav{Deck: d},
		loop:  l,
		clock: c,
		res:   res,
		bus:   event.NewBus(),
	}
	h.ctl = New(h.nav, res, link.New(l, stubSynth{}, nil), l, cfg, nil,
		WithClock(c),
		WithPublisher(h.bus),
		WithRecordingFlag(func() bool { return h.recording }),
	)
	d.Subscribe(func(e deck.Event) {
		l.Post(func() { h.ctl.Handle(context.Background(), e) })
	})
	return h
}

func (h *harness) advance(d time.Duration) {
	h.loop.Settle()
	h.clock.Advance(d)
	h.loop.Settle()
}

func (h *harness) visible() []string {
	var ids []string
	for _, e := range h.res.Entries() {
		if !e.Audio.Hidden() {
			ids = append(ids, e.Audio.ID())
		}
	}
	return ids
}

func stacked() []deck.Slide {
	return []deck.Slide{
		{Title: "a", Stack: []deck.Slide{{Title: "a-below"}}},
		{Title: "b"},
	}
}

func TestController_AtMostOneVisible(t *testing.T) {
	slides := stacked()
	slides[0].Fragments = []deck.Fragment{{Text: "one"}, {Text: "two"}}
	h := newHarness(t, Config{Autoplay: true, Advance: Policy{Mode: ModeNone}}, 2, slides...)

	steps := []func(){
		h.deck.Ready,
		func() { h.deck.Next() },
		func() { h.deck.Next() },
		func() { h.deck.Next() },
		func() { h.deck.Prev() },
		func() { require.NoError(t, h.deck.Goto(unit.Slide(1, 0))) },
		func() { h.deck.Prev() },
		func() { require.NoError(t, h.deck.Goto(unit.Fragment(0, 0, 1))) },
	}
	for i, step := range steps {
		step()
		h.loop.Settle()

		visible := h.visible()
		require.LessOrEqual(t, len(visible), 1, "step %d", i)
		if cur := h.ctl.Current(); cur != nil {
			assert.Equal(t, []string{cur.ID()}, visible, "step %d", i)
			assert.False(t, cur.Paused(), "step %d", i)
		}
	}
}

func TestController_SlideEntryStartsAtUnit(t *testing.T) {
	slides := stacked()
	slides[0].Fragments = []deck.Fragment{{Text: "one"}, {Text: "two"}}
	h := newHarness(t, Config{}, 2, slides...)

	require.NoError(t, h.deck.Goto(unit.Slide(0, 1)))
	h.loop.Settle()
	h.deck.Prev()
	h.loop.Settle()

	assert.Equal(t, unit.Slide(0, 0), h.deck.Indices())
	require.NotNil(t, h.ctl.Current())
	assert.Equal(t, "audioplayer-0.0", h.ctl.Current().ID())
}

func TestController_StartAtFragment(t *testing.T) {
	slides := stacked()
	slides[0].Fragments = []deck.Fragment{{Text: "one"}, {Text: "two"}}
	h := newHarness(t, Config{StartAtFragment: true}, 2, slides...)

	require.NoError(t, h.deck.Goto(unit.Slide(0, 1)))
	h.loop.Settle()
	h.deck.Prev()
	h.loop.Settle()

	assert.Equal(t, unit.Fragment(0, 0, 1), h.deck.Indices())
	assert.Equal(t, "audioplayer-0.0.1", h.ctl.Current().ID())
}

func TestController_ImmediateAdvanceOnce(t *testing.T) {
	h := newHarness(t, Config{Autoplay: true, Advance: Policy{Mode: ModeImmediate}}, 2, stacked()...)

	h.deck.Ready()
	h.loop.Settle()
	assert.Equal(t, StatePlaying, h.ctl.State())

	h.advance(2 * time.Second)

	assert.Equal(t, 1, h.nav.next)
	assert.Equal(t, unit.Slide(0, 1), h.deck.Indices())
	assert.Equal(t, "audioplayer-0.1", h.ctl.Current().ID())

	h.loop.Settle()
	assert.Equal(t, 1, h.nav.next)
}

func TestController_DelayCancelledByNavigation(t *testing.T) {
	h := newHarness(t, Config{Autoplay: true, Advance: Policy{Mode: ModeDelay, Delay: 2 * time.Second}}, 2, stacked()...)

	h.deck.Ready()
	h.advance(2 * time.Second)
	require.True(t, h.ctl.AdvancePending())

	h.advance(time.Second)
	h.deck.Next()
	h.loop.Settle()
	assert.False(t, h.ctl.AdvancePending())

	h.advance(time.Second)

	assert.Zero(t, h.nav.next)
	assert.Equal(t, unit.Slide(0, 1), h.deck.Indices())
}

func TestController_DelayFires(t *testing.T) {
	h := newHarness(t, Config{Autoplay: true, Advance: Policy{Mode: ModeDelay, Delay: 2 * time.Second}}, 2, stacked()...)

	h.deck.Ready()
	h.advance(2 * time.Second)
	h.advance(1999 * time.Millisecond)
	assert.Zero(t, h.nav.next)

	h.advance(time.Millisecond)
	assert.Equal(t, 1, h.nav.next)
	assert.Equal(t, unit.Slide(0, 1), h.deck.Indices())
}

func TestController_OverridesTakePrecedence(t *testing.T) {
	slides := stacked()
	slides[0].Advance = "-1"
	slides[0].Fragments = []deck.Fragment{{Advance: "500"}}
	h := newHarness(t, Config{Autoplay: true, Advance: Policy{Mode: ModeImmediate}}, 2, slides...)

	h.deck.Ready()
	h.advance(2 * time.Second)
	assert.Zero(t, h.nav.next)
	assert.Equal(t, StatePaused, h.ctl.State())

	h.deck.Next()
	h.advance(2 * time.Second)
	assert.True(t, h.ctl.AdvancePending())

	h.advance(500 * time.Millisecond)
	assert.Equal(t, 1, h.nav.next)
	assert.Equal(t, unit.Slide(0, 1), h.deck.Indices())
}

func TestController_QueuedNavigationsKeepFinalUnit(t *testing.T) {
	slides := stacked()
	slides[0].Fragments = []deck.Fragment{{Text: "one"}, {Text: "two"}}
	h := newHarness(t, Config{}, 2, slides...)

	require.NoError(t, h.deck.Goto(unit.Slide(0, 1)))
	h.loop.Settle()

	// Both changes are queued before the loop handles either.
	require.True(t, h.deck.Prev())
	require.True(t, h.deck.Next())
	h.loop.Settle()

	assert.Equal(t, unit.Slide(0, 1), h.deck.Indices())
	require.NotNil(t, h.ctl.Current())
	assert.Equal(t, "audioplayer-0.1", h.ctl.Current().ID())
	assert.Equal(t, []string{"audioplayer-0.1"}, h.visible())
}

func TestController_RecordingSuppressesAdvance(t *testing.T) {
	h := newHarness(t, Config{Autoplay: true, Advance: Policy{Mode: ModeImmediate}}, 2, stacked()...)
	h.recording = true

	h.deck.Ready()
	h.advance(2 * time.Second)

	assert.Zero(t, h.nav.next)
	assert.Equal(t, unit.Slide(0, 0), h.deck.Indices())
}

func TestController_SuspendAndRelease(t *testing.T) {
	h := newHarness(t, Config{Autoplay: true, Advance: Policy{Mode: ModeDelay, Delay: time.Second}}, 2, stacked()...)

	h.deck.Ready()
	h.loop.Settle()
	require.Equal(t, StatePlaying, h.ctl.State())

	h.deck.SetOverview(true)
	h.loop.Settle()
	assert.Equal(t, StateSuspended, h.ctl.State())
	assert.True(t, h.ctl.Current().Paused())

	h.deck.Next()
	h.loop.Settle()
	assert.Equal(t, StateSuspended, h.ctl.State())
	assert.True(t, h.ctl.Current().Paused(), "no autoplay while suspended")

	h.deck.SetOverview(false)
	h.loop.Settle()
	assert.Equal(t, StatePaused, h.ctl.State())
	assert.True(t, h.ctl.Current().Paused(), "no auto-resume")

	require.NoError(t, h.ctl.Toggle())
	h.loop.Settle()
	assert.Equal(t, StatePlaying, h.ctl.State())

	h.advance(2 * time.Second)
	require.True(t, h.ctl.AdvancePending())
	h.deck.SetPaused(true)
	h.loop.Settle()
	assert.False(t, h.ctl.AdvancePending())
	h.advance(time.Second)
	assert.Zero(t, h.nav.next)
}

func TestController_Notifications(t *testing.T) {
	h := newHarness(t, Config{}, 10, stacked()...)
	events, cancel := h.bus.Subscribe(16)
	defer cancel()

	h.deck.Ready()
	h.loop.Settle()
	require.NoError(t, h.ctl.Toggle())
	h.advance(time.Second)
	require.NoError(t, h.ctl.Toggle())
	h.loop.Settle()
	h.ctl.Current().Seek(4.5)
	h.loop.Settle()

	require.Len(t, events, 3)
	assert.Equal(t, event.Event{Type: event.StartPlayback, ID: "audioplayer-0.0"}, <-events)
	assert.Equal(t, event.Event{Type: event.StopPlayback, ID: "audioplayer-0.0", Pause: true}, <-events)
	assert.Equal(t, event.Event{Type: event.SeekPlayback, Timestamp: 4.5}, <-events)

	require.NoError(t, h.ctl.Toggle())
	h.loop.Settle()
	start := <-events
	assert.True(t, start.Resume)
	assert.Equal(t, 4.5, start.Timestamp)
}

func TestController_AutoplayInheritsVolume(t *testing.T) {
	h := newHarness(t, Config{Autoplay: true, Advance: Policy{Mode: ModeNone}}, 2, stacked()...)

	h.deck.Ready()
	h.loop.Settle()
	first := h.ctl.Current()
	first.SetVolume(0.3)
	first.SetMuted(true)

	h.deck.Next()
	h.loop.Settle()

	cur := h.ctl.Current()
	require.NotSame(t, first, cur)
	assert.Equal(t, 0.3, cur.Volume())
	assert.True(t, cur.Muted())
	assert.True(t, first.Paused())
	assert.Zero(t, first.Position())
	assert.True(t, first.Hidden())
}

func TestController_PreloadsNextUnit(t *testing.T) {
	h := newHarness(t, Config{Autoplay: true, Advance: Policy{Mode: ModeNone}}, 2, stacked()...)

	h.deck.Ready()
	h.loop.Settle()

	below, ok := h.res.Lookup(unit.Slide(0, 1))
	require.True(t, ok)
	assert.True(t, below.Audio.Loaded())
	other, ok := h.res.Lookup(unit.Slide(1, 0))
	require.True(t, ok)
	assert.False(t, other.Audio.Loaded())
}

func TestController_VideoAutoplayWaitsForFallback(t *testing.T) {
	h := newHarness(t, Config{Autoplay: true, Advance: Policy{Mode: ModeNone}}, 0,
		deck.Slide{Video: &deck.Video{Src: "clip.mp4", Duration: 3.2}},
	)

	h.deck.Ready()
	h.loop.Settle()

	entry, ok := h.res.Lookup(unit.Slide(0, 0))
	require.True(t, ok)
	src, ok := entry.Audio.ActiveSource()
	require.True(t, ok)
	assert.Equal(t, 4, src.Duration)
	assert.False(t, entry.Audio.Paused())
	assert.False(t, entry.Video.Paused())
	assert.Equal(t, StatePlaying, h.ctl.State())
}

func TestController_ToggleWithoutAudio(t *testing.T) {
	h := newHarness(t, Config{}, 0, deck.Slide{Title: "silent"})

	h.deck.Ready()
	h.loop.Settle()

	assert.Equal(t, StateIdle, h.ctl.State())
	assert.ErrorIs(t, h.ctl.Toggle(), ErrNoAudio)
	assert.ErrorIs(t, h.ctl.Seek(1), ErrNoAudio)
	assert.ErrorIs(t, h.ctl.SetVolume(nil, nil), ErrNoAudio)
	assert.Equal(t, Snapshot{State: StateIdle}, h.ctl.Snapshot())
}

func TestController_SeekAndVolume(t *testing.T) {
	h := newHarness(t, Config{Advance: Policy{Mode: ModeDelay, Delay: time.Second}}, 2, stacked()...)
	events, cancel := h.bus.Subscribe(16)
	defer cancel()

	h.deck.Ready()
	h.loop.Settle()
	require.NoError(t, h.ctl.Toggle())
	h.advance(2 * time.Second)
	require.True(t, h.ctl.AdvancePending())

	require.NoError(t, h.ctl.Seek(1))
	h.loop.Settle()
	assert.False(t, h.ctl.AdvancePending(), "a manual seek cancels the advance")

	vol := 0.5
	muted := true
	require.NoError(t, h.ctl.SetVolume(&vol, &muted))
	s := h.ctl.Snapshot()
	assert.Equal(t, 0.5, s.Volume)
	assert.True(t, s.Muted)
	assert.Equal(t, 1.0, s.Position)

	var seeks int
	for len(events) > 0 {
		if (<-events).Type == event.SeekPlayback {
			seeks++
		}
	}
	assert.Equal(t, 1, seeks)
}
