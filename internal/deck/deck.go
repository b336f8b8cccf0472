// Package deck is the in-memory presentation engine: it loads a YAML deck
// manifest, owns slide/fragment navigation and the paused/overview modes, and
// reports every change as a typed event.
package deck

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/maauso/slidecast/internal/unit"
)

// Static errors for deck operations.
var (
	// ErrEmptyDeck is returned when a manifest has no slides.
	ErrEmptyDeck = errors.New("deck: no slides")
	// ErrUnknownUnit is returned when navigating to an address the deck lacks.
	ErrUnknownUnit = errors.New("deck: unknown unit")
)

// EventType names a presentation event.
type EventType string

// Presentation events.
const (
	EventReady          EventType = "ready"
	EventSlideChanged   EventType = "slidechanged"
	EventFragmentShown  EventType = "fragmentshown"
	EventFragmentHidden EventType = "fragmenthidden"
	EventPaused         EventType = "paused"
	EventResumed        EventType = "resumed"
	EventOverviewShown  EventType = "overviewshown"
	EventOverviewHidden EventType = "overviewhidden"
)

// Event is a presentation event with the address current after it.
type Event struct {
	Type    EventType
	Address unit.Address
}

// Manifest is the YAML document describing a deck.
type Manifest struct {
	Title  string  `yaml:"title"`
	Slides []Slide `yaml:"slides"`
}

// Slide is one slide. Top-level slides form the horizontal axis; Stack holds
// the vertical slides below a top-level slide.
type Slide struct {
	Title        string     `yaml:"title"`
	Text         string     `yaml:"text"`
	Notes        string     `yaml:"notes"`
	Audio        string     `yaml:"audio"`
	AudioSources string     `yaml:"audio_sources"`
	AudioText    string     `yaml:"audio_text"`
	Advance      string     `yaml:"advance"`
	Video        *Video     `yaml:"video"`
	Fragments    []Fragment `yaml:"fragments"`
	Stack        []Slide    `yaml:"stack"`
}

// Video describes a companion video on a slide.
type Video struct {
	Src      string  `yaml:"src"`
	Duration float64 `yaml:"duration"`
	Loop     bool    `yaml:"loop"`
	Muted    bool    `yaml:"muted"`

	// LinkPosition controls whether audio seeks move the video. Unset, it
	// is true for slides without fragments and false otherwise.
	LinkPosition *bool `yaml:"link_position"`
}

func (v *Video) positionLinked(def bool) bool {
	if v.LinkPosition == nil {
		return def
	}
	return *v.LinkPosition
}

// Fragment is one fragment step of a slide.
type Fragment struct {
	// Index is the fragment index; it defaults to the list position.
	Index        *int   `yaml:"index"`
	Text         string `yaml:"text"`
	Audio        string `yaml:"audio"`
	AudioSources string `yaml:"audio_sources"`
	AudioText    string `yaml:"audio_text"`
	Advance      string `yaml:"advance"`
	// Video is used only when the slide has none.
	Video *Video `yaml:"video"`
}

// Content is what a unit carries that matters for narration.
type Content struct {
	Audio        string
	AudioSources string
	AudioText    string
	Notes        string
	Text         string
	Advance      string
	// UnitAdvance is the slide's advance, set for fragment content.
	UnitAdvance string
	// Video is the companion video. Fragments share their slide's video.
	Video *Video
	// PositionLinked reports whether audio seeks move Video.
	PositionLinked bool
}

type slideState struct {
	slide     Slide
	fragments map[int]Fragment
	// steps is the number of consecutively indexed fragments from 0.
	steps int
}

// Deck is a navigable presentation.
type Deck struct {
	mu       sync.Mutex
	title    string
	columns  [][]*slideState
	current  unit.Address
	paused   bool
	overview bool
	subs     []func(Event)
}

// Load reads a YAML manifest from path.
func Load(path string) (*Deck, error) {
	data, err := os.ReadFile(path) // #nosec G304 - path comes from configuration
	if err != nil {
		return nil, fmt.Errorf("read deck: %w", err)
	}
	return Parse(data)
}

// Parse builds a deck from YAML manifest bytes.
func Parse(data []byte) (*Deck, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse deck: %w", err)
	}
	return New(m)
}

// New builds a deck from a manifest, positioned on the first slide.
func New(m Manifest) (*Deck, error) {
	if len(m.Slides) == 0 {
		return nil, ErrEmptyDeck
	}
	d := &Deck{title: m.Title, current: unit.Slide(0, 0)}
	for _, top := range m.Slides {
		column := []*slideState{newSlideState(top)}
		for _, below := range top.Stack {
			column = append(column, newSlideState(below))
		}
		d.columns = append(d.columns, column)
	}
	return d, nil
}

func newSlideState(s Slide) *slideState {
	st := &slideState{slide: s, fragments: make(map[int]Fragment)}
	for i, f := range s.Fragments {
		idx := i
		if f.Index != nil {
			idx = *f.Index
		}
		if prev, dup := st.fragments[idx]; dup {
			f = mergeFragments(prev, f)
		}
		st.fragments[idx] = f
	}
	for {
		if _, ok := st.fragments[st.steps]; !ok {
			break
		}
		st.steps++
	}
	return st
}

// mergeFragments folds b into a fragment sharing its index: texts are
// joined, the first audio and video win.
func mergeFragments(a, b Fragment) Fragment {
	a.Text = joinText(a.Text, b.Text)
	a.AudioText = joinText(a.AudioText, b.AudioText)
	if a.Audio == "" && a.AudioSources == "" {
		a.Audio, a.AudioSources = b.Audio, b.AudioSources
	}
	if a.Advance == "" {
		a.Advance = b.Advance
	}
	if a.Video == nil {
		a.Video = b.Video
	}
	return a
}

func joinText(a, b string) string {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	switch {
	case a == "":
		return b
	case b == "":
		return a
	}
	return a + " " + b
}

// Title returns the deck title.
func (d *Deck) Title() string { return d.title }

// Subscribe registers fn for every event. fn runs synchronously on the
// goroutine that changed the deck and must not call back into it.
func (d *Deck) Subscribe(fn func(Event)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.subs = append(d.subs, fn)
}

func (d *Deck) emitLocked(t EventType) func() {
	ev := Event{Type: t, Address: d.current}
	subs := slices.Clone(d.subs)
	return func() {
		for _, fn := range subs {
			fn(ev)
		}
	}
}

// Ready announces that the deck is set up.
func (d *Deck) Ready() {
	d.mu.Lock()
	emit := d.emitLocked(EventReady)
	d.mu.Unlock()
	emit()
}

// Slides returns the whole-unit addresses in navigation order.
func (d *Deck) Slides() []unit.Address {
	var out []unit.Address
	for h, column := range d.columns {
		for v := range column {
			out = append(out, unit.Slide(h, v))
		}
	}
	return out
}

func (d *Deck) slide(h, v int) (*slideState, bool) {
	if h < 0 || h >= len(d.columns) || v < 0 || v >= len(d.columns[h]) {
		return nil, false
	}
	return d.columns[h][v], true
}

// Content returns the narration content of addr.
func (d *Deck) Content(addr unit.Address) (Content, bool) {
	st, ok := d.slide(addr.H, addr.V)
	if !ok {
		return Content{}, false
	}
	s := st.slide
	if !addr.HasFragment() {
		c := Content{
			Audio:        s.Audio,
			AudioSources: s.AudioSources,
			AudioText:    s.AudioText,
			Notes:        s.Notes,
			Text:         s.Text,
			Advance:      s.Advance,
			Video:        s.Video,
		}
		if s.Video != nil {
			c.PositionLinked = s.Video.positionLinked(len(st.fragments) == 0)
		}
		return c, true
	}
	f, ok := st.fragments[addr.F]
	if !ok {
		return Content{}, false
	}
	c := Content{
		Audio:        f.Audio,
		AudioSources: f.AudioSources,
		AudioText:    f.AudioText,
		Text:         f.Text,
		Advance:      f.Advance,
		UnitAdvance:  s.Advance,
	}
	switch {
	case s.Video != nil:
		// Fragment narration drives the slide's video without moving it.
		c.Video = s.Video
	case f.Video != nil:
		c.Video = f.Video
		c.PositionLinked = f.Video.positionLinked(true)
	}
	return c, true
}

// Indices returns the current address. F is -1 while no fragment is shown.
func (d *Deck) Indices() unit.Address {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current
}

// Next advances by one step: next fragment, else next vertical slide, else
// next horizontal slide. It returns false at the end of the deck.
func (d *Deck) Next() bool {
	d.mu.Lock()
	cur := d.current
	st, _ := d.slide(cur.H, cur.V)
	var emit func()
	switch {
	case cur.F+1 < st.steps:
		d.current = unit.Fragment(cur.H, cur.V, cur.F+1)
		emit = d.emitLocked(EventFragmentShown)
	case cur.V+1 < len(d.columns[cur.H]):
		d.current = unit.Slide(cur.H, cur.V+1)
		emit = d.emitLocked(EventSlideChanged)
	case cur.H+1 < len(d.columns):
		d.current = unit.Slide(cur.H+1, 0)
		emit = d.emitLocked(EventSlideChanged)
	default:
		d.mu.Unlock()
		return false
	}
	d.mu.Unlock()
	emit()
	return true
}

// Prev steps back: hide the current fragment, else move to the previous
// slide with all its fragments shown. Leaving a column lands on the bottom
// slide of the column before. It returns false at the start.
func (d *Deck) Prev() bool {
	d.mu.Lock()
	cur := d.current
	var emit func()
	switch {
	case cur.HasFragment():
		d.current = unit.Fragment(cur.H, cur.V, cur.F-1)
		emit = d.emitLocked(EventFragmentHidden)
	case cur.V > 0:
		d.current = d.lastStep(cur.H, cur.V-1)
		emit = d.emitLocked(EventSlideChanged)
	case cur.H > 0:
		d.current = d.lastStep(cur.H-1, len(d.columns[cur.H-1])-1)
		emit = d.emitLocked(EventSlideChanged)
	default:
		d.mu.Unlock()
		return false
	}
	d.mu.Unlock()
	emit()
	return true
}

func (d *Deck) lastStep(h, v int) unit.Address {
	st, _ := d.slide(h, v)
	return unit.Fragment(h, v, st.steps-1)
}

// Goto jumps to addr.
func (d *Deck) Goto(addr unit.Address) error {
	d.mu.Lock()
	st, ok := d.slide(addr.H, addr.V)
	if !ok || addr.F >= st.steps {
		d.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownUnit, addr)
	}
	if addr.F < 0 {
		addr = addr.Unit()
	}
	prev := d.current
	d.current = addr
	var emit func()
	switch {
	case prev.Unit() != addr.Unit():
		emit = d.emitLocked(EventSlideChanged)
	case prev.F < addr.F:
		emit = d.emitLocked(EventFragmentShown)
	case prev.F > addr.F:
		emit = d.emitLocked(EventFragmentHidden)
	default:
		d.mu.Unlock()
		return nil
	}
	d.mu.Unlock()
	emit()
	return nil
}

// Paused reports whether the presentation is paused (blacked out).
func (d *Deck) Paused() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.paused
}

// Overview reports whether the slide overview is shown.
func (d *Deck) Overview() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.overview
}

// SetPaused pauses or resumes the presentation.
func (d *Deck) SetPaused(p bool) {
	d.mu.Lock()
	if d.paused == p {
		d.mu.Unlock()
		return
	}
	d.paused = p
	t := EventResumed
	if p {
		t = EventPaused
	}
	emit := d.emitLocked(t)
	d.mu.Unlock()
	emit()
}

// SetOverview shows or hides the slide overview.
func (d *Deck) SetOverview(o bool) {
	d.mu.Lock()
	if d.overview == o {
		d.mu.Unlock()
		return
	}
	d.overview = o
	t := EventOverviewHidden
	if o {
		t = EventOverviewShown
	}
	emit := d.emitLocked(t)
	d.mu.Unlock()
	emit()
}
