// Package resolver decides which audio backs each navigable unit and keeps
// the resulting players in a registry keyed by unit address.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/maauso/slidecast/internal/archive"
	"github.com/maauso/slidecast/internal/asset"
	"github.com/maauso/slidecast/internal/audio"
	"github.com/maauso/slidecast/internal/deck"
	"github.com/maauso/slidecast/internal/media"
	"github.com/maauso/slidecast/internal/unit"
)

// Static errors for resolution.
var (
	// ErrUnknownUnit is returned when the deck has no content at an address.
	ErrUnknownUnit = errors.New("resolver: unknown unit")
	// ErrNoAsset is returned when a unit needs no player.
	ErrNoAsset = errors.New("resolver: no asset for unit")
)

// Deck is the part of the presentation the resolver reads.
type Deck interface {
	Slides() []unit.Address
	Content(addr unit.Address) (deck.Content, bool)
}

// Options configures the resolution tiers.
type Options struct {
	// Prefix and Suffix build the conventional URI prefix + "h.v[.f]" + suffix.
	Prefix string
	Suffix string
	// DefaultAudios enables the conventional lookup.
	DefaultAudios bool
	// TTSURL is the text-to-speech endpoint. A "{text}" placeholder is
	// replaced by the escaped text, otherwise the text is appended.
	TTSURL string
	// DefaultNotes falls back to speaker notes for TTS text.
	DefaultNotes bool
	// DefaultText falls back to the visible text for TTS text.
	DefaultText bool
	// DefaultDuration is the length in seconds of synthesized silence.
	// Zero disables the silent fallback.
	DefaultDuration int
}

// Entry is a registered unit: its audio and its companion video, if any.
// Fragments share the video element of their slide.
type Entry struct {
	Audio          *asset.Audio
	Video          *media.Element
	PositionLinked bool
}

// Resolver resolves units and owns the registry. Resolve and ResolveAll
// create elements, so they run before the loop starts or on the loop.
type Resolver struct {
	env    media.Env
	deck   Deck
	prober Prober
	synth  audio.Synthesizer
	opts   Options
	logger *slog.Logger

	mu      sync.RWMutex
	entries map[unit.Address]*Entry
	videos  map[*deck.Video]*media.Element
}

// New creates a resolver. prober may be nil when DefaultAudios is off.
func New(env media.Env, d Deck, prober Prober, synth audio.Synthesizer, opts Options, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		env:     env,
		deck:    d,
		prober:  prober,
		synth:   synth,
		opts:    opts,
		logger:  logger,
		entries: make(map[unit.Address]*Entry),
		videos:  make(map[*deck.Video]*media.Element),
	}
}

// ResolveAll resolves every slide of the deck and, per slide, fragments 0,
// 1, 2, ... until an index is missing. Failures are logged and skipped.
func (r *Resolver) ResolveAll(ctx context.Context) int {
	resolved := 0
	for _, addr := range r.deck.Slides() {
		if r.resolveLogged(ctx, addr) {
			resolved++
		}
		for f := 0; ; f++ {
			fa := unit.Fragment(addr.H, addr.V, f)
			if _, ok := r.deck.Content(fa); !ok {
				break
			}
			if r.resolveLogged(ctx, fa) {
				resolved++
			}
		}
	}
	r.logger.Info("assets resolved", slog.Int("count", resolved))
	return resolved
}

func (r *Resolver) resolveLogged(ctx context.Context, addr unit.Address) bool {
	_, err := r.Resolve(ctx, addr)
	switch {
	case err == nil:
		return true
	case errors.Is(err, ErrNoAsset):
		r.logger.Debug("unit has no player", slog.String("unit", addr.String()))
	default:
		r.logger.Warn("asset resolution failed",
			slog.String("unit", addr.String()),
			slog.String("error", err.Error()),
		)
	}
	return false
}

// Resolve picks the audio for addr and registers it, replacing any previous
// entry for the same address.
func (r *Resolver) Resolve(ctx context.Context, addr unit.Address) (*Entry, error) {
	content, ok := r.deck.Content(addr)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownUnit, addr)
	}

	kind := asset.KindReal
	sources := r.authored(ctx, addr, content)

	var video *media.Element
	if content.Video != nil && content.Video.Src != "" {
		video = r.video(ctx, addr, content.Video)
	}

	if len(sources) == 0 {
		text := r.narration(content)
		switch {
		case r.opts.TTSURL != "" && text != "":
			kind = asset.KindTTS
			sources = []media.Source{{URI: TTSURL(r.opts.TTSURL, text), Kind: media.SourceTTS}}
		case video != nil:
			// The linker attaches silence matching the video.
			kind = asset.KindSilent
		case r.opts.DefaultDuration > 0:
			src, err := r.synth.Synthesize(ctx, r.opts.DefaultDuration)
			if err != nil {
				return nil, fmt.Errorf("synthesize silence: %w", err)
			}
			kind = asset.KindSilent
			sources = []media.Source{src}
		default:
			return nil, fmt.Errorf("%w: %s", ErrNoAsset, addr)
		}
	}

	a := asset.New(r.env, addr, kind)
	a.Advance = content.Advance
	a.UnitAdvance = content.UnitAdvance
	for _, s := range sources {
		a.AddSource(s)
	}
	if len(sources) > 0 {
		a.Activate(sources[0].URI)
	}

	entry := &Entry{Audio: a, Video: video, PositionLinked: video != nil && content.PositionLinked}

	r.mu.Lock()
	r.entries[addr] = entry
	r.mu.Unlock()

	r.logger.Debug("asset resolved",
		slog.String("unit", addr.String()),
		slog.String("kind", string(kind)),
		slog.Int("sources", len(sources)),
		slog.Bool("video", video != nil),
	)
	return entry, nil
}

// authored returns the real sources of a unit: the explicit reference, the
// listed sources, else the conventional file if it exists.
func (r *Resolver) authored(ctx context.Context, addr unit.Address, c deck.Content) []media.Source {
	if c.Audio != "" {
		return []media.Source{{URI: c.Audio, Kind: media.SourceReal}}
	}

	var sources []media.Source
	for _, uri := range strings.Split(c.AudioSources, ",") {
		if uri = strings.TrimSpace(uri); uri != "" {
			sources = append(sources, media.Source{URI: uri, Kind: media.SourceReal})
		}
	}
	if len(sources) > 0 || !r.opts.DefaultAudios || r.prober == nil {
		return sources
	}

	uri := r.opts.Prefix + addr.String() + r.opts.Suffix
	exists, err := r.prober.Exists(ctx, uri)
	if err != nil {
		r.logger.Warn("existence probe failed",
			slog.String("uri", uri),
			slog.String("error", err.Error()),
		)
		return nil
	}
	if !exists {
		r.logger.Debug("no conventional audio", slog.String("uri", uri))
		return nil
	}
	return []media.Source{{URI: uri, Kind: media.SourceReal}}
}

func (r *Resolver) narration(c deck.Content) string {
	if text := strings.TrimSpace(c.AudioText); text != "" {
		return text
	}
	if r.opts.DefaultNotes {
		if text := strings.TrimSpace(c.Notes); text != "" {
			return text
		}
	}
	if r.opts.DefaultText {
		return strings.TrimSpace(c.Text)
	}
	return ""
}

// video returns the element playing v, creating it on first use.
func (r *Resolver) video(ctx context.Context, addr unit.Address, v *deck.Video) *media.Element {
	r.mu.RLock()
	e, ok := r.videos[v]
	r.mu.RUnlock()
	if ok {
		return e
	}

	e = r.env.NewElement("video-" + addr.String())
	e.AddSource(media.Source{URI: v.Src, Kind: media.SourceReal})
	e.Activate(v.Src)
	e.SetLoop(v.Loop)
	e.SetMuted(v.Muted)
	if v.Duration > 0 {
		e.SetDuration(v.Duration)
	} else {
		e.Load(ctx, nil)
	}

	r.mu.Lock()
	r.videos[v] = e
	r.mu.Unlock()
	return e
}

// TTSURL builds the text-to-speech request URL for text. Spaces are
// escaped as %20 so the text also fits a path segment.
func TTSURL(template, text string) string {
	escaped := strings.ReplaceAll(url.QueryEscape(text), "+", "%20")
	if strings.Contains(template, "{text}") {
		return strings.ReplaceAll(template, "{text}", escaped)
	}
	return template + escaped
}

// Lookup returns the entry registered for addr.
func (r *Resolver) Lookup(addr unit.Address) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[addr]
	return e, ok
}

// Entries returns all entries in navigation order.
func (r *Resolver) Entries() []*Entry {
	r.mu.RLock()
	out := make([]*Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].Audio.Address.Less(out[j].Audio.Address)
	})
	return out
}

// Pending returns the entries of the given kind in navigation order.
func (r *Resolver) Pending(kind asset.Kind) []*Entry {
	var out []*Entry
	for _, e := range r.Entries() {
		if e.Audio.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// TTSItems lists the speech sources of TTS assets in navigation order. It
// reads element state and must run on the loop.
func (r *Resolver) TTSItems() []archive.Item {
	var items []archive.Item
	for _, e := range r.Pending(asset.KindTTS) {
		for _, src := range e.Audio.Sources() {
			if src.Kind == media.SourceTTS {
				items = append(items, archive.Item{Address: e.Audio.Address, URL: src.URI})
				break
			}
		}
	}
	return items
}
