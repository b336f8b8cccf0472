// Package bootstrap wires a narrated deck and its services from configuration.
package bootstrap

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/maauso/slidecast/internal/archive"
	"github.com/maauso/slidecast/internal/audio"
	"github.com/maauso/slidecast/internal/clock"
	"github.com/maauso/slidecast/internal/config"
	"github.com/maauso/slidecast/internal/deck"
	"github.com/maauso/slidecast/internal/engine"
	"github.com/maauso/slidecast/internal/event"
	"github.com/maauso/slidecast/internal/job"
	"github.com/maauso/slidecast/internal/link"
	"github.com/maauso/slidecast/internal/loop"
	"github.com/maauso/slidecast/internal/media"
	"github.com/maauso/slidecast/internal/playback"
	"github.com/maauso/slidecast/internal/recording"
	"github.com/maauso/slidecast/internal/resolver"
	"github.com/maauso/slidecast/internal/storage"
)

// Dependencies holds all initialized dependencies for the HTTP server.
type Dependencies struct {
	Engine  *engine.Engine
	Fetches *job.FetchService
}

// NewDependencies loads the deck and builds the engine around it.
// Nothing runs until Engine.Start is called.
func NewDependencies(cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	d, err := deck.Load(cfg.DeckPath)
	if err != nil {
		return nil, fmt.Errorf("load deck: %w", err)
	}

	store, err := initStorage(cfg, logger)
	if err != nil {
		return nil, err
	}

	playLoop := loop.New(logger.With(slog.String("loop", "playback")))
	recLoop := loop.New(logger.With(slog.String("loop", "recorder")))
	bus := event.NewBus()

	env := media.Env{
		Clock:   clock.Real{},
		Runtime: playLoop,
		Prober:  media.NewFFprobe(cfg.FFprobePath),
		Logger:  logger,
	}
	synth := audio.NewFFmpegSynthesizer(cfg.FFmpegPath, filepath.Join(cfg.TempDir, "silence"))

	var proberOpts []resolver.ProberOption
	if cfg.AudioBaseURL != "" {
		proberOpts = append(proberOpts, resolver.WithBaseURL(cfg.AudioBaseURL))
	}
	res := resolver.New(env, d, resolver.NewHTTPProber(proberOpts...), synth, resolver.Options{
		Prefix:          cfg.AudioPrefix,
		Suffix:          cfg.AudioSuffix,
		DefaultAudios:   cfg.DefaultAudios,
		TTSURL:          cfg.TTSURL,
		DefaultNotes:    cfg.DefaultNotes,
		DefaultText:     cfg.DefaultText,
		DefaultDuration: cfg.DefaultDuration,
	}, logger)

	policy, err := playback.ParsePolicy(cfg.Advance)
	if err != nil {
		logger.Warn("ignoring malformed advance setting",
			slog.String("advance", cfg.Advance),
			slog.String("error", err.Error()),
		)
		policy = playback.Policy{Mode: playback.ModeNone}
	}

	params := audio.CaptureParams{
		BitRate:    cfg.RecorderBitRate,
		SampleRate: cfg.RecorderSampleRate,
		BufferSize: cfg.RecorderBufferSize,
		Channels:   cfg.RecorderChannels,
		Format:     cfg.RecorderFormat,
	}
	recorder := recording.New(
		audio.NewFFmpegDevice(cfg.FFmpegPath, cfg.CaptureFormat, cfg.CaptureDevice, params),
		audio.NewFFmpegEncoder(cfg.FFmpegPath, params),
		d, res, playLoop, store, store, logger,
		recording.WithPublisher(bus),
		recording.WithStartAtFragment(cfg.StartAtFragment),
		recording.WithIndicator(func(s recording.State) {
			logger.Info("recording indicator", slog.String("state", string(s)))
		}),
	)

	controller := playback.New(d, res, link.New(playLoop, synth, logger), playLoop, playback.Config{
		Autoplay:        cfg.Autoplay,
		StartAtFragment: cfg.StartAtFragment,
		Advance:         policy,
	}, logger,
		playback.WithPublisher(bus),
		playback.WithRecordingFlag(recorder.Active),
	)

	eng := engine.New(engine.Components{
		Deck:       d,
		Resolver:   res,
		Controller: controller,
		Recorder:   recorder,
		Bus:        bus,
		Loop:       playLoop,
		RecLoop:    recLoop,
		Temp:       store,
		Player:     engine.Player{Opacity: cfg.PlayerOpacity, Placement: cfg.PlayerPlacement},
	}, logger)

	fetches := job.NewFetchService(
		job.NewMemoryRepository(job.WithHistory(cfg.JobHistory)),
		archive.NewFetcher(store, logger),
		eng.TTSItems,
		logger,
	)

	return &Dependencies{
		Engine:  eng,
		Fetches: fetches,
	}, nil
}

// initStorage creates the appropriate storage backend based on configuration.
func initStorage(cfg *config.Config, logger *slog.Logger) (storage.Storage, error) {
	if cfg.S3Enabled() {
		s3Cfg := storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		}
		s3Store, err := storage.NewS3Storage(cfg.TempDir, s3Cfg)
		if err != nil {
			return nil, fmt.Errorf("create S3 storage: %w", err)
		}
		logger.Info("S3 storage configured",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("region", cfg.S3Region),
		)
		return s3Store, nil
	}

	localStore, err := storage.NewLocalStorage(cfg.TempDir)
	if err != nil {
		return nil, fmt.Errorf("create local storage: %w", err)
	}
	logger.Info("local storage configured",
		slog.String("temp_dir", cfg.TempDir),
		slog.String("published_dir", localStore.PublishedDir()),
	)
	return localStore, nil
}
