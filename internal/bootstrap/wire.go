package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"livescribe/internal/archive"
	"livescribe/internal/audio"
	"livescribe/internal/config"
	"livescribe/internal/logging"
	"livescribe/internal/metrics"
	"livescribe/internal/ports"
	"livescribe/internal/providers/backend"
	"livescribe/internal/usecase"
)

// Services is the assembled runtime graph.
type Services struct {
	Controller *usecase.SessionController
	Translator *usecase.TranslationController
	Archive    *archive.Store
	Metrics    *metrics.Metrics
	Logger     *zap.Logger
	Config     config.Config
}

// Close releases what Build opened.
func (s Services) Close() error {
	var errs []error
	if s.Archive != nil {
		errs = append(errs, s.Archive.Close())
	}
	if s.Logger != nil {
		// stderr sync fails on some terminals; only the archive error matters
		_ = s.Logger.Sync()
	}
	return errors.Join(errs...)
}

// Build wires all backend dependencies for the current runtime.
func Build(ctx context.Context, eventSink ports.EventSink) (Services, error) {
	cfg, err := config.Load()
	if err != nil {
		return Services{}, err
	}

	logger, err := logging.New(logging.Options{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
	})
	if err != nil {
		return Services{}, err
	}

	store, err := archive.Open(ctx, cfg.Archive.DSN, cfg.Archive.Dir)
	if err != nil {
		return Services{}, fmt.Errorf("open session archive: %w", err)
	}

	m := metrics.New()
	provider := backend.NewProvider(backendConfig(cfg.Backend), logger.Named("backend"), m)

	controller := usecase.NewSessionController(
		audio.NewFFMPEGDevices(cfg.Audio.RecorderCommand),
		provider,
		store,
		eventSink,
		usecase.Config{
			Audio: ports.AudioConfig{
				SampleRate:    cfg.Audio.SampleRate,
				Channels:      cfg.Audio.Channels,
				InputFormat:   cfg.Audio.InputFormat,
				InputDevice:   cfg.Audio.InputDevice,
				MonitorDevice: cfg.Audio.MonitorDevice,
			},
			Quantum:     cfg.Session.Quantum,
			PortDepth:   cfg.Session.PortDepth,
			DoneTimeout: cfg.Session.DoneTimeout,
		},
		logger.Named("session"),
		m,
	)

	translator := usecase.NewTranslationController(provider, eventSink, usecase.TranslationConfig{
		RetranslateInterval: cfg.Translation.RetranslateInterval,
		CloseGrace:          cfg.Translation.CloseGrace,
	}, logger.Named("translation"))
	controller.SetObserver(translator)

	logger.Info("services ready",
		zap.String("backend", cfg.Backend.BaseURL),
		zap.String("input", cfg.Audio.InputDevice),
		zap.String("monitor", cfg.Audio.MonitorDevice),
		zap.String("archive", cfg.Archive.Dir),
	)

	return Services{
		Controller: controller,
		Translator: translator,
		Archive:    store,
		Metrics:    m,
		Logger:     logger,
		Config:     cfg,
	}, nil
}

func backendConfig(cfg config.BackendConfig) backend.Config {
	return backend.Config{
		BaseURL:          cfg.BaseURL,
		TranscribePath:   cfg.TranscribePath,
		TranslatePath:    cfg.TranslatePath,
		HandshakeTimeout: cfg.HandshakeTimeout,
		CloseGrace:       cfg.CloseGrace,
	}
}
