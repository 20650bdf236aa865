// Package app wires configuration into a ready-to-run pipeline. Both
// binaries build their pipeline through it.
package app

import (
	"context"
	"fmt"
	"net/http"
	"os/exec"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/media-transcriber/internal/assemble"
	"github.com/lexiqai/media-transcriber/internal/audio"
	"github.com/lexiqai/media-transcriber/internal/config"
	"github.com/lexiqai/media-transcriber/internal/enhance"
	"github.com/lexiqai/media-transcriber/internal/media"
	"github.com/lexiqai/media-transcriber/internal/observability"
	"github.com/lexiqai/media-transcriber/internal/pipeline"
	"github.com/lexiqai/media-transcriber/internal/resilience"
	"github.com/lexiqai/media-transcriber/internal/storage"
	"github.com/lexiqai/media-transcriber/internal/stt"
)

// App holds the constructed pipeline and the clients it owns
type App struct {
	Config      *config.Config
	Workspace   *storage.Workspace
	Fetcher     *media.Fetcher
	Reassembler *assemble.Reassembler
	Driver      *pipeline.Driver

	recognizer  stt.Recognizer
	punctuator  *enhance.GRPCModel // nil unless ENHANCER=grpc and the dial succeeded
	enhancerErr error
	logger      zerolog.Logger
}

// New builds the pipeline described by cfg. An enhancer that cannot be
// reached is not fatal: items then keep their raw text and report an
// enhancement error.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*App, error) {
	ws, err := storage.New(cfg.StorageRoot)
	if err != nil {
		return nil, err
	}

	a := &App{
		Config:    cfg,
		Workspace: ws,
		logger:    logger,
	}

	retry := &resilience.RetryConfig{
		MaxAttempts:       cfg.RetryMaxAttempts,
		InitialBackoff:    time.Duration(cfg.RetryInitialBackoff) * time.Millisecond,
		MaxBackoff:        10 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            true,
	}
	resetTimeout := time.Duration(cfg.CircuitBreakerResetTimeout) * time.Second

	a.Fetcher = media.NewFetcher(ws, cfg.YtdlpPath, cfg.FetchDeadline(), retry, logger)
	segmenter := audio.NewSegmenter(
		audio.NewFFmpegDecoder(cfg.FFmpegPath, cfg.FetchDeadline()),
		ws,
		cfg.MaxSegmentMs,
		audio.SilenceConfig{ThresholdDB: cfg.SilenceThresholdDB, MinSilenceMs: cfg.MinSilenceMs},
		logger,
	)

	switch cfg.Recognizer {
	case config.RecognizerWhisper:
		a.recognizer = stt.NewWhisperRecognizer(cfg.WhisperAPIURL, cfg.WhisperAPIKey, cfg.WhisperModel,
			&http.Client{Timeout: cfg.RecognizeDeadline() + 5*time.Second})
	default:
		a.recognizer = stt.NewDeepgramRecognizer(cfg.DeepgramAPIKey, cfg.DeepgramModel, cfg.DeepgramLanguage)
	}
	stage := stt.NewStage(
		a.recognizer,
		resilience.NewCircuitBreaker(a.recognizer.Name(), cfg.CircuitBreakerMaxFailures, resetTimeout),
		cfg.RecognizeDeadline(),
		logger,
	)

	var model enhance.Model = enhance.Passthrough{}
	if cfg.Enhancer == config.EnhancerGRPC {
		m, err := enhance.NewGRPCModel(ctx, enhance.GRPCOptions{
			Target:      cfg.EnhancerURL,
			TLSEnabled:  cfg.EnhancerTLSEnabled,
			DialTimeout: 5 * time.Second,
			Reconnect: &resilience.ReconnectConfig{
				MaxAttempts: cfg.ReconnectMaxAttempts,
				Backoff:     time.Duration(cfg.ReconnectBackoff) * time.Millisecond,
				Multiplier:  2.0,
				MaxBackoff:  30 * time.Second,
			},
			Retry:   retry,
			Breaker: resilience.NewCircuitBreaker("enhancer", cfg.CircuitBreakerMaxFailures, resetTimeout),
		}, logger)
		if err != nil {
			logger.Warn().Err(err).Str("target", cfg.EnhancerURL).Msg("Punctuation model unreachable, transcripts will keep raw text")
			a.enhancerErr = err
			model = enhance.Unavailable{Err: err}
		} else {
			a.punctuator = m
			model = m
		}
	}

	a.Reassembler = assemble.New(ws, logger)
	a.Driver = pipeline.NewDriver(pipeline.Deps{
		Locator:     a.Fetcher,
		Segmenter:   segmenter,
		Transcriber: stage,
		Enhancer:    enhance.NewEnhancer(model, cfg.EnhanceDeadline(), logger),
		Merger:      a.Reassembler,
		Workspace:   ws,
	}, cfg.Workers, logger)

	return a, nil
}

// Checks returns the readiness checks for the pipeline's collaborators
func (a *App) Checks() map[string]observability.HealthCheckFunc {
	return map[string]observability.HealthCheckFunc{
		"recognizer": func(ctx context.Context) (bool, error) {
			// Configuration is validated at load time. A real request
			// would be billed, so none is made.
			if a.recognizer == nil {
				return false, fmt.Errorf("no recognizer configured")
			}
			return true, nil
		},
		"enhancer": func(ctx context.Context) (bool, error) {
			if a.Config.Enhancer != config.EnhancerGRPC {
				return true, nil
			}
			if a.punctuator == nil {
				return false, a.enhancerErr
			}
			return a.punctuator.HealthCheck(ctx)
		},
		"yt-dlp": toolCheck(a.Config.YtdlpPath),
		"ffmpeg": toolCheck(a.Config.FFmpegPath),
	}
}

func toolCheck(path string) observability.HealthCheckFunc {
	return func(ctx context.Context) (bool, error) {
		if _, err := exec.LookPath(path); err != nil {
			return false, err
		}
		return true, nil
	}
}

// Close releases network clients
func (a *App) Close() error {
	if a.punctuator != nil {
		return a.punctuator.Close()
	}
	return nil
}
