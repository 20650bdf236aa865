package app

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/lexiqai/media-transcriber/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{
		StorageRoot:                t.TempDir(),
		YtdlpPath:                  "definitely-not-yt-dlp",
		FFmpegPath:                 "definitely-not-ffmpeg",
		MaxSegmentMs:               120000,
		SilenceThresholdDB:         -50,
		MinSilenceMs:               80,
		FetchTimeout:               60,
		RecognizeTimeout:           30,
		EnhanceTimeout:             30,
		Workers:                    1,
		Recognizer:                 config.RecognizerWhisper,
		WhisperAPIURL:              "http://127.0.0.1:1/v1/audio/transcriptions",
		WhisperModel:               "whisper-1",
		Enhancer:                   config.EnhancerNone,
		CircuitBreakerMaxFailures:  5,
		CircuitBreakerResetTimeout: 30,
		RetryMaxAttempts:           3,
		RetryInitialBackoff:        10,
	}
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	return cfg
}

func TestNew_WiresPipeline(t *testing.T) {
	a, err := New(context.Background(), testConfig(t), zerolog.Nop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer a.Close()

	if a.Driver == nil || a.Fetcher == nil || a.Reassembler == nil || a.Workspace == nil {
		t.Fatalf("incomplete app: %+v", a)
	}
	if a.recognizer.Name() != "whisper" {
		t.Errorf("recognizer = %s", a.recognizer.Name())
	}
}

func TestChecks(t *testing.T) {
	a, err := New(context.Background(), testConfig(t), zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	checks := a.Checks()

	for _, name := range []string{"recognizer", "enhancer"} {
		if ok, err := checks[name](context.Background()); !ok || err != nil {
			t.Errorf("%s check = %v, %v", name, ok, err)
		}
	}
	for _, name := range []string{"yt-dlp", "ffmpeg"} {
		if ok, _ := checks[name](context.Background()); ok {
			t.Errorf("%s check passed for a missing binary", name)
		}
	}
}
