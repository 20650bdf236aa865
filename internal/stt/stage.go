package stt

import (
	"context"
	"errors"
	"os"
	"strings"
	"time"

	"github.com/lexiqai/media-transcriber/internal/audio"
	"github.com/lexiqai/media-transcriber/internal/observability"
	"github.com/lexiqai/media-transcriber/internal/resilience"
	"github.com/rs/zerolog"
)

// Result is the recognized text of one segment. Text is empty when the
// segment held no speech or the recognizer failed; Err tells which.
type Result struct {
	Segment audio.Segment
	Text    string
	Err     error
}

// Stage drives segments through a recognizer one at a time, in order
type Stage struct {
	recognizer     Recognizer
	circuitBreaker *resilience.CircuitBreaker
	deadline       time.Duration
	logger         zerolog.Logger
}

// NewStage creates a transcription stage. The breaker may be nil.
func NewStage(rec Recognizer, cb *resilience.CircuitBreaker, deadline time.Duration, logger zerolog.Logger) *Stage {
	return &Stage{
		recognizer:     rec,
		circuitBreaker: cb,
		deadline:       deadline,
		logger:         logger.With().Str("component", "stt").Str("backend", rec.Name()).Logger(),
	}
}

// Transcribe recognizes every segment exactly once and returns one result
// per segment in the same order. It never fails: a recognizer error
// becomes an empty result. Each segment file is deleted as soon as its
// attempt finishes.
func (s *Stage) Transcribe(ctx context.Context, segments []audio.Segment) []Result {
	results := make([]Result, len(segments))
	for i, seg := range segments {
		text, err := s.recognize(ctx, seg)
		if rmErr := os.Remove(seg.Path); rmErr != nil && !os.IsNotExist(rmErr) {
			s.logger.Warn().Err(rmErr).Str("path", seg.Path).Msg("Failed to remove segment file")
		}

		results[i] = Result{Segment: seg, Text: text, Err: err}

		log := s.logger.With().Str("item", seg.Item.Title).Int("segment", seg.Index).Logger()
		switch {
		case err == nil:
			log.Debug().Int("chars", len(text)).Msg("Segment recognized")
		case errors.Is(err, ErrNoSpeech):
			log.Debug().Msg("No speech in segment")
		default:
			log.Warn().Err(err).Msg("Recognition failed, using empty text")
		}
	}
	return results
}

func (s *Stage) recognize(ctx context.Context, seg audio.Segment) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", &RecognitionError{Backend: s.recognizer.Name(), Path: seg.Path, Err: err}
	}

	call := func() (string, error) {
		callCtx := ctx
		if s.deadline > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, s.deadline)
			defer cancel()
		}
		done := observability.ObserveCall(s.recognizer.Name())
		text, err := s.recognizer.Recognize(callCtx, seg.Path)
		// No speech is an answer, not a backend failure
		done(err == nil || errors.Is(err, ErrNoSpeech))
		return text, err
	}

	var text string
	var err error
	if s.circuitBreaker == nil {
		text, err = call()
	} else {
		err = s.circuitBreaker.Call(func() error {
			var callErr error
			text, callErr = call()
			if errors.Is(callErr, ErrNoSpeech) {
				return nil
			}
			return callErr
		})
		observability.UpdateCircuitBreakerState(s.recognizer.Name(), int(s.circuitBreaker.GetState()))
		if err != nil && !errors.Is(err, resilience.ErrCircuitOpen) {
			observability.IncrementCircuitBreakerFailures(s.recognizer.Name())
		}
		if err == nil && text == "" {
			err = ErrNoSpeech
		}
	}

	if err != nil {
		if errors.Is(err, ErrNoSpeech) {
			return "", err
		}
		return "", &RecognitionError{Backend: s.recognizer.Name(), Path: seg.Path, Err: err}
	}
	return text, nil
}

// Join concatenates results in order, one line per segment
func Join(results []Result) string {
	var b strings.Builder
	for _, r := range results {
		b.WriteString(r.Text)
		b.WriteString("\n")
	}
	return b.String()
}

// Failed counts results whose recognizer call failed, not counting silence
func Failed(results []Result) int {
	n := 0
	for _, r := range results {
		if r.Err != nil && !errors.Is(r.Err, ErrNoSpeech) {
			n++
		}
	}
	return n
}
