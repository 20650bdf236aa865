// Package enhance restores punctuation and casing on raw recognized text.
package enhance

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ErrEmptyInput is returned for blank text; blank items must not reach the model
var ErrEmptyInput = errors.New("nothing to enhance")

var unknownToken = regexp.MustCompile(`(?i)<unk>`)

// Model is an opaque punctuation/casing model. For every input text it
// returns the punctuated output as one or more lines.
type Model interface {
	Punctuate(ctx context.Context, texts []string) ([][]string, error)
}

// Enhancer wraps a Model with the normalization the model expects
type Enhancer struct {
	model    Model
	deadline time.Duration
	logger   zerolog.Logger
}

// NewEnhancer creates an enhancer. A zero deadline means no per-call limit.
func NewEnhancer(model Model, deadline time.Duration, logger zerolog.Logger) *Enhancer {
	return &Enhancer{
		model:    model,
		deadline: deadline,
		logger:   logger.With().Str("component", "enhancer").Logger(),
	}
}

// Enhance lowercases raw, runs it through the model and returns the
// model's lines, each terminated by a newline, with unknown-token markers
// replaced by a space.
func (e *Enhancer) Enhance(ctx context.Context, raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", ErrEmptyInput
	}

	if e.deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.deadline)
		defer cancel()
	}

	start := time.Now()
	outputs, err := e.model.Punctuate(ctx, []string{strings.ToLower(raw)})
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for _, lines := range outputs {
		for _, line := range lines {
			b.WriteString(unknownToken.ReplaceAllString(line, " "))
			b.WriteString("\n")
		}
	}

	e.logger.Debug().
		Int("input_chars", len(raw)).
		Int("output_chars", b.Len()).
		Dur("took", time.Since(start)).
		Msg("Text enhanced")

	return b.String(), nil
}

// Passthrough is a Model that returns each text's non-blank lines unchanged
type Passthrough struct{}

func (Passthrough) Punctuate(ctx context.Context, texts []string) ([][]string, error) {
	out := make([][]string, len(texts))
	for i, t := range texts {
		for _, line := range strings.Split(t, "\n") {
			if line = strings.TrimSpace(line); line != "" {
				out[i] = append(out[i], line)
			}
		}
	}
	return out, nil
}

// Unavailable is a Model standing in for a backend that could not be
// reached at startup. Every call fails with Err.
type Unavailable struct {
	Err error
}

func (u Unavailable) Punctuate(ctx context.Context, texts []string) ([][]string, error) {
	return nil, u.Err
}
