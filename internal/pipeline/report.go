package pipeline

import (
	"github.com/lexiqai/media-transcriber/internal/assemble"
	"github.com/lexiqai/media-transcriber/internal/media"
)

// State is the terminal state of a run
type State int

const (
	Completed State = iota
	CompletedWithErrors
	Failed
)

func (s State) String() string {
	switch s {
	case Completed:
		return "completed"
	case CompletedWithErrors:
		return "completed_with_errors"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state by name
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ItemOutcome is what happened to one resolved media item. Exactly one of
// Transcript, Skipped and Err describes the result.
type ItemOutcome struct {
	Item       media.MediaItem
	Segments   int
	Transcript *assemble.Transcript
	Skipped    bool  // no speech in the item, not an error
	Err        error // item produced nothing
	Degraded   error // item produced output of lower quality
	Warnings   []error
}

// Report is returned to the caller for every run, successful or not
type Report struct {
	RunID string
	State State
	Group string
	// Outputs are the final files in ordinal order: the combined document
	// when one was written, otherwise the per-item transcripts.
	Outputs []string
	// Errors are per-input failures and degradations. Any entry turns a
	// run with output into CompletedWithErrors.
	Errors []error
	// Warnings are segment-level recognition failures. They never change
	// the state of the run.
	Warnings []error
	Items    []ItemOutcome
}

// ErrorMessages returns one human-readable line per error
func (r *Report) ErrorMessages() []string {
	out := make([]string, len(r.Errors))
	for i, err := range r.Errors {
		out[i] = err.Error()
	}
	return out
}
