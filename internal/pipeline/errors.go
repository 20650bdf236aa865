package pipeline

import (
	"errors"
	"fmt"
	"strings"

	"github.com/lexiqai/media-transcriber/internal/audio"
	"github.com/lexiqai/media-transcriber/internal/media"
)

// FetchError means an input could not be resolved to a local media file.
// The entry is skipped.
type FetchError struct {
	Identifier string
	Err        error
}

func (e *FetchError) Error() string {
	var fe *media.FetchError
	if errors.As(e.Err, &fe) {
		return fe.Error()
	}
	return fmt.Sprintf("fetch %s: %v", e.Identifier, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// DecodeError means an item's audio could not be read. The item is skipped.
type DecodeError struct {
	Item string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s: unreadable audio: %v", e.Item, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// RecognitionError means one segment could not be recognized. The segment
// contributes empty text and the item carries on.
type RecognitionError struct {
	Item    string
	Segment int
	Err     error
}

func (e *RecognitionError) Error() string {
	return fmt.Sprintf("%s: segment %d not recognized: %v", e.Item, e.Segment, e.Err)
}

func (e *RecognitionError) Unwrap() error { return e.Err }

// EnhancementError means the punctuation model failed for an item. The raw
// recognized text is written instead.
type EnhancementError struct {
	Item string
	Err  error
}

func (e *EnhancementError) Error() string {
	return fmt.Sprintf("%s: enhancement failed, kept raw text: %v", e.Item, e.Err)
}

func (e *EnhancementError) Unwrap() error { return e.Err }

// NoInputError means nothing in the request could be resolved
type NoInputError struct {
	Failures []error
	Err      error // set when resolution failed as a whole
}

func (e *NoInputError) Error() string {
	if e.Err != nil {
		return "no input could be resolved: " + e.Err.Error()
	}
	if len(e.Failures) == 0 {
		return "no input given"
	}
	return fmt.Sprintf("none of %d inputs could be resolved", len(e.Failures))
}

func (e *NoInputError) Unwrap() error { return e.Err }

// PipelineError is the single caller-facing error of a failed run
type PipelineError struct {
	Message string
	Errors  []error
	Err     error
}

func (e *PipelineError) Error() string {
	var b strings.Builder
	b.WriteString(e.Message)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if n := len(e.Errors); n > 0 {
		fmt.Fprintf(&b, " (%d errors)", n)
	}
	return b.String()
}

func (e *PipelineError) Unwrap() error { return e.Err }

// asFetchError maps a locator failure into the pipeline taxonomy
func asFetchError(err error) error {
	var fe *media.FetchError
	if errors.As(err, &fe) {
		return &FetchError{Identifier: fe.Identifier, Err: err}
	}
	return &FetchError{Err: err}
}

// asDecodeError maps a segmenter failure into the pipeline taxonomy
func asDecodeError(item string, err error) error {
	var de *audio.DecodeError
	if errors.As(err, &de) {
		return &DecodeError{Item: item, Err: de}
	}
	return &DecodeError{Item: item, Err: err}
}

// errorType is the metrics label for err
func errorType(err error) string {
	var (
		fe *FetchError
		de *DecodeError
		re *RecognitionError
		ee *EnhancementError
		ne *NoInputError
	)
	switch {
	case errors.As(err, &fe):
		return "fetch"
	case errors.As(err, &de):
		return "decode"
	case errors.As(err, &re):
		return "recognition"
	case errors.As(err, &ee):
		return "enhancement"
	case errors.As(err, &ne):
		return "no_input"
	}
	return "other"
}
