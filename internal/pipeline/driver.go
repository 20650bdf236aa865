// Package pipeline sequences locate, segment, transcribe, enhance and
// merge over a batch of inputs and folds the per-item outcomes into one
// report.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/media-transcriber/internal/assemble"
	"github.com/lexiqai/media-transcriber/internal/audio"
	"github.com/lexiqai/media-transcriber/internal/media"
	"github.com/lexiqai/media-transcriber/internal/observability"
	"github.com/lexiqai/media-transcriber/internal/storage"
	"github.com/lexiqai/media-transcriber/internal/stt"
)

// Locator resolves caller input into local media items
type Locator interface {
	Resolve(ctx context.Context, kind media.Kind, identifiers []string, wantVideo bool) (*media.Resolution, error)
}

// Segmenter splits one item's audio into speech segments
type Segmenter interface {
	Segment(ctx context.Context, item media.MediaItem) ([]audio.Segment, error)
}

// Transcriber recognizes segments in order, one result per segment
type Transcriber interface {
	Transcribe(ctx context.Context, segments []audio.Segment) []stt.Result
}

// TextEnhancer restores punctuation and casing
type TextEnhancer interface {
	Enhance(ctx context.Context, raw string) (string, error)
}

// Merger folds per-item transcripts into one document
type Merger interface {
	Merge(transcripts []assemble.Transcript, group string) (string, error)
}

// Deps are the stages a Driver runs
type Deps struct {
	Locator     Locator
	Segmenter   Segmenter
	Transcriber Transcriber
	Enhancer    TextEnhancer
	Merger      Merger
	Workspace   *storage.Workspace
}

// Request is one caller invocation
type Request struct {
	Kind        media.Kind
	Identifiers []string
	WantVideo   bool
	// RunID correlates logs, metrics and events. Generated when empty.
	RunID    string
	Observer Observer
}

// Driver runs the pipeline
type Driver struct {
	deps    Deps
	workers int
	logger  zerolog.Logger
}

// NewDriver creates a driver processing up to workers items at a time
func NewDriver(deps Deps, workers int, logger zerolog.Logger) *Driver {
	if workers < 1 {
		workers = 1
	}
	return &Driver{
		deps:    deps,
		workers: workers,
		logger:  logger.With().Str("component", "pipeline").Logger(),
	}
}

// run carries per-invocation state shared by the item workers
type run struct {
	id       string
	log      zerolog.Logger
	metrics  *observability.Metrics
	observer Observer
}

func (r *run) emit(e Event) {
	e.RunID = r.id
	e.Time = time.Now()
	r.observer.OnEvent(e)
}

// Run processes one request to completion. The report is always returned.
// The error is non-nil only when the run ended Failed and is then a
// *PipelineError.
func (d *Driver) Run(ctx context.Context, req Request) (*Report, error) {
	r := &run{
		id:       req.RunID,
		observer: req.Observer,
	}
	if r.id == "" {
		r.id = observability.NewCorrelationID()
	}
	if r.observer == nil {
		r.observer = nopObserver{}
	}
	r.log = d.logger.With().Str("correlation_id", r.id).Str("kind", req.Kind.String()).Logger()
	r.metrics = observability.NewRunMetrics(r.id)
	r.metrics.RecordRunStart()

	report := &Report{RunID: r.id}
	r.emit(Event{Type: EventRunStarted, Ordinal: -1, Message: fmt.Sprintf("%d inputs", len(req.Identifiers))})
	r.log.Info().Int("inputs", len(req.Identifiers)).Int("workers", d.workers).Msg("Pipeline run started")

	res, err := d.deps.Locator.Resolve(ctx, req.Kind, req.Identifiers, req.WantVideo)
	if err != nil {
		fe := asFetchError(err)
		report.Errors = append(report.Errors, fe)
		r.metrics.RecordError("fetch", "locator")
		return d.finish(r, report, &NoInputError{Err: fe})
	}
	report.Group = res.Group

	for _, f := range res.Failures {
		fe := asFetchError(f)
		report.Errors = append(report.Errors, fe)
		r.metrics.RecordError("fetch", "locator")
		r.metrics.RecordItem("failed")
		r.log.Warn().Err(f).Msg("Input skipped")
		var id string
		var mfe *media.FetchError
		if errors.As(f, &mfe) {
			id = mfe.Identifier
		}
		r.emit(Event{Type: EventItemFailed, Item: id, Ordinal: -1, Message: fe.Error()})
	}
	if len(res.Items) == 0 {
		return d.finish(r, report, &NoInputError{Failures: res.Failures})
	}

	outcomes := d.processAll(ctx, r, res.Items)

	var transcripts []assemble.Transcript
	for _, o := range outcomes {
		report.Items = append(report.Items, o)
		if o.Err != nil {
			report.Errors = append(report.Errors, o.Err)
		}
		if o.Degraded != nil {
			report.Errors = append(report.Errors, o.Degraded)
		}
		report.Warnings = append(report.Warnings, o.Warnings...)
		if o.Transcript != nil {
			transcripts = append(transcripts, *o.Transcript)
		}
	}

	if len(transcripts) == 0 {
		return d.finish(r, report, nil)
	}

	if req.Kind == media.KindPlaylist || len(res.Items) > 1 {
		doc, err := d.deps.Merger.Merge(transcripts, res.Group)
		if err == nil {
			report.Outputs = []string{doc}
			return d.finish(r, report, nil)
		}
		report.Errors = append(report.Errors, fmt.Errorf("merge %s: %w", res.Group, err))
		r.metrics.RecordError("merge", "reassembler")
		r.log.Error().Err(err).Msg("Merge failed, returning per-item transcripts")
	}

	for _, t := range transcripts {
		report.Outputs = append(report.Outputs, t.Path)
	}
	return d.finish(r, report, nil)
}

// finish settles the terminal state. fatal is set when the run could not
// start processing at all.
func (d *Driver) finish(r *run, report *Report, fatal error) (*Report, error) {
	var err error
	switch {
	case fatal != nil:
		report.State = Failed
		err = &PipelineError{Message: "nothing to transcribe", Errors: report.Errors, Err: fatal}
	case len(report.Outputs) == 0:
		report.State = Failed
		err = &PipelineError{Message: "no output produced", Errors: report.Errors}
	case len(report.Errors) > 0:
		report.State = CompletedWithErrors
	default:
		report.State = Completed
	}

	r.metrics.RecordRunEnd(report.State.String())

	ev := Event{Type: EventRunFinished, Ordinal: -1, State: report.State.String()}
	if err != nil {
		ev.Message = err.Error()
		r.log.Error().Err(err).Str("state", report.State.String()).Msg("Pipeline run failed")
	} else {
		ev.Message = fmt.Sprintf("%d outputs, %d errors", len(report.Outputs), len(report.Errors))
		if len(report.Outputs) > 0 {
			ev.Path = report.Outputs[0]
		}
		r.log.Info().
			Str("state", report.State.String()).
			Strs("outputs", report.Outputs).
			Int("errors", len(report.Errors)).
			Int("warnings", len(report.Warnings)).
			Msg("Pipeline run finished")
	}
	r.emit(ev)

	return report, err
}

// processAll runs items through the worker pool. Outcomes keep the order
// of items regardless of completion order.
func (d *Driver) processAll(ctx context.Context, r *run, items []media.MediaItem) []ItemOutcome {
	outcomes := make([]ItemOutcome, len(items))

	workers := d.workers
	if workers > len(items) {
		workers = len(items)
	}
	if workers <= 1 {
		for i, item := range items {
			outcomes[i] = d.processItem(ctx, r, item)
		}
		return outcomes
	}

	next := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range next {
				outcomes[i] = d.processItem(ctx, r, items[i])
			}
		}()
	}
	for i := range items {
		next <- i
	}
	close(next)
	wg.Wait()

	return outcomes
}

// processItem takes one item from media file to persisted transcript
func (d *Driver) processItem(ctx context.Context, r *run, item media.MediaItem) ItemOutcome {
	out := ItemOutcome{Item: item}
	log := r.log.With().Str("item", item.Title).Int("ordinal", item.Ordinal).Logger()
	r.emit(Event{Type: EventItemStarted, Item: item.Title, Ordinal: item.Ordinal})

	fail := func(err error, component string) ItemOutcome {
		out.Err = err
		r.metrics.RecordItem("failed")
		r.metrics.RecordError(errorType(err), component)
		log.Warn().Err(err).Msg("Item failed")
		r.emit(Event{Type: EventItemFailed, Item: item.Title, Ordinal: item.Ordinal, Message: err.Error()})
		return out
	}
	skip := func(reason string) ItemOutcome {
		out.Skipped = true
		r.metrics.RecordItem("silent")
		log.Warn().Str("reason", reason).Msg("Item skipped")
		r.emit(Event{Type: EventItemSkipped, Item: item.Title, Ordinal: item.Ordinal, Message: reason})
		return out
	}

	if err := ctx.Err(); err != nil {
		return fail(fmt.Errorf("%s: %w", item.Title, err), "pipeline")
	}

	segments, err := d.deps.Segmenter.Segment(ctx, item)
	if err != nil {
		return fail(asDecodeError(item.Title, err), "segmenter")
	}
	out.Segments = len(segments)
	r.metrics.RecordSegments(len(segments))
	if len(segments) == 0 {
		return skip("no audio")
	}

	results := d.deps.Transcriber.Transcribe(ctx, segments)
	for _, res := range results {
		if res.Err == nil || errors.Is(res.Err, stt.ErrNoSpeech) {
			continue
		}
		w := &RecognitionError{Item: item.Title, Segment: res.Segment.Index, Err: res.Err}
		out.Warnings = append(out.Warnings, w)
		r.metrics.RecordError("recognition", "stt")
	}

	raw := stt.Join(results)
	if strings.TrimSpace(raw) == "" {
		return skip("no speech recognized")
	}

	text, err := d.deps.Enhancer.Enhance(ctx, raw)
	if err != nil {
		out.Degraded = &EnhancementError{Item: item.Title, Err: err}
		r.metrics.RecordError("enhancement", "enhancer")
		log.Warn().Err(err).Msg("Enhancement failed, keeping raw text")
		text = raw
	}

	path := d.deps.Workspace.TranscriptPath(item.Title)
	if err := d.deps.Workspace.WriteFile(path, []byte(text)); err != nil {
		out.Degraded = nil
		return fail(fmt.Errorf("%s: persist transcript: %w", item.Title, err), "storage")
	}

	out.Transcript = &assemble.Transcript{Item: item, Text: text, Path: path}
	r.metrics.RecordItem("transcribed")
	log.Info().
		Int("segments", len(segments)).
		Int("failed_segments", len(out.Warnings)).
		Str("path", path).
		Msg("Item transcribed")
	r.emit(Event{Type: EventItemCompleted, Item: item.Title, Ordinal: item.Ordinal, Path: path})

	return out
}
