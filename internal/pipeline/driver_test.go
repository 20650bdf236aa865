package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/rs/zerolog"

	"github.com/lexiqai/media-transcriber/internal/assemble"
	"github.com/lexiqai/media-transcriber/internal/audio"
	"github.com/lexiqai/media-transcriber/internal/enhance"
	"github.com/lexiqai/media-transcriber/internal/media"
	"github.com/lexiqai/media-transcriber/internal/storage"
	"github.com/lexiqai/media-transcriber/internal/stt"
)

const rate = 16000

func tone(ms int) []int {
	out := make([]int, ms*rate/1000)
	for i := range out {
		if (i/8)%2 == 0 {
			out[i] = 8000
		} else {
			out[i] = -8000
		}
	}
	return out
}

func quiet(ms int) []int { return make([]int, ms*rate/1000) }

func writeWAV(t *testing.T, path string, parts ...[]int) {
	t.Helper()
	var samples []int
	for _, p := range parts {
		samples = append(samples, p...)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	enc := wav.NewEncoder(f, rate, 16, 1, 1)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: rate},
		Data:           samples,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatal(err)
	}
	if err := enc.Close(); err != nil {
		t.Fatal(err)
	}
}

// copyDecoder stands in for ffmpeg: inputs are already mono PCM WAV
type copyDecoder struct {
	fail map[string]bool // base names that fail to decode
}

func (d copyDecoder) Decode(ctx context.Context, src, dst string) error {
	if d.fail[filepath.Base(src)] {
		return &audio.DecodeError{Path: src, Err: errors.New("invalid data found when processing input")}
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return &audio.DecodeError{Path: src, Err: err}
	}
	return os.WriteFile(dst, data, 0o644)
}

// fakeRecognizer answers from a script keyed by segment file name and
// counts every call
type fakeRecognizer struct {
	mu     sync.Mutex
	script map[string]string // base name -> text, "" means no speech
	byItem func(base string) (string, error)
	calls  []string
}

func (r *fakeRecognizer) Name() string { return "fake" }

func (r *fakeRecognizer) Recognize(ctx context.Context, path string) (string, error) {
	base := filepath.Base(path)
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("segment missing: %w", err)
	}
	r.mu.Lock()
	r.calls = append(r.calls, base)
	r.mu.Unlock()

	if r.byItem != nil {
		return r.byItem(base)
	}
	text, ok := r.script[base]
	if !ok || text == "" {
		return "", stt.ErrNoSpeech
	}
	return text, nil
}

func (r *fakeRecognizer) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

// localLocator resolves through the real local resolver
type localLocator struct{}

func (localLocator) Resolve(ctx context.Context, kind media.Kind, ids []string, wantVideo bool) (*media.Resolution, error) {
	return media.ResolveLocal(ids), nil
}

type locatorFunc func(ctx context.Context, kind media.Kind, ids []string, wantVideo bool) (*media.Resolution, error)

func (f locatorFunc) Resolve(ctx context.Context, kind media.Kind, ids []string, wantVideo bool) (*media.Resolution, error) {
	return f(ctx, kind, ids, wantVideo)
}

type harness struct {
	ws     *storage.Workspace
	inputs string
	rec    *fakeRecognizer
	dec    copyDecoder
	model  enhance.Model
	maxMs  int
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ws, err := storage.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return &harness{
		ws:     ws,
		inputs: t.TempDir(),
		rec:    &fakeRecognizer{script: map[string]string{}},
		dec:    copyDecoder{fail: map[string]bool{}},
		model:  enhance.Passthrough{},
		maxMs:  120000,
	}
}

func (h *harness) input(t *testing.T, name string, parts ...[]int) string {
	t.Helper()
	p := filepath.Join(h.inputs, name)
	writeWAV(t, p, parts...)
	return p
}

func (h *harness) driver(loc Locator, workers int) *Driver {
	log := zerolog.Nop()
	return NewDriver(Deps{
		Locator:     loc,
		Segmenter:   audio.NewSegmenter(h.dec, h.ws, h.maxMs, audio.DefaultSilenceConfig(), log),
		Transcriber: stt.NewStage(h.rec, nil, 0, log),
		Enhancer:    enhance.NewEnhancer(h.model, 0, log),
		Merger:      assemble.New(h.ws, log),
		Workspace:   h.ws,
	}, workers, log)
}

func readFile(t *testing.T, p string) string {
	t.Helper()
	data, err := os.ReadFile(p)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func assertNoIntermediates(t *testing.T, ws *storage.Workspace, keep ...string) {
	t.Helper()
	orphans, err := ws.Orphans()
	if err != nil {
		t.Fatal(err)
	}
	allowed := map[string]bool{}
	for _, k := range keep {
		allowed[k] = true
	}
	for _, o := range orphans {
		if !allowed[o] {
			t.Errorf("intermediate file left behind: %s", filepath.Base(o))
		}
	}
}

// One local 30 second file without silence: one segment, one call, one
// transcript and no merge file.
func TestRun_SingleLocalFileNoSilence(t *testing.T) {
	h := newHarness(t)
	src := h.input(t, "lecture.wav", tone(30000))
	h.rec.script["lecture.wav"] = "Hello World"

	report, err := h.driver(localLocator{}, 1).Run(context.Background(), Request{
		Kind:        media.KindLocal,
		Identifiers: []string{src},
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if report.State != Completed {
		t.Errorf("state = %v, want completed", report.State)
	}
	if h.rec.callCount() != 1 {
		t.Errorf("recognizer calls = %d, want 1", h.rec.callCount())
	}
	want := h.ws.TranscriptPath("lecture")
	if len(report.Outputs) != 1 || report.Outputs[0] != want {
		t.Fatalf("outputs = %v, want [%s]", report.Outputs, want)
	}
	if got := readFile(t, want); got != "hello world\n" {
		t.Errorf("transcript = %q", got)
	}
	if _, err := os.Stat(h.ws.DocumentPath(media.LocalGroup)); !os.IsNotExist(err) {
		t.Error("merge file written for a single input")
	}
	if report.Items[0].Segments != 1 {
		t.Errorf("segments = %d, want 1", report.Items[0].Segments)
	}
	assertNoIntermediates(t, h.ws, want)
	if _, err := os.Stat(src); err != nil {
		t.Errorf("source media must be left in place: %v", err)
	}
}

// One local file with three speech runs: three ordered calls, one
// transcript concatenating them in order.
func TestRun_ThreeSpeechRuns(t *testing.T) {
	h := newHarness(t)
	h.maxMs = 2000
	src := h.input(t, "talk.wav", tone(1000), quiet(500), tone(1000), quiet(500), tone(1000))
	h.rec.script["talk_part1.wav"] = "First Run"
	h.rec.script["talk_part3.wav"] = "Third Run"
	// part 2 returns no speech

	report, err := h.driver(localLocator{}, 1).Run(context.Background(), Request{
		Kind:        media.KindLocal,
		Identifiers: []string{src},
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	wantCalls := []string{"talk_part1.wav", "talk_part2.wav", "talk_part3.wav"}
	if strings.Join(h.rec.calls, ",") != strings.Join(wantCalls, ",") {
		t.Errorf("calls = %v, want %v", h.rec.calls, wantCalls)
	}
	if report.State != Completed {
		t.Errorf("state = %v", report.State)
	}
	if len(report.Warnings) != 0 {
		t.Errorf("no-speech segment reported as warning: %v", report.Warnings)
	}
	transcript := h.ws.TranscriptPath("talk")
	if got := readFile(t, transcript); got != "first run\nthird run\n" {
		t.Errorf("transcript = %q", got)
	}
	assertNoIntermediates(t, h.ws, transcript)
}

// A playlist whose second entry fails to fetch: the document has items 1
// and 3 in playlist order and the run reports one error.
func TestRun_PlaylistWithFailedEntry(t *testing.T) {
	h := newHarness(t)
	first := h.input(t, "Episode 1.wav", tone(1000))
	third := h.input(t, "Episode 3.wav", tone(1000))
	h.rec.script["Episode 1.wav"] = "welcome"
	h.rec.script["Episode 3.wav"] = "goodbye"

	loc := locatorFunc(func(ctx context.Context, kind media.Kind, ids []string, wantVideo bool) (*media.Resolution, error) {
		if kind != media.KindPlaylist || len(ids) != 1 {
			t.Errorf("unexpected resolve call %v %v", kind, ids)
		}
		return &media.Resolution{
			Group: "Season One",
			Items: []media.MediaItem{
				{Title: "Episode 1", LocalPath: first, Ordinal: 0},
				{Title: "Episode 3", LocalPath: third, Ordinal: 2},
			},
			Failures: []error{&media.FetchError{Identifier: "https://example.com/watch?v=2", Err: media.ErrToolFailed}},
		}, nil
	})

	report, err := h.driver(loc, 1).Run(context.Background(), Request{
		Kind:        media.KindPlaylist,
		Identifiers: []string{"https://example.com/playlist?list=1"},
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if report.State != CompletedWithErrors {
		t.Errorf("state = %v, want completed_with_errors", report.State)
	}
	if len(report.Errors) != 1 {
		t.Fatalf("errors = %v, want 1", report.Errors)
	}
	var fe *FetchError
	if !errors.As(report.Errors[0], &fe) || fe.Identifier != "https://example.com/watch?v=2" {
		t.Errorf("expected FetchError for entry 2, got %v", report.Errors[0])
	}

	doc := h.ws.DocumentPath("Season One")
	if len(report.Outputs) != 1 || report.Outputs[0] != doc {
		t.Fatalf("outputs = %v", report.Outputs)
	}
	want := "// Episode 1\nwelcome\n\n// Episode 3\ngoodbye\n\n"
	if got := readFile(t, doc); got != want {
		t.Errorf("document = %q, want %q", got, want)
	}
	assertNoIntermediates(t, h.ws)
}

// Every item silent: no transcripts, no files, Failed with a no-output
// message.
func TestRun_AllSilent(t *testing.T) {
	h := newHarness(t)
	a := h.input(t, "a.wav", tone(1000))
	b := h.input(t, "b.wav", quiet(1000))

	report, err := h.driver(localLocator{}, 1).Run(context.Background(), Request{
		Kind:        media.KindLocal,
		Identifiers: []string{a, b},
	})

	var pe *PipelineError
	if !errors.As(err, &pe) {
		t.Fatalf("expected PipelineError, got %v", err)
	}
	if !strings.Contains(pe.Error(), "no output") {
		t.Errorf("message = %q", pe.Error())
	}
	if report.State != Failed {
		t.Errorf("state = %v, want failed", report.State)
	}
	if len(report.Outputs) != 0 || len(report.Errors) != 0 {
		t.Errorf("outputs = %v, errors = %v", report.Outputs, report.Errors)
	}
	for _, item := range report.Items {
		if !item.Skipped {
			t.Errorf("item %s not marked skipped", item.Item.Title)
		}
	}
	if _, err := os.Stat(h.ws.DocumentPath(media.LocalGroup)); !os.IsNotExist(err) {
		t.Error("merge file written with no transcripts")
	}
	assertNoIntermediates(t, h.ws)
}

func TestRun_LocalBatchMergesInInputOrder(t *testing.T) {
	h := newHarness(t)
	var ids []string
	for i, name := range []string{"part10.wav", "part2.wav", "part1.wav"} {
		ids = append(ids, h.input(t, name, tone(500)))
		h.rec.script[name] = fmt.Sprintf("input %d", i)
	}

	report, err := h.driver(localLocator{}, 1).Run(context.Background(), Request{Kind: media.KindLocal, Identifiers: ids})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	doc := h.ws.DocumentPath(media.LocalGroup)
	want := "// part10\ninput 0\n\n// part2\ninput 1\n\n// part1\ninput 2\n\n"
	if got := readFile(t, doc); got != want {
		t.Errorf("document = %q, want %q", got, want)
	}
	if report.State != Completed {
		t.Errorf("state = %v", report.State)
	}
}

func TestRun_EnhancementFailureKeepsRawText(t *testing.T) {
	h := newHarness(t)
	h.model = enhance.Unavailable{Err: errors.New("connection refused")}
	src := h.input(t, "memo.wav", tone(500))
	h.rec.script["memo.wav"] = "Raw Words"

	report, err := h.driver(localLocator{}, 1).Run(context.Background(), Request{Kind: media.KindLocal, Identifiers: []string{src}})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if report.State != CompletedWithErrors {
		t.Errorf("state = %v, want completed_with_errors", report.State)
	}
	var ee *EnhancementError
	if len(report.Errors) != 1 || !errors.As(report.Errors[0], &ee) {
		t.Errorf("errors = %v", report.Errors)
	}
	if got := readFile(t, report.Outputs[0]); got != "Raw Words\n" {
		t.Errorf("transcript = %q", got)
	}
}

func TestRun_DecodeFailureSkipsItem(t *testing.T) {
	h := newHarness(t)
	good := h.input(t, "good.wav", tone(500))
	bad := h.input(t, "bad.wav", tone(500))
	h.dec.fail["bad.wav"] = true
	h.rec.script["good.wav"] = "fine"

	report, err := h.driver(localLocator{}, 1).Run(context.Background(), Request{Kind: media.KindLocal, Identifiers: []string{bad, good}})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if report.State != CompletedWithErrors {
		t.Errorf("state = %v", report.State)
	}
	var de *DecodeError
	if len(report.Errors) != 1 || !errors.As(report.Errors[0], &de) || de.Item != "bad" {
		t.Errorf("errors = %v", report.Errors)
	}
	// one transcript left in a two-item batch is the final output itself
	if len(report.Outputs) != 1 || report.Outputs[0] != h.ws.TranscriptPath("good") {
		t.Errorf("outputs = %v", report.Outputs)
	}
}

func TestRun_RecognitionFailureIsWarning(t *testing.T) {
	h := newHarness(t)
	h.maxMs = 1000
	src := h.input(t, "call.wav", tone(600), quiet(300), tone(600))
	h.rec.byItem = func(base string) (string, error) {
		if base == "call_part1.wav" {
			return "", errors.New("503 service unavailable")
		}
		return "still here", nil
	}

	report, err := h.driver(localLocator{}, 1).Run(context.Background(), Request{Kind: media.KindLocal, Identifiers: []string{src}})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if report.State != Completed {
		t.Errorf("state = %v, want completed", report.State)
	}
	var re *RecognitionError
	if len(report.Warnings) != 1 || !errors.As(report.Warnings[0], &re) || re.Segment != 1 {
		t.Errorf("warnings = %v", report.Warnings)
	}
	if got := readFile(t, report.Outputs[0]); got != "still here\n" {
		t.Errorf("transcript = %q", got)
	}
}

func TestRun_NoInput(t *testing.T) {
	h := newHarness(t)

	report, err := h.driver(localLocator{}, 1).Run(context.Background(), Request{
		Kind:        media.KindLocal,
		Identifiers: []string{filepath.Join(h.inputs, "missing.mp4")},
	})

	var ne *NoInputError
	if !errors.As(err, &ne) {
		t.Fatalf("expected NoInputError, got %v", err)
	}
	if report.State != Failed || len(report.Errors) != 1 {
		t.Errorf("state = %v, errors = %v", report.State, report.Errors)
	}
}

func TestRun_ListingFailureIsFatal(t *testing.T) {
	h := newHarness(t)
	loc := locatorFunc(func(ctx context.Context, kind media.Kind, ids []string, wantVideo bool) (*media.Resolution, error) {
		return nil, &media.FetchError{Identifier: ids[0], Err: media.ErrBadListing}
	})

	report, err := h.driver(loc, 1).Run(context.Background(), Request{Kind: media.KindPlaylist, Identifiers: []string{"https://example.com/list"}})
	if !errors.Is(err, media.ErrBadListing) {
		t.Fatalf("expected listing error, got %v", err)
	}
	if report.State != Failed {
		t.Errorf("state = %v", report.State)
	}
}

func TestRun_WorkerPoolKeepsOrder(t *testing.T) {
	h := newHarness(t)
	var ids []string
	for i := 0; i < 6; i++ {
		name := fmt.Sprintf("clip%d.wav", i)
		ids = append(ids, h.input(t, name, tone(300)))
		h.rec.script[name] = fmt.Sprintf("clip %d", i)
	}

	var mu sync.Mutex
	events := map[EventType]int{}
	obs := ObserverFunc(func(e Event) {
		mu.Lock()
		events[e.Type]++
		mu.Unlock()
	})

	report, err := h.driver(localLocator{}, 3).Run(context.Background(), Request{
		Kind:        media.KindLocal,
		Identifiers: ids,
		RunID:       "run-1",
		Observer:    obs,
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if report.RunID != "run-1" {
		t.Errorf("run id = %s", report.RunID)
	}
	if h.rec.callCount() != 6 {
		t.Errorf("recognizer calls = %d, want exactly one per segment", h.rec.callCount())
	}
	calls := append([]string(nil), h.rec.calls...)
	sort.Strings(calls)
	for i := 1; i < len(calls); i++ {
		if calls[i] == calls[i-1] {
			t.Errorf("segment %s recognized twice", calls[i])
		}
	}

	var want strings.Builder
	for i := 0; i < 6; i++ {
		fmt.Fprintf(&want, "// clip%d\nclip %d\n\n", i, i)
	}
	if got := readFile(t, report.Outputs[0]); got != want.String() {
		t.Errorf("document = %q, want %q", got, want.String())
	}
	for i, item := range report.Items {
		if item.Item.Ordinal != i {
			t.Errorf("outcome %d has ordinal %d", i, item.Item.Ordinal)
		}
	}

	if events[EventRunStarted] != 1 || events[EventRunFinished] != 1 ||
		events[EventItemStarted] != 6 || events[EventItemCompleted] != 6 {
		t.Errorf("events = %v", events)
	}
}

func TestRun_CancelledContext(t *testing.T) {
	h := newHarness(t)
	src := h.input(t, "late.wav", tone(300))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := h.driver(localLocator{}, 1).Run(ctx, Request{Kind: media.KindLocal, Identifiers: []string{src}})
	if err == nil || report.State != Failed {
		t.Errorf("expected failed run, got %v, %v", report.State, err)
	}
	if h.rec.callCount() != 0 {
		t.Error("recognizer called after cancellation")
	}
	if len(report.Errors) != 1 || !errors.Is(report.Errors[0], context.Canceled) {
		t.Errorf("errors = %v", report.Errors)
	}
}
