package enhance

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// recordingModel returns canned lines and remembers its input
type recordingModel struct {
	lines []string
	err   error
	got   []string
	calls int
}

func (m *recordingModel) Punctuate(ctx context.Context, texts []string) ([][]string, error) {
	m.calls++
	m.got = texts
	if m.err != nil {
		return nil, m.err
	}
	return [][]string{m.lines}, nil
}

func TestEnhance_LowercasesAndFormats(t *testing.T) {
	model := &recordingModel{lines: []string{"Hello <unk> world.", "Second <Unk>line<UNK>."}}
	e := NewEnhancer(model, time.Second, zerolog.Nop())

	out, err := e.Enhance(context.Background(), "HELLO Unk World\nSecond Line\n")
	if err != nil {
		t.Fatalf("Enhance() error = %v", err)
	}

	if len(model.got) != 1 || model.got[0] != "hello unk world\nsecond line\n" {
		t.Errorf("model input = %q", model.got)
	}
	want := "Hello   world.\nSecond  line .\n"
	if out != want {
		t.Errorf("Enhance() = %q, want %q", out, want)
	}
}

func TestEnhance_BlankInputNotSent(t *testing.T) {
	model := &recordingModel{}
	e := NewEnhancer(model, 0, zerolog.Nop())

	for _, raw := range []string{"", "   ", "\n\n\n"} {
		if _, err := e.Enhance(context.Background(), raw); !errors.Is(err, ErrEmptyInput) {
			t.Errorf("Enhance(%q) error = %v, want ErrEmptyInput", raw, err)
		}
	}
	if model.calls != 0 {
		t.Errorf("model called %d times for blank input", model.calls)
	}
}

func TestEnhance_ModelError(t *testing.T) {
	e := NewEnhancer(&recordingModel{err: errors.New("unavailable")}, 0, zerolog.Nop())

	if _, err := e.Enhance(context.Background(), "some text"); err == nil {
		t.Error("expected model error")
	}
}

func TestEnhance_IdempotentUnknownTokenRemoval(t *testing.T) {
	// A model that echoes its input but invents an unknown token on every line
	model := modelFunc(func(ctx context.Context, texts []string) ([][]string, error) {
		lines, _ := Passthrough{}.Punctuate(ctx, texts)
		for i := range lines[0] {
			lines[0][i] += " <unk>"
		}
		return lines, nil
	})
	e := NewEnhancer(model, 0, zerolog.Nop())

	once, err := e.Enhance(context.Background(), "first line\nsecond line")
	if err != nil {
		t.Fatal(err)
	}
	twice, err := e.Enhance(context.Background(), once)
	if err != nil {
		t.Fatal(err)
	}

	for _, out := range []string{once, twice} {
		if strings.Contains(strings.ToLower(out), "<unk>") {
			t.Errorf("unknown token survived: %q", out)
		}
	}
	if strings.Count(twice, "\n") != strings.Count(once, "\n") {
		t.Errorf("second pass changed line count: %q vs %q", once, twice)
	}
}

func TestPassthrough(t *testing.T) {
	out, err := Passthrough{}.Punctuate(context.Background(), []string{"a\n\n b \n", ""})
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 || len(out[0]) != 2 || out[0][0] != "a" || out[0][1] != "b" || len(out[1]) != 0 {
		t.Errorf("Passthrough = %q", out)
	}
}

func TestUnavailable(t *testing.T) {
	sentinel := errors.New("dial failed")
	e := NewEnhancer(Unavailable{Err: sentinel}, 0, zerolog.Nop())
	if _, err := e.Enhance(context.Background(), "text"); !errors.Is(err, sentinel) {
		t.Errorf("expected dial error, got %v", err)
	}
}

type modelFunc func(ctx context.Context, texts []string) ([][]string, error)

func (f modelFunc) Punctuate(ctx context.Context, texts []string) ([][]string, error) {
	return f(ctx, texts)
}
