// Package assemble folds per-item transcripts into one ordered document.
package assemble

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/lexiqai/media-transcriber/internal/media"
	"github.com/lexiqai/media-transcriber/internal/storage"
)

// ErrNothingToMerge is returned when a group has no transcripts at all
var ErrNothingToMerge = errors.New("no transcripts to merge")

// Transcript is the enhanced text of one media item and the file it was
// persisted to.
type Transcript struct {
	Item media.MediaItem
	Text string
	Path string
}

// Reassembler writes combined documents into a workspace
type Reassembler struct {
	ws     *storage.Workspace
	logger zerolog.Logger
}

// New creates a Reassembler writing into ws
func New(ws *storage.Workspace, logger zerolog.Logger) *Reassembler {
	return &Reassembler{
		ws:     ws,
		logger: logger.With().Str("component", "reassembler").Logger(),
	}
}

// Merge concatenates transcripts in ordinal order, each section preceded by
// a "// <title>" line, into the group's document and deletes the per-item
// files it folded in. A single transcript is already the final output and
// is returned as is.
func (r *Reassembler) Merge(transcripts []Transcript, group string) (string, error) {
	switch len(transcripts) {
	case 0:
		return "", ErrNothingToMerge
	case 1:
		return transcripts[0].Path, nil
	}

	ordered := make([]Transcript, len(transcripts))
	copy(ordered, transcripts)
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i].Item, ordered[j].Item
		if a.Ordinal != b.Ordinal {
			return a.Ordinal < b.Ordinal
		}
		return NaturalLess(a.Title, b.Title)
	})

	out := r.ws.DocumentPath(group)
	w, err := storage.NewAtomicWriter(out)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", filepath.Base(out), err)
	}
	for _, t := range ordered {
		if _, err := fmt.Fprintf(w, "// %s\n%s\n", t.Item.Title, t.Text); err != nil {
			w.Abort()
			return "", fmt.Errorf("write %s: %w", filepath.Base(out), err)
		}
	}
	if err := w.Commit(); err != nil {
		return "", fmt.Errorf("commit %s: %w", filepath.Base(out), err)
	}

	for _, t := range ordered {
		if t.Path == "" || t.Path == out {
			continue
		}
		if err := r.ws.Remove(t.Path); err != nil {
			r.logger.Warn().Err(err).Str("path", t.Path).Msg("Failed to remove merged transcript")
		}
	}

	r.logger.Info().
		Str("group", group).
		Int("sections", len(ordered)).
		Str("path", out).
		Msg("Transcripts merged")
	return out, nil
}

// Recover rebuilds a group's document from per-item transcript files left
// in the workspace, for example after a crash between enhancement and
// merge. Ordinals are not persisted, so sections are ordered by their
// file names with numeric-aware comparison.
func (r *Reassembler) Recover(group string) (string, error) {
	paths, err := r.ws.Transcripts()
	if err != nil {
		return "", fmt.Errorf("list transcripts: %w", err)
	}
	sort.SliceStable(paths, func(i, j int) bool {
		return NaturalLess(filepath.Base(paths[i]), filepath.Base(paths[j]))
	})

	transcripts := make([]Transcript, 0, len(paths))
	for i, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return "", fmt.Errorf("read %s: %w", filepath.Base(p), err)
		}
		title := strings.TrimSuffix(filepath.Base(p), storage.TranscriptSuffix)
		transcripts = append(transcripts, Transcript{
			Item: media.MediaItem{Title: title, LocalPath: p, Ordinal: i},
			Text: string(data),
			Path: p,
		})
	}

	r.logger.Info().Str("group", group).Int("found", len(transcripts)).Msg("Recovering merge from persisted transcripts")
	return r.Merge(transcripts, group)
}
