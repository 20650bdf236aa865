// Package storage owns the single directory every pipeline artifact lives in.
//
// Naming is predictable so that leftovers of a crashed run can be found by
// pattern alone:
//
//	<title>.<ext>                 downloaded media (caller owned)
//	.mt-work/<title>.wav          decoded mono PCM track (intermediate)
//	.mt-work/<title>_part<N>.wav  speech segment N, 1-based (intermediate)
//	<title>_enhanced.txt          per-item transcript (intermediate when merged)
//	<group>.txt                   combined document
//	.mt-*.tmp                     in-progress atomic write
//
// Audio intermediates live under WorkDir only, so no caller file in the
// root can be overwritten or removed by a run.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

const (
	// TranscriptSuffix is appended to an item's base name for its transcript file.
	TranscriptSuffix = "_enhanced.txt"
	// DocumentExt is the extension of combined documents.
	DocumentExt = ".txt"
	// WorkDir holds decoded tracks and segment parts.
	WorkDir = ".mt-work"

	tmpPattern = ".mt-*.tmp"
)

var illegalName = regexp.MustCompile(`[<>:"/\\|?*]`)

// Workspace is a storage root. All paths handed out are inside Root.
type Workspace struct {
	Root string
}

// New creates the storage root if needed and returns a Workspace for it.
func New(root string) (*Workspace, error) {
	if root == "" {
		root = "."
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve storage root: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(abs, WorkDir), 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &Workspace{Root: abs}, nil
}

// SanitizeName replaces filesystem-illegal characters with underscores.
func SanitizeName(name string) string {
	return strings.TrimSpace(illegalName.ReplaceAllString(name, "_"))
}

// BaseName strips the directory and extension from a media path.
func BaseName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Path joins name onto the storage root.
func (w *Workspace) Path(name string) string {
	return filepath.Join(w.Root, name)
}

// MediaPath is where the fetch tool writes a downloaded item.
func (w *Workspace) MediaPath(title, ext string) string {
	return w.Path(title + "." + strings.TrimPrefix(ext, "."))
}

// MediaTemplate is the output template handed to the fetch tool.
func (w *Workspace) MediaTemplate(title string) string {
	return w.Path(title + ".%(ext)s")
}

// WavPath is the decoded track for a media item.
func (w *Workspace) WavPath(base string) string {
	return filepath.Join(w.Root, WorkDir, base+".wav")
}

// PartPath is segment n (1-based) of a decoded track.
func (w *Workspace) PartPath(base string, n int) string {
	return filepath.Join(w.Root, WorkDir, fmt.Sprintf("%s_part%d.wav", base, n))
}

// TranscriptPath is the per-item transcript file.
func (w *Workspace) TranscriptPath(base string) string {
	return w.Path(base + TranscriptSuffix)
}

// DocumentPath is the combined document for a group.
func (w *Workspace) DocumentPath(group string) string {
	return w.Path(SanitizeName(group) + DocumentExt)
}

// WriteFile writes data to name inside the root atomically.
func (w *Workspace) WriteFile(path string, data []byte) error {
	aw, err := NewAtomicWriter(path)
	if err != nil {
		return err
	}
	if _, err := aw.Write(data); err != nil {
		aw.Abort()
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return aw.Commit()
}

// Remove deletes an intermediate file. A missing file is not an error.
func (w *Workspace) Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Transcripts lists persisted per-item transcript files in the root.
func (w *Workspace) Transcripts() ([]string, error) {
	matches, err := filepath.Glob(w.Path("*" + TranscriptSuffix))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	return matches, nil
}

// Orphans lists intermediate files a finished run should not have left
// behind: anything under WorkDir, per-item transcripts and unfinished
// atomic writes. Caller media and combined documents are not reported.
func (w *Workspace) Orphans() ([]string, error) {
	entries, err := os.ReadDir(w.Root)
	if err != nil {
		return nil, fmt.Errorf("read storage root: %w", err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		tmp, _ := filepath.Match(tmpPattern, name)
		if tmp || strings.HasSuffix(name, TranscriptSuffix) {
			out = append(out, w.Path(name))
		}
	}

	work, err := os.ReadDir(filepath.Join(w.Root, WorkDir))
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read work dir: %w", err)
	}
	for _, e := range work {
		if !e.IsDir() {
			out = append(out, filepath.Join(w.Root, WorkDir, e.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}
