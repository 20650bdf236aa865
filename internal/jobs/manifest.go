package jobs

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/lexiqai/media-transcriber/internal/media"
	"github.com/lexiqai/media-transcriber/internal/pipeline"
)

// SubmitRequest is one batch of inputs of the same kind: the body of
// POST /jobs or one entry of a batch file.
type SubmitRequest struct {
	Kind   string   `json:"kind" yaml:"kind"` // local, single, playlist
	Inputs []string `json:"inputs" yaml:"inputs"`
	Video  bool     `json:"video" yaml:"video"`
}

// Request validates s and converts it into a pipeline request
func (s SubmitRequest) Request() (pipeline.Request, error) {
	kind, err := media.ParseKind(s.Kind)
	if err != nil {
		return pipeline.Request{}, err
	}

	var inputs []string
	for _, in := range s.Inputs {
		if in = strings.TrimSpace(in); in != "" {
			inputs = append(inputs, in)
		}
	}
	if len(inputs) == 0 {
		return pipeline.Request{}, errors.New("at least one input is required")
	}
	if kind == media.KindPlaylist && len(inputs) != 1 {
		return pipeline.Request{}, errors.New("playlist jobs take exactly one URL")
	}

	return pipeline.Request{Kind: kind, Identifiers: inputs, WantVideo: s.Video}, nil
}

// Manifest is a YAML batch file:
//
//	batches:
//	  - kind: playlist
//	    inputs: [https://www.youtube.com/playlist?list=...]
//	  - kind: local
//	    inputs: [lecture1.mp4, lecture2.mp4]
type Manifest struct {
	Batches []SubmitRequest `yaml:"batches"`
}

// LoadManifest parses and validates a batch file
func LoadManifest(r io.Reader) ([]pipeline.Request, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var m Manifest
	if err := dec.Decode(&m); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("batch file is empty")
		}
		return nil, fmt.Errorf("parse batch file: %w", err)
	}
	if len(m.Batches) == 0 {
		return nil, errors.New("batch file has no batches")
	}

	reqs := make([]pipeline.Request, len(m.Batches))
	for i, b := range m.Batches {
		req, err := b.Request()
		if err != nil {
			return nil, fmt.Errorf("batch %d: %w", i+1, err)
		}
		reqs[i] = req
	}
	return reqs, nil
}
