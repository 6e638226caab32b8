package model

import (
	"encoding/json"
	"fmt"
)

// Option-shape tags. Source documents carry options either under the legacy
// "ofc" key or the newer "options_for_consideration" key, and either as a bare
// string or a list. OptionSet keeps the normalized list internally and
// remembers the original key and arity so the record round-trips in the shape
// the document used.
const (
	ShapeOFCString  = "ofc_string"
	ShapeOFCList    = "ofc_list"
	ShapeFullString = "options_for_consideration_string"
	ShapeFullList   = "options_for_consideration_list"
)

type OptionSet struct {
	Options []string
	Shape   string
}

// NewOptionSet builds a canonical (full-key, list) option set.
func NewOptionSet(options ...string) OptionSet {
	return OptionSet{Options: options, Shape: ShapeFullList}
}

// First returns the first option text, or "" when there are none.
func (o OptionSet) First() string {
	if len(o.Options) == 0 {
		return ""
	}
	return o.Options[0]
}

// findingWire is the raw JSON surface of a FindingRecord. Both option keys are
// RawMessage so string-vs-list is decided here, not by the decoder.
type findingWire struct {
	Vulnerability           string          `json:"vulnerability"`
	OFC                     json.RawMessage `json:"ofc,omitempty"`
	OptionsForConsideration json.RawMessage `json:"options_for_consideration,omitempty"`
	Category                string          `json:"category,omitempty"`
	Citations               []string        `json:"citations,omitempty"`
	SourcePage              int             `json:"source_page,omitempty"`
	SourceFile              string          `json:"source_file,omitempty"`
	ChunkID                 string          `json:"chunk_id"`
	Discipline              string          `json:"discipline,omitempty"`
	Sector                  string          `json:"sector,omitempty"`
	Subsector               string          `json:"subsector,omitempty"`
	Confidence              *float64        `json:"confidence,omitempty"`
	TaxonomyVersion         string          `json:"taxonomy_version,omitempty"`
}

// FindingRecord is one vulnerability plus its options for consideration,
// extracted from a document chunk. Discipline through TaxonomyVersion are
// empty until classification.
type FindingRecord struct {
	Vulnerability string
	Options       OptionSet
	Category      string
	Citations     []string
	SourcePage    int
	SourceFile    string
	ChunkID       string

	Discipline      string
	Sector          string
	Subsector       string
	Confidence      float64
	Classified      bool
	TaxonomyVersion string
}

func decodeOptions(raw json.RawMessage, stringShape, listShape string) (OptionSet, error) {
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return OptionSet{Options: []string{single}, Shape: stringShape}, nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return OptionSet{Options: list, Shape: listShape}, nil
	}
	return OptionSet{}, fmt.Errorf("options field is neither string nor list of strings: %s", string(raw))
}

func (f *FindingRecord) UnmarshalJSON(data []byte) error {
	var w findingWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	f.Vulnerability = w.Vulnerability
	f.Category = w.Category
	f.Citations = w.Citations
	f.SourcePage = w.SourcePage
	f.SourceFile = w.SourceFile
	f.ChunkID = w.ChunkID
	f.Discipline = w.Discipline
	f.Sector = w.Sector
	f.Subsector = w.Subsector
	f.TaxonomyVersion = w.TaxonomyVersion
	if w.Confidence != nil {
		f.Confidence = *w.Confidence
		f.Classified = true
	}

	switch {
	case len(w.OFC) > 0:
		opts, err := decodeOptions(w.OFC, ShapeOFCString, ShapeOFCList)
		if err != nil {
			return err
		}
		f.Options = opts
	case len(w.OptionsForConsideration) > 0:
		opts, err := decodeOptions(w.OptionsForConsideration, ShapeFullString, ShapeFullList)
		if err != nil {
			return err
		}
		f.Options = opts
	default:
		f.Options = OptionSet{Shape: ShapeFullList}
	}
	return nil
}

func (f FindingRecord) MarshalJSON() ([]byte, error) {
	w := findingWire{
		Vulnerability:   f.Vulnerability,
		Category:        f.Category,
		Citations:       f.Citations,
		SourcePage:      f.SourcePage,
		SourceFile:      f.SourceFile,
		ChunkID:         f.ChunkID,
		Discipline:      f.Discipline,
		Sector:          f.Sector,
		Subsector:       f.Subsector,
		TaxonomyVersion: f.TaxonomyVersion,
	}
	if f.Classified {
		conf := f.Confidence
		w.Confidence = &conf
	}

	var optRaw json.RawMessage
	var err error
	switch f.Options.Shape {
	case ShapeOFCString, ShapeFullString:
		optRaw, err = json.Marshal(f.Options.First())
	default:
		opts := f.Options.Options
		if opts == nil {
			opts = []string{}
		}
		optRaw, err = json.Marshal(opts)
	}
	if err != nil {
		return nil, err
	}

	switch f.Options.Shape {
	case ShapeOFCString, ShapeOFCList:
		w.OFC = optRaw
	default:
		w.OptionsForConsideration = optRaw
	}

	return json.Marshal(w)
}

// ChunkFailure marks one chunk whose extraction failed. Failures travel in the
// artifact next to the records so "no findings" and "extraction broke" are
// never the same thing.
type ChunkFailure struct {
	ChunkID string `json:"chunk_id"`
	Reason  string `json:"reason"`
	Detail  string `json:"detail,omitempty"`
}

// Failure reason codes.
const (
	FailureModelError  = "model_error"
	FailureUnparseable = "unparseable_output"
	FailureEmptyChunk  = "empty_chunk"
	FailureCallTimeout = "call_timeout"
)
