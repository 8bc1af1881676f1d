// Package casefile reads a case prepared offline: the rubric results a clinician picked
// from the repertory, each with its importance, plus the export header.
package casefile

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/repertory-sheet-server/internal/domain"
	"github.com/repertory-sheet-server/internal/service"
)

// Entry is one selected rubric. A zero importance means the default.
type Entry struct {
	domain.RubricResult
	Importance int `json:"importance,omitempty"`
}

// File is the JSON layout of a case file
type File struct {
	Repertory string  `json:"repertory,omitempty"`
	Date      string  `json:"date,omitempty"` // YYYY-MM-DD
	Rubrics   []Entry `json:"rubrics"`
}

// Load decodes a case file. Unknown fields are rejected.
func Load(r io.Reader) (*File, error) {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()

	var f File
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("%w: decoding case file: %v", domain.ErrInvalidArgument, err)
	}
	return &f, nil
}

// LoadFile opens and decodes the case file at path
func LoadFile(path string) (*File, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening case file: %w", err)
	}
	defer fh.Close()
	return Load(fh)
}

// Apply adds the rubrics to session in file order and sets their importances.
// A repeated rubric id is skipped like any duplicate add, keeping the first entry's
// importance. It stops at the first invalid entry.
func (f *File) Apply(session *service.AnalysisSession) error {
	for i, entry := range f.Rubrics {
		rubric, err := entry.ToRubric()
		if err != nil {
			return fmt.Errorf("rubrics[%d]: %w", i, err)
		}
		added, err := session.AddRubric(rubric)
		if err != nil {
			return fmt.Errorf("rubrics[%d]: %w", i, err)
		}
		if !added || entry.Importance == 0 {
			continue
		}
		if err := session.SetImportance(rubric.ID, entry.Importance); err != nil {
			return fmt.Errorf("rubrics[%d]: %w", i, err)
		}
	}
	return nil
}

// Metadata returns the export header. A non-empty repertory or date overrides the file.
func (f *File) Metadata(repertory, date string) (domain.ExportMetadata, error) {
	meta := domain.ExportMetadata{RepertoryName: f.Repertory}
	if strings.TrimSpace(repertory) != "" {
		meta.RepertoryName = repertory
	}

	if date == "" {
		date = f.Date
	}
	if date != "" {
		parsed, err := time.Parse("2006-01-02", date)
		if err != nil {
			return meta, domain.NewValidationError("date", "date must be YYYY-MM-DD", date)
		}
		meta.Date = parsed
	}
	return meta, nil
}
