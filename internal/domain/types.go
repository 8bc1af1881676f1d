// Package domain contains the core entities of repertorial case analysis: remedies,
// rubrics with their weighted remedy links, the clinician's case sheet and the
// derived per-remedy aggregates.
//
// A rubric is a symptom entry of a repertory (for example "Mind > Anxiety > evening").
// Each rubric lists candidate remedies with a strength weight from 1 to 5. The clinician
// selects rubrics into a case and assigns each an importance multiplier.
package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Weight bounds as supplied by the repertory dataset.
const (
	MinWeight = 1
	MaxWeight = 5
)

// Importance multipliers a clinician may assign to a selected rubric.
const (
	DefaultImportance = 1
	MinImportance     = 1
	MaxImportance     = 3
)

// Error kinds surfaced to callers
var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrIO              = errors.New("export sink failure")
	ErrExternalService = errors.New("repertory service unavailable")
)

// Remedy is a homeopathic substance. Identity is the abbreviation.
type Remedy struct {
	Abbrev   string `json:"nameAbbrev"`
	LongName string `json:"nameLong"`
	// ID is the collaborator's identifier, only used to keep remedies without an
	// abbreviation apart.
	ID string `json:"id,omitempty"`
}

// UnnamedKeyPrefix marks identity keys synthesized for remedies without an abbreviation.
// '~' sorts after every letter and digit, so such keys rank last on ties.
const UnnamedKeyPrefix = "~unnamed:"

// IdentityKey returns the key identifying the remedy across rubrics: the abbreviation,
// else the collaborator id, else the long name. It is empty when the remedy has none.
func (r Remedy) IdentityKey() string {
	switch {
	case strings.TrimSpace(r.Abbrev) != "":
		return r.Abbrev
	case r.ID != "":
		return UnnamedKeyPrefix + "id:" + r.ID
	case r.LongName != "":
		return UnnamedKeyPrefix + "name:" + r.LongName
	}
	return ""
}

// String returns the abbreviation, falling back to the long name.
func (r Remedy) String() string {
	if r.Abbrev != "" {
		return r.Abbrev
	}
	if r.LongName != "" {
		return r.LongName
	}
	return "?"
}

// WeightedRemedyLink is a remedy's strength within one rubric.
type WeightedRemedyLink struct {
	Remedy Remedy `json:"remedy"`
	Weight int    `json:"weight"`
}

// Rubric is an immutable symptom entry returned by the repertory search service.
type Rubric struct {
	ID               string               `json:"id"`
	FullPath         string               `json:"fullPath"`
	WeightedRemedies []WeightedRemedyLink `json:"weightedRemedies"`
}

// Clone returns a copy that shares no link storage with r.
func (r Rubric) Clone() Rubric {
	if r.WeightedRemedies != nil {
		r.WeightedRemedies = append([]WeightedRemedyLink(nil), r.WeightedRemedies...)
	}
	return r
}

// Validate checks that the rubric is well formed enough to be scored.
func (r Rubric) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return NewValidationError("rubric.id", "rubric id is required", r.ID)
	}
	seen := make(map[string]int, len(r.WeightedRemedies))
	for i, link := range r.WeightedRemedies {
		if link.Weight < MinWeight || link.Weight > MaxWeight {
			return NewValidationError(
				fmt.Sprintf("weightedRemedies[%d].weight", i),
				fmt.Sprintf("weight must be between %d and %d", MinWeight, MaxWeight),
				link.Weight,
			)
		}
		key := link.Remedy.IdentityKey()
		if key == "" {
			continue
		}
		if first, dup := seen[key]; dup {
			return NewValidationError(
				fmt.Sprintf("weightedRemedies[%d].remedy", i),
				fmt.Sprintf("remedy %s is already listed at weightedRemedies[%d]", link.Remedy, first),
				key,
			)
		}
		seen[key] = i
	}
	return nil
}

// SelectedRubric is a rubric placed on a case sheet with its importance multiplier.
type SelectedRubric struct {
	Rubric     Rubric `json:"rubric"`
	Importance int    `json:"importance"`
}

// ValidImportance reports whether v is an accepted importance multiplier.
func ValidImportance(v int) bool {
	return v >= MinImportance && v <= MaxImportance
}

// RemedyAggregate holds the statistics of one remedy over a case. It is always
// recomputed from the case, never edited.
type RemedyAggregate struct {
	Key             string `json:"key"`
	Remedy          Remedy `json:"remedy"`
	TotalScore      int    `json:"totalScore"`
	Occurrences     int    `json:"occurrences"`
	MaxWeight       int    `json:"maxWeight"`
	CoveragePercent int    `json:"coveragePercent"`
}

// Band groups coverage percentages for display.
type Band string

const (
	BandVeryHigh Band = "very-high"
	BandHigh     Band = "high"
	BandModerate Band = "moderate"
	BandLow      Band = "low"
	BandMinimal  Band = "minimal"
)

// String returns the string representation of the band.
func (b Band) String() string {
	return string(b)
}

// IsValid reports whether b is one of the known bands.
func (b Band) IsValid() bool {
	switch b {
	case BandVeryHigh, BandHigh, BandModerate, BandLow, BandMinimal:
		return true
	default:
		return false
	}
}

// ExportMetadata is the header information of an exported case sheet.
type ExportMetadata struct {
	Date          time.Time `json:"date"`
	RepertoryName string    `json:"repertoryName"`
}
