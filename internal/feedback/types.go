// Package feedback records which remedy the clinician finally prescribed for an analysed
// case, next to the remedy the ranking put first. It stores decisions, never rankings.
package feedback

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/repertory-sheet-server/internal/domain"
)

// PrescriptionFeedback represents the clinician's decision for one analysed case.
type PrescriptionFeedback struct {
	ID               int64     `json:"id,omitempty"`
	ConsultationRef  string    `json:"consultation_ref"`  // Practitioner's reference for the consultation
	RubricSignature  string    `json:"rubric_signature"`  // Hash of the selected rubrics and importances
	SuggestedRemedy  string    `json:"suggested_remedy"`  // Top-ranked remedy key at decision time
	PrescribedRemedy string    `json:"prescribed_remedy"` // Remedy actually prescribed
	Agreed           bool      `json:"agreed"`            // Prescribed the top-ranked remedy?
	Potency          string    `json:"potency,omitempty"` // e.g. "30C", "200C", "LM1"
	Notes            string    `json:"notes,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Validate checks the fields required to store a decision
func (f *PrescriptionFeedback) Validate() error {
	if strings.TrimSpace(f.ConsultationRef) == "" {
		return domain.NewValidationError("consultation_ref", "consultation reference is required", f.ConsultationRef)
	}
	if strings.TrimSpace(f.PrescribedRemedy) == "" {
		return domain.NewValidationError("prescribed_remedy", "prescribed remedy is required", f.PrescribedRemedy)
	}
	return nil
}

// NewPrescriptionFeedback builds a decision record from the case as it was analysed.
// The suggested remedy is the first of ranked, if any.
func NewPrescriptionFeedback(consultationRef string, rubrics []domain.SelectedRubric, ranked []domain.RemedyAggregate, prescribed, potency, notes string) *PrescriptionFeedback {
	suggested := ""
	if len(ranked) > 0 {
		suggested = ranked[0].Key
	}
	return &PrescriptionFeedback{
		ConsultationRef:  strings.TrimSpace(consultationRef),
		RubricSignature:  RubricSignature(rubrics),
		SuggestedRemedy:  suggested,
		PrescribedRemedy: strings.TrimSpace(prescribed),
		Agreed:           suggested != "" && suggested == strings.TrimSpace(prescribed),
		Potency:          strings.TrimSpace(potency),
		Notes:            notes,
	}
}

// RubricSignature identifies a rubric selection independently of insertion order
func RubricSignature(rubrics []domain.SelectedRubric) string {
	parts := make([]string, len(rubrics))
	for i, sr := range rubrics {
		parts[i] = fmt.Sprintf("%s*%d", sr.Rubric.ID, sr.Importance)
	}
	sort.Strings(parts)
	hash := sha256.Sum256([]byte(strings.Join(parts, "\n")))
	return fmt.Sprintf("%x", hash[:12])
}

// Stats summarises how often the top-ranked remedy was prescribed
type Stats struct {
	Total  int64   `json:"total"`
	Agreed int64   `json:"agreed"`
	Rate   float64 `json:"agreement_rate"`
}

// Store defines the interface for feedback storage operations.
type Store interface {
	// Save stores or updates a decision.
	// If a decision for the same consultation and rubric selection exists, it is updated.
	Save(ctx context.Context, feedback *PrescriptionFeedback) error

	// Get retrieves the decision for a consultation and rubric selection.
	// Returns nil without error when none exists.
	Get(ctx context.Context, consultationRef string, rubricSignature string) (*PrescriptionFeedback, error)

	// List returns all decisions with pagination, newest first.
	List(ctx context.Context, limit, offset int) ([]*PrescriptionFeedback, error)

	// Count returns the total number of decisions.
	Count(ctx context.Context) (int64, error)

	// Stats returns agreement statistics.
	Stats(ctx context.Context) (*Stats, error)

	// Delete removes a decision by ID.
	Delete(ctx context.Context, id int64) error

	// ExportJSON exports all decisions to a JSON writer.
	ExportJSON(ctx context.Context, writer io.Writer) error

	// ImportJSON imports decisions from a JSON reader.
	// Returns the number of imported and skipped entries.
	ImportJSON(ctx context.Context, reader io.Reader) (imported int, skipped int, err error)

	// Close closes the store and releases resources.
	Close() error
}

// FeedbackExport represents the JSON export format.
type FeedbackExport struct {
	Version    string                  `json:"version"`
	ExportedAt time.Time               `json:"exported_at"`
	Count      int                     `json:"count"`
	Feedback   []*PrescriptionFeedback `json:"feedback"`
}

func newStats(total, agreed int64) *Stats {
	stats := &Stats{Total: total, Agreed: agreed}
	if total > 0 {
		stats.Rate = float64(agreed) / float64(total)
	}
	return stats
}
