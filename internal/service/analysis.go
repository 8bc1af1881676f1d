package service

import (
	"context"
	"sync"
	"time"

	"github.com/montanaflynn/stats"
	"github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"

	"github.com/repertory-sheet-server/internal/domain"
)

// RankedRemedy is an aggregate with its 1-based position and coverage band
type RankedRemedy struct {
	domain.RemedyAggregate
	Rank int         `json:"rank"`
	Band domain.Band `json:"band"`
}

// AnalysisSummary describes the shape of the current ranking
type AnalysisSummary struct {
	RubricCount int     `json:"rubricCount"`
	RemedyCount int     `json:"remedyCount"`
	ScoreMean   float64 `json:"scoreMean"`
	ScoreMedian float64 `json:"scoreMedian"`
	ScoreMax    float64 `json:"scoreMax"`
}

// Analysis is the read model handed to the outer surfaces
type Analysis struct {
	SessionID string                  `json:"sessionId,omitempty"`
	Rubrics   []domain.SelectedRubric `json:"rubrics"`
	Ranked    []RankedRemedy          `json:"ranked"`
	Summary   AnalysisSummary         `json:"summary"`
}

// BuildAnalysis ranks the aggregates of a case and keeps the first topN (all when topN <= 0).
// The summary always covers every remedy, not only the returned ones.
func BuildAnalysis(rubrics []domain.SelectedRubric, aggregates []domain.RemedyAggregate, topN int) Analysis {
	ordered := Rank(aggregates)
	if topN > 0 && topN < len(ordered) {
		ordered = ordered[:topN]
	}

	ranked := make([]RankedRemedy, len(ordered))
	for i, agg := range ordered {
		ranked[i] = RankedRemedy{
			RemedyAggregate: agg,
			Rank:            i + 1,
			Band:            BandForCoverage(agg.CoveragePercent),
		}
	}

	return Analysis{
		Rubrics: rubrics,
		Ranked:  ranked,
		Summary: summarize(len(rubrics), aggregates),
	}
}

func summarize(rubricCount int, aggregates []domain.RemedyAggregate) AnalysisSummary {
	summary := AnalysisSummary{RubricCount: rubricCount, RemedyCount: len(aggregates)}
	if len(aggregates) == 0 {
		return summary
	}

	scores := make(stats.Float64Data, len(aggregates))
	for i, agg := range aggregates {
		scores[i] = float64(agg.TotalScore)
	}

	// stats only fails on empty input, which is excluded above
	summary.ScoreMean, _ = stats.Round(mustFloat(stats.Mean(scores)), 2)
	summary.ScoreMedian = mustFloat(stats.Median(scores))
	summary.ScoreMax = mustFloat(stats.Max(scores))

	return summary
}

func mustFloat(v float64, err error) float64 {
	if err != nil {
		return 0
	}
	return v
}

// AnalysisSession owns one case and keeps its aggregates current. Mutations are
// serialized by the session mutex; the case and the engine stay lock free.
type AnalysisSession struct {
	id         string
	mu         sync.Mutex
	caseSheet  *domain.Case
	aggregates []domain.RemedyAggregate
	createdAt  time.Time
	updatedAt  time.Time
	logger     *logrus.Logger
}

// NewAnalysisSession creates an empty session
func NewAnalysisSession(id string, logger *logrus.Logger) *AnalysisSession {
	now := time.Now().UTC()
	return &AnalysisSession{
		id:         id,
		caseSheet:  domain.NewCase(),
		aggregates: []domain.RemedyAggregate{},
		createdAt:  now,
		updatedAt:  now,
		logger:     logger,
	}
}

// ID returns the session identifier
func (s *AnalysisSession) ID() string {
	return s.id
}

// CreatedAt returns when the session was opened
func (s *AnalysisSession) CreatedAt() time.Time {
	return s.createdAt
}

// UpdatedAt returns the time of the last mutation
func (s *AnalysisSession) UpdatedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updatedAt
}

// AddRubric validates and selects a rubric. It reports false when the rubric was already selected.
func (s *AnalysisSession) AddRubric(rubric domain.Rubric) (bool, error) {
	if err := rubric.Validate(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	added := s.caseSheet.AddRubric(rubric)
	if added {
		s.recompute()
	}

	s.logger.WithFields(logrus.Fields{
		"session_id": s.id,
		"rubric_id":  rubric.ID,
		"added":      added,
		"rubrics":    s.caseSheet.Len(),
	}).Debug("Rubric selected")

	return added, nil
}

// RemoveRubric removes a rubric; unknown ids are ignored
func (s *AnalysisSession) RemoveRubric(rubricID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := s.caseSheet.RemoveRubric(rubricID)
	if removed {
		s.recompute()
	}

	s.logger.WithFields(logrus.Fields{
		"session_id": s.id,
		"rubric_id":  rubricID,
		"removed":    removed,
	}).Debug("Rubric removed")

	return removed
}

// SetImportance changes the multiplier of a selected rubric
func (s *AnalysisSession) SetImportance(rubricID string, value int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.caseSheet.SetImportance(rubricID, value); err != nil {
		s.logger.WithFields(logrus.Fields{
			"session_id": s.id,
			"rubric_id":  rubricID,
			"importance": value,
		}).WithError(err).Warn("Importance rejected")
		return err
	}
	s.recompute()

	s.logger.WithFields(logrus.Fields{
		"session_id": s.id,
		"rubric_id":  rubricID,
		"importance": value,
	}).Debug("Importance updated")

	return nil
}

// Clear empties the case
func (s *AnalysisSession) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.caseSheet.Clear()
	s.recompute()

	s.logger.WithField("session_id", s.id).Debug("Case cleared")
}

// Rubrics returns the selected rubrics in insertion order
func (s *AnalysisSession) Rubrics() []domain.SelectedRubric {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.caseSheet.Rubrics()
}

// Aggregates returns a copy of the current aggregates sorted by key
func (s *AnalysisSession) Aggregates() []domain.RemedyAggregate {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.RemedyAggregate, len(s.aggregates))
	copy(out, s.aggregates)
	return out
}

// Analysis returns the ranked view of the case
func (s *AnalysisSession) Analysis(topN int) Analysis {
	s.mu.Lock()
	defer s.mu.Unlock()

	analysis := BuildAnalysis(s.caseSheet.Rubrics(), s.aggregates, topN)
	analysis.SessionID = s.id
	return analysis
}

// ExportText renders the case sheet. topN <= 0 exports every remedy.
func (s *AnalysisSession) ExportText(meta domain.ExportMetadata, topN int) string {
	rubrics, ranked := s.snapshot(topN)
	return SerializeCase(rubrics, ranked, meta)
}

// ExportWorkbook renders the repertorisation chart
func (s *AnalysisSession) ExportWorkbook(meta domain.ExportMetadata, topN int) (*excelize.File, error) {
	rubrics, ranked := s.snapshot(topN)
	return BuildWorkbook(rubrics, ranked, meta)
}

// SaveExport renders the text export and writes it to sink. A failed write leaves the case untouched.
func (s *AnalysisSession) SaveExport(ctx context.Context, sink domain.ExportSink, meta domain.ExportMetadata, topN int) (string, error) {
	text := s.ExportText(meta, topN)
	location, err := WriteExport(ctx, sink, ExportFileName(s.id, meta, "txt"), text)
	if err != nil {
		s.logger.WithField("session_id", s.id).WithError(err).Error("Export failed")
		return "", err
	}
	return location, nil
}

func (s *AnalysisSession) snapshot(topN int) ([]domain.SelectedRubric, []domain.RemedyAggregate) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ranked := Rank(s.aggregates)
	if topN > 0 && topN < len(ranked) {
		ranked = ranked[:topN]
	}
	return s.caseSheet.Rubrics(), ranked
}

// recompute must be called with the mutex held
func (s *AnalysisSession) recompute() {
	s.aggregates = ComputeAggregates(s.caseSheet.Rubrics())
	s.updatedAt = time.Now().UTC()
}
