package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"

	"github.com/repertory-sheet-server/internal/domain"
	"github.com/repertory-sheet-server/internal/feedback"
)

// CaseService is the command surface shared by the HTTP API, the live channel and the MCP tools.
// Rubric lookup, the export sink and the feedback store are optional.
type CaseService struct {
	sessions *SessionRegistry
	rubrics  *RubricSource
	sink     domain.ExportSink
	feedback feedback.Store
	topN     int
	logger   *logrus.Logger
}

// CaseServiceOptions wires the optional collaborators of a CaseService
type CaseServiceOptions struct {
	Rubrics    *RubricSource
	ExportSink domain.ExportSink
	Feedback   feedback.Store
	TopN       int
}

// NewCaseService creates a case service over a session registry
func NewCaseService(sessions *SessionRegistry, opts CaseServiceOptions, logger *logrus.Logger) *CaseService {
	return &CaseService{
		sessions: sessions,
		rubrics:  opts.Rubrics,
		sink:     opts.ExportSink,
		feedback: opts.Feedback,
		topN:     opts.TopN,
		logger:   logger,
	}
}

// DefaultTopN is the configured number of remedies returned when a caller asks for none
func (s *CaseService) DefaultTopN() int {
	return s.topN
}

// Sessions returns the registry backing the service
func (s *CaseService) Sessions() *SessionRegistry {
	return s.sessions
}

// StartCase opens a new empty case
func (s *CaseService) StartCase() *AnalysisSession {
	return s.sessions.Create()
}

// Session returns an open case
func (s *CaseService) Session(sessionID string) (*AnalysisSession, error) {
	return s.sessions.Get(sessionID)
}

// EndCase discards a case
func (s *CaseService) EndCase(sessionID string) error {
	if !s.sessions.Delete(sessionID) {
		return fmt.Errorf("session %s: %w", sessionID, domain.ErrNotFound)
	}
	return nil
}

// AddRubric selects a rubric on a case. It reports false when the rubric was already selected.
func (s *CaseService) AddRubric(sessionID string, rubric domain.Rubric) (bool, error) {
	session, err := s.sessions.Get(sessionID)
	if err != nil {
		return false, err
	}
	return session.AddRubric(rubric)
}

// AddRubricsByID fetches rubrics from the repertory and selects them, returning how many were new.
// Nothing is added when any fetch fails.
func (s *CaseService) AddRubricsByID(ctx context.Context, sessionID string, ids []string) (int, error) {
	session, err := s.sessions.Get(sessionID)
	if err != nil {
		return 0, err
	}
	if s.rubrics == nil {
		return 0, fmt.Errorf("%w: no rubric source configured", domain.ErrExternalService)
	}
	if len(ids) == 0 {
		return 0, domain.NewValidationError("rubric_ids", "at least one rubric id is required", ids)
	}

	rubrics, err := s.rubrics.Fetch(ctx, ids)
	if err != nil {
		return 0, err
	}

	added := 0
	for _, rubric := range rubrics {
		ok, err := session.AddRubric(rubric)
		if err != nil {
			return added, err
		}
		if ok {
			added++
		}
	}
	return added, nil
}

// RemoveRubric drops a rubric from a case. It reports whether the rubric was selected.
func (s *CaseService) RemoveRubric(sessionID, rubricID string) (bool, error) {
	session, err := s.sessions.Get(sessionID)
	if err != nil {
		return false, err
	}
	return session.RemoveRubric(rubricID), nil
}

// SetImportance changes the multiplier of a selected rubric
func (s *CaseService) SetImportance(sessionID, rubricID string, importance int) error {
	session, err := s.sessions.Get(sessionID)
	if err != nil {
		return err
	}
	return session.SetImportance(rubricID, importance)
}

// ClearCase removes every rubric from a case
func (s *CaseService) ClearCase(sessionID string) error {
	session, err := s.sessions.Get(sessionID)
	if err != nil {
		return err
	}
	session.Clear()
	return nil
}

// Analyze returns the ranked view of a case. topN <= 0 uses the configured default.
func (s *CaseService) Analyze(sessionID string, topN int) (Analysis, error) {
	session, err := s.sessions.Get(sessionID)
	if err != nil {
		return Analysis{}, err
	}
	return session.Analysis(s.resolveTopN(topN)), nil
}

// ExportText renders a case as text
func (s *CaseService) ExportText(sessionID string, meta domain.ExportMetadata, topN int) (string, error) {
	session, err := s.sessions.Get(sessionID)
	if err != nil {
		return "", err
	}
	return session.ExportText(meta, s.resolveTopN(topN)), nil
}

// ExportWorkbook renders a case as a repertorisation chart workbook
func (s *CaseService) ExportWorkbook(sessionID string, meta domain.ExportMetadata, topN int) (*excelize.File, error) {
	session, err := s.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	return session.ExportWorkbook(meta, s.resolveTopN(topN))
}

// SaveExport writes the text export to the configured sink and returns its location
func (s *CaseService) SaveExport(ctx context.Context, sessionID string, meta domain.ExportMetadata, topN int) (string, error) {
	session, err := s.sessions.Get(sessionID)
	if err != nil {
		return "", err
	}
	return session.SaveExport(ctx, s.sink, meta, s.resolveTopN(topN))
}

// SearchRubrics queries the repertory
func (s *CaseService) SearchRubrics(ctx context.Context, query domain.SearchQuery) ([]domain.Rubric, error) {
	if s.rubrics == nil {
		return nil, fmt.Errorf("%w: no rubric source configured", domain.ErrExternalService)
	}
	if strings.TrimSpace(query.Text) == "" {
		return nil, domain.NewValidationError("q", "search text is required", query.Text)
	}
	return s.rubrics.Search(ctx, query)
}

// PrescriptionRequest is the clinician's decision for an analysed case
type PrescriptionRequest struct {
	SessionID        string `json:"session_id"`
	ConsultationRef  string `json:"consultation_ref"`
	PrescribedRemedy string `json:"prescribed_remedy"`
	Potency          string `json:"potency,omitempty"`
	Notes            string `json:"notes,omitempty"`
}

// RecordPrescription stores the prescribed remedy next to the current top-ranked remedy of the case
func (s *CaseService) RecordPrescription(ctx context.Context, req PrescriptionRequest) (*feedback.PrescriptionFeedback, error) {
	if s.feedback == nil {
		return nil, fmt.Errorf("%w: no feedback store configured", domain.ErrIO)
	}
	session, err := s.sessions.Get(req.SessionID)
	if err != nil {
		return nil, err
	}

	analysis := session.Analysis(1)
	ranked := make([]domain.RemedyAggregate, len(analysis.Ranked))
	for i, r := range analysis.Ranked {
		ranked[i] = r.RemedyAggregate
	}

	fb := feedback.NewPrescriptionFeedback(req.ConsultationRef, analysis.Rubrics, ranked, req.PrescribedRemedy, req.Potency, req.Notes)
	if err := s.feedback.Save(ctx, fb); err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"session_id": req.SessionID,
		"suggested":  fb.SuggestedRemedy,
		"prescribed": fb.PrescribedRemedy,
		"agreed":     fb.Agreed,
	}).Info("Prescription recorded")

	return fb, nil
}

// ListPrescriptions returns recorded decisions, newest first, with agreement statistics
func (s *CaseService) ListPrescriptions(ctx context.Context, limit, offset int) ([]*feedback.PrescriptionFeedback, *feedback.Stats, error) {
	if s.feedback == nil {
		return nil, nil, fmt.Errorf("%w: no feedback store configured", domain.ErrIO)
	}
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	items, err := s.feedback.List(ctx, limit, offset)
	if err != nil {
		return nil, nil, err
	}
	stats, err := s.feedback.Stats(ctx)
	if err != nil {
		return nil, nil, err
	}
	if items == nil {
		items = []*feedback.PrescriptionFeedback{}
	}
	return items, stats, nil
}

func (s *CaseService) resolveTopN(topN int) int {
	if topN > 0 {
		return topN
	}
	return s.topN
}
