package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/repertory-sheet-server/internal/domain"
)

// RubricSource looks rubrics up in the repertory search service and keeps a copy of
// everything it fetches in the rubric library. When the service is unavailable it
// answers from the library instead. The library is optional.
type RubricSource struct {
	searcher domain.RubricSearcher
	library  domain.RubricLibrary
	logger   *logrus.Logger
}

// NewRubricSource creates a rubric source. library may be nil.
func NewRubricSource(searcher domain.RubricSearcher, library domain.RubricLibrary, logger *logrus.Logger) *RubricSource {
	return &RubricSource{
		searcher: searcher,
		library:  library,
		logger:   logger,
	}
}

// Search returns rubrics matching the query
func (s *RubricSource) Search(ctx context.Context, query domain.SearchQuery) ([]domain.Rubric, error) {
	rubrics, err := s.searcher.SearchRubrics(ctx, query)
	if err == nil {
		s.remember(ctx, rubrics...)
		return rubrics, nil
	}
	if !s.canFallBack(err) {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"query": query.Text,
		"error": err,
	}).Warn("Repertory service unavailable, searching rubric library")

	local, libErr := s.library.SearchByPath(ctx, query.Text, query.Limit)
	if libErr != nil {
		return nil, fmt.Errorf("%w (library: %v)", err, libErr)
	}
	return local, nil
}

// Fetch returns the rubrics with the given ids, in order
func (s *RubricSource) Fetch(ctx context.Context, ids []string) ([]domain.Rubric, error) {
	if len(ids) == 0 {
		return []domain.Rubric{}, nil
	}

	rubrics, err := s.searcher.GetRubrics(ctx, ids)
	if err == nil {
		s.remember(ctx, rubrics...)
		return rubrics, nil
	}
	if !s.canFallBack(err) {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"rubrics": len(ids),
		"error":   err,
	}).Warn("Repertory service unavailable, reading rubric library")

	local := make([]domain.Rubric, 0, len(ids))
	for _, id := range ids {
		rubric, libErr := s.library.GetRubric(ctx, id)
		if libErr != nil {
			if errors.Is(libErr, domain.ErrNotFound) {
				return nil, err
			}
			return nil, fmt.Errorf("%w (library: %v)", err, libErr)
		}
		local = append(local, *rubric)
	}
	return local, nil
}

func (s *RubricSource) canFallBack(err error) bool {
	return s.library != nil && errors.Is(err, domain.ErrExternalService)
}

func (s *RubricSource) remember(ctx context.Context, rubrics ...domain.Rubric) {
	if s.library == nil {
		return
	}
	for i := range rubrics {
		if err := s.library.SaveRubric(ctx, &rubrics[i]); err != nil {
			s.logger.WithFields(logrus.Fields{
				"rubric_id": rubrics[i].ID,
				"error":     err,
			}).Warn("Failed to store rubric in library")
		}
	}
}
