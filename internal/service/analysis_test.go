package service

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/repertory-sheet-server/internal/domain"
)

func newTestSession(t *testing.T) *AnalysisSession {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel) // Suppress logs during testing
	return NewAnalysisSession("test-session", logger)
}

func TestBuildAnalysis(t *testing.T) {
	rubrics, _ := goldenCase()
	aggs := ComputeAggregates(rubrics)

	analysis := BuildAnalysis(rubrics, aggs, 0)
	require.Len(t, analysis.Ranked, 2)
	assert.Equal(t, "Y", analysis.Ranked[0].Key)
	assert.Equal(t, 1, analysis.Ranked[0].Rank)
	assert.Equal(t, domain.BandVeryHigh, analysis.Ranked[0].Band)
	assert.Equal(t, 2, analysis.Ranked[1].Rank)

	assert.Equal(t, 2, analysis.Summary.RubricCount)
	assert.Equal(t, 2, analysis.Summary.RemedyCount)
	assert.InDelta(t, 7.5, analysis.Summary.ScoreMean, 0.001)
	assert.InDelta(t, 7.5, analysis.Summary.ScoreMedian, 0.001)
	assert.InDelta(t, 10, analysis.Summary.ScoreMax, 0.001)

	top := BuildAnalysis(rubrics, aggs, 1)
	require.Len(t, top.Ranked, 1)
	assert.Equal(t, 2, top.Summary.RemedyCount, "summary covers every remedy")
}

func TestBuildAnalysis_Empty(t *testing.T) {
	analysis := BuildAnalysis(nil, nil, 5)
	assert.Empty(t, analysis.Ranked)
	assert.Equal(t, AnalysisSummary{}, analysis.Summary)
}

func TestAnalysisSession_Mutations(t *testing.T) {
	s := newTestSession(t)
	r1 := rubric("r1", "Mind > Anxiety > evening", link("X", 1), link("Y", 4))
	r2 := rubric("r2", "Generalities > Cold > agg.", link("X", 2), link("Y", 3))

	added, err := s.AddRubric(r1)
	require.NoError(t, err)
	assert.True(t, added)
	added, err = s.AddRubric(r2)
	require.NoError(t, err)
	assert.True(t, added)

	require.NoError(t, s.SetImportance("r2", 2))

	analysis := s.Analysis(0)
	assert.Equal(t, "test-session", analysis.SessionID)
	require.Len(t, analysis.Ranked, 2)
	assert.Equal(t, 10, analysis.Ranked[0].TotalScore)
	assert.Equal(t, 5, analysis.Ranked[1].TotalScore)

	assert.True(t, s.RemoveRubric("r1"))
	assert.False(t, s.RemoveRubric("r1"))
	y := aggregateByKey(t, s.Aggregates(), "Y")
	assert.Equal(t, 6, y.TotalScore)
	assert.Equal(t, 100, y.CoveragePercent)

	s.Clear()
	assert.Empty(t, s.Rubrics())
	assert.Empty(t, s.Aggregates())
}

func TestAnalysisSession_IdempotentAdd(t *testing.T) {
	s := newTestSession(t)
	r1 := rubric("r1", "Mind", link("X", 3))

	_, err := s.AddRubric(r1)
	require.NoError(t, err)
	before := s.Aggregates()

	changed := rubric("r1", "Mind (other edition)", link("X", 5), link("Z", 1))
	added, err := s.AddRubric(changed)
	require.NoError(t, err)
	assert.False(t, added)
	assert.Equal(t, before, s.Aggregates())
	assert.Equal(t, "Mind", s.Rubrics()[0].Rubric.FullPath)
}

func TestAnalysisSession_ReAddAfterRemove(t *testing.T) {
	x := rubric("r1", "Mind > Anxiety", link("X", 3), link("Y", 1))
	other := rubric("r2", "Generalities > Cold", link("Y", 4))

	once := newTestSession(t)
	_, err := once.AddRubric(other)
	require.NoError(t, err)
	_, err = once.AddRubric(x)
	require.NoError(t, err)

	s := newTestSession(t)
	_, err = s.AddRubric(other)
	require.NoError(t, err)
	_, err = s.AddRubric(x)
	require.NoError(t, err)
	require.NoError(t, s.SetImportance("r1", 3))
	require.True(t, s.RemoveRubric("r1"))
	added, err := s.AddRubric(x)
	require.NoError(t, err)
	assert.True(t, added)

	assert.Equal(t, once.Aggregates(), s.Aggregates())
	assert.Equal(t, once.Rubrics(), s.Rubrics(), "re-added rubric starts at the default importance")
}

func TestAnalysisSession_Rejections(t *testing.T) {
	s := newTestSession(t)
	_, err := s.AddRubric(rubric("r1", "Mind", link("X", 3)))
	require.NoError(t, err)
	before := s.Aggregates()

	_, err = s.AddRubric(rubric("r2", "Bad", link("X", 7)))
	assert.True(t, errors.Is(err, domain.ErrInvalidArgument))

	err = s.SetImportance("r1", 4)
	assert.True(t, errors.Is(err, domain.ErrInvalidArgument))
	err = s.SetImportance("missing", 2)
	assert.True(t, errors.Is(err, domain.ErrInvalidArgument))

	assert.Equal(t, before, s.Aggregates())
	assert.Len(t, s.Rubrics(), 1)
}

func TestAnalysisSession_Exports(t *testing.T) {
	s := newTestSession(t)
	rubrics, _ := goldenCase()
	for _, sr := range rubrics {
		_, err := s.AddRubric(sr.Rubric)
		require.NoError(t, err)
		require.NoError(t, s.SetImportance(sr.Rubric.ID, sr.Importance))
	}

	meta := domain.ExportMetadata{Date: time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC), RepertoryName: "Kent"}
	text := s.ExportText(meta, 1)
	assert.Contains(t, text, "Remedies (1)\n  1. Y (Yname) score=10")
	assert.NotContains(t, text, "X (Xname)")

	wb, err := s.ExportWorkbook(meta, 0)
	require.NoError(t, err)
	defer wb.Close()
	v, err := wb.GetCellValue(chartSheet, "D1")
	require.NoError(t, err)
	assert.Equal(t, "X", v)

	dir, err := os.MkdirTemp("", "repsheet_session_export")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	path, err := s.SaveExport(context.Background(), NewFileExportSink(dir, s.logger), meta, 0)
	require.NoError(t, err)
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, s.ExportText(meta, 0), string(content))

	// failed export leaves the case untouched
	before := s.Aggregates()
	_, err = s.SaveExport(context.Background(), failingSink{}, meta, 0)
	assert.True(t, errors.Is(err, domain.ErrIO))
	assert.Equal(t, before, s.Aggregates())
	assert.Len(t, s.Rubrics(), 2)
}

func TestAnalysisSession_ConcurrentAccess(t *testing.T) {
	s := newTestSession(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := string(rune('a' + i))
			_, _ = s.AddRubric(rubric(id, "path", link("X", 1+i%5)))
			_ = s.Analysis(3)
		}(i)
	}
	wg.Wait()

	x := aggregateByKey(t, s.Aggregates(), "X")
	assert.Equal(t, 20, x.Occurrences)
	assert.Equal(t, 100, x.CoveragePercent)
}
