package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/repertory-sheet-server/internal/domain"
)

func goldenCase() ([]domain.SelectedRubric, []domain.RemedyAggregate) {
	rubrics := []domain.SelectedRubric{
		selected(rubric("r1", "Mind > Anxiety > evening", link("X", 1), link("Y", 4)), 1),
		selected(rubric("r2", "Generalities > Cold > agg.", link("X", 2), link("Y", 3)), 2),
	}
	return rubrics, Rank(ComputeAggregates(rubrics))
}

func TestSerializeCase_Golden(t *testing.T) {
	rubrics, ranked := goldenCase()
	meta := domain.ExportMetadata{
		Date:          time.Date(2026, 10, 18, 23, 30, 0, 0, time.UTC),
		RepertoryName: "Kent",
	}

	expected := "REPERTORY SHEET\n" +
		"Date: 2026-10-18\n" +
		"Repertory: Kent\n" +
		"\n" +
		"Selected rubrics (2)\n" +
		"  1. Mind > Anxiety > evening [x1]\n" +
		"  2. Generalities > Cold > agg. [x2]\n" +
		"\n" +
		"Remedies (2)\n" +
		"  1. Y (Yname) score=10 rubrics=2 coverage=100% [very-high]\n" +
		"  2. X (Xname) score=5 rubrics=2 coverage=100% [very-high]\n"

	assert.Equal(t, expected, SerializeCase(rubrics, ranked, meta))
}

func TestSerializeCase_Empty(t *testing.T) {
	expected := "REPERTORY SHEET\n" +
		"Date: -\n" +
		"Repertory: -\n" +
		"\n" +
		"Selected rubrics (0)\n" +
		"  (none)\n" +
		"\n" +
		"Remedies (0)\n" +
		"  (none)\n"

	assert.Equal(t, expected, SerializeCase(nil, nil, domain.ExportMetadata{}))
}

func TestSerializeCase_Deterministic(t *testing.T) {
	rubrics, ranked := goldenCase()
	meta := domain.ExportMetadata{Date: time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC), RepertoryName: "Synthesis"}

	first := SerializeCase(rubrics, ranked, meta)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, SerializeCase(rubrics, ranked, meta))
	}
}

func TestSerializeCase_DateInUTC(t *testing.T) {
	zone := time.FixedZone("UTC+10", 10*60*60)
	meta := domain.ExportMetadata{Date: time.Date(2026, 10, 19, 5, 0, 0, 0, zone)}

	out := SerializeCase(nil, nil, meta)
	assert.Contains(t, out, "Date: 2026-10-18\n")
}

func TestSerializeCase_RemedyLabels(t *testing.T) {
	ranked := []domain.RemedyAggregate{
		{Key: "Lyc.", Remedy: domain.Remedy{Abbrev: "Lyc."}, TotalScore: 3, Occurrences: 1, CoveragePercent: 50},
		{Key: "~unnamed:name:Natrum muriaticum", Remedy: domain.Remedy{LongName: "Natrum muriaticum"}, TotalScore: 2, Occurrences: 1, CoveragePercent: 50},
		{Key: "~unnamed:link:r1#0", TotalScore: 1, Occurrences: 1, CoveragePercent: 10},
	}

	out := SerializeCase(nil, ranked, domain.ExportMetadata{})
	assert.Contains(t, out, "  1. Lyc. score=3 rubrics=1 coverage=50% [moderate]\n")
	assert.Contains(t, out, "  2. Natrum muriaticum score=2 rubrics=1 coverage=50% [moderate]\n")
	assert.Contains(t, out, "  3. ~unnamed:link:r1#0 score=1 rubrics=1 coverage=10% [minimal]\n")
}

type failingSink struct{}

func (failingSink) Write(context.Context, string, []byte) (string, error) {
	return "", errors.New("disk full")
}

func TestWriteExport(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)

	t.Run("writes file", func(t *testing.T) {
		dir, err := os.MkdirTemp("", "repsheet_export_test")
		require.NoError(t, err)
		defer os.RemoveAll(dir)

		sink := NewFileExportSink(filepath.Join(dir, "exports"), logger)
		path, err := WriteExport(context.Background(), sink, "case.txt", "REPERTORY SHEET\n")
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(dir, "exports", "case.txt"), path)

		content, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "REPERTORY SHEET\n", string(content))
	})

	t.Run("sink failure is ErrIO", func(t *testing.T) {
		_, err := WriteExport(context.Background(), failingSink{}, "case.txt", "x")
		require.Error(t, err)
		assert.True(t, errors.Is(err, domain.ErrIO))
		assert.Equal(t, domain.ErrCodeIO, domain.ErrorCode(err))
	})

	t.Run("nil sink", func(t *testing.T) {
		_, err := WriteExport(context.Background(), nil, "case.txt", "x")
		assert.True(t, errors.Is(err, domain.ErrIO))
	})

	t.Run("rejects path traversal", func(t *testing.T) {
		sink := NewFileExportSink(os.TempDir(), logger)
		_, err := sink.Write(context.Background(), "../escape.txt", []byte("x"))
		assert.True(t, errors.Is(err, domain.ErrIO))
	})

	t.Run("unwritable directory", func(t *testing.T) {
		dir, err := os.MkdirTemp("", "repsheet_export_test")
		require.NoError(t, err)
		defer os.RemoveAll(dir)

		blocker := filepath.Join(dir, "file")
		require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

		sink := NewFileExportSink(filepath.Join(blocker, "sub"), logger)
		_, err = sink.Write(context.Background(), "case.txt", []byte("x"))
		assert.True(t, errors.Is(err, domain.ErrIO))
	})
}

func TestExportFileName(t *testing.T) {
	meta := domain.ExportMetadata{Date: time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC)}
	assert.Equal(t, "repertory-sheet-2026-10-18-abc.txt", ExportFileName("abc", meta, "txt"))
	assert.Equal(t, "repertory-sheet-undated-abc.xlsx", ExportFileName("abc", domain.ExportMetadata{}, "xlsx"))
}
