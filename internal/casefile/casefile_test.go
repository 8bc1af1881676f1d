package casefile

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/repertory-sheet-server/internal/domain"
	"github.com/repertory-sheet-server/internal/service"
)

const workedCase = `{
  "repertory": "Kent",
  "date": "2026-10-18",
  "rubrics": [
    {
      "rubric": {"id": "r1", "fullPath": "Mind > Anxiety"},
      "weightedRemedies": [
        {"remedy": {"nameAbbrev": "X"}, "weight": 3},
        {"remedy": {"nameAbbrev": "Y"}, "weight": 2}
      ]
    },
    {
      "rubric": {"id": "r2", "fullPath": "Generalities > Cold"},
      "weightedRemedies": [
        {"remedy": {"nameAbbrev": "X"}, "weight": 1},
        {"remedy": {"nameAbbrev": "Y"}, "weight": 4}
      ],
      "importance": 2
    }
  ]
}`

func newSession() *service.AnalysisSession {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return service.NewAnalysisSession("offline", logger)
}

func TestLoadAndApply(t *testing.T) {
	f, err := Load(strings.NewReader(workedCase))
	require.NoError(t, err)
	require.Len(t, f.Rubrics, 2)
	assert.Equal(t, "r2", f.Rubrics[1].Rubric.ID)
	assert.Equal(t, 2, f.Rubrics[1].Importance)

	session := newSession()
	require.NoError(t, f.Apply(session))

	analysis := session.Analysis(0)
	require.Len(t, analysis.Ranked, 2)
	assert.Equal(t, "Y", analysis.Ranked[0].Key)
	assert.Equal(t, 10, analysis.Ranked[0].TotalScore)
	assert.Equal(t, "X", analysis.Ranked[1].Key)
	assert.Equal(t, 5, analysis.Ranked[1].TotalScore)
}

func TestApply_RepeatedRubricKeepsFirst(t *testing.T) {
	input := `{"rubrics": [
		{"rubric": {"id": "r1", "fullPath": "Mind > Anxiety"},
		 "weightedRemedies": [{"remedy": {"nameAbbrev": "X"}, "weight": 3}], "importance": 1},
		{"rubric": {"id": "r1", "fullPath": "Mind > Anxiety"},
		 "weightedRemedies": [{"remedy": {"nameAbbrev": "X"}, "weight": 5}], "importance": 3}
	]}`
	f, err := Load(strings.NewReader(input))
	require.NoError(t, err)

	session := newSession()
	require.NoError(t, f.Apply(session))

	rubrics := session.Rubrics()
	require.Len(t, rubrics, 1)
	assert.Equal(t, 1, rubrics[0].Importance)
	assert.Equal(t, 3, rubrics[0].Rubric.WeightedRemedies[0].Weight)

	analysis := session.Analysis(0)
	require.Len(t, analysis.Ranked, 1)
	assert.Equal(t, 3, analysis.Ranked[0].TotalScore)
}

func TestLoad_Rejects(t *testing.T) {
	_, err := Load(strings.NewReader(`{"rubrics": [], "patient": "x"}`))
	assert.True(t, errors.Is(err, domain.ErrInvalidArgument))

	_, err = Load(strings.NewReader(`{"rubrics": [`))
	assert.True(t, errors.Is(err, domain.ErrInvalidArgument))
}

func TestApply_InvalidEntries(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr string
	}{
		{
			name:    "weight out of range",
			input:   `{"rubrics": [{"rubric": {"id": "r1"}, "weightedRemedies": [{"remedy": {"nameAbbrev": "X"}, "weight": 7}]}]}`,
			wantErr: "rubrics[0]",
		},
		{
			name:    "missing id",
			input:   `{"rubrics": [{"rubric": {"id": "r1"}}, {"rubric": {"fullPath": "Mind"}}]}`,
			wantErr: "rubrics[1]",
		},
		{
			name:    "importance out of range",
			input:   `{"rubrics": [{"rubric": {"id": "r1"}, "importance": 5}]}`,
			wantErr: "rubrics[0]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := Load(strings.NewReader(tt.input))
			require.NoError(t, err)

			err = f.Apply(newSession())
			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrInvalidArgument))
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestMetadata(t *testing.T) {
	f := &File{Repertory: "Kent", Date: "2026-10-18"}

	meta, err := f.Metadata("", "")
	require.NoError(t, err)
	assert.Equal(t, "Kent", meta.RepertoryName)
	assert.Equal(t, time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC), meta.Date)

	meta, err = f.Metadata("Synthesis", "2026-01-02")
	require.NoError(t, err)
	assert.Equal(t, "Synthesis", meta.RepertoryName)
	assert.Equal(t, 2026, meta.Date.Year())
	assert.Equal(t, time.January, meta.Date.Month())

	_, err = f.Metadata("", "02/01/2026")
	assert.True(t, errors.Is(err, domain.ErrInvalidArgument))

	meta, err = (&File{}).Metadata("", "")
	require.NoError(t, err)
	assert.True(t, meta.Date.IsZero())
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "case.json")
	require.NoError(t, os.WriteFile(path, []byte(workedCase), 0o644))

	f, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "Kent", f.Repertory)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
