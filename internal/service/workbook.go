package service

import (
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/repertory-sheet-server/internal/domain"
)

const (
	chartSheet   = "Repertorisation"
	summarySheet = "Summary"
	// rubric rows start below the header row
	firstRubricRow = 2
	// remedy columns start after rubric and importance columns
	firstRemedyCol = 3
)

// BuildWorkbook renders the repertorisation chart: one row per rubric, one column per
// ranked remedy, cells holding the remedy's weight in that rubric. Totals rows for score
// and rubric count follow the rubric rows. The caller owns the returned file and must Close it.
func BuildWorkbook(rubrics []domain.SelectedRubric, ranked []domain.RemedyAggregate, meta domain.ExportMetadata) (*excelize.File, error) {
	f := excelize.NewFile()

	if err := f.SetSheetName("Sheet1", chartSheet); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to name chart sheet: %w", err)
	}

	if err := writeChart(f, rubrics, ranked); err != nil {
		_ = f.Close()
		return nil, err
	}
	if err := writeSummary(f, rubrics, ranked, meta); err != nil {
		_ = f.Close()
		return nil, err
	}

	return f, nil
}

func writeChart(f *excelize.File, rubrics []domain.SelectedRubric, ranked []domain.RemedyAggregate) error {
	header := []interface{}{"Rubric", "Importance"}
	for _, agg := range ranked {
		header = append(header, chartLabel(agg))
	}
	if err := setRow(f, chartSheet, 1, header); err != nil {
		return err
	}

	for i, sr := range rubrics {
		weights := rubricWeights(sr.Rubric)
		row := []interface{}{sr.Rubric.FullPath, sr.Importance}
		for _, agg := range ranked {
			if w, ok := weights[agg.Key]; ok {
				row = append(row, w)
			} else {
				row = append(row, nil)
			}
		}
		if err := setRow(f, chartSheet, firstRubricRow+i, row); err != nil {
			return err
		}
	}

	scoreRow := firstRubricRow + len(rubrics)
	scores := []interface{}{"Total score", nil}
	counts := []interface{}{"Rubrics covered", nil}
	for _, agg := range ranked {
		scores = append(scores, agg.TotalScore)
		counts = append(counts, agg.Occurrences)
	}
	if err := setRow(f, chartSheet, scoreRow, scores); err != nil {
		return err
	}
	if err := setRow(f, chartSheet, scoreRow+1, counts); err != nil {
		return err
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}
	lastCol := firstRemedyCol + len(ranked) - 1
	if lastCol < 2 {
		lastCol = 2
	}
	end, err := excelize.CoordinatesToCellName(lastCol, 1)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(chartSheet, "A1", end, bold); err != nil {
		return fmt.Errorf("failed to style header: %w", err)
	}
	if err := f.SetColWidth(chartSheet, "A", "A", 48); err != nil {
		return fmt.Errorf("failed to size rubric column: %w", err)
	}

	return nil
}

func writeSummary(f *excelize.File, rubrics []domain.SelectedRubric, ranked []domain.RemedyAggregate, meta domain.ExportMetadata) error {
	if _, err := f.NewSheet(summarySheet); err != nil {
		return fmt.Errorf("failed to create summary sheet: %w", err)
	}

	date := "-"
	if !meta.Date.IsZero() {
		date = meta.Date.UTC().Format(exportDateLayout)
	}
	repertory := meta.RepertoryName
	if repertory == "" {
		repertory = "-"
	}

	rows := [][]interface{}{
		{"Date", date},
		{"Repertory", repertory},
		{"Rubrics", len(rubrics)},
		{"Remedies", len(ranked)},
		{},
		{"Rank", "Remedy", "Score", "Rubrics", "Coverage %", "Band"},
	}
	for i, agg := range ranked {
		rows = append(rows, []interface{}{
			i + 1, chartLabel(agg), agg.TotalScore, agg.Occurrences, agg.CoveragePercent,
			BandForCoverage(agg.CoveragePercent).String(),
		})
	}

	for i, row := range rows {
		if err := setRow(f, summarySheet, i+1, row); err != nil {
			return err
		}
	}
	return nil
}

func setRow(f *excelize.File, sheet string, row int, values []interface{}) error {
	for c, v := range values {
		if v == nil {
			continue
		}
		cell, err := excelize.CoordinatesToCellName(c+1, row)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cell, v); err != nil {
			return fmt.Errorf("failed to write cell %s!%s: %w", sheet, cell, err)
		}
	}
	return nil
}

// rubricWeights maps remedy keys to their weight in one rubric, using the same
// identity and duplicate handling as the scoring engine.
func rubricWeights(r domain.Rubric) map[string]int {
	links := rubricLinks(r)
	weights := make(map[string]int, len(links))
	for key, link := range links {
		weights[key] = link.Weight
	}
	return weights
}

func chartLabel(agg domain.RemedyAggregate) string {
	if agg.Remedy.Abbrev != "" {
		return agg.Remedy.Abbrev
	}
	if agg.Remedy.LongName != "" {
		return agg.Remedy.LongName
	}
	return agg.Key
}
