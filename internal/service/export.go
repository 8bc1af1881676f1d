package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/repertory-sheet-server/internal/domain"
)

const exportDateLayout = "2006-01-02"

// SerializeCase renders a case and its ranked remedies as plain text. The output is a
// pure function of its arguments: the same inputs always produce the same bytes.
func SerializeCase(rubrics []domain.SelectedRubric, ranked []domain.RemedyAggregate, meta domain.ExportMetadata) string {
	var b strings.Builder

	b.WriteString("REPERTORY SHEET\n")
	if meta.Date.IsZero() {
		b.WriteString("Date: -\n")
	} else {
		fmt.Fprintf(&b, "Date: %s\n", meta.Date.UTC().Format(exportDateLayout))
	}
	repertory := strings.TrimSpace(meta.RepertoryName)
	if repertory == "" {
		repertory = "-"
	}
	fmt.Fprintf(&b, "Repertory: %s\n", repertory)

	fmt.Fprintf(&b, "\nSelected rubrics (%d)\n", len(rubrics))
	if len(rubrics) == 0 {
		b.WriteString("  (none)\n")
	}
	for i, sr := range rubrics {
		path := sr.Rubric.FullPath
		if path == "" {
			path = sr.Rubric.ID
		}
		fmt.Fprintf(&b, "  %d. %s [x%d]\n", i+1, path, sr.Importance)
	}

	fmt.Fprintf(&b, "\nRemedies (%d)\n", len(ranked))
	if len(ranked) == 0 {
		b.WriteString("  (none)\n")
	}
	for i, agg := range ranked {
		fmt.Fprintf(&b, "  %d. %s score=%d rubrics=%d coverage=%d%% [%s]\n",
			i+1, remedyLabel(agg), agg.TotalScore, agg.Occurrences, agg.CoveragePercent,
			BandForCoverage(agg.CoveragePercent))
	}

	return b.String()
}

// remedyLabel prints "Abbrev (Long name)", falling back to whichever name exists.
func remedyLabel(agg domain.RemedyAggregate) string {
	r := agg.Remedy
	switch {
	case r.Abbrev != "" && r.LongName != "":
		return fmt.Sprintf("%s (%s)", r.Abbrev, r.LongName)
	case r.Abbrev != "":
		return r.Abbrev
	case r.LongName != "":
		return r.LongName
	default:
		return agg.Key
	}
}

// WriteExport hands rendered text to a sink and returns the location it reports.
// Sink failures are returned as domain.ErrIO.
func WriteExport(ctx context.Context, sink domain.ExportSink, name, text string) (string, error) {
	if sink == nil {
		return "", fmt.Errorf("%w: no export sink configured", domain.ErrIO)
	}
	location, err := sink.Write(ctx, name, []byte(text))
	if err != nil {
		return "", wrapIO(err)
	}
	return location, nil
}

// ExportFileName derives a stable file name for a session export.
func ExportFileName(sessionID string, meta domain.ExportMetadata, ext string) string {
	date := "undated"
	if !meta.Date.IsZero() {
		date = meta.Date.UTC().Format(exportDateLayout)
	}
	return fmt.Sprintf("repertory-sheet-%s-%s.%s", date, sessionID, ext)
}
