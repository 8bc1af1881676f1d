package service

import (
	"sort"

	"github.com/repertory-sheet-server/internal/domain"
)

// Rank orders aggregates for differential selection: most rubrics covered first,
// then highest total score, then remedy key ascending. The input is not modified.
func Rank(aggregates []domain.RemedyAggregate) []domain.RemedyAggregate {
	ranked := make([]domain.RemedyAggregate, len(aggregates))
	copy(ranked, aggregates)

	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.Occurrences != b.Occurrences {
			return a.Occurrences > b.Occurrences
		}
		if a.TotalScore != b.TotalScore {
			return a.TotalScore > b.TotalScore
		}
		return a.Key < b.Key
	})

	return ranked
}

// TopN returns the first n remedies of the ranking.
func TopN(aggregates []domain.RemedyAggregate, n int) []domain.RemedyAggregate {
	if n <= 0 {
		return []domain.RemedyAggregate{}
	}
	ranked := Rank(aggregates)
	if n >= len(ranked) {
		return ranked
	}
	return ranked[:n]
}

// BandForCoverage maps a coverage percentage to its display band.
func BandForCoverage(pct int) domain.Band {
	switch {
	case pct >= 80:
		return domain.BandVeryHigh
	case pct >= 60:
		return domain.BandHigh
	case pct >= 40:
		return domain.BandModerate
	case pct >= 20:
		return domain.BandLow
	default:
		return domain.BandMinimal
	}
}
