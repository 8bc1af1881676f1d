package service

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/repertory-sheet-server/internal/domain"
)

// placeholderPrefix marks keys synthesized for remedies without an abbreviation.
const placeholderPrefix = domain.UnnamedKeyPrefix

// ComputeAggregates folds the selected rubrics of a case into per-remedy statistics.
//
// For every remedy key m:
//
//	TotalScore      = sum of weight(m,r) * importance(r)
//	Occurrences     = number of rubrics containing m
//	MaxWeight       = max weight(m,r)
//	CoveragePercent = round(Occurrences / len(rubrics) * 100)
//
// The result depends only on the content of the rubric set and is sorted by key.
// A rubric listing the same remedy twice contributes once, at the higher weight.
func ComputeAggregates(rubrics []domain.SelectedRubric) []domain.RemedyAggregate {
	if len(rubrics) == 0 {
		return []domain.RemedyAggregate{}
	}

	acc := make(map[string]*domain.RemedyAggregate)
	for _, selected := range rubrics {
		for key, link := range rubricLinks(selected.Rubric) {
			agg, exists := acc[key]
			if !exists {
				agg = &domain.RemedyAggregate{Key: key, Remedy: link.Remedy}
				acc[key] = agg
			} else {
				agg.Remedy = preferRemedy(agg.Remedy, link.Remedy)
			}

			agg.TotalScore += link.Weight * selected.Importance
			agg.Occurrences++
			if link.Weight > agg.MaxWeight {
				agg.MaxWeight = link.Weight
			}
		}
	}

	out := make([]domain.RemedyAggregate, 0, len(acc))
	for _, agg := range acc {
		agg.CoveragePercent = coveragePercent(agg.Occurrences, len(rubrics))
		out = append(out, *agg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })

	return out
}

// rubricLinks returns the links of one rubric keyed by remedy identity.
func rubricLinks(r domain.Rubric) map[string]domain.WeightedRemedyLink {
	links := make(map[string]domain.WeightedRemedyLink, len(r.WeightedRemedies))
	for i, link := range r.WeightedRemedies {
		key := RemedyKey(r.ID, i, link.Remedy)
		if existing, dup := links[key]; dup && existing.Weight >= link.Weight {
			continue
		}
		links[key] = link
	}
	return links
}

// RemedyKey returns the aggregation key of a remedy. The abbreviation is the identity;
// remedies without one get a placeholder that never merges distinct remedies: the
// collaborator id when present, else the long name, else the link position.
func RemedyKey(rubricID string, position int, remedy domain.Remedy) string {
	if key := remedy.IdentityKey(); key != "" {
		return key
	}
	return fmt.Sprintf("%slink:%s#%d", placeholderPrefix, rubricID, position)
}

// IsPlaceholderKey reports whether key was synthesized by RemedyKey.
func IsPlaceholderKey(key string) bool {
	return strings.HasPrefix(key, placeholderPrefix)
}

// preferRemedy picks the display remedy independently of rubric order. Remedies sharing
// a key are ordered by long name (named first), then id (present first), then abbreviation.
func preferRemedy(a, b domain.Remedy) domain.Remedy {
	if remedyLess(b, a) {
		return b
	}
	return a
}

func remedyLess(a, b domain.Remedy) bool {
	if a.LongName != b.LongName {
		if a.LongName == "" || b.LongName == "" {
			return b.LongName == ""
		}
		return a.LongName < b.LongName
	}
	if a.ID != b.ID {
		if a.ID == "" || b.ID == "" {
			return b.ID == ""
		}
		return a.ID < b.ID
	}
	return a.Abbrev < b.Abbrev
}

func coveragePercent(occurrences, rubricCount int) int {
	if rubricCount == 0 {
		return 0
	}
	return int(math.Round(float64(occurrences) / float64(rubricCount) * 100))
}
