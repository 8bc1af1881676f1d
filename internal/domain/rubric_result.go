package domain

// RubricResult is one result row of the repertory search service.
type RubricResult struct {
	Rubric struct {
		ID       string `json:"id"`
		FullPath string `json:"fullPath"`
	} `json:"rubric"`
	WeightedRemedies []WeightedRemedyLink `json:"weightedRemedies"`
}

// ToRubric converts the wire shape into a validated Rubric.
func (r RubricResult) ToRubric() (Rubric, error) {
	links := make([]WeightedRemedyLink, len(r.WeightedRemedies))
	copy(links, r.WeightedRemedies)

	rubric := Rubric{
		ID:               r.Rubric.ID,
		FullPath:         r.Rubric.FullPath,
		WeightedRemedies: links,
	}
	if err := rubric.Validate(); err != nil {
		return Rubric{}, err
	}
	return rubric, nil
}

// NewRubricResult builds the wire shape of a rubric.
func NewRubricResult(r Rubric) RubricResult {
	var res RubricResult
	res.Rubric.ID = r.ID
	res.Rubric.FullPath = r.FullPath
	res.WeightedRemedies = r.WeightedRemedies
	return res
}
