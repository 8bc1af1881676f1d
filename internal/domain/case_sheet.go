package domain

import "fmt"

// Case is the clinician's working set of selected rubrics for one consultation.
// Insertion order is kept for display; scoring does not depend on it.
//
// A Case is owned by a single actor and is not safe for concurrent use.
type Case struct {
	entries []SelectedRubric
	index   map[string]int
}

// NewCase returns an empty case sheet.
func NewCase() *Case {
	return &Case{index: make(map[string]int)}
}

// AddRubric selects a rubric with the default importance. If the rubric id is already
// on the sheet the call does nothing and the existing importance is kept.
func (c *Case) AddRubric(r Rubric) bool {
	if _, exists := c.index[r.ID]; exists {
		return false
	}
	c.index[r.ID] = len(c.entries)
	c.entries = append(c.entries, SelectedRubric{Rubric: r, Importance: DefaultImportance})
	return true
}

// RemoveRubric drops a rubric from the sheet. Removing an absent id is not an error.
func (c *Case) RemoveRubric(rubricID string) bool {
	pos, exists := c.index[rubricID]
	if !exists {
		return false
	}
	c.entries = append(c.entries[:pos], c.entries[pos+1:]...)
	delete(c.index, rubricID)
	for i := pos; i < len(c.entries); i++ {
		c.index[c.entries[i].Rubric.ID] = i
	}
	return true
}

// SetImportance changes the multiplier of a selected rubric. Values outside
// MinImportance..MaxImportance are rejected and leave the sheet unchanged.
func (c *Case) SetImportance(rubricID string, value int) error {
	if !ValidImportance(value) {
		return NewValidationError(
			"importance",
			fmt.Sprintf("importance must be between %d and %d", MinImportance, MaxImportance),
			value,
		)
	}
	pos, exists := c.index[rubricID]
	if !exists {
		return NewValidationError("rubric_id", "rubric is not on the case sheet", rubricID)
	}
	c.entries[pos].Importance = value
	return nil
}

// Clear empties the sheet.
func (c *Case) Clear() {
	c.entries = nil
	c.index = make(map[string]int)
}

// Len returns the number of selected rubrics.
func (c *Case) Len() int {
	return len(c.entries)
}

// Get returns the selected rubric with the given id.
func (c *Case) Get(rubricID string) (SelectedRubric, bool) {
	pos, exists := c.index[rubricID]
	if !exists {
		return SelectedRubric{}, false
	}
	return c.entries[pos], true
}

// Rubrics returns a copy of the selected rubrics in insertion order.
func (c *Case) Rubrics() []SelectedRubric {
	out := make([]SelectedRubric, len(c.entries))
	copy(out, c.entries)
	return out
}
