package scrape

import "strings"

// Classifier decides a case's terminal status from the rendered page
// content. The marker strings are configuration: the site's wording has
// changed before and will again.
type Classifier struct {
	restricted  []string
	unavailable []string
}

// NewClassifier builds a classifier from restriction and unavailability
// marker sets.
func NewClassifier(restricted, unavailable []string) Classifier {
	return Classifier{restricted: restricted, unavailable: unavailable}
}

// Classify returns the status a page's content implies, plus the marker
// that matched. Content with no marker classifies as normal.
func (c Classifier) Classify(content string) (CaseStatus, string) {
	for _, marker := range c.restricted {
		if marker != "" && strings.Contains(content, marker) {
			return CaseStatusRestricted, marker
		}
	}
	for _, marker := range c.unavailable {
		if marker != "" && strings.Contains(content, marker) {
			return CaseStatusUnavailable, marker
		}
	}
	return CaseStatusNormal, ""
}
