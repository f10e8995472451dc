package extraction

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"carepipe/pkg/models"
)

// Summarizer condenses matched evidence into a short narrative for care coordinators.
type Summarizer interface {
	Summarize(ctx context.Context, source string, matches []models.EvidenceMatch) (string, error)
}

// TemplateSummarizer produces a fixed-format summary and never fails.
type TemplateSummarizer struct{}

func (TemplateSummarizer) Summarize(ctx context.Context, source string, matches []models.EvidenceMatch) (string, error) {
	if len(matches) == 0 {
		return fmt.Sprintf("No screening evidence found in %s content.", source), nil
	}

	terms := make(map[string]map[string]bool)
	for _, m := range matches {
		if terms[m.Measure] == nil {
			terms[m.Measure] = make(map[string]bool)
		}
		terms[m.Measure][m.Term] = true
	}

	measures := make([]string, 0, len(terms))
	for measure := range terms {
		measures = append(measures, measure)
	}
	sort.Strings(measures)

	parts := make([]string, 0, len(measures))
	for _, measure := range measures {
		list := make([]string, 0, len(terms[measure]))
		for term := range terms[measure] {
			list = append(list, term)
		}
		sort.Strings(list)
		parts = append(parts, fmt.Sprintf("%s (%s)", measure, strings.Join(list, ", ")))
	}

	return fmt.Sprintf("%d evidence match(es) in %s content: %s.", len(matches), source, strings.Join(parts, "; ")), nil
}
