package extraction

import (
	"regexp"
	"sort"
	"strings"

	"carepipe/internal/constants"
	"carepipe/pkg/models"
)

const (
	MatchKindKeyword = "keyword"
	MatchKindCode    = "code"
)

// DefaultKeywords are the screening terms per measure.
func DefaultKeywords() map[string][]string {
	return map[string][]string{
		constants.MeasureCCS: {"pap", "pap smear", "papsmear", "cytology", "hpv", "hrhpv", "cervical cancer", "hysterectomy"},
		constants.MeasureCOL: {"colonoscopy", "colon cancer", "colorectal", "sigmoidoscopy", "fit test", "cologuard", "fobt"},
		constants.MeasureWCV: {"well child", "well-child", "well visit", "wellness visit"},
	}
}

// DefaultCodes are the SNOMED CT and LOINC codes accepted as coded evidence.
func DefaultCodes() map[string][]string {
	return map[string][]string{
		constants.MeasureCCS: {"169550002", "439958008", "86662002", "440623000", "243877001", "33717-0", "10524-7", "19765-7"},
		constants.MeasureCOL: {"73761001", "174158000", "396226005", "27925-7", "27926-5", "58453-2"},
		constants.MeasureWCV: {"410620009", "390906007", "185349003"},
	}
}

type measurePattern struct {
	measure string
	re      *regexp.Regexp
}

// Matcher finds measure evidence in free text and in coded values. It is immutable after
// construction and safe for concurrent use.
type Matcher struct {
	patterns []measurePattern
	codes    map[string]string
}

// NewMatcher merges extra keywords into the defaults. Measure codes are upper-cased.
func NewMatcher(extra map[string][]string) *Matcher {
	keywords := DefaultKeywords()
	for measure, terms := range extra {
		measure = strings.ToUpper(strings.TrimSpace(measure))
		keywords[measure] = append(keywords[measure], terms...)
	}

	measures := make([]string, 0, len(keywords))
	for measure := range keywords {
		measures = append(measures, measure)
	}
	sort.Strings(measures)

	m := &Matcher{codes: make(map[string]string)}
	for _, measure := range measures {
		if re := compileTerms(keywords[measure]); re != nil {
			m.patterns = append(m.patterns, measurePattern{measure: measure, re: re})
		}
	}

	for measure, codes := range DefaultCodes() {
		for _, code := range codes {
			m.codes[code] = measure
		}
	}

	return m
}

// compileTerms builds one case-insensitive, word-bounded alternation with the longest terms first
// so "pap smear" wins over "pap".
func compileTerms(terms []string) *regexp.Regexp {
	seen := make(map[string]bool, len(terms))
	quoted := make([]string, 0, len(terms))
	for _, term := range terms {
		term = strings.ToLower(strings.TrimSpace(term))
		if term == "" || seen[term] {
			continue
		}
		seen[term] = true
		quoted = append(quoted, term)
	}
	if len(quoted) == 0 {
		return nil
	}

	sort.Slice(quoted, func(i, j int) bool {
		if len(quoted[i]) != len(quoted[j]) {
			return len(quoted[i]) > len(quoted[j])
		}
		return quoted[i] < quoted[j]
	})
	for i, term := range quoted {
		quoted[i] = regexp.QuoteMeta(term)
	}

	return regexp.MustCompile(`(?i)\b(?:` + strings.Join(quoted, "|") + `)\b`)
}

// MatchText scans text line by line. Each measure matches at most once per line; the following
// line is kept as context.
func (m *Matcher) MatchText(text string) []models.EvidenceMatch {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")

	var matches []models.EvidenceMatch
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}

		context := ""
		if i+1 < len(lines) {
			context = strings.TrimSpace(lines[i+1])
		}

		for _, p := range m.patterns {
			term := p.re.FindString(trimmed)
			if term == "" {
				continue
			}
			matches = append(matches, models.EvidenceMatch{
				Measure: p.measure,
				Term:    strings.ToLower(term),
				Kind:    MatchKindKeyword,
				Line:    i + 1,
				Text:    trimmed,
				Context: context,
			})
		}
	}

	return matches
}

// MatchCode reports coded evidence for a single terminology code.
func (m *Matcher) MatchCode(code, display string) (models.EvidenceMatch, bool) {
	measure, ok := m.codes[strings.TrimSpace(code)]
	if !ok {
		return models.EvidenceMatch{}, false
	}
	return models.EvidenceMatch{
		Measure: measure,
		Term:    code,
		Kind:    MatchKindCode,
		Text:    display,
	}, true
}

// Measures lists the measure of each match in order.
func Measures(matches []models.EvidenceMatch) []string {
	out := make([]string, 0, len(matches))
	for _, match := range matches {
		out = append(out, match.Measure)
	}
	return out
}
