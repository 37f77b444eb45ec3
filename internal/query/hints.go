package query

import (
	"fmt"
	"strings"

	prose "github.com/jdkato/prose/v2"

	"github.com/excelgpt/backend/internal/analysis"
	"github.com/excelgpt/backend/internal/dataset"
)

// ExtractHints matches the question against the dataset vocabulary and
// returns "Column: Value" hints for the prompt. Plain single-word values are
// matched against the tokenized question; anything with spaces or punctuation
// (brand names, "H1'25" period labels) is matched as a substring. Hints
// narrow the model's search but never constrain the spec it may produce.
func ExtractHints(queryText string, snap *dataset.Snapshot) []string {
	lowerQuery := strings.ToLower(queryText)
	tokens := tokenSet(queryText)

	var hints []string
	add := func(column, value string) {
		hints = append(hints, fmt.Sprintf("%s: %s", column, value))
	}

	match := func(column string, values []string) {
		for _, v := range values {
			lv := strings.ToLower(v)
			if isPlainWord(lv) {
				// Exact token match so "Total" doesn't fire on "totally".
				if tokens[lv] {
					add(column, v)
				}
			} else if strings.Contains(lowerQuery, lv) {
				add(column, v)
			}
		}
	}

	match(analysis.ColBrand, snap.Brands())
	match(analysis.ColKPI, snap.KPIs())
	match(analysis.ColDatacut, snap.Datacuts())
	match(analysis.ColContext, snap.Contexts())
	match(analysis.ColTimePeriod, snap.TimePeriods())

	return hints
}

func isPlainWord(s string) bool {
	for _, r := range s {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return false
		}
	}
	return s != ""
}

// tokenSet tokenizes the question. The tagger handles punctuation and
// contractions better than a whitespace split; if it fails the fallback is
// fields.
func tokenSet(queryText string) map[string]bool {
	tokens := make(map[string]bool)

	doc, err := prose.NewDocument(queryText,
		prose.WithExtraction(false),
		prose.WithTagging(false),
	)
	if err != nil {
		for _, f := range strings.Fields(queryText) {
			tokens[strings.ToLower(strings.Trim(f, ".,?!\"'"))] = true
		}
		return tokens
	}

	for _, tok := range doc.Tokens() {
		tokens[strings.ToLower(tok.Text)] = true
	}
	return tokens
}
