package collector

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/lensfeed/focus-collector/internal/focus"
)

// maxTermLength bounds individual include/exclude terms; longer entries are
// treated as configuration noise and skipped.
const maxTermLength = 128

// matcher evaluates sanitized text against the query's keyword sets. A
// candidate matches iff it contains at least one include term and no exclude
// term; exclude always wins.
type matcher struct {
	includes []string
	excludes []string
}

// buildMatcher folds all active keywords of a query into one term set,
// widening includes through the expander for keywords that opt in. Expansion
// is best-effort: a failed call degrades that keyword to its literal terms.
func buildMatcher(ctx context.Context, keywords []focus.Keyword, expander focus.Expander, logger *zap.Logger) *matcher {
	m := &matcher{}
	for _, kw := range keywords {
		if !kw.Active {
			continue
		}
		m.includes = appendTerms(m.includes, kw.IncludeTerms)
		m.includes = appendTerms(m.includes, kw.Synonyms)
		m.excludes = appendTerms(m.excludes, kw.ExcludeTerms)

		if kw.EnableAIExpand && expander != nil {
			seed := append(append([]string(nil), kw.IncludeTerms...), kw.Synonyms...)
			expanded, err := expander.Expand(ctx, seed, kw.Lang)
			if err != nil {
				logger.Warn("synonym expansion unavailable, using literal terms",
					zap.String("keyword", kw.Name),
					zap.Error(err),
				)
				continue
			}
			m.includes = appendTerms(m.includes, expanded)
		}
	}
	return m
}

func appendTerms(dst []string, terms []string) []string {
	for _, term := range terms {
		term = strings.ToLower(strings.TrimSpace(term))
		if term == "" || len(term) > maxTermLength {
			continue
		}
		dst = append(dst, term)
	}
	return dst
}

// Match returns the include terms found in text and whether the candidate
// is accepted.
func (m *matcher) Match(text string) ([]string, bool) {
	lower := strings.ToLower(text)
	for _, term := range m.excludes {
		if strings.Contains(lower, term) {
			return nil, false
		}
	}
	var matched []string
	for _, term := range m.includes {
		if strings.Contains(lower, term) {
			matched = append(matched, term)
		}
	}
	return matched, len(matched) > 0
}
