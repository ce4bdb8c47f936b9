// Package tagger assigns domain tags to document chunks by whole-word
// keyword matching.
package tagger

import (
	"regexp"
	"sort"
	"strings"
	"sync"
)

// Rule maps a tag to the keywords or phrases that trigger it. Matching is
// whole-word and case-insensitive; a tag fires at most once per chunk.
type Rule struct {
	Tag      string
	Keywords []string
}

// EB1ARules covers the EB-1A extraordinary-ability criteria, the built-in
// category set for immigration-case ingestion.
func EB1ARules() []Rule {
	return []Rule{
		{Tag: "eb1a_awards", Keywords: []string{
			"nobel prize", "pulitzer", "olympic medal", "academy award",
			"national award", "international award", "prize", "award", "medal",
		}},
		{Tag: "eb1a_membership", Keywords: []string{
			"membership", "member of", "fellow of", "elected member",
			"professional association", "society",
		}},
		{Tag: "eb1a_press", Keywords: []string{
			"published material about", "media coverage", "press coverage",
			"featured in", "interviewed by", "news article",
		}},
		{Tag: "eb1a_judging", Keywords: []string{
			"judge of", "judging", "peer review", "peer reviewer",
			"review panel", "editorial board", "referee",
		}},
		{Tag: "eb1a_original_contribution", Keywords: []string{
			"original contribution", "original contributions", "major significance",
			"patent", "patented", "innovation", "breakthrough",
		}},
		{Tag: "eb1a_scholarly", Keywords: []string{
			"scholarly article", "scholarly articles", "publication",
			"published", "journal", "citation", "citations", "h-index",
		}},
		{Tag: "eb1a_exhibitions", Keywords: []string{
			"exhibition", "exhibitions", "showcase", "artistic display", "gallery",
		}},
		{Tag: "eb1a_leading_role", Keywords: []string{
			"leading role", "critical role", "key role", "founder",
			"chief", "director", "distinguished organization",
		}},
		{Tag: "eb1a_high_salary", Keywords: []string{
			"high salary", "high remuneration", "highly compensated",
			"top percentile salary",
		}},
		{Tag: "eb1a_commercial_success", Keywords: []string{
			"commercial success", "box office", "record sales", "bestseller",
		}},
	}
}

// Tagger matches chunk text against a rule set.
type Tagger struct {
	rules    []Rule
	patterns []*regexp.Regexp
	once     sync.Once
}

// New creates a tagger. A nil rule set uses EB1ARules.
func New(rules []Rule) *Tagger {
	if rules == nil {
		rules = EB1ARules()
	}
	return &Tagger{rules: rules}
}

// compile builds one alternation pattern per rule, wrapped in word
// boundaries so "award" does not match "awardee".
func (t *Tagger) compile() {
	t.patterns = make([]*regexp.Regexp, len(t.rules))
	for i, rule := range t.rules {
		escaped := make([]string, len(rule.Keywords))
		for j, kw := range rule.Keywords {
			escaped[j] = regexp.QuoteMeta(strings.ToLower(kw))
		}
		t.patterns[i] = regexp.MustCompile(`\b(?:` + strings.Join(escaped, "|") + `)\b`)
	}
}

// Tag returns the tags whose keywords appear in text, in rule order. Each
// tag appears at most once.
func (t *Tagger) Tag(text string) []string {
	t.once.Do(t.compile)

	lowered := strings.ToLower(text)
	var tags []string
	for i, rule := range t.rules {
		if t.patterns[i].MatchString(lowered) {
			tags = append(tags, rule.Tag)
		}
	}
	return tags
}

// TagAll tags every text and returns per-tag totals plus the sorted set of
// distinct tags seen.
func (t *Tagger) TagAll(texts []string) (map[string]int, []string) {
	counts := map[string]int{}
	for _, text := range texts {
		for _, tag := range t.Tag(text) {
			counts[tag]++
		}
	}
	distinct := make([]string, 0, len(counts))
	for tag := range counts {
		distinct = append(distinct, tag)
	}
	sort.Strings(distinct)
	return counts, distinct
}
