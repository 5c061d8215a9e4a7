package secrets

import (
	"regexp"
	"sort"
	"strings"

	"github.com/fyrsmithlabs/docqa/internal/document"
)

// Scrubber redacts credentials from text.
type Scrubber interface {
	Scrub(text string) *Result
	ScrubDocument(doc *document.Document) (*document.Document, *Result)
	IsEnabled() bool
}

// Finding is one detected credential. The matched value is never kept.
type Finding struct {
	RuleID string `json:"rule_id"`
	Page   int    `json:"page,omitempty"`
	Line   int    `json:"line"`
	Start  int    `json:"start"`
	End    int    `json:"end"`
}

// Result reports what was redacted.
type Result struct {
	Scrubbed string         `json:"-"`
	Findings []Finding      `json:"findings,omitempty"`
	ByRule   map[string]int `json:"by_rule,omitempty"`
}

// Total returns the number of findings.
func (r *Result) Total() int { return len(r.Findings) }

type span struct{ start, end int }

type regexScrubber struct {
	enabled   bool
	redaction string
	rules     []*compiledRule
	allow     []*regexp.Regexp
}

// New creates a Scrubber. A nil config uses DefaultConfig.
func New(cfg *Config) (Scrubber, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if !cfg.Enabled {
		return NoopScrubber{}, nil
	}
	rules, allow, err := cfg.compile()
	if err != nil {
		return nil, err
	}
	s := &regexScrubber{enabled: true, redaction: cfg.RedactionString, rules: rules, allow: allow}
	if s.redaction == "" {
		s.redaction = defaultRedaction
	}
	return s, nil
}

func (s *regexScrubber) IsEnabled() bool { return s.enabled }

func (s *regexScrubber) allowed(match string) bool {
	for _, re := range s.allow {
		if re.MatchString(match) {
			return true
		}
	}
	return false
}

func (s *regexScrubber) Scrub(text string) *Result {
	res := &Result{Scrubbed: text, ByRule: map[string]int{}}
	spans := make([]span, 0)

	for _, rule := range s.rules {
		if len(rule.keywords) > 0 && !anyMatch(rule.keywords, text) {
			continue
		}
		for _, loc := range rule.pattern.FindAllStringIndex(text, -1) {
			if s.allowed(text[loc[0]:loc[1]]) {
				continue
			}
			res.Findings = append(res.Findings, Finding{
				RuleID: rule.ID,
				Line:   strings.Count(text[:loc[0]], "\n") + 1,
				Start:  loc[0],
				End:    loc[1],
			})
			res.ByRule[rule.ID]++
			spans = append(spans, span{loc[0], loc[1]})
		}
	}
	if len(spans) == 0 {
		return res
	}

	merged := mergeSpans(spans)
	var b strings.Builder
	b.Grow(len(text))
	prev := 0
	for _, sp := range merged {
		b.WriteString(text[prev:sp.start])
		b.WriteString(s.redaction)
		prev = sp.end
	}
	b.WriteString(text[prev:])
	res.Scrubbed = b.String()
	return res
}

// ScrubDocument scrubs every page. The document id is preserved.
func (s *regexScrubber) ScrubDocument(doc *document.Document) (*document.Document, *Result) {
	total := &Result{ByRule: map[string]int{}}
	pages := make([]document.Page, len(doc.Pages))
	for i, p := range doc.Pages {
		r := s.Scrub(p.Text)
		pages[i] = document.Page{Number: p.Number, Text: r.Scrubbed}
		for _, f := range r.Findings {
			f.Page = p.Number
			total.Findings = append(total.Findings, f)
		}
		for id, n := range r.ByRule {
			total.ByRule[id] += n
		}
	}
	if total.Total() == 0 {
		return doc, total
	}
	out := doc.WithPages(pages)
	total.Scrubbed = out.RawText
	return out, total
}

func anyMatch(res []*regexp.Regexp, text string) bool {
	for _, re := range res {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// mergeSpans sorts spans and merges overlapping or adjacent ones.
func mergeSpans(spans []span) []span {
	sort.Slice(spans, func(i, j int) bool {
		if spans[i].start != spans[j].start {
			return spans[i].start < spans[j].start
		}
		return spans[i].end > spans[j].end
	})
	merged := []span{spans[0]}
	for _, cur := range spans[1:] {
		last := &merged[len(merged)-1]
		if cur.start <= last.end {
			if cur.end > last.end {
				last.end = cur.end
			}
			continue
		}
		merged = append(merged, cur)
	}
	return merged
}

// NoopScrubber leaves text untouched.
type NoopScrubber struct{}

func (NoopScrubber) Scrub(text string) *Result {
	return &Result{Scrubbed: text, ByRule: map[string]int{}}
}

func (NoopScrubber) ScrubDocument(doc *document.Document) (*document.Document, *Result) {
	return doc, &Result{Scrubbed: doc.RawText, ByRule: map[string]int{}}
}

func (NoopScrubber) IsEnabled() bool { return false }
