// Package secrets redacts credentials from extracted document text before
// it is chunked, embedded and indexed, so they never reach an index or a
// model prompt.
package secrets

import (
	"fmt"
	"regexp"

	"github.com/fyrsmithlabs/docqa/internal/config"
)

const defaultRedaction = "[REDACTED]"

// Config configures the scrubber.
type Config struct {
	Enabled         bool
	RedactionString string
	Rules           []Rule
	// AllowList patterns exempt a match from redaction (sample keys in docs).
	AllowList []string
}

// Rule detects one kind of credential.
type Rule struct {
	ID          string
	Description string
	Pattern     string
	// Keywords, when set, must appear somewhere in the text for the rule to run.
	Keywords []string
}

type compiledRule struct {
	Rule
	pattern  *regexp.Regexp
	keywords []*regexp.Regexp
}

// DefaultConfig returns an enabled config with DefaultRules.
func DefaultConfig() *Config {
	return &Config{
		Enabled:         true,
		RedactionString: defaultRedaction,
		Rules:           DefaultRules(),
	}
}

// FromAppConfig builds a scrubber config from the application section.
func FromAppConfig(app config.SecretsConfig) *Config {
	cfg := DefaultConfig()
	cfg.Enabled = app.Enabled
	if app.RedactionString != "" {
		cfg.RedactionString = app.RedactionString
	}
	return cfg
}

func (c *Config) compile() ([]*compiledRule, []*regexp.Regexp, error) {
	rules := make([]*compiledRule, 0, len(c.Rules))
	for i, rule := range c.Rules {
		if rule.ID == "" {
			return nil, nil, fmt.Errorf("rule %d: id is required", i)
		}
		if rule.Pattern == "" {
			return nil, nil, fmt.Errorf("rule %s: pattern is required", rule.ID)
		}
		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return nil, nil, fmt.Errorf("rule %s: invalid pattern: %w", rule.ID, err)
		}
		cr := &compiledRule{Rule: rule, pattern: re}
		for _, kw := range rule.Keywords {
			cr.keywords = append(cr.keywords, regexp.MustCompile("(?i)"+regexp.QuoteMeta(kw)))
		}
		rules = append(rules, cr)
	}

	allow := make([]*regexp.Regexp, 0, len(c.AllowList))
	for i, p := range c.AllowList {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, nil, fmt.Errorf("allow_list %d: %w", i, err)
		}
		allow = append(allow, re)
	}
	return rules, allow, nil
}
