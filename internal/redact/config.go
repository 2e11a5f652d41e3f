package redact

import (
	"fmt"
	"regexp"
)

// Config configures a Redactor.
type Config struct {
	// Enabled controls whether redaction is active.
	Enabled bool `koanf:"enabled"`

	// Rules are the detection rules, applied in order.
	Rules []Rule `koanf:"rules"`

	// AllowList holds patterns whose matches are left as is.
	AllowList []string `koanf:"allow_list"`

	compiledRules     []*compiledRule
	compiledAllowList []*regexp.Regexp
}

// Rule detects one class of sensitive data.
type Rule struct {
	ID          string `koanf:"id"`
	Description string `koanf:"description"`
	// Pattern locates the data. When it has a capture group, only the
	// first group is replaced and the surrounding words are kept.
	Pattern string `koanf:"pattern"`

	// Label replaces the match as "[Label]". Defaults to REDACTED.
	Label string `koanf:"label"`

	// Keywords gate the rule: at least one must appear in the text.
	Keywords []string `koanf:"keywords"`

	// Check, when set, must accept the match for it to count.
	Check func(match string) bool `koanf:"-"`
}

type compiledRule struct {
	Rule
	pattern     *regexp.Regexp
	keywords    []*regexp.Regexp
	replacement string
}

// DefaultConfig returns an enabled config with DefaultRules.
func DefaultConfig() *Config {
	return &Config{
		Enabled: true,
		Rules:   DefaultRules(),
	}
}

// Validate compiles the rules and allow list.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}

	c.compiledRules = make([]*compiledRule, 0, len(c.Rules))
	for i, rule := range c.Rules {
		if rule.ID == "" {
			return fmt.Errorf("rule %d: ID is required", i)
		}
		if rule.Pattern == "" {
			return fmt.Errorf("rule %s: pattern is required", rule.ID)
		}

		pattern, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return fmt.Errorf("rule %s: invalid pattern: %w", rule.ID, err)
		}

		label := rule.Label
		if label == "" {
			label = "REDACTED"
		}
		compiled := &compiledRule{
			Rule:        rule,
			pattern:     pattern,
			keywords:    make([]*regexp.Regexp, 0, len(rule.Keywords)),
			replacement: "[" + label + "]",
		}
		for _, kw := range rule.Keywords {
			compiled.keywords = append(compiled.keywords, regexp.MustCompile("(?i)"+regexp.QuoteMeta(kw)))
		}
		c.compiledRules = append(c.compiledRules, compiled)
	}

	c.compiledAllowList = make([]*regexp.Regexp, 0, len(c.AllowList))
	for i, pattern := range c.AllowList {
		compiled, err := regexp.Compile(pattern)
		if err != nil {
			return fmt.Errorf("allow_list %d: invalid pattern: %w", i, err)
		}
		c.compiledAllowList = append(c.compiledAllowList, compiled)
	}
	return nil
}
