package redact

import (
	"sort"

	"github.com/fyrsmithlabs/dealcoach/internal/transcript"
)

// Finding locates one redacted match. The matched value is not kept.
type Finding struct {
	RuleID     string `json:"rule_id"`
	StartIndex int    `json:"start_index"`
	EndIndex   int    `json:"end_index"`
}

// Result is the outcome of redacting one text.
type Result struct {
	Text     string         `json:"text"`
	Findings []Finding      `json:"findings,omitempty"`
	ByRule   map[string]int `json:"by_rule,omitempty"`
}

// Redactor masks sensitive data in text.
type Redactor interface {
	Redact(text string) Result
	Enabled() bool
}

type redactor struct {
	cfg *Config
}

type span struct {
	start, end  int
	replacement string
}

// New creates a Redactor. A nil cfg uses DefaultConfig.
func New(cfg *Config) (Redactor, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &redactor{cfg: cfg}, nil
}

// Enabled implements Redactor.
func (r *redactor) Enabled() bool {
	return r.cfg.Enabled
}

// Redact implements Redactor. Overlapping matches merge into one span
// labelled by the earliest rule that matched it.
func (r *redactor) Redact(text string) Result {
	res := Result{Text: text}
	if !r.cfg.Enabled || text == "" {
		return res
	}

	var spans []span
	for _, rule := range r.cfg.compiledRules {
		if !rule.gateOpen(text) {
			continue
		}
		for _, m := range rule.pattern.FindAllStringSubmatchIndex(text, -1) {
			start, end := m[0], m[1]
			if len(m) >= 4 && m[2] >= 0 {
				start, end = m[2], m[3]
			}
			match := text[start:end]
			if r.allowed(match) || (rule.Check != nil && !rule.Check(match)) {
				continue
			}
			if res.ByRule == nil {
				res.ByRule = make(map[string]int)
			}
			res.Findings = append(res.Findings, Finding{RuleID: rule.ID, StartIndex: start, EndIndex: end})
			res.ByRule[rule.ID]++
			spans = append(spans, span{start: start, end: end, replacement: rule.replacement})
		}
	}
	if len(spans) == 0 {
		return res
	}

	merged := merge(spans)
	out := text
	for i := len(merged) - 1; i >= 0; i-- {
		s := merged[i]
		out = out[:s.start] + s.replacement + out[s.end:]
	}
	res.Text = out
	return res
}

func (r *redactor) allowed(match string) bool {
	for _, p := range r.cfg.compiledAllowList {
		if p.MatchString(match) {
			return true
		}
	}
	return false
}

func (c *compiledRule) gateOpen(text string) bool {
	if len(c.keywords) == 0 {
		return true
	}
	for _, kw := range c.keywords {
		if kw.MatchString(text) {
			return true
		}
	}
	return false
}

// merge sorts spans by start and joins overlapping ones. SliceStable keeps
// rule order for equal starts so the earlier rule's label wins.
func merge(spans []span) []span {
	sort.SliceStable(spans, func(i, j int) bool {
		return spans[i].start < spans[j].start
	})
	merged := []span{spans[0]}
	for _, s := range spans[1:] {
		last := &merged[len(merged)-1]
		if s.start < last.end {
			if s.end > last.end {
				last.end = s.end
			}
			continue
		}
		merged = append(merged, s)
	}
	return merged
}

// Utterances returns copies of us with redacted text and the total number
// of findings. The input is not modified.
func Utterances(r Redactor, us []transcript.Utterance) ([]transcript.Utterance, int) {
	out := make([]transcript.Utterance, len(us))
	total := 0
	for i, u := range us {
		res := r.Redact(u.Text)
		u.Text = res.Text
		out[i] = u
		total += len(res.Findings)
	}
	return out, total
}

// Nop leaves text unchanged.
type Nop struct{}

// Redact returns text unchanged.
func (Nop) Redact(text string) Result { return Result{Text: text} }

// Enabled returns false.
func (Nop) Enabled() bool { return false }

var (
	_ Redactor = (*redactor)(nil)
	_ Redactor = Nop{}
)
