package redact

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/dealcoach/internal/transcript"
)

func TestNew(t *testing.T) {
	t.Run("nil config uses defaults", func(t *testing.T) {
		r, err := New(nil)
		require.NoError(t, err)
		assert.True(t, r.Enabled())
	})

	t.Run("invalid pattern", func(t *testing.T) {
		_, err := New(&Config{Enabled: true, Rules: []Rule{{ID: "bad", Pattern: `[invalid`}}})
		assert.Error(t, err)
	})

	t.Run("missing ID", func(t *testing.T) {
		_, err := New(&Config{Enabled: true, Rules: []Rule{{Pattern: `x`}}})
		assert.Error(t, err)
	})

	t.Run("missing pattern", func(t *testing.T) {
		_, err := New(&Config{Enabled: true, Rules: []Rule{{ID: "x"}}})
		assert.Error(t, err)
	})

	t.Run("invalid allow list", func(t *testing.T) {
		_, err := New(&Config{Enabled: true, AllowList: []string{`[bad`}})
		assert.Error(t, err)
	})

	t.Run("disabled skips validation", func(t *testing.T) {
		r, err := New(&Config{Enabled: false, Rules: []Rule{{ID: "bad", Pattern: `[invalid`}}})
		require.NoError(t, err)
		assert.False(t, r.Enabled())
	})
}

func TestRedact_DefaultRules(t *testing.T) {
	r, err := New(nil)
	require.NoError(t, err)

	tests := []struct {
		name   string
		input  string
		want   string
		ruleID string
	}{
		{
			name:   "card number",
			input:  "Sure, it's 4111 1111 1111 1111 expiring in May.",
			want:   "Sure, it's [CARD] expiring in May.",
			ruleID: "payment-card",
		},
		{
			name:   "security code keeps the prompt",
			input:  "The CVV is 123.",
			want:   "The CVV is [CVV].",
			ruleID: "card-security-code",
		},
		{
			name:   "account number",
			input:  "My account number is 00012345678.",
			want:   "My account number is [BANK_ACCOUNT].",
			ruleID: "bank-account",
		},
		{
			name:   "ssn",
			input:  "It's 123-45-6789.",
			want:   "It's [SSN].",
			ruleID: "us-ssn",
		},
		{
			name:   "email",
			input:  "Send it to jane.doe@example.com please.",
			want:   "Send it to [EMAIL] please.",
			ruleID: "email",
		},
		{
			name:   "phone",
			input:  "Call me at 555-123-4567 tomorrow.",
			want:   "Call me at [PHONE] tomorrow.",
			ruleID: "phone",
		},
		{
			name:   "spoken password",
			input:  "the gate password is hunter22 by the way",
			want:   "the gate password is [SECRET] by the way",
			ruleID: "generic-secret",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := r.Redact(tt.input)
			assert.Equal(t, tt.want, res.Text)
			assert.Equal(t, 1, res.ByRule[tt.ruleID])
			require.NotEmpty(t, res.Findings)
			assert.Equal(t, tt.ruleID, res.Findings[0].RuleID)
		})
	}
}

func TestRedact_NoFalsePositives(t *testing.T) {
	r, err := New(nil)
	require.NoError(t, err)

	for _, text := range []string{
		"We've protected 1200 homes this year.",
		"The plan is $49 a month for 36 months.",
		"That's 4111 1111 1111 1112, not a real card.",
		"Keep spinning the pinwheel.",
	} {
		res := r.Redact(text)
		assert.Equal(t, text, res.Text, text)
		assert.Empty(t, res.Findings, text)
	}
}

func TestRedact_AllowList(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AllowList = []string{`@acme\.com$`}
	r, err := New(cfg)
	require.NoError(t, err)

	res := r.Redact("Reach me at sam@acme.com or sam@gmail.com.")
	assert.Equal(t, "Reach me at sam@acme.com or [EMAIL].", res.Text)
	assert.Equal(t, 1, res.ByRule["email"])
}

func TestRedact_KeywordGate(t *testing.T) {
	r, err := New(&Config{
		Enabled: true,
		Rules: []Rule{{
			ID:       "code",
			Pattern:  `\b\d{4}\b`,
			Label:    "CODE",
			Keywords: []string{"door"},
		}},
	})
	require.NoError(t, err)

	assert.Equal(t, "The year was 1999.", r.Redact("The year was 1999.").Text)
	assert.Equal(t, "The door code is [CODE].", r.Redact("The door code is 1234.").Text)
}

func TestRedact_OverlappingMatchesMerge(t *testing.T) {
	r, err := New(&Config{
		Enabled: true,
		Rules: []Rule{
			{ID: "first", Pattern: `abc`, Label: "A"},
			{ID: "second", Pattern: `bcd`, Label: "B"},
		},
	})
	require.NoError(t, err)

	res := r.Redact("xabcdx")
	assert.Equal(t, "x[A]x", res.Text)
	assert.Len(t, res.Findings, 2)
}

func TestRedact_Disabled(t *testing.T) {
	r, err := New(&Config{Enabled: false})
	require.NoError(t, err)

	res := r.Redact("123-45-6789")
	assert.Equal(t, "123-45-6789", res.Text)
	assert.Empty(t, res.Findings)
}

func TestUtterances(t *testing.T) {
	r, err := New(nil)
	require.NoError(t, err)

	ts := time.Date(2026, 1, 2, 15, 0, 0, 0, time.UTC)
	in := []transcript.Utterance{
		{ID: "u0", Speaker: transcript.SpeakerRep, Text: "What's the best email?", SequenceIndex: 0, Timestamp: ts},
		{ID: "u1", Speaker: transcript.SpeakerCounterpart, Text: "jane@example.com", SequenceIndex: 1, Timestamp: ts},
	}

	out, n := Utterances(r, in)
	assert.Equal(t, 1, n)
	assert.Equal(t, "[EMAIL]", out[1].Text)
	assert.Equal(t, "u1", out[1].ID)
	assert.Equal(t, "jane@example.com", in[1].Text, "input must not be modified")
}

func TestNop(t *testing.T) {
	var r Redactor = Nop{}
	assert.False(t, r.Enabled())
	assert.Equal(t, "123-45-6789", r.Redact("123-45-6789").Text)
}

func TestLuhnValid(t *testing.T) {
	assert.True(t, luhnValid("4111111111111111"))
	assert.True(t, luhnValid("5500-0000-0000-0004"))
	assert.False(t, luhnValid("4111111111111112"))
	assert.False(t, luhnValid("0000 0000 0000 0000"))
	assert.False(t, luhnValid("123"))
}
