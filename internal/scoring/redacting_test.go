package scoring

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/dealcoach/internal/config"
	"github.com/fyrsmithlabs/dealcoach/internal/redact"
	"github.com/fyrsmithlabs/dealcoach/internal/session"
	"github.com/fyrsmithlabs/dealcoach/internal/transcript"
)

type capturingScorer struct {
	got Request
}

func (c *capturingScorer) Name() string { return "capture" }

func (c *capturingScorer) Score(_ context.Context, req Request) (*Result, error) {
	c.got = req
	return &Result{OverallScore: 70}, nil
}

func TestRedactingScorer(t *testing.T) {
	redactor, err := redact.New(nil)
	require.NoError(t, err)

	next := &capturingScorer{}
	s := NewRedactingScorer(next, redactor, nil)
	assert.Equal(t, "capture", s.Name())

	ts := time.Date(2026, 1, 2, 15, 0, 0, 0, time.UTC)
	req := Request{
		SessionID: "s1",
		Transcript: []transcript.Utterance{
			{ID: "u0", Speaker: transcript.SpeakerRep, Text: "What's the best number to reach you?", Timestamp: ts},
			{ID: "u1", Speaker: transcript.SpeakerCounterpart, Text: "555-123-4567, and it's fine to text.", SequenceIndex: 1, Timestamp: ts},
		},
		KeyMoments: []session.KeyMoment{
			{Index: 1, Tag: "info_collected", Speaker: "counterpart", Excerpt: "555-123-4567"},
		},
	}

	res, err := s.Score(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 70, res.OverallScore)

	assert.Equal(t, "[PHONE], and it's fine to text.", next.got.Transcript[1].Text)
	assert.Equal(t, "[PHONE]", next.got.KeyMoments[0].Excerpt)
	assert.Equal(t, "What's the best number to reach you?", next.got.Transcript[0].Text)

	// caller's request untouched
	assert.Equal(t, "555-123-4567, and it's fine to text.", req.Transcript[1].Text)
	assert.Equal(t, "555-123-4567", req.KeyMoments[0].Excerpt)
}

func TestNew_Redaction(t *testing.T) {
	s, err := New(config.ScoringConfig{Provider: "http", Endpoint: "http://localhost:9/score"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &RedactingScorer{}, s)

	s, err = New(config.ScoringConfig{Provider: "http", Endpoint: "http://localhost:9/score", RedactionDisabled: true}, nil)
	require.NoError(t, err)
	assert.IsType(t, &HTTPScorer{}, s)

	s, err = New(config.ScoringConfig{Provider: "instant"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &InstantScorer{}, s)

	_, err = New(config.ScoringConfig{
		Provider:           "http",
		Endpoint:           "http://localhost:9/score",
		RedactionAllowList: []string{"[bad"},
	}, nil)
	assert.Error(t, err)
}
