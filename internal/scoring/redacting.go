package scoring

import (
	"context"

	"github.com/fyrsmithlabs/dealcoach/internal/redact"
	"github.com/fyrsmithlabs/dealcoach/internal/session"
	"go.uber.org/zap"
)

// RedactingScorer masks sensitive transcript data before handing the
// request to a remote scorer. Key-moment excerpts are masked too.
type RedactingScorer struct {
	next     Scorer
	redactor redact.Redactor
	logger   *zap.Logger
}

// NewRedactingScorer wraps next.
func NewRedactingScorer(next Scorer, redactor redact.Redactor, logger *zap.Logger) *RedactingScorer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedactingScorer{next: next, redactor: redactor, logger: logger}
}

// Name implements Scorer.
func (s *RedactingScorer) Name() string {
	return s.next.Name()
}

// Score implements Scorer. The caller's request is not modified.
func (s *RedactingScorer) Score(ctx context.Context, req Request) (*Result, error) {
	us, findings := redact.Utterances(s.redactor, req.Transcript)
	req.Transcript = us

	if len(req.KeyMoments) > 0 {
		moments := make([]session.KeyMoment, len(req.KeyMoments))
		for i, m := range req.KeyMoments {
			res := s.redactor.Redact(m.Excerpt)
			m.Excerpt = res.Text
			findings += len(res.Findings)
			moments[i] = m
		}
		req.KeyMoments = moments
	}

	if findings > 0 {
		s.logger.Info("redacted scoring request",
			zap.String("session.id", req.SessionID),
			zap.String("scorer", s.next.Name()),
			zap.Int("findings", findings),
		)
	}
	return s.next.Score(ctx, req)
}

var _ Scorer = (*RedactingScorer)(nil)
