// Package events fans session activity out over NATS.
//
// Every message for a session is published under one subject tree so a
// single wildcard subscription follows the whole session:
//
//   - {prefix}.session.{session_id}.feedback   live coaching events
//   - {prefix}.session.{session_id}.phase      grading phase transitions
//
// Messages are notifications only. The session store stays the source of
// truth and subscribers that miss a message recover by reading it.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/dealcoach/internal/analyzer"
	"github.com/fyrsmithlabs/dealcoach/internal/session"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Event types, the last subject token.
const (
	TypeFeedback = "feedback"
	TypePhase    = "phase"
)

// FeedbackMessage carries events emitted for one utterance batch.
type FeedbackMessage struct {
	SessionID string                   `json:"session_id"`
	Events    []analyzer.FeedbackEvent `json:"events"`
	SentAt    time.Time                `json:"sent_at"`
}

// PhaseMessage carries one grading phase transition.
type PhaseMessage struct {
	SessionID string             `json:"session_id"`
	State     session.PhaseState `json:"state"`
	SentAt    time.Time          `json:"sent_at"`
}

// Connect dials NATS with reconnect settings suited to a long-running
// server.
func Connect(url string, logger *zap.Logger) (*nats.Conn, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	nc, err := nats.Connect(url,
		nats.Name("dealcoach"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(1*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	return nc, nil
}

// Publisher publishes session activity. It implements analyzer.Publisher
// and grading.PhaseNotifier.
type Publisher struct {
	nc     *nats.Conn
	prefix string
	logger *zap.Logger
	now    func() time.Time
}

// NewPublisher creates a Publisher on nc.
func NewPublisher(nc *nats.Conn, prefix string, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if prefix == "" {
		prefix = "dealcoach"
	}
	return &Publisher{nc: nc, prefix: prefix, logger: logger, now: time.Now}
}

// Subject returns the subject for eventType of sessionID.
func (p *Publisher) Subject(sessionID, eventType string) string {
	return fmt.Sprintf("%s.session.%s.%s", p.prefix, token(sessionID), eventType)
}

// SessionSubjects returns the wildcard matching every event of sessionID.
func (p *Publisher) SessionSubjects(sessionID string) string {
	return p.Subject(sessionID, "*")
}

// PublishFeedback implements analyzer.Publisher.
func (p *Publisher) PublishFeedback(_ context.Context, sessionID string, evs []analyzer.FeedbackEvent) error {
	if len(evs) == 0 {
		return nil
	}
	return p.publish(p.Subject(sessionID, TypeFeedback), FeedbackMessage{
		SessionID: sessionID,
		Events:    evs,
		SentAt:    p.now().UTC(),
	})
}

// PublishPhase implements grading.PhaseNotifier.
func (p *Publisher) PublishPhase(_ context.Context, sessionID string, state session.PhaseState) error {
	return p.publish(p.Subject(sessionID, TypePhase), PhaseMessage{
		SessionID: sessionID,
		State:     state,
		SentAt:    p.now().UTC(),
	})
}

func (p *Publisher) publish(subject string, msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", subject, err)
	}
	if err := p.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	p.logger.Debug("event published", zap.String("subject", subject), zap.Int("bytes", len(data)))
	return nil
}

// Subscribe delivers every event of sessionID to ch.
func (p *Publisher) Subscribe(sessionID string, ch chan *nats.Msg) (*nats.Subscription, error) {
	sub, err := p.nc.ChanSubscribe(p.SessionSubjects(sessionID), ch)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", sessionID, err)
	}
	return sub, nil
}

// EventType returns the last token of a session subject.
func EventType(subject string) string {
	if i := strings.LastIndexByte(subject, '.'); i >= 0 {
		return subject[i+1:]
	}
	return subject
}

// token makes sessionID safe as a single subject token.
func token(sessionID string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, sessionID)
}

// Nop discards everything. It stands in when NATS is disabled.
type Nop struct{}

// PublishFeedback implements analyzer.Publisher.
func (Nop) PublishFeedback(context.Context, string, []analyzer.FeedbackEvent) error { return nil }

// PublishPhase implements grading.PhaseNotifier.
func (Nop) PublishPhase(context.Context, string, session.PhaseState) error { return nil }

var (
	_ analyzer.Publisher = (*Publisher)(nil)
	_ analyzer.Publisher = Nop{}
)
