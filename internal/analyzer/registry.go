package analyzer

import (
	"context"
	"sync"

	"github.com/fyrsmithlabs/dealcoach/internal/transcript"
	"go.uber.org/zap"
)

// Publisher fans emitted events out to other processes.
type Publisher interface {
	PublishFeedback(ctx context.Context, sessionID string, events []FeedbackEvent) error
}

// RegistryConfig configures a Registry.
type RegistryConfig struct {
	Analyzer     Config
	FeedCapacity int
}

type liveSession struct {
	mu       sync.Mutex
	analyzer *Analyzer
	feed     *Feed
}

// Registry owns one analyzer and feed per live session. Calls for the same
// session are serialized; different sessions proceed independently.
type Registry struct {
	cfg       RegistryConfig
	logger    *zap.Logger
	metrics   *Metrics
	publisher Publisher

	mu       sync.Mutex
	sessions map[string]*liveSession
}

// NewRegistry creates a registry. publisher and metrics may be nil.
func NewRegistry(cfg RegistryConfig, publisher Publisher, metrics *Metrics, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.FeedCapacity <= 0 {
		cfg.FeedCapacity = DefaultFeedCapacity
	}
	return &Registry{
		cfg:       cfg,
		logger:    logger,
		metrics:   metrics,
		publisher: publisher,
		sessions:  make(map[string]*liveSession),
	}
}

func (r *Registry) session(sessionID string) *liveSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		s = &liveSession{
			analyzer: New(sessionID,
				WithConfig(r.cfg.Analyzer),
				WithLogger(r.logger),
				WithMetrics(r.metrics),
			),
			feed: NewFeed(r.cfg.FeedCapacity),
		}
		r.sessions[sessionID] = s
		if r.metrics != nil {
			r.metrics.ActiveSessions.Inc()
		}
	}
	return s
}

// Ingest runs the session's analyzer over us and returns the new events.
// Publishing failures are logged, never returned.
func (r *Registry) Ingest(ctx context.Context, sessionID string, us []transcript.Utterance) []FeedbackEvent {
	s := r.session(sessionID)

	s.mu.Lock()
	events := s.analyzer.ProcessAll(us)
	s.feed.Append(events...)
	s.mu.Unlock()

	if len(events) > 0 && r.publisher != nil {
		if err := r.publisher.PublishFeedback(ctx, sessionID, events); err != nil {
			r.logger.Warn("publishing feedback failed",
				zap.String("session.id", sessionID),
				zap.Int("events", len(events)),
				zap.Error(err),
			)
		}
	}
	return events
}

// Feed returns the retained events of a session, or nil if it has no
// live analyzer.
func (r *Registry) Feed(sessionID string) []FeedbackEvent {
	r.mu.Lock()
	s, ok := r.sessions[sessionID]
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return s.feed.Events()
}

// Summary returns the analyzer summary of a live session.
func (r *Registry) Summary(sessionID string) (Summary, bool) {
	r.mu.Lock()
	s, ok := r.sessions[sessionID]
	r.mu.Unlock()
	if !ok {
		return Summary{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.analyzer.Summary(), true
}

// End discards the analyzer state of a session.
func (r *Registry) End(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[sessionID]; ok {
		delete(r.sessions, sessionID)
		if r.metrics != nil {
			r.metrics.ActiveSessions.Dec()
		}
	}
}
