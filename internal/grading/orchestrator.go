// Package grading turns a finished transcript into a final grade.
//
// Grading runs in three ordered phases, each persisted to the session store
// keyed by phase:
//
//  1. instant: deterministic metrics and preliminary scores
//  2. keyMoments: tagged utterances derived from the instant payload
//  3. deepAnalysis: scoring model, heuristic enforcement and the split
//     grade/analytics write
//
// Phases 1 and 2 run on the caller's goroutine and abort the run on failure.
// Phase 3 is handed to a Dispatcher and never blocks the caller; if it fails
// after phase 1 completed, the session is completed with the preliminary
// scores and flagged partial.
package grading

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/dealcoach/internal/analyzer"
	"github.com/fyrsmithlabs/dealcoach/internal/faults"
	"github.com/fyrsmithlabs/dealcoach/internal/scoring"
	"github.com/fyrsmithlabs/dealcoach/internal/session"
	"github.com/fyrsmithlabs/dealcoach/internal/transcript"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/dealcoach/internal/grading"

var (
	// ErrTranscriptNotReady is wrapped when no transcript appeared in time.
	ErrTranscriptNotReady = errors.New("transcript not ready")
	// ErrStalled is the cause recorded when a grading run stopped making
	// progress, for example because its process exited mid-run.
	ErrStalled = errors.New("grading run stalled")
)

const (
	finishAttempts  = 3
	finishRetryBase = 200 * time.Millisecond
	staleMargin     = time.Minute
)

// Dispatcher starts deep analysis for a session without blocking.
type Dispatcher interface {
	Dispatch(ctx context.Context, sessionID string) error
}

// PhaseNotifier is told about every phase transition. Notifications are
// best effort; the session store remains the source of truth.
type PhaseNotifier interface {
	PublishPhase(ctx context.Context, sessionID string, state session.PhaseState) error
}

// Config configures an Orchestrator.
type Config struct {
	TranscriptWaitAttempts int
	TranscriptWaitBase     time.Duration
	DeepAnalysisTimeout    time.Duration
	// StaleAfter is how long a grading run may go without activity before
	// StartGrading resumes it. Defaults to DeepAnalysisTimeout plus a minute.
	StaleAfter time.Duration
	Analyzer   analyzer.Config
	Enforcer   EnforcerConfig
}

// DefaultConfig returns the standard orchestration settings.
func DefaultConfig() Config {
	return Config{
		TranscriptWaitAttempts: 5,
		TranscriptWaitBase:     500 * time.Millisecond,
		DeepAnalysisTimeout:    2 * time.Minute,
		Analyzer:               analyzer.DefaultConfig(),
		Enforcer:               DefaultEnforcerConfig(),
	}
}

// ApplyDefaults fills zero fields.
func (c *Config) ApplyDefaults() {
	def := DefaultConfig()
	if c.TranscriptWaitAttempts <= 0 {
		c.TranscriptWaitAttempts = def.TranscriptWaitAttempts
	}
	if c.TranscriptWaitBase <= 0 {
		c.TranscriptWaitBase = def.TranscriptWaitBase
	}
	if c.DeepAnalysisTimeout <= 0 {
		c.DeepAnalysisTimeout = def.DeepAnalysisTimeout
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = c.DeepAnalysisTimeout + staleMargin
	}
	if c.Analyzer == (analyzer.Config{}) {
		c.Analyzer = def.Analyzer
	}
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithDispatcher replaces the in-process dispatcher.
func WithDispatcher(d Dispatcher) Option {
	return func(o *Orchestrator) { o.dispatcher = d }
}

// WithNotifier publishes phase transitions.
func WithNotifier(n PhaseNotifier) Option {
	return func(o *Orchestrator) { o.notifier = n }
}

// WithMetrics records phase and enforcement metrics.
func WithMetrics(m *Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// Orchestrator sequences the grading phases of a session.
type Orchestrator struct {
	cfg         Config
	store       session.Store
	transcripts transcript.Reader
	scorer      scoring.Scorer
	enforcer    *Enforcer
	dispatcher  Dispatcher
	notifier    PhaseNotifier
	metrics     *Metrics
	logger      *zap.Logger
	tracer      trace.Tracer

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// New creates an Orchestrator. Without WithDispatcher, deep analysis runs
// on an AsyncDispatcher owned by the orchestrator.
func New(cfg Config, store session.Store, transcripts transcript.Reader, scorer scoring.Scorer, opts ...Option) (*Orchestrator, error) {
	if store == nil {
		return nil, errors.New("session store is required")
	}
	if transcripts == nil {
		return nil, errors.New("transcript reader is required")
	}
	if scorer == nil {
		return nil, errors.New("scorer is required")
	}
	cfg.ApplyDefaults()

	o := &Orchestrator{
		cfg:         cfg,
		store:       store,
		transcripts: transcripts,
		scorer:      scorer,
		logger:      zap.NewNop(),
		tracer:      otel.Tracer(instrumentationName),
		sleep:       sleepCtx,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.enforcer = NewEnforcer(cfg.Enforcer, o.metrics, o.logger)
	if o.dispatcher == nil {
		o.dispatcher = NewAsyncDispatcher(o.RunDeepAnalysis, o.logger)
	}
	return o, nil
}

// Dispatcher returns the dispatcher deep analysis is handed to.
func (o *Orchestrator) Dispatcher() Dispatcher {
	return o.dispatcher
}

// StartGrading runs the synchronous phases for sessionID and dispatches
// deep analysis. It returns the current record without starting a new run
// when the session is already complete or grading. A grading run idle for
// longer than StaleAfter is resumed: deep analysis is dispatched again when
// the synchronous phases completed, otherwise the run is degraded. A failed
// session is graded again from scratch.
func (o *Orchestrator) StartGrading(ctx context.Context, sessionID string) (*session.Record, error) {
	ctx, span := o.tracer.Start(ctx, "grading.start", trace.WithAttributes(attribute.String("session.id", sessionID)))
	defer span.End()

	rec, err := o.store.Get(ctx, sessionID)
	if err == nil && rec.Status == session.StatusGrading && o.stale(rec) {
		span.SetAttributes(attribute.Bool("grading.resumed", true))
		if rec, err = o.resume(ctx, rec); err != nil {
			return nil, err
		}
	}
	switch {
	case err == nil && (rec.Status == session.StatusComplete || rec.Status == session.StatusGrading):
		span.SetAttributes(attribute.Bool("grading.started", false))
		return rec, nil
	case err != nil && !errors.Is(err, session.ErrNotFound):
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	us, err := o.waitForTranscript(ctx, sessionID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	rec, started, err := o.store.BeginGrading(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to begin grading: %w", err)
	}
	span.SetAttributes(attribute.Bool("grading.started", started))
	if !started {
		return rec, nil
	}
	o.logger.Info("grading started", zap.String("session.id", sessionID), zap.Int("utterances", len(us)))

	var metrics session.InstantMetrics
	if err := o.runPhase(ctx, sessionID, session.PhaseInstant, func(context.Context) (any, error) {
		m, err := ComputeInstantMetrics(sessionID, us, o.cfg.Analyzer)
		metrics = m
		return m, err
	}); err != nil {
		return nil, o.abort(ctx, sessionID, err)
	}

	if err := o.runPhase(ctx, sessionID, session.PhaseKeyMoments, func(context.Context) (any, error) {
		return session.KeyMomentsPayload{Moments: SelectKeyMoments(metrics, us)}, nil
	}); err != nil {
		return nil, o.abort(ctx, sessionID, err)
	}

	o.setPhase(ctx, sessionID, session.PhaseState{Phase: session.PhaseDeepAnalysis, Status: session.PhaseRunning})
	if err := o.dispatcher.Dispatch(ctx, sessionID); err != nil {
		o.logger.Error("failed to dispatch deep analysis", zap.String("session.id", sessionID), zap.Error(err))
		if derr := o.Degrade(ctx, sessionID, fmt.Errorf("dispatch deep analysis: %w", err)); derr != nil {
			return nil, derr
		}
	}

	return o.store.Get(ctx, sessionID)
}

func (o *Orchestrator) stale(rec *session.Record) bool {
	last := rec.UpdatedAt
	for _, p := range rec.Phases {
		if p.UpdatedAt.After(last) {
			last = p.UpdatedAt
		}
	}
	return o.now().Sub(last) > o.cfg.StaleAfter
}

// resume moves a stalled run forward and returns the resulting record.
func (o *Orchestrator) resume(ctx context.Context, rec *session.Record) (*session.Record, error) {
	sessionID := rec.SessionID
	o.logger.Warn("resuming stalled grading run",
		zap.String("session.id", sessionID),
		zap.Time("updated_at", rec.UpdatedAt),
	)
	if rec.Grade == nil && rec.PhaseTrusted(session.PhaseKeyMoments) {
		o.setPhase(ctx, sessionID, session.PhaseState{Phase: session.PhaseDeepAnalysis, Status: session.PhaseRunning})
		err := o.dispatcher.Dispatch(ctx, sessionID)
		if err == nil {
			return o.store.Get(ctx, sessionID)
		}
		o.logger.Error("failed to dispatch deep analysis", zap.String("session.id", sessionID), zap.Error(err))
	}
	if err := o.Degrade(ctx, sessionID, ErrStalled); err != nil {
		return nil, err
	}
	return o.store.Get(ctx, sessionID)
}

func (o *Orchestrator) waitForTranscript(ctx context.Context, sessionID string) ([]transcript.Utterance, error) {
	for attempt := 1; ; attempt++ {
		us, err := o.transcripts.Utterances(ctx, sessionID)
		if err != nil {
			return nil, fmt.Errorf("failed to read transcript: %w", err)
		}
		if len(us) > 0 {
			return us, nil
		}
		if attempt >= o.cfg.TranscriptWaitAttempts {
			return nil, faults.New(faults.KindPreconditionNotMet, "grading.wait_transcript",
				fmt.Errorf("%w after %d attempts", ErrTranscriptNotReady, attempt))
		}
		o.logger.Debug("transcript not ready, waiting",
			zap.String("session.id", sessionID),
			zap.Int("attempt", attempt),
		)
		if err := o.sleep(ctx, time.Duration(attempt)*o.cfg.TranscriptWaitBase); err != nil {
			return nil, err
		}
	}
}

// abort marks a run failed after a synchronous phase failure.
func (o *Orchestrator) abort(ctx context.Context, sessionID string, cause error) error {
	ctx = context.WithoutCancel(ctx)
	if err := o.store.Finish(ctx, sessionID, session.Outcome{Status: session.StatusFailed, Error: cause.Error()}); err != nil {
		o.logger.Error("failed to mark session failed", zap.String("session.id", sessionID), zap.Error(err))
	}
	return cause
}

// runPhase moves phase through running to complete or failed, storing the
// JSON payload fn returns.
func (o *Orchestrator) runPhase(ctx context.Context, sessionID string, phase session.Phase, fn func(context.Context) (any, error)) error {
	ctx, span := o.tracer.Start(ctx, "grading.phase."+string(phase), trace.WithAttributes(
		attribute.String("session.id", sessionID),
		attribute.String("grading.phase", string(phase)),
	))
	defer span.End()

	start := o.now()
	o.setPhase(ctx, sessionID, session.PhaseState{Phase: phase, Status: session.PhaseRunning})

	payload, err := fn(ctx)
	var raw []byte
	if err == nil {
		raw, err = json.Marshal(payload)
		if err != nil {
			err = fmt.Errorf("encode %s payload: %w", phase, err)
		}
	}

	if o.metrics != nil {
		o.metrics.PhaseDuration.WithLabelValues(string(phase)).Observe(o.now().Sub(start).Seconds())
	}

	if err != nil {
		err = &PhaseError{Phase: phase, Err: err}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.logger.Warn("grading phase failed",
			zap.String("session.id", sessionID),
			zap.String("phase", string(phase)),
			zap.Error(err),
		)
		o.setPhase(ctx, sessionID, session.PhaseState{Phase: phase, Status: session.PhaseFailed, Error: err.Error()})
		o.countPhase(phase, session.PhaseFailed)
		return err
	}

	if err := o.store.UpdatePhase(ctx, sessionID, session.PhaseState{Phase: phase, Status: session.PhaseComplete, Payload: raw}); err != nil {
		err = &PhaseError{Phase: phase, Err: fmt.Errorf("store payload: %w", err)}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.countPhase(phase, session.PhaseFailed)
		return err
	}
	o.notify(ctx, sessionID, session.PhaseState{Phase: phase, Status: session.PhaseComplete, Payload: raw})
	o.countPhase(phase, session.PhaseComplete)
	o.logger.Debug("grading phase complete",
		zap.String("session.id", sessionID),
		zap.String("phase", string(phase)),
		zap.Duration("duration", o.now().Sub(start)),
	)
	return nil
}

// setPhase writes a payload-less phase state, logging store failures.
func (o *Orchestrator) setPhase(ctx context.Context, sessionID string, state session.PhaseState) {
	if err := o.store.UpdatePhase(ctx, sessionID, state); err != nil {
		o.logger.Warn("failed to update phase",
			zap.String("session.id", sessionID),
			zap.String("phase", string(state.Phase)),
			zap.Error(err),
		)
		return
	}
	o.notify(ctx, sessionID, state)
}

func (o *Orchestrator) notify(ctx context.Context, sessionID string, state session.PhaseState) {
	if o.notifier == nil {
		return
	}
	state.UpdatedAt = o.now().UTC()
	if err := o.notifier.PublishPhase(ctx, sessionID, state); err != nil {
		o.logger.Warn("failed to publish phase",
			zap.String("session.id", sessionID),
			zap.String("phase", string(state.Phase)),
			zap.Error(err),
		)
	}
}

func (o *Orchestrator) countPhase(phase session.Phase, status session.PhaseStatus) {
	if o.metrics != nil {
		o.metrics.PhaseTotal.WithLabelValues(string(phase), string(status)).Inc()
	}
}

// DeepAnalysis runs phase 3 for a session whose synchronous phases are
// complete. It is a no-op for a session that already finished.
func (o *Orchestrator) DeepAnalysis(ctx context.Context, sessionID string) error {
	rec, err := o.store.Get(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("failed to load session: %w", err)
	}
	if rec.Terminal() {
		return nil
	}
	if !rec.PhaseTrusted(session.PhaseKeyMoments) {
		return faults.New(faults.KindPreconditionNotMet, "grading.deep_analysis",
			errors.New("instant metrics and key moments must complete first"))
	}
	if enforced(rec) {
		return o.settle(ctx, rec, nil)
	}

	var analyticsErr error
	err = o.runPhase(ctx, sessionID, session.PhaseDeepAnalysis, func(ctx context.Context) (any, error) {
		var metrics session.InstantMetrics
		if err := json.Unmarshal(rec.Phase(session.PhaseInstant).Payload, &metrics); err != nil {
			return nil, faults.New(faults.KindParseFailure, "grading.instant_payload", err)
		}
		var moments session.KeyMomentsPayload
		if err := json.Unmarshal(rec.Phase(session.PhaseKeyMoments).Payload, &moments); err != nil {
			return nil, faults.New(faults.KindParseFailure, "grading.key_moments_payload", err)
		}
		us, err := o.transcripts.Utterances(ctx, sessionID)
		if err != nil {
			return nil, fmt.Errorf("failed to read transcript: %w", err)
		}
		averages, err := o.store.HistoricalAverages(ctx, sessionID)
		if err != nil {
			o.logger.Warn("historical averages unavailable", zap.String("session.id", sessionID), zap.Error(err))
			averages = session.HistoricalAverages{}
		}

		scoreCtx, cancel := context.WithTimeout(ctx, o.cfg.DeepAnalysisTimeout)
		defer cancel()
		res, err := o.scorer.Score(scoreCtx, scoring.Request{
			SessionID:          sessionID,
			Transcript:         us,
			InstantMetrics:     metrics,
			KeyMoments:         moments.Moments,
			HistoricalAverages: averages,
		})
		if err != nil {
			return nil, err
		}
		if res == nil {
			return nil, faults.New(faults.KindModelInvocation, "grading.score", errors.New("scorer returned no result"))
		}

		verdict := o.enforcer.Enforce(sessionID, *res, us)
		verdict.Analytics.KeyMoments = moments.Moments
		if len(verdict.Analytics.ObjectionAnalysis) == 0 {
			verdict.Analytics.ObjectionAnalysis = metrics.Objections
		}

		if err := o.store.SaveGrade(ctx, sessionID, verdict.Grade); err != nil {
			return nil, fmt.Errorf("failed to save grade: %w", err)
		}
		if err := o.store.SaveAnalytics(ctx, sessionID, verdict.Analytics); err != nil {
			analyticsErr = err
			o.logger.Error("failed to save analytics", zap.String("session.id", sessionID), zap.Error(err))
		}
		return res, nil
	})
	if err != nil {
		return err
	}

	outcome := session.Outcome{Status: session.StatusComplete}
	if analyticsErr != nil {
		outcome.Error = "analytics not saved: " + analyticsErr.Error()
	}
	if err := o.finish(ctx, sessionID, outcome); err != nil {
		return err
	}
	o.logger.Info("grading complete", zap.String("session.id", sessionID))
	return nil
}

// finish writes the terminal outcome, retrying transient store failures.
func (o *Orchestrator) finish(ctx context.Context, sessionID string, outcome session.Outcome) error {
	var err error
	for attempt := 1; ; attempt++ {
		if err = o.store.Finish(ctx, sessionID, outcome); err == nil {
			return nil
		}
		if attempt >= finishAttempts {
			return fmt.Errorf("failed to finish session: %w", err)
		}
		o.logger.Warn("failed to finish session, retrying",
			zap.String("session.id", sessionID),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if serr := o.sleep(ctx, time.Duration(attempt)*finishRetryBase); serr != nil {
			return fmt.Errorf("failed to finish session: %w", errors.Join(err, serr))
		}
	}
}

// enforced reports whether the record holds a grade written by deep analysis.
func enforced(rec *session.Record) bool {
	return rec.Grade != nil && rec.Grade.Audit.Mechanism != session.MechanismInstantMetrics
}

// settle completes a session whose enforced grade was already saved, so a
// failure after the grade write never replaces it with preliminary scores.
func (o *Orchestrator) settle(ctx context.Context, rec *session.Record, cause error) error {
	sessionID := rec.SessionID
	if rec.Phase(session.PhaseDeepAnalysis).Status != session.PhaseComplete {
		o.setPhase(ctx, sessionID, session.PhaseState{Phase: session.PhaseDeepAnalysis, Status: session.PhaseComplete})
	}
	outcome := session.Outcome{Status: session.StatusComplete}
	if rec.Analytics == nil {
		outcome.Error = "analytics not saved"
		if cause != nil {
			outcome.Error += ": " + cause.Error()
		}
	}
	fields := []zap.Field{
		zap.String("session.id", sessionID),
		zap.String("mechanism", string(rec.Grade.Audit.Mechanism)),
	}
	if cause != nil {
		fields = append(fields, zap.Error(cause))
	}
	o.logger.Info("grading completed from saved grade", fields...)
	return o.finish(ctx, sessionID, outcome)
}

// Degrade settles a session whose deep analysis failed. A grade already
// enforced by deep analysis is kept and the session completes with it. With
// trusted instant metrics the session completes as a partial result graded
// on the preliminary scores; otherwise it is marked failed. It never leaves
// the session grading.
func (o *Orchestrator) Degrade(ctx context.Context, sessionID string, cause error) error {
	ctx = context.WithoutCancel(ctx)

	rec, err := o.store.Get(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("failed to load session: %w", err)
	}
	if rec.Terminal() {
		return nil
	}
	if enforced(rec) {
		return o.settle(ctx, rec, cause)
	}
	if rec.Phase(session.PhaseDeepAnalysis).Status != session.PhaseFailed {
		o.setPhase(ctx, sessionID, session.PhaseState{Phase: session.PhaseDeepAnalysis, Status: session.PhaseFailed, Error: cause.Error()})
		o.countPhase(session.PhaseDeepAnalysis, session.PhaseFailed)
	}

	var metrics session.InstantMetrics
	trusted := rec.PhaseTrusted(session.PhaseInstant) &&
		json.Unmarshal(rec.Phase(session.PhaseInstant).Payload, &metrics) == nil
	if !trusted {
		o.logger.Error("grading failed", zap.String("session.id", sessionID), zap.Error(cause))
		return o.store.Finish(ctx, sessionID, session.Outcome{Status: session.StatusFailed, Error: cause.Error()})
	}

	grade := session.Grade{
		Scores: metrics.PreliminaryScores,
		Audit: session.Audit{
			Mechanism: session.MechanismInstantMetrics,
			DecidedAt: o.now().UTC(),
		},
	}
	if err := o.store.SaveGrade(ctx, sessionID, grade); err != nil {
		o.logger.Error("failed to save partial grade", zap.String("session.id", sessionID), zap.Error(err))
		return o.store.Finish(ctx, sessionID, session.Outcome{Status: session.StatusFailed, Error: cause.Error()})
	}

	o.logger.Warn("grading completed with partial results",
		zap.String("session.id", sessionID),
		zap.Int("overall", grade.Scores.Overall),
		zap.Error(cause),
	)
	return o.finish(ctx, sessionID, session.Outcome{
		Status:  session.StatusComplete,
		Partial: true,
		Error:   cause.Error(),
	})
}

// RunDeepAnalysis runs deep analysis and degrades on failure or panic. The
// returned error is the deep analysis failure, if any.
func (o *Orchestrator) RunDeepAnalysis(ctx context.Context, sessionID string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("deep analysis panicked: %v", r)
			if derr := o.Degrade(ctx, sessionID, err); derr != nil {
				err = errors.Join(err, derr)
			}
		}
	}()

	if err := o.DeepAnalysis(ctx, sessionID); err != nil {
		if derr := o.Degrade(ctx, sessionID, err); derr != nil {
			return errors.Join(err, derr)
		}
		return err
	}
	return nil
}

// PhaseError reports which grading phase failed.
type PhaseError struct {
	Phase session.Phase
	Err   error
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("grading phase %s failed: %v", e.Phase, e.Err)
}

func (e *PhaseError) Unwrap() error {
	return e.Err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
