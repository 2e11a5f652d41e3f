// Package observer follows a grading run from the client side.
//
// An Observer polls one session at a time with an adaptive cadence and
// reveals result sections strictly in order as the record supports them.
// Transient fetch failures are retried with exponential backoff; once
// retries are exhausted the loop ends with a classified Failure telling the
// caller whether to retry or continue with what it has. An overall deadline
// forces best-effort completion so a stuck run never polls forever.
package observer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/fyrsmithlabs/dealcoach/internal/faults"
	"github.com/fyrsmithlabs/dealcoach/internal/session"
	"go.uber.org/zap"
)

// Cause classifies a terminal failure.
type Cause string

const (
	CauseNetwork Cause = "network"
	CauseTimeout Cause = "timeout"
	CauseParse   Cause = "parse"
	CauseServer  Cause = "server"
)

// Recovery is what the caller should offer after a failure.
type Recovery string

const (
	RecoveryRetry           Recovery = "retry"
	RecoveryContinuePartial Recovery = "continue_partial"
)

// Failure ends a poll loop.
type Failure struct {
	Cause    Cause    `json:"cause"`
	Recovery Recovery `json:"recovery"`
	Message  string   `json:"message"`
	Err      error    `json:"-"`
}

// State is one observation emitted by the poll loop.
type State struct {
	SessionID string          `json:"session_id"`
	Completed Completed       `json:"completed"`
	Record    *session.Record `json:"record,omitempty"`
	Done      bool            `json:"done"`
	Partial   bool            `json:"partial"`
	TimedOut  bool            `json:"timed_out,omitempty"`
	Failure   *Failure        `json:"failure,omitempty"`
}

// Config tunes polling.
type Config struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	Deadline        time.Duration
	MaxRetries      int
	RetryBackoff    time.Duration
}

// DefaultConfig returns the standard polling cadence.
func DefaultConfig() Config {
	return Config{
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		Multiplier:      1.5,
		Deadline:        3 * time.Minute,
		MaxRetries:      3,
		RetryBackoff:    time.Second,
	}
}

// ApplyDefaults fills zero fields.
func (c *Config) ApplyDefaults() {
	def := DefaultConfig()
	if c.InitialInterval <= 0 {
		c.InitialInterval = def.InitialInterval
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = def.MaxInterval
	}
	if c.Multiplier < 1 {
		c.Multiplier = def.Multiplier
	}
	if c.Deadline <= 0 {
		c.Deadline = def.Deadline
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = def.MaxRetries
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = def.RetryBackoff
	}
}

// NextInterval returns the poll interval following d.
func (c Config) NextInterval(d time.Duration) time.Duration {
	next := time.Duration(float64(d) * c.Multiplier)
	if next > c.MaxInterval {
		return c.MaxInterval
	}
	return next
}

// Observer runs at most one poll loop at a time.
type Observer struct {
	cfg     Config
	fetcher Fetcher
	logger  *zap.Logger
	sleep   func(ctx context.Context, d time.Duration) error

	mu       sync.Mutex
	activeID string
	cancel   context.CancelFunc
	done     chan struct{}
}

// New creates an Observer.
func New(fetcher Fetcher, cfg Config, logger *zap.Logger) *Observer {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.ApplyDefaults()
	return &Observer{cfg: cfg, fetcher: fetcher, logger: logger, sleep: sleepCtx}
}

// Observe starts polling sessionID and returns the channel of states. Any
// previous loop is cancelled first and its channel closed without a final
// state. The channel closes after a Done state, on cancellation of ctx, or
// when superseded.
func (o *Observer) Observe(ctx context.Context, sessionID string) <-chan State {
	o.Stop()

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	o.mu.Lock()
	o.activeID = sessionID
	o.cancel = cancel
	o.done = done
	o.mu.Unlock()

	out := make(chan State, len(Sections)+2)
	go func() {
		defer close(done)
		defer close(out)
		o.loop(loopCtx, sessionID, out)
	}()
	return out
}

// Stop cancels the active loop, if any, and waits for it to exit.
func (o *Observer) Stop() {
	o.mu.Lock()
	cancel, done := o.cancel, o.done
	o.activeID = ""
	o.cancel = nil
	o.done = nil
	o.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// Active returns the session being observed, or "".
func (o *Observer) Active() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.activeID
}

func (o *Observer) isActive(sessionID string) bool {
	return o.Active() == sessionID
}

func (o *Observer) loop(ctx context.Context, sessionID string, out chan<- State) {
	deadlineCtx, cancel := context.WithTimeout(ctx, o.cfg.Deadline)
	defer cancel()

	logger := o.logger.With(zap.String("session.id", sessionID))
	var (
		completed Completed
		last      *session.Record
		interval  = o.cfg.InitialInterval
	)

	emit := func(st State) bool {
		if !o.isActive(sessionID) {
			logger.Debug("dropping stale observation")
			return false
		}
		st.SessionID = sessionID
		st.Completed = append(Completed(nil), completed...)
		select {
		case out <- st:
			return true
		case <-ctx.Done():
			return false
		}
	}
	expired := func() bool {
		return ctx.Err() == nil && errors.Is(deadlineCtx.Err(), context.DeadlineExceeded)
	}
	bestEffort := func() {
		completed = ForceAdvance(completed, last)
		logger.Warn("observation deadline reached", zap.Int("completed", len(completed)))
		st := State{Record: last, Done: true, Partial: true, TimedOut: true}
		if len(completed) == 0 {
			st.Failure = &Failure{
				Cause:    CauseTimeout,
				Recovery: RecoveryRetry,
				Message:  "grading did not produce results before the deadline",
				Err:      context.DeadlineExceeded,
			}
		}
		emit(st)
	}

	for {
		rec, err := o.fetchWithRetry(deadlineCtx, sessionID)
		switch {
		case ctx.Err() != nil:
			return
		case expired():
			bestEffort()
			return
		case !o.isActive(sessionID):
			return
		case err != nil:
			f := classify(err, len(completed) > 0)
			logger.Warn("observation failed", zap.String("cause", string(f.Cause)), zap.Error(err))
			emit(State{Record: last, Done: true, Partial: len(completed) > 0, Failure: f})
			return
		}

		if rec != nil {
			last = rec
			next := Advance(completed, rec)
			changed := len(next) != len(completed)
			completed = next

			switch {
			case rec.Status == session.StatusFailed:
				emit(State{Record: rec, Done: true, Partial: len(completed) > 0, Failure: &Failure{
					Cause:    CauseServer,
					Recovery: recoveryFor(len(completed) > 0),
					Message:  rec.Error,
				}})
				return
			case completed.Done():
				emit(State{Record: rec, Done: true, Partial: rec.PartialResult})
				return
			case changed:
				if !emit(State{Record: rec}) {
					return
				}
			}
		}

		if err := o.sleep(deadlineCtx, interval); err != nil {
			if expired() {
				bestEffort()
			}
			return
		}
		interval = o.cfg.NextInterval(interval)
	}
}

// fetchWithRetry fetches once plus up to MaxRetries retries for retryable
// failures, backing off RetryBackoff, 2x, 4x. A session that is not visible
// yet yields a nil record and no error.
func (o *Observer) fetchWithRetry(ctx context.Context, sessionID string) (*session.Record, error) {
	backoff := o.cfg.RetryBackoff
	for attempt := 0; ; attempt++ {
		rec, err := o.fetcher.Fetch(ctx, sessionID)
		if err == nil {
			return rec, nil
		}
		if errors.Is(err, session.ErrNotFound) {
			return nil, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !faults.Retryable(err) || attempt >= o.cfg.MaxRetries {
			return nil, err
		}
		o.logger.Debug("fetch failed, retrying",
			zap.String("session.id", sessionID),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)
		if err := o.sleep(ctx, backoff); err != nil {
			return nil, err
		}
		backoff *= 2
	}
}

func classify(err error, partial bool) *Failure {
	f := &Failure{Recovery: recoveryFor(partial), Message: err.Error(), Err: err}
	switch faults.KindOf(err) {
	case faults.KindTransientNetwork:
		f.Cause = CauseNetwork
	case faults.KindTimeout:
		f.Cause = CauseTimeout
	case faults.KindParseFailure:
		f.Cause = CauseParse
	default:
		f.Cause = CauseServer
	}
	return f
}

func recoveryFor(partial bool) Recovery {
	if partial {
		return RecoveryContinuePartial
	}
	return RecoveryRetry
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
