package observer

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/fyrsmithlabs/dealcoach/internal/faults"
	"github.com/fyrsmithlabs/dealcoach/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type step struct {
	rec *session.Record
	err error
}

// scriptFetcher replays steps, repeating the last one forever.
type scriptFetcher struct {
	mu    sync.Mutex
	steps []step
	calls int
}

func (f *scriptFetcher) Fetch(_ context.Context, _ string) (*session.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.steps[min(f.calls, len(f.steps)-1)]
	f.calls++
	return s.rec, s.err
}

func (f *scriptFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fetchFunc func(ctx context.Context, sessionID string) (*session.Record, error)

func (fn fetchFunc) Fetch(ctx context.Context, sessionID string) (*session.Record, error) {
	return fn(ctx, sessionID)
}

// instant returns an Observer whose sleeps are recorded and skipped.
func instant(f Fetcher) (*Observer, *[]time.Duration) {
	o := New(f, DefaultConfig(), nil)
	var (
		mu     sync.Mutex
		sleeps []time.Duration
	)
	o.sleep = func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		sleeps = append(sleeps, d)
		mu.Unlock()
		return ctx.Err()
	}
	return o, &sleeps
}

func collect(t *testing.T, ch <-chan State) []State {
	t.Helper()
	var out []State
	timeout := time.After(5 * time.Second)
	for {
		select {
		case st, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, st)
		case <-timeout:
			t.Fatal("observer did not finish")
		}
	}
}

func notFound() error {
	return errors.Join(errors.New("get s"), session.ErrNotFound)
}

func unavailable() error {
	return faults.Upstream(fetchOp, 503, errors.New("service unavailable"))
}

func TestObserver_RevealsSectionsUntilDone(t *testing.T) {
	f := &scriptFetcher{steps: []step{
		{err: notFound()},
		{rec: gradingRecord("s1")},
		{rec: gradingRecord("s1")},
		{rec: completeRecord("s1")},
	}}
	o, sleeps := instant(f)

	states := collect(t, o.Observe(context.Background(), "s1"))

	require.Len(t, states, 2)
	assert.Equal(t, Completed{SectionSummary}, states[0].Completed)
	assert.False(t, states[0].Done)

	final := states[1]
	assert.True(t, final.Done)
	assert.False(t, final.Partial)
	assert.Nil(t, final.Failure)
	assert.Equal(t, Completed(Sections), final.Completed)
	assert.Equal(t, 81, final.Record.Grade.Scores.Overall)

	assert.Equal(t, []time.Duration{
		500 * time.Millisecond,
		750 * time.Millisecond,
		1125 * time.Millisecond,
	}, *sleeps)
}

func TestObserver_PartialResult(t *testing.T) {
	rec := completeRecord("s1")
	rec.Analytics = nil
	rec.PartialResult = true
	rec.Error = "deep analysis failed"
	o, _ := instant(&scriptFetcher{steps: []step{{rec: rec}}})

	states := collect(t, o.Observe(context.Background(), "s1"))

	require.Len(t, states, 1)
	assert.True(t, states[0].Done)
	assert.True(t, states[0].Partial)
	assert.Nil(t, states[0].Failure)
}

func TestConfig_NextInterval(t *testing.T) {
	cfg := DefaultConfig()
	d := cfg.InitialInterval
	var seq []time.Duration
	for i := 0; i < 8; i++ {
		seq = append(seq, d)
		d = cfg.NextInterval(d)
	}
	assert.Equal(t, []time.Duration{
		500 * time.Millisecond,
		750 * time.Millisecond,
		1125 * time.Millisecond,
		1687500 * time.Microsecond,
		2531250 * time.Microsecond,
		3796875 * time.Microsecond,
		5 * time.Second,
		5 * time.Second,
	}, seq)
}

func TestObserver_RetriesTransientFailures(t *testing.T) {
	f := &scriptFetcher{steps: []step{
		{err: unavailable()},
		{err: unavailable()},
		{rec: completeRecord("s1")},
	}}
	o, sleeps := instant(f)

	states := collect(t, o.Observe(context.Background(), "s1"))

	require.Len(t, states, 1)
	assert.True(t, states[0].Done)
	assert.Nil(t, states[0].Failure)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, *sleeps)
}

func TestObserver_RetryExhaustion(t *testing.T) {
	f := &scriptFetcher{steps: []step{{err: unavailable()}}}
	o, sleeps := instant(f)

	states := collect(t, o.Observe(context.Background(), "s1"))

	require.Len(t, states, 1)
	failure := states[0].Failure
	require.NotNil(t, failure)
	assert.Equal(t, CauseServer, failure.Cause)
	assert.Equal(t, RecoveryRetry, failure.Recovery)
	assert.True(t, states[0].Done)
	assert.False(t, states[0].Partial)
	assert.Equal(t, 4, f.Calls())
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, *sleeps)
}

func TestObserver_FailureAfterProgressContinuesPartial(t *testing.T) {
	netErr := &url.Error{Op: "Get", URL: "http://localhost/session/s1", Err: errors.New("connection refused")}
	f := &scriptFetcher{steps: []step{
		{rec: gradingRecord("s1")},
		{err: netErr},
	}}
	o, _ := instant(f)

	states := collect(t, o.Observe(context.Background(), "s1"))

	require.Len(t, states, 2)
	final := states[1]
	require.NotNil(t, final.Failure)
	assert.Equal(t, CauseNetwork, final.Failure.Cause)
	assert.Equal(t, RecoveryContinuePartial, final.Failure.Recovery)
	assert.True(t, final.Partial)
	assert.Equal(t, Completed{SectionSummary}, final.Completed)
}

func TestObserver_ParseFailureIsNotRetried(t *testing.T) {
	f := &scriptFetcher{steps: []step{{err: faults.New(faults.KindParseFailure, fetchOp, errors.New("bad json"))}}}
	o, sleeps := instant(f)

	states := collect(t, o.Observe(context.Background(), "s1"))

	require.Len(t, states, 1)
	require.NotNil(t, states[0].Failure)
	assert.Equal(t, CauseParse, states[0].Failure.Cause)
	assert.Equal(t, 1, f.Calls())
	assert.Empty(t, *sleeps)
}

func TestObserver_ClientErrorIsNotRetried(t *testing.T) {
	f := &scriptFetcher{steps: []step{{err: faults.Upstream(fetchOp, 400, errors.New("bad id"))}}}
	o, _ := instant(f)

	states := collect(t, o.Observe(context.Background(), "s1"))

	require.Len(t, states, 1)
	assert.Equal(t, CauseServer, states[0].Failure.Cause)
	assert.Equal(t, 1, f.Calls())
}

func TestObserver_FailedSession(t *testing.T) {
	rec := pendingRecord("s1")
	rec.Status = session.StatusFailed
	rec.Error = "transcript not ready"
	o, _ := instant(&scriptFetcher{steps: []step{{rec: rec}}})

	states := collect(t, o.Observe(context.Background(), "s1"))

	require.Len(t, states, 1)
	require.NotNil(t, states[0].Failure)
	assert.Equal(t, CauseServer, states[0].Failure.Cause)
	assert.Equal(t, RecoveryRetry, states[0].Failure.Recovery)
	assert.Equal(t, "transcript not ready", states[0].Failure.Message)
}

func TestObserver_DeadlineForcesBestEffortCompletion(t *testing.T) {
	cfg := Config{
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
		Deadline:        50 * time.Millisecond,
	}
	o := New(&scriptFetcher{steps: []step{{rec: gradingRecord("s1")}}}, cfg, nil)

	states := collect(t, o.Observe(context.Background(), "s1"))

	require.Len(t, states, 2)
	final := states[1]
	assert.True(t, final.Done)
	assert.True(t, final.TimedOut)
	assert.True(t, final.Partial)
	assert.Nil(t, final.Failure)
	assert.Equal(t, Completed{SectionSummary}, final.Completed)
}

func TestObserver_DeadlineRevealsPresentSections(t *testing.T) {
	cfg := Config{
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
		Deadline:        50 * time.Millisecond,
	}
	rec := gradingRecord("s1")
	rec.Grade = &session.Grade{Scores: session.Scores{Overall: 77}}
	rec.Analytics = &session.Analytics{Feedback: session.Feedback{Narrative: "Close earlier."}}
	o := New(&scriptFetcher{steps: []step{{rec: rec}}}, cfg, nil)

	states := collect(t, o.Observe(context.Background(), "s1"))

	require.NotEmpty(t, states)
	final := states[len(states)-1]
	assert.True(t, final.Done)
	assert.True(t, final.TimedOut)
	assert.True(t, final.Partial)
	assert.Nil(t, final.Failure)
	assert.Equal(t, Completed(Sections), final.Completed)
	require.NotNil(t, final.Record)
	assert.Equal(t, 77, final.Record.Grade.Scores.Overall)
}

func TestObserver_DeadlineWithoutProgressFails(t *testing.T) {
	cfg := Config{
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
		Deadline:        30 * time.Millisecond,
	}
	o := New(&scriptFetcher{steps: []step{{err: notFound()}}}, cfg, nil)

	states := collect(t, o.Observe(context.Background(), "s1"))

	require.Len(t, states, 1)
	require.NotNil(t, states[0].Failure)
	assert.Equal(t, CauseTimeout, states[0].Failure.Cause)
	assert.Equal(t, RecoveryRetry, states[0].Failure.Recovery)
}

func TestObserver_NewSessionCancelsPreviousLoop(t *testing.T) {
	started := make(chan struct{})
	var once sync.Once
	f := fetchFunc(func(ctx context.Context, id string) (*session.Record, error) {
		if id == "old" {
			once.Do(func() { close(started) })
			<-ctx.Done()
			// A late answer for the old id must never surface.
			return completeRecord("old"), nil
		}
		return completeRecord(id), nil
	})
	o, _ := instant(f)

	oldCh := o.Observe(context.Background(), "old")
	<-started
	newCh := o.Observe(context.Background(), "new")

	assert.Empty(t, collect(t, oldCh))
	states := collect(t, newCh)
	require.Len(t, states, 1)
	assert.Equal(t, "new", states[0].SessionID)
	assert.Equal(t, "new", states[0].Record.SessionID)
	assert.Equal(t, "new", o.Active())
}

func TestObserver_StopClosesChannel(t *testing.T) {
	o, _ := instant(&scriptFetcher{steps: []step{{err: notFound()}}})
	o.sleep = sleepCtx

	ch := o.Observe(context.Background(), "s1")
	o.Stop()

	assert.Empty(t, collect(t, ch))
	assert.Equal(t, "", o.Active())
}
