package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/fyrsmithlabs/dealcoach/internal/analyzer"
	"github.com/fyrsmithlabs/dealcoach/internal/session"
	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startTestNATSServer starts an embedded NATS server for testing.
func startTestNATSServer(t *testing.T) *natsserver.Server {
	t.Helper()
	srv, err := natsserver.NewServer(&natsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1,
		NoLog:  true,
		NoSigs: true,
	})
	require.NoError(t, err)

	go srv.Start()
	if !srv.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}
	t.Cleanup(func() {
		srv.Shutdown()
		srv.WaitForShutdown()
	})
	return srv
}

func newTestPublisher(t *testing.T) *Publisher {
	t.Helper()
	srv := startTestNATSServer(t)
	nc, err := Connect(srv.ClientURL(), nil)
	require.NoError(t, err)
	t.Cleanup(nc.Close)
	return NewPublisher(nc, "test", nil)
}

func receive(t *testing.T, ch chan *nats.Msg) *nats.Msg {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for message")
		return nil
	}
}

func TestPublisher_Subjects(t *testing.T) {
	p := NewPublisher(nil, "", nil)
	assert.Equal(t, "dealcoach.session.sess-1.feedback", p.Subject("sess-1", TypeFeedback))
	assert.Equal(t, "dealcoach.session.a_b_c.phase", p.Subject("a.b c", TypePhase))
	assert.Equal(t, "dealcoach.session.sess-1.*", p.SessionSubjects("sess-1"))
	assert.Equal(t, "phase", EventType("dealcoach.session.sess-1.phase"))
}

func TestPublisher_PublishFeedback(t *testing.T) {
	p := newTestPublisher(t)
	ch := make(chan *nats.Msg, 4)
	sub, err := p.Subscribe("sess-1", ch)
	require.NoError(t, err)
	defer func() { _ = sub.Unsubscribe() }()
	require.NoError(t, p.nc.Flush())

	evs := []analyzer.FeedbackEvent{{
		ID:       "ev-1",
		Kind:     analyzer.KindObjection,
		Message:  "Price objection raised",
		Severity: analyzer.SeverityNeutral,
	}}
	require.NoError(t, p.PublishFeedback(context.Background(), "sess-1", evs))

	msg := receive(t, ch)
	assert.Equal(t, "test.session.sess-1.feedback", msg.Subject)
	var got FeedbackMessage
	require.NoError(t, json.Unmarshal(msg.Data, &got))
	assert.Equal(t, "sess-1", got.SessionID)
	require.Len(t, got.Events, 1)
	assert.Equal(t, "ev-1", got.Events[0].ID)
}

func TestPublisher_EmptyFeedbackIsNotSent(t *testing.T) {
	p := newTestPublisher(t)
	ch := make(chan *nats.Msg, 4)
	sub, err := p.Subscribe("sess-1", ch)
	require.NoError(t, err)
	defer func() { _ = sub.Unsubscribe() }()
	require.NoError(t, p.nc.Flush())

	require.NoError(t, p.PublishFeedback(context.Background(), "sess-1", nil))
	require.NoError(t, p.PublishPhase(context.Background(), "sess-1", session.PhaseState{
		Phase:  session.PhaseInstant,
		Status: session.PhaseComplete,
	}))

	msg := receive(t, ch)
	assert.Equal(t, TypePhase, EventType(msg.Subject), "only the phase message arrives")
	var got PhaseMessage
	require.NoError(t, json.Unmarshal(msg.Data, &got))
	assert.Equal(t, session.PhaseInstant, got.State.Phase)
	assert.Equal(t, session.PhaseComplete, got.State.Status)
}

func TestPublisher_SessionsAreIsolated(t *testing.T) {
	p := newTestPublisher(t)
	ch := make(chan *nats.Msg, 4)
	sub, err := p.Subscribe("sess-1", ch)
	require.NoError(t, err)
	defer func() { _ = sub.Unsubscribe() }()
	require.NoError(t, p.nc.Flush())

	require.NoError(t, p.PublishPhase(context.Background(), "sess-2", session.PhaseState{Phase: session.PhaseInstant}))
	require.NoError(t, p.PublishPhase(context.Background(), "sess-1", session.PhaseState{Phase: session.PhaseKeyMoments}))

	msg := receive(t, ch)
	var got PhaseMessage
	require.NoError(t, json.Unmarshal(msg.Data, &got))
	assert.Equal(t, "sess-1", got.SessionID)
	assert.Equal(t, session.PhaseKeyMoments, got.State.Phase)
}
