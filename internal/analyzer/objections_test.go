package analyzer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func raisePrice(t *testing.T, tr *ObjectionTracker) *ObjectionInstance {
	t.Helper()
	_, ok := tr.Raise(cp(1, 10*time.Second, "That's too expensive."), ObjectionPrice, TimingEarly, false)
	require.True(t, ok)
	return tr.Get(ObjectionKey(ObjectionPrice, "u1"))
}

func TestObjectionTracker_HandleWindow(t *testing.T) {
	tests := []struct {
		name        string
		after       time.Duration
		text        string
		wantHandled bool
		wantQuality HandlingQuality
	}{
		{"ack and solution at the boundary", 30 * time.Second, "I understand, we can offer a payment plan.", true, QualityStrong},
		{"ack and solution past the boundary", 31 * time.Second, "I understand, we can offer a payment plan.", false, QualityNone},
		{"acknowledgment only", 5 * time.Second, "I hear you.", true, QualityWeak},
		{"solution only", 5 * time.Second, "We can offer a payment plan.", true, QualityWeak},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewObjectionTracker(DefaultTrackerConfig())
			inst := raisePrice(t, tr)

			out := tr.Evaluate(rep(2, 10*time.Second+tt.after, tt.text))
			assert.Equal(t, tt.wantHandled, inst.Handled)
			assert.Equal(t, tt.wantQuality, inst.Quality)
			assert.True(t, inst.AddressAttempted)
			if tt.wantHandled {
				require.Len(t, out, 1)
				assert.Equal(t, KindObjectionHandled, out[0].kind)
			} else {
				assert.Empty(t, out)
				assert.Equal(t, []int{1}, tr.Outstanding())
			}
		})
	}
}

func TestObjectionTracker_WeakUpgradesToStrong(t *testing.T) {
	tr := NewObjectionTracker(DefaultTrackerConfig())
	inst := raisePrice(t, tr)

	out := tr.Evaluate(rep(2, 15*time.Second, "I hear you."))
	require.Len(t, out, 1)
	assert.Equal(t, QualityWeak, inst.Quality)
	assert.Equal(t, SeverityNeutral, out[0].severity)

	out = tr.Evaluate(rep(3, 20*time.Second, "I understand, here's what we can do: a payment plan."))
	require.Len(t, out, 1)
	assert.Equal(t, QualityStrong, inst.Quality)
	assert.Equal(t, SeverityGood, out[0].severity)

	assert.Empty(t, tr.Evaluate(rep(4, 25*time.Second, "I understand, and there's a guarantee.")))
}

func TestObjectionTracker_IgnoreWindow(t *testing.T) {
	tr := NewObjectionTracker(DefaultTrackerConfig())
	inst := raisePrice(t, tr)

	assert.Empty(t, tr.Evaluate(rep(2, 70*time.Second, "Let me grab my clipboard.")))
	assert.Equal(t, ObjectionOpen, inst.Status)

	out := tr.Evaluate(rep(3, 71*time.Second, "Let me grab my clipboard."))
	require.Len(t, out, 1)
	assert.Equal(t, KindObjectionIgnored, out[0].kind)
	assert.Equal(t, SeverityNeedsImprovement, out[0].severity)
	assert.Equal(t, ObjectionIgnored, inst.Status)
	assert.Equal(t, []int{1}, tr.Outstanding())

	// ignored is reported once
	assert.Empty(t, tr.Evaluate(rep(4, 90*time.Second, "Let me grab my clipboard.")))
}

func TestObjectionTracker_LateAddressIsNotIgnored(t *testing.T) {
	tr := NewObjectionTracker(DefaultTrackerConfig())
	inst := raisePrice(t, tr)

	tr.Evaluate(rep(2, 50*time.Second, "I understand."))
	assert.True(t, inst.AddressAttempted)
	assert.False(t, inst.Handled)

	assert.Empty(t, tr.Evaluate(rep(3, 2*time.Minute, "Let me grab my clipboard.")))
	assert.Equal(t, ObjectionOpen, inst.Status)
}

func TestObjectionTracker_RaiseWhileOpenIsSilent(t *testing.T) {
	tr := NewObjectionTracker(DefaultTrackerConfig())
	raisePrice(t, tr)

	_, ok := tr.Raise(cp(2, 15*time.Second, "Way too expensive."), ObjectionPrice, TimingEarly, false)
	assert.False(t, ok)
	assert.Len(t, tr.Instances(), 1)
}

func TestObjectionTracker_EvaluateSkipsRaisingUtterance(t *testing.T) {
	tr := NewObjectionTracker(DefaultTrackerConfig())
	inst := raisePrice(t, tr)

	assert.Empty(t, tr.Evaluate(rep(1, 10*time.Second, "I understand, we can offer a payment plan.")))
	assert.False(t, inst.Handled)
}

func TestObjectionKey(t *testing.T) {
	assert.Equal(t, "timing:abc", ObjectionKey(ObjectionTiming, "abc"))
}
