package analyzer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTemperatureEstimator_Trend(t *testing.T) {
	tests := []struct {
		name   string
		levels []CommitmentLevel
		want   Trend
	}{
		{"warming", []CommitmentLevel{CommitmentMinimal, CommitmentMinimal, CommitmentBuying, CommitmentBuying}, TrendWarmingUp},
		{"cooling", []CommitmentLevel{CommitmentStrong, CommitmentStrong, CommitmentMinimal, CommitmentMinimal}, TrendCoolingOff},
		{"stable", []CommitmentLevel{CommitmentModerate, CommitmentModerate, CommitmentModerate, CommitmentModerate}, TrendStable},
		{"small drift is stable", []CommitmentLevel{CommitmentModerate, CommitmentModerate, CommitmentModerate, CommitmentModerate, CommitmentModerate, CommitmentStrong}, TrendStable},
		{"full sub-windows", []CommitmentLevel{
			CommitmentBuying, CommitmentBuying, CommitmentBuying,
			CommitmentMinimal, CommitmentMinimal, CommitmentMinimal,
			CommitmentStrong, CommitmentStrong, CommitmentStrong,
		}, TrendWarmingUp},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var e TemperatureEstimator
			for _, l := range tt.levels {
				e.Add(CommitmentSignal{Timestamp: base, Level: l})
			}
			got, ok := e.Trend()
			assert.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTemperatureEstimator_NeedsTwoSignals(t *testing.T) {
	var e TemperatureEstimator
	_, ok := e.Trend()
	assert.False(t, ok)

	e.Add(CommitmentSignal{Timestamp: base, Level: CommitmentBuying})
	trend, ok := e.Trend()
	assert.False(t, ok)
	assert.Equal(t, TrendStable, trend)
}

func TestTemperatureEstimator_Window(t *testing.T) {
	var e TemperatureEstimator
	for i := 0; i < 25; i++ {
		e.Add(CommitmentSignal{Timestamp: base, Level: CommitmentModerate})
	}
	assert.Equal(t, temperatureWindow, e.Len())
}
