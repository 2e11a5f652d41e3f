package analyzer

import "time"

// Trend labels the direction of recent commitment signals.
type Trend string

const (
	TrendWarmingUp  Trend = "warming_up"
	TrendCoolingOff Trend = "cooling_off"
	TrendStable     Trend = "stable"
)

// CommitmentSignal is one detected commitment level.
type CommitmentSignal struct {
	Timestamp time.Time       `json:"timestamp"`
	Level     CommitmentLevel `json:"level"`
}

const (
	temperatureWindow = 20
	subWindow         = 3
	trendThreshold    = 0.5
)

// TemperatureEstimator keeps a rolling window of commitment signals and
// compares the mean level of the most recent signals with the ones before.
type TemperatureEstimator struct {
	signals []CommitmentSignal
}

// Add records a signal, dropping the oldest beyond the window.
func (e *TemperatureEstimator) Add(s CommitmentSignal) {
	e.signals = append(e.signals, s)
	if len(e.signals) > temperatureWindow {
		e.signals = e.signals[len(e.signals)-temperatureWindow:]
	}
}

// Len returns the number of signals in the window.
func (e *TemperatureEstimator) Len() int {
	return len(e.signals)
}

// Trend compares the recent sub-window with the one before it. It reports
// false until there are at least two signals. Sub-windows shrink to half the
// available signals while the window is filling.
func (e *TemperatureEstimator) Trend() (Trend, bool) {
	n := len(e.signals)
	if n < 2 {
		return TrendStable, false
	}
	k := subWindow
	if n/2 < k {
		k = n / 2
	}
	recent := mean(e.signals[n-k:])
	older := mean(e.signals[n-2*k : n-k])

	switch diff := recent - older; {
	case diff >= trendThreshold:
		return TrendWarmingUp, true
	case diff <= -trendThreshold:
		return TrendCoolingOff, true
	default:
		return TrendStable, true
	}
}

func mean(signals []CommitmentSignal) float64 {
	var sum float64
	for _, s := range signals {
		sum += float64(s.Level)
	}
	return sum / float64(len(signals))
}

func (t Trend) describe() string {
	switch t {
	case TrendWarmingUp:
		return "buying temperature is warming up"
	case TrendCoolingOff:
		return "buying temperature is cooling off"
	default:
		return "buying temperature is steady"
	}
}
