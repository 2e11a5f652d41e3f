// Package analyzer turns a live conversation into real-time coaching
// feedback.
//
// An Analyzer consumes the utterances of one session strictly in order,
// tracked by a processed-through watermark, and runs a set of best-effort
// detectors over each one: objection lifecycle, buying temperature, momentum,
// sales techniques, question quality, close attempts, price handling and
// monologue length. Detectors never fail the caller; a panicking detector is
// recovered and logged.
//
// An Analyzer is not safe for concurrent use. Registry serializes access per
// session and owns the bounded Feed exposed to clients.
package analyzer

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/fyrsmithlabs/dealcoach/internal/transcript"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Config tunes detector thresholds.
type Config struct {
	EarlyWindow          time.Duration // objections at or before this are early
	LateWindow           time.Duration // objections at or after this are late
	MonologueLimit       time.Duration // floor held longer than this fires once
	DedupWindow          time.Duration // rapport and technique repeat window
	ContextWindow        int           // prior utterances consulted for brush-offs
	MomentumMinResponses int           // counterpart replies needed before momentum fires
	Tracker              TrackerConfig
}

// DefaultConfig returns the standard coaching thresholds.
func DefaultConfig() Config {
	return Config{
		EarlyWindow:          90 * time.Second,
		LateWindow:           5 * time.Minute,
		MonologueLimit:       45 * time.Second,
		DedupWindow:          30 * time.Second,
		ContextWindow:        4,
		MomentumMinResponses: 5,
		Tracker:              DefaultTrackerConfig(),
	}
}

// Detector is an additional per-utterance check run after the built-in ones.
type Detector interface {
	Name() string
	Detect(u transcript.Utterance) []FeedbackEvent
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithConfig overrides the thresholds.
func WithConfig(cfg Config) Option {
	return func(a *Analyzer) { a.cfg = cfg }
}

// WithLogger sets the logger used for recovered detector panics.
func WithLogger(l *zap.Logger) Option {
	return func(a *Analyzer) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithMetrics records emitted events and detector panics.
func WithMetrics(m *Metrics) Option {
	return func(a *Analyzer) { a.metrics = m }
}

// WithDetectors appends custom detectors.
func WithDetectors(ds ...Detector) Option {
	return func(a *Analyzer) { a.extra = append(a.extra, ds...) }
}

// Stats are running counts over the processed transcript.
type Stats struct {
	RepUtterances         int            `json:"rep_utterances"`
	CounterpartUtterances int            `json:"counterpart_utterances"`
	RepWords              int            `json:"rep_words"`
	CounterpartWords      int            `json:"counterpart_words"`
	DiscoveryQuestions    int            `json:"discovery_questions"`
	QualifyingQuestions   int            `json:"qualifying_questions"`
	ClosedQuestions       int            `json:"closed_questions"`
	RapportQuestions      int            `json:"rapport_questions"`
	CloseAttempts         int            `json:"close_attempts"`
	Techniques            map[string]int `json:"techniques"`
	CommitmentSignals     int            `json:"commitment_signals"`
	PeakCommitment        string         `json:"peak_commitment"`
	ValueStatements       int            `json:"value_statements"`
}

// Summary is a read-only view of analyzer state.
type Summary struct {
	Stats       Stats               `json:"stats"`
	Objections  []ObjectionInstance `json:"objections"`
	Outstanding []int               `json:"outstanding"`
	Trend       Trend               `json:"trend"`
	Watermark   int                 `json:"watermark"`
}

// Analyzer holds the detector state of one session.
type Analyzer struct {
	sessionID string
	cfg       Config
	logger    *zap.Logger
	metrics   *Metrics
	extra     []Detector

	watermark int
	start     time.Time
	history   []transcript.Utterance
	emitted   map[string]time.Time

	tracker     *ObjectionTracker
	temperature TemperatureEstimator

	responseLengths []int
	momentum        string
	closedStreak    int
	valueStated     bool
	priceFlagged    bool

	floorSpeaker transcript.Speaker
	floorStart   time.Time
	floorFired   bool

	stats Stats
	peak  CommitmentLevel
}

// New creates an analyzer for sessionID.
func New(sessionID string, opts ...Option) *Analyzer {
	a := &Analyzer{
		sessionID: sessionID,
		cfg:       DefaultConfig(),
		logger:    zap.NewNop(),
		watermark: -1,
		emitted:   make(map[string]time.Time),
		stats:     Stats{Techniques: make(map[string]int)},
	}
	for _, opt := range opts {
		opt(a)
	}
	a.tracker = NewObjectionTracker(a.cfg.Tracker)
	a.logger = a.logger.With(zap.String("session.id", sessionID))
	return a
}

// SessionID returns the session the analyzer belongs to.
func (a *Analyzer) SessionID() string {
	return a.sessionID
}

// Watermark returns the highest processed sequence index, or -1.
func (a *Analyzer) Watermark() int {
	return a.watermark
}

// Tracker exposes the objection tracker for inspection.
func (a *Analyzer) Tracker() *ObjectionTracker {
	return a.tracker
}

// ProcessAll sorts us and processes every utterance beyond the watermark.
func (a *Analyzer) ProcessAll(us []transcript.Utterance) []FeedbackEvent {
	ordered := make([]transcript.Utterance, len(us))
	copy(ordered, us)
	transcript.SortByIndex(ordered)

	var out []FeedbackEvent
	for _, u := range ordered {
		out = append(out, a.Process(u)...)
	}
	return out
}

// Process consumes u once. Utterances at or below the watermark are
// ignored and produce no events.
func (a *Analyzer) Process(u transcript.Utterance) []FeedbackEvent {
	if u.SequenceIndex <= a.watermark {
		return nil
	}
	a.watermark = u.SequenceIndex
	if a.start.IsZero() {
		a.start = u.Timestamp
	}

	var out []FeedbackEvent
	out = append(out, a.safely("objection_lifecycle", u, a.detectLifecycle)...)

	switch u.Speaker {
	case transcript.SpeakerCounterpart:
		a.stats.CounterpartUtterances++
		a.stats.CounterpartWords += u.WordCount()
		out = append(out, a.safely("objection", u, a.detectObjection)...)
		out = append(out, a.safely("commitment", u, a.detectCommitment)...)
		out = append(out, a.safely("momentum", u, a.detectMomentum)...)
	case transcript.SpeakerRep:
		a.stats.RepUtterances++
		a.stats.RepWords += u.WordCount()
		out = append(out, a.safely("price_handling", u, a.detectPriceHandling)...)
		out = append(out, a.safely("technique", u, a.detectTechniques)...)
		out = append(out, a.safely("close_attempt", u, a.detectCloseAttempt)...)
		out = append(out, a.safely("question", u, a.detectQuestion)...)
	}

	out = append(out, a.safely("monologue", u, a.detectMonologue)...)
	for _, d := range a.extra {
		out = append(out, a.safely(d.Name(), u, d.Detect)...)
	}

	a.history = append(a.history, u)
	if len(a.history) > a.cfg.ContextWindow {
		a.history = a.history[len(a.history)-a.cfg.ContextWindow:]
	}

	if a.metrics != nil {
		for _, ev := range out {
			a.metrics.EventsTotal.WithLabelValues(string(ev.Kind), string(ev.Severity)).Inc()
		}
	}
	return out
}

// Summary returns a snapshot of the analyzer state.
func (a *Analyzer) Summary() Summary {
	stats := a.stats
	stats.Techniques = make(map[string]int, len(a.stats.Techniques))
	for k, v := range a.stats.Techniques {
		stats.Techniques[k] = v
	}
	stats.PeakCommitment = a.peak.String()

	trend, _ := a.temperature.Trend()
	return Summary{
		Stats:       stats,
		Objections:  a.tracker.Instances(),
		Outstanding: a.tracker.Outstanding(),
		Trend:       trend,
		Watermark:   a.watermark,
	}
}

func (a *Analyzer) safely(name string, u transcript.Utterance, fn func(transcript.Utterance) []FeedbackEvent) (events []FeedbackEvent) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("detector panicked",
				zap.String("detector", name),
				zap.Int("sequence_index", u.SequenceIndex),
				zap.Any("panic", r),
			)
			if a.metrics != nil {
				a.metrics.DetectorPanicsTotal.WithLabelValues(name).Inc()
			}
			events = nil
		}
	}()
	return fn(u)
}

func (a *Analyzer) event(u transcript.Utterance, kind Kind, sev Severity, msg string, extra map[string]string) FeedbackEvent {
	md := map[string]string{
		"utterance_id":   u.ID,
		"sequence_index": strconv.Itoa(u.SequenceIndex),
		"speaker":        string(u.Speaker),
	}
	for k, v := range extra {
		md[k] = v
	}
	return FeedbackEvent{
		ID:        uuid.NewString(),
		Timestamp: u.Timestamp,
		Kind:      kind,
		Message:   msg,
		Severity:  sev,
		Metadata:  md,
	}
}

// once reports whether key has not been emitted before, and marks it.
func (a *Analyzer) once(key string) bool {
	if _, ok := a.emitted[key]; ok {
		return false
	}
	a.emitted[key] = time.Time{}
	return true
}

// within reports whether key may be emitted at, given the dedup window.
func (a *Analyzer) within(key string, at time.Time) bool {
	if last, ok := a.emitted[key]; ok && at.Sub(last) <= a.cfg.DedupWindow {
		return false
	}
	a.emitted[key] = at
	return true
}

func (a *Analyzer) elapsed(u transcript.Utterance) time.Duration {
	return u.Timestamp.Sub(a.start)
}

func (a *Analyzer) transitionEvent(u transcript.Utterance, tr transition) (FeedbackEvent, bool) {
	inst := tr.instance
	key := fmt.Sprintf("%s|%s|%d|%s", inst.Key, tr.kind, inst.Reobjections, tr.extra["quality"])
	if !a.once(key) {
		return FeedbackEvent{}, false
	}
	extra := map[string]string{
		"objection_key":  inst.Key,
		"objection_type": string(inst.Type),
		"status":         string(inst.Status),
	}
	for k, v := range tr.extra {
		extra[k] = v
	}
	return a.event(u, tr.kind, tr.severity, tr.message, extra), true
}

func (a *Analyzer) detectLifecycle(u transcript.Utterance) []FeedbackEvent {
	var out []FeedbackEvent
	for _, tr := range a.tracker.Evaluate(u) {
		if ev, ok := a.transitionEvent(u, tr); ok {
			out = append(out, ev)
		}
	}
	return out
}

func (a *Analyzer) detectObjection(u transcript.Utterance) []FeedbackEvent {
	typ, ok := detectObjection(u.Text)
	if !ok {
		return nil
	}

	elapsed := a.elapsed(u)
	timing := TimingMid
	switch {
	case elapsed <= a.cfg.EarlyWindow:
		timing = TimingEarly
	case elapsed >= a.cfg.LateWindow:
		timing = TimingLate
	}

	brushOff := timing == TimingEarly &&
		(typ == ObjectionNeed || typ == ObjectionTiming) &&
		!a.valuePitchedRecently()

	tr, ok := a.tracker.Raise(u, typ, timing, brushOff)
	if !ok {
		return nil
	}
	if ev, ok := a.transitionEvent(u, tr); ok {
		return []FeedbackEvent{ev}
	}
	return nil
}

// valuePitchedRecently reports a rep value statement in the context window.
func (a *Analyzer) valuePitchedRecently() bool {
	for _, prior := range a.history {
		if prior.Speaker == transcript.SpeakerRep && valueRe.MatchString(prior.Text) {
			return true
		}
	}
	return false
}

func (a *Analyzer) detectCommitment(u transcript.Utterance) []FeedbackEvent {
	level := detectCommitment(u.Text)
	if level == CommitmentNone {
		return nil
	}
	a.temperature.Add(CommitmentSignal{Timestamp: u.Timestamp, Level: level})
	a.stats.CommitmentSignals++
	if level > a.peak {
		a.peak = level
	}
	if level < CommitmentModerate {
		return nil
	}

	msg := fmt.Sprintf("%s commitment signal from the prospect", capitalize(level.String()))
	extra := map[string]string{"level": level.String()}
	if trend, ok := a.temperature.Trend(); ok {
		msg += "; " + trend.describe()
		extra["trend"] = string(trend)
	}

	sev := SeverityNeutral
	if level >= CommitmentStrong {
		sev = SeverityGood
	}
	return []FeedbackEvent{a.event(u, KindCommitment, sev, msg, extra)}
}

func (a *Analyzer) detectMomentum(u transcript.Utterance) []FeedbackEvent {
	a.responseLengths = append(a.responseLengths, u.WordCount())
	n := len(a.responseLengths)
	if n < a.cfg.MomentumMinResponses {
		return nil
	}

	recent := avg(a.responseLengths[n-2:])
	from := n - 2 - 10
	if from < 0 {
		from = 0
	}
	baseline := avg(a.responseLengths[from : n-2])
	if baseline == 0 {
		return nil
	}
	ratio := recent / baseline

	direction := "steady"
	switch {
	case ratio >= 1.5:
		direction = "interest"
	case ratio <= 0.5:
		direction = "disengagement"
	}
	changed := direction != a.momentum
	a.momentum = direction
	if !changed || direction == "steady" {
		return nil
	}

	extra := map[string]string{"direction": direction, "ratio": strconv.FormatFloat(ratio, 'f', 2, 64)}
	if direction == "interest" {
		return []FeedbackEvent{a.event(u, KindMomentum, SeverityGood,
			"The prospect is opening up: answers are getting longer", extra)}
	}
	return []FeedbackEvent{a.event(u, KindMomentum, SeverityNeedsImprovement,
		"The prospect is disengaging: answers are getting shorter", extra)}
}

func avg(xs []int) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum int
	for _, x := range xs {
		sum += x
	}
	return float64(sum) / float64(len(xs))
}

func (a *Analyzer) detectPriceHandling(u transcript.Utterance) []FeedbackEvent {
	if valueRe.MatchString(u.Text) {
		a.valueStated = true
		a.stats.ValueStatements++
	}
	if a.valueStated || a.priceFlagged || !priceMentionRe.MatchString(u.Text) {
		return nil
	}
	a.priceFlagged = true
	return []FeedbackEvent{a.event(u, KindPriceBeforeValue, SeverityNeedsImprovement,
		"Price came up before any value statement; lead with what the service does for them", nil)}
}

func (a *Analyzer) detectTechniques(u transcript.Utterance) []FeedbackEvent {
	var out []FeedbackEvent
	for _, family := range detectTechniques(u.Text) {
		a.stats.Techniques[family]++
		if !a.within("technique:"+family, u.Timestamp) {
			continue
		}
		out = append(out, a.event(u, KindTechnique, SeverityGood,
			fmt.Sprintf("Technique used: %s", family), map[string]string{"technique": family}))
	}
	return out
}

func (a *Analyzer) detectCloseAttempt(u transcript.Utterance) []FeedbackEvent {
	if !closeAttemptRe.MatchString(u.Text) {
		return nil
	}
	a.stats.CloseAttempts++

	outstanding := a.tracker.Outstanding()
	if len(outstanding) == 0 {
		return []FeedbackEvent{a.event(u, KindCloseAttempt, SeverityGood,
			"Close attempt with no open objections", nil)}
	}

	idx := make([]string, len(outstanding))
	for i, v := range outstanding {
		idx[i] = strconv.Itoa(v)
	}
	return []FeedbackEvent{a.event(u, KindCloseAttempt, SeverityNeedsImprovement,
		fmt.Sprintf("Close attempted with %d unresolved objection(s); handle them first", len(outstanding)),
		map[string]string{"outstanding": strings.Join(idx, ",")})}
}

func (a *Analyzer) detectQuestion(u transcript.Utterance) []FeedbackEvent {
	class := classifyQuestion(u.Text)
	if class == QuestionNone {
		return nil
	}

	var out []FeedbackEvent
	if rapportRe.MatchString(u.Text) {
		a.stats.RapportQuestions++
		if a.within("rapport", u.Timestamp) {
			out = append(out, a.event(u, KindRapportQuestion, SeverityGood,
				"Nice rapport-building question", nil))
		}
	}

	switch class {
	case QuestionDiscovery:
		a.stats.DiscoveryQuestions++
		a.closedStreak = 0
		out = append(out, a.event(u, KindQuestionQuality, SeverityGood,
			"Open discovery question", map[string]string{"class": string(class)}))
	case QuestionQualifying:
		a.stats.QualifyingQuestions++
		a.closedStreak = 0
		out = append(out, a.event(u, KindQuestionQuality, SeverityGood,
			"Good qualifying question", map[string]string{"class": string(class)}))
	case QuestionClosedEnded:
		a.stats.ClosedQuestions++
		a.closedStreak++
		if a.closedStreak >= 3 {
			a.closedStreak = 0
			out = append(out, a.event(u, KindClosedStreak, SeverityNeedsImprovement,
				"Three closed questions in a row; try an open question to get them talking", nil))
		}
	}
	return out
}

func (a *Analyzer) detectMonologue(u transcript.Utterance) []FeedbackEvent {
	if u.Speaker != a.floorSpeaker {
		a.floorSpeaker = u.Speaker
		a.floorStart = u.Timestamp
		a.floorFired = false
		return nil
	}
	if a.floorFired || u.Timestamp.Sub(a.floorStart) <= a.cfg.MonologueLimit {
		return nil
	}
	a.floorFired = true

	extra := map[string]string{"held_for": u.Timestamp.Sub(a.floorStart).String()}
	if u.Speaker == transcript.SpeakerRep {
		return []FeedbackEvent{a.event(u, KindMonologue, SeverityNeedsImprovement,
			fmt.Sprintf("You've held the floor for over %s; pause and ask a question", a.cfg.MonologueLimit), extra)}
	}
	return []FeedbackEvent{a.event(u, KindMonologue, SeverityNeutral,
		"The prospect is talking at length; listen for needs you can tie back to", extra)}
}
