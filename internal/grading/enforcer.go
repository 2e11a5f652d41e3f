package grading

import (
	"math"
	"regexp"
	"strconv"
	"time"

	"github.com/fyrsmithlabs/dealcoach/internal/scoring"
	"github.com/fyrsmithlabs/dealcoach/internal/session"
	"github.com/fyrsmithlabs/dealcoach/internal/transcript"
	"go.uber.org/zap"
)

// Trigger descriptions recorded in the audit trail.
const (
	TriggerBuyingSignal    = "buying signal phrase detected"
	TriggerSolicitedInfo   = "rep asked for info + info collection detected"
	TriggerInfoCollection  = "info collection detected"
	TriggerRepSolicitation = "rep solicitation detected"
	TriggerSpousalApproval = "spousal approval detected"
)

const (
	reasonClosedFloor     = "Enforced minimum score for closed sale"
	reasonClosingFloor    = "Enforced minimum closing score for closed sale"
	reasonClamp           = "Clamped score to 0-100"
	reasonFallbackClose   = "Transcript shows the sale closed"
	reasonDefaultValue    = "Defaulted missing contract value"
	reasonClearedEarnings = "Cleared earnings for unclosed sale"
	reasonMinEarnings     = "Enforced minimum earnings for closed sale"
)

const (
	minOverallClosed        = 80
	minOverallClosedHandled = 85
	handledThreshold        = 85
	minClosingClosed        = 90
	minEarningsClosed       = 0.01
)

var (
	buyingSignalRe = regexp.MustCompile(`(?i)\blet'?s do (it|this)\b|\bsign me up\b|\bwhere do i sign\b|\bi'?ll take it\b|\bwhen can you (start|come out)\b|\bcount me in\b|\bgo ahead and (schedule|book|sign)\b|\bwe'?ll do it\b`)
	phoneRe        = regexp.MustCompile(`\b(\(?\d{3}\)?[-.\s]?)?\d{3}[-.\s]\d{4}\b`)
	emailRe        = regexp.MustCompile(`(?i)\b[a-z0-9._%+-]+@[a-z0-9.-]+\.[a-z]{2,}\b`)
	addressRe      = regexp.MustCompile(`(?i)\b\d{1,6} [a-z]+( [a-z]+)? (street|st|avenue|ave|road|rd|lane|ln|drive|dr|court|ct|way|boulevard|blvd)\b`)
	nameGivenRe    = regexp.MustCompile(`\b(?:[Ii]t'?s|[Mm]y name is|[Tt]his is|[Ii]'?m) [A-Z][a-z]+\b`)
	solicitationRe = regexp.MustCompile(`(?i)\b(get|grab|have|take) (down )?your (name|number|phone|email|address|info|information)\b|\bwhat'?s (your|the best) (name|number|phone|email|address)\b|\bfill out (the|this|a) (form|agreement|paperwork)\b|\bget the paperwork\b`)
	spousalRe      = regexp.MustCompile(`(?i)\bmy (wife|husband|spouse|partner) (says|said|agrees|agreed|is fine|is on board|approved|wants (it|this))\b|\b(wife|husband|spouse|partner) (gave|gives) (the )?(ok|okay|green light)\b`)
	positiveRe     = regexp.MustCompile(`(?i)\b(sure|yes|yeah|yep|absolutely|definitely|of course|okay|ok|sounds good|sounds great|that works|perfect|great)\b`)
)

// EnforcerConfig sets the commission plan applied to closed sales.
type EnforcerConfig struct {
	CommissionRate       float64
	DefaultContractValue float64
	PerformanceBonus     float64
	BonusThreshold       int
}

// DefaultEnforcerConfig returns the standard commission plan.
func DefaultEnforcerConfig() EnforcerConfig {
	return EnforcerConfig{
		CommissionRate:       0.10,
		DefaultContractValue: 1200,
		PerformanceBonus:     50,
		BonusThreshold:       90,
	}
}

// Verdict is the enforced output of deep analysis.
type Verdict struct {
	Grade     session.Grade
	Analytics session.Analytics
}

// Enforcer post-processes a model result into a grade that respects the
// sale invariants, recording every correction in the audit trail.
type Enforcer struct {
	cfg     EnforcerConfig
	logger  *zap.Logger
	metrics *Metrics
	now     func() time.Time
}

// NewEnforcer creates an Enforcer. Zero config fields take defaults;
// metrics may be nil.
func NewEnforcer(cfg EnforcerConfig, metrics *Metrics, logger *zap.Logger) *Enforcer {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultEnforcerConfig()
	if cfg.CommissionRate <= 0 {
		cfg.CommissionRate = def.CommissionRate
	}
	if cfg.DefaultContractValue <= 0 {
		cfg.DefaultContractValue = def.DefaultContractValue
	}
	if cfg.PerformanceBonus <= 0 {
		cfg.PerformanceBonus = def.PerformanceBonus
	}
	if cfg.BonusThreshold <= 0 {
		cfg.BonusThreshold = def.BonusThreshold
	}
	return &Enforcer{cfg: cfg, logger: logger, metrics: metrics, now: time.Now}
}

// audit accumulates corrections for one Enforce call.
type audit struct {
	e         *Enforcer
	sessionID string
	trail     session.Audit
}

func (a *audit) adjust(field, before, after, reason string) {
	a.trail.Adjustments = append(a.trail.Adjustments, session.Adjustment{
		Field:  field,
		Before: before,
		After:  after,
		Reason: reason,
	})
	a.e.logger.Info("grade adjusted",
		zap.String("session.id", a.sessionID),
		zap.String("field", field),
		zap.String("before", before),
		zap.String("after", after),
		zap.String("reason", reason),
	)
	if a.e.metrics != nil {
		a.e.metrics.Adjustments.WithLabelValues(field).Inc()
	}
}

func (a *audit) clamp(field string, v int) int {
	c := clamp(v)
	if c != v {
		a.adjust(field, strconv.Itoa(v), strconv.Itoa(c), reasonClamp)
	}
	return c
}

func (a *audit) floor(field string, v, least int, reason string) int {
	if v >= least {
		return v
	}
	a.adjust(field, strconv.Itoa(v), strconv.Itoa(least), reason)
	return least
}

// Enforce trusts the model first, falls back to transcript heuristics when
// the model reports no sale, then enforces the score and earnings
// invariants. The returned grade carries its own audit copy.
func (e *Enforcer) Enforce(sessionID string, res scoring.Result, us []transcript.Utterance) Verdict {
	a := &audit{e: e, sessionID: sessionID}
	a.trail.Mechanism = session.MechanismModel
	a.trail.ModelSaleClosed = res.SaleClosed

	closed := res.SaleClosed
	if !closed {
		if triggers := DetectClose(us); len(triggers) > 0 {
			closed = true
			a.trail.Mechanism = session.MechanismHeuristicFallback
			a.trail.Triggers = triggers
			a.adjust("sale_closed", "false", "true", reasonFallbackClose)
			if e.metrics != nil {
				e.metrics.FallbackOverrides.Inc()
			}
		}
	}
	a.trail.FinalSaleClosed = closed

	scores := session.Scores{
		Overall:           a.clamp("scores.overall", res.OverallScore),
		Rapport:           a.clamp("scores.rapport", res.Scores.Rapport),
		Discovery:         a.clamp("scores.discovery", res.Scores.Discovery),
		ObjectionHandling: a.clamp("scores.objection_handling", res.Scores.ObjectionHandling),
		Closing:           a.clamp("scores.closing", res.Scores.Closing),
	}

	grade := session.Grade{SaleClosed: closed}
	if closed {
		minOverall := minOverallClosed
		if scores.ObjectionHandling >= handledThreshold {
			minOverall = minOverallClosedHandled
		}
		scores.Overall = a.floor("scores.overall", scores.Overall, minOverall, reasonClosedFloor)
		scores.Closing = a.floor("scores.closing", scores.Closing, minClosingClosed, reasonClosingFloor)

		value := res.TotalContractValue
		defaulted := false
		if value <= 0 {
			value = e.cfg.DefaultContractValue
			defaulted = true
			a.adjust("deal_details.contract_value", formatMoney(res.TotalContractValue), formatMoney(value), reasonDefaultValue)
		}

		breakdown := &session.EarningsBreakdown{
			ContractValue:  value,
			CommissionRate: e.cfg.CommissionRate,
			Commission:     cents(value * e.cfg.CommissionRate),
		}
		if scores.Overall >= e.cfg.BonusThreshold {
			breakdown.PerformanceBonus = e.cfg.PerformanceBonus
		}
		breakdown.Total = cents(breakdown.Commission + breakdown.PerformanceBonus)
		if breakdown.Total < minEarningsClosed {
			// Tiny contract values round the commission away.
			a.adjust("virtual_earnings", formatMoney(breakdown.Total), formatMoney(minEarningsClosed), reasonMinEarnings)
			breakdown.Commission = cents(minEarningsClosed - breakdown.PerformanceBonus)
			breakdown.Total = minEarningsClosed
		}

		grade.VirtualEarnings = breakdown.Total
		grade.EarningsBreakdown = breakdown
		grade.DealDetails = &session.DealDetails{
			ContractValue:        value,
			ContractValueDefault: defaulted,
			Product:              res.Product,
			Term:                 res.Term,
		}
	} else if res.TotalContractValue > 0 {
		a.adjust("virtual_earnings", formatMoney(cents(res.TotalContractValue*e.cfg.CommissionRate)), formatMoney(0), reasonClearedEarnings)
	}

	grade.Scores = scores
	a.trail.DecidedAt = e.now().UTC()
	grade.Audit = a.trail.Clone()

	e.logger.Info("grade enforced",
		zap.String("session.id", sessionID),
		zap.String("mechanism", string(grade.Audit.Mechanism)),
		zap.Bool("sale_closed", closed),
		zap.Int("overall", scores.Overall),
		zap.Int("adjustments", len(grade.Audit.Adjustments)),
	)

	return Verdict{
		Grade: grade,
		Analytics: session.Analytics{
			Feedback: session.Feedback{
				Narrative:    res.NarrativeFeedback,
				Strengths:    append([]string(nil), res.Strengths...),
				Improvements: append([]string(nil), res.Improvements...),
			},
			ObjectionAnalysis: append([]session.ObjectionReview(nil), res.ObjectionAnalysis...),
			CoachingPlan:      append([]session.CoachingItem(nil), res.CoachingPlan...),
		},
	}
}

// DetectClose scans the transcript for evidence of a closed sale. It
// returns the matched triggers, or nil unless the counterpart responded
// positively at or after the earliest trigger.
func DetectClose(us []transcript.Utterance) []string {
	ordered := make([]transcript.Utterance, len(us))
	copy(ordered, us)
	transcript.SortByIndex(ordered)

	var (
		buying, info, solicited, spousal bool
		first                            = -1
	)
	mark := func(i int) {
		if first < 0 {
			first = i
		}
	}

	for i, u := range ordered {
		switch u.Speaker {
		case transcript.SpeakerRep:
			if solicitationRe.MatchString(u.Text) {
				solicited = true
				mark(i)
			}
		case transcript.SpeakerCounterpart:
			if buyingSignalRe.MatchString(u.Text) {
				buying = true
				mark(i)
			}
			if phoneRe.MatchString(u.Text) || emailRe.MatchString(u.Text) || addressRe.MatchString(u.Text) ||
				(solicited && nameGivenRe.MatchString(u.Text)) {
				info = true
				mark(i)
			}
			if spousalRe.MatchString(u.Text) {
				spousal = true
				mark(i)
			}
		}
	}
	if first < 0 || !respondedPositively(ordered[first:]) {
		return nil
	}

	var triggers []string
	if buying {
		triggers = append(triggers, TriggerBuyingSignal)
	}
	switch {
	case solicited && info:
		triggers = append(triggers, TriggerSolicitedInfo)
	case info:
		triggers = append(triggers, TriggerInfoCollection)
	case solicited:
		triggers = append(triggers, TriggerRepSolicitation)
	}
	if spousal {
		triggers = append(triggers, TriggerSpousalApproval)
	}
	return triggers
}

func respondedPositively(us []transcript.Utterance) bool {
	for _, u := range us {
		if u.Speaker != transcript.SpeakerCounterpart {
			continue
		}
		if positiveRe.MatchString(u.Text) || buyingSignalRe.MatchString(u.Text) {
			return true
		}
	}
	return false
}

func cents(v float64) float64 {
	return math.Round(v*100) / 100
}

func formatMoney(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
