// Package session holds the persisted grading record of a coaching session
// and the Store interface the grading pipeline and its clients coordinate
// through.
package session

import (
	"encoding/json"
	"time"
)

// Status is the overall grading status of a session.
type Status string

const (
	StatusPending  Status = "pending"
	StatusGrading  Status = "grading"
	StatusComplete Status = "complete"
	StatusFailed   Status = "failed"
)

// Phase names one stage of the grading pipeline.
type Phase string

const (
	PhaseInstant      Phase = "instant"
	PhaseKeyMoments   Phase = "keyMoments"
	PhaseDeepAnalysis Phase = "deepAnalysis"
)

// Phases is the fixed execution order.
var Phases = [3]Phase{PhaseInstant, PhaseKeyMoments, PhaseDeepAnalysis}

// Index returns the position of p in Phases, or -1.
func (p Phase) Index() int {
	for i, q := range Phases {
		if q == p {
			return i
		}
	}
	return -1
}

// PhaseStatus is the status of a single phase.
type PhaseStatus string

const (
	PhasePending  PhaseStatus = "pending"
	PhaseRunning  PhaseStatus = "running"
	PhaseComplete PhaseStatus = "complete"
	PhaseFailed   PhaseStatus = "failed"
)

// PhaseState is the persisted state of one phase.
type PhaseState struct {
	Phase     Phase           `json:"phase"`
	Status    PhaseStatus     `json:"status"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Error     string          `json:"error,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Scores are the per-dimension grades on a 0-100 scale.
type Scores struct {
	Overall           int `json:"overall"`
	Rapport           int `json:"rapport"`
	Discovery         int `json:"discovery"`
	ObjectionHandling int `json:"objection_handling"`
	Closing           int `json:"closing"`
}

// EarningsBreakdown explains VirtualEarnings of a closed sale.
type EarningsBreakdown struct {
	ContractValue    float64 `json:"contract_value"`
	CommissionRate   float64 `json:"commission_rate"`
	Commission       float64 `json:"commission"`
	PerformanceBonus float64 `json:"performance_bonus"`
	Total            float64 `json:"total"`
}

// DealDetails describes the closed deal.
type DealDetails struct {
	ContractValue        float64 `json:"contract_value"`
	ContractValueDefault bool    `json:"contract_value_defaulted,omitempty"`
	Product              string  `json:"product,omitempty"`
	Term                 string  `json:"term,omitempty"`
}

// Mechanism names what decided the final sale status.
type Mechanism string

const (
	MechanismModel             Mechanism = "model"
	MechanismHeuristicFallback Mechanism = "heuristic_fallback"
	MechanismInstantMetrics    Mechanism = "instant_metrics"
)

// Adjustment records one automated correction of model output.
type Adjustment struct {
	Field  string `json:"field"`
	Before string `json:"before"`
	After  string `json:"after"`
	Reason string `json:"reason"`
}

// Audit explains how the final grade was derived from raw model output.
type Audit struct {
	Mechanism       Mechanism    `json:"mechanism"`
	ModelSaleClosed bool         `json:"model_sale_closed"`
	FinalSaleClosed bool         `json:"final_sale_closed"`
	Triggers        []string     `json:"triggers,omitempty"`
	Adjustments     []Adjustment `json:"adjustments,omitempty"`
	DecidedAt       time.Time    `json:"decided_at"`
}

// Clone returns a deep copy.
func (a Audit) Clone() Audit {
	out := a
	out.Triggers = append([]string(nil), a.Triggers...)
	out.Adjustments = append([]Adjustment(nil), a.Adjustments...)
	return out
}

// Grade is the final, invariant-respecting result of a session.
type Grade struct {
	Scores            Scores             `json:"scores"`
	SaleClosed        bool               `json:"sale_closed"`
	VirtualEarnings   float64            `json:"virtual_earnings"`
	EarningsBreakdown *EarningsBreakdown `json:"earnings_breakdown,omitempty"`
	DealDetails       *DealDetails       `json:"deal_details,omitempty"`
	Audit             Audit              `json:"audit"`
}

// Clone returns a deep copy.
func (g Grade) Clone() Grade {
	out := g
	if g.EarningsBreakdown != nil {
		eb := *g.EarningsBreakdown
		out.EarningsBreakdown = &eb
	}
	if g.DealDetails != nil {
		dd := *g.DealDetails
		out.DealDetails = &dd
	}
	out.Audit = g.Audit.Clone()
	return out
}

// Feedback is the narrative part of the analytics.
type Feedback struct {
	Narrative    string   `json:"narrative"`
	Strengths    []string `json:"strengths,omitempty"`
	Improvements []string `json:"improvements,omitempty"`
}

// ObjectionReview is the post-session verdict on one objection.
type ObjectionReview struct {
	Type     string `json:"type"`
	Index    int    `json:"index"`
	Status   string `json:"status"`
	Quality  string `json:"quality,omitempty"`
	Response string `json:"response,omitempty"`
}

// CoachingItem is one practice recommendation.
type CoachingItem struct {
	Focus  string `json:"focus"`
	Action string `json:"action"`
}

// KeyMoment tags a notable utterance.
type KeyMoment struct {
	Index   int    `json:"index"`
	Tag     string `json:"tag"`
	Speaker string `json:"speaker"`
	Excerpt string `json:"excerpt"`
}

// Analytics is the large, separately written analysis blob.
type Analytics struct {
	Feedback          Feedback          `json:"feedback"`
	ObjectionAnalysis []ObjectionReview `json:"objection_analysis,omitempty"`
	CoachingPlan      []CoachingItem    `json:"coaching_plan,omitempty"`
	KeyMoments        []KeyMoment       `json:"key_moments,omitempty"`
}

// Clone returns a deep copy.
func (a Analytics) Clone() Analytics {
	out := a
	out.Feedback.Strengths = append([]string(nil), a.Feedback.Strengths...)
	out.Feedback.Improvements = append([]string(nil), a.Feedback.Improvements...)
	out.ObjectionAnalysis = append([]ObjectionReview(nil), a.ObjectionAnalysis...)
	out.CoachingPlan = append([]CoachingItem(nil), a.CoachingPlan...)
	out.KeyMoments = append([]KeyMoment(nil), a.KeyMoments...)
	return out
}

// Record is everything persisted for one session.
type Record struct {
	SessionID         string        `json:"session_id"`
	Status            Status        `json:"status"`
	Phases            [3]PhaseState `json:"phases"`
	Grade             *Grade        `json:"grade,omitempty"`
	Analytics         *Analytics    `json:"analytics,omitempty"`
	PartialResult     bool          `json:"partial_result"`
	Error             string        `json:"error,omitempty"`
	FeedbackSubmitted bool          `json:"feedback_submitted"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
}

// NewRecord returns a pending record with all phases pending.
func NewRecord(sessionID string, now time.Time) *Record {
	r := &Record{SessionID: sessionID, Status: StatusPending, CreatedAt: now, UpdatedAt: now}
	r.resetPhases(now)
	return r
}

func (r *Record) resetPhases(now time.Time) {
	for i, p := range Phases {
		r.Phases[i] = PhaseState{Phase: p, Status: PhasePending, UpdatedAt: now}
	}
}

// Phase returns the state of p.
func (r *Record) Phase(p Phase) PhaseState {
	if i := p.Index(); i >= 0 {
		return r.Phases[i]
	}
	return PhaseState{Phase: p}
}

// PhaseTrusted reports whether p and every earlier phase are complete.
func (r *Record) PhaseTrusted(p Phase) bool {
	idx := p.Index()
	if idx < 0 {
		return false
	}
	for i := 0; i <= idx; i++ {
		if r.Phases[i].Status != PhaseComplete {
			return false
		}
	}
	return true
}

// Terminal reports whether grading has finished, successfully or not.
func (r *Record) Terminal() bool {
	return r.Status == StatusComplete || r.Status == StatusFailed
}

// Clone returns a deep copy.
func (r *Record) Clone() *Record {
	out := *r
	for i := range r.Phases {
		out.Phases[i].Payload = append(json.RawMessage(nil), r.Phases[i].Payload...)
	}
	if r.Grade != nil {
		g := r.Grade.Clone()
		out.Grade = &g
	}
	if r.Analytics != nil {
		a := r.Analytics.Clone()
		out.Analytics = &a
	}
	return &out
}

// HistoricalAverages summarizes previously graded sessions.
type HistoricalAverages struct {
	Sessions          int     `json:"sessions"`
	Overall           float64 `json:"overall"`
	Rapport           float64 `json:"rapport"`
	Discovery         float64 `json:"discovery"`
	ObjectionHandling float64 `json:"objection_handling"`
	Closing           float64 `json:"closing"`
	CloseRate         float64 `json:"close_rate"`
}
