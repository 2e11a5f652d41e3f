package session

// QuestionCounts tallies rep questions by class.
type QuestionCounts struct {
	Discovery  int `json:"discovery"`
	Qualifying int `json:"qualifying"`
	Closed     int `json:"closed"`
	Rapport    int `json:"rapport"`
}

// Signal tags an utterance with a detector outcome.
type Signal struct {
	Index    int    `json:"index"`
	Kind     string `json:"kind"`
	Severity string `json:"severity"`
	Message  string `json:"message,omitempty"`
}

// InstantMetrics is the payload of the instant phase.
type InstantMetrics struct {
	DurationSeconds       float64           `json:"duration_seconds"`
	Utterances            int               `json:"utterances"`
	RepWords              int               `json:"rep_words"`
	CounterpartWords      int               `json:"counterpart_words"`
	PaceWPM               float64           `json:"pace_wpm"`
	RepTalkShare          float64           `json:"rep_talk_share"`
	Questions             QuestionCounts    `json:"questions"`
	ObjectionCount        int               `json:"objection_count"`
	ObjectionsHandled     int               `json:"objections_handled"`
	ObjectionsOutstanding int               `json:"objections_outstanding"`
	CloseAttempts         int               `json:"close_attempts"`
	Techniques            map[string]int    `json:"techniques,omitempty"`
	PeakCommitment        string            `json:"peak_commitment"`
	Trend                 string            `json:"trend"`
	Signals               []Signal          `json:"signals,omitempty"`
	Objections            []ObjectionReview `json:"objections,omitempty"`
	PreliminaryScores     Scores            `json:"preliminary_scores"`
}

// KeyMomentsPayload is the payload of the key-moments phase.
type KeyMomentsPayload struct {
	Moments []KeyMoment `json:"moments"`
}
