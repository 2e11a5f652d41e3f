package analyzer

import (
	"regexp"
	"strings"
)

// ObjectionType classifies a counterpart objection.
type ObjectionType string

const (
	ObjectionPrice      ObjectionType = "price"
	ObjectionTiming     ObjectionType = "timing"
	ObjectionTrust      ObjectionType = "trust"
	ObjectionNeed       ObjectionType = "need"
	ObjectionAuthority  ObjectionType = "authority"
	ObjectionCompetitor ObjectionType = "competitor"
)

// CommitmentLevel is the ordinal strength of a counterpart commitment signal.
type CommitmentLevel int

const (
	CommitmentNone CommitmentLevel = iota
	CommitmentMinimal
	CommitmentModerate
	CommitmentStrong
	CommitmentBuying
)

func (l CommitmentLevel) String() string {
	switch l {
	case CommitmentMinimal:
		return "minimal"
	case CommitmentModerate:
		return "moderate"
	case CommitmentStrong:
		return "strong"
	case CommitmentBuying:
		return "buying"
	default:
		return "none"
	}
}

// QuestionClass is the quality bucket of a rep question.
type QuestionClass string

const (
	QuestionNone        QuestionClass = ""
	QuestionDiscovery   QuestionClass = "discovery"
	QuestionQualifying  QuestionClass = "qualifying"
	QuestionClosedEnded QuestionClass = "closed"
)

// Technique families detected in rep speech.
const (
	TechniqueReciprocity      = "reciprocity"
	TechniqueSocialProof      = "social_proof"
	TechniqueUrgency          = "urgency"
	TechniqueTieDown          = "tie_down"
	TechniqueAssumptive       = "assumptive"
	TechniquePatternInterrupt = "pattern_interrupt"
	TechniquePriceReframe     = "price_reframe"
	TechniqueThirdPartyStory  = "third_party_story"
)

type phrase struct {
	name  string
	regex *regexp.Regexp
}

func compile(name, expr string) phrase {
	return phrase{name: name, regex: regexp.MustCompile(`(?i)` + expr)}
}

// Objection order matters: the first matching type wins.
var objectionPhrases = []phrase{
	compile(string(ObjectionAuthority), `\b(talk|speak|check) (to|with) (my|the) (wife|husband|spouse|partner|boss|landlord)|\bnot my decision\b|\bask my (wife|husband|spouse|partner)\b`),
	compile(string(ObjectionCompetitor), `\balready (use|using|have|work with|got) (another|a different|some other|a) (company|service|guy|provider)\b|\b(another|other) company\b|\bquote from\b`),
	compile(string(ObjectionPrice), `\btoo (expensive|pricey|much money)\b|\bcosts? too much\b|\bcan'?t afford\b|\bout of (my|our) budget\b|\bprice is (too )?high\b|\bthat'?s a lot of money\b`),
	compile(string(ObjectionTiming), `\bnot (a good|the right) time\b|\bcall (me )?back later\b|\bbusy right now\b|\bmaybe (next|later)\b|\bthink about it\b|\bnot right now\b|\bin a hurry\b`),
	compile(string(ObjectionTrust), `\bnever heard of (you|your company|them)\b|\bscam\b|\bhow do i know\b|\bdon'?t trust\b|\bsounds too good\b`),
	compile(string(ObjectionNeed), `\bdon'?t need\b|\bnot interested\b|\bwe'?re (fine|good|all set|okay)\b|\bno need\b|\bnever had (a|any) problem\b`),
}

// Commitment order is strongest first.
var commitmentPhrases = []struct {
	level CommitmentLevel
	regex *regexp.Regexp
}{
	{CommitmentBuying, regexp.MustCompile(`(?i)\blet'?s do (it|this)\b|\bsign me up\b|\bwhere do i sign\b|\bwhen can you start\b|\bi'?ll take it\b|\bgo ahead\b|\bhow do (we|i) get started\b|\bcount me in\b`)},
	{CommitmentStrong, regexp.MustCompile(`(?i)\bthat sounds (great|good|perfect)\b|\bi like (that|it)\b|\bthat'?s (exactly )?what (we|i) need\b|\bi'?m interested\b|\bthat would be (great|nice|helpful)\b`)},
	{CommitmentModerate, regexp.MustCompile(`(?i)\btell me more\b|\bhow (much|does|long|often)\b|\bwhat (does|would|do you)\b|\binteresting\b|\bmakes sense\b`)},
	{CommitmentMinimal, regexp.MustCompile(`(?i)\b(uh-huh|mm-hmm|yeah|i guess|okay|ok|right|sure)\b`)},
}

var techniquePhrases = []phrase{
	compile(TechniqueReciprocity, `\bfree (inspection|estimate|trial|gift|consultation|treatment)\b|\bno (cost|charge|obligation)\b|\bon the house\b|\bas a thank you\b`),
	compile(TechniqueSocialProof, `\b(your )?neighbors?\b|\b(most|many|other) (families|homeowners|customers|people) (in|on|around)\b|\beveryone (on|in) (your|the|this)\b|\b(\d+|hundreds of|thousands of) (customers|families|homes)\b`),
	compile(TechniqueUrgency, `\b(only|just) (today|this week)\b|\blimited (time|spots|availability)\b|\bbefore (the|it) (season|gets)\b|\b(ends|expires) (today|soon|friday|this week)\b`),
	compile(TechniqueTieDown, `\b(right|isn'?t it|wouldn'?t you|don'?t you|doesn'?t it|wouldn'?t it|fair enough)\?`),
	compile(TechniqueAssumptive, `\bwhen we (come|start|get)\b|\bafter we (treat|install|start)\b|\byour (first|initial) (service|visit|treatment)\b|\bi'?ll (put|get) you (down|in)\b|\bwe'?ll (see|get) you\b`),
	compile(TechniquePatternInterrupt, `\b(i'?m|i am) not here to sell\b|\bbefore you (say|close the door)\b|\bquick (question|one)\b|\bi know you'?re busy\b|\bthis will (only|just) take\b`),
	compile(TechniquePriceReframe, `\b(just|only) \$?\d+(\.\d+)? (a|per) (day|week)\b|\bless than (a|your) (coffee|cup|dollar)\b|\bpays for itself\b|\b(cost|price) of (a|one) (coffee|lunch|dinner)\b`),
	compile(TechniqueThirdPartyStory, `\b(one of my|a) (customers?|clients?|neighbors?) (had|was|told|said)\b|\b(family|couple) (down|up) the (street|road)\b`),
}

var (
	acknowledgmentRe = regexp.MustCompile(`(?i)\bi (understand|hear you|get (it|that)|appreciate)\b|\bthat makes sense\b|\bgreat question\b|\bfair (point|enough)\b|\bi know what you mean\b|\bthat'?s (a )?(valid|fair)\b|\btotally understand\b`)
	solutionRe       = regexp.MustCompile(`(?i)\bpayment plan\b|\bwhat (we|i) can do\b|\bhere'?s (how|what)\b|\bwe (can|could) (offer|do|start|come)\b|\boption\b|\bdiscount\b|\bguarantee\b|\blet me show\b|\bwhat if\b|\bthat'?s why we\b|\bsaves? you\b|\bmoney[- ]back\b|\bno contract\b`)
	acceptanceRe     = regexp.MustCompile(`(?i)\bthat (works|sounds (good|fair|great|reasonable))\b|\b(sounds|looks) good\b|\bokay,? (let'?s|i'?ll)\b|\blet'?s do (it|that)\b|\bthat'?s fair\b|\bi'?d like that\b|\bthat helps\b|\bdeal\b`)
	valueRe          = regexp.MustCompile(`(?i)\bsaves?\b|\bprotect\b|\bguarantee\b|\bbenefit\b|\bvalue\b|\bresults\b|\bwarranty\b|\bpeace of mind\b|\bhelp you\b|\bso that you\b`)
	priceMentionRe   = regexp.MustCompile(`(?i)\$\s?\d+|\bprice\b|\bcost\b|\bper month\b|\ba month\b|\bdollars\b|\bfee\b`)
	closeAttemptRe   = regexp.MustCompile(`(?i)\b(can|shall|should) (we|i) (get you )?(started|set up|scheduled|on the schedule)\b|\bsign (you )?up\b|\bready to (get started|move forward)\b|\blet'?s get (you )?(started|scheduled|on the schedule)\b|\bwhich (day|time) works\b|\bwould you like to (start|go ahead|get started)\b|\bget the paperwork\b`)
	rapportRe        = regexp.MustCompile(`(?i)\bhow (long|are you|is your|has)\b|\b(have|did) you (lived|been|grow)\b|\byour (kids|dog|family|garden|weekend|yard)\b|\bnice (dog|garden|house|yard|car)\b|\bwhere are you from\b`)
	qualifyingRe     = regexp.MustCompile(`(?i)\bbudget\b|\bhow much (are you|do you) (pay|spend)\b|\bwho (makes|decides)\b|\bdecision\b|\bwhen (are you|would you) (looking|planning)\b|\btimeline\b|\bcurrently (pay|spend|using)\b`)
	discoveryRe      = regexp.MustCompile(`(?i)^\s*(what|how|why|tell me|describe|walk me)\b`)
	closedRe         = regexp.MustCompile(`(?i)^\s*(do|does|did|is|are|was|were|can|could|would|will|have|has|should)\b`)
	negationRe       = regexp.MustCompile(`(?i)\b(not|isn'?t|wasn'?t|never|no)\s+(\w+\s+)?$`)
)

// detectObjection returns the first objection type in text, ignoring price
// matches directly preceded by a negation ("it's not too expensive").
func detectObjection(text string) (ObjectionType, bool) {
	for _, p := range objectionPhrases {
		loc := p.regex.FindStringIndex(text)
		if loc == nil {
			continue
		}
		if ObjectionType(p.name) == ObjectionPrice && negationRe.MatchString(text[:loc[0]]) {
			continue
		}
		return ObjectionType(p.name), true
	}
	return "", false
}

func detectCommitment(text string) CommitmentLevel {
	for _, c := range commitmentPhrases {
		if c.regex.MatchString(text) {
			return c.level
		}
	}
	return CommitmentNone
}

func detectTechniques(text string) []string {
	var found []string
	for _, p := range techniquePhrases {
		if p.regex.MatchString(text) {
			found = append(found, p.name)
		}
	}
	return found
}

// classifyQuestion buckets a rep utterance containing a question.
// Qualifying is checked before discovery so "what's your budget?" counts as
// qualifying.
func classifyQuestion(text string) QuestionClass {
	idx := strings.IndexByte(text, '?')
	if idx < 0 {
		return QuestionNone
	}
	question := lastSentence(text[:idx+1])
	switch {
	case qualifyingRe.MatchString(question):
		return QuestionQualifying
	case discoveryRe.MatchString(question):
		return QuestionDiscovery
	case closedRe.MatchString(question):
		return QuestionClosedEnded
	default:
		return QuestionNone
	}
}

// lastSentence returns the sentence ending at the end of s.
func lastSentence(s string) string {
	cut := strings.LastIndexAny(strings.TrimRight(s, "?"), ".!?")
	if cut < 0 {
		return s
	}
	return s[cut+1:]
}
