package analyzer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectObjection(t *testing.T) {
	tests := []struct {
		text   string
		want   ObjectionType
		wantOK bool
	}{
		{"That's too expensive for us.", ObjectionPrice, true},
		{"It's not too expensive, honestly.", "", false},
		{"I'd have to talk to my wife first.", ObjectionAuthority, true},
		{"We already use another company.", ObjectionCompetitor, true},
		{"Now's not a good time.", ObjectionTiming, true},
		{"How do I know this isn't a scam?", ObjectionTrust, true},
		{"We don't need that.", ObjectionNeed, true},
		{"What kind of bugs do you treat?", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got, ok := detectObjection(tt.text)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDetectCommitment(t *testing.T) {
	assert.Equal(t, CommitmentBuying, detectCommitment("Okay, sign me up."))
	assert.Equal(t, CommitmentStrong, detectCommitment("That sounds great."))
	assert.Equal(t, CommitmentModerate, detectCommitment("Tell me more."))
	assert.Equal(t, CommitmentMinimal, detectCommitment("Yeah."))
	assert.Equal(t, CommitmentNone, detectCommitment("The dog is barking."))
}

func TestClassifyQuestion(t *testing.T) {
	tests := []struct {
		text string
		want QuestionClass
	}{
		{"What's your budget for this?", QuestionQualifying},
		{"Who makes the decision on the house?", QuestionQualifying},
		{"Thanks. How have the ants been?", QuestionDiscovery},
		{"Do you have kids?", QuestionClosedEnded},
		{"We treat the perimeter.", QuestionNone},
		{"Nice day?", QuestionNone},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, classifyQuestion(tt.text))
		})
	}
}

func TestDetectTechniques(t *testing.T) {
	found := detectTechniques("It's only $1 a day, and your neighbors already love it.")
	assert.ElementsMatch(t, []string{TechniqueSocialProof, TechniquePriceReframe}, found)
	assert.Empty(t, detectTechniques("Hello."))
}
