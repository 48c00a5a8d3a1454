package sales

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/repchat/internal/conversation"
)

func keywords(s Score) []string {
	out := make([]string, len(s.Keywords))
	for i, m := range s.Keywords {
		out[i] = m.Keyword
	}
	return out
}

func TestScoreTiers(t *testing.T) {
	sc := NewScorer()
	p := DefaultPolicy()

	high := sc.Score("Payment RECEIVED, thanks!")
	assert.Equal(t, ConfidenceHigh, high.Confidence)
	assert.True(t, p.ShouldFlag(high))

	twoMedium := sc.Score("I paid with venmo")
	assert.Equal(t, ConfidenceMedium, twoMedium.Confidence)
	assert.Equal(t, 2, twoMedium.Counts.Medium)
	assert.True(t, p.ShouldFlag(twoMedium))

	oneMedium := sc.Score("ok I paid")
	assert.Equal(t, ConfidenceMedium, oneMedium.Confidence)
	assert.Equal(t, 1, oneMedium.Counts.Medium)
	assert.False(t, p.ShouldFlag(oneMedium))

	none := sc.Score("hello there")
	assert.Equal(t, ConfidenceNone, none.Confidence)
	assert.Empty(t, none.Keywords)
	assert.False(t, p.ShouldFlag(none))
}

func TestScoreLowTierThreshold(t *testing.T) {
	sc := NewScorer()
	p := DefaultPolicy()

	two := sc.Score("what's the price, any discount?")
	assert.Equal(t, ConfidenceLow, two.Confidence)
	assert.False(t, p.ShouldFlag(two))

	three := sc.Score("what's the price, any discount? is it in stock")
	assert.Equal(t, 3, three.Counts.Low)
	assert.True(t, p.ShouldFlag(three))
	assert.False(t, p.ShouldAutoCreate(three))
}

func TestScoreCompletedOrderAutoCreates(t *testing.T) {
	s := NewScorer().Score("Great, I bought it! Order number 4471, payment processed.")
	assert.Equal(t, ConfidenceHigh, s.Confidence)
	assert.Subset(t, keywords(s), []string{"order number", "bought", "payment processed"})
	assert.GreaterOrEqual(t, s.Counts.High, 1)
	assert.True(t, DefaultPolicy().ShouldAutoCreate(s))
}

func TestMediumAutoCreateNeedsThree(t *testing.T) {
	sc := NewScorer()
	p := DefaultPolicy()
	assert.False(t, p.ShouldAutoCreate(sc.Score("paid via paypal")))
	assert.True(t, p.ShouldAutoCreate(sc.Score("paid via paypal, already shipped")))
}

func TestKeywordCountedOnce(t *testing.T) {
	s := NewScorer().Score("paid paid PAID")
	assert.Equal(t, 1, s.Counts.Medium)
}

func TestLocateSnippets(t *testing.T) {
	long := "Lorem ipsum dolor sit amet, consectetur adipiscing elit, the Tracking Number is 1Z999 and more text trailing after it for a while"
	msgs := []*conversation.Message{
		{ID: "m1", Content: "hi"},
		{ID: "m2", Content: long},
	}
	got := NewScorer().Locate(msgs)
	require.Len(t, got, 1)
	assert.Equal(t, "tracking number", got[0].Keyword)
	assert.Equal(t, TierHigh, got[0].Tier)
	assert.Equal(t, "m2", got[0].MessageID)
	assert.Contains(t, got[0].ContextSnippet, "Tracking Number is 1Z999")
	assert.True(t, len([]rune(got[0].ContextSnippet)) <= 40*2+len("tracking number")+2)
}
