package sales

import (
	"strings"
	"unicode"

	"github.com/repchat/internal/conversation"
)

// Tier ranks how strongly a keyword indicates a completed sale.
type Tier string

const (
	TierHigh   Tier = "high"
	TierMedium Tier = "medium"
	TierLow    Tier = "low"
)

// Confidence is the highest tier with at least one match, or none.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
	ConfidenceNone   Confidence = "none"
)

var (
	highKeywords = []string{
		"payment received", "payment processed", "order number", "order confirmed",
		"order placed", "purchase complete", "transaction complete", "paid in full",
		"invoice paid", "tracking number", "receipt",
	}
	mediumKeywords = []string{
		"bought", "purchased", "paid", "ordered", "checkout", "shipped",
		"credit card", "paypal", "venmo", "zelle", "cash app",
	}
	lowKeywords = []string{
		"price", "cost", "how much", "buy", "interested", "discount", "deal",
		"available", "in stock", "quantity", "shipping",
	}
)

type Match struct {
	Keyword string `json:"keyword"`
	Tier    Tier   `json:"tier"`
}

type Counts struct {
	High   int `json:"high"`
	Medium int `json:"medium"`
	Low    int `json:"low"`
}

// Score is the keyword evidence found in one piece of text.
type Score struct {
	Keywords   []Match    `json:"keywords"`
	Confidence Confidence `json:"confidence"`
	Counts     Counts     `json:"counts"`
}

// Scorer matches text against fixed keyword tiers. Matching is a
// case-insensitive substring test and each keyword counts once.
type Scorer struct {
	tiers []tierList
}

type tierList struct {
	tier     Tier
	keywords []string
}

func NewScorer() *Scorer {
	return &Scorer{tiers: []tierList{
		{TierHigh, highKeywords},
		{TierMedium, mediumKeywords},
		{TierLow, lowKeywords},
	}}
}

func (s *Scorer) Score(text string) Score {
	lower := strings.ToLower(text)
	out := Score{Keywords: []Match{}, Confidence: ConfidenceNone}
	for _, tl := range s.tiers {
		for _, kw := range tl.keywords {
			if !strings.Contains(lower, kw) {
				continue
			}
			out.Keywords = append(out.Keywords, Match{Keyword: kw, Tier: tl.tier})
			switch tl.tier {
			case TierHigh:
				out.Counts.High++
			case TierMedium:
				out.Counts.Medium++
			case TierLow:
				out.Counts.Low++
			}
		}
	}
	switch {
	case out.Counts.High > 0:
		out.Confidence = ConfidenceHigh
	case out.Counts.Medium > 0:
		out.Confidence = ConfidenceMedium
	case out.Counts.Low > 0:
		out.Confidence = ConfidenceLow
	}
	return out
}

// EvidenceMatch ties a keyword hit to the message it came from.
type EvidenceMatch struct {
	Keyword        string `json:"keyword"`
	Tier           Tier   `json:"tier"`
	MessageID      string `json:"message_id"`
	ContextSnippet string `json:"context_snippet"`
}

const snippetRadius = 40

// Locate scores every message and returns one match per keyword occurrence
// (first occurrence per message) with surrounding context, in transcript order.
func (s *Scorer) Locate(msgs []*conversation.Message) []EvidenceMatch {
	out := []EvidenceMatch{}
	for _, m := range msgs {
		sc := s.Score(m.Content)
		for _, kw := range sc.Keywords {
			out = append(out, EvidenceMatch{
				Keyword:        kw.Keyword,
				Tier:           kw.Tier,
				MessageID:      m.ID,
				ContextSnippet: snippet(m.Content, kw.Keyword),
			})
		}
	}
	return out
}

func snippet(content, keyword string) string {
	runes := []rune(content)
	lowered := make([]rune, len(runes))
	for i, r := range runes {
		lowered[i] = unicode.ToLower(r)
	}
	idx := indexRunes(lowered, []rune(keyword))
	if idx < 0 {
		return ""
	}
	start := max(0, idx-snippetRadius)
	end := min(len(runes), idx+len([]rune(keyword))+snippetRadius)
	out := strings.TrimSpace(string(runes[start:end]))
	if start > 0 {
		out = "…" + out
	}
	if end < len(runes) {
		out += "…"
	}
	return out
}

func indexRunes(hay, needle []rune) int {
outer:
	for i := 0; i+len(needle) <= len(hay); i++ {
		for j := range needle {
			if hay[i+j] != needle[j] {
				continue outer
			}
		}
		return i
	}
	return -1
}
