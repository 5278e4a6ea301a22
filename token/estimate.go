// Package token estimates how many model tokens a piece of text consumes.
//
// The estimate is a weighted rune-class heuristic, not a tokenizer: CJK
// ideographs weigh 1.5, each run of Latin letters (a word) weighs 1.8 and
// every other non-space rune weighs 2. The sum is rounded up. It is good
// enough for logging and context budgeting, not for billing.
package token

import (
	"unicode"

	"github.com/hupe1980/chatmesh/model"
)

// Weights are expressed in tenths of a token so the sum stays exact.
const (
	cjkWeight   = 15
	wordWeight  = 18
	otherWeight = 20
)

// Estimate returns the estimated token count of text. It never returns a
// negative value and Estimate("") == 0. Appending runes to text never
// decreases the result.
func Estimate(text string) int {
	tenths := 0
	inWord := false

	for _, r := range text {
		switch {
		case unicode.Is(unicode.Han, r):
			tenths += cjkWeight
			inWord = false
		case unicode.Is(unicode.Latin, r):
			if !inWord {
				tenths += wordWeight
				inWord = true
			}
		case unicode.IsSpace(r):
			inWord = false
		default:
			tenths += otherWeight
			inWord = false
		}
	}

	return (tenths + 9) / 10
}

// EstimateAll sums the estimates of several texts, e.g. a prompt history.
func EstimateAll(texts ...string) int {
	total := 0
	for _, t := range texts {
		total += Estimate(t)
	}

	return total
}

// EstimateMessages returns the summed estimate of a model history.
func EstimateMessages(msgs []model.Message) int {
	n := 0
	for _, msg := range msgs {
		n += Estimate(msg.Content)
	}

	return n
}
