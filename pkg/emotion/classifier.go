package emotion

import (
	"strings"
	"unicode"
)

type Label string

const (
	LabelHappy   Label = "happy"
	LabelSad     Label = "sad"
	LabelAngry   Label = "angry"
	LabelExcited Label = "excited"
	LabelNeutral Label = "neutral"
)

// Classification is the black-box contract of the emotion heuristic:
// a label, a prosody intensity in [0.5, 2.0], and a confidence in [0, 1].
type Classification struct {
	Label      Label
	Intensity  float64
	Confidence float64
}

// Neutral is what an unmatched text classifies as.
func Neutral() Classification {
	return Classification{Label: LabelNeutral, Intensity: 1.0, Confidence: 0.5}
}

var lexicon = map[Label][]string{
	LabelHappy:   {"happy", "glad", "great", "wonderful", "nice", "love", "lovely", "pleased", "delighted", "enjoy"},
	LabelSad:     {"sad", "sorry", "unfortunately", "miss", "lonely", "regret", "unhappy", "disappointed", "cry"},
	LabelAngry:   {"angry", "furious", "annoyed", "hate", "terrible", "awful", "outrageous", "unacceptable", "mad"},
	LabelExcited: {"excited", "amazing", "awesome", "incredible", "fantastic", "wow", "thrilled", "exciting"},
}

var intensifiers = map[string]struct{}{
	"very": {}, "so": {}, "really": {}, "extremely": {},
	"absolutely": {}, "totally": {}, "incredibly": {}, "super": {},
}

var negators = map[string]struct{}{
	"not": {}, "no": {}, "never": {}, "hardly": {},
	"barely": {}, "don't": {}, "doesn't": {}, "isn't": {}, "wasn't": {},
}

// negationReach is how many preceding words a negator covers.
const negationReach = 2

// Classify scores the complete response text against a small keyword
// lexicon. Intensifier words raise intensity, negators suppress a matched
// label back toward neutral. Classification runs on full text only; it is
// never meaningful on a single streamed fragment.
func Classify(text string) Classification {
	words := tokenize(text)
	if len(words) == 0 {
		return Neutral()
	}

	hits := make(map[Label]int)
	negated := 0
	for label, keys := range lexicon {
		for i, w := range words {
			if !matchKeyword(w, keys) {
				continue
			}
			if negatedAt(words, i) {
				negated++
				continue
			}
			hits[label]++
		}
	}

	var (
		best      Label
		bestCount int
	)
	for _, label := range []Label{LabelHappy, LabelSad, LabelAngry, LabelExcited} {
		if hits[label] > bestCount {
			best = label
			bestCount = hits[label]
		}
	}
	if bestCount == 0 {
		c := Neutral()
		if negated > 0 {
			// a suppressed match still tells us the text is not flat
			c.Confidence = 0.6
		}
		return c
	}

	intensity := 1.0
	for _, w := range words {
		if _, ok := intensifiers[w]; ok {
			intensity += 0.25
		}
	}

	return Classification{
		Label:      best,
		Intensity:  clamp(intensity, 0.5, 2.0),
		Confidence: clamp(0.4+0.2*float64(bestCount), 0, 1),
	}
}

func matchKeyword(word string, keys []string) bool {
	for _, k := range keys {
		if word == k {
			return true
		}
	}
	return false
}

func negatedAt(words []string, i int) bool {
	for j := i - 1; j >= 0 && j >= i-negationReach; j-- {
		if _, ok := negators[words[j]]; ok {
			return true
		}
	}
	return false
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r) && r != '\''
	})
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
