package engine

import "strings"

// Emotion is the affect label attached to every answer. It is produced after
// the token stream completes and is delivered out-of-band through the
// [Outcome]; the label itself never appears in the stream.
type Emotion string

const (
	EmotionHappy     Emotion = "happy"
	EmotionExcited   Emotion = "excited"
	EmotionThinking  Emotion = "thinking"
	EmotionConfused  Emotion = "confused"
	EmotionGreeting  Emotion = "greeting"
	EmotionGoodbye   Emotion = "goodbye"
	EmotionNeutral   Emotion = "neutral"
	EmotionSad       Emotion = "sad"
	EmotionSurprised Emotion = "surprised"
)

// Emotions returns every recognised label in canonical order.
func Emotions() []Emotion {
	return []Emotion{
		EmotionHappy, EmotionExcited, EmotionThinking, EmotionConfused,
		EmotionGreeting, EmotionGoodbye, EmotionNeutral, EmotionSad,
		EmotionSurprised,
	}
}

// Valid reports whether e is one of the nine recognised labels.
func (e Emotion) Valid() bool {
	switch e {
	case EmotionHappy, EmotionExcited, EmotionThinking, EmotionConfused,
		EmotionGreeting, EmotionGoodbye, EmotionNeutral, EmotionSad,
		EmotionSurprised:
		return true
	}
	return false
}

// answerCues are the answer-side keyword groups in priority order: the first
// group with any keyword present wins.
var answerCues = []struct {
	emotion  Emotion
	keywords []string
}{
	{EmotionHappy, []string{"congratulations", "excellent", "wonderful", "amazing", "fantastic"}},
	{EmotionExcited, []string{"exciting", "thrilled", "incredible"}},
	{EmotionSad, []string{"sorry", "unfortunately", "problem", "issue", "error"}},
	{EmotionSurprised, []string{"interesting", "surprising", "remarkable", "wow"}},
	{EmotionConfused, []string{"unclear", "confusing", "not sure", "difficult to"}},
	{EmotionThinking, []string{"think", "consider", "analyze", "complex", "depends"}},
}

// questionCues are the question-side keyword groups, consulted only when no
// answer cue matched.
var questionCues = []struct {
	emotion  Emotion
	keywords []string
}{
	{EmotionGreeting, []string{"hello", "hi", "hey", "good morning", "good afternoon"}},
	{EmotionGoodbye, []string{"bye", "goodbye", "see you", "farewell"}},
}

// Detect labels answer by scanning it, lowercased, for cue keywords as plain
// substrings. Answer cues are checked first in priority order; when none
// match, the original question decides between greeting, goodbye, and
// neutral. An empty answer is neutral.
func Detect(answer, question string) Emotion {
	if answer == "" {
		return EmotionNeutral
	}
	lower := strings.ToLower(answer)
	for _, cue := range answerCues {
		if containsAny(lower, cue.keywords) {
			return cue.emotion
		}
	}
	lower = strings.ToLower(question)
	for _, cue := range questionCues {
		if containsAny(lower, cue.keywords) {
			return cue.emotion
		}
	}
	return EmotionNeutral
}

// containsAny reports whether s contains any keyword as a substring.
func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
