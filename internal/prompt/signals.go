package prompt

import "strings"

// SignalClosing is the hint DetectSignals emits when the message carries a
// farewell cue. ChooseStage treats its presence as the closing transition,
// per spec's "any state + closing signal (farewell keywords) -> closing".
const SignalClosing = "道別"

// signalKeywords maps a short tone hint to the keywords that trigger it,
// grounded on safety.Classify's keyword-classifier shape.
var signalKeywords = []struct {
	hint     string
	keywords []string
}{
	{"焦慮", []string{"擔心", "緊張", "焦慮", "怕", "worried", "anxious", "nervous"}},
	{"沮喪", []string{"難過", "失望", "沮喪", "低落", "sad", "down", "depressed"}},
	{"期待", []string{"期待", "興奮", "開心", "excited", "happy", "looking forward"}},
	{"急迫", []string{"趕快", "快點", "急著", "盡快", "urgent", "asap", "hurry"}},
	{SignalClosing, []string{"再見", "謝謝你", "先這樣", "掰掰", "bye", "goodbye", "thanks, that's all"}},
}

// DetectSignals is the lightweight signal extractor feeding both the stage
// state machine (§4.5.1) and the prompt's tone-hint block (§4.5 step 8). It
// is a plain keyword scan, not LM-delegated, matching the rest of the
// pipeline's deterministic-extraction style.
func DetectSignals(message string) []string {
	lower := strings.ToLower(message)
	var hints []string
	for _, sk := range signalKeywords {
		for _, kw := range sk.keywords {
			if strings.Contains(lower, strings.ToLower(kw)) || strings.Contains(message, kw) {
				hints = append(hints, sk.hint)
				break
			}
		}
	}
	return hints
}

func hasClosingSignal(signals []string) bool {
	for _, s := range signals {
		if s == SignalClosing {
			return true
		}
	}
	return false
}
