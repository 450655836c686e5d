// Package safety implements the rule-based sensitive-topic classifier that
// short-circuits the orchestration loop before any LM call is made.
package safety

import "strings"

// Category names a sensitive-topic bucket. Each has its own pre-composed
// reply template; the orchestrator never asks the LM to generate this text.
type Category string

const (
	CategorySelfHarm     Category = "self_harm"
	CategoryMedicalLegal Category = "medical_legal_opinion"
	CategoryNone         Category = ""
)

var keywordsByCategory = map[Category][]string{
	CategorySelfHarm: {
		"自殺", "想死", "不想活", "結束生命", "傷害自己",
		"suicide", "kill myself", "end my life", "self harm", "self-harm", "hurt myself",
	},
	CategoryMedicalLegal: {
		"診斷", "開藥", "處方", "起訴", "告他", "法律訴訟",
		"diagnose me", "prescribe", "sue them", "file a lawsuit", "medical diagnosis",
	},
}

var templates = map[Category]string{
	CategorySelfHarm: "聽起來你現在承受著很大的痛苦。我不是危機處理的專業人員，但你的安全很重要——" +
		"建議立即聯繫當地的自殺防治專線或信任的人。如果你願意，我可以陪你聊聊，但無法在這個話題上提供專業協助。",
	CategoryMedicalLegal: "這個問題涉及醫療診斷或法律判斷，超出我能負責任回答的範圍。" +
		"建議諮詢合格的醫師或執業律師；我可以在命理諮詢的範圍內陪你討論相關的心境與選擇。",
}

// Classify scans a user message for sensitive-topic cues. It returns
// CategoryNone when nothing matches.
func Classify(message string) Category {
	lower := strings.ToLower(message)
	for _, cat := range []Category{CategorySelfHarm, CategoryMedicalLegal} {
		for _, kw := range keywordsByCategory[cat] {
			if strings.Contains(lower, strings.ToLower(kw)) || strings.Contains(message, kw) {
				return cat
			}
		}
	}
	return CategoryNone
}

// ReplyFor returns the pre-composed safe reply for a category. Callers
// should never reach this with CategoryNone.
func ReplyFor(cat Category) string {
	if reply, ok := templates[cat]; ok {
		return reply
	}
	return "這個話題我無法在這裡深入回應，但很樂意陪你聊聊命理相關的問題。"
}
