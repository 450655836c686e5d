package orchestrator

import (
	"strings"

	"aetheria/internal/domain"
)

// domainKeywords is the heuristic vocabulary used by the fuse step (spec
// §4.7 step 9) to decide whether a message implies a domain request, and by
// the post-hoc quality guard to check whether the final reply actually used
// the vocabulary of the chart it just computed. Per spec §9's open
// question, this set is defined explicitly here rather than guessed at
// runtime, and treated as a safety net rather than a primary control path.
var domainKeywords = []string{
	"命盤", "算命", "看一下", "看看", "命理", "運勢", "八字", "紫微", "占星", "星座", "人類圖", "塔羅", "數字學",
}

// MessageImpliesDomainRequest is the heuristic gate for the fuse step.
func MessageImpliesDomainRequest(message string) bool {
	for _, kw := range domainKeywords {
		if strings.Contains(message, kw) {
			return true
		}
	}
	return false
}

// requiredVocabulary is the small per-calculator term list the post-hoc
// quality guard checks for.
var requiredVocabulary = map[domain.CalculatorKind][]string{
	domain.KindWestern:     {"星座", "宮位", "行星"},
	domain.KindBazi:        {"天干", "地支", "五行"},
	domain.KindZiwei:       {"命宮", "星曜"},
	domain.KindHumanDesign: {"類型", "權威"},
	domain.KindTarot:       {"牌"},
	domain.KindNumerology:  {"生命靈數"},
}

func vocabularyMentioned(text string, kind domain.CalculatorKind) bool {
	for _, term := range requiredVocabulary[kind] {
		if strings.Contains(text, term) {
			return true
		}
	}
	return false
}

var guardTemplates = map[domain.CalculatorKind]string{
	domain.KindWestern:     "補充一下：這份命盤的星座、行星與宮位分布，是解讀你性格與人生課題的重要依據。",
	domain.KindBazi:        "補充一下：命盤中的天干、地支與五行搭配，反映了你先天的性格與流年運勢。",
	domain.KindZiwei:       "補充一下：命宮與星曜的組合，決定了這份紫微命盤的核心性格基調。",
	domain.KindHumanDesign: "補充一下：你的人類圖類型與內在權威，是做決策時可以參考的重要依據。",
	domain.KindTarot:       "補充一下：抽到的牌面組合，反映了目前處境與可能的發展方向。",
	domain.KindNumerology:  "補充一下：你的生命靈數揭示了這一生的核心課題。",
}

// GuardAppendix returns the short template paragraph the quality guard
// appends when the vocabulary check fails.
func GuardAppendix(kind domain.CalculatorKind) string {
	if t, ok := guardTemplates[kind]; ok {
		return t
	}
	return ""
}
