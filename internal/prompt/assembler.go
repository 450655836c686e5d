// Package prompt assembles the per-turn system prompt from ordered sections
// (spec §4.5) and the stage state machine (§4.5.1) that selects the second
// of those sections.
package prompt

import (
	"fmt"
	"strings"

	"aetheria/internal/domain"
	"aetheria/internal/llm"
)

// personaCore is the stable identity and tone section (step 1). Grounded on
// the teacher's prompts.DefaultSystemPrompt: a plain Go string resource
// rather than a templating engine, since the teacher never reaches for one.
const personaCore = `你是「曜境」，一位溫暖、專業又務實的命理諮詢顧問，精通八字、紫微斗數、西洋占星、人類圖、塔羅與數字學。
你的語氣溫暖但不浮誇，用詞具體、不打高空；你重視使用者的情緒感受，但始終以實際可行的建議收尾。`

// toolGuidelines is the enumerated, explicitly-positive rule list (step 3).
const toolGuidelines = `工具使用原則：
- 當使用者的出生資料（日期、時間、性別）齊全，且尚未針對某個命理系統建立命盤時，立即呼叫對應的計算工具，不要只是用文字承諾「我等一下幫你算」。
- 每個命理系統的命盤在同一位使用者身上只需計算一次；若命盤已存在，直接引用既有結果回答，不要重複呼叫計算工具。
- 如果使用者明確提供了姓名、出生資料以外、值得長期記住的個人資訊（例如職業、感情狀態、長期困擾），呼叫 saveUserInsight 儲存。
- 如果使用者問起先前聊過的內容，先呼叫 searchConversationHistory 查詢，再回答。
- 如果出生地尚未轉換成座標與時區，且命盤計算需要座標，呼叫 getLocation。`

// Inputs bundles everything the assembler needs for one turn.
type Inputs struct {
	User            domain.User
	ChartLocks      []domain.ChartLock
	Memory          domain.MemorySnapshot
	UserMessage     string
	TurnCount       int
	EmotionalHints  []string
	OffTopic        bool
	TargetLanguage  string
	MemoryTokenBudget int
}

// Assemble composes the full system prompt string from the nine ordered
// sections specified in spec §4.5.
func Assemble(in Inputs) string {
	hasChart := len(in.ChartLocks) > 0
	signals := in.EmotionalHints
	if signals == nil {
		signals = DetectSignals(in.UserMessage)
	}
	stage := ChooseStage(in.TurnCount, in.User.HasBirthData(), hasChart, signals)

	var b strings.Builder

	b.WriteString(personaCore)
	b.WriteString("\n\n")

	b.WriteString(Directive(stage))
	b.WriteString("\n\n")

	b.WriteString(toolGuidelines)
	b.WriteString("\n\n")

	lang := in.TargetLanguage
	if lang == "" {
		lang = "zh-Hant"
	}
	fmt.Fprintf(&b, "語言規定：你的所有回覆必須使用%s，不得出現其他語言的文字。\n\n", languageLabel(lang))

	if facts := knownFactsBlock(in.User); facts != "" {
		b.WriteString(facts)
		b.WriteString("\n\n")
	}

	b.WriteString(chartSummaryBlock(in.ChartLocks))
	b.WriteString("\n\n")

	if mem := memoryBlock(in.Memory, in.MemoryTokenBudget); mem != "" {
		b.WriteString(mem)
		b.WriteString("\n\n")
	}

	if len(signals) > 0 {
		fmt.Fprintf(&b, "這一輪回覆的語氣提示：%s\n\n", strings.Join(signals, "、"))
	}

	if in.OffTopic {
		b.WriteString("提醒：使用者這則訊息偏離命理諮詢主題，請簡短回應後，自然地將話題導回命理諮詢。\n")
	}

	return strings.TrimRight(b.String(), "\n")
}

func languageLabel(code string) string {
	switch code {
	case "zh-Hant":
		return "繁體中文"
	case "zh-Hans":
		return "簡體中文"
	case "en":
		return "English"
	default:
		return code
	}
}

func knownFactsBlock(u domain.User) string {
	var lines []string
	add := func(label, value string) {
		if value != "" {
			lines = append(lines, fmt.Sprintf("- %s：%s", label, value))
		}
	}
	add("稱呼", u.DisplayName)
	add("出生日期", u.BirthDate)
	add("出生時間", u.BirthTime)
	add("出生地", u.BirthLocation)
	add("性別", u.Gender)
	if len(lines) == 0 {
		return ""
	}
	return "已知使用者資料：\n" + strings.Join(lines, "\n")
}

var calculatorLabels = map[domain.CalculatorKind]string{
	domain.KindBazi:        "八字",
	domain.KindZiwei:       "紫微斗數",
	domain.KindWestern:     "西洋占星",
	domain.KindHumanDesign: "人類圖",
	domain.KindTarot:       "塔羅",
	domain.KindNumerology:  "數字學",
}

func chartSummaryBlock(locks []domain.ChartLock) string {
	if len(locks) == 0 {
		return "目前沒有任何已計算的命盤。若使用者資料齊全且表達了命理諮詢的意圖，呼叫對應的計算工具建立命盤。"
	}
	var b strings.Builder
	b.WriteString("既有命盤摘要：\n")
	for _, lock := range locks {
		label := calculatorLabels[lock.Kind]
		if label == "" {
			label = string(lock.Kind)
		}
		fmt.Fprintf(&b, "- %s：%s\n", label, summarizePayload(lock.Payload))
	}
	return strings.TrimRight(b.String(), "\n")
}

func summarizePayload(payload map[string]any) string {
	if len(payload) == 0 {
		return "(無可用欄位)"
	}
	var parts []string
	for k, v := range payload {
		if k == "kind" {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s=%v", k, v))
		if len(parts) >= 4 {
			break
		}
	}
	return strings.Join(parts, ", ")
}

func memoryBlock(mem domain.MemorySnapshot, tokenBudget int) string {
	if len(mem.Summaries) == 0 && len(mem.Episodic) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("記憶摘要：\n")
	if n := len(mem.Summaries); n > 0 {
		fmt.Fprintf(&b, "上次摘要：%s\n", mem.Summaries[n-1].Text)
	}
	if len(mem.Episodic) > 0 {
		b.WriteString("近期對話：\n")
		budget := tokenBudget
		if budget <= 0 {
			budget = 2000
		}
		used := 0
		for _, m := range mem.Episodic {
			line := fmt.Sprintf("[%s] %s", m.Role, m.Content)
			used += llm.EstimateTokens(line)
			if used > budget {
				break
			}
			b.WriteString(line)
			b.WriteString("\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
