package prompt

// Stage is one state of the system-prompt directive state machine (spec
// §4.5.1). It is computed fresh every turn, never persisted.
type Stage string

const (
	StageFirstMeet     Stage = "first_meet"
	StageDataCollection Stage = "data_collection"
	StageDeepConsult   Stage = "deep_consult"
	StageClosing       Stage = "closing"
)

// ChooseStage implements the transition function from spec §4.5.1:
// chooseStage(turnCount, hasBirthData, hasChart, emotionalSignals). It takes
// no persisted state: every turn re-derives the stage from current facts.
func ChooseStage(turnCount int, hasBirthData, hasChart bool, emotionalSignals []string) Stage {
	if hasClosingSignal(emotionalSignals) {
		return StageClosing
	}
	if turnCount == 0 {
		return StageFirstMeet
	}
	if !hasBirthData {
		return StageDataCollection
	}
	if hasBirthData && !hasChart {
		return StageDataCollection
	}
	return StageDeepConsult
}

var stageDirectives = map[Stage]string{
	StageFirstMeet: "這是與這位使用者的第一次對話。先簡短自我介紹你能提供的命理諮詢服務，" +
		"並自然地詢問對方的出生年月日、時間、性別與出生地，以便後續分析。不要一次問太多問題。",
	StageDataCollection: "使用者的出生資料尚不完整，或資料已齊全但尚未計算任何命盤。" +
		"若資料已齊全，立即呼叫對應的計算工具，不要只是口頭承諾；若仍缺資料，用一兩個問題自然地補齊。",
	StageDeepConsult: "已經有可用的命盤結果。聚焦在根據命盤內容做深入、具體的解讀與建議，" +
		"避免重複詢問已經取得的資料。",
	StageClosing: "使用者似乎準備結束對話。給出簡短、溫暖的收尾，摘要今天聊到的重點，" +
		"並歡迎對方之後再回來諮詢。",
}

// Directive returns the stage's injected directive paragraph (step 2 of the
// §4.5 composition).
func Directive(s Stage) string {
	if d, ok := stageDirectives[s]; ok {
		return d
	}
	return stageDirectives[StageDataCollection]
}
