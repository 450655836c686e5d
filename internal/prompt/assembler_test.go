package prompt

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"aetheria/internal/domain"
)

func TestChooseStageFirstMeet(t *testing.T) {
	assert.Equal(t, StageFirstMeet, ChooseStage(0, false, false, nil))
}

func TestChooseStageDataCollectionWithoutBirthData(t *testing.T) {
	assert.Equal(t, StageDataCollection, ChooseStage(3, false, false, nil))
}

func TestChooseStageDataCollectionWithBirthDataButNoChart(t *testing.T) {
	assert.Equal(t, StageDataCollection, ChooseStage(3, true, false, nil))
}

func TestChooseStageDeepConsult(t *testing.T) {
	assert.Equal(t, StageDeepConsult, ChooseStage(5, true, true, nil))
}

func TestChooseStageClosingOverridesEverything(t *testing.T) {
	assert.Equal(t, StageClosing, ChooseStage(5, true, true, []string{SignalClosing}))
}

func TestDetectSignalsFindsClosingAndTone(t *testing.T) {
	assert.Contains(t, DetectSignals("謝謝你，先這樣，掰掰"), SignalClosing)
	assert.Contains(t, DetectSignals("我最近很焦慮，很擔心"), "焦慮")
	assert.Empty(t, DetectSignals("今天天氣如何"))
}

func TestAssembleIncludesKnownFactsAndChartSummary(t *testing.T) {
	user := domain.User{DisplayName: "小美", BirthDate: "1990-07-22", BirthTime: "14:15", Gender: "male", BirthLocation: "高雄"}
	locks := []domain.ChartLock{{Kind: domain.KindBazi, Payload: map[string]any{"kind": "bazi", "year": "甲子"}}}

	out := Assemble(Inputs{
		User:           user,
		ChartLocks:     locks,
		UserMessage:    "可以幫我看看嗎",
		TurnCount:      2,
		TargetLanguage: "zh-Hant",
	})

	assert.Contains(t, out, "1990-07-22")
	assert.Contains(t, out, "八字")
	assert.Contains(t, out, "繁體中文")
}

func TestAssembleNoChartsPromptsCalculatorCall(t *testing.T) {
	out := Assemble(Inputs{User: domain.User{BirthDate: "1990-07-22", BirthTime: "14:15", Gender: "male"}, UserMessage: "hi", TurnCount: 1})
	assert.Contains(t, out, "沒有任何已計算的命盤")
}
