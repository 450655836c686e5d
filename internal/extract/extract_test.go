package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractFullColdStartMessage(t *testing.T) {
	facts := Extract("我是1990年7月22日下午2點15分出生的，男生，在高雄，請幫我看看。")
	assert.Equal(t, "1990-07-22", facts.BirthDate)
	assert.Equal(t, "14:15", facts.BirthTime)
	assert.Equal(t, "male", facts.Gender)
	assert.Equal(t, "高雄", facts.Location)
}

func TestExtractNaturalLanguageTimeOnly(t *testing.T) {
	facts := Extract("早上8點30分")
	assert.Equal(t, "08:30", facts.BirthTime)
	assert.Empty(t, facts.BirthDate)
}

func TestExtractISODateAndTime(t *testing.T) {
	facts := Extract("我的生日是1990/07/22，出生時間14:15")
	assert.Equal(t, "1990-07-22", facts.BirthDate)
	assert.Equal(t, "14:15", facts.BirthTime)
}

func TestExtractNoonBoundaryUnaffectedByPeriodPrefix(t *testing.T) {
	facts := Extract("下午12點整出生")
	assert.Equal(t, "12:00", facts.BirthTime)
}

func TestExtractReturnsEmptyWhenNothingFound(t *testing.T) {
	facts := Extract("今天天氣真好")
	assert.Empty(t, facts.BirthDate)
	assert.Empty(t, facts.BirthTime)
	assert.Empty(t, facts.Gender)
	assert.Empty(t, facts.Location)
}
