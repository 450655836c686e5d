package safety

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifySelfHarm(t *testing.T) {
	assert.Equal(t, CategorySelfHarm, Classify("我最近一直想死，覺得活著沒有意義"))
	assert.Equal(t, CategorySelfHarm, Classify("I want to kill myself"))
}

func TestClassifyMedicalLegal(t *testing.T) {
	assert.Equal(t, CategoryMedicalLegal, Classify("可以幫我診斷這個病嗎"))
}

func TestClassifyNoneForOrdinaryMessage(t *testing.T) {
	assert.Equal(t, CategoryNone, Classify("我是1990年7月22日出生的，想看看我的命盤"))
}

func TestReplyForKnownCategoryIsNonEmpty(t *testing.T) {
	assert.NotEmpty(t, ReplyFor(CategorySelfHarm))
	assert.NotEmpty(t, ReplyFor(CategoryMedicalLegal))
}
