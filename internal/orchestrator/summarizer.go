package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"aetheria/internal/domain"
	"aetheria/internal/llm"
	"aetheria/internal/observability"
)

// summaryPrompt asks the strong model tier for a bounded, neutral third-person
// recap; it is a separate, minimal system prompt, not the conversational
// persona (spec §4.9).
const summaryPrompt = `你是一個對話摘要工具。請將以下對話內容整理成一段不超過250字的中立、第三人稱摘要，
保留使用者透露的關鍵事實（出生資料、關心的主題、已得到的結論），不要加入個人意見或新資訊。`

// maybeSummarise condenses the oldest episodic messages into a long-term
// summary once the window exceeds WindowThreshold, then trims the consumed
// messages. Failure here is never fatal to the turn: it is retried on the
// next turn that crosses the threshold again.
func (l *Loop) maybeSummarise(ctx context.Context, userID string) {
	threshold := l.Config.WindowThreshold
	if threshold <= 0 {
		threshold = 30
	}
	keep := l.Config.EpisodicWindowSize
	if keep <= 0 {
		keep = 20
	}

	snap, err := l.Store.ReadMemory(ctx, userID)
	if err != nil || len(snap.Episodic) <= threshold {
		return
	}

	cut := len(snap.Episodic) - keep
	if cut <= 0 {
		return
	}
	toCondense := snap.Episodic[:cut]

	var transcript strings.Builder
	for _, m := range toCondense {
		fmt.Fprintf(&transcript, "[%s] %s\n", m.Role, m.Content)
	}

	log := observability.LoggerWithTrace(ctx)

	sumCtx, cancel := context.WithTimeout(ctx, lmTimeout(l.Config))
	defer cancel()

	resp, err := l.LM.Chat(sumCtx, []llm.Message{
		{Role: "system", Content: summaryPrompt},
		{Role: "user", Content: transcript.String()},
	}, nil, l.StrongModel)
	if err != nil {
		log.Warn().Err(err).Msg("orchestrator_summarise_failed")
		return
	}

	summary := domain.Summary{
		UserID:     userID,
		RangeStart: toCondense[0].CreatedAt,
		RangeEnd:   toCondense[len(toCondense)-1].CreatedAt,
		Size:       len(toCondense),
		Text:       strings.TrimSpace(resp.Content),
		CreatedAt:  time.Now(),
	}

	if err := l.Store.WriteSummary(ctx, userID, summary); err != nil {
		log.Warn().Err(err).Msg("orchestrator_summarise_write_failed")
		return
	}
	if err := l.Store.TrimEpisodicWindow(ctx, userID, keep); err != nil {
		log.Warn().Err(err).Msg("orchestrator_summarise_trim_failed")
	}
}
