package orchestrator

import (
	"context"
	"encoding/json"
	"time"

	"aetheria/internal/domain"
	"aetheria/internal/extract"
	"aetheria/internal/llm"
	"aetheria/internal/memory"
	"aetheria/internal/tools"
)

// trimToContextBudget drops the oldest entries in contents until the
// estimated token count of systemPrompt+contents fits within the model's
// context window, leaving headroom for the model's own output and the tool
// schemas sent alongside every call. It prefers the provider's accurate
// tokenizer when available, falling back to the chars/4 heuristic otherwise.
func (l *Loop) trimToContextBudget(ctx context.Context, model, systemPrompt string, contents []llm.Message) []llm.Message {
	window, known := llm.ContextSize(model)
	if !known || window <= 0 {
		return contents
	}
	budget := window * 85 / 100

	count := func(msgs []llm.Message) int {
		if tp, ok := l.LM.(llm.TokenizableProvider); ok {
			all := append([]llm.Message{{Role: "system", Content: systemPrompt}}, msgs...)
			if n, err := tp.Tokenizer().CountMessagesTokens(ctx, all); err == nil {
				return n
			}
		}
		return llm.EstimateTokens(systemPrompt) + llm.EstimateTokensForMessages(msgs)
	}

	for len(contents) > 1 && count(contents) > budget {
		contents = contents[1:]
	}
	return contents
}

// patchFrom turns whatever extract.Extract recovered into a memory.UserFactPatch.
// changed reports whether any field was actually found, so callers can skip
// a no-op write.
func patchFrom(f extract.Facts) (memory.UserFactPatch, bool) {
	patch := memory.UserFactPatch{At: time.Now()}
	changed := false
	if f.BirthDate != "" {
		patch.BirthDate = &f.BirthDate
		changed = true
	}
	if f.BirthTime != "" {
		patch.BirthTime = &f.BirthTime
		changed = true
	}
	if f.Gender != "" {
		patch.Gender = &f.Gender
		changed = true
	}
	if f.Location != "" {
		patch.BirthLocation = &f.Location
		changed = true
	}
	return patch, changed
}

// applyPatch mirrors a UserFactPatch onto an in-memory User so the rest of
// this turn sees the freshly-learned facts without a round-trip read.
func applyPatch(u domain.User, patch memory.UserFactPatch) domain.User {
	if patch.DisplayName != nil {
		u.DisplayName = *patch.DisplayName
	}
	if patch.BirthDate != nil {
		u.BirthDate = *patch.BirthDate
	}
	if patch.BirthTime != nil {
		u.BirthTime = *patch.BirthTime
	}
	if patch.BirthLocation != nil {
		u.BirthLocation = *patch.BirthLocation
	}
	if patch.Longitude != nil {
		u.Longitude = patch.Longitude
	}
	if patch.Latitude != nil {
		u.Latitude = patch.Latitude
	}
	if patch.Gender != nil {
		u.Gender = *patch.Gender
	}
	return u
}

// buildFuseCall picks the first calculator in tools.CalculatorFuseOrder whose
// required parameters are all satisfiable from known user facts, and
// constructs the synthetic tool call for it. It never invents a value: if no
// calculator's requirements are fully covered, it declines to fuse.
func buildFuseCall(user domain.User, locks []domain.ChartLock) (llm.ToolCall, bool) {
	already := map[domain.CalculatorKind]bool{}
	for _, l := range locks {
		already[l.Kind] = true
	}

	known := map[string]any{
		"birthDate": user.BirthDate,
		"birthTime": user.BirthTime,
		"gender":    user.Gender,
		"location":  user.BirthLocation,
	}

	for _, name := range tools.CalculatorFuseOrder {
		kind, ok := calculatorKindFor(name)
		if !ok || already[kind] {
			continue
		}
		args, ok := fuseArgsFor(name, known)
		if !ok {
			continue
		}
		tools.NormalizeArgs(args)
		raw, _ := json.Marshal(args)
		return llm.ToolCall{
			Name:             name,
			Args:             raw,
			ID:               "fuse-" + name,
			ThoughtSignature: llm.FuseSignature,
		}, true
	}
	return llm.ToolCall{}, false
}

// fuseArgsFor builds the argument map for one calculator from known facts,
// reporting false if a required fact the fuse step cannot supply is missing.
// draw_tarot and calculate_numerology need inputs (a question, a full name)
// the core never infers, so they are never fuse-eligible.
func fuseArgsFor(toolName string, known map[string]any) (map[string]any, bool) {
	needLocation := toolName == "calculate_ziwei" || toolName == "calculate_western_astrology" || toolName == "calculate_human_design"
	if toolName == "draw_tarot" || toolName == "calculate_numerology" {
		return nil, false
	}
	date, _ := known["birthDate"].(string)
	tme, _ := known["birthTime"].(string)
	gender, _ := known["gender"].(string)
	loc, _ := known["location"].(string)
	if date == "" || tme == "" {
		return nil, false
	}
	if needLocation && loc == "" {
		return nil, false
	}
	args := map[string]any{"birthDate": date, "birthTime": tme}
	if toolName != "calculate_western_astrology" && toolName != "calculate_human_design" {
		if gender == "" {
			return nil, false
		}
		args["gender"] = gender
	}
	if needLocation {
		args["location"] = loc
	}
	return args, true
}
