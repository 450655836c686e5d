package tools

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math/rand"
	"strings"
)

// The six domain calculators are deterministic stub computations: the
// ephemerides and chart systems themselves are out of scope (spec
// Non-goals), only the calling contract matters. Each handler hashes its
// normalized inputs into a stable, reproducible chart payload so tests and
// the fuse path can assert on exact output.

func fnvLikeSeed(parts ...string) uint64 {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	sum := h.Sum(nil)
	return binary.BigEndian.Uint64(sum[:8])
}

// RegisterCalculators adds the six calculator tools to the registry.
func RegisterCalculators(r *Registry) {
	r.Register(Descriptor{
		Name:        "calculate_bazi",
		Description: "Computes a Chinese four-pillars (BaZi) chart from birth date, time, and gender.",
		Params: []ParamSpec{
			{Name: "birthDate", Kind: KindString, Required: true, Description: "YYYY-MM-DD"},
			{Name: "birthTime", Kind: KindString, Required: true, Description: "HH:MM, 24-hour"},
			{Name: "gender", Kind: KindString, Required: true, Description: "male, female, or other", Enum: []string{"male", "female", "other"}},
		},
	}, handleBazi)

	r.Register(Descriptor{
		Name:        "calculate_ziwei",
		Description: "Computes a Zi Wei Dou Shu chart from birth date, time, gender, and location.",
		Params: []ParamSpec{
			{Name: "birthDate", Kind: KindString, Required: true, Description: "YYYY-MM-DD"},
			{Name: "birthTime", Kind: KindString, Required: true, Description: "HH:MM, 24-hour"},
			{Name: "gender", Kind: KindString, Required: true, Description: "male, female, or other", Enum: []string{"male", "female", "other"}},
			{Name: "location", Kind: KindString, Required: true, Description: "free-text place name"},
		},
	}, handleZiwei)

	r.Register(Descriptor{
		Name:        "calculate_western_astrology",
		Description: "Computes a tropical natal chart from birth date, time, and location.",
		Params: []ParamSpec{
			{Name: "birthDate", Kind: KindString, Required: true, Description: "YYYY-MM-DD"},
			{Name: "birthTime", Kind: KindString, Required: true, Description: "HH:MM, 24-hour"},
			{Name: "location", Kind: KindString, Required: true, Description: "free-text place name"},
		},
	}, handleWestern)

	r.Register(Descriptor{
		Name:        "calculate_human_design",
		Description: "Computes a Human Design bodygraph from birth date, time, and location.",
		Params: []ParamSpec{
			{Name: "birthDate", Kind: KindString, Required: true, Description: "YYYY-MM-DD"},
			{Name: "birthTime", Kind: KindString, Required: true, Description: "HH:MM, 24-hour"},
			{Name: "location", Kind: KindString, Required: true, Description: "free-text place name"},
		},
	}, handleHumanDesign)

	r.Register(Descriptor{
		Name:        "draw_tarot",
		Description: "Draws a tarot spread for a question. Accepts an optional seed for deterministic replay.",
		Params: []ParamSpec{
			{Name: "question", Kind: KindString, Required: true, Description: "the question being asked"},
			{Name: "spread", Kind: KindString, Required: false, Description: "spread kind, e.g. three_card", Enum: []string{"single_card", "three_card", "celtic_cross"}},
			{Name: "seed", Kind: KindNumber, Required: false, Description: "optional deterministic seed"},
		},
	}, handleTarot)

	r.Register(Descriptor{
		Name:        "calculate_numerology",
		Description: "Computes a numerology reading from a full name and birth date.",
		Params: []ParamSpec{
			{Name: "fullName", Kind: KindString, Required: true, Description: "given and family name"},
			{Name: "birthDate", Kind: KindString, Required: true, Description: "YYYY-MM-DD"},
		},
	}, handleNumerology)
}

func str(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

func handleBazi(_ context.Context, _ TurnContext, args map[string]any) (any, error) {
	date, time, gender := str(args, "birthDate"), str(args, "birthTime"), str(args, "gender")
	seed := fnvLikeSeed("bazi", date, time, gender)
	pillars := []string{"year", "month", "day", "hour"}
	stems := []string{"甲", "乙", "丙", "丁", "戊", "己", "庚", "辛", "壬", "癸"}
	branches := []string{"子", "丑", "寅", "卯", "辰", "巳", "午", "未", "申", "酉", "戌", "亥"}
	result := map[string]any{}
	for i, p := range pillars {
		stem := stems[(seed+uint64(i))%uint64(len(stems))]
		branch := branches[(seed+uint64(i*3))%uint64(len(branches))]
		result[p] = stem + branch
	}
	return map[string]any{
		"kind":        "bazi",
		"birthDate":   date,
		"birthTime":   time,
		"gender":      gender,
		"fourPillars": result,
	}, nil
}

func handleZiwei(_ context.Context, _ TurnContext, args map[string]any) (any, error) {
	date, time, gender, loc := str(args, "birthDate"), str(args, "birthTime"), str(args, "gender"), str(args, "location")
	seed := fnvLikeSeed("ziwei", date, time, gender, loc)
	palaces := []string{"命宮", "兄弟", "夫妻", "子女", "財帛", "疾厄", "遷移", "奴僕", "官祿", "田宅", "福德", "父母"}
	mainStar := palaces[seed%uint64(len(palaces))]
	return map[string]any{
		"kind":          "ziwei",
		"birthDate":     date,
		"birthTime":     time,
		"gender":        gender,
		"location":      loc,
		"destinyPalace": mainStar,
		"palaces":       palaces,
	}, nil
}

func handleWestern(_ context.Context, _ TurnContext, args map[string]any) (any, error) {
	date, time, loc := str(args, "birthDate"), str(args, "birthTime"), str(args, "location")
	seed := fnvLikeSeed("western", date, time, loc)
	signs := []string{"Aries", "Taurus", "Gemini", "Cancer", "Leo", "Virgo", "Libra", "Scorpio", "Sagittarius", "Capricorn", "Aquarius", "Pisces"}
	sun := signs[seed%uint64(len(signs))]
	moon := signs[(seed/7)%uint64(len(signs))]
	rising := signs[(seed/13)%uint64(len(signs))]
	return map[string]any{
		"kind":      "western_astrology",
		"birthDate": date,
		"birthTime": time,
		"location":  loc,
		"sunSign":   sun,
		"moonSign":  moon,
		"rising":    rising,
	}, nil
}

func handleHumanDesign(_ context.Context, _ TurnContext, args map[string]any) (any, error) {
	date, time, loc := str(args, "birthDate"), str(args, "birthTime"), str(args, "location")
	seed := fnvLikeSeed("human_design", date, time, loc)
	types := []string{"Generator", "Manifesting Generator", "Projector", "Manifestor", "Reflector"}
	authorities := []string{"Sacral", "Emotional", "Splenic", "Ego", "Self-Projected", "Lunar"}
	return map[string]any{
		"kind":      "human_design",
		"birthDate": date,
		"birthTime": time,
		"location":  loc,
		"type":      types[seed%uint64(len(types))],
		"authority": authorities[(seed/5)%uint64(len(authorities))],
	}, nil
}

var tarotDeck = []string{
	"The Fool", "The Magician", "The High Priestess", "The Empress", "The Emperor",
	"The Hierophant", "The Lovers", "The Chariot", "Strength", "The Hermit",
	"Wheel of Fortune", "Justice", "The Hanged Man", "Death", "Temperance",
	"The Devil", "The Tower", "The Star", "The Moon", "The Sun",
	"Judgement", "The World",
}

func handleTarot(_ context.Context, _ TurnContext, args map[string]any) (any, error) {
	question := str(args, "question")
	spread := str(args, "spread")
	if spread == "" {
		spread = "three_card"
	}
	count := map[string]int{"single_card": 1, "three_card": 3, "celtic_cross": 10}[spread]
	if count == 0 {
		count = 3
	}

	var seed int64
	if sv, ok := args["seed"]; ok {
		switch v := sv.(type) {
		case float64:
			seed = int64(v)
		case int64:
			seed = v
		case int:
			seed = int64(v)
		}
	} else {
		seed = int64(fnvLikeSeed("tarot", question, spread))
	}

	rng := rand.New(rand.NewSource(seed))
	perm := rng.Perm(len(tarotDeck))
	drawn := make([]string, 0, count)
	for i := 0; i < count && i < len(perm); i++ {
		card := tarotDeck[perm[i]]
		if rng.Intn(2) == 0 {
			card += " (reversed)"
		}
		drawn = append(drawn, card)
	}
	return map[string]any{
		"kind":     "tarot",
		"question": question,
		"spread":   spread,
		"cards":    drawn,
		"seed":     seed,
	}, nil
}

func handleNumerology(_ context.Context, _ TurnContext, args map[string]any) (any, error) {
	name, date := str(args, "fullName"), str(args, "birthDate")
	lifePath := reduceDigits(strings.ReplaceAll(date, "-", ""))
	expression := reduceDigits(fmt.Sprintf("%d", fnvLikeSeed("numerology_expr", name)%1_000_000_000))
	return map[string]any{
		"kind":            "numerology",
		"fullName":        name,
		"birthDate":       date,
		"lifePathNumber":  lifePath,
		"expressionNumber": expression,
	}, nil
}

func reduceDigits(digits string) int {
	sum := 0
	for _, r := range digits {
		if r < '0' || r > '9' {
			continue
		}
		sum += int(r - '0')
	}
	for sum > 9 && sum != 11 && sum != 22 {
		next := 0
		for sum > 0 {
			next += sum % 10
			sum /= 10
		}
		sum = next
	}
	return sum
}

// CalculatorFuseOrder is the preference order used by the orchestrator's
// fuse step (spec §4.7 step 9): calculate_bazi, which needs only birth date,
// time and gender, comes first. draw_tarot and calculate_numerology are
// listed but the fuse never selects them, so after bazi it falls through to
// western astrology, human design and ziwei in that order.
var CalculatorFuseOrder = []string{
	"calculate_bazi",
	"calculate_numerology",
	"draw_tarot",
	"calculate_western_astrology",
	"calculate_human_design",
	"calculate_ziwei",
}
