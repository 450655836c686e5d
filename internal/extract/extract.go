// Package extract deterministically pulls structured facts (birth date,
// birth time, gender, location) out of a free-text user message. It is
// best-effort: fields that cannot be parsed are left empty, never guessed.
package extract

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Facts holds whatever could be parsed out of one message. Empty string
// means "not found in this message", not "blank on purpose".
type Facts struct {
	BirthDate string // YYYY-MM-DD
	BirthTime string // HH:MM, 24h
	Gender    string // male | female | ""
	Location  string
}

var (
	isoDateRe      = regexp.MustCompile(`(\d{4})[-/](\d{1,2})[-/](\d{1,2})`)
	hanDateRe      = regexp.MustCompile(`(\d{4})年(\d{1,2})月(\d{1,2})日`)
	hanTimeFullRe  = regexp.MustCompile(`(\d{1,2})[點时時](\d{1,2})分?`)
	hanTimeHourRe  = regexp.MustCompile(`(\d{1,2})[點时時]`)
	isoTimeRe      = regexp.MustCompile(`(\d{1,2}):(\d{2})`)
	periodPrefixRe = regexp.MustCompile(`(凌晨|早上|上午|中午|下午|晚上|傍晚)`)
)

var periodOffsets = map[string]int{
	"凌晨": 0, "早上": 0, "上午": 0, "中午": 12,
	"下午": 12, "晚上": 12, "傍晚": 12,
}

// Extract runs every sub-extractor over a message independently, so a
// message can yield a date without a time, or vice versa.
func Extract(message string) Facts {
	return Facts{
		BirthDate: extractDate(message),
		BirthTime: extractTime(message),
		Gender:    extractGender(message),
		Location:  extractLocation(message),
	}
}

func extractDate(message string) string {
	if m := hanDateRe.FindStringSubmatch(message); m != nil {
		return formatDate(m[1], m[2], m[3])
	}
	if m := isoDateRe.FindStringSubmatch(message); m != nil {
		return formatDate(m[1], m[2], m[3])
	}
	return ""
}

func formatDate(y, mo, d string) string {
	mi, _ := strconv.Atoi(mo)
	di, _ := strconv.Atoi(d)
	return fmt.Sprintf("%s-%02d-%02d", y, mi, di)
}

// extractTime handles "14:15", "下午2點15分", "早上8點30分", and bare
// "下午2點"/"早上8點" forms, applying the period prefix's 12-hour offset
// only when the hour is in 1-11 (so "下午12點" and already-24h hours are
// left untouched).
func extractTime(message string) string {
	period := ""
	if m := periodPrefixRe.FindStringSubmatch(message); m != nil {
		period = m[1]
	}

	var hour, minute int
	matched := false
	if m := hanTimeFullRe.FindStringSubmatch(message); m != nil {
		hour, _ = strconv.Atoi(m[1])
		minute, _ = strconv.Atoi(m[2])
		matched = true
	} else if m := hanTimeHourRe.FindStringSubmatch(message); m != nil {
		hour, _ = strconv.Atoi(m[1])
		minute = 0
		matched = true
	} else if m := isoTimeRe.FindStringSubmatch(message); m != nil {
		hour, _ = strconv.Atoi(m[1])
		minute, _ = strconv.Atoi(m[2])
		matched = true
	}
	if !matched {
		return ""
	}

	if offset, ok := periodOffsets[period]; ok && offset == 12 && hour >= 1 && hour <= 11 {
		hour += 12
	}
	if hour > 23 {
		hour = 23
	}
	return fmt.Sprintf("%02d:%02d", hour, minute)
}

var genderKeywords = []struct {
	value    string
	keywords []string
}{
	{"male", []string{"男生", "男性", "是男的", "男孩"}},
	{"female", []string{"女生", "女性", "是女的", "女孩"}},
}

func extractGender(message string) string {
	for _, entry := range genderKeywords {
		for _, kw := range entry.keywords {
			if strings.Contains(message, kw) {
				return entry.value
			}
		}
	}
	// Bare 男/女 is a weaker signal: it counts whenever the other character
	// does not appear anywhere in the message.
	if strings.Contains(message, "男") && !strings.Contains(message, "女") {
		return "male"
	}
	if strings.Contains(message, "女") && !strings.Contains(message, "男") {
		return "female"
	}
	return ""
}

var locationMarkerRe = regexp.MustCompile(`在([\p{Han}]{2,6})(出生|長大|)?`)

func extractLocation(message string) string {
	if m := locationMarkerRe.FindStringSubmatch(message); m != nil {
		loc := m[1]
		// Trim trailing particles that occasionally get swept into the match.
		loc = strings.TrimSuffix(loc, "的")
		return loc
	}
	return ""
}
