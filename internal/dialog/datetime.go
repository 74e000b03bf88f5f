package dialog

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

var months = map[string]time.Month{
	"january": time.January, "february": time.February, "march": time.March,
	"april": time.April, "may": time.May, "june": time.June,
	"july": time.July, "august": time.August, "september": time.September,
	"october": time.October, "november": time.November, "december": time.December,
}

// spokenDayWords maps the English spoken forms of 1-31 to their numeric day
// value. Kept as a literal table rather than generated from a number-spelling
// library: see DESIGN.md for why. Only 21-29 and 31 need multi-word forms;
// the rest are single cardinal words.
var spokenDayWords = map[string]int{
	"one": 1, "two": 2, "three": 3, "four": 4, "five": 5, "six": 6, "seven": 7,
	"eight": 8, "nine": 9, "ten": 10, "eleven": 11, "twelve": 12, "thirteen": 13,
	"fourteen": 14, "fifteen": 15, "sixteen": 16, "seventeen": 17, "eighteen": 18,
	"nineteen": 19, "twenty": 20,
	"twenty one": 21, "twenty two": 22, "twenty three": 23, "twenty four": 24,
	"twenty five": 25, "twenty six": 26, "twenty seven": 27, "twenty eight": 28,
	"twenty nine": 29, "thirty": 30, "thirty one": 31,
}

// ParseDate extracts a calendar date from free-form transcript text, per
// §4.F's recognized forms: "tomorrow"/"today"; "<day> <month>" or
// "<month> <day>" using full month names and spelled-out or numeric days. It
// returns a display string (echoed back in the dialog reply) and the parsed
// date, resolved against now for relative forms.
func ParseDate(text string, now time.Time) (display string, parsed time.Time, ok bool) {
	lower := strings.ToLower(strings.TrimSpace(text))

	switch {
	case strings.Contains(lower, "tomorrow"):
		d := now.AddDate(0, 0, 1)
		return "tomorrow", d, true
	case strings.Contains(lower, "today"):
		return "today", now, true
	}

	if day, month, rest, found := findDayAndMonth(lower); found {
		year := now.Year()
		d := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
		// No year is given, so the date is placed in the current year and is
		// not rolled forward: a month/day already past this year is left for
		// the caller's isPast check to reject.
		_ = rest
		return fmt.Sprintf("%s %s", dayOrdinalWord(day), monthName(month)), d, true
	}

	if d, err := dateparse.ParseAny(text); err == nil {
		return d.Format("2 January"), d, true
	}

	return "", time.Time{}, false
}

// findDayAndMonth scans lower for a "<day> <month>" or "<month> <day>"
// pattern using full month names and the spoken/numeric day lexicon.
func findDayAndMonth(lower string) (day int, month time.Month, rest string, found bool) {
	for name, m := range months {
		idx := strings.Index(lower, name)
		if idx < 0 {
			continue
		}
		before := strings.TrimSpace(lower[:idx])
		after := strings.TrimSpace(lower[idx+len(name):])

		if d, ok := extractTrailingDay(before); ok {
			return d, m, "", true
		}
		if d, ok := extractLeadingDay(after); ok {
			return d, m, "", true
		}
	}
	return 0, 0, "", false
}

func extractTrailingDay(s string) (int, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	if n, ok := spokenDayWords[s]; ok {
		return n, true
	}
	words := strings.Fields(s)
	if len(words) >= 2 {
		if n, ok := spokenDayWords[words[len(words)-2]+" "+words[len(words)-1]]; ok {
			return n, true
		}
	}
	if len(words) >= 1 {
		last := words[len(words)-1]
		if n, ok := spokenDayWords[last]; ok {
			return n, true
		}
		if n, err := strconv.Atoi(strings.TrimRight(last, "stndrh")); err == nil && n >= 1 && n <= 31 {
			return n, true
		}
	}
	return 0, false
}

func extractLeadingDay(s string) (int, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	words := strings.Fields(s)
	if len(words) >= 2 {
		if n, ok := spokenDayWords[words[0]+" "+words[1]]; ok {
			return n, true
		}
	}
	if len(words) >= 1 {
		first := words[0]
		if n, ok := spokenDayWords[first]; ok {
			return n, true
		}
		if n, err := strconv.Atoi(strings.TrimRight(first, "stndrh")); err == nil && n >= 1 && n <= 31 {
			return n, true
		}
	}
	return 0, false
}

func dayOrdinalWord(day int) string {
	return strconv.Itoa(day)
}

func monthName(m time.Month) string {
	return strings.ToLower(m.String())
}
