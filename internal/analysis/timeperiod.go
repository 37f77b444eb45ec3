package analysis

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Time periods in the dataset look like "H1'25" (first half of 2025) or
// "Q3'24". Plain years ("2025") also occur. Sorting must be chronological,
// never alphabetical: H2'24 comes before H1'25 even though the strings sort
// the other way.

var periodPattern = regexp.MustCompile(`^(H|Q)([1-4])\s*'?(\d{2}|\d{4})$`)

// PeriodOrder converts a time-period label into a sortable integer. Higher
// means later. Unparseable labels return 0 so they sort first but keep a
// stable position relative to each other.
func PeriodOrder(period string) int {
	p := strings.ToUpper(strings.TrimSpace(period))

	if m := periodPattern.FindStringSubmatch(p); m != nil {
		year := parseYear(m[3])
		index, _ := strconv.Atoi(m[2])
		switch m[1] {
		case "H":
			// Halves map onto quarter slots: H1 → Q1, H2 → Q3.
			return year*10 + (index-1)*2 + 1
		case "Q":
			return year*10 + index
		}
	}

	if year, err := strconv.Atoi(p); err == nil && year >= 1900 && year <= 2999 {
		return year * 10
	}

	return 0
}

func parseYear(s string) int {
	year, _ := strconv.Atoi(s)
	if year < 100 {
		year += 2000
	}
	return year
}

// SortPeriods orders period labels chronologically in place.
func SortPeriods(periods []string) {
	sort.SliceStable(periods, func(i, j int) bool {
		return PeriodOrder(periods[i]) < PeriodOrder(periods[j])
	})
}
