package scraper

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

// gramsPerTroyOz conversion: 1g = 0.0321507 troy oz.
const gramToOz = 0.0321507

// maxWeightOz is the sanity ceiling for extracted weights.
const maxWeightOz = 1000.0

// weightPattern pairs a title regex with the factor converting the matched
// value to troy ounces.
type weightPattern struct {
	re     *regexp.Regexp
	factor float64
}

// Patterns are tried in priority order; the first one that matches and
// yields a value in (0, 1000] oz wins. The plain-ounce pattern refuses a
// number that is part of a fraction so "1/10 oz" is left to the fraction
// pattern.
var weightPatterns = []weightPattern{
	// Troy ounces: "1 oz", "1.5 troy ounce"
	{regexp.MustCompile(`(?:^|[^/\d])(\d+(?:\.\d+)?)\s*(?:troy\s*)?(?:oz|ounce)s?`), 1.0},
	// Fractions: "1/10 oz", "1/4 ounce"
	{regexp.MustCompile(`(\d+)/(\d+)\s*(?:troy\s*)?(?:oz|ounce)s?`), 1.0},
	// Grams: "10 grams", "5g", "31.1g"
	{regexp.MustCompile(`(\d+(?:\.\d+)?)\s*g(?:ram)?s?\b`), gramToOz},
}

// ExtractWeight pulls a weight in troy ounces out of a listing title.
// The second return is true when no pattern produced a valid weight; that
// is a data-quality outcome, not an error.
func ExtractWeight(title string) (float64, bool) {
	lower := strings.ToLower(title)

	for _, p := range weightPatterns {
		m := p.re.FindStringSubmatch(lower)
		if m == nil {
			continue
		}

		var weight float64
		if len(m) == 3 {
			// Fraction form: numerator / denominator.
			num, err1 := strconv.ParseFloat(m[1], 64)
			den, err2 := strconv.ParseFloat(m[2], 64)
			if err1 != nil || err2 != nil || den == 0 {
				continue
			}
			weight = num / den * p.factor
		} else {
			v, err := strconv.ParseFloat(m[1], 64)
			if err != nil {
				continue
			}
			weight = v * p.factor
		}

		// Out-of-range match: discard and keep scanning.
		if weight <= 0 || weight > maxWeightOz {
			continue
		}

		return math.Round(weight*10000) / 10000, false
	}

	return 0, true
}
