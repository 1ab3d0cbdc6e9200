// Package parser turns raw listing text into typed product fields.
// Every function here is pure; absent or garbled input yields the zero value.
package parser

import (
	"math"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

var (
	decimalPattern = regexp.MustCompile(`^\d+(\.\d+)?$`)
	countPattern   = regexp.MustCompile(`^(\d+(?:\.\d+)?)(k)?$`)

	priceReplacer = strings.NewReplacer(
		"US", "", "$", "", "€", "", "£", "", ",", "", " ", "", "\u00a0", "",
	)
	// Applied after whitespace is removed, so unit words appear joined.
	reviewReplacer = strings.NewReplacer(
		",", "", "+", "", "(", "", ")", "",
		"productratings", "", "ratings", "", "rating", "", "reviews", "", "review", "",
	)
	salesReplacer = strings.NewReplacer(
		"(", "", ")", "", "+", "", ",", "", "sold", "", "boughtinpastmonth", "",
	)
	titleReplacer = strings.NewReplacer(",", "", "'", "", `"`, "")
)

// Price parses a cleaned price string. The second return value is false when
// the text is not a positive decimal, which callers treat as "no price".
func Price(raw string) (float64, bool) {
	s := priceReplacer.Replace(strings.TrimSpace(raw))
	if !decimalPattern.MatchString(s) {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}

// Rating reads ratings formatted like "4.5 out of 5 stars".
func Rating(raw string) float64 {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0
	}

	lead := s
	if r := []rune(s); len(r) > 3 {
		lead = string(r[:3])
	}
	v, err := strconv.ParseFloat(strings.Replace(lead, ",", ".", 1), 64)
	if err != nil {
		// "5 out of 5" has no decimal part
		v, err = strconv.ParseFloat(strings.Replace(strings.Fields(s)[0], ",", ".", 1), 64)
		if err != nil {
			return 0
		}
	}
	if v < 0 || v > 5 {
		return 0
	}
	return v
}

func ReviewCount(raw string) int {
	return count(reviewReplacer.Replace(compact(raw)))
}

// SalesCount handles "1,234 sold", "(56)" and abbreviated "2.5k+" forms.
func SalesCount(raw string) int {
	return count(salesReplacer.Replace(compact(raw)))
}

func BestSeller(raw string) bool {
	return strings.TrimSpace(raw) != ""
}

func Title(raw string) string {
	return strings.TrimSpace(titleReplacer.Replace(raw))
}

// AbsoluteURL resolves protocol-relative and site-relative references against
// origin. Absolute URLs pass through unchanged.
func AbsoluteURL(raw, origin string) string {
	s := strings.TrimSpace(raw)
	switch {
	case s == "":
		return ""
	case strings.HasPrefix(s, "//"):
		return "https:" + s
	case strings.HasPrefix(s, "https://"), strings.HasPrefix(s, "http://"):
		return s
	}

	if origin == "" {
		return s
	}
	base, err := url.Parse(origin)
	if err != nil {
		return s
	}
	ref, err := url.Parse(s)
	if err != nil {
		return s
	}
	return base.ResolveReference(ref).String()
}

// compact lowercases s and drops all whitespace.
func compact(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), "")
}

// count parses a cleaned count: a plain integer, or a decimal with a "k"
// suffix. Anything else, including values beyond the int range, is 0.
func count(s string) int {
	m := countPattern.FindStringSubmatch(s)
	if m == nil {
		return 0
	}
	if m[2] == "" {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return 0
		}
		return n
	}

	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0
	}
	// 4.1*1000 is 4099.999... in binary floating point
	v = math.Floor(v*1000 + 1e-6)
	if v < 0 || v >= math.MaxInt {
		return 0
	}
	return int(v)
}
