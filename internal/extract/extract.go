// Package extract is the deterministic first stage of intent resolution: a
// fixed, ordered list of pattern rules that turn common phrasings into a
// milliliter amount without any network call.
package extract

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

const (
	// MaxAmountMl is the per-message sanity ceiling. The source treats it
	// both as the domain maximum and as a regex guard value; kept as one
	// named constant rather than guessing which was meant.
	MaxAmountMl = 10000

	GlassMl = 250
	CupMl   = 200
)

// Outcome reports whether a rule fired and the amount it produced.
type Outcome struct {
	Matched  bool
	AmountMl int
}

// rule pairs a compiled pattern with its amount extractor. Rules are
// evaluated in order and the first success wins, which makes the tie-break
// order auditable and testable per pattern.
type rule struct {
	name  string
	re    *regexp.Regexp
	guard func(text string) bool
	apply func(m []string, bottleMl int) (int, bool)
}

var rules = []rule{
	{
		name: "milliliters",
		re:   regexp.MustCompile(`(?i)\b(\d+)\s*(?:ml|milliliters?|millilitres?)\b`),
		apply: func(m []string, _ int) (int, bool) {
			n, err := strconv.Atoi(m[1])
			if err != nil {
				return 0, false
			}
			return n, true
		},
	},
	{
		name: "liters",
		re:   regexp.MustCompile(`(?i)\b(\d+(?:\.\d+)?)\s*(?:liters?|litres?|ltrs?|l)\b`),
		apply: func(m []string, _ int) (int, bool) {
			n, err := strconv.ParseFloat(m[1], 64)
			if err != nil {
				return 0, false
			}
			return int(math.Round(n * 1000)), true
		},
	},
	{
		name: "half bottle",
		re:   regexp.MustCompile(`(?i)\bhalf\b(?:\s+\w+){0,2}\s+bottle\b`),
		apply: func(_ []string, bottleMl int) (int, bool) {
			return int(math.Round(float64(bottleMl) * 0.5)), true
		},
	},
	{
		name: "quarter bottle",
		re:   regexp.MustCompile(`(?i)\bquarter\b(?:\s+\w+){0,2}\s+bottle\b`),
		apply: func(_ []string, bottleMl int) (int, bool) {
			return int(math.Round(float64(bottleMl) * 0.25)), true
		},
	},
	{
		name: "counted bottles",
		re:   regexp.MustCompile(`(?i)\b(\d+)\s*bottles?\b`),
		apply: func(m []string, bottleMl int) (int, bool) {
			n, err := strconv.Atoi(m[1])
			if err != nil || n < 1 || n > 10 {
				return 0, false
			}
			return bottleMl * n, true
		},
	},
	{
		// Known heuristic limitation: the bare-bottle rule is guarded only
		// by the literal words "half"/"quarter" appearing anywhere in the
		// message, so unrelated text containing them suppresses the match.
		name: "bare bottle",
		re:   regexp.MustCompile(`(?i)\b(?:an?\s+|one\s+)?bottle\b`),
		guard: func(text string) bool {
			lower := strings.ToLower(text)
			return !strings.Contains(lower, "half") && !strings.Contains(lower, "quarter")
		},
		apply: func(_ []string, bottleMl int) (int, bool) {
			return bottleMl, true
		},
	},
	{
		name: "glasses",
		re:   regexp.MustCompile(`(?i)\b(?:(\d+)\s*)?glass(?:es)?\b`),
		apply: func(m []string, _ int) (int, bool) {
			n, ok := countOrOne(m[1], 20)
			if !ok {
				return 0, false
			}
			return GlassMl * n, true
		},
	},
	{
		name: "cups",
		re:   regexp.MustCompile(`(?i)\b(?:(\d+)\s*)?cups?\b`),
		apply: func(m []string, _ int) (int, bool) {
			n, ok := countOrOne(m[1], 20)
			if !ok {
				return 0, false
			}
			return CupMl * n, true
		},
	},
}

// Match runs the ordered rules against text and returns the first success.
// It never fires for messages carrying a time-reference cue (those need a
// non-"now" timestamp, which only the fallback stage can compute) or a
// negation cue ("didn't drink 500ml" must not log 500ml).
func Match(text string, bottleMl int) Outcome {
	if HasTimeCue(text) || HasNegationCue(text) {
		return Outcome{}
	}
	for _, r := range rules {
		if r.guard != nil && !r.guard(text) {
			continue
		}
		m := r.re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		amount, ok := r.apply(m, bottleMl)
		if !ok {
			continue
		}
		if amount <= 0 || amount > MaxAmountMl {
			// Out-of-range matches are non-matches; the resolver
			// escalates to the fallback stage instead.
			continue
		}
		return Outcome{Matched: true, AmountMl: amount}
	}
	return Outcome{}
}

var timeCueRe = regexp.MustCompile(`(?i)\b(?:ago|earlier|before|morning|afternoon|evening|tonight|night|yesterday|hours?|hrs?|minutes?|mins?)\b`)

// HasTimeCue reports whether the message references a time other than "now".
func HasTimeCue(text string) bool {
	return timeCueRe.MatchString(text)
}

var negationCueRe = regexp.MustCompile(`(?i)\b(?:didn't|didnt|did\s+not|don't|dont|haven't|havent|not|no|never|forgot)\b`)

// HasNegationCue reports whether the message carries negation. Negated
// amounts are routed to the fallback stage, which understands them.
func HasNegationCue(text string) bool {
	return negationCueRe.MatchString(text)
}

var excludedBeverageRe = regexp.MustCompile(`(?i)\b(?:coffee|tea|chai|juice|soda|cola|coke|milk|milkshake|smoothie|lassi|beer|wine|whisky|whiskey|vodka|rum|soup)s?\b`)

// MentionsExcludedBeverage reports whether the message names a drink that
// must never be logged as water. Checked at the gateway boundary so the
// resolver never sees excluded-beverage text.
func MentionsExcludedBeverage(text string) bool {
	return excludedBeverageRe.MatchString(text)
}

func countOrOne(capture string, max int) (int, bool) {
	if capture == "" {
		return 1, true
	}
	n, err := strconv.Atoi(capture)
	if err != nil || n < 1 || n > max {
		return 0, false
	}
	return n, true
}
