package clock

import (
	"regexp"
	"strconv"
	"time"
)

const (
	// DefaultOffsetMinutes is UTC+05:30.
	DefaultOffsetMinutes = 330

	// MaxRetroactiveHours bounds how far back a log may be timestamped.
	MaxRetroactiveHours = 12.0

	// Layout renders timestamps with an explicit offset suffix so stored
	// values of the same offset compare correctly as plain strings.
	Layout = "2006-01-02T15:04:05-07:00"
)

// Clock computes "now" and calendar-day boundaries in one fixed civil
// offset, independent of the host clock zone. Both extraction stages go
// through the same instance so day-rollover math cannot diverge.
type Clock struct {
	loc   *time.Location
	nowFn func() time.Time
}

func New(offsetMinutes int) *Clock {
	name := offsetName(offsetMinutes)
	return &Clock{
		loc:   time.FixedZone(name, offsetMinutes*60),
		nowFn: time.Now,
	}
}

// NewAt returns a Clock whose current instant is pinned (for testing).
func NewAt(offsetMinutes int, now time.Time) *Clock {
	c := New(offsetMinutes)
	c.nowFn = func() time.Time { return now }
	return c
}

func (c *Clock) Now() time.Time {
	return c.nowFn().In(c.loc)
}

func (c *Clock) StartOfToday() time.Time {
	now := c.Now()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, c.loc)
}

func (c *Clock) StartOfYesterday() time.Time {
	return c.StartOfToday().AddDate(0, 0, -1)
}

func (c *Clock) Format(t time.Time) string {
	return t.In(c.loc).Format(Layout)
}

// ValidateRetroactiveOffset turns an hour count into a formatted timestamp,
// rejecting offsets that are negative, exceed MaxRetroactiveHours, or land
// before the start of the current civil day.
func (c *Clock) ValidateRetroactiveOffset(hours float64) (string, bool) {
	if hours < 0 || hours > MaxRetroactiveHours {
		return "", false
	}
	candidate := c.Now().Add(-time.Duration(hours * float64(time.Hour)))
	if candidate.Before(c.StartOfToday()) {
		return "", false
	}
	return c.Format(candidate), true
}

var (
	hoursAgoRe   = regexp.MustCompile(`(?i)\b(\d+(?:\.\d+)?)\s*(?:hours?|hrs?)\s+ago\b`)
	minutesAgoRe = regexp.MustCompile(`(?i)\b(\d+)\s*(?:minutes?|mins?)\s+ago\b`)
)

// ParseRelativePhrase extracts an hour offset from "N hours ago" or
// "N minutes ago" phrasing. Anything vaguer ("earlier", "this morning")
// yields no offset so the caller asks for clarification instead of guessing.
func ParseRelativePhrase(phrase string) (float64, bool) {
	if m := hoursAgoRe.FindStringSubmatch(phrase); m != nil {
		h, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return 0, false
		}
		return h, true
	}
	if m := minutesAgoRe.FindStringSubmatch(phrase); m != nil {
		mins, err := strconv.Atoi(m[1])
		if err != nil {
			return 0, false
		}
		return float64(mins) / 60.0, true
	}
	return 0, false
}

func offsetName(offsetMinutes int) string {
	sign := "+"
	m := offsetMinutes
	if m < 0 {
		sign = "-"
		m = -m
	}
	return sign + pad2(m/60) + ":" + pad2(m%60)
}

func pad2(n int) string {
	if n < 10 {
		return "0" + strconv.Itoa(n)
	}
	return strconv.Itoa(n)
}
