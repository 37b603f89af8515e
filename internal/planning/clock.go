package planning

import (
	"fmt"
	"strings"
	"time"
)

// DefaultLastBlockSpan is how long the final block of a day is assumed to run.
const DefaultLastBlockSpan = 2 * time.Hour

var clockLayouts = []string{
	"15:04",
	"15:04:05",
	"3:04 PM",
	"3:04PM",
}

var dateLayouts = []string{
	"2006-01-02 15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 3:04 PM",
	"2006-01-02 3:04PM",
	time.RFC3339,
}

// ParseClock reads a plan time. Time-of-day values are placed on day's date
// in day's location; values carrying a date keep their own date.
func ParseClock(day time.Time, s string) (time.Time, error) {
	v := strings.ToUpper(strings.TrimSpace(s))
	if v == "" {
		return time.Time{}, fmt.Errorf("empty time")
	}
	loc := day.Location()
	for _, layout := range clockLayouts {
		if t, err := time.ParseInLocation(layout, v, loc); err == nil {
			y, m, d := day.Date()
			return time.Date(y, m, d, t.Hour(), t.Minute(), t.Second(), 0, loc), nil
		}
	}
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, v, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", s)
}

// FormatClock renders the canonical plan time, "15:04".
func FormatClock(t time.Time) string { return t.Format("15:04") }

// Active describes the plan block in effect at a moment.
type Active struct {
	Block PlanBlock
	Index int
	Start time.Time
	End   time.Time
}

// ActiveBlock finds the block with the latest start time that is not after
// now. The block ends at the next block's start, or lastSpan after its own
// start when it is the last of the day. Blocks with unreadable start times
// are ignored.
func ActiveBlock(plan []PlanBlock, now time.Time, lastSpan time.Duration) (Active, bool) {
	if lastSpan <= 0 {
		lastSpan = DefaultLastBlockSpan
	}
	var (
		cur   Active
		found bool
	)
	for i, blk := range plan {
		start, err := ParseClock(now, blk.StartTime)
		if err != nil {
			continue
		}
		if start.After(now) {
			if found {
				cur.End = start
			}
			break
		}
		cur = Active{Block: blk, Index: i, Start: start, End: start.Add(lastSpan)}
		found = true
	}
	return cur, found
}
