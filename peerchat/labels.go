package peerchat

import (
	"fmt"
	"time"
)

// RelativeTimeLabel renders t relative to now, e.g. "5 minutes ago" or
// "2 weeks ago". Times in the future count as zero minutes.
func RelativeTimeLabel(now time.Time, t time.Time) string {
	diff := now.Sub(t)
	if diff < 0 {
		diff = 0
	}
	minutes := int64(diff / time.Minute)
	hours := int64(diff / time.Hour)
	days := hours / 24
	switch {
	case minutes < 60:
		return agoLabel(minutes, "minute")
	case hours < 24:
		return agoLabel(hours, "hour")
	case days < 7:
		return agoLabel(days, "day")
	default:
		return agoLabel(days/7, "week")
	}
}

func agoLabel(n int64, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s ago", unit)
	}
	return fmt.Sprintf("%d %ss ago", n, unit)
}
