package ratelimit

import (
	"fmt"
	"strings"
)

// RateLimitError reports a rejected admission decision. The message names
// the exhausted window and its reset time.
type RateLimitError struct {
	Decision Decision
}

func (e *RateLimitError) Error() string {
	var b strings.Builder
	b.WriteString("Rate limit exceeded.")

	if e.Decision.RemainingMinute != Unlimited && e.Decision.RemainingMinute <= 0 {
		fmt.Fprintf(&b, " Per-minute limit reached. Reset in %d seconds.", e.Decision.ResetMinuteSeconds)
	}
	if e.Decision.RemainingDay != Unlimited && e.Decision.RemainingDay <= 0 {
		fmt.Fprintf(&b, " Daily limit reached. Reset in %d seconds.", e.Decision.ResetDaySeconds)
	}

	return b.String()
}
