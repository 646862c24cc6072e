package routing

import (
	"strconv"
	"time"
)

func itoa(n int) string { return strconv.Itoa(n) }

// timeNowIfZero returns t unchanged unless it is the zero value, in which
// case it returns the current time. Used when a PlayerRequestContext is
// synthesized ad hoc (party dispatch) rather than going through
// handlePlayerSlotRequest's normal construction.
func timeNowIfZero(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}
