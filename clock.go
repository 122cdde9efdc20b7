package forward

import "time"

// Clock supplies the wall-clock time used for event timestamps and backoff
// bookkeeping. Tests substitute a simulated clock.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }
