package manager

import (
	"context"
	"time"
)

// oracle decides whether a cached handle must be replaced.
type oracle struct {
	interval time.Duration
	now      func() time.Time
}

// shouldInvalidate is called under the partition lock. A missing handle is
// always stale. Otherwise the currency check runs only once the interval
// has been exceeded, and the throttle window restarts whatever it answers.
func (o *oracle) shouldInvalidate(ctx context.Context, h *Handle) (bool, error) {
	if h == nil {
		return true, nil
	}
	if o.interval == InvalidationNever {
		return false, nil
	}

	now := o.now()
	if now.Sub(h.lastInvalidationCheck) <= o.interval {
		return false, nil
	}
	h.lastInvalidationCheck = now

	current, err := h.reader.IsCurrent(ctx)
	if err != nil {
		return false, err
	}
	return !current, nil
}
