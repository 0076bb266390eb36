package coordinator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"mapring/mapping"
	"mapring/metrics"
)

// Run fails pending registrations whose timeout window passed. It returns
// when ctx is done.
func (c *Coordinator) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.sweepInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			c.expire(c.now())
		}
	}
}

func (c *Coordinator) sweepInterval() time.Duration {
	d := c.timeout / 10
	switch {
	case d < 10*time.Millisecond:
		return 10 * time.Millisecond
	case d > time.Second:
		return time.Second
	}
	return d
}

func (c *Coordinator) expire(now time.Time) int {
	c.mu.Lock()
	expired := c.pending.Expire(now)
	metrics.Pending.Set(float64(c.pending.Len()))
	c.mu.Unlock()

	for _, e := range expired {
		metrics.Timeouts.Inc()
		c.log.Warn("mapping request timed out",
			zap.Stringer("key", e.Key), zap.String("class", e.ClassName))
		e.Future.Fail(fmt.Errorf("%w: %s not accepted within %s", mapping.ErrMappingTimeout, e.Key, c.timeout))
	}
	return len(expired)
}
