package offdata

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"
)

// StartScheduledExpiry runs EvaluateExpiry whenever cronExpr is due,
// supplementing the event-driven EvaluateExpiry call every drain cycle with
// an external tick for hosts where the drain loop may sit idle for long
// stretches — modeling a suspended service worker's coarse periodicSync
// window. cronExpr follows standard 5-field cron syntax. Returns a stop
// func that halts the sweep.
func (m *RegistryManager) StartScheduledExpiry(ctx context.Context, cronExpr string) (stop func(), err error) {
	g := gronx.New()
	if !g.IsValid(cronExpr) {
		return nil, fmt.Errorf("%w: invalid cron expression %q", ErrValidation, cronExpr)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-loopCtx.Done():
				return
			case t := <-ticker.C:
				due, err := g.IsDue(cronExpr, t)
				if err != nil || !due {
					continue
				}
				_, _ = m.EvaluateExpiry(loopCtx)
			}
		}
	}()
	return cancel, nil
}
