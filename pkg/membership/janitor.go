package membership

import (
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/openroster/rosterd/pkg/observability"
)

// Janitor periodically drops cached resolutions whose membership windows
// have opened or closed since they were built, so cached Active flags never
// serve stale beyond the sweep interval.
type Janitor struct {
	svc    *Service
	cron   *cron.Cron
	logger *observability.Logger
}

// NewJanitor schedules a cache sweep on the given cron spec, e.g.
// "@every 1m".
func NewJanitor(svc *Service, schedule string, logger *observability.Logger) (*Janitor, error) {
	j := &Janitor{
		svc:    svc,
		cron:   cron.New(),
		logger: logger,
	}
	if _, err := j.cron.AddFunc(schedule, j.sweep); err != nil {
		return nil, fmt.Errorf("failed to schedule cache sweep: %w", err)
	}
	return j, nil
}

// Start begins running sweeps in the background.
func (j *Janitor) Start() {
	j.cron.Start()
}

// Stop halts the schedule; a sweep already in flight finishes.
func (j *Janitor) Stop() {
	j.cron.Stop()
}

func (j *Janitor) sweep() {
	if n := j.svc.EvictStale(); n > 0 {
		j.logger.WithField("evicted", n).Debug("dropped stale membership resolutions")
	}
}
