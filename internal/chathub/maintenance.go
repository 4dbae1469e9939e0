package chathub

import (
	"context"
	"errors"
	"sort"
	"time"

	"moodpair/backend/internal/clock"

	"github.com/sirupsen/logrus"
)

// SweepReport counts what one maintenance pass removed or closed.
type SweepReport struct {
	QueueEvicted    int
	SessionsExpired int
	MessagesPurged  int64
}

// MaintenanceSweep evicts stale queue entries, expires overdue sessions and
// purges messages past the retention horizon. Every step runs even if an
// earlier one failed. Safe to call concurrently.
func (e *Engine) MaintenanceSweep(ctx context.Context) (report SweepReport, err error) {
	ctx, end := e.begin(ctx, "MaintenanceSweep")
	defer end(&err)
	now := e.clock.Now()

	var errs []error

	if n, err := e.queue.EvictExpired(ctx, now); err != nil {
		errs = append(errs, storageErr("evict queue", err))
	} else {
		report.QueueEvicted = n
	}

	if expired, err := e.sessions.ExpireDueSessions(ctx, now); err != nil {
		errs = append(errs, storageErr("expire sessions", err))
	} else {
		report.SessionsExpired = len(expired)
		for i := range expired {
			e.announceEnd(ctx, &expired[i], now)
		}
	}

	if n, err := e.messages.PurgeMessagesBefore(ctx, clock.Cutoff(now, e.opts.MessageRetention)); err != nil {
		errs = append(errs, storageErr("purge messages", err))
	} else {
		report.MessagesPurged = n
	}

	e.log.WithFields(logrus.Fields{
		"queue":    report.QueueEvicted,
		"sessions": report.SessionsExpired,
		"messages": report.MessagesPurged,
	}).Debug("Maintenance sweep")

	return report, errors.Join(errs...)
}

// Component health states.
const (
	StatusUp   = "up"
	StatusDown = "down"
)

// HealthReport lists the reachability of every configured backend.
type HealthReport struct {
	Healthy    bool
	Components map[string]string
	QueueSize  int
}

// Health pings the configured backends. It never fails; a broken component is
// reported as down.
func (e *Engine) Health(ctx context.Context) HealthReport {
	ctx, cancel := context.WithTimeout(ctx, e.opts.OpTimeout)
	defer cancel()

	report := HealthReport{Healthy: true, Components: map[string]string{}}

	names := make([]string, 0, len(e.pingers))
	for name := range e.pingers {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := e.pingers[name].Ping(ctx); err != nil {
			e.log.WithError(err).WithField("component", name).Warn("Health check failed")
			report.Components[name] = StatusDown
			report.Healthy = false
			continue
		}
		report.Components[name] = StatusUp
	}

	if n, err := e.queue.Len(ctx); err != nil {
		report.Components["queue"] = StatusDown
		report.Healthy = false
	} else {
		report.Components["queue"] = StatusUp
		report.QueueSize = n
	}
	return report
}

// Sweeper runs MaintenanceSweep on a fixed interval.
type Sweeper struct {
	engine   *Engine
	interval time.Duration
	log      logrus.FieldLogger
}

func NewSweeper(engine *Engine, interval time.Duration, log logrus.FieldLogger) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{engine: engine, interval: interval, log: log}
}

// Run blocks until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.WithField("interval", s.interval).Info("Sweeper started")
	for {
		select {
		case <-ctx.Done():
			s.log.Info("Sweeper stopped")
			return
		case <-ticker.C:
			report, err := s.engine.MaintenanceSweep(ctx)
			if err != nil {
				s.log.WithError(err).Error("Maintenance sweep failed")
				continue
			}
			if report.QueueEvicted+report.SessionsExpired > 0 || report.MessagesPurged > 0 {
				s.log.WithFields(logrus.Fields{
					"queue":    report.QueueEvicted,
					"sessions": report.SessionsExpired,
					"messages": report.MessagesPurged,
				}).Info("Maintenance sweep")
			}
		}
	}
}
