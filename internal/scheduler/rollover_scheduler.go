package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/bassista/go_revenue/internal/logger"
)

// RolloverChecker moves change subscriptions to the current month's
// transaction partition and reports how many tenants were moved and how many
// could not be.
type RolloverChecker interface {
	CheckRollover() (moved, failed int)
	Tenants() []string
}

// MonthFlags tracks the last month a check ran in and whether every tenant
// was found on that month's partition.
type MonthFlags struct {
	CheckedMonthKey string
	SettledMonthKey string
}

// PollingScheduler checks for a month rollover on a fixed interval.
//
// Semantics:
//   - Every tick asks the checker to move subscriptions whose month is behind.
//   - Once a tick in the current month had no failures, the month is settled
//     and further ticks only run the check when the tenant count changed.
//   - A failed resubscribe keeps the month unsettled so the next tick retries.
//
// NOTE: Flags are in-memory only.
type PollingScheduler struct {
	checker RolloverChecker
	poll    time.Duration
	loc     *time.Location
	now     func() time.Time

	mu          sync.Mutex
	flags       MonthFlags
	tenantCount int
}

func NewPollingScheduler(checker RolloverChecker, poll time.Duration, loc *time.Location) *PollingScheduler {
	if loc == nil {
		loc = time.Local
	}
	return &PollingScheduler{
		checker: checker,
		poll:    poll,
		loc:     loc,
		now:     time.Now,
	}
}

// Start ticks until ctx is done. The returned channel is closed when the loop exits.
func (s *PollingScheduler) Start(ctx context.Context) <-chan struct{} {
	logger.WithComponent("sched").Debugf("starting rollover scheduler with interval: %v, timezone: %s", s.poll, s.loc.String())
	done := make(chan struct{})
	ticker := time.NewTicker(s.poll)
	go func() {
		defer close(done)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				logger.WithComponent("sched").Info("scheduler stopped")
				return
			case <-ticker.C:
				s.tick(ctx)
			}
		}
	}()
	return done
}

func (s *PollingScheduler) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	now := s.now().In(s.loc)
	month := monthKey(now)
	tenants := len(s.checker.Tenants())

	flags := s.getFlags()
	if flags.SettledMonthKey == month && tenants == s.getTenantCount() {
		logger.WithComponent("sched").Tracef("month %s already settled for %d tenants", month, tenants)
		return
	}
	if flags.CheckedMonthKey != month {
		logger.WithComponent("sched").Infof("entering month %s, checking %d tenants", month, tenants)
	}

	moved, failed := s.checker.CheckRollover()
	if moved > 0 {
		logger.WithComponent("sched").Infof("moved %d subscriptions to %s", moved, month)
	}
	if failed > 0 {
		logger.WithComponent("sched").Warnf("%d tenants still behind %s, retrying next tick", failed, month)
	}

	flags.CheckedMonthKey = month
	if failed == 0 {
		flags.SettledMonthKey = month
	}
	s.setFlags(flags, tenants)
}

func (s *PollingScheduler) getFlags() MonthFlags {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flags
}

func (s *PollingScheduler) getTenantCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tenantCount
}

func (s *PollingScheduler) setFlags(flags MonthFlags, tenants int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flags = flags
	s.tenantCount = tenants
}

func monthKey(t time.Time) string {
	return t.Format("2006-01")
}
