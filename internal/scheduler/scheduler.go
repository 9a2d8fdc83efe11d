// Package scheduler drives the two recurring background loops of §5 —
// the Health Supervisor's probe cycle and the Placement Driver's offering
// poll cycle — on cron-style "@every" schedules, via robfig/cron/v3.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/sedimark/catalogue-coordinator/internal/logging"
)

// Scheduler wraps a cron.Cron, running caller-supplied jobs on fixed
// intervals and recovering panics so one bad tick never kills the loop.
type Scheduler struct {
	cron       *cron.Cron
	logger     *logging.Logger
	cancellers []context.CancelFunc
}

// New constructs a Scheduler. It does not start running until Start is
// called.
func New(logger *logging.Logger) *Scheduler {
	c := cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger)))
	return &Scheduler{cron: c, logger: logger}
}

// Every registers fn to run every interval, under the given name (used
// only for logging). The job's context is cancelled when the Scheduler is
// stopped.
func (s *Scheduler) Every(interval time.Duration, name string, fn func(ctx context.Context)) error {
	spec := fmt.Sprintf("@every %s", interval)
	entryCtx, cancel := context.WithCancel(context.Background())

	_, err := s.cron.AddFunc(spec, func() {
		defer func() {
			if r := recover(); r != nil {
				s.logf("scheduler: job %q panicked: %v", name, r)
			}
		}()
		s.logf("scheduler: running job %q", name)
		fn(entryCtx)
	})
	if err != nil {
		cancel()
		return fmt.Errorf("scheduling job %q on %q: %w", name, spec, err)
	}

	s.cancellers = append(s.cancellers, cancel)
	return nil
}

// Start begins running all registered jobs on their schedules. It does
// not block.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the scheduler from firing further ticks, cancels the context
// passed to every registered job so an in-flight job can unwind, and then
// waits for any such job to actually return.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	for _, cancel := range s.cancellers {
		cancel()
	}
	<-ctx.Done()
}

func (s *Scheduler) logf(format string, args ...any) {
	if s.logger == nil {
		return
	}
	s.logger.Infof(format, args...)
}
