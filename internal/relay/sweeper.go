package relay

import (
	"time"

	"github.com/juju/errors"
	"github.com/robfig/cron/v3"
)

// Sweeper periodically forgets vehicles the upstream stopped reporting.
type Sweeper struct {
	cron *cron.Cron
}

// StartSweeper schedules r.Sweep(staleAfter) on the cron schedule spec,
// for example "@every 1m".
func StartSweeper(r *Relay, spec string, staleAfter time.Duration) (*Sweeper, error) {
	if staleAfter <= 0 {
		return nil, errors.NotValidf("non-positive stale duration %v", staleAfter)
	}
	log := cronLogger{}
	c := cron.New(cron.WithLogger(log), cron.WithChain(cron.Recover(log), cron.SkipIfStillRunning(log)))
	if _, err := c.AddFunc(spec, func() { r.Sweep(staleAfter) }); err != nil {
		return nil, errors.Annotatef(err, "sweep schedule %q", spec)
	}
	c.Start()
	logger.Infof("forgetting vehicles unseen for %v, checking %s", staleAfter, spec)
	return &Sweeper{cron: c}, nil
}

// Stop stops the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}

// cronLogger routes cron's logging to loggo.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	logger.Tracef("cron: %s %v", msg, keysAndValues)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	logger.Errorf("cron: %s: %v %v", msg, err, keysAndValues)
}
