package relay

import (
	"context"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"gopkg.in/tomb.v2"

	"pysakki/internal/feed"
	"pysakki/internal/metrics"
	"pysakki/internal/vehicle"
)

// Applier consumes one complete poll cycle.
type Applier interface {
	Apply(cycle map[string]vehicle.Observation) int
}

// PollerConfig configures a Poller.
type PollerConfig struct {
	Source   feed.Source
	Applier  Applier
	Clock    clock.Clock
	Metrics  *metrics.Metrics
	Interval time.Duration
	Timeout  time.Duration
}

// Validate returns an error if the config cannot drive a poller.
func (c PollerConfig) Validate() error {
	if c.Source == nil {
		return errors.NotValidf("nil Source")
	}
	if c.Applier == nil {
		return errors.NotValidf("nil Applier")
	}
	if c.Clock == nil {
		return errors.NotValidf("nil Clock")
	}
	if c.Interval <= 0 {
		return errors.NotValidf("non-positive Interval")
	}
	if c.Timeout <= 0 {
		return errors.NotValidf("non-positive Timeout")
	}
	return nil
}

// Poller fetches the upstream snapshot on a fixed period and hands each
// successful result to the applier. Cycles never overlap: the next one is
// scheduled only once the previous fetch-and-apply has finished.
type Poller struct {
	tomb tomb.Tomb
	cfg  PollerConfig
}

// NewPoller starts a poller. The first cycle runs immediately.
func NewPoller(cfg PollerConfig) (*Poller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	p := &Poller{cfg: cfg}
	p.tomb.Go(p.loop)
	return p, nil
}

// Kill asks the poller to stop, cancelling any fetch in flight.
func (p *Poller) Kill() {
	p.tomb.Kill(nil)
}

// Wait blocks until the poller has stopped.
func (p *Poller) Wait() error {
	return p.tomb.Wait()
}

func (p *Poller) loop() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-p.tomb.Dying()
		cancel()
	}()

	for {
		start := p.cfg.Clock.Now()
		p.cycle(ctx)
		wait := p.cfg.Interval - p.cfg.Clock.Now().Sub(start)
		if wait <= 0 {
			logger.Debugf("poll cycle overran interval %v", p.cfg.Interval)
			select {
			case <-p.tomb.Dying():
				return tomb.ErrDying
			default:
			}
			continue
		}
		select {
		case <-p.tomb.Dying():
			return tomb.ErrDying
		case <-p.cfg.Clock.After(wait):
		}
	}
}

// cycle performs one fetch and apply. Failures are logged and leave the
// store untouched.
func (p *Poller) cycle(ctx context.Context) {
	start := p.cfg.Clock.Now()
	fctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	vehicles, err := p.cfg.Source.Fetch(fctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		logger.Warningf("polling vehicles failed, skipping cycle: %v", err)
		p.cfg.Metrics.ObservePoll(metrics.PollError, p.cfg.Clock.Now().Sub(start).Seconds())
		return
	}
	published := p.cfg.Applier.Apply(vehicles)
	logger.Debugf("fetched %d vehicles, published %d updates", len(vehicles), published)
	p.cfg.Metrics.ObservePoll(metrics.PollOK, p.cfg.Clock.Now().Sub(start).Seconds())
}
