package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// runTimeout bounds a single trigger run. The slowest triggers page through
// the whole fleet, so this is deliberately generous.
const runTimeout = 5 * time.Minute

// cronParser accepts standard 5-field cron expressions (minute, hour, dom,
// month, dow), evaluated in UTC.
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow,
)

type TriggerFunc func(ctx context.Context) error

type entry struct {
	name     string
	fn       TriggerFunc
	interval time.Duration
	schedule cronlib.Schedule
}

// Runner hosts the engine's periodic triggers. Interval entries fire once at
// start and then every interval; cron entries wait for their scheduled time,
// so a deploy does not replay daily or weekly work. Each entry runs in its
// own goroutine, and a run that overlaps its next due time delays it rather
// than stacking a second run.
type Runner struct {
	entries []entry
	done    chan struct{}
	wg      sync.WaitGroup
}

func NewRunner() *Runner {
	return &Runner{done: make(chan struct{})}
}

// Every registers a fixed-interval trigger.
func (r *Runner) Every(name string, interval time.Duration, fn TriggerFunc) {
	r.entries = append(r.entries, entry{name: name, fn: fn, interval: interval})
}

// Cron registers a trigger on a 5-field cron expression.
func (r *Runner) Cron(name, expr string, fn TriggerFunc) error {
	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return fmt.Errorf("trigger %s: cron expression %q: %w", name, expr, err)
	}
	r.entries = append(r.entries, entry{name: name, fn: fn, schedule: schedule})
	return nil
}

func (r *Runner) Start() {
	for _, e := range r.entries {
		r.wg.Add(1)
		if e.schedule != nil {
			go r.runCron(e)
		} else {
			go r.runInterval(e)
		}
	}
	log.Info().Int("triggers", len(r.entries)).Msg("trigger runner started")
}

func (r *Runner) Stop() {
	close(r.done)
	r.wg.Wait()
	log.Info().Msg("trigger runner stopped")
}

func (r *Runner) runInterval(e entry) {
	defer r.wg.Done()

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	r.fire(e)

	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			r.fire(e)
		}
	}
}

func (r *Runner) runCron(e entry) {
	defer r.wg.Done()

	for {
		next := e.schedule.Next(time.Now().UTC())
		timer := time.NewTimer(time.Until(next))

		select {
		case <-r.done:
			timer.Stop()
			return
		case <-timer.C:
			r.fire(e)
		}
	}
}

func (r *Runner) fire(e entry) {
	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()

	start := time.Now()
	if err := e.fn(ctx); err != nil {
		log.Error().Err(err).Str("trigger", e.name).Msg("trigger run failed")
		return
	}
	log.Debug().Str("trigger", e.name).Dur("elapsed", time.Since(start)).Msg("trigger run complete")
}
