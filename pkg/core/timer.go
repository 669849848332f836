package core

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// TimerOptions controls when Timer runs its command. With Once set, or no
// Cron expression, the command runs a single time right away.
type TimerOptions struct {
	Once bool
	Cron string
	// Now defaults to time.Now.
	Now func() time.Time
}

type Update struct {
	// Last whether or not this is the last update, and no more will be coming.
	// If true, perform this action and then end.
	Last bool
}

// Timer start a timer that tells when to run an activity, based on its options.
// Each time to run an activity is indicated via a message in a channel, which
// is closed when ctx is done.
func Timer(ctx context.Context, opts TimerOptions) (<-chan Update, error) {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	if opts.Cron != "" {
		if _, err := cron.ParseStandard(opts.Cron); err != nil {
			return nil, fmt.Errorf("invalid cron format '%s': %w", opts.Cron, err)
		}
	}

	c := make(chan Update)
	go func() {
		// when this goroutine ends, close the channel
		defer close(c)

		if opts.Once || opts.Cron == "" {
			select {
			case c <- Update{Last: true}:
			case <-ctx.Done():
			}
			return
		}

		for {
			// validated above
			delay, _ := waitForCron(opts.Cron, now())
			t := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				t.Stop()
				return
			case <-t.C:
			}
			// blocks until the previous run is done, so runs never overlap
			select {
			case c <- Update{}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return c, nil
}

// Timer runs cmd whenever the schedule in opts says so, until ctx is done or a
// single run is complete. A failing run does not stop a schedule; the error of
// the latest run is returned.
func (e *Executor) Timer(ctx context.Context, opts TimerOptions, cmd func() error) error {
	c, err := Timer(ctx, opts)
	if err != nil {
		return err
	}
	var last error
	for update := range c {
		last = cmd()
		if update.Last {
			return last
		}
		if last != nil && e.Logger != nil {
			e.Logger.Debugf("run failed, waiting for next scheduled run: %v", last)
		}
	}
	return last
}

// waitForCron given the current time and a cron string, calculate the Duration
// until the next time we will match the cron
func waitForCron(cronExpr string, from time.Time) (time.Duration, error) {
	sched, err := cron.ParseStandard(cronExpr)
	if err != nil {
		return time.Duration(0), err
	}
	// sched.Next() returns the next time that the cron expression will match, beginning in 1ns;
	// we allow matching current time, so we do it from 1ns
	next := sched.Next(from.Add(-1 * time.Nanosecond))
	return next.Sub(from), nil
}
