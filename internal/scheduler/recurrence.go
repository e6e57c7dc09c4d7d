package scheduler

import (
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"rpa-agent/internal/model"
)

// recurrence is the resolved timing of a schedule spec: either a fixed initial
// delay plus period, or a cron schedule evaluated before every wait.
type recurrence struct {
	initial time.Duration
	period  time.Duration
	cron    cron.Schedule
	expr    string
}

func (r recurrence) firstWait(now time.Time) time.Duration {
	if r.cron != nil {
		return r.cron.Next(now).Sub(now)
	}
	return r.initial
}

func (r recurrence) nextWait(now time.Time) time.Duration {
	if r.cron != nil {
		return r.cron.Next(now).Sub(now)
	}
	return r.period
}

func (r recurrence) String() string {
	if r.cron != nil {
		return fmt.Sprintf("cron %q", r.expr)
	}
	return fmt.Sprintf("first run in %s, then every %s", r.initial.Round(time.Second), r.period)
}

// buildRecurrence validates a schedule spec against the current time. The
// frequency/interval/start-time triple takes precedence; a spec carrying only a
// cron expression is parsed with the standard five-field syntax (plus @every
// and friends).
func buildRecurrence(spec *model.ScheduleSpec, now time.Time) (recurrence, error) {
	if spec == nil {
		return recurrence{}, errors.New("no schedule configuration present")
	}

	if spec.Frequency != "" || spec.Interval != 0 || spec.StartTime != "" {
		if spec.Frequency == "" || spec.Interval == 0 || spec.StartTime == "" {
			return recurrence{}, errors.New("schedule configuration incomplete")
		}
		if spec.Interval < 0 {
			return recurrence{}, fmt.Errorf("interval must be positive, got %d", spec.Interval)
		}
		base, err := model.BaseSeconds(spec.Frequency)
		if err != nil {
			return recurrence{}, err
		}
		initial, err := initialDelay(now, spec.StartTime)
		if err != nil {
			return recurrence{}, err
		}
		return recurrence{
			initial: initial,
			period:  time.Duration(spec.Interval*base) * time.Second,
		}, nil
	}

	if spec.Cron != "" {
		sched, err := cron.ParseStandard(spec.Cron)
		if err != nil {
			return recurrence{}, fmt.Errorf("failed parsing cron expression %q: %w", spec.Cron, err)
		}
		return recurrence{cron: sched, expr: spec.Cron}, nil
	}

	return recurrence{}, errors.New("schedule configuration incomplete")
}

// initialDelay returns the time until the next occurrence of the HH:MM start
// time: today if still strictly in the future, otherwise tomorrow. The result
// is always in (0s, 24h].
func initialDelay(now time.Time, startTime string) (time.Duration, error) {
	at, err := time.Parse("15:04", startTime)
	if err != nil {
		return 0, fmt.Errorf("failed parsing start time %q: %w", startTime, err)
	}
	next := time.Date(now.Year(), now.Month(), now.Day(), at.Hour(), at.Minute(), 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next.Sub(now), nil
}
