// Package cron runs jobs at wall clock times, eg every five minutes on the
// minute or once a day at midnight.
package cron

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Spec selects wall clock times. A nil Hours or Minutes means every hour or
// minute. A nil Seconds means second 0.
type Spec struct {
	Hours   []int
	Minutes []int
	Seconds []int
}

func Daily(hour, minute, second int) Spec {
	return Spec{Hours: []int{hour}, Minutes: []int{minute}, Seconds: []int{second}}
}

func Hourly(minute, second int) Spec {
	return Spec{Minutes: []int{minute}, Seconds: []int{second}}
}

// EveryNthMinute fires at minute 0, n, 2n... of every hour.
func EveryNthMinute(n, second int) Spec {
	var minutes []int
	for m := 0; m < 60; m += n {
		minutes = append(minutes, m)
	}
	return Spec{Minutes: minutes, Seconds: []int{second}}
}

// Next returns the first matching time strictly after t, in t's location.
func (s Spec) Next(t time.Time) time.Time {
	hours := sorted(s.Hours, 24, nil)
	minutes := sorted(s.Minutes, 60, nil)
	seconds := sorted(s.Seconds, 60, []int{0})

	for day := 0; day <= 1; day++ {
		for _, h := range hours {
			for _, m := range minutes {
				for _, sec := range seconds {
					c := time.Date(t.Year(), t.Month(), t.Day()+day, h, m, sec, 0, t.Location())
					if c.After(t) {
						return c
					}
				}
			}
		}
	}
	// unreachable for valid specs, every spec matches at least once a day
	return t.Add(24 * time.Hour)
}

func sorted(v []int, n int, fallback []int) []int {
	if v == nil && fallback != nil {
		return fallback
	}
	if v == nil {
		v = make([]int, n)
		for i := range v {
			v[i] = i
		}
		return v
	}
	out := append([]int(nil), v...)
	sort.Ints(out)
	return out
}

type Job struct {
	Name string
	Spec Spec
	Run  func(ctx context.Context)
}

// nextAfter returns the first matching time after both the last fired time
// and now, so a clock stepping backwards never fires the same time twice.
func (s Spec) nextAfter(last, now time.Time) time.Time {
	if last.After(now) {
		now = last
	}
	return s.Next(now)
}

// Start runs job at every matching time until ctx is done.
// A run that is still in progress when the next time passes skips that time.
func Start(ctx context.Context, wg *sync.WaitGroup, job Job) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		var last time.Time
		for {
			next := job.Spec.nextAfter(last, time.Now())
			logrus.WithFields(logrus.Fields{"job": job.Name, "next": next.Format(time.RFC3339)}).Debug("cron: scheduled")
			timer := time.NewTimer(time.Until(next))
			select {
			case <-timer.C:
				last = next
				job.Run(ctx)
			case <-ctx.Done():
				timer.Stop()
				return
			}
		}
	}()
}
