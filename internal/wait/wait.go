// Package wait implements the cooperative long-poll mail wait (§4.4):
// a sleep-with-backoff loop used by coordination agents that would
// otherwise busy-poll their inbox. It is a plain loop rather than a
// condition variable because producers are separate external
// processes with no shared in-memory event.
package wait

import (
	"math"
	"os"
	"time"

	"github.com/jayminwest/overstory/internal/mail"
	"github.com/jayminwest/overstory/internal/mailmodel"
	"github.com/jayminwest/overstory/internal/nudge"
)

// Status is the terminal outcome of a Wait call.
type Status string

const (
	StatusMessage   Status = "message"
	StatusNudged    Status = "nudged"
	StatusTimeout   Status = "timeout"
	StatusCancelled Status = "cancelled"
)

// Options configures a Wait call. Zero values for the duration fields
// select the defaults named in §4.4.
type Options struct {
	Agent            string
	Timeout          time.Duration
	InitialPoll      time.Duration
	MaxPoll          time.Duration
	Backoff          float64
	CancelFile       string
	WakeOnPendingNudge bool
}

// Result is what a Wait call returns.
type Result struct {
	Status   Status
	Messages []*mailmodel.Message
	Nudge    *nudge.Marker
}

const (
	defaultTimeout     = 5 * time.Minute
	defaultInitialPoll = time.Second
	defaultMaxPoll     = 10 * time.Second
	defaultBackoff     = 1.5
)

func (o Options) normalized() Options {
	if o.Timeout <= 0 {
		o.Timeout = defaultTimeout
	}
	if o.InitialPoll <= 0 {
		o.InitialPoll = defaultInitialPoll
	}
	if o.MaxPoll <= 0 {
		o.MaxPoll = defaultMaxPoll
	}
	if o.Backoff < 1 {
		o.Backoff = defaultBackoff
	}
	return o
}

// Wait implements the algorithm of §4.4 against broker b and nudge
// channel n, sleeping via sleepFn (time.Sleep in production, a fake in
// tests).
func Wait(b *mail.Broker, n *nudge.Channel, opts Options, sleepFn func(time.Duration)) (Result, error) {
	opts = opts.normalized()
	deadline := time.Now().Add(opts.Timeout)
	pollMs := opts.InitialPoll

	for {
		if opts.CancelFile != "" {
			if _, err := os.Stat(opts.CancelFile); err == nil {
				return Result{Status: StatusCancelled}, nil
			}
		}

		var pendingNudge *nudge.Marker
		if opts.WakeOnPendingNudge {
			m, err := n.ReadAndClearNudge(opts.Agent)
			if err != nil {
				return Result{}, err
			}
			pendingNudge = m
		}

		messages, err := b.Check(opts.Agent)
		if err != nil {
			return Result{}, err
		}

		if len(messages) > 0 {
			return Result{Status: StatusMessage, Messages: messages, Nudge: pendingNudge}, nil
		}
		if pendingNudge != nil {
			return Result{Status: StatusNudged, Nudge: pendingNudge}, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return Result{Status: StatusTimeout}, nil
		}

		sleep := pollMs
		if remaining < sleep {
			sleep = remaining
		}
		sleepFn(sleep)

		next := time.Duration(math.Floor(float64(pollMs) * opts.Backoff))
		if next < opts.InitialPoll {
			next = opts.InitialPoll
		}
		if next > opts.MaxPoll {
			next = opts.MaxPoll
		}
		pollMs = next
	}
}
