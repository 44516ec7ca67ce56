package engine

import (
	"context"

	"github.com/forgeguard/forgeguard/automod/rules"
	"github.com/forgeguard/forgeguard/forge"

	"golang.org/x/sync/errgroup"
)

const DefaultQueueSize = 100

type AlertKind string

const (
	// account matched the sus expression; moderators may ban or ignore
	AlertSus AlertKind = "sus"
	// account was banned automatically (or would have been, in dry run)
	AlertBanNotify AlertKind = "ban-notify"
	// account matched the ban expression but looks active; moderators decide
	AlertBanRequest AlertKind = "ban-request"
)

// Alert is a structured moderation alert. Rendering is up to the front-end.
type Alert struct {
	Kind    AlertKind
	Account forge.Account
	Match   rules.Match
	// account shows activity; always set on ban requests
	Active bool
}

// Interactive reports whether the alert expects a moderator decision.
func (a *Alert) Interactive() bool {
	return a.Kind != AlertBanNotify
}

// Dispatcher holds the two bounded alert queues: sus alerts, and ban notifications together
// with ban requests. A full queue blocks the sender.
type Dispatcher struct {
	Sus chan Alert
	Ban chan Alert
}

func NewDispatcher(size int) *Dispatcher {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Dispatcher{
		Sus: make(chan Alert, size),
		Ban: make(chan Alert, size),
	}
}

// Send queues an alert, waiting for room or for the context to end.
func (d *Dispatcher) Send(ctx context.Context, a Alert) error {
	q := d.Ban
	if a.Kind == AlertSus {
		q = d.Sus
	}
	select {
	case q <- a:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Consume calls handle for every alert until the context ends. Each queue has its own
// goroutine, so alerts of one queue are delivered in order.
func (d *Dispatcher) Consume(ctx context.Context, handle func(ctx context.Context, a Alert)) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, q := range []chan Alert{d.Sus, d.Ban} {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case a := <-q:
					handle(ctx, a)
				}
			}
		})
	}
	return g.Wait()
}
