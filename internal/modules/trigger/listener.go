// README: Reservation change listeners feeding dispatch and settlement.
package trigger

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"dispatchd/internal/logger"
	"dispatchd/internal/metrics"
	"dispatchd/internal/model"
	"dispatchd/internal/modules/settlement"
	"dispatchd/internal/store"
)

const (
	ListenerCreated = "reservation_created"
	ListenerSettled = "reservation_settleable"
)

var errStreamClosed = errors.New("watch stream closed")

type Dispatcher interface {
	HandleCreated(ctx context.Context, r *model.Reservation)
}

type Settler interface {
	HandleUpdate(ctx context.Context, r *model.Reservation)
}

type Listener struct {
	store      store.Store
	dispatcher Dispatcher
	settler    Settler
	metrics    *metrics.Metrics
	log        logger.Logger
	// newBackOff builds the restart policy for one watch.
	newBackOff func() backoff.BackOff
	wg         sync.WaitGroup
}

type Option func(*Listener)

func WithMetrics(m *metrics.Metrics) Option { return func(l *Listener) { l.metrics = m } }

func WithBackOff(fn func() backoff.BackOff) Option { return func(l *Listener) { l.newBackOff = fn } }

func NewListener(st store.Store, d Dispatcher, s Settler, log logger.Logger, opts ...Option) *Listener {
	l := &Listener{
		store:      st,
		dispatcher: d,
		settler:    s,
		log:        log,
		newBackOff: defaultBackOff,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = time.Minute
	b.MaxElapsedTime = 0
	return b
}

// Run watches both queries until ctx is cancelled, then waits for in-flight
// handlers to finish.
func (l *Listener) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return l.watch(ctx, ListenerCreated, store.ReservationQuery{Status: model.ReservationPending}, l.onCreated)
	})
	g.Go(func() error {
		return l.watch(ctx, ListenerSettled, settlement.SettleableQuery(), l.onSettleable)
	})
	err := g.Wait()
	l.wg.Wait()
	return err
}

func (l *Listener) onCreated(ctx context.Context, ch store.ReservationChange) {
	if ch.Kind != store.Added {
		return
	}
	// A reverted reservation re-enters the pending set as Added, as does every
	// pending reservation after a watch restart. Only first-time creations are
	// dispatched here; reverts are handled by the reassign sweep.
	if r := ch.Reservation; r.AttemptCount > 0 || r.LastTimeoutAt != nil {
		return
	}
	l.spawn(ctx, func(ctx context.Context) { l.dispatcher.HandleCreated(ctx, ch.Reservation) })
}

func (l *Listener) onSettleable(ctx context.Context, ch store.ReservationChange) {
	if ch.Kind == store.Removed {
		return
	}
	l.spawn(ctx, func(ctx context.Context) { l.settler.HandleUpdate(ctx, ch.Reservation) })
}

// spawn runs fn detached from the watch so a slow handler never stalls the
// stream. Handlers keep running after shutdown starts; Run waits for them.
func (l *Listener) spawn(ctx context.Context, fn func(context.Context)) {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer func() {
			if rec := recover(); rec != nil {
				l.log.Errorf("trigger handler panic: %v", rec)
			}
		}()
		fn(context.WithoutCancel(ctx))
	}()
}

func (l *Listener) watch(ctx context.Context, name string, q store.ReservationQuery, fn func(context.Context, store.ReservationChange)) error {
	op := func() error {
		err := l.store.WatchReservations(ctx, q, fn)
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		if err == nil {
			// The stream ended without cancellation; reopen it.
			return errStreamClosed
		}
		return err
	}
	notify := func(err error, next time.Duration) {
		l.metrics.ListenerRestart(name)
		l.log.Warnf("listener %s: %v; restarting in %s", name, err, next)
	}
	err := backoff.RetryNotify(op, backoff.WithContext(l.newBackOff(), ctx), notify)
	if ctx.Err() != nil {
		return nil
	}
	return err
}
