package memstore

import (
	"context"
	"sort"
	"sync"

	"dispatchd/internal/model"
	"dispatchd/internal/store"
)

type reservationWrite struct {
	before *model.Reservation
	after  *model.Reservation
}

type watcher struct {
	q      store.ReservationQuery
	mu     sync.Mutex
	queue  []store.ReservationChange
	signal chan struct{}
}

func (w *watcher) push(changes ...store.ReservationChange) {
	if len(changes) == 0 {
		return
	}
	w.mu.Lock()
	w.queue = append(w.queue, changes...)
	w.mu.Unlock()
	select {
	case w.signal <- struct{}{}:
	default:
	}
}

func (w *watcher) drain() []store.ReservationChange {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := w.queue
	w.queue = nil
	return out
}

func (s *Store) WatchReservations(ctx context.Context, q store.ReservationQuery, fn func(context.Context, store.ReservationChange)) error {
	w := &watcher{q: q, signal: make(chan struct{}, 1)}

	s.mu.Lock()
	var initial []store.ReservationChange
	for _, v := range s.reservations {
		if q.Matches(v.val) {
			initial = append(initial, store.ReservationChange{Kind: store.Added, Reservation: cloneReservation(v.val)})
		}
	}
	sort.Slice(initial, func(i, j int) bool { return initial[i].Reservation.ID < initial[j].Reservation.ID })
	s.watchers = append(s.watchers, w)
	s.mu.Unlock()

	defer s.unwatch(w)
	w.push(initial...)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-w.signal:
			for _, ch := range w.drain() {
				if ctx.Err() != nil {
					return nil
				}
				fn(ctx, ch)
			}
		}
	}
}

// Watchers reports how many listeners are attached.
func (s *Store) Watchers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.watchers)
}

func (s *Store) unwatch(w *watcher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, cur := range s.watchers {
		if cur == w {
			s.watchers = append(s.watchers[:i], s.watchers[i+1:]...)
			return
		}
	}
}

func publish(watchers []*watcher, writes []reservationWrite) {
	for _, w := range watchers {
		var changes []store.ReservationChange
		for _, wr := range writes {
			was := w.q.Matches(wr.before)
			is := w.q.Matches(wr.after)
			switch {
			case !was && is:
				changes = append(changes, store.ReservationChange{Kind: store.Added, Reservation: cloneReservation(wr.after)})
			case was && is:
				changes = append(changes, store.ReservationChange{Kind: store.Modified, Reservation: cloneReservation(wr.after)})
			case was && !is:
				changes = append(changes, store.ReservationChange{Kind: store.Removed, Reservation: cloneReservation(wr.after)})
			}
		}
		w.push(changes...)
	}
}
