// README: In-memory Store with optimistic transactions; used by tests and local runs.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"dispatchd/internal/model"
	"dispatchd/internal/store"
	"dispatchd/internal/types"
)

// DefaultMaxAttempts matches the Firestore client default.
const DefaultMaxAttempts = 5

var errReadAfterWrite = errors.New("memstore: transaction reads must precede writes")

type versioned[T any] struct {
	val     *T
	version int64
}

// Record is an appended document.
type Record struct {
	ID   string
	Data any
}

type Store struct {
	mu           sync.Mutex
	reservations map[types.ID]*versioned[model.Reservation]
	drivers      map[types.ID]*versioned[model.Driver]
	params       *model.Params
	records      map[string][]Record
	watchers     []*watcher
	seq          int64

	now          func() time.Time
	maxAttempts  int
	beforeCommit func(attempt int)
	failAppend   map[string]error
	failBatch    map[types.ID]error
}

type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func WithMaxAttempts(n int) Option {
	return func(s *Store) { s.maxAttempts = n }
}

func New(opts ...Option) *Store {
	s := &Store{
		reservations: make(map[types.ID]*versioned[model.Reservation]),
		drivers:      make(map[types.ID]*versioned[model.Driver]),
		records:      make(map[string][]Record),
		failAppend:   make(map[string]error),
		failBatch:    make(map[types.ID]error),
		now:          time.Now,
		maxAttempts:  DefaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetBeforeCommit installs a hook run after a transaction function returns
// and before its writes are validated. Tests use it to interleave a
// competing writer deterministically.
func (s *Store) SetBeforeCommit(fn func(attempt int)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.beforeCommit = fn
}

// FailAppend makes every Append to collection return err.
func (s *Store) FailAppend(collection string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failAppend[collection] = err
}

// FailBatchUpdate makes BatchUpdateDrivers skip driver id and report err
// for it, while the rest of the batch is written.
func (s *Store) FailBatchUpdate(id types.ID, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failBatch[id] = err
}

// PutReservation creates or replaces a reservation document.
func (s *Store) PutReservation(r *model.Reservation) {
	s.mu.Lock()
	var before *model.Reservation
	v, ok := s.reservations[r.ID]
	if ok {
		before = cloneReservation(v.val)
	} else {
		v = &versioned[model.Reservation]{}
		s.reservations[r.ID] = v
	}
	s.seq++
	v.val = cloneReservation(r)
	v.version = s.seq
	after := cloneReservation(v.val)
	watchers := append([]*watcher(nil), s.watchers...)
	s.mu.Unlock()

	publish(watchers, []reservationWrite{{before: before, after: after}})
}

// PutDriver creates or replaces a driver document.
func (s *Store) PutDriver(d *model.Driver) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.drivers[d.ID]
	if !ok {
		v = &versioned[model.Driver]{}
		s.drivers[d.ID] = v
	}
	s.seq++
	v.val = cloneDriver(d)
	v.version = s.seq
}

func (s *Store) SetParams(p *model.Params) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p == nil {
		s.params = nil
		return
	}
	cp := *p
	s.params = &cp
}

// Records returns the documents appended to collection, oldest first.
func (s *Store) Records(collection string) []any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]any, 0, len(s.records[collection]))
	for _, r := range s.records[collection] {
		out = append(out, r.Data)
	}
	return out
}

func (s *Store) Reservation(ctx context.Context, id types.ID) (*model.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.reservations[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneReservation(v.val), nil
}

func (s *Store) Driver(ctx context.Context, id types.ID) (*model.Driver, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.drivers[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneDriver(v.val), nil
}

func (s *Store) Reservations(ctx context.Context, q store.ReservationQuery) ([]*model.Reservation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Reservation
	for _, v := range s.reservations {
		if q.Matches(v.val) {
			out = append(out, cloneReservation(v.val))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) Drivers(ctx context.Context, q store.DriverQuery) ([]*model.Driver, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Driver
	for _, v := range s.drivers {
		if q.Matches(v.val) {
			out = append(out, cloneDriver(v.val))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) Params(ctx context.Context) (*model.Params, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.params == nil {
		return nil, store.ErrNotFound
	}
	cp := *s.params
	return &cp, nil
}

func (s *Store) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		t := &tx{
			s:         s,
			reads:     make(map[string]int64),
			resWrites: make(map[types.ID][]store.Update),
			drvWrites: make(map[types.ID][]store.Update),
		}
		if err := fn(ctx, t); err != nil {
			return err
		}

		s.mu.Lock()
		hook := s.beforeCommit
		s.mu.Unlock()
		if hook != nil {
			hook(attempt)
		}

		writes, ok, err := s.commit(t)
		if err != nil {
			return err
		}
		if ok {
			s.mu.Lock()
			watchers := append([]*watcher(nil), s.watchers...)
			s.mu.Unlock()
			publish(watchers, writes)
			return nil
		}
	}
	return store.ErrConflict
}

func (s *Store) commit(t *tx) ([]reservationWrite, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, version := range t.reads {
		if s.versionOf(key) != version {
			return nil, false, nil
		}
	}
	for _, id := range t.resOrder {
		if _, ok := s.reservations[id]; !ok {
			return nil, false, fmt.Errorf("reservation %s: %w", id, store.ErrNotFound)
		}
	}
	for _, id := range t.drvOrder {
		if _, ok := s.drivers[id]; !ok {
			return nil, false, fmt.Errorf("driver %s: %w", id, store.ErrNotFound)
		}
	}

	now := s.now()
	nextRes := make(map[types.ID]*model.Reservation, len(t.resOrder))
	for _, id := range t.resOrder {
		next := cloneReservation(s.reservations[id].val)
		if err := applyUpdates(next, t.resWrites[id], now); err != nil {
			return nil, false, err
		}
		nextRes[id] = next
	}
	nextDrv := make(map[types.ID]*model.Driver, len(t.drvOrder))
	for _, id := range t.drvOrder {
		next := cloneDriver(s.drivers[id].val)
		if err := applyUpdates(next, t.drvWrites[id], now); err != nil {
			return nil, false, err
		}
		nextDrv[id] = next
	}

	writes := make([]reservationWrite, 0, len(nextRes))
	for _, id := range t.resOrder {
		v := s.reservations[id]
		before := v.val
		s.seq++
		v.val = nextRes[id]
		v.version = s.seq
		writes = append(writes, reservationWrite{before: cloneReservation(before), after: cloneReservation(v.val)})
	}
	for _, id := range t.drvOrder {
		v := s.drivers[id]
		s.seq++
		v.val = nextDrv[id]
		v.version = s.seq
	}
	return writes, true, nil
}

func (s *Store) versionOf(key string) int64 {
	kind, id, _ := cutKey(key)
	switch kind {
	case "reservations":
		if v, ok := s.reservations[types.ID(id)]; ok {
			return v.version
		}
	case "drivers":
		if v, ok := s.drivers[types.ID(id)]; ok {
			return v.version
		}
	}
	return 0
}

func (s *Store) BatchUpdateDrivers(ctx context.Context, updates map[types.ID][]store.Update) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	failed := make(map[types.ID]error)
	for id, ups := range updates {
		if f, ok := s.failBatch[id]; ok {
			failed[id] = f
			continue
		}
		v, ok := s.drivers[id]
		if !ok {
			failed[id] = store.ErrNotFound
			continue
		}
		next := cloneDriver(v.val)
		if err := applyUpdates(next, ups, now); err != nil {
			failed[id] = err
			continue
		}
		s.seq++
		v.val = next
		v.version = s.seq
	}
	return store.NewBatchError(failed)
}

func (s *Store) Append(ctx context.Context, collection string, record any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failAppend[collection]; err != nil {
		return err
	}
	s.records[collection] = append(s.records[collection], Record{
		ID:   uuid.NewString(),
		Data: stampServerTime(record, s.now()),
	})
	return nil
}

type tx struct {
	s         *Store
	reads     map[string]int64
	resWrites map[types.ID][]store.Update
	drvWrites map[types.ID][]store.Update
	resOrder  []types.ID
	drvOrder  []types.ID
}

func (t *tx) wrote() bool {
	return len(t.resOrder) > 0 || len(t.drvOrder) > 0
}

func (t *tx) Reservation(id types.ID) (*model.Reservation, error) {
	if t.wrote() {
		return nil, errReadAfterWrite
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	key := "reservations/" + string(id)
	v, ok := t.s.reservations[id]
	if !ok {
		t.reads[key] = 0
		return nil, store.ErrNotFound
	}
	t.reads[key] = v.version
	return cloneReservation(v.val), nil
}

func (t *tx) Driver(id types.ID) (*model.Driver, error) {
	if t.wrote() {
		return nil, errReadAfterWrite
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	key := "drivers/" + string(id)
	v, ok := t.s.drivers[id]
	if !ok {
		t.reads[key] = 0
		return nil, store.ErrNotFound
	}
	t.reads[key] = v.version
	return cloneDriver(v.val), nil
}

func (t *tx) UpdateReservation(id types.ID, updates ...store.Update) error {
	if _, ok := t.resWrites[id]; !ok {
		t.resOrder = append(t.resOrder, id)
	}
	t.resWrites[id] = append(t.resWrites[id], updates...)
	return nil
}

func (t *tx) UpdateDriver(id types.ID, updates ...store.Update) error {
	if _, ok := t.drvWrites[id]; !ok {
		t.drvOrder = append(t.drvOrder, id)
	}
	t.drvWrites[id] = append(t.drvWrites[id], updates...)
	return nil
}

func cutKey(key string) (kind, id string, ok bool) {
	for i := 0; i < len(key); i++ {
		if key[i] == '/' {
			return key[:i], key[i+1:], true
		}
	}
	return key, "", false
}

func cloneReservation(r *model.Reservation) *model.Reservation {
	if r == nil {
		return nil
	}
	cp := *r
	if r.Pickup != nil {
		p := *r.Pickup
		cp.Pickup = &p
	}
	if r.Destination != nil {
		p := *r.Destination
		cp.Destination = &p
	}
	cp.AssignedAt = cloneTime(r.AssignedAt)
	cp.CreditedAt = cloneTime(r.CreditedAt)
	cp.CancelledAt = cloneTime(r.CancelledAt)
	cp.CompletedAt = cloneTime(r.CompletedAt)
	cp.LastTimeoutAt = cloneTime(r.LastTimeoutAt)
	cp.CreatedAt = cloneTime(r.CreatedAt)
	if r.RejectedDrivers != nil {
		cp.RejectedDrivers = append([]types.ID(nil), r.RejectedDrivers...)
	}
	return &cp
}

func cloneDriver(d *model.Driver) *model.Driver {
	if d == nil {
		return nil
	}
	cp := *d
	if d.Position != nil {
		p := *d.Position
		p.Timestamp = cloneTime(d.Position.Timestamp)
		cp.Position = &p
	}
	cp.LastCreditAt = cloneTime(d.LastCreditAt)
	cp.LastAssignedAt = cloneTime(d.LastAssignedAt)
	return &cp
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
