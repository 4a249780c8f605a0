// README: Persistence contract shared by dispatch, settlement and the maintenance jobs.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"dispatchd/internal/model"
	"dispatchd/internal/types"
)

var (
	ErrNotFound = errors.New("document not found")
	// ErrConflict is returned when a transaction keeps losing to concurrent
	// writers and runs out of attempts.
	ErrConflict = errors.New("transaction contention")
)

// BatchError reports the documents a batch write could not update. Every
// document missing from Failed was written.
type BatchError struct {
	Failed map[types.ID]error
}

// NewBatchError returns nil when nothing failed.
func NewBatchError(failed map[types.ID]error) error {
	if len(failed) == 0 {
		return nil
	}
	return &BatchError{Failed: failed}
}

func (e *BatchError) Error() string {
	ids := e.IDs()
	msgs := make([]string, 0, len(ids))
	for _, id := range ids {
		msgs = append(msgs, fmt.Sprintf("%s: %v", id, e.Failed[id]))
	}
	return fmt.Sprintf("%d of batch failed: %s", len(ids), strings.Join(msgs, "; "))
}

func (e *BatchError) Unwrap() []error {
	out := make([]error, 0, len(e.Failed))
	for _, id := range e.IDs() {
		out = append(out, e.Failed[id])
	}
	return out
}

// IDs returns the failed document ids in order.
func (e *BatchError) IDs() []types.ID {
	ids := make([]types.ID, 0, len(e.Failed))
	for id := range e.Failed {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Sentinel values are write-time transforms resolved by the store.
type Sentinel int

const (
	ServerTimestamp Sentinel = iota + 1
	Delete
)

// Increment adds to a numeric field atomically.
type Increment int64

// ArrayUnion appends elements not already present in an array field.
type ArrayUnion []any

// Update sets one top-level field. Value may be a plain value or one of
// Sentinel, Increment and ArrayUnion.
type Update struct {
	Field string
	Value any
}

type ReservationQuery struct {
	Status           model.ReservationStatus
	PaymentValidated *bool
	DriverCredited   *bool
}

func (q ReservationQuery) Matches(r *model.Reservation) bool {
	if r == nil {
		return false
	}
	if q.Status != "" && r.Status != q.Status {
		return false
	}
	if q.PaymentValidated != nil && r.PaymentValidated != *q.PaymentValidated {
		return false
	}
	if q.DriverCredited != nil && r.DriverCredited != *q.DriverCredited {
		return false
	}
	return true
}

type DriverQuery struct {
	Status model.DriverStatus
}

func (q DriverQuery) Matches(d *model.Driver) bool {
	return d != nil && (q.Status == "" || d.Status == q.Status)
}

type ChangeKind int

const (
	Added ChangeKind = iota + 1
	Modified
	Removed
)

func (k ChangeKind) String() string {
	switch k {
	case Added:
		return "added"
	case Modified:
		return "modified"
	case Removed:
		return "removed"
	}
	return "unknown"
}

// ReservationChange is one entry of a query listener delivery. Removed means
// the reservation no longer matches the watched query.
type ReservationChange struct {
	Kind        ChangeKind
	Reservation *model.Reservation
}

// Tx is a read-then-write transaction. All reads must happen before the first
// write. Returning an error from the transaction function discards every write.
type Tx interface {
	Reservation(id types.ID) (*model.Reservation, error)
	Driver(id types.ID) (*model.Driver, error)
	UpdateReservation(id types.ID, updates ...Update) error
	UpdateDriver(id types.ID, updates ...Update) error
}

type Store interface {
	Reservation(ctx context.Context, id types.ID) (*model.Reservation, error)
	Driver(ctx context.Context, id types.ID) (*model.Driver, error)
	Reservations(ctx context.Context, q ReservationQuery) ([]*model.Reservation, error)
	Drivers(ctx context.Context, q DriverQuery) ([]*model.Driver, error)
	Params(ctx context.Context) (*model.Params, error)

	// RunTransaction re-runs fn on contention; a non-nil error from fn aborts
	// immediately and is returned unchanged.
	RunTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	// BatchUpdateDrivers applies unconditional writes outside any transaction.
	BatchUpdateDrivers(ctx context.Context, updates map[types.ID][]Update) error
	Append(ctx context.Context, collection string, record any) error
	// WatchReservations blocks, delivering changes to q's result set until ctx
	// is done. The first delivery reports every current match as Added.
	WatchReservations(ctx context.Context, q ReservationQuery, fn func(context.Context, ReservationChange)) error
}

func Bool(v bool) *bool { return &v }

// Ptr returns a pointer to v, for optional document fields.
func Ptr[T any](v T) *T { return &v }
