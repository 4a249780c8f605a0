package memstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dispatchd/internal/model"
	"dispatchd/internal/store"
	"dispatchd/internal/types"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newStore(opts ...Option) *Store {
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	return New(opts...)
}

func TestTransactionAppliesTransforms(t *testing.T) {
	s := newStore()
	s.PutReservation(&model.Reservation{ID: "r1", Status: model.ReservationPending, AttemptCount: 1})
	s.PutDriver(&model.Driver{ID: "d1", Status: model.DriverAvailable, WalletBalance: 100, CurrentRideID: "old"})

	err := s.RunTransaction(context.Background(), func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.Reservation("r1"); err != nil {
			return err
		}
		if _, err := tx.Driver("d1"); err != nil {
			return err
		}
		require.NoError(t, tx.UpdateReservation("r1",
			store.Update{Field: model.FieldStatus, Value: model.ReservationAssigned},
			store.Update{Field: model.FieldAssignedDriverID, Value: types.ID("d1")},
			store.Update{Field: model.FieldAssignedAt, Value: store.ServerTimestamp},
			store.Update{Field: model.FieldAttemptCount, Value: store.Increment(1)},
			store.Update{Field: model.FieldRejectedDrivers, Value: store.ArrayUnion{"d9", "d9"}},
		))
		return tx.UpdateDriver("d1",
			store.Update{Field: model.FieldWalletBalance, Value: store.Increment(50)},
			store.Update{Field: model.FieldCurrentRideID, Value: store.Delete},
		)
	})
	require.NoError(t, err)

	r, err := s.Reservation(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, model.ReservationAssigned, r.Status)
	assert.Equal(t, types.ID("d1"), r.AssignedDriverID)
	require.NotNil(t, r.AssignedAt)
	assert.True(t, r.AssignedAt.Equal(fixedNow))
	assert.Equal(t, 2, r.AttemptCount)
	assert.Equal(t, []types.ID{"d9"}, r.RejectedDrivers)

	d, err := s.Driver(context.Background(), "d1")
	require.NoError(t, err)
	assert.Equal(t, int64(150), d.WalletBalance)
	assert.Empty(t, d.CurrentRideID)
}

func TestTransactionErrorDiscardsWrites(t *testing.T) {
	s := newStore()
	s.PutDriver(&model.Driver{ID: "d1", WalletBalance: 10})
	boom := errors.New("boom")

	err := s.RunTransaction(context.Background(), func(ctx context.Context, tx store.Tx) error {
		_ = tx.UpdateDriver("d1", store.Update{Field: model.FieldWalletBalance, Value: store.Increment(5)})
		return boom
	})
	require.ErrorIs(t, err, boom)

	d, _ := s.Driver(context.Background(), "d1")
	assert.Equal(t, int64(10), d.WalletBalance)
}

func TestTransactionReadAfterWriteRejected(t *testing.T) {
	s := newStore()
	s.PutDriver(&model.Driver{ID: "d1"})
	err := s.RunTransaction(context.Background(), func(ctx context.Context, tx store.Tx) error {
		_ = tx.UpdateDriver("d1", store.Update{Field: model.FieldWalletBalance, Value: 1})
		_, err := tx.Driver("d1")
		return err
	})
	require.ErrorIs(t, err, errReadAfterWrite)
}

func TestTransactionRetriesOnConflict(t *testing.T) {
	s := newStore()
	s.PutDriver(&model.Driver{ID: "d1", WalletBalance: 0})

	calls := 0
	s.SetBeforeCommit(func(attempt int) {
		if attempt == 1 {
			// A competing writer lands between read and commit.
			_ = s.BatchUpdateDrivers(context.Background(), map[types.ID][]store.Update{
				"d1": {{Field: model.FieldWalletBalance, Value: store.Increment(100)}},
			})
		}
	})
	err := s.RunTransaction(context.Background(), func(ctx context.Context, tx store.Tx) error {
		calls++
		d, err := tx.Driver("d1")
		if err != nil {
			return err
		}
		return tx.UpdateDriver("d1", store.Update{Field: model.FieldWalletBalance, Value: d.WalletBalance + 1})
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)

	d, _ := s.Driver(context.Background(), "d1")
	assert.Equal(t, int64(101), d.WalletBalance)
}

func TestTransactionGivesUpAfterMaxAttempts(t *testing.T) {
	s := newStore(WithMaxAttempts(3))
	s.PutDriver(&model.Driver{ID: "d1"})
	s.SetBeforeCommit(func(int) {
		_ = s.BatchUpdateDrivers(context.Background(), map[types.ID][]store.Update{
			"d1": {{Field: model.FieldWalletBalance, Value: store.Increment(1)}},
		})
	})
	calls := 0
	err := s.RunTransaction(context.Background(), func(ctx context.Context, tx store.Tx) error {
		calls++
		if _, err := tx.Driver("d1"); err != nil {
			return err
		}
		return tx.UpdateDriver("d1", store.Update{Field: model.FieldDriverStatus, Value: model.DriverEngaged})
	})
	require.ErrorIs(t, err, store.ErrConflict)
	assert.Equal(t, 3, calls)
}

func TestConcurrentIncrementsSerialize(t *testing.T) {
	s := newStore(WithMaxAttempts(100))
	s.PutDriver(&model.Driver{ID: "d1"})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.RunTransaction(context.Background(), func(ctx context.Context, tx store.Tx) error {
				d, err := tx.Driver("d1")
				if err != nil {
					return err
				}
				return tx.UpdateDriver("d1", store.Update{Field: model.FieldWalletBalance, Value: d.WalletBalance + 1})
			})
		}()
	}
	wg.Wait()

	d, _ := s.Driver(context.Background(), "d1")
	assert.Equal(t, int64(20), d.WalletBalance)
}

func TestQueriesFilter(t *testing.T) {
	s := newStore()
	s.PutReservation(&model.Reservation{ID: "a", Status: model.ReservationCompleted, PaymentValidated: true})
	s.PutReservation(&model.Reservation{ID: "b", Status: model.ReservationCompleted, PaymentValidated: true, DriverCredited: true})
	s.PutReservation(&model.Reservation{ID: "c", Status: model.ReservationPending})

	got, err := s.Reservations(context.Background(), store.ReservationQuery{
		Status:           model.ReservationCompleted,
		PaymentValidated: store.Bool(true),
		DriverCredited:   store.Bool(false),
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, types.ID("a"), got[0].ID)

	_, err = s.Reservation(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.Params(context.Background())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestAppendStampsServerTimestamp(t *testing.T) {
	s := newStore()
	require.NoError(t, s.Append(context.Background(), model.CollectionNotifications, model.Notification{Type: "x"}))

	recs := s.Records(model.CollectionNotifications)
	require.Len(t, recs, 1)
	n := recs[0].(model.Notification)
	assert.True(t, n.Timestamp.Equal(fixedNow))

	s.FailAppend(model.CollectionCreditLogs, errors.New("unavailable"))
	assert.Error(t, s.Append(context.Background(), model.CollectionCreditLogs, model.LedgerEntry{}))
}

func TestWatchDeliversSnapshotThenChanges(t *testing.T) {
	s := newStore()
	s.PutReservation(&model.Reservation{ID: "r1", Status: model.ReservationPending})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changes := make(chan store.ReservationChange, 8)
	done := make(chan error, 1)
	go func() {
		done <- s.WatchReservations(ctx, store.ReservationQuery{Status: model.ReservationPending},
			func(_ context.Context, ch store.ReservationChange) { changes <- ch })
	}()

	first := <-changes
	assert.Equal(t, store.Added, first.Kind)
	assert.Equal(t, types.ID("r1"), first.Reservation.ID)

	s.PutReservation(&model.Reservation{ID: "r2", Status: model.ReservationPending})
	second := <-changes
	assert.Equal(t, store.Added, second.Kind)
	assert.Equal(t, types.ID("r2"), second.Reservation.ID)

	require.NoError(t, s.RunTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.UpdateReservation("r1", store.Update{Field: model.FieldStatus, Value: model.ReservationAssigned})
	}))
	third := <-changes
	assert.Equal(t, store.Removed, third.Kind)
	assert.Equal(t, types.ID("r1"), third.Reservation.ID)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("watch did not stop on cancel")
	}
	assert.Equal(t, 0, s.Watchers())
}

func TestBatchUpdateReportsFailedDrivers(t *testing.T) {
	s := newStore()
	s.PutDriver(&model.Driver{ID: "d1"})
	s.PutDriver(&model.Driver{ID: "d2"})
	s.FailBatchUpdate("d2", errors.New("deadline exceeded"))

	err := s.BatchUpdateDrivers(context.Background(), map[types.ID][]store.Update{
		"d1":    {{Field: model.FieldActiveReservationID, Value: types.ID("r1")}},
		"d2":    {{Field: model.FieldActiveReservationID, Value: types.ID("r2")}},
		"ghost": {{Field: model.FieldActiveReservationID, Value: types.ID("r3")}},
	})
	var be *store.BatchError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, []types.ID{"d2", "ghost"}, be.IDs())
	assert.ErrorIs(t, err, store.ErrNotFound)

	d1, _ := s.Driver(context.Background(), "d1")
	assert.Equal(t, types.ID("r1"), d1.ActiveReservationID)
	d2, _ := s.Driver(context.Background(), "d2")
	assert.Empty(t, d2.ActiveReservationID)
}
