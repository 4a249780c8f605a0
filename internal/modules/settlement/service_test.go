package settlement

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dispatchd/internal/config"
	"dispatchd/internal/errs"
	"dispatchd/internal/logger"
	"dispatchd/internal/model"
	"dispatchd/internal/modules/notify"
	"dispatchd/internal/store/memstore"
	"dispatchd/internal/types"
)

func newService(st *memstore.Store) *Service {
	return NewService(st, notify.NewService(st, logger.NopLogger{}),
		config.SettlementConfig{DriverShareRate: 0.70}, nil, logger.NopLogger{})
}

func paidRide(id, driverID types.ID, price any) *model.Reservation {
	return &model.Reservation{
		ID:               id,
		Status:           model.ReservationCompleted,
		AssignedDriverID: driverID,
		EstimatedPrice:   price,
		PaymentValidated: true,
	}
}

func TestShouldCredit(t *testing.T) {
	assert.True(t, ShouldCredit(paidRide("r1", "d1", 100)))

	unpaid := paidRide("r1", "d1", 100)
	unpaid.PaymentValidated = false
	assert.False(t, ShouldCredit(unpaid))

	credited := paidRide("r1", "d1", 100)
	credited.DriverCredited = true
	assert.False(t, ShouldCredit(credited))

	assigned := paidRide("r1", "d1", 100)
	assigned.Status = model.ReservationAssigned
	assert.False(t, ShouldCredit(assigned))
	assert.False(t, ShouldCredit(nil))
}

func TestCreditSplitsFare(t *testing.T) {
	st := memstore.New()
	st.PutReservation(paidRide("r1", "d1", 10000))
	st.PutDriver(&model.Driver{ID: "d1", WalletBalance: 500, LifetimeEarnings: 1000})

	res, err := newService(st).Credit(context.Background(), CreditCommand{
		ReservationID: "r1", ExpectedDriverID: "d1", Source: SourceTrigger,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(10000), res.Fare)
	assert.Equal(t, int64(7000), res.DriverShare)
	assert.Equal(t, int64(3000), res.PlatformShare)

	d, _ := st.Driver(context.Background(), "d1")
	assert.Equal(t, int64(7500), d.WalletBalance)
	assert.Equal(t, int64(8000), d.LifetimeEarnings)
	assert.NotNil(t, d.LastCreditAt)

	r, _ := st.Reservation(context.Background(), "r1")
	assert.True(t, r.DriverCredited)
	assert.NotNil(t, r.CreditedAt)
	assert.Equal(t, int64(7000), r.CreditedAmount)
	assert.Equal(t, int64(3000), r.PlatformAmount)
	assert.Equal(t, SourceTrigger, r.CreditSource)

	notes := st.Records(model.CollectionNotifications)
	require.Len(t, notes, 1)
	n := notes[0].(model.Notification)
	assert.Equal(t, model.NotifyCreditReceived, n.Type)
	assert.Equal(t, types.ID("d1"), n.DriverID)
	assert.Equal(t, int64(7000), n.Amount)
	assert.Equal(t, "You received 7000 XOF", n.Message)

	logs := st.Records(model.CollectionCreditLogs)
	require.Len(t, logs, 1)
	entry := logs[0].(model.LedgerEntry)
	assert.True(t, entry.Success)
	assert.Equal(t, int64(3000), entry.PlatformShare)
}

func TestCreditParsesFormattedPrice(t *testing.T) {
	st := memstore.New()
	st.PutReservation(paidRide("r1", "d1", "2 500 FCFA"))
	st.PutDriver(&model.Driver{ID: "d1"})

	res, err := newService(st).Credit(context.Background(), CreditCommand{ReservationID: "r1", Source: SourceRecovery})
	require.NoError(t, err)
	assert.Equal(t, int64(1750), res.DriverShare)
	assert.Equal(t, int64(750), res.PlatformShare)
}

func TestCreditIsExactlyOnce(t *testing.T) {
	st := memstore.New()
	st.PutReservation(paidRide("r1", "d1", 10000))
	st.PutDriver(&model.Driver{ID: "d1"})
	svc := newService(st)

	_, err := svc.Credit(context.Background(), CreditCommand{ReservationID: "r1", Source: SourceTrigger})
	require.NoError(t, err)
	_, err = svc.Credit(context.Background(), CreditCommand{ReservationID: "r1", Source: SourceRecovery})
	assert.ErrorIs(t, err, ErrAlreadyCredited)

	d, _ := st.Driver(context.Background(), "d1")
	assert.Equal(t, int64(7000), d.WalletBalance)
}

func TestConcurrentCreditsPayOnce(t *testing.T) {
	st := memstore.New(memstore.WithMaxAttempts(50))
	st.PutReservation(paidRide("r1", "d1", 10000))
	st.PutDriver(&model.Driver{ID: "d1"})
	svc := newService(st)

	const n = 8
	var wg sync.WaitGroup
	results := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = svc.Credit(context.Background(), CreditCommand{ReservationID: "r1", Source: SourceTrigger})
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range results {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, ErrAlreadyCredited)
	}
	assert.Equal(t, 1, ok)

	d, _ := st.Driver(context.Background(), "d1")
	assert.Equal(t, int64(7000), d.WalletBalance)
	assert.Len(t, st.Records(model.CollectionCreditLogs), 1)
}

func TestCreditCommitRaceRereadsState(t *testing.T) {
	st := memstore.New()
	st.PutReservation(paidRide("r1", "d1", 10000))
	st.PutDriver(&model.Driver{ID: "d1"})
	svc := newService(st)

	st.SetBeforeCommit(func(int) {
		st.SetBeforeCommit(nil)
		// Recovery wins between the trigger's read and commit.
		_, err := svc.Credit(context.Background(), CreditCommand{ReservationID: "r1", Source: SourceRecovery})
		assert.NoError(t, err)
	})
	_, err := svc.Credit(context.Background(), CreditCommand{ReservationID: "r1", Source: SourceTrigger})
	assert.ErrorIs(t, err, ErrAlreadyCredited)

	d, _ := st.Driver(context.Background(), "d1")
	assert.Equal(t, int64(7000), d.WalletBalance)
	r, _ := st.Reservation(context.Background(), "r1")
	assert.Equal(t, SourceRecovery, r.CreditSource)
}

func TestCreditPreconditions(t *testing.T) {
	cases := []struct {
		name string
		res  *model.Reservation
		cmd  CreditCommand
		want error
		code string
	}{
		{name: "missing id", cmd: CreditCommand{}, want: ErrMissingID},
		{name: "not found", cmd: CreditCommand{ReservationID: "nope"}, want: ErrReservationNotFound, code: "RESERVATION_NOT_FOUND"},
		{
			name: "not completed",
			res:  &model.Reservation{ID: "r1", Status: model.ReservationAssigned, AssignedDriverID: "d1", PaymentValidated: true, EstimatedPrice: 100},
			cmd:  CreditCommand{ReservationID: "r1"},
			want: ErrNotCompleted,
			code: "COURSE_NOT_COMPLETED",
		},
		{
			name: "unpaid",
			res:  &model.Reservation{ID: "r1", Status: model.ReservationCompleted, AssignedDriverID: "d1", EstimatedPrice: 100},
			cmd:  CreditCommand{ReservationID: "r1"},
			want: ErrPaymentNotValidated,
			code: "PAYMENT_NOT_VALIDATED",
		},
		{
			name: "wrong driver",
			res:  paidRide("r1", "d1", 100),
			cmd:  CreditCommand{ReservationID: "r1", ExpectedDriverID: "d2"},
			want: ErrWrongDriver,
			code: "WRONG_DRIVER",
		},
		{
			name: "no driver",
			res:  paidRide("r1", "", 100),
			cmd:  CreditCommand{ReservationID: "r1"},
			want: ErrNoDriver,
		},
		{
			name: "driver missing",
			res:  paidRide("r1", "ghost", 100),
			cmd:  CreditCommand{ReservationID: "r1"},
			want: ErrDriverNotFound,
			code: "DRIVER_NOT_FOUND",
		},
		{
			name: "zero price",
			res:  paidRide("r1", "d1", "gratuit"),
			cmd:  CreditCommand{ReservationID: "r1"},
			want: ErrInvalidPrice,
			code: "INVALID_PRICE",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			st := memstore.New()
			st.PutDriver(&model.Driver{ID: "d1", WalletBalance: 10})
			if tc.res != nil {
				st.PutReservation(tc.res)
			}
			_, err := newService(st).Credit(context.Background(), tc.cmd)
			require.ErrorIs(t, err, tc.want)
			if tc.code != "" {
				assert.Equal(t, tc.code, errs.CodeOf(err))
			}

			d, _ := st.Driver(context.Background(), "d1")
			assert.Equal(t, int64(10), d.WalletBalance)
			assert.Empty(t, st.Records(model.CollectionCreditLogs))
		})
	}
}

func TestHandleUpdateRecordsFailures(t *testing.T) {
	st := memstore.New()
	st.PutReservation(paidRide("r1", "ghost", 100))
	svc := newService(st)

	r, _ := st.Reservation(context.Background(), "r1")
	svc.HandleUpdate(context.Background(), r)

	recs := st.Records(model.CollectionCreditErrors)
	require.Len(t, recs, 1)
	rec := recs[0].(model.ErrorRecord)
	assert.Equal(t, OpCredit, rec.Operation)
	assert.Equal(t, types.ID("r1"), rec.ReservationID)
	assert.Equal(t, "DRIVER_NOT_FOUND", rec.Code)
	assert.Equal(t, string(errs.NotFound), rec.Kind)
}

func TestHandleUpdateIgnoresUnsettleable(t *testing.T) {
	st := memstore.New()
	r := paidRide("r1", "d1", 100)
	r.PaymentValidated = false
	st.PutReservation(r)
	st.PutDriver(&model.Driver{ID: "d1"})

	newService(st).HandleUpdate(context.Background(), r)
	assert.Empty(t, st.Records(model.CollectionCreditErrors))
	got, _ := st.Reservation(context.Background(), "r1")
	assert.False(t, got.DriverCredited)
}

func TestRecoverMissed(t *testing.T) {
	st := memstore.New()
	st.PutDriver(&model.Driver{ID: "d1"})
	st.PutDriver(&model.Driver{ID: "d2"})
	st.PutReservation(paidRide("r1", "d1", 1000))
	st.PutReservation(paidRide("r2", "d2", 2000))
	st.PutReservation(paidRide("r3", "ghost", 3000))
	done := paidRide("r4", "d1", 4000)
	done.DriverCredited = true
	st.PutReservation(done)

	svc := newService(st)
	rep, err := svc.RecoverMissed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Count)
	assert.Equal(t, 3, rep.Total)
	assert.Equal(t, "2/3 credits recovered", rep.Message)
	require.Len(t, rep.Details, 3)
	assert.Equal(t, RecoveryItem{ReservationID: "r1", Success: true, Amount: 700}, rep.Details[0])
	assert.Equal(t, RecoveryItem{ReservationID: "r2", Success: true, Amount: 1400}, rep.Details[1])
	assert.False(t, rep.Details[2].Success)
	assert.Equal(t, "DRIVER_NOT_FOUND", rep.Details[2].Code)

	r1, _ := st.Reservation(context.Background(), "r1")
	assert.Equal(t, SourceRecovery, r1.CreditSource)
	errRecs := st.Records(model.CollectionCreditErrors)
	require.Len(t, errRecs, 1)
	assert.Equal(t, OpRecovery, errRecs[0].(model.ErrorRecord).Operation)

	// A second pass finds only the broken reservation and credits nobody twice.
	rep, err = svc.RecoverMissed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, rep.Count)
	assert.Equal(t, 1, rep.Total)
	d1, _ := st.Driver(context.Background(), "d1")
	assert.Equal(t, int64(700), d1.WalletBalance)
}

func TestRecoverMissedEmpty(t *testing.T) {
	rep, err := newService(memstore.New()).RecoverMissed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, rep.Count)
	assert.Equal(t, "no missed credits", rep.Message)
	assert.Empty(t, rep.Details)
}
