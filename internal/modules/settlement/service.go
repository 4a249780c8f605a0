// README: Exactly-once driver crediting for completed, paid rides.
package settlement

import (
	"context"
	"errors"
	"fmt"

	"dispatchd/internal/config"
	"dispatchd/internal/errs"
	"dispatchd/internal/logger"
	"dispatchd/internal/metrics"
	"dispatchd/internal/model"
	"dispatchd/internal/store"
	"dispatchd/internal/types"
)

type Notifier interface {
	NotifyDriver(ctx context.Context, d *model.Driver, n model.Notification) error
	RecordLedger(ctx context.Context, e model.LedgerEntry) error
	RecordError(ctx context.Context, collection string, rec model.ErrorRecord) error
}

type Service struct {
	store   store.Store
	notify  Notifier
	metrics *metrics.Metrics
	log     logger.Logger
	rate    float64
}

func NewService(st store.Store, n Notifier, cfg config.SettlementConfig, m *metrics.Metrics, log logger.Logger) *Service {
	return &Service{store: st, notify: n, metrics: m, log: log, rate: cfg.DriverShareRate}
}

// ShouldCredit is the joint settlement condition. Either flag may flip last,
// so it is evaluated on every delivered snapshot.
func ShouldCredit(r *model.Reservation) bool {
	return r != nil &&
		r.Status == model.ReservationCompleted &&
		r.PaymentValidated &&
		!r.DriverCredited
}

// SettleableQuery selects reservations satisfying ShouldCredit.
func SettleableQuery() store.ReservationQuery {
	return store.ReservationQuery{
		Status:           model.ReservationCompleted,
		PaymentValidated: store.Bool(true),
		DriverCredited:   store.Bool(false),
	}
}

// HandleUpdate is the reservation-change trigger entry point. It never
// returns an error; failures land in credit_errors.
func (s *Service) HandleUpdate(ctx context.Context, r *model.Reservation) {
	if !ShouldCredit(r) {
		return
	}
	_, err := s.Credit(ctx, CreditCommand{
		ReservationID:    r.ID,
		ExpectedDriverID: r.AssignedDriverID,
		Source:           SourceTrigger,
	})
	if err != nil {
		s.recordFailure(ctx, OpCredit, r.ID, r.AssignedDriverID, err)
	}
}

// Credit pays the driver share of a completed, paid ride once. Every
// precondition is re-checked inside the transaction, so concurrent callers
// for the same reservation credit exactly once and the rest fail with
// ErrAlreadyCredited.
func (s *Service) Credit(ctx context.Context, cmd CreditCommand) (*CreditResult, error) {
	if cmd.ReservationID == "" {
		return nil, ErrMissingID
	}
	var res CreditResult
	var bound *model.Driver
	err := s.store.RunTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		r, err := tx.Reservation(cmd.ReservationID)
		if errors.Is(err, store.ErrNotFound) {
			return ErrReservationNotFound
		}
		if err != nil {
			return err
		}
		switch {
		case r.Status != model.ReservationCompleted:
			return ErrNotCompleted
		case r.DriverCredited:
			return ErrAlreadyCredited
		case !r.PaymentValidated:
			return ErrPaymentNotValidated
		case r.AssignedDriverID == "":
			return ErrNoDriver
		case cmd.ExpectedDriverID != "" && r.AssignedDriverID != cmd.ExpectedDriverID:
			return ErrWrongDriver
		}
		price := r.Price()
		if price <= 0 {
			return fmt.Errorf("%w: %v", ErrInvalidPrice, r.EstimatedPrice)
		}
		d, err := tx.Driver(r.AssignedDriverID)
		if errors.Is(err, store.ErrNotFound) {
			return ErrDriverNotFound
		}
		if err != nil {
			return err
		}

		net, platform := types.SplitShare(price, s.rate)
		if err := tx.UpdateDriver(d.ID,
			store.Update{Field: model.FieldWalletBalance, Value: store.Increment(net)},
			store.Update{Field: model.FieldLifetimeEarnings, Value: store.Increment(net)},
			store.Update{Field: model.FieldLastCreditAt, Value: store.ServerTimestamp},
		); err != nil {
			return err
		}
		if err := tx.UpdateReservation(r.ID,
			store.Update{Field: model.FieldDriverCredited, Value: true},
			store.Update{Field: model.FieldCreditedAt, Value: store.ServerTimestamp},
			store.Update{Field: model.FieldCreditedAmount, Value: net},
			store.Update{Field: model.FieldPlatformAmount, Value: platform},
			store.Update{Field: model.FieldCreditSource, Value: cmd.Source},
		); err != nil {
			return err
		}
		bound = d
		res = CreditResult{
			ReservationID: r.ID,
			DriverID:      d.ID,
			Fare:          price,
			DriverShare:   net,
			PlatformShare: platform,
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			err = errs.Wrap(errs.Internal, "CONTENTION", err)
		}
		result := errs.CodeOf(err)
		if result == "" {
			result = "error"
		}
		s.metrics.Credit(cmd.Source, result, 0)
		return nil, err
	}

	s.metrics.Credit(cmd.Source, "ok", res.DriverShare)
	s.log.Infof("credited %s to driver %s for %s (%s)", types.Money{Amount: res.DriverShare}, res.DriverID, res.ReservationID, cmd.Source)
	_ = s.notify.NotifyDriver(ctx, bound, model.Notification{
		Type:          model.NotifyCreditReceived,
		ReservationID: res.ReservationID,
		Amount:        res.DriverShare,
		Message:       fmt.Sprintf("You received %s", types.Money{Amount: res.DriverShare}),
	})
	_ = s.notify.RecordLedger(ctx, model.LedgerEntry{
		ReservationID: res.ReservationID,
		DriverID:      res.DriverID,
		Fare:          res.Fare,
		DriverShare:   res.DriverShare,
		PlatformShare: res.PlatformShare,
		Source:        cmd.Source,
		Success:       true,
	})
	return &res, nil
}

// RecoverMissed credits every completed, paid, uncredited reservation the
// trigger missed. Per-item failures are reported in the details and never
// abort the sweep.
func (s *Service) RecoverMissed(ctx context.Context) (*RecoveryReport, error) {
	missed, err := s.store.Reservations(ctx, SettleableQuery())
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "QUERY_FAILED", err)
	}
	rep := &RecoveryReport{Total: len(missed), Details: make([]RecoveryItem, 0, len(missed))}
	if len(missed) == 0 {
		rep.Message = "no missed credits"
		return rep, nil
	}
	s.log.Infof("recovery: %d missed credits", len(missed))

	for _, r := range missed {
		res, err := s.Credit(ctx, CreditCommand{
			ReservationID:    r.ID,
			ExpectedDriverID: r.AssignedDriverID,
			Source:           SourceRecovery,
		})
		if err != nil {
			s.recordFailure(ctx, OpRecovery, r.ID, r.AssignedDriverID, err)
			rep.Details = append(rep.Details, RecoveryItem{
				ReservationID: r.ID,
				Code:          errs.CodeOf(err),
				Error:         err.Error(),
			})
			continue
		}
		rep.Count++
		rep.Details = append(rep.Details, RecoveryItem{ReservationID: r.ID, Success: true, Amount: res.DriverShare})
	}
	rep.Message = fmt.Sprintf("%d/%d credits recovered", rep.Count, rep.Total)
	return rep, nil
}

func (s *Service) recordFailure(ctx context.Context, op string, id, driverID types.ID, err error) {
	s.log.Errorf("%s %s: %v", op, id, err)
	_ = s.notify.RecordError(ctx, model.CollectionCreditErrors, model.ErrorRecord{
		Operation:     op,
		ReservationID: id,
		DriverID:      driverID,
		Kind:          string(errs.KindOf(err)),
		Code:          errs.CodeOf(err),
		Message:       err.Error(),
	})
}
