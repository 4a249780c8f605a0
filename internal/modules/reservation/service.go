// README: Reservation completion and cancellation transitions.
package reservation

import (
	"context"
	"errors"

	"dispatchd/internal/errs"
	"dispatchd/internal/logger"
	"dispatchd/internal/model"
	"dispatchd/internal/modules/driver"
	"dispatchd/internal/store"
	"dispatchd/internal/types"
)

var (
	ErrMissingID        = errs.New(errs.InvalidArgument, "INVALID_ARGUMENT", "reservation id is required")
	ErrNotFound         = errs.New(errs.NotFound, "RESERVATION_NOT_FOUND", "reservation not found")
	ErrWrongDriver      = errs.New(errs.PermissionDenied, "WRONG_DRIVER", "reservation is assigned to another driver")
	ErrInvalidState     = errs.New(errs.FailedPrecondition, "INVALID_STATE", "transition not allowed from current status")
	ErrAlreadyCompleted = errs.New(errs.FailedPrecondition, "ALREADY_COMPLETED", "reservation already completed")
	ErrAlreadyCancelled = errs.New(errs.FailedPrecondition, "ALREADY_CANCELLED", "reservation already cancelled")
)

type Notifier interface {
	NotifyDriver(ctx context.Context, d *model.Driver, n model.Notification) error
}

type CompleteCommand struct {
	ReservationID types.ID
	DriverID      types.ID
	// Admin skips the assigned-driver check.
	Admin bool
}

type CancelCommand struct {
	ReservationID types.ID
	Reason        string
}

type Service struct {
	store  store.Store
	notify Notifier
	log    logger.Logger
}

func NewService(st store.Store, n Notifier, log logger.Logger) *Service {
	return &Service{store: st, notify: n, log: log}
}

// Complete marks an assigned reservation completed and frees its driver.
// Settlement picks it up once payment is validated.
func (s *Service) Complete(ctx context.Context, cmd CompleteCommand) error {
	if cmd.ReservationID == "" {
		return ErrMissingID
	}
	err := s.store.RunTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		r, err := tx.Reservation(cmd.ReservationID)
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if r.Status == model.ReservationCompleted {
			return ErrAlreadyCompleted
		}
		if !model.CanTransition(r.Status, model.ReservationCompleted) {
			return ErrInvalidState
		}
		if !cmd.Admin && r.AssignedDriverID != cmd.DriverID {
			return ErrWrongDriver
		}
		d, err := s.boundDriver(tx, r)
		if err != nil {
			return err
		}
		if err := tx.UpdateReservation(r.ID,
			store.Update{Field: model.FieldStatus, Value: model.ReservationCompleted},
			store.Update{Field: model.FieldCompletedAt, Value: store.ServerTimestamp},
		); err != nil {
			return err
		}
		_, err = driver.Release(tx, d, r.ID)
		return err
	})
	if err != nil {
		return wrapConflict(err)
	}
	s.log.Infof("reservation %s completed", cmd.ReservationID)
	return nil
}

// Cancel moves an open reservation to cancelled and frees its driver.
func (s *Service) Cancel(ctx context.Context, cmd CancelCommand) error {
	if cmd.ReservationID == "" {
		return ErrMissingID
	}
	var released *model.Driver
	err := s.store.RunTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		released = nil
		r, err := tx.Reservation(cmd.ReservationID)
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		switch r.Status {
		case model.ReservationCancelled:
			return ErrAlreadyCancelled
		case model.ReservationCompleted:
			return ErrAlreadyCompleted
		}
		if !model.CanTransition(r.Status, model.ReservationCancelled) {
			return ErrInvalidState
		}
		d, err := s.boundDriver(tx, r)
		if err != nil {
			return err
		}
		ups := []store.Update{
			{Field: model.FieldStatus, Value: model.ReservationCancelled},
			{Field: model.FieldCancelledAt, Value: store.ServerTimestamp},
		}
		if cmd.Reason != "" {
			ups = append(ups, store.Update{Field: model.FieldCancelReason, Value: cmd.Reason})
		}
		if err := tx.UpdateReservation(r.ID, ups...); err != nil {
			return err
		}
		ok, err := driver.Release(tx, d, r.ID)
		if ok {
			released = d
		}
		return err
	})
	if err != nil {
		return wrapConflict(err)
	}
	s.log.Infof("reservation %s cancelled: %s", cmd.ReservationID, cmd.Reason)
	if released != nil {
		_ = s.notify.NotifyDriver(ctx, released, model.Notification{
			Type:          model.NotifyReservationCancelled,
			ReservationID: cmd.ReservationID,
			Message:       "The ride was cancelled",
			Data:          map[string]any{"reason": cmd.Reason},
		})
	}
	return nil
}

// boundDriver reads the reservation's assigned driver, or nil when there is
// none or the document is gone.
func (s *Service) boundDriver(tx store.Tx, r *model.Reservation) (*model.Driver, error) {
	if r.AssignedDriverID == "" {
		return nil, nil
	}
	d, err := tx.Driver(r.AssignedDriverID)
	if errors.Is(err, store.ErrNotFound) {
		s.log.Warnf("reservation %s references missing driver %s", r.ID, r.AssignedDriverID)
		return nil, nil
	}
	return d, err
}

func wrapConflict(err error) error {
	if errors.Is(err, store.ErrConflict) {
		return errs.Wrap(errs.Internal, "CONTENTION", err)
	}
	return err
}
