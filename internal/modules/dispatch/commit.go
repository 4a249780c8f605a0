// README: The assignment transaction shared by automatic and manual dispatch.
package dispatch

import (
	"context"
	"errors"
	"time"

	"dispatchd/internal/errs"
	"dispatchd/internal/model"
	"dispatchd/internal/modules/driver"
	"dispatchd/internal/store"
	"dispatchd/internal/types"
)

type assignment struct {
	reservationID types.ID
	driverID      types.ID
	source        string
	distanceKm    *float64
	eta           time.Duration
	approximate   bool
	minBalance    int64
}

// commit binds driver and reservation in one transaction after re-checking
// every precondition against fresh reads. Auto mode requires a pending
// reservation and a fully eligible driver. Manual mode accepts any open
// reservation, frees its previous driver and only requires the target to be
// available with empty job fields.
func (s *Service) commit(ctx context.Context, a assignment) (*model.Driver, error) {
	var bound *model.Driver
	err := s.store.RunTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		r, err := tx.Reservation(a.reservationID)
		if errors.Is(err, store.ErrNotFound) {
			return ErrReservationNotFound
		}
		if err != nil {
			return err
		}
		d, err := tx.Driver(a.driverID)
		if errors.Is(err, store.ErrNotFound) {
			return ErrDriverNotFound
		}
		if err != nil {
			return err
		}

		var prev *model.Driver
		if a.source == SourceManual {
			if r.Terminal() {
				return ErrReservationClosed
			}
			if r.AssignedDriverID != "" && r.AssignedDriverID != d.ID {
				prev, err = tx.Driver(r.AssignedDriverID)
				if errors.Is(err, store.ErrNotFound) {
					prev = nil
				} else if err != nil {
					return err
				}
			}
			if d.Status != model.DriverAvailable {
				return ErrDriverUnavailable
			}
			if !d.MirrorsEmpty() {
				return ErrDriverBusy
			}
		} else {
			if !model.CanTransition(r.Status, model.ReservationAssigned) {
				return ErrNotPending
			}
			if !d.Eligible(a.minBalance) || r.HasRejected(d.ID) {
				return ErrDriverIneligible
			}
		}

		if prev != nil {
			if _, err := driver.Release(tx, prev, r.ID); err != nil {
				return err
			}
		}
		ups := []store.Update{
			{Field: model.FieldStatus, Value: model.ReservationAssigned},
			{Field: model.FieldAssignedDriverID, Value: d.ID},
			{Field: model.FieldAssignedAt, Value: store.ServerTimestamp},
			{Field: model.FieldAssignmentSource, Value: a.source},
		}
		if a.distanceKm != nil {
			ups = append(ups,
				store.Update{Field: model.FieldDistanceKm, Value: *a.distanceKm},
				store.Update{Field: model.FieldETAMinutes, Value: int(a.eta / time.Minute)},
			)
		} else {
			ups = append(ups,
				store.Update{Field: model.FieldDistanceKm, Value: store.Delete},
				store.Update{Field: model.FieldETAMinutes, Value: store.Delete},
			)
		}
		if a.approximate {
			ups = append(ups, store.Update{Field: model.FieldPickupApproximate, Value: true})
		}
		if err := tx.UpdateReservation(r.ID, ups...); err != nil {
			return err
		}
		if err := tx.UpdateDriver(d.ID, driver.EngageUpdates(r.ID)...); err != nil {
			return err
		}
		bound = d
		return nil
	})
	if errors.Is(err, store.ErrConflict) {
		return nil, errs.Wrap(errs.Internal, "CONTENTION", err)
	}
	if err != nil {
		return nil, err
	}
	return bound, nil
}
