// README: Admin-driven assignment that bypasses proximity and wallet rules.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dispatchd/internal/geo"
	"dispatchd/internal/model"
	"dispatchd/internal/modules/driver"
	"dispatchd/internal/store"
	"dispatchd/internal/types"
)

func (s *Service) AssignManually(ctx context.Context, cmd ManualAssignCommand) (*ManualAssignResult, error) {
	if cmd.ReservationID == "" || cmd.DriverID == "" {
		return nil, ErrMissingIDs
	}
	r, err := s.store.Reservation(ctx, cmd.ReservationID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrReservationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load reservation %s: %w", cmd.ReservationID, err)
	}
	if r.Terminal() {
		return nil, ErrReservationClosed
	}

	// The target is validated before the previous driver is touched, so a
	// rejected request leaves both drivers as they were.
	d, err := s.store.Driver(ctx, cmd.DriverID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrDriverNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load driver %s: %w", cmd.DriverID, err)
	}
	if !d.MirrorsEmpty() {
		return nil, ErrDriverBusy
	}
	if d.Status != model.DriverAvailable {
		return nil, ErrDriverUnavailable
	}
	if prev := r.AssignedDriverID; prev != "" && prev != cmd.DriverID {
		s.releasePrevious(ctx, r.ID, prev)
	}

	var dist *float64
	var eta time.Duration
	if r.Pickup != nil && r.Pickup.Valid() && d.HasPosition() {
		km := geo.DistanceKm(*r.Pickup, d.Position.Point())
		dist = &km
		eta = geo.EstimateArrival(km, s.speedKmh)
	}

	bound, err := s.commit(ctx, assignment{
		reservationID: r.ID,
		driverID:      d.ID,
		source:        SourceManual,
		distanceKm:    dist,
		eta:           eta,
	})
	if err != nil {
		s.metrics.Dispatch(SourceManual, string(OutcomeAborted))
		return nil, err
	}
	s.metrics.Dispatch(SourceManual, string(OutcomeAssigned))
	s.log.Infof("reservation %s manually assigned to %s", r.ID, bound.ID)
	s.announce(ctx, r, bound, SourceManual, dist, eta)

	res := &ManualAssignResult{Driver: driver.Summarize(bound), DistanceKm: dist}
	if dist != nil {
		res.ETAMinutes = int(eta / time.Minute)
	}
	return res, nil
}

// releasePrevious frees the driver currently bound to reservation id. It runs
// in its own transaction and never fails the caller; the assignment commit
// repeats the release atomically.
func (s *Service) releasePrevious(ctx context.Context, id, prevID types.ID) {
	err := s.store.RunTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		prev, err := tx.Driver(prevID)
		if err != nil {
			return err
		}
		_, err = driver.Release(tx, prev, id)
		return err
	})
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		s.log.Warnf("release previous driver %s from %s: %v", prevID, id, err)
	}
}
