// README: Automatic dispatch of a pending reservation to the nearest eligible driver.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dispatchd/internal/errs"
	"dispatchd/internal/geo"
	"dispatchd/internal/geocode"
	"dispatchd/internal/model"
	"dispatchd/internal/modules/params"
	"dispatchd/internal/store"
	"dispatchd/internal/types"
)

// Dispatch tries to bind reservation id to the nearest eligible driver. A
// commit that loses a race aborts with OutcomeAborted; the next best driver
// is not tried and the reservation stays pending.
func (s *Service) Dispatch(ctx context.Context, id types.ID) (Result, error) {
	failed := Result{Outcome: OutcomeFailed}
	r, err := s.store.Reservation(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return failed, ErrReservationNotFound
	}
	if err != nil {
		return failed, fmt.Errorf("load reservation %s: %w", id, err)
	}
	if r.Status != model.ReservationPending {
		s.log.Debugf("reservation %s is %s, not dispatching", id, r.Status)
		return Result{Outcome: OutcomeSkipped}, nil
	}

	p, err := s.params.Load(ctx)
	if err != nil {
		return failed, fmt.Errorf("load params: %w", err)
	}
	if !p.AutoDispatchEnabled {
		_ = s.notify.NotifyAdmin(ctx, model.Notification{
			Type:          model.NotifyManualDispatchRequired,
			ReservationID: id,
			Message:       "Automatic dispatch is disabled, assign a driver manually",
		})
		s.metrics.Dispatch(SourceAuto, string(OutcomeManual))
		return Result{Outcome: OutcomeManual}, nil
	}

	pickup, approximate, err := s.resolvePickup(ctx, r)
	if err != nil {
		s.metrics.Dispatch(SourceAuto, string(OutcomeFailed))
		return failed, err
	}

	drivers, err := s.store.Drivers(ctx, store.DriverQuery{Status: model.DriverAvailable})
	if err != nil {
		return failed, fmt.Errorf("list available drivers: %w", err)
	}
	cands := rankCandidates(r, drivers, pickup, p)
	if len(cands) == 0 {
		_ = s.notify.NotifyAdmin(ctx, model.Notification{
			Type:          model.NotifyNoDriverAvailable,
			ReservationID: id,
			Message:       fmt.Sprintf("No eligible driver within %.1f km", p.SearchRadiusKm),
			Data: map[string]any{
				"availableDrivers": len(drivers),
				"radiusKm":         p.SearchRadiusKm,
			},
		})
		s.metrics.Dispatch(SourceAuto, string(OutcomeNoCandidate))
		s.log.Infof("reservation %s: no candidate among %d available drivers", id, len(drivers))
		return Result{Outcome: OutcomeNoCandidate}, nil
	}

	best := cands[0]
	dist := best.DistanceKm
	eta := geo.EstimateArrival(dist, s.speedKmh)
	d, err := s.commit(ctx, assignment{
		reservationID: id,
		driverID:      best.DriverID,
		source:        SourceAuto,
		distanceKm:    &dist,
		eta:           eta,
		approximate:   approximate,
		minBalance:    p.MinWalletBalance,
	})
	if err != nil {
		outcome := OutcomeFailed
		if errs.KindOf(err) == errs.FailedPrecondition || errs.KindOf(err) == errs.NotFound {
			outcome = OutcomeAborted
		}
		s.metrics.Dispatch(SourceAuto, string(outcome))
		return Result{Outcome: outcome, DriverID: best.DriverID, DistanceKm: dist}, err
	}

	s.metrics.Dispatch(SourceAuto, string(OutcomeAssigned))
	s.log.Infof("reservation %s assigned to %s (%.2f km, eta %s)", id, d.ID, dist, eta)
	s.announce(ctx, r, d, SourceAuto, &dist, eta)
	return Result{
		Outcome:     OutcomeAssigned,
		DriverID:    d.ID,
		DistanceKm:  dist,
		ETA:         eta,
		Approximate: approximate,
	}, nil
}

// HandleCreated is the new-reservation trigger entry point. Failures are
// logged and recorded in dispatch_errors; nothing is returned so the event
// source never re-delivers.
func (s *Service) HandleCreated(ctx context.Context, r *model.Reservation) {
	s.run(ctx, r.ID, OpDispatch)
}

// Redispatch re-runs dispatch for a reservation reverted to pending.
func (s *Service) Redispatch(ctx context.Context, id types.ID) {
	s.run(ctx, id, OpRedispatch)
}

func (s *Service) run(ctx context.Context, id types.ID, op string) {
	res, err := s.Dispatch(ctx, id)
	if err == nil {
		return
	}
	if res.Outcome == OutcomeAborted {
		op = OpAssignmentFailed
	}
	s.log.Errorf("%s %s: %v", op, id, err)
	_ = s.notify.RecordError(ctx, model.CollectionDispatchErrors, model.ErrorRecord{
		Operation:     op,
		ReservationID: id,
		DriverID:      res.DriverID,
		Kind:          string(errs.KindOf(err)),
		Code:          errs.CodeOf(err),
		Message:       err.Error(),
	})
}

func (s *Service) resolvePickup(ctx context.Context, r *model.Reservation) (types.Point, bool, error) {
	if r.Pickup != nil && r.Pickup.Valid() {
		return *r.Pickup, false, nil
	}
	if s.geocoder == nil || r.PickupAddress == "" {
		return types.Point{}, false, ErrNoPickup
	}
	p, err := s.geocoder.Lookup(ctx, r.PickupAddress)
	if err != nil {
		if !errors.Is(err, geocode.ErrNoMatch) {
			s.log.Warnf("geocode %q for %s: %v", r.PickupAddress, r.ID, err)
		}
		return types.Point{}, false, fmt.Errorf("%w: %q", ErrNoPickup, r.PickupAddress)
	}
	return p, true, nil
}

// rankCandidates returns eligible drivers within the search radius, nearest
// first.
func rankCandidates(r *model.Reservation, drivers []*model.Driver, pickup types.Point, p params.Values) []geo.Candidate {
	cands := make([]geo.Candidate, 0, len(drivers))
	for _, d := range drivers {
		if !d.Eligible(p.MinWalletBalance) || r.HasRejected(d.ID) {
			continue
		}
		cands = append(cands, geo.Candidate{
			DriverID:   d.ID,
			DistanceKm: geo.DistanceKm(pickup, d.Position.Point()),
		})
	}
	cands = geo.WithinRadius(cands, p.SearchRadiusKm)
	geo.Rank(cands)
	return cands
}

func (s *Service) announce(ctx context.Context, r *model.Reservation, d *model.Driver, source string, dist *float64, eta time.Duration) {
	data := map[string]any{"source": source}
	if r.PickupAddress != "" {
		data["pickupAddress"] = r.PickupAddress
	}
	if dist != nil {
		data["distanceKm"] = *dist
		data["etaMinutes"] = int(eta / time.Minute)
	}
	_ = s.notify.NotifyDriver(ctx, d, model.Notification{
		Type:          model.NotifyNewAssignment,
		ReservationID: r.ID,
		Message:       "A new ride has been assigned to you",
		Data:          data,
	})
	_ = s.notify.NotifyAdmin(ctx, model.Notification{
		Type:          model.NotifyDriverAssigned,
		ReservationID: r.ID,
		DriverID:      d.ID,
		Message:       fmt.Sprintf("Driver %s assigned (%s)", d.ID, source),
		Data:          data,
	})
}
