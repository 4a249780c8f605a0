// README: Timeout sweep reverting stale assignments to pending.
package reassign

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"dispatchd/internal/config"
	"dispatchd/internal/errs"
	"dispatchd/internal/logger"
	"dispatchd/internal/metrics"
	"dispatchd/internal/model"
	"dispatchd/internal/modules/driver"
	"dispatchd/internal/modules/params"
	"dispatchd/internal/store"
	"dispatchd/internal/types"
)

const OpTimeoutRevert = "timeout_revert"

// errStale means the reservation changed after the scan and no longer needs
// reverting.
var errStale = errors.New("assignment no longer expired")

type ParamsLoader interface {
	Load(ctx context.Context) (params.Values, error)
}

type Notifier interface {
	NotifyDriver(ctx context.Context, d *model.Driver, n model.Notification) error
	NotifyAdmin(ctx context.Context, n model.Notification) error
	RecordError(ctx context.Context, collection string, rec model.ErrorRecord) error
}

// Redispatcher re-runs automatic dispatch on a reverted reservation.
type Redispatcher interface {
	Redispatch(ctx context.Context, id types.ID)
}

type Report struct {
	Scanned        int        `json:"scanned"`
	Expired        int        `json:"expired"`
	Reverted       int        `json:"reverted"`
	Failed         int        `json:"failed"`
	Skipped        int        `json:"skipped"`
	ReservationIDs []types.ID `json:"reservationIds"`
}

type Service struct {
	store       store.Store
	params      ParamsLoader
	notify      Notifier
	dispatcher  Redispatcher
	metrics     *metrics.Metrics
	log         logger.Logger
	now         func() time.Time
	concurrency int
	redispatch  bool
}

type Option func(*Service)

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func WithMetrics(m *metrics.Metrics) Option { return func(s *Service) { s.metrics = m } }

// WithRedispatcher is consulted only when redispatch_on_revert is enabled.
func WithRedispatcher(r Redispatcher) Option { return func(s *Service) { s.dispatcher = r } }

func NewService(st store.Store, p ParamsLoader, n Notifier, cfg config.DispatchConfig, log logger.Logger, opts ...Option) *Service {
	s := &Service{
		store:       st,
		params:      p,
		notify:      n,
		log:         log,
		now:         time.Now,
		concurrency: cfg.SweepConcurrency,
		redispatch:  cfg.RedispatchOnRevert,
	}
	if s.concurrency < 1 {
		s.concurrency = 1
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sweep reverts every assignment older than the configured timeout. Each
// reservation is handled in its own transaction; one failure does not stop
// the others.
func (s *Service) Sweep(ctx context.Context) (Report, error) {
	var rep Report
	p, err := s.params.Load(ctx)
	if err != nil {
		return rep, fmt.Errorf("load params: %w", err)
	}
	assigned, err := s.store.Reservations(ctx, store.ReservationQuery{Status: model.ReservationAssigned})
	if err != nil {
		return rep, fmt.Errorf("list assigned reservations: %w", err)
	}
	rep.Scanned = len(assigned)

	now := s.now()
	var expired []*model.Reservation
	for _, r := range assigned {
		if r.AssignedAt == nil {
			s.log.Warnf("reservation %s is assigned without assignedAt, skipping", r.ID)
			rep.Skipped++
			continue
		}
		if now.Sub(*r.AssignedAt) > p.ReassignTimeout {
			expired = append(expired, r)
		}
	}
	rep.Expired = len(expired)

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for _, r := range expired {
		g.Go(func() error {
			released, err := s.revert(ctx, r.ID, r.AssignedDriverID, p.ReassignTimeout, now)
			if err != nil && !errors.Is(err, errStale) {
				s.log.Errorf("revert %s: %v", r.ID, err)
				_ = s.notify.RecordError(ctx, model.CollectionDispatchErrors, model.ErrorRecord{
					Operation:     OpTimeoutRevert,
					ReservationID: r.ID,
					DriverID:      r.AssignedDriverID,
					Kind:          string(errs.KindOf(err)),
					Code:          errs.CodeOf(err),
					Message:       err.Error(),
				})
			}
			mu.Lock()
			switch {
			case errors.Is(err, errStale):
				rep.Skipped++
			case err != nil:
				rep.Failed++
			default:
				rep.Reverted++
				rep.ReservationIDs = append(rep.ReservationIDs, r.ID)
			}
			mu.Unlock()
			if err == nil {
				s.afterRevert(ctx, r, released)
			}
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(rep.ReservationIDs, func(i, j int) bool { return rep.ReservationIDs[i] < rep.ReservationIDs[j] })
	s.metrics.Reverted(rep.Reverted)
	if rep.Reverted > 0 || rep.Failed > 0 {
		s.log.Infof("timeout sweep: %d assigned, %d expired, %d reverted, %d failed", rep.Scanned, rep.Expired, rep.Reverted, rep.Failed)
	}
	return rep, nil
}

// revert releases the bound driver and puts the reservation back to pending,
// after checking the assignment is still the one the scan saw and still
// expired. It returns the released driver, if any.
func (s *Service) revert(ctx context.Context, id, driverID types.ID, timeout time.Duration, now time.Time) (*model.Driver, error) {
	var released *model.Driver
	err := s.store.RunTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		released = nil
		r, err := tx.Reservation(id)
		if errors.Is(err, store.ErrNotFound) {
			return errStale
		}
		if err != nil {
			return err
		}
		if r.Status != model.ReservationAssigned || r.AssignedDriverID != driverID ||
			r.AssignedAt == nil || now.Sub(*r.AssignedAt) <= timeout {
			return errStale
		}
		if !model.CanTransition(r.Status, model.ReservationPending) {
			return errStale
		}
		var d *model.Driver
		if driverID != "" {
			d, err = tx.Driver(driverID)
			if errors.Is(err, store.ErrNotFound) {
				d = nil
			} else if err != nil {
				return err
			}
		}

		ups := []store.Update{
			{Field: model.FieldStatus, Value: model.ReservationPending},
			{Field: model.FieldAssignedDriverID, Value: store.Delete},
			{Field: model.FieldAssignedAt, Value: store.Delete},
			{Field: model.FieldAssignmentSource, Value: store.Delete},
			{Field: model.FieldDistanceKm, Value: store.Delete},
			{Field: model.FieldETAMinutes, Value: store.Delete},
			{Field: model.FieldAttemptCount, Value: store.Increment(1)},
			{Field: model.FieldLastTimeoutAt, Value: store.ServerTimestamp},
		}
		if driverID != "" {
			ups = append(ups, store.Update{Field: model.FieldRejectedDrivers, Value: store.ArrayUnion{driverID}})
		}
		if err := tx.UpdateReservation(id, ups...); err != nil {
			return err
		}
		ok, err := driver.Release(tx, d, id)
		if ok {
			released = d
		}
		return err
	})
	if errors.Is(err, store.ErrConflict) {
		return nil, errs.Wrap(errs.Internal, "CONTENTION", err)
	}
	return released, err
}

func (s *Service) afterRevert(ctx context.Context, r *model.Reservation, released *model.Driver) {
	if released != nil {
		_ = s.notify.NotifyDriver(ctx, released, model.Notification{
			Type:          model.NotifyAssignmentExpired,
			ReservationID: r.ID,
			Message:       "The ride was reassigned because it was not started in time",
		})
	}
	if s.redispatch && s.dispatcher != nil {
		s.dispatcher.Redispatch(ctx, r.ID)
		return
	}
	_ = s.notify.NotifyAdmin(ctx, model.Notification{
		Type:          model.NotifyManualDispatchRequired,
		ReservationID: r.ID,
		DriverID:      r.AssignedDriverID,
		Message:       fmt.Sprintf("Assignment to %s expired, reservation is pending again", r.AssignedDriverID),
	})
}
