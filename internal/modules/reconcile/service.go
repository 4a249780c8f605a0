// README: Hourly repair of drivers whose two job fields disagree.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"dispatchd/internal/logger"
	"dispatchd/internal/metrics"
	"dispatchd/internal/model"
	"dispatchd/internal/modules/driver"
	"dispatchd/internal/store"
	"dispatchd/internal/types"
)

type Notifier interface {
	NotifyAdmin(ctx context.Context, n model.Notification) error
}

// Report lists the drivers that were repaired. Failed holds the ones whose
// write did not go through.
type Report struct {
	Scanned   int        `json:"scanned"`
	Repaired  int        `json:"repaired"`
	DriverIDs []types.ID `json:"driverIds"`
	Failed    []types.ID `json:"failed,omitempty"`
}

type Service struct {
	store   store.Store
	notify  Notifier
	metrics *metrics.Metrics
	log     logger.Logger
}

func NewService(st store.Store, n Notifier, m *metrics.Metrics, log logger.Logger) *Service {
	return &Service{store: st, notify: n, metrics: m, log: log}
}

// Run copies the authoritative job value into both fields of every diverged
// driver with one unconditional batch write. activeReservationId wins when
// both fields are set.
func (s *Service) Run(ctx context.Context) (Report, error) {
	drivers, err := s.store.Drivers(ctx, store.DriverQuery{})
	if err != nil {
		return Report{}, fmt.Errorf("list drivers: %w", err)
	}
	rep := Report{Scanned: len(drivers)}
	updates := make(map[types.ID][]store.Update)
	for _, d := range drivers {
		job, diverged := d.ReconciledJob()
		if !diverged {
			continue
		}
		updates[d.ID] = driver.MirrorUpdates(job)
	}
	if len(updates) == 0 {
		s.log.Debugf("reconcile: %d drivers consistent", rep.Scanned)
		return rep, nil
	}
	diverged := make([]types.ID, 0, len(updates))
	for id := range updates {
		diverged = append(diverged, id)
	}
	sort.Slice(diverged, func(i, j int) bool { return diverged[i] < diverged[j] })

	werr := s.store.BatchUpdateDrivers(ctx, updates)
	var be *store.BatchError
	switch {
	case werr == nil:
		rep.DriverIDs = diverged
	case errors.As(werr, &be):
		for _, id := range diverged {
			if _, bad := be.Failed[id]; bad {
				rep.Failed = append(rep.Failed, id)
			} else {
				rep.DriverIDs = append(rep.DriverIDs, id)
			}
		}
	default:
		rep.Failed = diverged
	}
	rep.Repaired = len(rep.DriverIDs)
	s.metrics.Repaired(rep.Repaired)

	data := map[string]any{
		"count":     rep.Repaired,
		"driverIds": idStrings(rep.DriverIDs),
	}
	msg := fmt.Sprintf("%d driver record(s) repaired", rep.Repaired)
	if werr != nil {
		s.log.Errorf("reconcile: repaired %d of %d diverged drivers: %v", rep.Repaired, len(diverged), werr)
		data["failed"] = idStrings(rep.Failed)
		data["error"] = werr.Error()
		msg = fmt.Sprintf("%d driver record(s) repaired, %d failed", rep.Repaired, len(rep.Failed))
	} else {
		s.log.Infof("reconcile: repaired %d of %d drivers", rep.Repaired, rep.Scanned)
	}
	_ = s.notify.NotifyAdmin(ctx, model.Notification{
		Type:    model.NotifyMirrorsRepaired,
		Message: msg,
		Data:    data,
	})
	if werr != nil {
		return rep, fmt.Errorf("repair drivers: %w", werr)
	}
	return rep, nil
}

func idStrings(ids []types.ID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, string(id))
	}
	return out
}
