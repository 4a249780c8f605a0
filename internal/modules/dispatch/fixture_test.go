package dispatch

import (
	"context"
	"testing"
	"time"

	"dispatchd/internal/config"
	"dispatchd/internal/logger"
	"dispatchd/internal/model"
	"dispatchd/internal/modules/notify"
	"dispatchd/internal/modules/params"
	"dispatchd/internal/store/memstore"
	"dispatchd/internal/types"
)

// kmPerDegreeLat is the haversine length of one degree of latitude at R=6371.
const kmPerDegreeLat = 111.19492664455873

var pickup = types.Point{Lat: 14.70, Lng: -17.45}

// north returns a point km kilometres due north of pickup.
func north(km float64) *model.Position {
	return &model.Position{Lat: pickup.Lat + km/kmPerDegreeLat, Lng: pickup.Lng}
}

type fixture struct {
	store *memstore.Store
	svc   *Service
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	st := memstore.New(memstore.WithClock(func() time.Time {
		return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	}))
	loader := params.NewLoader(st, config.ParamsConfig{SearchRadiusKm: 10, ReassignTimeout: 5 * time.Minute}, logger.NopLogger{})
	n := notify.NewService(st, logger.NopLogger{})
	svc := NewService(st, loader, n, config.DispatchConfig{AverageSpeedKmh: 30}, logger.NopLogger{}, opts...)
	return &fixture{store: st, svc: svc}
}

func (f *fixture) pending(id types.ID) {
	p := pickup
	f.store.PutReservation(&model.Reservation{ID: id, Status: model.ReservationPending, Pickup: &p, EstimatedPrice: 5000})
}

func (f *fixture) available(id types.ID, pos *model.Position, balance int64) {
	f.store.PutDriver(&model.Driver{ID: id, Status: model.DriverAvailable, Position: pos, WalletBalance: balance, DisplayName: "Driver " + string(id)})
}

func (f *fixture) reservation(t *testing.T, id types.ID) *model.Reservation {
	t.Helper()
	r, err := f.store.Reservation(context.Background(), id)
	if err != nil {
		t.Fatalf("reservation %s: %v", id, err)
	}
	return r
}

func (f *fixture) driver(t *testing.T, id types.ID) *model.Driver {
	t.Helper()
	d, err := f.store.Driver(context.Background(), id)
	if err != nil {
		t.Fatalf("driver %s: %v", id, err)
	}
	return d
}

func (f *fixture) notifications(kind string) []model.Notification {
	var out []model.Notification
	for _, rec := range f.store.Records(model.CollectionNotifications) {
		if n := rec.(model.Notification); n.Type == kind {
			out = append(out, n)
		}
	}
	return out
}

type stubGeocoder struct {
	p   types.Point
	err error
}

func (g stubGeocoder) Lookup(context.Context, string) (types.Point, error) { return g.p, g.err }
