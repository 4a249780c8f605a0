// README: Dispatch service wiring: store, parameters, notifications and pickup geocoding.
package dispatch

import (
	"context"

	"dispatchd/internal/config"
	"dispatchd/internal/geocode"
	"dispatchd/internal/logger"
	"dispatchd/internal/metrics"
	"dispatchd/internal/model"
	"dispatchd/internal/modules/params"
	"dispatchd/internal/store"
)

type ParamsLoader interface {
	Load(ctx context.Context) (params.Values, error)
}

type Notifier interface {
	NotifyDriver(ctx context.Context, d *model.Driver, n model.Notification) error
	NotifyAdmin(ctx context.Context, n model.Notification) error
	RecordError(ctx context.Context, collection string, rec model.ErrorRecord) error
}

type Service struct {
	store    store.Store
	params   ParamsLoader
	notify   Notifier
	geocoder geocode.Geocoder
	metrics  *metrics.Metrics
	log      logger.Logger
	speedKmh float64
}

type Option func(*Service)

// WithGeocoder enables address lookup for reservations without coordinates.
func WithGeocoder(g geocode.Geocoder) Option { return func(s *Service) { s.geocoder = g } }

func WithMetrics(m *metrics.Metrics) Option { return func(s *Service) { s.metrics = m } }

func NewService(st store.Store, p ParamsLoader, n Notifier, cfg config.DispatchConfig, log logger.Logger, opts ...Option) *Service {
	s := &Service{
		store:    st,
		params:   p,
		notify:   n,
		log:      log,
		speedKmh: cfg.AverageSpeedKmh,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}
