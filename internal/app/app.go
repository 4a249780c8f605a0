// README: Process wiring; builds every service from config for the serve and job commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"dispatchd/internal/config"
	httptransport "dispatchd/internal/http"
	"dispatchd/internal/geocode"
	"dispatchd/internal/infra"
	"dispatchd/internal/logger"
	"dispatchd/internal/metrics"
	"dispatchd/internal/modules/dispatch"
	"dispatchd/internal/modules/notify"
	"dispatchd/internal/modules/params"
	"dispatchd/internal/modules/reassign"
	"dispatchd/internal/modules/reconcile"
	"dispatchd/internal/modules/reservation"
	"dispatchd/internal/modules/settlement"
	"dispatchd/internal/modules/trigger"
	"dispatchd/internal/scheduler"
	"dispatchd/internal/store"
	"dispatchd/internal/store/fsstore"
)

type App struct {
	Config *config.Config
	Log    logger.Logger

	Store       store.Store
	Dispatch    *dispatch.Service
	Reservation *reservation.Service
	Settlement  *settlement.Service
	Reassign    *reassign.Service
	Reconcile   *reconcile.Service
	Listener    *trigger.Listener
	Scheduler   *scheduler.Runner
	Server      *httptransport.Server

	firestore *firestore.Client
	db        *pgxpool.Pool
	redis     *redis.Client
}

// New connects to Firebase and the optional Postgres and Redis backends,
// then builds the services. Close releases the connections.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	if err := logger.SetLevel(cfg.Log.Level); err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	log := logger.New("dispatchd")
	if cfg.Firebase.ProjectID == "" {
		return nil, errors.New("firebase.project_id is required (DISPATCHD_FIREBASE__PROJECT_ID)")
	}

	a := &App{Config: cfg, Log: log}
	fb, err := infra.NewFirebaseApp(ctx, cfg.Firebase)
	if err != nil {
		return nil, err
	}
	verifier, err := infra.NewFirebaseVerifier(ctx, fb)
	if err != nil {
		return nil, err
	}
	if a.firestore, err = infra.NewFirestore(ctx, fb); err != nil {
		return nil, err
	}
	msg, err := infra.NewMessaging(ctx, fb)
	if err != nil {
		a.Close()
		return nil, err
	}

	m, err := metrics.New(prometheus.DefaultRegisterer)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Store = fsstore.New(a.firestore, cfg.Dispatch.CommitAttempts, logger.New("store"))

	notifyOpts := []notify.Option{notify.WithPusher(notify.NewFCMPusher(msg))}
	if cfg.DB.DSN != "" {
		if a.db, err = infra.NewDB(ctx, cfg.DB.DSN); err != nil {
			a.Close()
			return nil, err
		}
		ledger := notify.NewPGLedger(a.db)
		if err := ledger.EnsureSchema(ctx); err != nil {
			a.Close()
			return nil, fmt.Errorf("ledger schema: %w", err)
		}
		notifyOpts = append(notifyOpts, notify.WithLedger(ledger))
	}
	notifier := notify.NewService(a.Store, logger.New("notify"), notifyOpts...)

	geo, err := buildGeocoder(cfg.Geocode)
	if err != nil {
		a.Close()
		return nil, err
	}

	loader := params.NewLoader(a.Store, cfg.Params, logger.New("params"))
	dispatchOpts := []dispatch.Option{dispatch.WithMetrics(m)}
	if geo != nil {
		dispatchOpts = append(dispatchOpts, dispatch.WithGeocoder(geo))
	}
	a.Dispatch = dispatch.NewService(a.Store, loader, notifier, cfg.Dispatch, logger.New("dispatch"), dispatchOpts...)
	a.Reservation = reservation.NewService(a.Store, notifier, logger.New("reservation"))
	a.Settlement = settlement.NewService(a.Store, notifier, cfg.Settlement, m, logger.New("settlement"))
	a.Reassign = reassign.NewService(a.Store, loader, notifier, cfg.Dispatch, logger.New("reassign"),
		reassign.WithMetrics(m), reassign.WithRedispatcher(a.Dispatch))
	a.Reconcile = reconcile.NewService(a.Store, notifier, m, logger.New("reconcile"))
	a.Listener = trigger.NewListener(a.Store, a.Dispatch, a.Settlement, logger.New("trigger"), trigger.WithMetrics(m))

	runnerOpts := []scheduler.Option{scheduler.WithMetrics(m)}
	if cfg.Redis.Addr != "" {
		a.redis = infra.NewRedis(cfg.Redis)
		runnerOpts = append(runnerOpts, scheduler.WithLocker(scheduler.NewRedisLocker(a.redis, ownerID()), cfg.Schedule.LeaseTTL))
	}
	a.Scheduler = scheduler.NewRunner(logger.New("scheduler"), runnerOpts...)
	a.Scheduler.Add(scheduler.Job{
		Name:     scheduler.JobReassign,
		Interval: cfg.Schedule.ReassignInterval,
		Run: func(ctx context.Context) error {
			_, err := a.Reassign.Sweep(ctx)
			return err
		},
	})
	a.Scheduler.Add(scheduler.Job{
		Name:     scheduler.JobReconcile,
		Interval: cfg.Schedule.ReconcileInterval,
		Run: func(ctx context.Context) error {
			_, err := a.Reconcile.Run(ctx)
			return err
		},
	})

	a.Server = httptransport.NewServer(httptransport.ServerDeps{
		Reservations: a.Reservation,
		Assigner:     a.Dispatch,
		Recoverer:    a.Settlement,
		Sweeper:      a.Reassign,
		Reconciler:   a.Reconcile,
		Verifier:     verifier,
		AdminToken:   cfg.Auth.AdminToken,
		Metrics:      m,
		Log:          logger.New("http"),
	})
	return a, nil
}

func buildGeocoder(cfg config.GeocodeConfig) (geocode.Geocoder, error) {
	var chain geocode.Chain
	if cfg.TableFile != "" {
		t, err := geocode.LoadTable(cfg.TableFile)
		if err != nil {
			return nil, fmt.Errorf("area table: %w", err)
		}
		chain = append(chain, t)
	}
	if cfg.GoogleMapsKey != "" {
		g, err := geocode.NewGoogle(cfg.GoogleMapsKey, cfg.Region)
		if err != nil {
			return nil, fmt.Errorf("google geocoder: %w", err)
		}
		chain = append(chain, g)
	}
	if len(chain) == 0 {
		return nil, nil
	}
	return chain, nil
}

// ownerID tags job leases with the replica holding them.
func ownerID() string {
	host, _ := os.Hostname()
	return host + "-" + uuid.NewString()[:8]
}

// Serve runs the HTTP API, the Firestore listeners and the scheduler until
// ctx is cancelled or one of them fails.
func (a *App) Serve(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.Server.ListenAndServe(ctx, a.Config.HTTP.Addr, a.Config.HTTP.ShutdownTimeout)
	})
	g.Go(func() error {
		return a.Listener.Run(ctx)
	})
	g.Go(func() error {
		a.Scheduler.Run(ctx)
		return nil
	})
	return g.Wait()
}

func (a *App) Close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
	if a.firestore != nil {
		_ = a.firestore.Close()
	}
}
