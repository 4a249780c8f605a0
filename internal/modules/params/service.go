// README: Resolves system parameters from settings/dispatch with configured fallbacks.
package params

import (
	"context"
	"errors"
	"time"

	"dispatchd/internal/config"
	"dispatchd/internal/logger"
	"dispatchd/internal/store"
)

type Values struct {
	AutoDispatchEnabled bool
	SearchRadiusKm      float64
	ReassignTimeout     time.Duration
	MinWalletBalance    int64
}

type Loader struct {
	store    store.Store
	defaults Values
	log      logger.Logger
}

func NewLoader(st store.Store, cfg config.ParamsConfig, log logger.Logger) *Loader {
	def := Values{
		AutoDispatchEnabled: true,
		SearchRadiusKm:      cfg.SearchRadiusKm,
		ReassignTimeout:     cfg.ReassignTimeout,
		MinWalletBalance:    cfg.MinWalletBalance,
	}
	if cfg.AutoDispatchEnabled != nil {
		def.AutoDispatchEnabled = *cfg.AutoDispatchEnabled
	}
	return &Loader{store: st, defaults: def, log: log}
}

func (l *Loader) Defaults() Values { return l.defaults }

// Load reads the parameters document on every call so admin edits apply
// without a restart. A missing document yields the defaults; other read
// failures are returned.
func (l *Loader) Load(ctx context.Context) (Values, error) {
	p, err := l.store.Params(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return l.defaults, nil
	}
	if err != nil {
		return Values{}, err
	}
	v := l.defaults
	if p.AutoDispatchEnabled != nil {
		v.AutoDispatchEnabled = *p.AutoDispatchEnabled
	}
	// Explicit zeros are honoured; negative values are ignored.
	if p.SearchRadiusKm != nil {
		if *p.SearchRadiusKm >= 0 {
			v.SearchRadiusKm = *p.SearchRadiusKm
		} else {
			l.log.Warnf("ignoring negative searchRadiusKm %v", *p.SearchRadiusKm)
		}
	}
	if p.ReassignTimeoutMinutes != nil {
		if *p.ReassignTimeoutMinutes >= 0 {
			v.ReassignTimeout = time.Duration(*p.ReassignTimeoutMinutes) * time.Minute
		} else {
			l.log.Warnf("ignoring negative reassignTimeoutMinutes %d", *p.ReassignTimeoutMinutes)
		}
	}
	if p.MinWalletBalance != nil {
		if *p.MinWalletBalance >= 0 {
			v.MinWalletBalance = *p.MinWalletBalance
		} else {
			l.log.Warnf("ignoring negative minWalletBalance %d", *p.MinWalletBalance)
		}
	}
	l.log.Debugw("params loaded", map[string]any{
		"autoDispatch": v.AutoDispatchEnabled,
		"radiusKm":     v.SearchRadiusKm,
		"timeout":      v.ReassignTimeout.String(),
		"minBalance":   v.MinWalletBalance,
	})
	return v, nil
}
