// README: Config loader: optional YAML/JSON file, DISPATCHD_ env overrides, defaults, validation.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix namespaces overrides; "__" separates nested keys, so
// DISPATCHD_DISPATCH__REDISPATCH_ON_REVERT sets dispatch.redispatch_on_revert.
const EnvPrefix = "DISPATCHD_"

type HTTPConfig struct {
	Addr            string        `json:"addr"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
}

type FirebaseConfig struct {
	ProjectID       string `json:"project_id"`
	CredentialsFile string `json:"credentials_file"`
}

type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
}

type DBConfig struct {
	DSN string `json:"dsn"`
}

type AuthConfig struct {
	// AdminToken enables the X-Admin-Token bypass when non-empty.
	AdminToken string `json:"admin_token"`
}

// ParamsConfig holds the fallbacks used when settings/dispatch is missing or
// leaves a field unset.
type ParamsConfig struct {
	AutoDispatchEnabled *bool         `json:"auto_dispatch_enabled"`
	SearchRadiusKm      float64       `json:"search_radius_km"`
	ReassignTimeout     time.Duration `json:"reassign_timeout"`
	MinWalletBalance    int64         `json:"min_wallet_balance"`
}

type DispatchConfig struct {
	AverageSpeedKmh    float64 `json:"average_speed_kmh"`
	RedispatchOnRevert bool    `json:"redispatch_on_revert"`
	CommitAttempts     int     `json:"commit_attempts"`
	SweepConcurrency   int     `json:"sweep_concurrency"`
}

type SettlementConfig struct {
	DriverShareRate float64 `json:"driver_share_rate"`
}

type ScheduleConfig struct {
	ReassignInterval  time.Duration `json:"reassign_interval"`
	ReconcileInterval time.Duration `json:"reconcile_interval"`
	LeaseTTL          time.Duration `json:"lease_ttl"`
}

type GeocodeConfig struct {
	TableFile     string `json:"table_file"`
	GoogleMapsKey string `json:"google_maps_key"`
	Region        string `json:"region"`
}

type LogConfig struct {
	Level string `json:"level"`
}

type Config struct {
	HTTP       HTTPConfig       `json:"http"`
	Firebase   FirebaseConfig   `json:"firebase"`
	Redis      RedisConfig      `json:"redis"`
	DB         DBConfig         `json:"db"`
	Auth       AuthConfig       `json:"auth"`
	Params     ParamsConfig     `json:"params"`
	Dispatch   DispatchConfig   `json:"dispatch"`
	Settlement SettlementConfig `json:"settlement"`
	Schedule   ScheduleConfig   `json:"schedule"`
	Geocode    GeocodeConfig    `json:"geocode"`
	Log        LogConfig        `json:"log"`
}

// Load reads path (if non-empty) then applies environment overrides.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	if path != "" {
		var parser koanf.Parser
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			parser = yaml.Parser()
		case ".json":
			parser = json.Parser()
		default:
			return nil, fmt.Errorf("unsupported config format: %s", filepath.Ext(path))
		}
		if err := k.Load(file.Provider(path), parser); err != nil {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(s, EnvPrefix)
		return strings.ReplaceAll(strings.ToLower(s), "__", ".")
	}), nil); err != nil {
		return nil, err
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) SetDefaults() {
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.HTTP.ShutdownTimeout == 0 {
		c.HTTP.ShutdownTimeout = 10 * time.Second
	}
	if c.Params.AutoDispatchEnabled == nil {
		enabled := true
		c.Params.AutoDispatchEnabled = &enabled
	}
	if c.Params.SearchRadiusKm == 0 {
		c.Params.SearchRadiusKm = 10
	}
	if c.Params.ReassignTimeout == 0 {
		c.Params.ReassignTimeout = 5 * time.Minute
	}
	if c.Dispatch.AverageSpeedKmh == 0 {
		c.Dispatch.AverageSpeedKmh = 30
	}
	if c.Dispatch.CommitAttempts == 0 {
		c.Dispatch.CommitAttempts = 5
	}
	if c.Dispatch.SweepConcurrency == 0 {
		c.Dispatch.SweepConcurrency = 8
	}
	if c.Settlement.DriverShareRate == 0 {
		c.Settlement.DriverShareRate = 0.70
	}
	if c.Schedule.ReassignInterval == 0 {
		c.Schedule.ReassignInterval = 5 * time.Minute
	}
	if c.Schedule.ReconcileInterval == 0 {
		c.Schedule.ReconcileInterval = time.Hour
	}
	if c.Schedule.LeaseTTL == 0 {
		c.Schedule.LeaseTTL = 30 * time.Second
	}
	if c.Geocode.Region == "" {
		c.Geocode.Region = "sn"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

func (c *Config) Validate() error {
	var errs []error
	if c.Params.SearchRadiusKm < 0 {
		errs = append(errs, errors.New("params.search_radius_km must be positive"))
	}
	if c.Params.ReassignTimeout < 0 {
		errs = append(errs, errors.New("params.reassign_timeout must be positive"))
	}
	if c.Settlement.DriverShareRate <= 0 || c.Settlement.DriverShareRate > 1 {
		errs = append(errs, fmt.Errorf("settlement.driver_share_rate %v outside (0, 1]", c.Settlement.DriverShareRate))
	}
	if c.Dispatch.AverageSpeedKmh < 0 {
		errs = append(errs, errors.New("dispatch.average_speed_kmh must be positive"))
	}
	if c.Dispatch.CommitAttempts < 1 {
		errs = append(errs, errors.New("dispatch.commit_attempts must be at least 1"))
	}
	if c.Dispatch.SweepConcurrency < 1 {
		errs = append(errs, errors.New("dispatch.sweep_concurrency must be at least 1"))
	}
	if c.Schedule.ReassignInterval < 0 || c.Schedule.ReconcileInterval < 0 {
		errs = append(errs, errors.New("schedule intervals must be positive"))
	}
	return errors.Join(errs...)
}
