package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const EnvPrefix = "CITYROUTE"

type Config struct {
	App      AppConfig
	Solver   SolverConfig
	Monitor  MonitorConfig
	Premium  PremiumConfig
	Redis    RedisConfig
	Database DatabaseConfig
	Traffic  TrafficConfig
	Rules    RulesConfig
	Webhook  WebhookConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Monitor.FrequencyCap <= 0 {
		return fmt.Errorf("config: CITYROUTE_MONITOR_FREQUENCY_CAP must be positive")
	}
	if c.Monitor.Interval <= 0 {
		return fmt.Errorf("config: CITYROUTE_MONITOR_INTERVAL must be positive")
	}
	if c.Solver.MaxSeconds <= 0 {
		return fmt.Errorf("config: CITYROUTE_SOLVER_MAX_SECONDS must be positive")
	}
	return nil
}

type AppConfig struct {
	LogLevel  string `envconfig:"CITYROUTE_LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"CITYROUTE_LOG_FORMAT" default:"json"`
	// MetricsAddr, when set, serves Prometheus metrics on that address.
	MetricsAddr string `envconfig:"CITYROUTE_METRICS_ADDR"`
}

type SolverConfig struct {
	MaxSeconds      float64 `envconfig:"CITYROUTE_SOLVER_MAX_SECONDS" default:"10"`
	MaxIterations   int     `envconfig:"CITYROUTE_SOLVER_MAX_ITERATIONS" default:"200"`
	Seed            int64   `envconfig:"CITYROUTE_SOLVER_SEED" default:"1"`
	AverageSpeedKph float64 `envconfig:"CITYROUTE_SOLVER_SPEED_KPH" default:"25"`
	ServiceMinutes  int     `envconfig:"CITYROUTE_SOLVER_SERVICE_MINUTES" default:"5"`
	FuelPrice       float64 `envconfig:"CITYROUTE_SOLVER_FUEL_PRICE" default:"1.0"`
	CostPerKm       float64 `envconfig:"CITYROUTE_SOLVER_COST_PER_KM" default:"0.5"`
}

type MonitorConfig struct {
	Interval         time.Duration `envconfig:"CITYROUTE_MONITOR_INTERVAL" default:"5m"`
	FrequencyCap     int           `envconfig:"CITYROUTE_MONITOR_FREQUENCY_CAP" default:"3"`
	FrequencyWindow  time.Duration `envconfig:"CITYROUTE_MONITOR_FREQUENCY_WINDOW" default:"60m"`
	TrafficThreshold float64       `envconfig:"CITYROUTE_MONITOR_TRAFFIC_THRESHOLD" default:"0.25"`
	DeviationKm      float64       `envconfig:"CITYROUTE_MONITOR_DEVIATION_KM" default:"2"`
	AlertRadiusKm    float64       `envconfig:"CITYROUTE_MONITOR_ALERT_RADIUS_KM" default:"1"`
	PlanningHorizon  time.Duration `envconfig:"CITYROUTE_MONITOR_PLANNING_HORIZON" default:"12h"`
	ReoptMaxSeconds  float64       `envconfig:"CITYROUTE_MONITOR_REOPT_MAX_SECONDS" default:"5"`
}

type PremiumConfig struct {
	MinCapacityKg      float64       `envconfig:"CITYROUTE_PREMIUM_MIN_CAPACITY_KG" default:"0"`
	MaxVehicleAgeYears int           `envconfig:"CITYROUTE_PREMIUM_MAX_AGE_YEARS" default:"8"`
	SafetyMargin       time.Duration `envconfig:"CITYROUTE_PREMIUM_SAFETY_MARGIN" default:"15m"`
	ProximityWeight    float64       `envconfig:"CITYROUTE_PREMIUM_PROXIMITY_WEIGHT" default:"0.5"`
	FuelWeight         float64       `envconfig:"CITYROUTE_PREMIUM_FUEL_WEIGHT" default:"0.3"`
	IdleWeight         float64       `envconfig:"CITYROUTE_PREMIUM_IDLE_WEIGHT" default:"0.2"`
	RestrictedZones    []string      `envconfig:"CITYROUTE_PREMIUM_RESTRICTED_ZONES"`
}

type RedisConfig struct {
	URL string `envconfig:"CITYROUTE_REDIS_URL"`
}

type DatabaseConfig struct {
	URL string `envconfig:"CITYROUTE_DATABASE_URL"`
}

type TrafficConfig struct {
	BaseURL    string        `envconfig:"CITYROUTE_TRAFFIC_BASE_URL"`
	APIKey     string        `envconfig:"CITYROUTE_TRAFFIC_API_KEY"`
	Timeout    time.Duration `envconfig:"CITYROUTE_TRAFFIC_TIMEOUT" default:"5s"`
	RatePerSec float64       `envconfig:"CITYROUTE_TRAFFIC_RATE_PER_SEC" default:"20"`
	Burst      int           `envconfig:"CITYROUTE_TRAFFIC_BURST" default:"5"`
}

type RulesConfig struct {
	File string `envconfig:"CITYROUTE_RULES_FILE" default:"rules.yaml"`
}

type WebhookConfig struct {
	URL         string `envconfig:"CITYROUTE_WEBHOOK_URL"`
	Secret      string `envconfig:"CITYROUTE_WEBHOOK_SECRET"`
	MaxAttempts int    `envconfig:"CITYROUTE_WEBHOOK_MAX_ATTEMPTS" default:"5"`
}
