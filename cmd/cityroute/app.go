package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"cityroute/internal/compliance"
	"cityroute/internal/config"
	"cityroute/internal/events"
	"cityroute/internal/logger"
	"cityroute/internal/metrics"
	"cityroute/internal/model"
	"cityroute/internal/monitor"
	"cityroute/internal/opt"
	"cityroute/internal/planner"
	"cityroute/internal/premium"
	"cityroute/internal/store"
	"cityroute/internal/traffic"
	"cityroute/internal/webhooks"
)

// fleetStore is what the monitor needs from vehicle and delivery storage.
type fleetStore interface {
	monitor.FleetService
	monitor.VehicleLister
	monitor.DeliverySource
	monitor.DeliveryChangeFeed
}

type appOptions struct {
	monitor bool
}

type app struct {
	cfg     *config.Config
	log     *logger.Logger
	reg     *prometheus.Registry
	metrics *metrics.Engine
	rules   compliance.Source
	solver  *opt.Solver
	planner *planner.Planner

	// set up only for monitoring sessions
	store   fleetStore
	seed    func(ctx context.Context, in monitorInput) error
	broker  events.EventBroker
	monitor *monitor.Monitor
	closers []func() error
}

func newApp(ctx context.Context, opts appOptions) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log := logger.New(logger.Options{
		ServiceName: "cityroute",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      cfg.App.LogFormat,
		Output:      os.Stderr,
	})
	reg := metrics.NewRegistry()
	a := &app{cfg: cfg, log: log, reg: reg, metrics: metrics.New(reg)}

	a.rules = compliance.NewStatic()
	if _, err := os.Stat(cfg.Rules.File); err == nil {
		a.rules = compliance.FileSource{Path: cfg.Rules.File}
	} else {
		log.Debug(log.WithField(ctx, "file", cfg.Rules.File), "no rules file, running without city rules")
	}

	evaluator := compliance.NewEvaluator()
	a.solver = opt.New(opt.Params{
		Config: opt.Config{
			MaxSeconds:      cfg.Solver.MaxSeconds,
			MaxIterations:   cfg.Solver.MaxIterations,
			Seed:            cfg.Solver.Seed,
			AverageSpeedKph: cfg.Solver.AverageSpeedKph,
			ServiceMinutes:  cfg.Solver.ServiceMinutes,
			FuelPrice:       cfg.Solver.FuelPrice,
			CostPerKm:       cfg.Solver.CostPerKm,
		},
		Evaluator: evaluator,
		Logger:    log,
		Metrics:   a.metrics,
	})
	alloc := premium.New(premium.Config{
		MinCapacityKg:      cfg.Premium.MinCapacityKg,
		MaxVehicleAgeYears: cfg.Premium.MaxVehicleAgeYears,
		SafetyMargin:       cfg.Premium.SafetyMargin,
		ProximityWeight:    cfg.Premium.ProximityWeight,
		FuelWeight:         cfg.Premium.FuelWeight,
		IdleWeight:         cfg.Premium.IdleWeight,
		RestrictedZones:    cfg.Premium.RestrictedZones,
		SpeedKph:           cfg.Solver.AverageSpeedKph,
		ServiceMinutes:     cfg.Solver.ServiceMinutes,
	}, evaluator, log)

	if opts.monitor {
		if err := a.wireMonitoring(ctx, evaluator); err != nil {
			_ = a.Close()
			return nil, err
		}
	}
	a.planner = planner.New(planner.Params{
		Solver:  a.solver,
		Premium: alloc,
		Monitor: a.monitor,
		Logger:  log,
	})
	return a, nil
}

func (a *app) wireMonitoring(ctx context.Context, evaluator *compliance.Evaluator) error {
	if a.cfg.Database.URL != "" {
		pg, err := store.NewPostgres(ctx, a.cfg.Database.URL)
		if err != nil {
			return fmt.Errorf("connecting to database: %w", err)
		}
		a.closers = append(a.closers, pg.Close)
		if err := pg.Migrate(ctx); err != nil {
			return err
		}
		a.store = pg
		a.seed = func(ctx context.Context, in monitorInput) error {
			if err := pg.UpsertVehicles(ctx, in.Vehicles...); err != nil {
				return err
			}
			return pg.UpsertDeliveries(ctx, in.Deliveries...)
		}
	} else {
		mem := store.NewMemory()
		a.store = mem
		a.seed = func(_ context.Context, in monitorInput) error {
			mem.PutVehicles(in.Vehicles...)
			mem.PutDeliveries(in.Deliveries...)
			return nil
		}
	}

	if a.cfg.Redis.URL != "" {
		rb, err := events.NewRedisBroker(ctx, a.cfg.Redis.URL)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, rb.Close)
		a.broker = rb
	} else {
		a.broker = events.NewBroker()
	}

	var ts monitor.TrafficService
	if a.cfg.Traffic.BaseURL != "" {
		tc, err := traffic.New(traffic.Options{
			BaseURL:    a.cfg.Traffic.BaseURL,
			APIKey:     a.cfg.Traffic.APIKey,
			Timeout:    a.cfg.Traffic.Timeout,
			RatePerSec: a.cfg.Traffic.RatePerSec,
			Burst:      a.cfg.Traffic.Burst,
		})
		if err != nil {
			return err
		}
		ts = tc
	} else {
		a.log.Warn(ctx, "traffic probe disabled", errors.New("CITYROUTE_TRAFFIC_BASE_URL is not set"))
	}

	a.monitor = monitor.New(monitor.Params{
		Config: monitor.Config{
			Interval:         a.cfg.Monitor.Interval,
			FrequencyCap:     a.cfg.Monitor.FrequencyCap,
			FrequencyWindow:  a.cfg.Monitor.FrequencyWindow,
			TrafficThreshold: a.cfg.Monitor.TrafficThreshold,
			DeviationKm:      a.cfg.Monitor.DeviationKm,
			AlertRadiusKm:    a.cfg.Monitor.AlertRadiusKm,
			PlanningHorizon:  a.cfg.Monitor.PlanningHorizon,
			ReoptMaxSeconds:  a.cfg.Monitor.ReoptMaxSeconds,
		},
		Solver:     a.solver,
		Traffic:    ts,
		Fleet:      a.store,
		Deliveries: a.store,
		Rules:      a.rules,
		Evaluator:  evaluator,
		Events:     a.broker,
		Logger:     a.log,
		Metrics:    a.metrics,
	})
	a.closers = append(a.closers, func() error { a.monitor.Close(); return nil })
	return nil
}

// runMonitor seeds storage, plans routes when none were given, then watches
// them until ctx is cancelled.
func (a *app) runMonitor(ctx context.Context, in monitorInput) error {
	if err := a.seed(ctx, in); err != nil {
		return fmt.Errorf("seeding store: %w", err)
	}
	routes := in.Routes
	if len(routes) == 0 {
		rules, err := a.rules.ActiveRules(ctx)
		if err != nil {
			return fmt.Errorf("loading rules: %w", err)
		}
		res, err := a.planner.OptimizeRoutes(ctx, model.RoutingRequest{
			Vehicles:   in.Vehicles,
			Deliveries: in.Deliveries,
			Rules:      rules,
		})
		if err != nil {
			return err
		}
		if !res.Success {
			return fmt.Errorf("initial plan failed: %s", res.Message)
		}
		routes = res.Routes
	}

	g, ctx := errgroup.WithContext(ctx)
	if a.cfg.App.MetricsAddr != "" {
		g.Go(func() error { return a.serveMetrics(ctx) })
	}
	if a.cfg.Webhook.URL != "" {
		sink, err := webhooks.NewSink(webhooks.Options{
			URL:         a.cfg.Webhook.URL,
			Secret:      a.cfg.Webhook.Secret,
			MaxAttempts: a.cfg.Webhook.MaxAttempts,
			Logger:      a.log,
			Metrics:     a.metrics,
		})
		if err != nil {
			return err
		}
		g.Go(func() error { return sink.Run(ctx, a.broker) })
	}
	g.Go(func() error {
		if err := a.planner.StartRouteMonitoring(ctx, routes); err != nil {
			return err
		}
		<-ctx.Done()
		a.log.Info(ctx, "shutting down monitor")
		return nil
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (a *app) serveMetrics(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	srv := &http.Server{Addr: a.cfg.App.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	a.log.Info(a.log.WithField(ctx, "addr", srv.Addr), "metrics listening")

	select {
	case err := <-errCh:
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
