package bootstrap

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/ibb-transit/crowdcast/config"
	"github.com/ibb-transit/crowdcast/internal/capacity"
	"github.com/ibb-transit/crowdcast/internal/data"
	"github.com/ibb-transit/crowdcast/internal/domain/model"
	"github.com/ibb-transit/crowdcast/internal/featurestore"
	"github.com/ibb-transit/crowdcast/internal/inference"
	"github.com/ibb-transit/crowdcast/internal/observability/notify/pagerduty"
	"github.com/ibb-transit/crowdcast/internal/observability/notify/slack"
	"github.com/ibb-transit/crowdcast/internal/observability/statsd"
	"github.com/ibb-transit/crowdcast/internal/sched"
	"github.com/ibb-transit/crowdcast/internal/service"
	"github.com/ibb-transit/crowdcast/internal/service/failurenotifier"
	"github.com/ibb-transit/crowdcast/internal/topology"
	"github.com/ibb-transit/crowdcast/internal/upstream"
)

// ServiceContainer holds all application services.
type ServiceContainer struct {
	ForecastRead *service.ForecastReadService
	Forecast     *service.ForecastService
	Lines        *service.LineService
	Bus          *service.BusCacheService
	Metro        *service.MetroCacheService
	MetroLive    *service.MetroLiveService
	Status       *service.StatusService
	Maintenance  *service.MaintenanceService
	Reports      *service.ReportService
	Auth         *service.AuthService
	Registrar    *service.JobRegistrar
	Scheduler    *sched.Scheduler

	Topology *topology.Topology
	Shapes   *topology.Shapes

	Observability ObservabilityContainer
}

// ObservabilityContainer groups shared observability dependencies.
type ObservabilityContainer struct {
	MetricsSink     *statsd.Client
	MetricsConfig   config.ObservabilityMetricsConfig
	FailureNotifier *failurenotifier.Service
	NotifierConfig  config.ObservabilityNotificationsConfig
}

// ServiceDeps groups dependencies for service initialization.
type ServiceDeps struct {
	Config      *config.AppConfig
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

// serviceRepositories groups data adapters backing service ports.
type serviceRepositories struct {
	DB             *sql.DB
	Redis          redis.UniversalClient
	LineRepo       *data.LineRepo
	ForecastRepo   *data.ForecastRepo
	JobRepo        *data.JobExecutionRepo
	BusCacheRepo   *data.BusCacheRepo
	MetroCacheRepo *data.MetroCacheRepo
	ReportRepo     *data.ReportRepo
	UserRepo       *data.AdminUserRepo
	CacheRepo      *data.RedisCacheRepo
}

// staticAssets are the read-only files loaded once at startup.
type staticAssets struct {
	Features  *featurestore.Store
	Capacity  *capacity.Store
	Topology  *topology.Topology
	Shapes    *topology.Shapes
	Predictor *inference.Predictor
}

// upstreamClients groups the three external API clients.
type upstreamClients struct {
	IETT    *upstream.IETTClient
	Metro   *upstream.MetroClient
	Weather *upstream.WeatherClient
}

// buildObservability configures metrics and notification adapters.
func buildObservability(logger *slog.Logger, cfg config.ObservabilityConfig) ObservabilityContainer {
	obsLogger := logger
	if obsLogger == nil {
		obsLogger = slog.Default()
	}

	var metricsSink *statsd.Client
	if cfg.Metrics.IsEnabled() {
		client, err := statsd.NewClient(statsd.Config{
			Enabled: true,
			Address: cfg.Metrics.StatsdAddress,
			Prefix:  "crowdcast",
			Logger:  obsLogger,
		})
		if err != nil {
			obsLogger.Error("failed to initialise statsd client", "error", err)
		} else {
			metricsSink = client
		}
	}

	return ObservabilityContainer{
		MetricsSink:     metricsSink,
		MetricsConfig:   cfg.Metrics,
		FailureNotifier: buildFailureNotifier(obsLogger, cfg.Notifications),
		NotifierConfig:  cfg.Notifications,
	}
}

// buildRepositories builds repositories backing service ports; no business rules here.
func buildRepositories(db *sql.DB, redisClient redis.UniversalClient, logger *slog.Logger) *serviceRepositories {
	repos := &serviceRepositories{
		DB:             db,
		Redis:          redisClient,
		LineRepo:       data.NewLineRepo(db, logger),
		ForecastRepo:   data.NewForecastRepo(db, logger),
		JobRepo:        data.NewJobExecutionRepo(db, data.JobExecutionRepoOptions{Logger: logger}),
		BusCacheRepo:   data.NewBusCacheRepo(db, logger),
		MetroCacheRepo: data.NewMetroCacheRepo(db, logger),
		ReportRepo:     data.NewReportRepo(db, logger),
		UserRepo:       data.NewAdminUserRepo(db, logger),
	}
	if redisClient != nil {
		repos.CacheRepo = data.NewRedisCacheRepo(redisClient)
	}
	return repos
}

// loadStaticAssets reads the feature store, capacity, topology, shapes, and
// model files. Any missing file aborts startup; the nightly pipeline cannot
// run a partial stack. The four data files load concurrently; the model load
// waits for the feature store because it needs the line list.
func loadStaticAssets(cfg config.StoresConfig, logger *slog.Logger) (*staticAssets, error) {
	assets := &staticAssets{}

	var g errgroup.Group
	g.Go(func() error {
		features, err := featurestore.Load(cfg.FeaturesPath, cfg.CalendarPath, logger)
		if err != nil {
			return fmt.Errorf("load feature store: %w", err)
		}
		assets.Features = features
		return nil
	})
	g.Go(func() error {
		capacityStore, err := capacity.Load(cfg.CapacityMetaPath, cfg.CapacityOverridePath, logger)
		if err != nil {
			return fmt.Errorf("load capacity store: %w", err)
		}
		assets.Capacity = capacityStore
		return nil
	})
	g.Go(func() error {
		topo, err := topology.Load(cfg.TopologyPath, logger)
		if err != nil {
			return fmt.Errorf("load topology: %w", err)
		}
		assets.Topology = topo
		return nil
	})
	g.Go(func() error {
		shapes, err := topology.LoadShapes(cfg.ShapesPath, logger)
		if err != nil {
			return fmt.Errorf("load route shapes: %w", err)
		}
		assets.Shapes = shapes
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	predictor, err := inference.Load(cfg.ModelPath, assets.Features.LineNames(), logger)
	if err != nil {
		return nil, fmt.Errorf("load model: %w", err)
	}
	assets.Predictor = predictor

	return assets, nil
}

func buildUpstreams(cfg config.UpstreamsConfig, metrics statsd.Sink, logger *slog.Logger) upstreamClients {
	return upstreamClients{
		IETT: upstream.NewIETTClient(upstream.IETTConfig{
			EndpointURL: cfg.IETT.EndpointURL,
			SOAPAction:  cfg.IETT.SOAPAction,
			Timeout:     cfg.IETT.Timeout,
			MaxAttempts: cfg.IETT.MaxAttempts,
			BackoffStep: cfg.IETT.BackoffStep,
			Logger:      logger,
			Metrics:     metrics,
		}),
		Metro: upstream.NewMetroClient(upstream.MetroConfig{
			BaseURL:     cfg.Metro.BaseURL,
			Timeout:     cfg.Metro.Timeout,
			MaxAttempts: cfg.Metro.MaxAttempts,
			BackoffStep: cfg.Metro.BackoffStep,
			Logger:      logger,
			Metrics:     metrics,
		}),
		Weather: upstream.NewWeatherClient(upstream.WeatherConfig{
			BaseURL:     cfg.Weather.BaseURL,
			Latitude:    cfg.Weather.Latitude,
			Longitude:   cfg.Weather.Longitude,
			Timeout:     cfg.Weather.Timeout,
			MaxAttempts: cfg.Weather.MaxAttempts,
			Logger:      logger,
			Metrics:     metrics,
		}),
	}
}

// seedLines upserts the transport line catalogue from a JSON file. Used on
// first start against an empty database; the upsert makes it idempotent.
func seedLines(ctx context.Context, repo *data.LineRepo, path string, logger *slog.Logger) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read lines file %s: %w", path, err)
	}
	var lines []model.TransportLine
	if err := json.Unmarshal(raw, &lines); err != nil {
		return fmt.Errorf("parse lines file %s: %w", path, err)
	}
	written, err := repo.UpsertLines(ctx, lines)
	if err != nil {
		return fmt.Errorf("seed transport lines: %w", err)
	}
	logger.InfoContext(ctx, "transport lines seeded", "path", path, "count", written)
	return nil
}

// NewServices wires repositories, static assets, upstream clients, and
// domain services into a full container. The scheduler is built but not
// started; callers run it per service mode.
func NewServices(ctx context.Context, deps *ServiceDeps) (ServiceContainer, error) {
	if deps == nil || deps.Config == nil {
		return ServiceContainer{}, fmt.Errorf("service deps and config are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg := deps.Config

	loc, err := time.LoadLocation(cfg.Scheduler.Timezone)
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("load scheduler timezone %s: %w", cfg.Scheduler.Timezone, err)
	}

	observability := buildObservability(logger, cfg.Observability)
	repos := buildRepositories(deps.DB, deps.RedisClient, logger)

	assets, err := loadStaticAssets(cfg.Stores, logger)
	if err != nil {
		return ServiceContainer{}, err
	}

	var metrics statsd.Sink
	if observability.MetricsSink != nil {
		metrics = observability.MetricsSink
	}
	upstreams := buildUpstreams(cfg.Upstreams, metrics, logger)

	if cfg.Stores.LinesPath != "" {
		if err := seedLines(ctx, repos.LineRepo, cfg.Stores.LinesPath, logger); err != nil {
			return ServiceContainer{}, err
		}
	}

	cacheRuntime := service.CacheRuntimeOptions{Location: loc, Logger: logger}

	busSvc := service.NewBusCacheService(service.BusCacheServiceOptions{
		Repos: service.BusCacheRepos{
			Cache: repos.BusCacheRepo,
			Lines: repos.LineRepo,
			Jobs:  repos.JobRepo,
		},
		Deps: service.BusCacheDeps{Fetcher: upstreams.IETT},
		Opts: cacheRuntime,
	})

	metroSvc := service.NewMetroCacheService(service.MetroCacheServiceOptions{
		Repos: service.MetroCacheRepos{
			Cache: repos.MetroCacheRepo,
			Jobs:  repos.JobRepo,
		},
		Deps: service.MetroCacheDeps{
			Fetcher:  upstreams.Metro,
			Topology: assets.Topology,
		},
		Opts: cacheRuntime,
	})

	metroLiveOpts := service.MetroLiveServiceOptions{
		Deps: service.MetroLiveDeps{
			Fetcher:  upstreams.Metro,
			Topology: assets.Topology,
		},
		Opts: service.MetroLiveRuntimeOptions{Logger: logger},
	}
	if repos.CacheRepo != nil {
		metroLiveOpts.Deps.Cache = repos.CacheRepo
	}
	metroLiveSvc := service.NewMetroLiveService(metroLiveOpts)

	forecastSvc := service.NewForecastService(service.ForecastServiceOptions{
		Repos: service.ForecastRepos{
			Lines:     repos.LineRepo,
			Forecasts: repos.ForecastRepo,
			Jobs:      repos.JobRepo,
		},
		Deps: service.ForecastDeps{
			Features:  assets.Features,
			Predictor: assets.Predictor,
			Weather:   upstreams.Weather,
			Capacity:  assets.Capacity,
		},
		Opts: service.ForecastRuntimeOptions{Location: loc, Logger: logger},
	})

	forecastReadSvc := service.NewForecastReadService(service.ForecastReadServiceOptions{
		Repos: service.ForecastReadRepos{
			Lines:     repos.LineRepo,
			Forecasts: repos.ForecastRepo,
		},
		Deps: service.ForecastReadDeps{
			Topology: assets.Topology,
			Bus:      busSvc,
		},
		Opts: service.ForecastReadRuntimeOptions{Location: loc, Logger: logger},
	})

	maintenanceSvc := service.NewMaintenanceService(service.MaintenanceServiceOptions{
		Forecasts: repos.ForecastRepo,
		Jobs:      repos.JobRepo,
		Opts: service.MaintenanceRuntimeOptions{
			Location:          loc,
			Logger:            logger,
			QualityMinPerDate: cfg.Scheduler.QualityMinRowsPerDate,
		},
	})

	scheduler := sched.New(sched.Options{
		Location:     loc,
		MisfireGrace: cfg.Scheduler.MisfireGrace,
		Logger:       logger,
		Metrics:      metrics,
	})

	registrar := service.NewJobRegistrar(service.JobRegistrarOptions{
		Scheduler: scheduler,
		Services: service.JobServices{
			Forecast:    forecastSvc,
			Bus:         busSvc,
			Metro:       metroSvc,
			Maintenance: maintenanceSvc,
		},
		Opts: service.JobRegistrarRuntime{
			Schedule: service.CronSchedule{
				BusPrefetch:   cfg.Scheduler.BusPrefetchCron,
				MetroPrefetch: cfg.Scheduler.MetroPrefetchCron,
				Forecast:      cfg.Scheduler.ForecastCron,
				Cleanup:       cfg.Scheduler.CleanupCron,
				QualityCheck:  cfg.Scheduler.QualityCheckCron,
			},
			DaysToKeep:      cfg.Scheduler.ForecastDaysKept,
			BusPrefetchDays: cfg.Scheduler.BusPrefetchDays,
			Logger:          logger,
			Notifier:        observability.FailureNotifier,
		},
	})

	statusSvc := service.NewStatusService(service.StatusServiceOptions{
		Repos: service.StatusRepos{
			Jobs:       repos.JobRepo,
			BusCache:   repos.BusCacheRepo,
			MetroCache: repos.MetroCacheRepo,
			Forecasts:  repos.ForecastRepo,
			Lines:      repos.LineRepo,
		},
		Deps: service.StatusDeps{
			Scheduler: scheduler,
			Features:  assets.Features,
			Bus:       busSvc,
			Metro:     metroSvc,
		},
		Opts: service.StatusRuntimeOptions{Logger: logger},
	})

	reportSvc := service.NewReportService(service.ReportServiceOptions{
		Reports: repos.ReportRepo,
		Logger:  logger,
	})

	var authSvc *service.AuthService
	if cfg.Auth.Enabled() {
		authSvc = service.NewAuthService(service.AuthServiceOptions{
			Users: repos.UserRepo,
			Config: service.AuthConfig{
				SecretKey:     cfg.Auth.SecretKey,
				TokenLifetime: cfg.Auth.TokenLifetime(),
			},
			Opts: service.AuthRuntimeOptions{Logger: logger},
		})
		if cfg.Auth.AdminUsername != "" && cfg.Auth.AdminPassword != "" {
			if err := authSvc.EnsureBootstrapUser(ctx, cfg.Auth.AdminUsername, cfg.Auth.AdminPassword); err != nil {
				return ServiceContainer{}, fmt.Errorf("ensure bootstrap user: %w", err)
			}
		}
	} else {
		logger.Warn("JWT secret key is empty; admin endpoints are disabled")
	}

	// Executions left RUNNING by a previous crash are swept at startup so the
	// status view does not report phantom in-flight jobs.
	if swept, err := statusSvc.ResetStaleJobs(ctx); err != nil {
		logger.WarnContext(ctx, "stale job sweep failed", "error", err)
	} else if swept > 0 {
		logger.InfoContext(ctx, "stale jobs reset", "count", swept)
	}

	return ServiceContainer{
		ForecastRead:  forecastReadSvc,
		Forecast:      forecastSvc,
		Lines:         service.NewLineService(service.LineServiceOptions{Lines: repos.LineRepo}),
		Bus:           busSvc,
		Metro:         metroSvc,
		MetroLive:     metroLiveSvc,
		Status:        statusSvc,
		Maintenance:   maintenanceSvc,
		Reports:       reportSvc,
		Auth:          authSvc,
		Registrar:     registrar,
		Scheduler:     scheduler,
		Topology:      assets.Topology,
		Shapes:        assets.Shapes,
		Observability: observability,
	}, nil
}

func buildFailureNotifier(logger *slog.Logger, cfg config.ObservabilityNotificationsConfig) *failurenotifier.Service {
	baseLogger := logger
	if baseLogger == nil {
		baseLogger = slog.Default()
	}

	if !cfg.Enabled {
		return failurenotifier.NewService(failurenotifier.Options{
			Logger: baseLogger.With("component", "failure_notifier"),
		})
	}

	sinks := make([]failurenotifier.SinkRegistration, 0, 2)

	if cfg.Slack.Enabled {
		client, err := slack.NewClient(slack.Config{
			WebhookURL: cfg.Slack.WebhookURL,
			Channel:    cfg.Slack.Channel,
			Username:   cfg.Slack.Username,
			Timeout:    cfg.Timeout,
			RetryLimit: cfg.RetryLimit,
		})
		if err != nil {
			baseLogger.Error("failed to initialise slack notifier", "error", err)
		} else {
			sinks = append(sinks, failurenotifier.SinkRegistration{
				Name: "slack",
				Sink: client,
			})
		}
	}

	if cfg.PagerDuty.Enabled {
		client, err := pagerduty.NewClient(pagerduty.Config{
			RoutingKey: cfg.PagerDuty.RoutingKey,
			Source:     cfg.PagerDuty.Source,
			Component:  cfg.PagerDuty.Component,
			Timeout:    cfg.Timeout,
			RetryLimit: cfg.RetryLimit,
		})
		if err != nil {
			baseLogger.Error("failed to initialise pagerduty notifier", "error", err)
		} else {
			sinks = append(sinks, failurenotifier.SinkRegistration{
				Name: "pagerduty",
				Sink: client,
			})
		}
	}

	return failurenotifier.NewService(failurenotifier.Options{
		Logger: baseLogger.With("component", "failure_notifier"),
		Sinks:  sinks,
	})
}
