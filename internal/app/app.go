// Package app wires the Broker Routing Core's storage backend, Cache
// Layer, Control Bus, Resource Provisioner, OAuth2 Authority, and Access
// Gate together and starts the HTTP server.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/linkbroker/linkbroker/internal/accessgate"
	"github.com/linkbroker/linkbroker/internal/cache"
	"github.com/linkbroker/linkbroker/internal/config"
	"github.com/linkbroker/linkbroker/internal/controlbus"
	"github.com/linkbroker/linkbroker/internal/httpserver"
	"github.com/linkbroker/linkbroker/internal/oauth2"
	"github.com/linkbroker/linkbroker/internal/platform"
	"github.com/linkbroker/linkbroker/internal/provisioner"
	amqpdriver "github.com/linkbroker/linkbroker/internal/provisioner/amqp"
	mqttdriver "github.com/linkbroker/linkbroker/internal/provisioner/mqtt"
	"github.com/linkbroker/linkbroker/internal/provisioner/noop"
	"github.com/linkbroker/linkbroker/internal/provisioner/opsnotice"
	"github.com/linkbroker/linkbroker/internal/storage"
	"github.com/linkbroker/linkbroker/internal/telemetry"
	"github.com/linkbroker/linkbroker/pkg/application"
	"github.com/linkbroker/linkbroker/pkg/device"
	"github.com/linkbroker/linkbroker/pkg/deviceroute"
	"github.com/linkbroker/linkbroker/pkg/dldatabuffer"
	"github.com/linkbroker/linkbroker/pkg/network"
	"github.com/linkbroker/linkbroker/pkg/networkroute"
	"github.com/linkbroker/linkbroker/pkg/unit"
)

// controlBusEntities lists every entity channel the Control Bus fans out
// invalidation messages over (spec.md §4.3).
var controlBusEntities = []string{"unit", "application", "network", "device", "deviceroute", "networkroute", "dldatabuffer"}

// Run is the main application entry point: it reads config, connects to
// infrastructure, and serves the Broker Routing Core API until ctx is
// cancelled.
func Run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("starting linkbroker", "mode", cfg.Mode, "listen", cfg.ListenAddr(), "storage_backend", cfg.StorageBackend)

	shutdownTracer, err := telemetry.InitTracer(ctx, "linkbroker", cfg.OTLPEndpoint, logger)
	if err != nil {
		return fmt.Errorf("initializing tracer: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(shutdownCtx); err != nil {
			logger.Error("shutting down tracer", "error", err)
		}
	}()

	backend, err := newStorageBackend(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("connecting to storage backend: %w", err)
	}
	defer backend.Close()

	metricsReg := prometheus.NewRegistry()
	metricsReg.MustRegister(telemetry.All()...)

	switch cfg.Mode {
	case "api":
		return runAPI(ctx, cfg, logger, backend, metricsReg)
	default:
		return fmt.Errorf("unknown mode: %s", cfg.Mode)
	}
}

// storageBackend bundles every per-entity storage.Store built against
// whichever concrete backend (postgres or mongo) config selects, plus a
// readiness ping and a close hook.
type storageBackend struct {
	pgPool   *pgxpool.Pool
	mongoDB  *mongo.Database
	ready    func(ctx context.Context) error
	closeFns []func()

	units         storage.Store[unit.Row]
	applications  storage.Store[application.Row]
	networks      storage.Store[network.Row]
	devices       storage.Store[device.Row]
	deviceRoutes  storage.Store[deviceroute.Row]
	networkRoutes storage.Store[networkroute.Row]
	dlBuffers     storage.Store[dldatabuffer.Row]
	oauth2Stores  oauth2.Stores
}

func (b *storageBackend) Close() {
	for _, fn := range b.closeFns {
		fn()
	}
}

func newStorageBackend(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*storageBackend, error) {
	switch cfg.StorageBackend {
	case "mongo":
		db, err := platform.NewMongoDatabase(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, fmt.Errorf("connecting to mongo: %w", err)
		}
		b := &storageBackend{mongoDB: db}
		b.closeFns = append(b.closeFns, func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := db.Client().Disconnect(shutdownCtx); err != nil {
				logger.Error("disconnecting mongo", "error", err)
			}
		})
		b.ready = func(ctx context.Context) error { return db.Client().Ping(ctx, nil) }

		var err2 error
		if b.units, err2 = unit.NewMongoStore(ctx, db); err2 != nil {
			return nil, err2
		}
		if b.applications, err2 = application.NewMongoStore(ctx, db); err2 != nil {
			return nil, err2
		}
		if b.networks, err2 = network.NewMongoStore(ctx, db); err2 != nil {
			return nil, err2
		}
		if b.devices, err2 = device.NewMongoStore(ctx, db); err2 != nil {
			return nil, err2
		}
		if b.deviceRoutes, err2 = deviceroute.NewMongoStore(ctx, db); err2 != nil {
			return nil, err2
		}
		if b.networkRoutes, err2 = networkroute.NewMongoStore(ctx, db); err2 != nil {
			return nil, err2
		}
		if b.dlBuffers, err2 = dldatabuffer.NewMongoStore(ctx, db); err2 != nil {
			return nil, err2
		}
		if b.oauth2Stores, err2 = oauth2.NewMongoStores(ctx, db); err2 != nil {
			return nil, err2
		}
		return b, nil

	case "postgres", "":
		if err := platform.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
			return nil, fmt.Errorf("running migrations: %w", err)
		}
		pool, err := platform.NewPostgresPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connecting to postgres: %w", err)
		}
		b := &storageBackend{pgPool: pool}
		b.closeFns = append(b.closeFns, pool.Close)
		b.ready = func(ctx context.Context) error { return pool.Ping(ctx) }

		b.units = unit.NewPostgresStore(pool)
		b.applications = application.NewPostgresStore(pool)
		b.networks = network.NewPostgresStore(pool)
		b.devices = device.NewPostgresStore(pool)
		b.deviceRoutes = deviceroute.NewPostgresStore(pool)
		b.networkRoutes = networkroute.NewPostgresStore(pool)
		b.dlBuffers = dldatabuffer.NewPostgresStore(pool)
		b.oauth2Stores = oauth2.NewPostgresStores(pool)
		return b, nil

	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.StorageBackend)
	}
}

// introspectorAdapter narrows internal/oauth2.Service to the
// accessgate.Introspector capability interface so the Access Gate never
// imports the OAuth2 Authority package directly.
type introspectorAdapter struct {
	svc *oauth2.Service
}

func (a introspectorAdapter) Introspect(ctx context.Context, rawToken string) (accessgate.IntrospectResponse, error) {
	resp, err := a.svc.Introspect(ctx, rawToken)
	if err != nil {
		return accessgate.IntrospectResponse{}, err
	}
	return accessgate.IntrospectResponse{
		Active:    resp.Active,
		Scope:     resp.Scope,
		ClientID:  resp.ClientID,
		UserID:    resp.UserID,
		ExpiresAt: resp.ExpiresAt,
	}, nil
}

func runAPI(ctx context.Context, cfg *config.Config, logger *slog.Logger, backend *storageBackend, metricsReg *prometheus.Registry) error {
	connectTimeout, err := time.ParseDuration(cfg.ControlBusConnTimeout)
	if err != nil {
		return fmt.Errorf("parsing control bus connect timeout: %w", err)
	}
	bus, err := controlbus.Connect(ctx, cfg.ControlBusURL, connectTimeout, cfg.ControlBusMaxReconnect, logger, controlBusEntities)
	if err != nil {
		return fmt.Errorf("connecting to control bus: %w", err)
	}
	defer func() {
		if err := bus.Close(); err != nil {
			logger.Error("closing control bus", "error", err)
		}
	}()
	sender := bus.NewSender()

	registry, err := cache.NewRegistry(cfg.CacheDeviceSize, cfg.CacheDeviceRouteUlSize, cfg.CacheDeviceRouteDlSize, cfg.CacheDeviceRouteDlPubSize, cfg.CacheNetworkRouteUlSize)
	if err != nil {
		return fmt.Errorf("building cache registry: %w", err)
	}

	provisioners := buildProvisioners(ctx, cfg, logger)

	// --- Routing Engine services ---
	// unitSvc is built first: its cascade delete works on the stores
	// directly, and application/network/device/deviceroute/networkroute
	// take unitSvc only for its UnitCode method, not the concrete
	// *unit.Service type.
	unitSvc := unit.NewService(backend.units, backend.applications, backend.networks, backend.devices, backend.deviceRoutes, backend.networkRoutes, backend.dlBuffers, provisioners, sender, logger)
	applicationSvc := application.NewService(backend.applications, unitSvc, provisioners, sender, logger)
	networkSvc := network.NewService(backend.networks, unitSvc, provisioners, sender, logger)
	deviceSvc := device.NewService(backend.devices, unitSvc, backend.networks, registry.Device, sender, logger, cfg.DeviceBulkChunkSize)
	deviceRouteSvc := deviceroute.NewService(backend.deviceRoutes, unitSvc, backend.applications, backend.networks, backend.devices, deviceroute.Caches{
		ULData:    registry.DeviceRouteULData,
		DLData:    registry.DeviceRouteDLData,
		DLDataPub: registry.DeviceRouteDLDataPub,
	}, sender, logger)
	networkRouteSvc := networkroute.NewService(backend.networkRoutes, unitSvc, backend.applications, backend.networks, registry.NetworkRouteULData, sender, logger)
	dlBufferSvc := dldatabuffer.NewService(backend.dlBuffers, backend.deviceRoutes, sender, logger)

	// --- Control Bus receivers keep every Broker instance's Cache Layer
	// coherent with mutations committed on other instances.
	receiverCtx, cancelReceivers := context.WithCancel(ctx)
	defer cancelReceivers()
	startReceiver(receiverCtx, bus, "device", logger, func(msg controlbus.Message) { deviceSvc.InvalidateFromControlBus(msg) })
	startReceiver(receiverCtx, bus, "deviceroute", logger, func(msg controlbus.Message) { deviceRouteSvc.InvalidateFromControlBus(msg) })
	startReceiver(receiverCtx, bus, "networkroute", logger, func(msg controlbus.Message) { networkRouteSvc.InvalidateFromControlBus(msg) })

	// --- OAuth2 Authority ---
	sessionSecret := cfg.OAuth2SigningSecret
	if sessionSecret == "" {
		sessionSecret = oauth2.GenerateDevSecret()
		logger.Info("oauth2: using auto-generated dev secret (set OAUTH2_SIGNING_SECRET in production)")
	}
	accessTTL, err := time.ParseDuration(cfg.OAuth2AccessTokenTTL)
	if err != nil {
		return fmt.Errorf("parsing oauth2 access token ttl: %w", err)
	}
	refreshTTL, err := time.ParseDuration(cfg.OAuth2RefreshTokenTTL)
	if err != nil {
		return fmt.Errorf("parsing oauth2 refresh token ttl: %w", err)
	}
	oauthSvc, err := oauth2.NewService(backend.oauth2Stores, oauth2.Config{
		SessionSecret:       sessionSecret,
		RotateRefreshTokens: cfg.OAuth2RotateRefreshTokens,
		AccessTokenTTL:      accessTTL,
		RefreshTokenTTL:     refreshTTL,
	}, logger)
	if err != nil {
		return fmt.Errorf("creating oauth2 service: %w", err)
	}
	oauthHandler := oauth2.NewHandler(oauthSvc)

	srv := httpserver.NewServer(cfg, logger, metricsReg, introspectorAdapter{svc: oauthSvc}, func() error {
		readyCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return backend.ready(readyCtx)
	})

	srv.Router.Get("/status", srv.HandleStatus)
	srv.Router.Mount("/oauth2", oauthHandler.Routes())

	srv.APIRouter.Mount("/units", unit.NewHandler(unitSvc).Routes())
	srv.APIRouter.Mount("/applications", application.NewHandler(applicationSvc).Routes())
	srv.APIRouter.Mount("/networks", network.NewHandler(networkSvc).Routes())
	srv.APIRouter.Mount("/devices", device.NewHandler(deviceSvc).Routes())
	srv.APIRouter.Mount("/device-routes", deviceroute.NewHandler(deviceRouteSvc).Routes())
	srv.APIRouter.Mount("/network-routes", networkroute.NewHandler(networkRouteSvc).Routes())
	srv.APIRouter.Mount("/dl-data-buffers", dldatabuffer.NewHandler(dlBufferSvc).Routes())

	httpSrv := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      srv,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server listening", "addr", cfg.ListenAddr())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func startReceiver(ctx context.Context, bus *controlbus.Bus, entity string, logger *slog.Logger, handle func(controlbus.Message)) {
	recv, err := bus.NewReceiver(entity)
	if err != nil {
		logger.Error("creating control bus receiver failed", "entity", entity, "error", err)
		return
	}
	go func() {
		defer recv.Close()
		if err := recv.Run(ctx, func(_ context.Context, msg controlbus.Message) { handle(msg) }); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("control bus receiver stopped", "entity", entity, "error", err)
		}
	}()
}

// buildProvisioners assembles one Resource Provisioner per broker driver
// ("amqp", "mqtt", "rumqttd"). Services pick one by
// provisioner.DriverFor(HostURI), which yields only "amqp" or "mqtt", so
// no host URI selects the "rumqttd" entry (spec.md §4.4).
func buildProvisioners(ctx context.Context, cfg *config.Config, logger *slog.Logger) map[string]*provisioner.Provisioner {
	var notifier provisioner.Notifier
	opsNotifier := opsnotice.New(cfg.SlackBotToken, cfg.SlackOpsChannel, logger)
	if opsNotifier.IsEnabled() {
		notifier = opsNotifier
		logger.Info("provisioner ops notices enabled", "channel", cfg.SlackOpsChannel)
	}

	provisioners := map[string]*provisioner.Provisioner{
		"rumqttd": provisioner.New(noop.New(logger), notifier, logger),
	}

	if cfg.ProvisionerAMQPAdminURL != "" {
		client := newManagementClient(ctx, cfg.ProvisionerAMQPAdminURL, cfg.ProvisionerAMQPUser, cfg.ProvisionerAMQPPassword, cfg)
		provisioners["amqp"] = provisioner.New(amqpdriver.New(client), notifier, logger)
	} else {
		provisioners["amqp"] = provisioner.New(noop.New(logger), notifier, logger)
		logger.Info("provisioner: amqp admin url not set, using no-op driver")
	}

	if cfg.ProvisionerMQTTAdminURL != "" {
		client := newManagementClient(ctx, cfg.ProvisionerMQTTAdminURL, cfg.ProvisionerMQTTUser, cfg.ProvisionerMQTTPassword, cfg)
		provisioners["mqtt"] = provisioner.New(mqttdriver.New(client), notifier, logger)
	} else {
		provisioners["mqtt"] = provisioner.New(noop.New(logger), notifier, logger)
		logger.Info("provisioner: mqtt admin url not set, using no-op driver")
	}

	return provisioners
}

func newManagementClient(ctx context.Context, baseURL, user, password string, cfg *config.Config) *provisioner.ManagementClient {
	if cfg.ProvisionerOAuthTokenURL != "" {
		return provisioner.NewOAuthManagementClient(ctx, baseURL, cfg.ProvisionerOAuthTokenURL, cfg.ProvisionerOAuthClientID, cfg.ProvisionerOAuthSecret, cfg.ProvisionerBreakerTimeout)
	}
	return provisioner.NewManagementClient(baseURL, user, password, cfg.ProvisionerBreakerTimeout)
}

