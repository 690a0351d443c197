// Package app wires every Gateway component together and drives the
// process lifecycle: connect to infrastructure, construct the component
// graph, start background workers, and shut down within budget on
// cancellation.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/fleetedge/upflux-gateway/internal/alertbus"
	"github.com/fleetedge/upflux-gateway/internal/config"
	"github.com/fleetedge/upflux-gateway/internal/httpserver"
	"github.com/fleetedge/upflux-gateway/internal/platform"
	"github.com/fleetedge/upflux-gateway/internal/telemetry"
	"github.com/fleetedge/upflux-gateway/pkg/cloudchannel"
	"github.com/fleetedge/upflux-gateway/pkg/command"
	"github.com/fleetedge/upflux-gateway/pkg/device"
	"github.com/fleetedge/upflux-gateway/pkg/license"
	"github.com/fleetedge/upflux-gateway/pkg/liveness"
	"github.com/fleetedge/upflux-gateway/pkg/logpull"
	"github.com/fleetedge/upflux-gateway/pkg/recommender"
	"github.com/fleetedge/upflux-gateway/pkg/session"
	"github.com/fleetedge/upflux-gateway/pkg/update"
	"github.com/fleetedge/upflux-gateway/pkg/usage"
	"github.com/fleetedge/upflux-gateway/pkg/version"
)

const shutdownBudget = 5 * time.Second

// Run is the process entry point. It reads infrastructure, constructs the
// component graph, starts every background worker, and blocks until ctx
// is cancelled.
func Run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("starting gateway", "gateway_id", cfg.GatewayID, "cloud_address", cfg.CloudAddress)

	db, err := platform.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer db.Close()

	rdb, err := platform.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error("closing redis", "error", err)
		}
	}()

	if err := platform.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("migrations applied")

	pubKey, err := cfg.ParseUpdateSigningPublicKey()
	if err != nil {
		return err
	}

	deviceTLS, err := platform.LoadTLSConfig(cfg.DeviceTLSCert, cfg.DeviceTLSKey, cfg.DeviceTLSCA)
	if err != nil {
		return fmt.Errorf("loading device TLS material: %w", err)
	}
	cloudTLS, err := platform.LoadTLSConfig(cfg.CloudTLSCert, cfg.CloudTLSKey, cfg.CloudTLSCA)
	if err != nil {
		return fmt.Errorf("loading cloud TLS material: %w", err)
	}

	metricsReg := telemetry.NewRegistry()

	deviceStore := device.NewStore(db)
	versionStore := version.NewStore(db)

	usageAgg := usage.NewAggregator(telemetry.UsageWindowSamples)
	dialer := session.NewClient(cfg.DeviceReadTimeout, deviceTLS)

	alerts := alertbus.NewBus(logger, telemetry.AlertsDroppedTotal)

	worker := cloudchannel.NewWorker(cloudchannel.Config{
		Target:     cfg.CloudAddress,
		GatewayID:  cfg.GatewayID,
		TLSConfig:  cloudTLS,
		Reconnects: telemetry.CloudStreamReconnectsTotal,
		Connected:  telemetry.CloudStreamConnected,
	}, logger)

	licenseCoord := license.NewCoordinator(deviceStore, dialer, worker, cfg.DeviceConnectPort, logger,
		telemetry.LicenseRequestsTotal, telemetry.LicenseResponsesTotal)

	updateEngine := update.NewEngine(deviceStore, dialer, worker, cfg.DeviceConnectPort, cfg.UpdateMaxRetries,
		cfg.MaxPendingPackageBytes, pubKey, logger, telemetry.UpdateFanoutDuration, telemetry.UpdateRetriesTotal)

	commandEngine := command.NewEngine(deviceStore, dialer, worker, cfg.DeviceConnectPort, logger, telemetry.CommandFanoutTotal)

	logPuller := logpull.NewPuller(deviceStore, dialer, worker, cfg.DeviceConnectPort, cfg.LogsDirectory, logger)

	worker.SetDispatch(cloudchannel.Dispatch{
		License:     licenseCoord,
		Update:      updateEngine,
		Command:     commandEngine,
		LogPull:     logPuller,
		Devices:     deviceStore,
		Dialer:      dialer,
		Versions:    versionStore,
		ConnectPort: cfg.DeviceConnectPort,
	})

	alerts.Attach(worker)

	prober := liveness.NewProber(deviceStore, rdb, worker, logger, telemetry.LivenessTransitionsTotal)

	sessionSrv := session.NewServer(session.Config{
		ListenAddr:  cfg.DeviceListenAddr(),
		IdleTimeout: cfg.SessionIdleTimeout,
		TLSConfig:   deviceTLS,
	}, deviceStore, usageAgg, licenseCoord, alerts, worker, logger)

	var bridge *recommender.Bridge
	if cfg.RecommenderAddress != "" {
		bridge = recommender.NewBridge(cfg.RecommenderAddress, usageAgg, worker, logger, telemetry.RecommenderTickFailuresTotal)
	} else {
		logger.Info("recommender bridge disabled (RECOMMENDER_ADDRESS not set)")
	}

	httpSrv := httpserver.NewServer(logger, db, rdb, metricsReg, worker.IsConnected)

	var wg sync.WaitGroup
	runners := []func(context.Context){
		func(c context.Context) {
			if err := sessionSrv.Run(c); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("session server stopped", "error", err)
			}
		},
		func(c context.Context) { prober.Run(c) },
		func(c context.Context) { updateEngine.Run(c) },
		func(c context.Context) {
			if err := worker.Run(c); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("cloud control channel worker stopped", "error", err)
			}
		},
	}
	if bridge != nil {
		runners = append(runners, func(c context.Context) { bridge.Run(c) })
	}

	for _, run := range runners {
		wg.Add(1)
		go func(run func(context.Context)) {
			defer wg.Done()
			run(ctx)
		}(run)
	}

	httpListener := &http.Server{
		Addr:    cfg.MetricsListenAddr,
		Handler: httpSrv,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("ops http surface listening", "addr", cfg.MetricsListenAddr)
		if err := httpListener.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("ops http server: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			logger.Error("ops http server failed", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownBudget)
	defer cancel()
	if err := httpListener.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutting down ops http server", "error", err)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		logger.Warn("shutdown budget exceeded, exiting with workers still draining")
	}

	return nil
}
