package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/flockd/pkg/coordstore"
	"github.com/cuemby/flockd/pkg/engine"
	"github.com/cuemby/flockd/pkg/events"
	"github.com/cuemby/flockd/pkg/log"
	"github.com/cuemby/flockd/pkg/metrics"
	"github.com/cuemby/flockd/pkg/pool"
	"github.com/cuemby/flockd/pkg/poolconfig"
	"github.com/cuemby/flockd/pkg/reconciler"
	"github.com/cuemby/flockd/pkg/runtime"
	"github.com/cuemby/flockd/pkg/specstore"
	"github.com/cuemby/flockd/pkg/types"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the flock engine, pool schedulers, event subscriber and reconciler",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("specs", "./flocks", "flock spec file or directory")
	serveCmd.Flags().String("pools", "./pools.yaml", "pool configuration file")
	serveCmd.Flags().String("data-dir", "./data", "durable coordination-store data directory")
	serveCmd.Flags().String("metrics-addr", "127.0.0.1:9090", "metrics HTTP listen address")
	serveCmd.Flags().Duration("reconcile-period", 30*time.Second, "orphan-sweep period, 0 disables")
}

func runServe(cmd *cobra.Command, args []string) error {
	initLogging(cmd)
	logger := log.WithComponent("serve")

	specsPath, _ := cmd.Flags().GetString("specs")
	poolsPath, _ := cmd.Flags().GetString("pools")
	dataDir, _ := cmd.Flags().GetString("data-dir")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
	reconcilePeriod, _ := cmd.Flags().GetDuration("reconcile-period")

	specs, err := specstore.New(specsPath)
	if err != nil {
		return fmt.Errorf("load flock specs: %w", err)
	}

	poolCfg, err := poolconfig.Load(poolsPath)
	if err != nil {
		return fmt.Errorf("load pool config: %w", err)
	}

	store, err := coordstore.New(dataDir)
	if err != nil {
		return fmt.Errorf("open coordination store: %w", err)
	}
	store.StartExpirySweep(time.Second)
	defer func() { _ = store.Close() }()

	dockerRt, err := runtime.NewDockerRuntime()
	if err != nil {
		return fmt.Errorf("connect to container runtime: %w", err)
	}
	defer func() { _ = dockerRt.Close() }()
	var rt runtime.Runtime = dockerRt

	labels := types.DefaultLabels()
	eng := engine.New(rt, store, specs, labels)

	pools := make(map[string]pool.Pool, len(poolCfg.Pools))
	for _, cfg := range poolCfg.Pools {
		p, err := pool.New(cfg, eng, store, rt, labels)
		if err != nil {
			return fmt.Errorf("build pool %q: %w", cfg.Name, err)
		}
		pools[cfg.Name] = p
		p.StartExpiryLoop()
		logger.Info().Str("pool", cfg.Name).Str("type", string(cfg.Type)).Msg("pool started")
	}

	recon := reconciler.New(rt, store, labels, reconcilePeriod)
	recon.Start()

	sub := events.New(rt, pools, labels)
	sub.Start(context.Background())

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: metricsAddr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("metrics server error")
		}
	}()
	logger.Info().Str("addr", metricsAddr).Msg("metrics endpoint listening")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	logger.Info().Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sub.Stop()
	recon.Stop()
	for _, p := range pools {
		p.Shutdown(ctx)
	}
	_ = srv.Shutdown(ctx)

	logger.Info().Msg("shutdown complete")
	return nil
}
