package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vitwit/gasstation"
	"github.com/vitwit/gasstation/api"
	"github.com/vitwit/gasstation/audit"
	"github.com/vitwit/gasstation/config"
	"github.com/vitwit/gasstation/ledger"
	"github.com/vitwit/gasstation/logger"
	"github.com/vitwit/gasstation/metrics"
	"github.com/vitwit/gasstation/types"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	envFile := flag.String("env", ".env", "path to a .env file, ignored when missing")
	flag.Parse()

	if err := run(*configPath, *envFile); err != nil {
		fmt.Fprintf(os.Stderr, "gasstation: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, envFile string) error {
	cfg, err := config.Load(configPath, envFile)
	if err != nil {
		return err
	}

	log, err := logger.NewZapLogger(cfg.Log.Level, "gasstation")
	if err != nil {
		return errors.Wrap(err, "failed to build logger")
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	params, err := cfg.InitParams()
	if err != nil {
		return err
	}
	treasury, err := cfg.TreasuryAddress()
	if err != nil {
		return err
	}

	supplier, err := seedSupplier(cfg, params.CoinType)
	if err != nil {
		return err
	}

	sinks := []audit.Sink{audit.NewLogSink(log)}
	historyOpts := []audit.LogOption{audit.WithRetention(cfg.Audit.Retention)}
	if cfg.Database.URL != "" {
		pool, err := pgxpool.New(ctx, cfg.Database.URL)
		if err != nil {
			return errors.Wrap(err, "unable to connect to database")
		}
		defer pool.Close()

		if err := pool.Ping(ctx); err != nil {
			return errors.Wrap(err, "database ping failed")
		}
		pg := audit.NewPostgresSink(pool)
		if err := pg.EnsureSchema(ctx); err != nil {
			return err
		}
		lastSeq, err := pg.LastSeq(ctx, params.ID)
		if err != nil {
			return err
		}
		historyOpts = append(historyOpts, audit.StartAfter(lastSeq))
		sinks = append(sinks, pg)
		log.Info("postgres audit sink enabled", map[string]any{"last_seq": lastSeq})
	}

	extra := map[string]http.Handler{}
	var recorder metrics.Recorder = metrics.NoopRecorder{}
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		recorder = metrics.NewPrometheusRecorder(reg)
		extra[cfg.Metrics.Path] = promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
	}

	station, err := gasstation.New(params,
		gasstation.WithLogger(log),
		gasstation.WithMetrics(recorder),
		gasstation.WithSupplier(supplier),
		gasstation.WithTreasury(treasury),
		gasstation.WithSinks(sinks...),
		gasstation.WithSinkTimeout(cfg.Audit.PublishTimeout),
		gasstation.WithHistory(historyOpts...),
		gasstation.WithRateLimit(cfg.RateLimit.RPS, cfg.RateLimit.Burst),
	)
	if err != nil {
		return err
	}

	var resolver api.IdentityResolver = api.HeaderResolver{}
	if cfg.Identity.Mode == "signature" {
		resolver = api.NewSignatureResolver(cfg.StationID, cfg.Identity.ChainID, cfg.Identity.MaxSkew)
	}

	gin.SetMode(gin.ReleaseMode)
	server := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.NewServer(station, resolver, log, cfg.Decimals).Router(extra),
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server starting", map[string]any{
			"addr":     cfg.HTTP.Addr,
			"station":  params.String(),
			"identity": cfg.Identity.Mode,
		})
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return errors.Wrap(err, "failed to start server")
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down server", nil)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "server forced to shutdown")
	}
	log.Info("server exited", nil)
	return nil
}

func seedSupplier(cfg *config.Config, coinType types.CoinType) (*ledger.MemorySupplier, error) {
	seeds, err := cfg.SeedBalances()
	if err != nil {
		return nil, err
	}
	supplier := ledger.NewMemorySupplier()
	for addr, amount := range seeds {
		if err := supplier.Mint(addr, coinType, amount); err != nil {
			return nil, err
		}
	}
	return supplier, nil
}
