// Command ruleengine runs the rule engine as a standalone service: rules
// are managed through the engine service, status events go to NATS when
// enabled, and Prometheus metrics are served over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/GoCodeAlone/modular"
	"github.com/nats-io/nats.go"
	"golang.org/x/sync/errgroup"

	"github.com/GoCodeAlone/ruleengine"
	"github.com/GoCodeAlone/ruleengine/config"
	"github.com/GoCodeAlone/ruleengine/event"
	"github.com/GoCodeAlone/ruleengine/metric"
	"github.com/GoCodeAlone/ruleengine/module"
	"github.com/GoCodeAlone/ruleengine/store"
)

var configFile = flag.String("config", "", "Path to configuration YAML file")

func main() {
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	cfg := config.Default()
	if *configFile != "" {
		var err error
		cfg, err = config.Load(*configFile)
		if err != nil {
			log.Fatalf("Failed to load configuration: %v", err)
		}
	} else {
		logger.Info("no config file specified, using defaults")
	}

	types := ruleengine.NewMemoryTypeRegistry()
	if err := module.RegisterCoreTypes(types); err != nil {
		log.Fatalf("Failed to register module types: %v", err)
	}
	rules := ruleengine.NewMemoryRuleRegistry()

	app := modular.NewStdApplication(nil, logger)

	if cfg.Store.Driver == "sqlite" {
		sqliteStore := store.NewSQLite(ruleengine.StoreServiceName, cfg.Store.Path)
		app.RegisterModule(sqliteStore)
	} else {
		if err := app.RegisterService(ruleengine.StoreServiceName, store.NewMemory()); err != nil {
			log.Fatalf("Failed to register store: %v", err)
		}
	}

	var metrics *metric.RuleMetrics
	if cfg.Metrics.Enabled {
		mc := metric.DefaultConfig()
		if cfg.Metrics.Namespace != "" {
			mc.Namespace = cfg.Metrics.Namespace
		}
		metrics = metric.New(ruleengine.MetricsServiceName, mc)
		app.RegisterModule(metrics)
	}

	var nc *nats.Conn
	var natsFactory *module.NATSFactory
	if cfg.NATS.Enabled {
		var err error
		nc, err = nats.Connect(cfg.NATS.URL)
		if err != nil {
			log.Fatalf("Failed to connect to NATS at %s: %v", cfg.NATS.URL, err)
		}
		defer nc.Close()
		publisher := event.NewNATS(nc, cfg.NATS.StatusSubject)
		if err := app.RegisterService(ruleengine.PublisherServiceName, publisher); err != nil {
			log.Fatalf("Failed to register publisher: %v", err)
		}
		natsFactory = module.NewNATSFactory("ruleengine.factory.nats")
		natsFactory.SetURL(cfg.NATS.URL)
		app.RegisterModule(natsFactory)
	}

	coreFactory := module.NewCoreFactory("ruleengine.factory.core", logger)
	app.RegisterModule(coreFactory)

	engineModule := ruleengine.NewEngineModule("ruleengine", types, rules)
	engineModule.SetLogger(logger)
	engineModule.SetRetryDelayMillis(cfg.Engine.RetryDelayMillis)
	engineModule.SetRunLevel(cfg.Engine.RunLevel)
	app.RegisterModule(engineModule)

	if err := app.Init(); err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}

	engine := engineModule.Engine()
	engine.AddHandlerFactory(coreFactory)
	if natsFactory != nil {
		engine.AddHandlerFactory(natsFactory)
	}
	engine.SetCompositeFactory(module.NewCompositeFactory(types, engine))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := app.Start(); err != nil {
			return err
		}
		<-ctx.Done()
		return app.Stop()
	})

	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: mux}
		g.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if err := g.Wait(); err != nil {
		log.Fatalf("Service error: %v", err)
	}
	logger.Info("rule engine service stopped")
}
