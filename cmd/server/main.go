/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the parking permit engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags and load configuration
  2. Build the logger
  3. Initialize SQLite store
  4. Import the product catalogue file, if configured
  5. Create API handler and router
  6. Start the permit expiry scheduler
  7. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  Configuration file (default: search ./, ./config, /etc/permits)
  -port    HTTP server port, overrides server.port
  -db      SQLite database path, overrides database.path
           Use ":memory:" for in-memory database

ENVIRONMENT:
  Every key can be set as PERMITS_<SECTION>_<KEY>, e.g. PERMITS_SERVER_PORT
  or PERMITS_PRICING_TIMEZONE. Flags win over the environment, the
  environment wins over the file.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the expiry scheduler
  4. Close database connection
  5. Exit

EXAMPLES:
  # Run with file database and a catalogue
  PERMITS_CATALOG_FILE=./catalog.yaml ./server -db="./data/permits.db"

  # Run with in-memory database
  ./server -db=":memory:"

SEE ALSO:
  - config/config.go: Configuration keys and defaults
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/warp/permit-engine/api"
	"github.com/warp/permit-engine/config"
	"github.com/warp/permit-engine/factory"
	"github.com/warp/permit-engine/logger"
	"github.com/warp/permit-engine/permits"
	"github.com/warp/permit-engine/store/sqlite"
	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "permit engine: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Flags
	configFile := flag.String("config", "", "Configuration file")
	port := flag.Int("port", 8080, "HTTP server port")
	dbPath := flag.String("db", "permits.db", "SQLite database path")
	flag.Parse()

	var opts []config.Option
	if *configFile != "" {
		opts = append(opts, config.WithConfigFile(*configFile))
	}
	cfg, err := config.Load(opts...)
	if err != nil {
		return err
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "port":
			cfg.Server.Port = *port
		case "db":
			cfg.Database.Path = *dbPath
		}
	})

	log, err := logger.New(cfg.Logging.Level)
	if err != nil {
		return err
	}
	defer log.Sync()

	loc, err := cfg.Pricing.Location()
	if err != nil {
		return err
	}

	// Initialize store
	store, err := sqlite.New(cfg.Database.Path, sqlite.WithLocation(loc))
	if err != nil {
		return errors.Wrap(err, "initialize database")
	}
	defer store.Close()

	service := permits.NewService(store, loc, log)
	if cfg.Catalog.File != "" {
		if err := importCatalog(service, cfg.Catalog.File, log); err != nil {
			return err
		}
	}

	handler := api.NewHandler(service, log,
		api.WithHealthCheck(store.Ping),
		api.WithScenarios(cfg.Server.DemoScenarios))
	router := api.NewRouter(handler)

	scheduler := api.NewExpiryScheduler(service, log)
	scheduler.Enabled = cfg.Expiry.Enabled
	scheduler.CheckInterval = cfg.Expiry.Interval
	scheduler.Start()
	defer scheduler.Stop()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		log.Info("server starting",
			zap.Int("port", cfg.Server.Port),
			zap.String("database", cfg.Database.Path),
			zap.String("timezone", loc.String()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serverErr:
		return errors.Wrap(err, "server failed")
	case <-quit:
	}

	log.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return errors.Wrap(err, "server forced to shutdown")
	}

	log.Info("server stopped")
	return nil
}

// importCatalog loads the configured catalogue file at startup. Products
// already stored under the same id are replaced.
func importCatalog(service *permits.Service, path string, log *zap.Logger) error {
	products, err := factory.NewCatalogFactory().ParseFile(path)
	if err != nil {
		return err
	}
	if err := service.ImportProducts(context.Background(), products); err != nil {
		return errors.Wrapf(err, "import catalog %s", path)
	}
	log.Info("catalog imported", zap.String("file", path), zap.Int("products", len(products)))
	return nil
}
