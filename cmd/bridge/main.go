// Command bridge runs the command bridge: backends connect over a websocket
// and callers reach them through the HTTP API or the MCP endpoint.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"github.com/upb/command-bridge/app"
	"github.com/upb/command-bridge/config"
	"github.com/upb/command-bridge/handlers"
	"github.com/upb/command-bridge/internal/observability"
	"github.com/upb/command-bridge/routes"
	"go.uber.org/zap"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	envFiles    []string
	port        int
	multiTenant bool
	version     bool
}

func parseFlags(args []string) (*pflag.FlagSet, *options, error) {
	opts := &options{}
	flagSet := pflag.NewFlagSet("bridge", pflag.ContinueOnError)
	flagSet.StringSliceVar(&opts.envFiles, "env-file", []string{".env"}, "dotenv files to load before reading the environment")
	flagSet.IntVarP(&opts.port, "port", "p", 0, "listen port (overrides PORT and SERVER_PORT)")
	flagSet.BoolVar(&opts.multiTenant, "multi-tenant", false, "require tenant-scoped credentials (overrides AUTH_MULTI_TENANT)")
	flagSet.BoolVar(&opts.version, "version", false, "print the version and exit")

	if err := flagSet.Parse(args); err != nil {
		return nil, nil, err
	}
	if rest := flagSet.Args(); len(rest) > 0 {
		return nil, nil, fmt.Errorf("unexpected argument: %s", rest[0])
	}
	return flagSet, opts, nil
}

// loadConfig reads the environment and applies flag overrides.
func loadConfig(ctx context.Context, flagSet *pflag.FlagSet, opts *options) (*config.Config, error) {
	cfg, err := config.New(ctx, opts.envFiles...)
	if err != nil {
		return nil, err
	}
	if flagSet.Changed("port") {
		cfg.Server.Port = opts.port
	}
	if flagSet.Changed("multi-tenant") {
		cfg.Auth.MultiTenant = opts.multiTenant
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// initLogger builds the process logger from LOG_LEVEL and LOG_FORMAT.
func initLogger() (*zap.Logger, error) {
	return observability.NewLogger(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))
}

func run(args []string) error {
	flagSet, opts, err := parseFlags(args)
	if err != nil {
		return err
	}
	if opts.version {
		fmt.Println("bridge", handlers.Version)
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(ctx, flagSet, opts)
	if err != nil {
		return err
	}

	logger, err := initLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	deps, err := app.NewDependencies(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize dependencies", zap.Error(err))
		return err
	}

	srv := &http.Server{
		Addr:    cfg.Server.Address(),
		Handler: routes.SetupRoutes(deps),
		// Read and write deadlines would outlive the upgrade on hijacked
		// backend sockets, so only the header read is bounded.
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("command bridge listening",
			zap.String("addr", srv.Addr),
			zap.String("environment", cfg.Environment),
			zap.Bool("multi_tenant", cfg.Auth.MultiTenant))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			logger.Error("server error", zap.Error(err))
			_ = deps.Close(context.Background())
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	return shutdown(srv, deps, cfg, logger)
}

// shutdown fails readiness first, stops accepting requests, then closes
// backend connections and flushes the audit trail.
func shutdown(srv *http.Server, deps *app.Dependencies, cfg *config.Config, logger *zap.Logger) error {
	deps.SetDraining()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := srv.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := deps.Close(ctx); err != nil {
		errs = append(errs, err)
	}

	if err := errors.Join(errs...); err != nil {
		logger.Error("shutdown finished with errors", zap.Error(err))
		return err
	}
	logger.Info("shutdown complete")
	return nil
}
