package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	migrate "github.com/rubenv/sql-migrate"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/daraja-sandbox/daraja-sandbox-backend/db"
	"github.com/daraja-sandbox/daraja-sandbox-backend/internal/callbacks"
	"github.com/daraja-sandbox/daraja-sandbox-backend/internal/data"
	"github.com/daraja-sandbox/daraja-sandbox-backend/internal/events"
	"github.com/daraja-sandbox/daraja-sandbox-backend/internal/monitor"
	"github.com/daraja-sandbox/daraja-sandbox-backend/internal/sandbox"
	"github.com/daraja-sandbox/daraja-sandbox-backend/internal/serve"
	"github.com/daraja-sandbox/daraja-sandbox-backend/internal/settings"
	"github.com/daraja-sandbox/daraja-sandbox-backend/internal/stkpending"
)

// ServeCommand runs the supervisor: the admin mux plus on-demand per-project
// sandbox servers.
type ServeCommand struct{}

func (c *ServeCommand) Command(opts *GlobalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the sandbox supervisor and admin API",
		Run: func(cmd *cobra.Command, args []string) {
			serveOpts := serveFlags{
				host:                viper.GetString("host"),
				adminPort:           viper.GetInt("admin-port"),
				settingsPath:        viper.GetString("settings-path"),
				callbackTimeout:     viper.GetDuration("callback-timeout"),
				callbackMaxAttempts: viper.GetUint("callback-max-attempts"),
				startAll:            viper.GetBool("start-all"),
			}
			if err := c.run(opts, serveOpts); err != nil {
				logrus.Fatalf("running serve: %s", err)
			}
		},
	}

	cmd.Flags().String("host", "127.0.0.1", "Interface the admin and sandbox servers bind to.")
	cmd.Flags().Int("admin-port", 7000, "Port of the host-facing admin API.")
	cmd.Flags().String("settings-path", "daraja-sandbox-settings.json", "Path of the persisted settings document.")
	cmd.Flags().Duration("callback-timeout", callbacks.DefaultTimeout, "Per-attempt timeout for merchant callback deliveries.")
	cmd.Flags().Uint("callback-max-attempts", callbacks.DefaultMaxAttempts, "Delivery attempts before a callback is marked failed.")
	cmd.Flags().Bool("start-all", false, "Start a sandbox for every project at boot.")

	return cmd
}

type serveFlags struct {
	host                string
	adminPort           int
	settingsPath        string
	callbackTimeout     time.Duration
	callbackMaxAttempts uint
	startAll            bool
}

func (c *ServeCommand) run(opts *GlobalOptions, flags serveFlags) error {
	ctx := context.Background()

	if applied, err := db.Migrate(opts.DatabaseURL, migrate.Up, 0); err != nil {
		return fmt.Errorf("migrating database: %w", err)
	} else if applied > 0 {
		logrus.Infof("applied %d migrations", applied)
	}

	dbConnectionPool, err := db.OpenDBConnectionPool(opts.DatabaseURL)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer dbConnectionPool.Close()

	models, err := data.NewModels(dbConnectionPool)
	if err != nil {
		return fmt.Errorf("building models: %w", err)
	}

	emitter := events.LogEmitter{}
	monitorService := monitor.NewService()
	registry := stkpending.NewRegistry()

	settingsStore, err := settings.NewStore(flags.settingsPath, emitter)
	if err != nil {
		return fmt.Errorf("opening settings store: %w", err)
	}
	current := settingsStore.Get()

	callbackTimeout := flags.callbackTimeout
	if current.CallbackTimeoutSecs > 0 {
		callbackTimeout = time.Duration(current.CallbackTimeoutSecs) * time.Second
	}
	callbackMaxAttempts := flags.callbackMaxAttempts
	if current.CallbackMaxAttempts > 0 {
		callbackMaxAttempts = uint(current.CallbackMaxAttempts)
	}

	orchestrator := &callbacks.Orchestrator{
		Models:     models,
		Dispatcher: callbacks.NewDispatcher(callbackTimeout, callbackMaxAttempts),
		Monitor:    monitorService,
	}

	supervisor := sandbox.NewSupervisor(models, emitter, monitorService, func(projectID int64) serve.ServeOptions {
		serveOptions := serve.ServeOptions{
			ProjectID:      projectID,
			Models:         models,
			Orchestrator:   orchestrator,
			Registry:       registry,
			Emitter:        emitter,
			MonitorService: monitorService,
			Version:        opts.Version,
		}
		if current.StkSafetyWindowMs > 0 {
			serveOptions.StkSafetyWindow = time.Duration(current.StkSafetyWindowMs) * time.Millisecond
		}
		return serveOptions
	})
	supervisor.Host = flags.host

	if flags.startAll {
		projects, listErr := models.Projects.GetAll(ctx, dbConnectionPool)
		if listErr != nil {
			return fmt.Errorf("listing projects: %w", listErr)
		}
		for _, project := range projects {
			if _, startErr := supervisor.Start(ctx, project.ID); startErr != nil {
				logrus.Warnf("starting sandbox for project %d: %s", project.ID, startErr)
			}
		}
	}

	adminHandler, err := serve.NewAdminHandler(serve.AdminOptions{
		Models:         models,
		Sandboxes:      supervisor.Controller(),
		Registry:       registry,
		SettingsStore:  settingsStore,
		MonitorService: monitorService,
		Version:        opts.Version,
	})
	if err != nil {
		return fmt.Errorf("building admin handler: %w", err)
	}

	adminServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", flags.host, flags.adminPort),
		Handler:           adminHandler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logrus.Infof("admin API listening on %s", adminServer.Addr)
		serveErr <- adminServer.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err = <-serveErr:
		return fmt.Errorf("admin server stopped: %w", err)
	case sig := <-stop:
		logrus.Infof("received %s, shutting down", sig)
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	supervisor.StopAll(shutdownCtx)
	if err = adminServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down admin server: %w", err)
	}
	return nil
}
