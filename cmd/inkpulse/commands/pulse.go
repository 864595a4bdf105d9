package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/inkpulse/inkpulse/am"
	"github.com/inkpulse/inkpulse/errors"
	"github.com/inkpulse/inkpulse/internal/httpclient"
	"github.com/inkpulse/inkpulse/logger"
	"github.com/inkpulse/inkpulse/pulse/action"
	"github.com/inkpulse/inkpulse/pulse/schedule"
	"github.com/inkpulse/inkpulse/server"
	"github.com/inkpulse/inkpulse/sym"
)

// PulseCmd represents the pulse command
var PulseCmd = &cobra.Command{
	Use:   "pulse",
	Short: sym.Pulse + " Run the Pulse dispatcher and control API",
	Long: sym.Pulse + ` Pulse — fires due jobs and serves the control API.

The daemon:
- Polls the schedule store for due jobs and claims each before firing
- Runs action pipelines (scrape, generate, send) with a per-action timeout
- Records every firing and advances next_run_at
- Serves the HTTP control API and the /ws/runs event stream
- Applies pulse.* config changes without a restart

Several daemons may share one store; claims keep a firing on one instance.

Example:
  inkpulse pulse start                 # Start in foreground
  inkpulse pulse start --port 9000     # Override server.port`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// PulseStartCmd starts the dispatcher and HTTP server
var PulseStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the Pulse daemon",
	Long: `Start the dispatcher and control API in the foreground.

Runs until interrupted. On Ctrl+C in-flight firings get the shutdown grace
period to finish before they are cancelled; a second Ctrl+C exits at once.`,
	Args: cobra.NoArgs,
	RunE: runPulseStart,
}

var (
	pulsePort       int
	pulseInstanceID string
	pulseNoServer   bool
)

func init() {
	PulseStartCmd.Flags().IntVar(&pulsePort, "port", 0, "HTTP port (default server.port)")
	PulseStartCmd.Flags().StringVar(&pulseInstanceID, "instance-id", "", "Claim owner ID (default hostname + random suffix)")
	PulseStartCmd.Flags().BoolVar(&pulseNoServer, "no-server", false, "Run the dispatcher without the HTTP API")
	PulseCmd.AddCommand(PulseStartCmd)
}

func runPulseStart(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	database, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	store := schedule.NewStoreWithDriver(database, cfg.GetDatabaseDriver())
	service := schedule.NewService(store, logger.Logger)

	dispatcherCfg := schedule.DispatcherConfigFromPulse(cfg.Pulse)
	dispatcherCfg.InstanceID = pulseInstanceID

	client := httpclient.New(httpclient.Options{BlockPrivateIPs: cfg.Actions.BlockPrivateIPs})
	for kind, url := range map[action.Kind]string{
		action.KindScrape:   cfg.Actions.ScrapeURL,
		action.KindGenerate: cfg.Actions.GenerateURL,
		action.KindSend:     cfg.Actions.SendURL,
	} {
		if url == "" {
			continue
		}
		if _, err := client.ValidateURL(url); err != nil {
			return errors.Wrapf(err, "actions.%s_url", kind)
		}
	}
	registry := action.NewRegistryFromConfig(cfg.Actions, client.Client)
	for _, kind := range action.Kinds {
		if !registry.Has(kind) {
			pterm.Warning.Printf("No executor for %s actions (set actions.%s_url); those steps will fail\n", kind, kind)
		}
	}
	runner := action.NewRunner(registry, dispatcherCfg.ActionTimeout, logger.Logger)

	srv := server.New(service, nil, cfg.Server, logger.Logger)
	dispatcher := schedule.NewDispatcher(store, runner, srv.Hub(), dispatcherCfg, logger.Logger)
	srv.AttachDispatcher(dispatcher)

	if file := am.ActiveConfigFile(); file != "" {
		watcher, err := am.NewConfigWatcher(file, nil)
		if err != nil {
			logger.Warnw("Config hot reload unavailable", "file", file, "error", err)
		} else {
			watcher.OnReload(func(c *am.Config) error {
				dispatcher.ApplyConfig(schedule.DispatcherConfigFromPulse(c.Pulse))
				srv.SetAllowedOrigins(c.Server.AllowedOrigins)
				return nil
			})
			watcher.Start()
			defer watcher.Stop()
		}
	}

	dispatcher.Start()

	port := cfg.Server.Port
	if pulsePort != 0 {
		port = pulsePort
	}
	errChan := make(chan error, 1)
	if !pulseNoServer {
		go func() {
			errChan <- srv.ListenAndServe(fmt.Sprintf(":%d", port))
		}()
	}

	stats := dispatcher.Stats()
	pterm.Success.Printf("%s Pulse started (instance %s)\n", sym.Pulse, stats.InstanceID)
	pterm.Printf("  Store:         %s\n", cfg.GetDatabaseDriver())
	pterm.Printf("  Workers:       %d\n", stats.Workers)
	pterm.Printf("  Poll interval: %.0fs\n", stats.PollIntervalSeconds)
	pterm.Printf("  Lease:         %.0fs\n", stats.LeaseSeconds)
	if !pulseNoServer {
		pterm.Printf("  Control API:   http://localhost:%d/api\n", port)
	}
	pterm.Info.Println("Press Ctrl+C for graceful shutdown")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	var runErr error
	select {
	case <-sigChan:
		pterm.Info.Println("Shutting down gracefully (press Ctrl+C again to force)...")
	case err := <-errChan:
		if err != nil {
			runErr = errors.Wrap(err, "control API stopped")
		}
	case <-dispatcher.Done():
		runErr = dispatcher.Err()
	}

	go func() {
		<-sigChan
		pterm.Warning.Println("Force shutdown - exiting immediately")
		os.Exit(1)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), server.ShutdownTimeout)
	defer cancel()
	if err := srv.Stop(ctx); err != nil {
		logger.Warnw("Control API shutdown", "error", err)
	}
	dispatcher.Stop()

	if runErr == nil {
		runErr = dispatcher.Err()
	}
	if runErr != nil {
		return errors.Wrap(runErr, "pulse stopped")
	}
	pterm.Success.Printf("%s Pulse stopped cleanly\n", sym.Pulse)
	return nil
}
