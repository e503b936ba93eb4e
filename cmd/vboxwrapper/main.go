package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/GNS3/vboxwrapper/pkg/config"
	"github.com/GNS3/vboxwrapper/pkg/controller"
	"github.com/GNS3/vboxwrapper/pkg/log"
	"github.com/GNS3/vboxwrapper/pkg/metrics"
	"github.com/GNS3/vboxwrapper/pkg/registry"
	"github.com/GNS3/vboxwrapper/pkg/server"
	"github.com/GNS3/vboxwrapper/pkg/vbox"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "0.9.2"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "vboxwrapper",
	Short: "VirtualBox wrapper daemon for GNS3",
	Long: `vboxwrapper exposes VirtualBox virtual machines to GNS3 over a
TCP line protocol. It manages VM lifecycle, network adapters, UDP
tunnels, packet captures and serial consoles on behalf of the GNS3
topology editor.`,
	Version: Version,
	RunE:    run,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"vboxwrapper version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.Flags().String("config", "", "Path to YAML config file")
	rootCmd.Flags().String("listen", "", "Address to bind the control server to")
	rootCmd.Flags().Int("port", 0, "Control server TCP port")
	rootCmd.Flags().Bool("force-ipv6", false, "Listen on an IPv6 socket")
	rootCmd.Flags().String("workdir", "", "Working directory for instance files")
	rootCmd.Flags().String("metrics-addr", "", "Address to serve Prometheus metrics and health on")
	rootCmd.Flags().Bool("no-vbox-checks", false, "Skip the VirtualBox availability check at startup")
	rootCmd.Flags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.Flags().Bool("log-json", false, "Emit JSON logs")
}

// loadConfig merges defaults, the optional config file and flags, in that
// order of precedence.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg := config.Default()
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		var err error
		cfg, err = config.Load(path)
		if err != nil {
			return cfg, err
		}
	}
	if cmd.Flags().Changed("listen") {
		cfg.Listen, _ = cmd.Flags().GetString("listen")
	}
	if cmd.Flags().Changed("port") {
		cfg.Port, _ = cmd.Flags().GetInt("port")
	}
	if cmd.Flags().Changed("force-ipv6") {
		cfg.ForceIPv6, _ = cmd.Flags().GetBool("force-ipv6")
	}
	if cmd.Flags().Changed("workdir") {
		cfg.Workdir, _ = cmd.Flags().GetString("workdir")
	}
	if cmd.Flags().Changed("metrics-addr") {
		cfg.MetricsAddr, _ = cmd.Flags().GetString("metrics-addr")
	}
	if cmd.Flags().Changed("no-vbox-checks") {
		cfg.NoVBoxChecks, _ = cmd.Flags().GetBool("no-vbox-checks")
	}
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel, _ = cmd.Flags().GetString("log-level")
	}
	if cmd.Flags().Changed("log-json") {
		cfg.LogJSON, _ = cmd.Flags().GetBool("log-json")
	}
	return cfg, cfg.Validate()
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	log.Init(log.Config{
		Level:      log.Level(cfg.LogLevel),
		JSONOutput: cfg.LogJSON,
	})
	logger := log.WithComponent("main")

	metrics.SetVersion(Version)
	metrics.RegisterComponent("server", false, "not started")

	backend, err := vbox.Connect()
	if err != nil {
		if !cfg.NoVBoxChecks {
			return fmt.Errorf("VirtualBox is not available: %w", err)
		}
		logger.Warn().Err(err).Msg("continuing without VirtualBox, VM operations will fail")
		backend = nil
	}
	if backend != nil {
		metrics.RegisterComponent("vbox", true, "connected")
	} else {
		metrics.RegisterComponent("vbox", false, "VirtualBox API unavailable")
	}

	reg := registry.New(cfg.Workdir, controller.Config{
		Backend:    backend,
		Stop:       controller.DefaultStopStrategy(),
		ListenHost: cfg.Listen,
		PipeDir:    cfg.Workdir,
	})

	srv := server.New(server.Config{
		Addr:            cfg.Addr(),
		ForceIPv6:       cfg.ForceIPv6,
		Registry:        reg,
		Backend:         backend,
		RequiredVersion: cfg.RequiredVersion,
		Version:         Version,
	})

	if cfg.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(cfg.MetricsAddr); err != nil {
				logger.Error().Err(err).Msg("metrics server failed")
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
		srv.Stop()
		return <-errCh
	case err := <-errCh:
		return err
	}
}
