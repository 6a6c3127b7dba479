package cmd

import (
	"fmt"

	"github.com/getsentry/sentry-go"
	"github.com/spf13/cobra"

	"github.com/tphakala/go-playback/cmd/config"
	"github.com/tphakala/go-playback/cmd/play"
	"github.com/tphakala/go-playback/cmd/scan"
	"github.com/tphakala/go-playback/internal/buildinfo"
	"github.com/tphakala/go-playback/internal/conf"
	"github.com/tphakala/go-playback/internal/errors"
	"github.com/tphakala/go-playback/internal/logger"
)

// runtime holds what the root command sets up for its subcommands and tears
// down after them
type runtime struct {
	settings    *conf.Settings
	central     *logger.CentralLogger
	flushSentry func()
}

// RootCommand creates and returns the root command
func RootCommand(info *buildinfo.Context) *cobra.Command {
	rt := &runtime{settings: conf.Defaults()}
	var configFile string

	rootCmd := &cobra.Command{
		Use:           "playback",
		Short:         "Buffered audio playback engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to the configuration file")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug output")
	rootCmd.PersistentFlags().String("codecs", "", "Directory holding the decoder images")
	conf.MapFlag(rootCmd, "debug", "debug")
	conf.MapFlag(rootCmd, "codecs", "codecs.dir")

	versionCmd := versionCommand(info)
	configCmd := config.Command(rt.settings)

	rootCmd.AddCommand(
		play.Command(rt.settings),
		scan.Command(rt.settings),
		configCmd,
		versionCmd,
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		// Skip setup for commands that must work without a valid configuration
		if cmd == versionCmd || cmd.Parent() == configCmd && cmd.Name() == "init" {
			return nil
		}
		return rt.initialize(cmd, configFile, info)
	}
	cobra.OnFinalize(rt.shutdown)

	return rootCmd
}

// initialize loads the configuration and starts logging and error telemetry
func (rt *runtime) initialize(cmd *cobra.Command, configFile string, info *buildinfo.Context) error {
	if err := conf.BindFlags(cmd); err != nil {
		return err
	}
	settings, err := conf.Load(configFile)
	if err != nil {
		return err
	}
	*rt.settings = *settings

	if rt.settings.Debug {
		rt.settings.Logging.DefaultLevel = "debug"
		if rt.settings.Logging.Console != nil {
			rt.settings.Logging.Console.Level = "debug"
		}
	}

	central, err := logger.NewCentralLogger(&rt.settings.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	logger.SetGlobal(central)
	rt.central = central

	log := central.Module("main")
	log.Info("starting",
		logger.String("version", info.GetVersion()),
		logger.String("build_date", info.GetBuildDate()),
		logger.String("instance_id", info.GetInstanceID()),
		logger.String("config", conf.ConfigFileUsed()))

	if rt.settings.Sentry.Enabled {
		flush, err := errors.InitSentry(sentry.ClientOptions{
			Dsn:        rt.settings.Sentry.DSN,
			Release:    fmt.Sprintf("go-playback@%s", info.GetVersion()),
			ServerName: info.GetInstanceID(),
		})
		if err != nil {
			// Telemetry is optional, keep running without it
			log.Warn("error telemetry disabled", logger.Error(err))
		} else {
			rt.flushSentry = flush
			log.Info("error telemetry enabled")
		}
	}
	return nil
}

// shutdown flushes telemetry and closes log outputs
func (rt *runtime) shutdown() {
	if rt.flushSentry != nil {
		rt.flushSentry()
		rt.flushSentry = nil
	}
	if rt.central != nil {
		_ = rt.central.Flush()
		_ = rt.central.Close()
		rt.central = nil
	}
}

func versionCommand(info *buildinfo.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), info.String())
		},
	}
}
