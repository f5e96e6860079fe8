package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/wildwatch-go/cmd/events"
	"github.com/tphakala/wildwatch-go/cmd/probe"
	"github.com/tphakala/wildwatch-go/cmd/realtime"
	"github.com/tphakala/wildwatch-go/cmd/relay"
	"github.com/tphakala/wildwatch-go/internal/buildinfo"
	"github.com/tphakala/wildwatch-go/internal/conf"
	"github.com/tphakala/wildwatch-go/internal/logger"
)

// RootCommand creates and returns the root command. Settings are loaded in
// PersistentPreRunE so that command line flags bound to viper take precedence
// over the config file and environment.
func RootCommand(info *buildinfo.Context) *cobra.Command {
	settings := &conf.Settings{}
	var configPath string
	var central *logger.CentralLogger

	rootCmd := &cobra.Command{
		Use:           "wildwatch",
		Short:         "WildWatch edge detection agent",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Set up the global flags for the root command.
	if err := setupFlags(rootCmd, settings, &configPath); err != nil {
		logger.Global().Module("cmd").Error("failed to set up flags", logger.Error(err))
	}

	versionCmd := versionCommand(info)
	subcommands := []*cobra.Command{
		realtime.Command(settings),
		relay.Command(settings),
		probe.Command(settings),
		events.Command(settings),
		versionCmd,
	}
	rootCmd.AddCommand(subcommands...)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		// the version command needs no configuration
		if cmd.Name() == versionCmd.Name() {
			return nil
		}

		if configPath != "" {
			conf.SetConfigFile(configPath)
		}
		loaded, err := conf.Load()
		if err != nil {
			return err
		}
		*settings = *loaded
		settings.Version = info.GetVersion()

		central, err = initLogging(settings)
		return err
	}

	rootCmd.PersistentPostRunE = func(cmd *cobra.Command, args []string) error {
		if central == nil {
			return nil
		}
		return central.Close()
	}

	return rootCmd
}

// initLogging installs the central logger built from the logging settings.
// --debug lowers the default and console levels to debug.
func initLogging(settings *conf.Settings) (*logger.CentralLogger, error) {
	if settings.Debug {
		settings.Logging.DefaultLevel = "debug"
		if settings.Logging.Console != nil {
			settings.Logging.Console.Level = "debug"
		}
	}

	central, err := logger.NewCentralLogger(&settings.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}
	logger.SetGlobal(central)
	return central, nil
}

// setupFlags defines flags that are global to the command line interface
func setupFlags(rootCmd *cobra.Command, settings *conf.Settings, configPath *string) error {
	rootCmd.PersistentFlags().StringVarP(configPath, "config", "c", "", "Path to config.yaml (default: search ., ~/.config/wildwatch, /etc/wildwatch)")
	rootCmd.PersistentFlags().BoolVarP(&settings.Debug, "debug", "d", false, "Enable debug output")

	if err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}
	return nil
}

func versionCommand(info *buildinfo.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), info.String())
			return err
		},
	}
}
