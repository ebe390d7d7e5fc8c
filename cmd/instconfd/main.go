// Package main is used for the instconfd daemon.
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	cli "github.com/lxc/incus/v6/shared/cmd"
	"github.com/spf13/cobra"

	"github.com/osinstall/instconfd/internal/config"
	"github.com/osinstall/instconfd/internal/logging"
)

var version = "dev"

type cmdGlobal struct {
	flagConfig  string
	flagSession bool
	flagVersion bool
	flagDebug   bool
}

func main() {
	// Global flags.
	globalCmd := cmdGlobal{}

	app := &cobra.Command{}
	app.Use = "instconfd"
	app.Short = "Installer configuration services"
	app.Long = cli.FormatSection("Description",
		`Installer configuration services

This daemon publishes the localization and network configuration services of the
installer on the system bus.`)
	app.SilenceUsage = true
	app.CompletionOptions = cobra.CompletionOptions{DisableDefaultCmd: true}

	app.PersistentFlags().StringVarP(&globalCmd.flagConfig, "config", "c", config.DefaultPath, "Path to the configuration file")
	app.PersistentFlags().BoolVar(&globalCmd.flagSession, "session", false, "Use the session bus instead of the system bus")
	app.PersistentFlags().BoolVarP(&globalCmd.flagDebug, "debug", "d", false, "Show all debug messages")
	app.Flags().BoolVarP(&globalCmd.flagVersion, "version", "v", false, "Print binary version")

	// Services.
	for _, name := range []string{"localization", "network"} {
		serviceCmd := cmdService{global: &globalCmd, name: name}
		app.AddCommand(serviceCmd.command())
	}

	serveCmd := cmdServe{global: &globalCmd}
	app.AddCommand(serveCmd.command())

	// Kickstart.
	kickstartCmd := cmdKickstart{global: &globalCmd}
	app.AddCommand(kickstartCmd.command())

	// Workaround for subcommand usage errors. See: https://github.com/spf13/cobra/issues/706.
	app.Args = cobra.NoArgs
	app.Run = func(cmd *cobra.Command, _ []string) {
		if globalCmd.flagVersion {
			_, _ = fmt.Println("instconfd version " + version) //nolint:forbidigo

			return
		}

		_ = cmd.Usage()
	}

	// Help handling.
	app.SetHelpCommand(&cobra.Command{
		Use:    "no-help",
		Hidden: true,
	})

	// Run the main command and handle errors.
	err := app.Execute()
	if err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the configuration and sets up the logger from it.
func (c *cmdGlobal) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(c.flagConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to load %q: %w", c.flagConfig, err)
	}

	level := logging.ParseLevel(cfg.LogLevel)
	if c.flagDebug {
		level = slog.LevelDebug
	}

	slog.SetDefault(slog.New(logging.NewHandler(os.Stderr, level, "instconfd")))

	return cfg, nil
}

// checkPrivileges fails unless running as root or on the session bus.
func (c *cmdGlobal) checkPrivileges() error {
	if c.flagSession || os.Getuid() == 0 {
		return nil
	}

	return errors.New("instconfd must be run as root")
}
