package main

import (
	"errors"
	"fmt"
	"os"
	"slices"

	cli "github.com/lxc/incus/v6/shared/cmd"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/osinstall/instconfd/api"
	"github.com/osinstall/instconfd/internal/bootopts"
	"github.com/osinstall/instconfd/internal/services"
)

type cmdKickstart struct {
	global *cmdGlobal

	flagService []string
	flagReport  bool
}

func (c *cmdKickstart) command() *cobra.Command {
	cmd := &cobra.Command{}
	cmd.Use = cli.Usage("kickstart", "<path>")
	cmd.Short = "Process a kickstart file"
	cmd.Long = cli.FormatSection("Description",
		`Process a kickstart file

The kickstart is read by the services without publishing them. The commands
they generate back are printed, or the errors and warnings with --report.`)
	cmd.RunE = c.run

	cmd.Flags().StringSliceVarP(&c.flagService, "service", "s", services.ValidNames, "Services to read the kickstart with")
	cmd.Flags().BoolVar(&c.flagReport, "report", false, "Print the errors and warnings as YAML")

	return cmd
}

func (c *cmdKickstart) run(cmd *cobra.Command, args []string) error {
	// Quick checks.
	exit, err := cli.CheckArgs(cmd, args, 1, 1)
	if exit {
		return err
	}

	for _, name := range c.flagService {
		if !slices.Contains(services.ValidNames, name) {
			return fmt.Errorf("unknown service %q", name)
		}
	}

	cfg, err := c.global.loadConfig()
	if err != nil {
		return err
	}

	content, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}

	// Nothing is published, so no daemon is expected.
	cfg.System.SystemBusPresent = false

	ctx := cmd.Context()
	deps := services.Deps{Config: cfg, Boot: bootopts.Parse("")}
	reports := map[string]api.KickstartReport{}
	generated := ""
	valid := true

	for _, name := range c.flagService {
		srv, err := services.Load(ctx, deps, name)
		if err != nil {
			return err
		}

		report := srv.ReadKickstart(ctx, string(content))
		reports[name] = report
		valid = valid && report.IsValid()
		generated += srv.GenerateKickstart(ctx)
	}

	if c.flagReport {
		out, err := yaml.Marshal(reports)
		if err != nil {
			return err
		}

		_, _ = fmt.Print(string(out)) //nolint:forbidigo
	} else {
		_, _ = fmt.Print(generated) //nolint:forbidigo
	}

	if !valid {
		return errors.New("the kickstart has errors")
	}

	return nil
}
