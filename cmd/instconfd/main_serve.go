package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/godbus/dbus/v5"
	"github.com/hashicorp/go-multierror"
	cli "github.com/lxc/incus/v6/shared/cmd"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/osinstall/instconfd/internal/bootopts"
	"github.com/osinstall/instconfd/internal/bus"
	"github.com/osinstall/instconfd/internal/services"
	"github.com/osinstall/instconfd/internal/systemd"
)

type cmdService struct {
	global *cmdGlobal
	name   string
}

func (c *cmdService) command() *cobra.Command {
	cmd := &cobra.Command{}
	cmd.Use = cli.Usage(c.name)
	cmd.Short = "Run the " + c.name + " service"
	cmd.Long = cli.FormatSection("Description",
		"Run the "+c.name+" service\n\nThe service is published under its own name on the bus until the daemon is stopped.")
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		exit, err := cli.CheckArgs(cmd, args, 0, 0)
		if exit {
			return err
		}

		return c.global.serve(cmd.Context(), []string{c.name})
	}

	return cmd
}

type cmdServe struct {
	global *cmdGlobal
}

func (c *cmdServe) command() *cobra.Command {
	cmd := &cobra.Command{}
	cmd.Use = cli.Usage("serve")
	cmd.Short = "Run every service"
	cmd.Long = cli.FormatSection("Description",
		"Run every service\n\nAll the services share a single bus connection and main loop.")
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		exit, err := cli.CheckArgs(cmd, args, 0, 0)
		if exit {
			return err
		}

		return c.global.serve(cmd.Context(), services.ValidNames)
	}

	return cmd
}

// serve publishes the named services and runs the main loop until a termination signal.
func (c *cmdGlobal) serve(ctx context.Context, names []string) error {
	err := c.checkPrivileges()
	if err != nil {
		return err
	}

	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, unix.SIGTERM)
	defer cancel()

	boot, err := bootopts.Load(cfg.System.HostPath(cfg.System.CmdlinePath))
	if err != nil {
		slog.WarnContext(ctx, "Failed to read the kernel command line", "err", err)

		boot = bootopts.Parse("")
	}

	conn, err := bus.Connect(c.flagSession)
	if err != nil {
		return fmt.Errorf("failed to connect to the bus: %w", err)
	}

	defer func() { _ = conn.Close() }()

	scheduler := bus.NewScheduler()
	deps := services.Deps{
		Config:    cfg,
		Boot:      boot,
		Conn:      conn,
		Scheduler: scheduler,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return scheduler.Run(gctx) })

	srvs := make([]services.Service, 0, len(names))

	defer func() {
		systemd.NotifyStopping()

		for _, srv := range srvs {
			err := srv.Stop(context.Background())
			if err != nil {
				slog.WarnContext(ctx, "Failed to stop service", "service", srv.Name(), "err", err)
			}
		}
	}()

	for _, name := range names {
		srv, err := services.Load(gctx, deps, name)
		if err != nil {
			cancel()

			return errors.Join(err, ignoreCanceled(g.Wait()))
		}

		srvs = append(srvs, srv)

		err = startService(gctx, conn, srv)
		if err != nil {
			cancel()

			return errors.Join(err, ignoreCanceled(g.Wait()))
		}
	}

	systemd.NotifyReady()
	slog.InfoContext(ctx, "Services are ready", "services", names)

	return ignoreCanceled(g.Wait())
}

func startService(ctx context.Context, conn *dbus.Conn, srv services.Service) error {
	var errs *multierror.Error

	err := srv.Publish(ctx, conn)
	if err != nil {
		return err
	}

	err = srv.Start(ctx)
	if err != nil {
		errs = multierror.Append(errs, err)
	}

	err = bus.RequestName(conn, srv.BusName())
	if err != nil {
		errs = multierror.Append(errs, err)
	}

	if errs.ErrorOrNil() != nil {
		return fmt.Errorf("failed to start the %s service: %w", srv.Name(), errs)
	}

	slog.InfoContext(ctx, "Service is published", "service", srv.Name(), "name", srv.BusName())

	return nil
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}

	return err
}
