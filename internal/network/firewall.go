package network

import (
	"context"
	"log/slog"
	"slices"

	"github.com/osinstall/instconfd/api"
	"github.com/osinstall/instconfd/internal/insterrors"
	"github.com/osinstall/instconfd/internal/task"
	"github.com/osinstall/instconfd/internal/util"
)

// FirewallOfflineCmd configures firewalld without it running.
const FirewallOfflineCmd = "/usr/bin/firewall-offline-cmd"

// ConfigureFirewallTask configures the firewall of the installed system.
type ConfigureFirewallTask struct {
	*task.Base

	sysroot  string
	firewall api.Firewall

	run func(ctx context.Context, sysroot string, args ...string) error
}

// NewConfigureFirewallTask returns the task.
func NewConfigureFirewallTask(sysroot string, fw api.Firewall) *ConfigureFirewallTask {
	return &ConfigureFirewallTask{
		Base:     task.NewBase("Configure the firewall", 1),
		sysroot:  sysroot,
		firewall: fw,
		run: func(ctx context.Context, sysroot string, args ...string) error {
			_, err := util.RunInRoot(ctx, sysroot, FirewallOfflineCmd, args...)

			return err
		},
	}
}

// Run implements task.Task.
func (t *ConfigureFirewallTask) Run(ctx context.Context) error {
	if t.firewall.Mode == api.FirewallModeUseSystemDefaults {
		slog.InfoContext(ctx, "Keeping the firewall configuration of the system")

		return nil
	}

	if !util.PathExists(util.JoinRoot(t.sysroot, FirewallOfflineCmd)) {
		if t.firewall.Mode == api.FirewallModeEnabled {
			return insterrors.Firewall(nil, "%s is missing, can't enable the firewall", FirewallOfflineCmd)
		}

		slog.InfoContext(ctx, "The firewall isn't installed, not configuring it")

		return nil
	}

	err := t.run(ctx, t.sysroot, FirewallArgs(t.firewall)...)
	if err != nil {
		return insterrors.Firewall(err, "failed to configure the firewall")
	}

	return nil
}

// FirewallArgs returns the firewall-offline-cmd arguments applying fw.
func FirewallArgs(fw api.Firewall) []string {
	args := []string{}

	if fw.Mode == api.FirewallModeDisabled {
		args = append(args, "--disabled")
	} else {
		args = append(args, "--enabled")
	}

	// SSH stays reachable unless it was explicitly disabled.
	if !slices.Contains(fw.EnabledServices, "ssh") && !slices.Contains(fw.DisabledServices, "ssh") &&
		!slices.Contains(fw.EnabledPorts, "22:tcp") {
		args = append(args, "--service=ssh")
	}

	for _, trust := range fw.Trusts {
		args = append(args, "--trust="+trust)
	}

	for _, port := range fw.EnabledPorts {
		args = append(args, "--port="+port)
	}

	for _, service := range fw.DisabledServices {
		args = append(args, "--remove-service="+service)
	}

	for _, service := range fw.EnabledServices {
		args = append(args, "--service="+service)
	}

	return args
}
