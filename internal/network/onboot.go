package network

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/osinstall/instconfd/internal/nm"
	"github.com/osinstall/instconfd/internal/task"
)

// Policies choosing the device activated on boot when none is.
const (
	OnBootNone               = "NONE"
	OnBootDefaultRouteDevice = "DEFAULT_ROUTE_DEVICE"
	OnBootFirstWiredWithLink = "FIRST_WIRED_WITH_LINK"
)

// OnBootOptions tunes the activation on boot task.
type OnBootOptions struct {
	// Policy picks a device when none was given and no profile autoconnects.
	Policy  string
	Timeout time.Duration
	Filter  nm.Filter
}

// ConfigureActivationOnBootTask makes the profiles of the devices autoconnect on the
// installed system.
type ConfigureActivationOnBootTask struct {
	*task.Base

	factory nm.Factory
	ifaces  []string
	opts    OnBootOptions

	carrier      func() ([]string, error)
	defaultRoute func() (string, error)
}

// NewConfigureActivationOnBootTask returns the task.
func NewConfigureActivationOnBootTask(factory nm.Factory, ifaces []string, opts OnBootOptions) *ConfigureActivationOnBootTask {
	return &ConfigureActivationOnBootTask{
		Base:         task.NewBase("Configure network devices activation on boot", 1),
		factory:      factory,
		ifaces:       ifaces,
		opts:         opts,
		carrier:      linksWithCarrier,
		defaultRoute: defaultRouteLink,
	}
}

// Run implements task.Task.
func (t *ConfigureActivationOnBootTask) Run(ctx context.Context) error {
	return nm.WithThreadClient(ctx, t.factory, func(client nm.Client) error {
		snap, err := nm.TakeSnapshot(ctx, client)
		if err != nil {
			return err
		}

		ifaces := slices.Clone(t.ifaces)
		if len(ifaces) == 0 && !t.anyAutoconnect(snap) {
			iface := t.defaultDevice(ctx, snap)
			if iface != "" {
				slog.InfoContext(ctx, "Activating device on boot by default", "iface", iface, "policy", t.opts.Policy)

				ifaces = append(ifaces, iface)
			}
		}

		var errs *multierror.Error

		for _, iface := range ifaces {
			for _, conn := range snap.ProfilesForIface(iface) {
				if !conn.IsPersistent() || conn.Settings.IsPort() || conn.Settings.Connection.Autoconnect {
					continue
				}

				slog.InfoContext(ctx, "Enabling activation on boot", "iface", iface, "uuid", conn.UUID())

				conn.Settings.Connection.Autoconnect = true

				err := nm.CommitConnection(ctx, client, &conn, t.opts.Timeout)
				if err != nil {
					errs = multierror.Append(errs, fmt.Errorf("%s: %w", iface, err))
				}
			}
		}

		err = errs.ErrorOrNil()
		if err != nil {
			slog.WarnContext(ctx, "Failed to enable activation on boot", "err", err)
		}

		return nil
	})
}

func (t *ConfigureActivationOnBootTask) anyAutoconnect(snap *nm.Snapshot) bool {
	for _, conn := range snap.Connections {
		ok, _ := t.opts.Filter.ConnectionSupported(&conn)
		if ok && conn.Settings.Connection.Autoconnect {
			return true
		}
	}

	return false
}

// defaultDevice returns the device picked by the policy, or an empty string.
func (t *ConfigureActivationOnBootTask) defaultDevice(ctx context.Context, snap *nm.Snapshot) string {
	switch t.opts.Policy {
	case OnBootDefaultRouteDevice:
		iface, err := t.defaultRoute()
		if err != nil {
			slog.WarnContext(ctx, "Failed to find the default route device", "err", err)

			return ""
		}

		return iface

	case OnBootFirstWiredWithLink:
		names, err := t.carrier()
		if err != nil {
			slog.WarnContext(ctx, "Failed to list the links", "err", err)

			return ""
		}

		devices := slices.Clone(snap.Devices)
		slices.SortFunc(devices, func(a nm.Device, b nm.Device) int { return strings.Compare(a.Interface, b.Interface) })

		for _, dev := range devices {
			if dev.Type == nm.DeviceTypeEthernet && slices.Contains(names, dev.Interface) {
				return dev.Interface
			}
		}
	}

	return ""
}
