package network

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/asaskevich/govalidator"
	"github.com/hashicorp/go-multierror"

	"github.com/osinstall/instconfd/internal/bootopts"
	"github.com/osinstall/instconfd/internal/kickstart"
	"github.com/osinstall/instconfd/internal/nm"
	"github.com/osinstall/instconfd/internal/task"
)

// Special --device values.
const (
	DeviceSpecBootif = "bootif"
	DeviceSpecLink   = "link"
)

// ApplyOptions tunes the apply kickstart task.
type ApplyOptions struct {
	// DefaultDevice is used for commands without --device.
	DefaultDevice string
	Bootif        string
	IfnameValues  []string
	Timeout       time.Duration
	Filter        nm.Filter
	S390          bool
}

// ApplyKickstartTask configures the running installer from the kickstart network commands.
// Its result is the names of the configured devices.
type ApplyKickstartTask struct {
	*task.Base

	factory nm.Factory
	network []kickstart.NetworkData
	opts    ApplyOptions

	carrier func() ([]string, error)
	applied []string
}

// NewApplyKickstartTask returns the task.
func NewApplyKickstartTask(factory nm.Factory, network []kickstart.NetworkData, opts ApplyOptions) *ApplyKickstartTask {
	return &ApplyKickstartTask{
		Base:    task.NewBase("Apply kickstart network configuration", len(network)),
		factory: factory,
		network: network,
		opts:    opts,
		carrier: linksWithCarrier,
		applied: []string{},
	}
}

// Result returns the names of the configured devices.
func (t *ApplyKickstartTask) Result() []string {
	return t.applied
}

// Run implements task.Task.
func (t *ApplyKickstartTask) Run(ctx context.Context) error {
	if len(t.network) == 0 {
		slog.DebugContext(ctx, "No network commands to apply")

		return nil
	}

	return nm.WithThreadClient(ctx, t.factory, func(client nm.Client) error {
		var errs *multierror.Error

		for _, data := range t.network {
			t.ReportProgress(fmt.Sprintf("Applying network command on line %d", data.LineNumber))

			if data.IsHostnameOnly() {
				continue
			}

			if data.ESSID != "" {
				slog.InfoContext(ctx, "Skipping wireless network command", "line", data.LineNumber)

				continue
			}

			snap, err := nm.TakeSnapshot(ctx, client)
			if err != nil {
				return err
			}

			spec := data.Device
			if spec == "" {
				spec = t.opts.DefaultDevice
			}

			iface := t.resolveDevice(ctx, snap, spec)
			if iface == "" && isVirtual(data) {
				iface = spec
			}

			if iface == "" {
				slog.WarnContext(ctx, "Can't find the device of the network command, skipping", "device", spec, "line", data.LineNumber)

				continue
			}

			err = t.apply(ctx, client, snap, data, iface)
			if err != nil {
				errs = multierror.Append(errs, fmt.Errorf("%s: %w", iface, err))

				continue
			}

			t.applied = append(t.applied, iface)
		}

		err := errs.ErrorOrNil()
		if err != nil {
			slog.WarnContext(ctx, "Some network commands couldn't be applied", "err", err)
		}

		return nil
	})
}

func (t *ApplyKickstartTask) apply(ctx context.Context, client nm.Client, snap *nm.Snapshot, data kickstart.NetworkData, iface string) error {
	dev := snap.Device(iface)

	if !isVirtual(data) {
		existing := initramfsProfile(snap, iface)
		if existing != nil {
			slog.InfoContext(ctx, "Updating connection created in initramfs from kickstart", "iface", iface, "uuid", existing.UUID())

			update := nm.KickstartUpdate{Data: data, DeviceName: iface}
			update.BoundMAC, _ = bootopts.IfnameMAC(t.opts.IfnameValues, iface)

			if dev != nil {
				update.MAC = dev.MAC()
			}

			err := nm.UpdateFromKickstart(ctx, client, existing, update, t.opts.Timeout)
			if err != nil {
				return err
			}

			if data.Activate {
				return t.activate(ctx, client, existing.Path, dev)
			}

			return nil
		}
	}

	opts := nm.KickstartOptions{
		DeviceName:   iface,
		DeviceType:   nm.DeviceTypeEthernet,
		IfnameValues: t.opts.IfnameValues,
		MACOf: func(name string) string {
			d := snap.Device(name)
			if d == nil {
				return ""
			}

			return d.MAC()
		},
	}

	if dev != nil {
		opts.DeviceType = dev.Type

		if t.opts.S390 {
			opts.S390 = nm.ReadS390Settings(t.opts.Filter.SysfsRoot, dev)
		}
	}

	pending, err := nm.ConnectionsFromKickstart(data, opts)
	if err != nil {
		return err
	}

	var errs *multierror.Error

	for i, p := range pending {
		slog.InfoContext(ctx, "Adding connection from kickstart", "id", p.Settings.Connection.ID, "iface", iface)

		conn, err := nm.AddConnection(ctx, client, p.Settings, t.opts.Timeout)
		if err != nil {
			errs = multierror.Append(errs, err)

			continue
		}

		// Only the main profile is activated, ports follow their controller.
		if i == 0 && data.Activate {
			var target *nm.Device
			if p.Device != "" {
				target = snap.Device(p.Device)
			}

			err := t.activate(ctx, client, conn.Path, target)
			if err != nil {
				errs = multierror.Append(errs, err)
			}
		}
	}

	return errs.ErrorOrNil()
}

func (t *ApplyKickstartTask) activate(ctx context.Context, client nm.Client, conn string, dev *nm.Device) error {
	devPath := ""
	if dev != nil {
		devPath = dev.Path
	}

	slog.InfoContext(ctx, "Activating connection", "path", conn, "device", devPath)

	return client.ActivateConnection(ctx, conn, devPath)
}

// resolveDevice returns the interface name the --device value designates, or an empty
// string.
func (t *ApplyKickstartTask) resolveDevice(ctx context.Context, snap *nm.Snapshot, spec string) string {
	switch {
	case spec == "":
		return ""

	case strings.EqualFold(spec, DeviceSpecBootif):
		if t.opts.Bootif == "" {
			slog.WarnContext(ctx, "--device=bootif given without the BOOTIF boot option")

			return ""
		}

		return deviceWithMAC(snap, t.opts.Bootif)

	case spec == DeviceSpecLink:
		names, err := t.carrier()
		if err != nil {
			slog.WarnContext(ctx, "Failed to list the links, using NetworkManager carrier state", "err", err)

			names = []string{}

			for _, dev := range snap.Devices {
				if dev.Carrier {
					names = append(names, dev.Interface)
				}
			}

			slices.Sort(names)
		}

		for _, name := range names {
			dev := snap.Device(name)
			if dev == nil {
				continue
			}

			ok, _ := t.opts.Filter.DeviceSupported(snap, dev)
			if ok && dev.Type != nm.DeviceTypeWifi {
				return name
			}
		}

		return ""

	case govalidator.IsMAC(spec):
		return deviceWithMAC(snap, spec)

	default:
		if snap.Device(spec) != nil {
			return spec
		}

		return ""
	}
}

func deviceWithMAC(snap *nm.Snapshot, mac string) string {
	for _, dev := range snap.Devices {
		if strings.EqualFold(dev.MAC(), mac) || strings.EqualFold(dev.HwAddress, mac) {
			return dev.Interface
		}
	}

	return ""
}

// initramfsProfile returns the profile generated in the initramfs for iface, or nil.
func initramfsProfile(snap *nm.Snapshot, iface string) *nm.Connection {
	for _, conn := range snap.ProfilesForIface(iface) {
		if conn.IsInitramfs() && !conn.Settings.IsPort() {
			return &conn
		}
	}

	return nil
}

// isVirtual reports whether the command creates its device.
func isVirtual(data kickstart.NetworkData) bool {
	return data.VlanID != "" || data.BondSlaves != "" || data.BridgeSlaves != "" || len(data.TeamSlaves) > 0
}
