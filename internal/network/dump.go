package network

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/osinstall/instconfd/internal/bootopts"
	"github.com/osinstall/instconfd/internal/kickstart"
	"github.com/osinstall/instconfd/internal/nm"
	"github.com/osinstall/instconfd/internal/task"
)

// DumpOptions tunes the dump missing configuration files task.
type DumpOptions struct {
	// DefaultNetwork is the template of the profile written for devices without one.
	DefaultNetwork kickstart.NetworkData
	IfnameValues   []string
	Timeout        time.Duration
	Filter         nm.Filter

	// HostRoot prefixes the profile directories.
	HostRoot string
}

// DumpMissingConfigFilesTask makes sure every wired device has a profile stored on disk, so
// it gets copied to the installed system. Its result is the names of the devices it wrote
// a profile for.
type DumpMissingConfigFilesTask struct {
	*task.Base

	factory nm.Factory
	opts    DumpOptions

	dumped []string
}

// NewDumpMissingConfigFilesTask returns the task.
func NewDumpMissingConfigFilesTask(factory nm.Factory, opts DumpOptions) *DumpMissingConfigFilesTask {
	return &DumpMissingConfigFilesTask{
		Base:    task.NewBase("Dump missing network configuration files", 1),
		factory: factory,
		opts:    opts,
		dumped:  []string{},
	}
}

// Result returns the names of the devices a profile was written for.
func (t *DumpMissingConfigFilesTask) Result() []string {
	return t.dumped
}

// Run implements task.Task.
func (t *DumpMissingConfigFilesTask) Run(ctx context.Context) error {
	return nm.WithThreadClient(ctx, t.factory, func(client nm.Client) error {
		snap, err := nm.TakeSnapshot(ctx, client)
		if err != nil {
			return err
		}

		devices := slices.Clone(snap.Devices)
		slices.SortFunc(devices, func(a nm.Device, b nm.Device) int { return strings.Compare(a.Interface, b.Interface) })

		var errs *multierror.Error

		for i := range devices {
			dev := &devices[i]

			if dev.Type != nm.DeviceTypeEthernet && dev.Type != nm.DeviceTypeInfiniband {
				continue
			}

			ok, reason := t.opts.Filter.DeviceSupported(snap, dev)
			if !ok {
				slog.DebugContext(ctx, "Not dumping configuration of unsupported device", "iface", dev.Interface, "reason", reason)

				continue
			}

			dumped, err := t.dumpDevice(ctx, client, snap, dev)
			if err != nil {
				errs = multierror.Append(errs, fmt.Errorf("%s: %w", dev.Interface, err))

				continue
			}

			if dumped {
				t.dumped = append(t.dumped, dev.Interface)
			}
		}

		err = errs.ErrorOrNil()
		if err != nil {
			slog.WarnContext(ctx, "Some network configuration files couldn't be written", "err", err)
		}

		return nil
	})
}

func (t *DumpMissingConfigFilesTask) dumpDevice(ctx context.Context, client nm.Client, snap *nm.Snapshot, dev *nm.Device) (bool, error) {
	iface := dev.Interface
	candidates := candidateProfiles(snap, dev)

	hasInitramfs := false

	for _, conn := range candidates {
		if conn.IsInitramfs() {
			hasInitramfs = true

			continue
		}

		if conn.IsPersistent() && nm.FindProfileFile(t.opts.HostRoot, conn.UUID()) != "" {
			slog.DebugContext(ctx, "Device has a configuration file", "iface", iface, "uuid", conn.UUID())

			return false, nil
		}
	}

	conn := pickProfile(snap, dev, candidates)
	if conn == nil {
		slog.InfoContext(ctx, "Writing default configuration file", "iface", iface)

		data := t.opts.DefaultNetwork
		data.Device = iface
		data.OnBoot = data.OnBoot || hasInitramfs

		pending, err := nm.ConnectionsFromKickstart(data, nm.KickstartOptions{
			DeviceName:   iface,
			DeviceType:   dev.Type,
			IfnameValues: t.opts.IfnameValues,
		})
		if err != nil {
			return false, err
		}

		_, err = nm.AddConnection(ctx, client, pending[0].Settings, t.opts.Timeout)
		if err != nil {
			return false, err
		}

		return true, nil
	}

	s := conn.Settings.Clone()
	generic := s.Connection.InterfaceName == "" && (s.Wired == nil || s.Wired.MACAddress == "")

	s.Connection.ID = iface

	mac, renamed := bootopts.IfnameMAC(t.opts.IfnameValues, iface)
	if renamed {
		nm.BindConnection(&s, nm.BindToMAC, iface, mac, false)
		s.Connection.InterfaceName = iface
	} else {
		nm.BindConnection(&s, "", iface, "", true)
	}

	s.Connection.Autoconnect = true
	s.Connection.MultiConnect = 0
	s.Connection.WaitDeviceTimeout = -1

	if generic {
		// The initramfs profile applies to any device, keep it and write a copy bound to
		// this one.
		s.Connection.UUID = uuid.NewString()

		slog.InfoContext(ctx, "Writing configuration file from generic connection", "iface", iface, "from", conn.UUID(), "uuid", s.Connection.UUID)

		_, err := nm.AddConnection(ctx, client, s, t.opts.Timeout)
		if err != nil {
			return false, err
		}

		return true, nil
	}

	slog.InfoContext(ctx, "Writing configuration file from existing connection", "iface", iface, "uuid", conn.UUID())

	updated := *conn
	updated.Settings = s

	err := nm.CommitConnection(ctx, client, &updated, t.opts.Timeout)
	if err != nil {
		return false, err
	}

	return true, nil
}

// candidateProfiles returns the profiles which may configure the device, the generic ones
// active on it included.
func candidateProfiles(snap *nm.Snapshot, dev *nm.Device) []nm.Connection {
	ret := snap.ProfilesForIface(dev.Interface)

	add := func(conn *nm.Connection) {
		if conn == nil {
			return
		}

		if slices.ContainsFunc(ret, func(c nm.Connection) bool { return c.UUID() == conn.UUID() }) {
			return
		}

		ret = append(ret, *conn)
	}

	add(snap.ActiveProfile(dev))

	for _, conn := range snap.AvailableProfiles(dev) {
		add(&conn)
	}

	return slices.DeleteFunc(ret, func(conn nm.Connection) bool {
		return conn.Type() != nm.TypeEthernet && conn.Type() != nm.TypeInfiniband
	})
}

// pickProfile chooses the profile to write for the device: the active one, else a profile
// which isn't a port, else the lone initramfs profile.
func pickProfile(snap *nm.Snapshot, dev *nm.Device, candidates []nm.Connection) *nm.Connection {
	active := snap.ActiveProfile(dev)
	if active != nil {
		for i := range candidates {
			if candidates[i].UUID() == active.UUID() {
				return &candidates[i]
			}
		}
	}

	for i := range candidates {
		if !candidates[i].Settings.IsPort() {
			return &candidates[i]
		}
	}

	if len(candidates) == 1 && candidates[0].IsInitramfs() {
		return &candidates[0]
	}

	return nil
}
