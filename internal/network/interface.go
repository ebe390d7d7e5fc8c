package network

import (
	"context"
	"log/slog"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"

	"github.com/osinstall/instconfd/api"
	"github.com/osinstall/instconfd/internal/bus"
	"github.com/osinstall/instconfd/internal/task"
)

// Bus names of the service.
const (
	BusName       = "org.osinstall.Instconf.Network"
	ObjectPath    = dbus.ObjectPath("/org/osinstall/Instconf/Network")
	InterfaceName = "org.osinstall.Instconf.Network"
)

type kickstartMessage struct {
	Message    string
	LineNumber int32
}

type requirement struct {
	Type   string
	Name   string
	Reason string
}

type deviceConfiguration struct {
	DeviceName     string
	ConnectionUUID string
	DeviceType     string
}

type deviceConfigurationDiff struct {
	Old deviceConfiguration
	New deviceConfiguration
}

type firewall struct {
	Mode             string
	EnabledPorts     []string
	Trusts           []string
	EnabledServices  []string
	DisabledServices []string
}

// Interface publishes the service on the bus.
type Interface struct {
	ctx       context.Context //nolint:containedctx
	svc       *Service
	conn      bus.Exporter
	scheduler *bus.Scheduler
	props     *bus.Properties
	tasks     *task.Publisher
}

// NewInterface binds the service properties and signals. Method calls are run on the
// scheduler's main loop. Call Publish to export it.
func NewInterface(ctx context.Context, svc *Service, conn bus.Exporter, scheduler *bus.Scheduler) *Interface {
	i := &Interface{
		ctx:       ctx,
		svc:       svc,
		conn:      conn,
		scheduler: scheduler,
		props:     bus.NewProperties(conn, ObjectPath, InterfaceName),
		tasks:     task.NewPublisher(conn, scheduler, ObjectPath),
	}

	i.props.Define("Hostname", func() any { return svc.Hostname() })
	i.props.Define("Connected", func() any { return svc.Connected() })
	i.props.Define("Capabilities", func() any { return svc.Capabilities() })
	i.props.Define("DisableIPv6", func() any { return svc.Model().DisableIPv6 })
	i.props.Define("FirewallMode", func() any { return string(svc.Firewall().Mode) })
	i.props.Define("FirewallKickstarted", func() any { return svc.Firewall().Seen })
	i.props.Define("Firewall", func() any { return toFirewall(svc.Firewall()) })
	i.props.Define("DeviceConfigurations", func() any { return toDeviceConfigurations(svc.DeviceConfigurations()) })

	svc.HostnameChanged.Connect(func(string) { i.changed("Hostname") })
	svc.ConnectedChanged.Connect(func(bool) { i.changed("Connected") })
	svc.CapabilitiesChanged.Connect(func([]string) { i.changed("Capabilities") })
	svc.DisableIPv6Changed.Connect(func(bool) { i.changed("DisableIPv6") })
	svc.FirewallChanged.Connect(func(api.Firewall) {
		i.changed("FirewallMode")
		i.changed("FirewallKickstarted")
		i.changed("Firewall")
	})
	svc.DeviceConfigurationsChanged.Connect(i.deviceConfigurationsChanged)

	return i
}

// Publish exports the interface.
func (i *Interface) Publish() error {
	return bus.Publish(i.conn, bus.Object{
		Path:       ObjectPath,
		Interface:  InterfaceName,
		Methods:    &methods{i: i},
		Properties: i.props,
		Signals: []introspect.Signal{{
			Name: "DeviceConfigurationsChanged",
			Args: []introspect.Arg{{Name: "changes", Type: "a((sss)(sss))"}},
		}},
	})
}

// Properties returns the published property set.
func (i *Interface) Properties() *bus.Properties {
	return i.props
}

func (i *Interface) changed(name string) {
	i.props.Changed(name)

	if i.scheduler == nil {
		_ = i.props.Flush()

		return
	}

	i.scheduler.RunOnMain(func() { _ = i.props.Flush() })
}

func (i *Interface) deviceConfigurationsChanged(diffs []api.DeviceConfigurationDiff) {
	i.changed("DeviceConfigurations")

	changes := make([]deviceConfigurationDiff, 0, len(diffs))
	for _, diff := range diffs {
		changes = append(changes, deviceConfigurationDiff{
			Old: toDeviceConfiguration(diff.Old),
			New: toDeviceConfiguration(diff.New),
		})
	}

	err := i.conn.Emit(ObjectPath, InterfaceName+".DeviceConfigurationsChanged", changes)
	if err != nil {
		slog.WarnContext(i.ctx, "Failed to emit device configuration changes", "err", err)
	}
}

func onMain[T any](i *Interface, fn func() (T, error)) (T, *dbus.Error) {
	var (
		v   T
		err error
	)

	if i.scheduler == nil {
		v, err = fn()
	} else {
		v, err = bus.CallOnMain(i.scheduler, fn)
	}

	if err != nil {
		return v, dbus.MakeFailedError(err)
	}

	return v, nil
}

func (i *Interface) publishTask(t task.Task, err error) (dbus.ObjectPath, error) {
	if err != nil {
		return "", err
	}

	paths, err := i.tasks.Publish(i.ctx, []task.Task{t})
	if err != nil {
		return "", err
	}

	return paths[0], nil
}

// methods holds the D-Bus methods of the interface.
type methods struct {
	i *Interface
}

// ReadKickstart processes the kickstart and returns its errors and warnings.
func (m *methods) ReadKickstart(content string) ([]kickstartMessage, []kickstartMessage, *dbus.Error) {
	report, dErr := onMain(m.i, func() (api.KickstartReport, error) {
		return m.i.svc.ReadKickstart(content), nil
	})

	return toMessages(report.Errors), toMessages(report.Warnings), dErr
}

// GenerateKickstart returns the kickstart of the service.
func (m *methods) GenerateKickstart() (string, *dbus.Error) {
	return onMain(m.i, func() (string, error) { return m.i.svc.GenerateKickstart(m.i.ctx), nil })
}

// CollectRequirements returns the packages the installed system needs.
func (m *methods) CollectRequirements() ([]requirement, *dbus.Error) {
	return onMain(m.i, func() ([]requirement, error) {
		ret := []requirement{}
		for _, r := range m.i.svc.CollectRequirements() {
			ret = append(ret, requirement{Type: r.Type, Name: r.Name, Reason: r.Reason})
		}

		return ret, nil
	})
}

// InstallWithTasks publishes the installation tasks.
func (m *methods) InstallWithTasks(sysroot string, overwrite bool) ([]dbus.ObjectPath, *dbus.Error) {
	return onMain(m.i, func() ([]dbus.ObjectPath, error) {
		return m.i.tasks.Publish(m.i.ctx, m.i.svc.InstallWithTasks(m.i.ctx, sysroot, overwrite))
	})
}

// ApplyKickstartWithTask publishes the task applying the kickstart to the installer.
func (m *methods) ApplyKickstartWithTask() (dbus.ObjectPath, *dbus.Error) {
	return onMain(m.i, func() (dbus.ObjectPath, error) {
		return m.i.publishTask(m.i.svc.ApplyKickstartWithTask())
	})
}

// DumpMissingConfigFilesWithTask publishes the task writing the missing profiles.
func (m *methods) DumpMissingConfigFilesWithTask() (dbus.ObjectPath, *dbus.Error) {
	return onMain(m.i, func() (dbus.ObjectPath, error) {
		return m.i.publishTask(m.i.svc.DumpMissingConfigFilesWithTask())
	})
}

// ConfigureActivationOnBootWithTask publishes the task enabling activation on boot.
func (m *methods) ConfigureActivationOnBootWithTask(ifaces []string) (dbus.ObjectPath, *dbus.Error) {
	return onMain(m.i, func() (dbus.ObjectPath, error) {
		return m.i.publishTask(m.i.svc.ConfigureActivationOnBootWithTask(ifaces))
	})
}

// GetDracutArguments returns the kernel arguments for root on a network device.
func (m *methods) GetDracutArguments(iface string, targetIP string, hostname string, ibft bool) ([]string, *dbus.Error) {
	return onMain(m.i, func() ([]string, error) {
		return m.i.svc.GetDracutArguments(m.i.ctx, iface, targetIP, hostname, ibft)
	})
}

// GetDeviceConfigurations returns the device configurations.
func (m *methods) GetDeviceConfigurations() ([]deviceConfiguration, *dbus.Error) {
	return onMain(m.i, func() ([]deviceConfiguration, error) {
		return toDeviceConfigurations(m.i.svc.DeviceConfigurations()), nil
	})
}

// SetHostname sets the hostname of the installed system.
func (m *methods) SetHostname(hostname string) *dbus.Error {
	_, err := onMain(m.i, func() (struct{}, error) {
		return struct{}{}, m.i.svc.SetHostname(hostname)
	})

	return err
}

// SetCurrentHostname sets the hostname of the running installer.
func (m *methods) SetCurrentHostname(hostname string) *dbus.Error {
	_, err := onMain(m.i, func() (struct{}, error) {
		return struct{}{}, m.i.svc.SetCurrentHostname(m.i.ctx, hostname)
	})

	return err
}

// SetDisableIPv6 sets whether IPv6 gets disabled on the installed system.
func (m *methods) SetDisableIPv6(disable bool) *dbus.Error {
	_, err := onMain(m.i, func() (struct{}, error) {
		m.i.svc.SetDisableIPv6(disable)

		return struct{}{}, nil
	})

	return err
}

// SetFirewall sets the firewall configuration.
func (m *methods) SetFirewall(fw firewall) *dbus.Error {
	_, err := onMain(m.i, func() (struct{}, error) {
		updated := fromFirewall(fw)
		updated.Seen = m.i.svc.Firewall().Seen

		return struct{}{}, m.i.svc.SetFirewall(updated)
	})

	return err
}

// NetworkDeviceConfigurationChanged tells the configuration was changed from the installer.
func (m *methods) NetworkDeviceConfigurationChanged() *dbus.Error {
	_, err := onMain(m.i, func() (struct{}, error) {
		m.i.svc.NetworkDeviceConfigurationChanged()

		return struct{}{}, nil
	})

	return err
}

func toMessages(msgs []api.KickstartMessage) []kickstartMessage {
	ret := make([]kickstartMessage, 0, len(msgs))
	for _, msg := range msgs {
		ret = append(ret, kickstartMessage{Message: msg.Message, LineNumber: int32(msg.LineNumber)}) //nolint:gosec
	}

	return ret
}

func toDeviceConfiguration(cfg api.DeviceConfiguration) deviceConfiguration {
	return deviceConfiguration{
		DeviceName:     cfg.DeviceName,
		ConnectionUUID: cfg.ConnectionUUID,
		DeviceType:     string(cfg.DeviceType),
	}
}

func toDeviceConfigurations(cfgs []api.DeviceConfiguration) []deviceConfiguration {
	ret := make([]deviceConfiguration, 0, len(cfgs))
	for _, cfg := range cfgs {
		ret = append(ret, toDeviceConfiguration(cfg))
	}

	return ret
}

func toFirewall(fw api.Firewall) firewall {
	return firewall{
		Mode:             string(fw.Mode),
		EnabledPorts:     nonNil(fw.EnabledPorts),
		Trusts:           nonNil(fw.Trusts),
		EnabledServices:  nonNil(fw.EnabledServices),
		DisabledServices: nonNil(fw.DisabledServices),
	}
}

func fromFirewall(fw firewall) api.Firewall {
	return api.Firewall{
		Mode:             api.FirewallMode(fw.Mode),
		EnabledPorts:     nonNil(fw.EnabledPorts),
		Trusts:           nonNil(fw.Trusts),
		EnabledServices:  nonNil(fw.EnabledServices),
		DisabledServices: nonNil(fw.DisabledServices),
	}
}
