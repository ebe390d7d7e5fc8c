// Package network implements the Network service: device configuration tracking,
// kickstart network and firewall handling and the network configuration of the installed
// system.
package network

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/osinstall/instconfd/api"
	"github.com/osinstall/instconfd/internal/bootopts"
	"github.com/osinstall/instconfd/internal/bus"
	"github.com/osinstall/instconfd/internal/config"
	"github.com/osinstall/instconfd/internal/kickstart"
	"github.com/osinstall/instconfd/internal/nm"
	"github.com/osinstall/instconfd/internal/systemd"
	"github.com/osinstall/instconfd/internal/task"
)

var validate = validator.New()

// Options holds the collaborators of the service.
type Options struct {
	// Client is used from the main loop. It is nil when NetworkManager isn't available.
	Client nm.Client

	// Factory opens the clients of the worker tasks.
	Factory nm.Factory

	Boot *bootopts.Options
}

// Service holds the network model.
type Service struct {
	mu    sync.Mutex
	model api.Network

	connected    bool
	capabilities []string

	// Network commands of the kickstart, replayed when the device configurations weren't
	// changed from the installer.
	original                []kickstart.NetworkData
	useDeviceConfigurations bool

	cfg       *config.Config
	scheduler *bus.Scheduler
	client    nm.Client
	factory   nm.Factory
	boot      *bootopts.Options
	filter    nm.Filter
	tracker   *Tracker

	setCurrentHostname func(ctx context.Context, hostname string) error

	HostnameChanged             bus.Signal[string]
	ConnectedChanged            bus.Signal[bool]
	CapabilitiesChanged         bus.Signal[[]string]
	FirewallChanged             bus.Signal[api.Firewall]
	DisableIPv6Changed          bus.Signal[bool]
	DeviceConfigurationsChanged bus.Signal[[]api.DeviceConfigurationDiff]
}

// New returns the service with the model seeded from the boot options. A nil scheduler
// applies task results on the task goroutine.
func New(cfg *config.Config, scheduler *bus.Scheduler, opts Options) *Service {
	boot := opts.Boot
	if boot == nil {
		boot = bootopts.Parse("")
	}

	s := &Service{
		cfg:       cfg,
		scheduler: scheduler,
		client:    opts.Client,
		factory:   opts.Factory,
		boot:      boot,
		filter:    nm.Filter{SysfsRoot: cfg.System.HostRoot},
		model: api.Network{
			DisableIPv6:                boot.NoIPv6(),
			DefaultDeviceSpecification: boot.KSDevice(),
			Bootif:                     boot.Bootif(),
			IfnameOptionValues:         boot.IfnameValues(),
			Firewall:                   newFirewall(),
		},
		capabilities:       []string{},
		setCurrentHostname: systemd.SetHostname,
	}

	if s.client != nil {
		s.tracker = NewTracker(s.client, s.filter, scheduler)
		s.tracker.ConfigurationsChanged.Connect(func(diffs []api.DeviceConfigurationDiff) {
			s.DeviceConfigurationsChanged.Emit(diffs)
		})
	}

	return s
}

func newFirewall() api.Firewall {
	return api.Firewall{
		Mode:             api.FirewallModeDefault,
		EnabledPorts:     []string{},
		Trusts:           []string{},
		EnabledServices:  []string{},
		DisabledServices: []string{},
	}
}

// Start loads the device configurations and follows NetworkManager. It does nothing when
// NetworkManager isn't available.
func (s *Service) Start(ctx context.Context) error {
	if s.client == nil {
		slog.InfoContext(ctx, "NetworkManager isn't available, device configurations won't be tracked")

		return nil
	}

	err := s.tracker.Reload(ctx)
	if err != nil {
		return fmt.Errorf("failed to load device configurations: %w", err)
	}

	s.tracker.Watch(ctx, s.client.Events(), func(ev nm.Event) {
		if ev.Kind == nm.EventConnectivityChanged {
			s.refreshConnectivity(ctx)
		}
	})

	s.refreshConnectivity(ctx)
	s.refreshCapabilities(ctx)

	return nil
}

func (s *Service) refreshConnectivity(ctx context.Context) {
	state, err := s.client.Connectivity(ctx)
	if err != nil {
		slog.WarnContext(ctx, "Failed to read the connectivity state", "err", err)

		return
	}

	connected := state == nm.ConnectivityFull

	s.mu.Lock()
	changed := s.connected != connected
	s.connected = connected
	s.mu.Unlock()

	if changed {
		slog.DebugContext(ctx, "Connectivity changed", "connected", connected)
		s.ConnectedChanged.Emit(connected)
	}
}

func (s *Service) refreshCapabilities(ctx context.Context) {
	caps := []string{}

	team, err := nm.HasCapability(ctx, s.client, nm.CapabilityTeam)
	if err != nil {
		slog.WarnContext(ctx, "Failed to read NetworkManager capabilities", "err", err)
	}

	if team {
		caps = append(caps, "team")
	}

	s.mu.Lock()
	s.capabilities = caps
	s.mu.Unlock()

	s.CapabilitiesChanged.Emit(caps)
}

// Model returns a copy of the current model.
func (s *Service) Model() api.Network {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.model
	m.IfnameOptionValues = slices.Clone(s.model.IfnameOptionValues)
	m.Firewall = cloneFirewall(s.model.Firewall)

	return m
}

// Hostname returns the hostname of the installed system.
func (s *Service) Hostname() string {
	return s.Model().Hostname
}

// ValidateHostname checks a static hostname. Empty means unset.
func ValidateHostname(hostname string) error {
	if strings.Contains(hostname, "_") {
		return fmt.Errorf("invalid hostname %q: underscores aren't allowed", hostname)
	}

	err := validate.Var(hostname, "omitempty,hostname_rfc1123")
	if err != nil {
		return fmt.Errorf("invalid hostname %q", hostname)
	}

	return nil
}

// SetHostname sets the hostname of the installed system.
func (s *Service) SetHostname(hostname string) error {
	err := ValidateHostname(hostname)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.model.Hostname = hostname
	s.mu.Unlock()

	slog.Debug("Hostname is set", "hostname", hostname)
	s.HostnameChanged.Emit(hostname)

	return nil
}

// SetCurrentHostname sets the hostname of the running installer.
func (s *Service) SetCurrentHostname(ctx context.Context, hostname string) error {
	err := ValidateHostname(hostname)
	if err != nil {
		return err
	}

	return s.setCurrentHostname(ctx, hostname)
}

// SetDisableIPv6 sets whether IPv6 is disabled on the installed system.
func (s *Service) SetDisableIPv6(disable bool) {
	s.mu.Lock()
	s.model.DisableIPv6 = disable
	s.mu.Unlock()

	s.DisableIPv6Changed.Emit(disable)
}

// Connected reports whether the installer has full connectivity.
func (s *Service) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.connected
}

// Capabilities returns the optional NetworkManager features available.
func (s *Service) Capabilities() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return slices.Clone(s.capabilities)
}

// Firewall returns the firewall configuration.
func (s *Service) Firewall() api.Firewall {
	return s.Model().Firewall
}

// SetFirewall sets the firewall configuration.
func (s *Service) SetFirewall(fw api.Firewall) error {
	switch fw.Mode {
	case api.FirewallModeDefault, api.FirewallModeDisabled, api.FirewallModeEnabled, api.FirewallModeUseSystemDefaults:
	default:
		return fmt.Errorf("invalid firewall mode %q", fw.Mode)
	}

	fw = cloneFirewall(fw)

	s.mu.Lock()
	s.model.Firewall = fw
	s.mu.Unlock()

	slog.Debug("Firewall is set", "mode", fw.Mode)
	s.FirewallChanged.Emit(fw)

	return nil
}

// DeviceConfigurations returns the tracked device configurations.
func (s *Service) DeviceConfigurations() []api.DeviceConfiguration {
	if s.tracker == nil {
		return []api.DeviceConfiguration{}
	}

	return s.tracker.Configurations()
}

// NetworkDeviceConfigurationChanged makes the kickstart be generated from the device
// configurations instead of the original network commands.
func (s *Service) NetworkDeviceConfigurationChanged() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.useDeviceConfigurations = true
}

// ProcessKickstart applies the network and firewall commands to the model.
func (s *Service) ProcessKickstart(data *kickstart.Data) error {
	hostname := ""
	line := 0

	for _, nd := range data.Network {
		if nd.Hostname != "" {
			hostname = nd.Hostname
			line = nd.LineNumber
		}
	}

	if hostname != "" {
		err := s.SetHostname(hostname)
		if err != nil {
			return &kickstart.ParseError{LineNumber: line, Message: err.Error()}
		}
	}

	s.mu.Lock()
	s.original = slices.Clone(data.Network)
	s.mu.Unlock()

	if data.Firewall.Seen {
		err := s.SetFirewall(firewallFromKickstart(data.Firewall))
		if err != nil {
			return &kickstart.ParseError{LineNumber: data.Firewall.LineNumber, Message: err.Error()}
		}
	}

	return nil
}

// SetupKickstart fills the network and firewall commands from the model.
func (s *Service) SetupKickstart(ctx context.Context, data *kickstart.Data) {
	m := s.Model()

	lines := s.networkLines(ctx)

	if m.Hostname != "" {
		found := false

		for i := range lines {
			if lines[i].Hostname != "" {
				lines[i].Hostname = m.Hostname
				found = true
			}
		}

		if !found {
			lines = append(lines, kickstart.NetworkHostnameData(m.Hostname))
		}
	}

	data.Network = lines
	data.Firewall = firewallToKickstart(m.Firewall)
}

// networkLines returns the network commands: the original ones, or the ones describing the
// persistent profiles of the device configurations once those were changed.
func (s *Service) networkLines(ctx context.Context) []kickstart.NetworkData {
	s.mu.Lock()
	useDevices := s.useDeviceConfigurations
	original := slices.Clone(s.original)
	s.mu.Unlock()

	if !useDevices || s.client == nil {
		return original
	}

	snap, err := nm.TakeSnapshot(ctx, s.client)
	if err != nil {
		slog.WarnContext(ctx, "Failed to read NetworkManager state, using the original network commands", "err", err)

		return original
	}

	lines := []kickstart.NetworkData{}

	for _, cfg := range s.tracker.Configurations() {
		if cfg.ConnectionUUID == "" {
			continue
		}

		conn := snap.Connection(cfg.ConnectionUUID)
		if conn == nil || !conn.IsPersistent() {
			continue
		}

		nd := nm.KickstartNetworkData(snap, conn)
		if nd == nil {
			continue
		}

		if nd.Device == "" {
			nd.Device = cfg.DeviceName
		}

		lines = append(lines, *nd)
	}

	return lines
}

// ReadKickstart parses the kickstart and applies it.
func (s *Service) ReadKickstart(content string) api.KickstartReport {
	data, err := kickstart.ParseString(content)
	if err != nil {
		return kickstart.Report(nil, err)
	}

	return kickstart.Report(data, s.ProcessKickstart(data))
}

// GenerateKickstart returns the network and firewall commands.
func (s *Service) GenerateKickstart(ctx context.Context) string {
	data := &kickstart.Data{}
	s.SetupKickstart(ctx, data)

	return data.String()
}

// CollectRequirements returns the packages the installed system needs.
func (s *Service) CollectRequirements() []api.Requirement {
	reqs := []api.Requirement{
		api.PackageRequirement("NetworkManager", "Necessary for network infrastructure."),
	}

	configs := s.DeviceConfigurations()

	hasType := func(devType api.DeviceType) bool {
		return slices.ContainsFunc(configs, func(cfg api.DeviceConfiguration) bool { return cfg.DeviceType == devType })
	}

	s.mu.Lock()
	teamInKickstart := slices.ContainsFunc(s.original, func(nd kickstart.NetworkData) bool { return len(nd.TeamSlaves) > 0 })
	s.mu.Unlock()

	if hasType(api.DeviceTypeWifi) {
		reqs = append(reqs, api.PackageRequirement("NetworkManager-wifi", "Necessary for network infrastructure."))
	}

	if hasType(api.DeviceTypeTeam) || teamInKickstart {
		reqs = append(reqs, api.PackageRequirement("teamd", "Necessary for network team device configuration."))
	}

	if s.Firewall().Seen {
		reqs = append(reqs, api.PackageRequirement("firewalld", "Requested by the firewall kickstart command."))
	}

	return reqs
}

// InstallWithTasks returns the tasks configuring the network of the installed system.
func (s *Service) InstallWithTasks(ctx context.Context, sysroot string, overwrite bool) []task.Task {
	m := s.Model()

	return []task.Task{
		NewHostnameConfigurationTask(sysroot, m.Hostname, overwrite),
		NewNetworkInstallationTask(s.installOptions(ctx, sysroot, overwrite)),
		NewConfigureFirewallTask(sysroot, m.Firewall),
	}
}

func (s *Service) installOptions(ctx context.Context, sysroot string, overwrite bool) InstallOptions {
	m := s.Model()

	opts := InstallOptions{
		Sysroot:                        sysroot,
		HostRoot:                       s.cfg.System.HostRoot,
		Overwrite:                      overwrite,
		DisableIPv6:                    m.DisableIPv6,
		IfnameValues:                   m.IfnameOptionValues,
		ConfigurePersistentDeviceNames: s.configurePersistentDeviceNames(),
		ProvidesResolverConfig:         s.cfg.System.ProvidesResolverConfig,
		DNSBackend:                     s.boot.DNSBackend(),
	}

	if s.client == nil {
		return opts
	}

	snap, err := nm.TakeSnapshot(ctx, s.client)
	if err != nil {
		slog.WarnContext(ctx, "Failed to read NetworkManager state", "err", err)

		return opts
	}

	for _, dev := range snap.Devices {
		opts.NetworkIfaces = append(opts.NetworkIfaces, dev.Interface)
	}

	// IPv6 is only disabled if no wired device is configured to use it.
	if opts.DisableIPv6 && !devicesIgnoreIPv6(snap) {
		slog.InfoContext(ctx, "Not disabling IPv6 on the installed system, a device uses it")

		opts.DisableIPv6 = false
	}

	return opts
}

func (s *Service) configurePersistentDeviceNames() bool {
	ifnames, ok := s.boot.Get("net.ifnames")
	if ok && ifnames == "0" {
		return false
	}

	biosdevname, ok := s.boot.Get("biosdevname")

	return !ok || biosdevname != "1"
}

func devicesIgnoreIPv6(snap *nm.Snapshot) bool {
	for i := range snap.Devices {
		dev := &snap.Devices[i]
		if dev.Type != nm.DeviceTypeEthernet && dev.Type != nm.DeviceTypeInfiniband {
			continue
		}

		for _, conn := range snap.ProfilesForIface(dev.Interface) {
			ipv6 := conn.Settings.IPv6
			if ipv6 != nil && ipv6.Method != nm.MethodIgnore && ipv6.Method != nm.MethodDisabled {
				return false
			}
		}
	}

	return true
}

// ApplyKickstartWithTask returns the task applying the kickstart network commands to the
// running installer.
func (s *Service) ApplyKickstartWithTask() (task.Task, error) {
	err := s.requireNetworkManager()
	if err != nil {
		return nil, err
	}

	m := s.Model()

	s.mu.Lock()
	original := slices.Clone(s.original)
	s.mu.Unlock()

	return NewApplyKickstartTask(s.factory, original, ApplyOptions{
		DefaultDevice: m.DefaultDeviceSpecification,
		Bootif:        m.Bootif,
		IfnameValues:  m.IfnameOptionValues,
		Timeout:       s.cfg.Network.AddConnectionTimeout,
		Filter:        s.filter,
		S390:          s.cfg.System.IsS390(),
	}), nil
}

// DumpMissingConfigFilesWithTask returns the task writing a profile for every device
// without a persistent one.
func (s *Service) DumpMissingConfigFilesWithTask() (task.Task, error) {
	err := s.requireNetworkManager()
	if err != nil {
		return nil, err
	}

	m := s.Model()

	t := NewDumpMissingConfigFilesTask(s.factory, DumpOptions{
		DefaultNetwork: defaultNetworkData(),
		IfnameValues:   m.IfnameOptionValues,
		Timeout:        s.cfg.Network.UpdateTimeout,
		Filter:         s.filter,
		HostRoot:       s.cfg.System.HostRoot,
	})

	return t, nil
}

// ConfigureActivationOnBootWithTask returns the task enabling autoconnect of the profiles
// of the devices.
func (s *Service) ConfigureActivationOnBootWithTask(ifaces []string) (task.Task, error) {
	err := s.requireNetworkManager()
	if err != nil {
		return nil, err
	}

	return NewConfigureActivationOnBootTask(s.factory, ifaces, OnBootOptions{
		Policy:  s.cfg.Network.DefaultOnBoot,
		Timeout: s.cfg.Network.UpdateTimeout,
		Filter:  s.filter,
	}), nil
}

// GetDracutArguments returns the kernel arguments configuring iface in the initramfs of the
// installed system, for root on a network target.
func (s *Service) GetDracutArguments(ctx context.Context, iface string, targetIP string, hostname string, ibft bool) ([]string, error) {
	err := s.requireNetworkManager()
	if err != nil {
		return nil, err
	}

	snap, err := nm.TakeSnapshot(ctx, s.client)
	if err != nil {
		return nil, err
	}

	var conn *nm.Connection

	dev := snap.Device(iface)
	if dev != nil {
		conn = snap.ActiveProfile(dev)
	}

	if conn == nil {
		for _, c := range snap.ProfilesForIface(iface) {
			if c.IsPersistent() && !c.Settings.IsPort() {
				conn = &c

				break
			}
		}
	}

	if conn == nil {
		if ibft {
			return []string{"rd.iscsi.ibft"}, nil
		}

		return nil, fmt.Errorf("no connection found for %q", iface)
	}

	return nm.DracutArguments(ctx, snap, conn, iface, nm.DracutOptions{
		TargetIP: targetIP,
		Hostname: hostname,
		IBFT:     ibft,
		S390:     s.cfg.System.IsS390(),
	}), nil
}

func (s *Service) requireNetworkManager() error {
	if s.client == nil || s.factory == nil || !s.cfg.System.CanConfigureNetwork {
		return errors.New("network configuration isn't available in this environment")
	}

	return nil
}

// defaultNetworkData is the network command used for devices without any profile.
func defaultNetworkData() kickstart.NetworkData {
	data := kickstart.NewNetworkData()
	data.BootProto = "dhcp"
	data.OnBoot = false

	return data
}

func firewallFromKickstart(data kickstart.FirewallData) api.Firewall {
	fw := newFirewall()
	fw.Seen = true

	switch {
	case data.UseSystemDefaults:
		fw.Mode = api.FirewallModeUseSystemDefaults
	case data.Enabled:
		fw.Mode = api.FirewallModeEnabled
	default:
		fw.Mode = api.FirewallModeDisabled
	}

	fw.EnabledPorts = append(fw.EnabledPorts, data.Ports...)
	fw.Trusts = append(fw.Trusts, data.Trusts...)
	fw.EnabledServices = append(fw.EnabledServices, data.Services...)
	fw.DisabledServices = append(fw.DisabledServices, data.RemoveServices...)

	return fw
}

func firewallToKickstart(fw api.Firewall) kickstart.FirewallData {
	return kickstart.FirewallData{
		Seen:              fw.Seen || fw.Mode != api.FirewallModeDefault,
		Enabled:           fw.Mode != api.FirewallModeDisabled,
		UseSystemDefaults: fw.Mode == api.FirewallModeUseSystemDefaults,
		Ports:             fw.EnabledPorts,
		Trusts:            fw.Trusts,
		Services:          fw.EnabledServices,
		RemoveServices:    fw.DisabledServices,
	}
}

func cloneFirewall(fw api.Firewall) api.Firewall {
	fw.EnabledPorts = nonNil(slices.Clone(fw.EnabledPorts))
	fw.Trusts = nonNil(slices.Clone(fw.Trusts))
	fw.EnabledServices = nonNil(slices.Clone(fw.EnabledServices))
	fw.DisabledServices = nonNil(slices.Clone(fw.DisabledServices))

	return fw
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}

	return values
}
