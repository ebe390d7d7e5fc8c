package network

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/osinstall/instconfd/internal/bootopts"
	"github.com/osinstall/instconfd/internal/insterrors"
	"github.com/osinstall/instconfd/internal/nm"
	"github.com/osinstall/instconfd/internal/systemd"
	"github.com/osinstall/instconfd/internal/task"
	"github.com/osinstall/instconfd/internal/util"
)

// Files and directories of the network configuration.
const (
	SysconfigNetworkPath   = "/etc/sysconfig/network"
	SysctlConfigPath       = "/etc/sysctl.d/anaconda.conf"
	HostnamePath           = "/etc/hostname"
	ResolvConfPath         = "/etc/resolv.conf"
	DHClientDir            = "/etc/dhcp"
	GlobalDNSRuntimeDir    = "/run/NetworkManager/conf.d"
	GlobalDNSPersistentDir = "/etc/NetworkManager/conf.d"
	GlobalDNSConfigFile    = "15-global-dns.conf"

	sysconfigNetworkContent = "# Created by anaconda\n"
	sysctlDisableIPv6       = "net.ipv6.conf.all.disable_ipv6=1\n" +
		"net.ipv6.conf.default.disable_ipv6=1\n"

	resolvedUnit  = "systemd-resolved.service"
	dnsconfdUnit  = "dnsconfd.service"
	dnsconfdValue = "dnsconfd"
)

// Prefixes of the initscripts files holding device configuration.
var networkScriptsPrefixes = []string{"ifcfg-", "keys-", "route-"}

// Prefix of the device naming policy files written by the prefixdevname tool.
const ifnamesPrefixFile = "71-net-ifnames-prefix-"

// InstallOptions tunes the network installation task.
type InstallOptions struct {
	Sysroot string

	// HostRoot prefixes the paths of the running installer.
	HostRoot string

	// Overwrite replaces the files written by the installer. Copied device configuration
	// files never replace existing ones.
	Overwrite bool

	DisableIPv6                    bool
	NetworkIfaces                  []string
	IfnameValues                   []string
	ConfigurePersistentDeviceNames bool
	ProvidesResolverConfig         bool
	DNSBackend                     string
}

// NetworkInstallationTask writes the network configuration of the installed system.
type NetworkInstallationTask struct {
	*task.Base

	opts InstallOptions

	enableUnit func(ctx context.Context, root string, units ...string) error
}

// NewNetworkInstallationTask returns the task.
func NewNetworkInstallationTask(opts InstallOptions) *NetworkInstallationTask {
	return &NetworkInstallationTask{
		Base:       task.NewBase("Configure network", 7),
		opts:       opts,
		enableUnit: systemd.EnableUnit,
	}
}

// Run implements task.Task.
func (t *NetworkInstallationTask) Run(ctx context.Context) error {
	t.ReportProgress("Writing network configuration")

	err := t.writeSysconfigNetwork()
	if err != nil {
		return err
	}

	if t.opts.DisableIPv6 {
		t.ReportProgress("Disabling IPv6")

		err := t.disableIPv6()
		if err != nil {
			return err
		}
	}

	t.ReportProgress("Copying device configuration files")

	err = t.copyDeviceConfigFiles(ctx)
	if err != nil {
		return err
	}

	t.ReportProgress("Copying DHCP client configuration")

	err = t.copyDHClientConfigs(ctx)
	if err != nil {
		return err
	}

	t.ReportProgress("Writing resolver configuration")

	err = t.copyResolvConf(ctx)
	if err != nil {
		return err
	}

	if t.opts.ConfigurePersistentDeviceNames {
		t.ReportProgress("Writing persistent device names")

		err := t.writeIfnameLinkFiles(ctx)
		if err != nil {
			return err
		}
	}

	t.ReportProgress("Copying global DNS configuration")

	err = t.copyGlobalDNSConfig()
	if err != nil {
		return err
	}

	err = t.enableDNSConfd(ctx)
	if err != nil {
		return err
	}

	util.Sync()

	return nil
}

func (t *NetworkInstallationTask) target(path string) string {
	return util.JoinRoot(t.opts.Sysroot, path)
}

func (t *NetworkInstallationTask) host(path string) string {
	return util.JoinRoot(t.opts.HostRoot, path)
}

func (t *NetworkInstallationTask) writeSysconfigNetwork() error {
	path := t.target(SysconfigNetworkPath)

	err := os.MkdirAll(filepath.Dir(path), 0o755)
	if err != nil {
		return insterrors.Network(err, "cannot create %s", filepath.Dir(SysconfigNetworkPath))
	}

	_, err = util.WriteFile(path, sysconfigNetworkContent, t.opts.Overwrite)
	if err != nil {
		return insterrors.Network(err, "cannot write %s", SysconfigNetworkPath)
	}

	return nil
}

func (t *NetworkInstallationTask) disableIPv6() error {
	dir := t.target(filepath.Dir(SysctlConfigPath))
	if !util.IsDir(dir) {
		return insterrors.Network(nil, "directory %s is missing on the target system", filepath.Dir(SysctlConfigPath))
	}

	err := util.AppendFile(t.target(SysctlConfigPath), sysctlDisableIPv6)
	if err != nil {
		return insterrors.Network(err, "cannot write %s", SysctlConfigPath)
	}

	return nil
}

// copyDeviceConfigFiles copies the device configuration of the installer. Existing files on
// the target are kept.
func (t *NetworkInstallationTask) copyDeviceConfigFiles(ctx context.Context) error {
	sources := []struct {
		dir    string
		accept func(names []string) []string
	}{
		{nm.NetworkScripts, acceptNetworkScripts},
		{nm.KeyfileDir, acceptKeyfiles},
		{systemd.NetworkConfigPath, acceptIfnamesPrefix},
	}

	for _, source := range sources {
		names, err := util.ListDir(t.host(source.dir))
		if err != nil {
			return insterrors.Network(err, "cannot list %s", source.dir)
		}

		for _, name := range source.accept(names) {
			err := t.copyNoOverwrite(ctx, filepath.Join(source.dir, name))
			if err != nil {
				return err
			}
		}
	}

	return nil
}

func (t *NetworkInstallationTask) copyDHClientConfigs(ctx context.Context) error {
	for _, iface := range t.opts.NetworkIfaces {
		path := filepath.Join(DHClientDir, "dhclient-"+iface+".conf")
		if !util.PathExists(t.host(path)) {
			continue
		}

		err := t.copyNoOverwrite(ctx, path)
		if err != nil {
			return err
		}
	}

	return nil
}

func (t *NetworkInstallationTask) copyNoOverwrite(ctx context.Context, path string) error {
	src := t.host(path)
	if util.IsDir(src) {
		return nil
	}

	copied, err := util.CopyFile(src, t.target(path), false)
	if err != nil {
		return insterrors.Network(err, "cannot copy %s", path)
	}

	if !copied {
		slog.DebugContext(ctx, "Not replacing existing file on the target system", "path", path)
	}

	return nil
}

func (t *NetworkInstallationTask) copyResolvConf(ctx context.Context) error {
	if !t.opts.ProvidesResolverConfig {
		return nil
	}

	if systemd.IsUnitInstalled(t.opts.Sysroot, resolvedUnit) {
		slog.DebugContext(ctx, "Not writing resolver configuration, systemd-resolved manages it")

		return nil
	}

	src := t.host(ResolvConfPath)
	if !util.PathExists(src) {
		return nil
	}

	dst := t.target(ResolvConfPath)
	if util.PathExists(dst) {
		if !t.opts.Overwrite {
			return nil
		}

		// The target may hold a dangling symlink.
		err := os.Remove(dst)
		if err != nil {
			return insterrors.Network(err, "cannot replace %s", ResolvConfPath)
		}
	}

	_, err := util.CopyFile(src, dst, true)
	if err != nil {
		return insterrors.Network(err, "cannot copy %s", ResolvConfPath)
	}

	return nil
}

func (t *NetworkInstallationTask) writeIfnameLinkFiles(ctx context.Context) error {
	for _, value := range t.opts.IfnameValues {
		binding, ok := bootopts.ParseIfname(value)
		if !ok {
			slog.WarnContext(ctx, "Ignoring invalid ifname option", "value", value)

			continue
		}

		if nm.IsNBFTDevice(binding.Iface) {
			continue
		}

		link := systemd.IfnameLinkFile(binding.Iface, binding.MAC)
		path := t.target(filepath.Join(systemd.NetworkConfigPath, link.Name))

		err := os.MkdirAll(filepath.Dir(path), 0o755)
		if err != nil {
			return insterrors.Network(err, "cannot create %s", systemd.NetworkConfigPath)
		}

		_, err = util.WriteFile(path, link.Contents, t.opts.Overwrite)
		if err != nil {
			return insterrors.Network(err, "cannot write %s", link.Name)
		}
	}

	return nil
}

func (t *NetworkInstallationTask) copyGlobalDNSConfig() error {
	path := filepath.Join(GlobalDNSRuntimeDir, GlobalDNSConfigFile)
	if !util.PathExists(t.host(path)) {
		return nil
	}

	_, err := util.CopyFile(t.host(path), t.target(filepath.Join(GlobalDNSPersistentDir, GlobalDNSConfigFile)), false)
	if err != nil {
		return insterrors.Network(err, "cannot copy %s", path)
	}

	return nil
}

func (t *NetworkInstallationTask) enableDNSConfd(ctx context.Context) error {
	if t.opts.DNSBackend != dnsconfdValue {
		return nil
	}

	if !systemd.IsUnitInstalled(t.opts.Sysroot, dnsconfdUnit) {
		slog.WarnContext(ctx, "dnsconfd was requested but isn't installed on the target system")

		return nil
	}

	err := t.enableUnit(ctx, t.opts.Sysroot, dnsconfdUnit)
	if err != nil {
		return insterrors.Network(err, "cannot enable %s", dnsconfdUnit)
	}

	return nil
}

func acceptNetworkScripts(names []string) []string {
	return slices.DeleteFunc(slices.Clone(names), func(name string) bool {
		return !slices.ContainsFunc(networkScriptsPrefixes, func(prefix string) bool { return strings.HasPrefix(name, prefix) })
	})
}

// acceptKeyfiles keeps the keyfiles and the files named after one of them.
func acceptKeyfiles(names []string) []string {
	stems := []string{}

	for _, name := range names {
		stem, ok := strings.CutSuffix(name, ".nmconnection")
		if ok && stem != "" {
			stems = append(stems, stem)
		}
	}

	return slices.DeleteFunc(slices.Clone(names), func(name string) bool {
		return !slices.ContainsFunc(stems, func(stem string) bool {
			return strings.HasPrefix(name, stem+".")
		})
	})
}

func acceptIfnamesPrefix(names []string) []string {
	return slices.DeleteFunc(slices.Clone(names), func(name string) bool {
		return !strings.HasPrefix(name, ifnamesPrefixFile)
	})
}

// HostnameConfigurationTask writes the static hostname of the installed system.
type HostnameConfigurationTask struct {
	*task.Base

	sysroot   string
	hostname  string
	overwrite bool
}

// NewHostnameConfigurationTask returns the task.
func NewHostnameConfigurationTask(sysroot string, hostname string, overwrite bool) *HostnameConfigurationTask {
	return &HostnameConfigurationTask{
		Base:      task.NewBase("Configure hostname", 1),
		sysroot:   sysroot,
		hostname:  hostname,
		overwrite: overwrite,
	}
}

// Run implements task.Task.
func (t *HostnameConfigurationTask) Run(ctx context.Context) error {
	if !util.IsDir(util.JoinRoot(t.sysroot, "/etc")) {
		return insterrors.Network(nil, "directory /etc is missing on the target system")
	}

	if t.hostname == "" {
		slog.DebugContext(ctx, "No hostname to write")

		return nil
	}

	_, err := util.WriteFile(util.JoinRoot(t.sysroot, HostnamePath), t.hostname+"\n", t.overwrite)
	if err != nil {
		return insterrors.Network(err, "cannot write %s", HostnamePath)
	}

	return nil
}
