package network

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/osinstall/instconfd/api"
	"github.com/osinstall/instconfd/internal/kickstart"
	"github.com/osinstall/instconfd/internal/nm"
	"github.com/osinstall/instconfd/internal/nm/nmtest"
	"github.com/osinstall/instconfd/internal/task"
)

func writeFile(t *testing.T, path string, content string) {
	t.Helper()

	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func readFile(t *testing.T, path string) string {
	t.Helper()

	content, err := os.ReadFile(path) //nolint:gosec
	require.NoError(t, err)

	return string(content)
}

func networkCommands(t *testing.T, content string) []kickstart.NetworkData {
	t.Helper()

	data, err := kickstart.ParseString(content)
	require.NoError(t, err)

	return data.Network
}

func TestNetworkInstallation(t *testing.T) {
	t.Parallel()

	host := t.TempDir()
	sysroot := t.TempDir()

	writeFile(t, filepath.Join(host, "etc/sysconfig/network-scripts/ifcfg-ens3"), "DEVICE=ens3\n")
	writeFile(t, filepath.Join(host, "etc/sysconfig/network-scripts/route-ens3"), "10.0.0.0/8 via 10.0.0.1\n")
	writeFile(t, filepath.Join(host, "etc/sysconfig/network-scripts/readme"), "unrelated\n")
	writeFile(t, filepath.Join(host, "etc/NetworkManager/system-connections/ens4.nmconnection"), "[connection]\nid=ens4\n")
	writeFile(t, filepath.Join(host, "etc/NetworkManager/system-connections/ens4.nmconnection.bak"), "backup\n")
	writeFile(t, filepath.Join(host, "etc/NetworkManager/system-connections/other"), "unrelated\n")
	writeFile(t, filepath.Join(host, "etc/systemd/network/71-net-ifnames-prefix-net0.link"), "[Link]\n")
	writeFile(t, filepath.Join(host, "etc/systemd/network/99-default.link"), "[Link]\n")
	writeFile(t, filepath.Join(host, "etc/dhcp/dhclient-ens3.conf"), "send vendor-class-identifier \"x\";\n")
	writeFile(t, filepath.Join(host, "etc/resolv.conf"), "nameserver 10.0.0.53\n")
	writeFile(t, filepath.Join(host, "run/NetworkManager/conf.d/15-global-dns.conf"), "[global-dns]\n")

	writeFile(t, filepath.Join(sysroot, "etc/sysctl.d/10-default.conf"), "")
	writeFile(t, filepath.Join(sysroot, "etc/sysconfig/network"), "# old\n")
	writeFile(t, filepath.Join(sysroot, "etc/sysconfig/network-scripts/ifcfg-ens3"), "# target\n")
	writeFile(t, filepath.Join(sysroot, "usr/lib/systemd/system/dnsconfd.service"), "")

	enabled := []string{}

	tk := NewNetworkInstallationTask(InstallOptions{
		Sysroot:                        sysroot,
		HostRoot:                       host,
		Overwrite:                      true,
		DisableIPv6:                    true,
		NetworkIfaces:                  []string{"ens3", "ens4"},
		IfnameValues:                   []string{"net0:52:54:00:12:34:56", "nbft0:52:54:00:12:34:57", "bogus"},
		ConfigurePersistentDeviceNames: true,
		ProvidesResolverConfig:         true,
		DNSBackend:                     "dnsconfd",
	})
	tk.enableUnit = func(_ context.Context, root string, units ...string) error {
		require.Equal(t, sysroot, root)

		enabled = append(enabled, units...)

		return nil
	}

	require.NoError(t, task.Run(context.Background(), tk))

	// Files written by the installer obey overwrite.
	require.Equal(t, "# Created by anaconda\n", readFile(t, filepath.Join(sysroot, "etc/sysconfig/network")))
	require.Equal(t, "net.ipv6.conf.all.disable_ipv6=1\nnet.ipv6.conf.default.disable_ipv6=1\n",
		readFile(t, filepath.Join(sysroot, "etc/sysctl.d/anaconda.conf")))
	require.Equal(t, "[Match]\nMACAddress=52:54:00:12:34:56\n[Link]\nName=net0\n",
		readFile(t, filepath.Join(sysroot, "etc/systemd/network/10-anaconda-ifname-net0.link")))
	require.NoFileExists(t, filepath.Join(sysroot, "etc/systemd/network/10-anaconda-ifname-nbft0.link"))
	require.Equal(t, "nameserver 10.0.0.53\n", readFile(t, filepath.Join(sysroot, "etc/resolv.conf")))

	// Copied files never replace existing ones.
	require.Equal(t, "# target\n", readFile(t, filepath.Join(sysroot, "etc/sysconfig/network-scripts/ifcfg-ens3")))
	require.FileExists(t, filepath.Join(sysroot, "etc/sysconfig/network-scripts/route-ens3"))
	require.NoFileExists(t, filepath.Join(sysroot, "etc/sysconfig/network-scripts/readme"))
	require.FileExists(t, filepath.Join(sysroot, "etc/NetworkManager/system-connections/ens4.nmconnection"))
	require.FileExists(t, filepath.Join(sysroot, "etc/NetworkManager/system-connections/ens4.nmconnection.bak"))
	require.NoFileExists(t, filepath.Join(sysroot, "etc/NetworkManager/system-connections/other"))
	require.FileExists(t, filepath.Join(sysroot, "etc/systemd/network/71-net-ifnames-prefix-net0.link"))
	require.NoFileExists(t, filepath.Join(sysroot, "etc/systemd/network/99-default.link"))
	require.FileExists(t, filepath.Join(sysroot, "etc/dhcp/dhclient-ens3.conf"))
	require.FileExists(t, filepath.Join(sysroot, "etc/NetworkManager/conf.d/15-global-dns.conf"))

	require.Equal(t, []string{"dnsconfd.service"}, enabled)
}

func TestNetworkInstallationNoOverwrite(t *testing.T) {
	t.Parallel()

	host := t.TempDir()
	sysroot := t.TempDir()

	writeFile(t, filepath.Join(host, "etc/resolv.conf"), "nameserver 10.0.0.53\n")
	writeFile(t, filepath.Join(sysroot, "etc/sysconfig/network"), "# old\n")
	writeFile(t, filepath.Join(sysroot, "etc/resolv.conf"), "# target\n")

	tk := NewNetworkInstallationTask(InstallOptions{
		Sysroot:                sysroot,
		HostRoot:               host,
		ProvidesResolverConfig: true,
	})

	require.NoError(t, task.Run(context.Background(), tk))
	require.Equal(t, "# old\n", readFile(t, filepath.Join(sysroot, "etc/sysconfig/network")))
	require.Equal(t, "# target\n", readFile(t, filepath.Join(sysroot, "etc/resolv.conf")))
	require.NoFileExists(t, filepath.Join(sysroot, "etc/sysctl.d/anaconda.conf"))
}

func TestNetworkInstallationMissingSysctl(t *testing.T) {
	t.Parallel()

	tk := NewNetworkInstallationTask(InstallOptions{
		Sysroot:     t.TempDir(),
		HostRoot:    t.TempDir(),
		DisableIPv6: true,
	})

	require.Error(t, task.Run(context.Background(), tk))
}

func TestNetworkInstallationResolved(t *testing.T) {
	t.Parallel()

	host := t.TempDir()
	sysroot := t.TempDir()

	writeFile(t, filepath.Join(host, "etc/resolv.conf"), "nameserver 10.0.0.53\n")
	writeFile(t, filepath.Join(sysroot, "usr/lib/systemd/system/systemd-resolved.service"), "")

	tk := NewNetworkInstallationTask(InstallOptions{
		Sysroot:                sysroot,
		HostRoot:               host,
		Overwrite:              true,
		ProvidesResolverConfig: true,
	})

	require.NoError(t, task.Run(context.Background(), tk))
	require.NoFileExists(t, filepath.Join(sysroot, "etc/resolv.conf"))
}

func TestHostnameConfiguration(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	require.Error(t, NewHostnameConfigurationTask(t.TempDir(), "host", true).Run(ctx))

	sysroot := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(sysroot, "etc"), 0o755))

	require.NoError(t, NewHostnameConfigurationTask(sysroot, "", true).Run(ctx))
	require.NoFileExists(t, filepath.Join(sysroot, "etc/hostname"))

	require.NoError(t, NewHostnameConfigurationTask(sysroot, "host.example.com", true).Run(ctx))
	require.Equal(t, "host.example.com\n", readFile(t, filepath.Join(sysroot, "etc/hostname")))

	require.NoError(t, NewHostnameConfigurationTask(sysroot, "other", false).Run(ctx))
	require.Equal(t, "host.example.com\n", readFile(t, filepath.Join(sysroot, "etc/hostname")))
}

func TestFirewallArgs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		firewall api.Firewall
		args     []string
	}{
		{
			name:     "enabled",
			firewall: api.Firewall{Mode: api.FirewallModeEnabled},
			args:     []string{"--enabled", "--service=ssh"},
		},
		{
			name:     "disabled",
			firewall: api.Firewall{Mode: api.FirewallModeDisabled},
			args:     []string{"--disabled", "--service=ssh"},
		},
		{
			name: "everything",
			firewall: api.Firewall{
				Mode:             api.FirewallModeEnabled,
				EnabledPorts:     []string{"2222:tcp", "53:udp"},
				Trusts:           []string{"eth0"},
				EnabledServices:  []string{"http"},
				DisabledServices: []string{"cockpit"},
			},
			args: []string{
				"--enabled", "--service=ssh", "--trust=eth0", "--port=2222:tcp", "--port=53:udp",
				"--remove-service=cockpit", "--service=http",
			},
		},
		{
			name:     "ssh removed",
			firewall: api.Firewall{Mode: api.FirewallModeEnabled, DisabledServices: []string{"ssh"}},
			args:     []string{"--enabled", "--remove-service=ssh"},
		},
		{
			name:     "ssh port",
			firewall: api.Firewall{Mode: api.FirewallModeEnabled, EnabledPorts: []string{"22:tcp"}},
			args:     []string{"--enabled", "--port=22:tcp"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			require.Equal(t, tt.args, FirewallArgs(tt.firewall))
		})
	}
}

func TestConfigureFirewall(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	newTask := func(sysroot string, mode api.FirewallMode) (*ConfigureFirewallTask, *[]string) {
		calls := []string{}

		tk := NewConfigureFirewallTask(sysroot, api.Firewall{Mode: mode})
		tk.run = func(_ context.Context, root string, args ...string) error {
			require.Equal(t, sysroot, root)

			calls = append(calls, args...)

			return nil
		}

		return tk, &calls
	}

	// Without firewalld only enabling it fails.
	bare := t.TempDir()

	tk, calls := newTask(bare, api.FirewallModeEnabled)
	require.Error(t, tk.Run(ctx))
	require.Empty(t, *calls)

	tk, calls = newTask(bare, api.FirewallModeDisabled)
	require.NoError(t, tk.Run(ctx))
	require.Empty(t, *calls)

	sysroot := t.TempDir()
	writeFile(t, filepath.Join(sysroot, FirewallOfflineCmd), "")

	tk, calls = newTask(sysroot, api.FirewallModeUseSystemDefaults)
	require.NoError(t, tk.Run(ctx))
	require.Empty(t, *calls)

	tk, calls = newTask(sysroot, api.FirewallModeDisabled)
	require.NoError(t, tk.Run(ctx))
	require.Equal(t, []string{"--disabled", "--service=ssh"}, *calls)
}

func TestApplyKickstart(t *testing.T) {
	t.Parallel()

	client := nmtest.New()

	dev := device("ens7", nm.DeviceTypeEthernet)
	dev.PermHwAddress = "52:54:00:12:34:56"
	client.AddDevice(dev)

	network := networkCommands(t, "network --device ens7 --bootproto static --ip 192.168.124.200 --netmask 255.255.255.0 "+
		"--gateway 192.168.124.255 --nameserver 10.34.39.2 --activate --onboot=no --hostname=dot.dot\n"+
		"network --hostname=other\n"+
		"network --device=ens9 --bootproto=dhcp\n")

	tk := NewApplyKickstartTask(client.Factory(), network, ApplyOptions{Timeout: time.Second})
	require.NoError(t, task.Run(context.Background(), tk))
	require.Equal(t, []string{"ens7"}, tk.Result())

	require.Len(t, client.Added, 1)

	s := client.Added[0]
	require.Equal(t, "ens7", s.Connection.InterfaceName)
	require.False(t, s.Connection.Autoconnect)
	require.Equal(t, nm.MethodManual, s.IPv4.Method)
	require.Equal(t, []nm.Address{{Address: "192.168.124.200", Prefix: 24}}, s.IPv4.Addresses)
	require.Equal(t, "192.168.124.255", s.IPv4.Gateway)
	require.Equal(t, []string{"10.34.39.2"}, s.IPv4.DNS)
	require.Empty(t, s.IPv6.Addresses)
	require.Equal(t, nm.FlagToDisk|nm.FlagBlockAutoconnect, client.AddFlags[0])

	require.Len(t, client.Activated, 1)
	require.Contains(t, client.Activated[0], "@"+client.DeviceList[0].Path)
}

func TestApplyKickstartInitramfsProfile(t *testing.T) {
	t.Parallel()

	client := nmtest.New()
	client.AddDevice(device("ens3", nm.DeviceTypeEthernet))
	client.AddProfile(ethernetProfile("ens3", uuidEns3), "/run/NetworkManager/system-connections/ens3.nmconnection")

	network := networkCommands(t, "network --device=ens3 --bootproto=static --ip=10.0.0.5 --netmask=255.255.255.0 --onboot=yes\n")

	tk := NewApplyKickstartTask(client.Factory(), network, ApplyOptions{Timeout: time.Second})
	require.NoError(t, task.Run(context.Background(), tk))

	require.Empty(t, client.Added)
	require.Len(t, client.Updated, 1)
	require.Equal(t, uuidEns3, client.Updated[0].Connection.UUID)
	require.True(t, client.Updated[0].Connection.Autoconnect)
	require.Equal(t, []nm.Address{{Address: "10.0.0.5", Prefix: 24}}, client.Updated[0].IPv4.Addresses)
	require.Empty(t, client.Activated)
}

func TestApplyKickstartResolveDevice(t *testing.T) {
	t.Parallel()

	client := nmtest.New()

	ens3 := device("ens3", nm.DeviceTypeEthernet)
	ens3.PermHwAddress = "52:54:00:00:00:03"
	client.AddDevice(ens3)

	ens4 := device("ens4", nm.DeviceTypeEthernet)
	ens4.PermHwAddress = "52:54:00:00:00:04"
	client.AddDevice(ens4)

	client.AddDevice(device("wlp1s0", nm.DeviceTypeWifi))

	snap, err := nm.TakeSnapshot(context.Background(), client)
	require.NoError(t, err)

	tk := NewApplyKickstartTask(client.Factory(), nil, ApplyOptions{Bootif: "52:54:00:00:00:04"})
	tk.carrier = func() ([]string, error) { return []string{"ens4", "lo", "wlp1s0"}, nil }

	tests := []struct {
		spec  string
		iface string
	}{
		{"ens3", "ens3"},
		{"ens5", ""},
		{"", ""},
		{"bootif", "ens4"},
		{"BOOTIF", "ens4"},
		{"link", "ens4"},
		{"52:54:00:00:00:03", "ens3"},
		{"52:54:00:00:00:05", ""},
	}

	for _, tt := range tests {
		require.Equal(t, tt.iface, tk.resolveDevice(context.Background(), snap, tt.spec), tt.spec)
	}
}

func TestDumpMissingConfigFiles(t *testing.T) {
	t.Parallel()

	host := t.TempDir()

	client := nmtest.New()
	client.AddDevice(device("ens3", nm.DeviceTypeEthernet))
	client.AddDevice(device("ens4", nm.DeviceTypeEthernet))
	client.AddDevice(device("ens5", nm.DeviceTypeEthernet))
	client.AddDevice(device("wlp1s0", nm.DeviceTypeWifi))

	client.AddProfile(ethernetProfile("ens3", uuidEns3), "")
	writeFile(t, filepath.Join(host, nm.KeyfileDir, "ens3.nmconnection"), "[connection]\nid=ens3\nuuid="+uuidEns3+"\ninterface-name=ens3\n")

	initramfs := ethernetProfile("ens5", uuidEns5)
	initramfs.Connection.ID = "Wired Connection"
	initramfs.Connection.Autoconnect = false
	client.AddProfile(initramfs, "/run/NetworkManager/system-connections/default_connection.nmconnection")

	tk := NewDumpMissingConfigFilesTask(client.Factory(), DumpOptions{
		DefaultNetwork: defaultNetworkData(),
		Timeout:        time.Second,
		Filter:         nm.Filter{SysfsRoot: host},
		HostRoot:       host,
	})
	require.NoError(t, task.Run(context.Background(), tk))
	require.Equal(t, []string{"ens4", "ens5"}, tk.Result())

	require.Len(t, client.Added, 1)
	require.Equal(t, "ens4", client.Added[0].Connection.InterfaceName)
	require.False(t, client.Added[0].Connection.Autoconnect)
	require.Equal(t, nm.MethodAuto, client.Added[0].IPv4.Method)

	require.Len(t, client.Updated, 1)
	require.Equal(t, uuidEns5, client.Updated[0].Connection.UUID)
	require.Equal(t, "ens5", client.Updated[0].Connection.ID)
	require.True(t, client.Updated[0].Connection.Autoconnect)
}

func TestConfigureActivationOnBoot(t *testing.T) {
	t.Parallel()

	newClient := func() *nmtest.Client {
		client := nmtest.New()
		client.AddDevice(device("ens3", nm.DeviceTypeEthernet))
		client.AddDevice(device("ens4", nm.DeviceTypeEthernet))

		for iface, uuid := range map[string]string{"ens3": uuidEns3, "ens4": uuidEns4} {
			s := ethernetProfile(iface, uuid)
			s.Connection.Autoconnect = false
			client.AddProfile(s, "")
		}

		return client
	}

	tests := []struct {
		name    string
		ifaces  []string
		policy  string
		updated []string
	}{
		{"explicit", []string{"ens4"}, OnBootNone, []string{uuidEns4}},
		{"none", nil, OnBootNone, nil},
		{"first wired with link", nil, OnBootFirstWiredWithLink, []string{uuidEns4}},
		{"default route", nil, OnBootDefaultRouteDevice, []string{uuidEns3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			client := newClient()

			tk := NewConfigureActivationOnBootTask(client.Factory(), tt.ifaces, OnBootOptions{
				Policy:  tt.policy,
				Timeout: time.Second,
			})
			tk.carrier = func() ([]string, error) { return []string{"ens4"}, nil }
			tk.defaultRoute = func() (string, error) { return "ens3", nil }

			require.NoError(t, task.Run(context.Background(), tk))

			updated := []string{}
			for _, s := range client.Updated {
				require.True(t, s.Connection.Autoconnect)

				updated = append(updated, s.Connection.UUID)
			}

			if tt.updated == nil {
				require.Empty(t, updated)
			} else {
				require.Equal(t, tt.updated, updated)
			}
		})
	}
}
