package network

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/osinstall/instconfd/api"
	"github.com/osinstall/instconfd/internal/nm"
	"github.com/osinstall/instconfd/internal/nm/nmtest"
)

const (
	uuidEns3  = "3b1a7a8e-3c0e-4a6e-9a38-000000000003"
	uuidEns4  = "3b1a7a8e-3c0e-4a6e-9a38-000000000004"
	uuidEns5  = "3b1a7a8e-3c0e-4a6e-9a38-000000000005"
	uuidTeam  = "3b1a7a8e-3c0e-4a6e-9a38-0000000000a0"
	uuidPort1 = "3b1a7a8e-3c0e-4a6e-9a38-0000000000a1"
	uuidPort2 = "3b1a7a8e-3c0e-4a6e-9a38-0000000000a2"
	uuidBond  = "3b1a7a8e-3c0e-4a6e-9a38-0000000000b0"
	uuidVirbr = "3b1a7a8e-3c0e-4a6e-9a38-0000000000c0"
	uuidVLAN  = "3b1a7a8e-3c0e-4a6e-9a38-0000000000d0"
)

func ethernetProfile(iface string, uuid string) nm.Settings {
	return nm.Settings{
		Connection: nm.ConnectionSettings{
			ID:            iface,
			UUID:          uuid,
			Type:          nm.TypeEthernet,
			InterfaceName: iface,
			Autoconnect:   true,
		},
		Wired: &nm.WiredSettings{},
		IPv4:  &nm.IPSettings{Method: nm.MethodAuto},
		IPv6:  &nm.IPSettings{Method: nm.MethodAuto},
	}
}

func virtualProfile(connType string, iface string, uuid string) nm.Settings {
	return nm.Settings{
		Connection: nm.ConnectionSettings{
			ID:            iface,
			UUID:          uuid,
			Type:          connType,
			InterfaceName: iface,
			Autoconnect:   true,
		},
		IPv4: &nm.IPSettings{Method: nm.MethodAuto},
		IPv6: &nm.IPSettings{Method: nm.MethodAuto},
	}
}

func portProfile(iface string, uuid string, controller string, portType string) nm.Settings {
	s := ethernetProfile(iface, uuid)
	s.Connection.ID = controller + " port " + iface
	s.Connection.Controller = controller
	s.Connection.PortType = portType
	s.IPv4 = nil
	s.IPv6 = nil

	return s
}

func device(iface string, devType uint32) nm.Device {
	return nm.Device{
		Interface: iface,
		Type:      devType,
		State:     nm.DeviceStateActivated,
	}
}

// recorder collects the emitted diffs.
type recorder struct {
	mu    sync.Mutex
	diffs []api.DeviceConfigurationDiff
}

func (r *recorder) record(diffs []api.DeviceConfigurationDiff) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.diffs = append(r.diffs, diffs...)
}

func (r *recorder) take() []api.DeviceConfigurationDiff {
	r.mu.Lock()
	defer r.mu.Unlock()

	diffs := r.diffs
	r.diffs = nil

	return diffs
}

func newTestTracker(t *testing.T, client *nmtest.Client) (*Tracker, *recorder) {
	t.Helper()

	tracker := NewTracker(client, nm.Filter{SysfsRoot: t.TempDir()}, nil)
	rec := &recorder{}
	tracker.ConfigurationsChanged.Connect(rec.record)

	return tracker, rec
}

func TestTrackerReload(t *testing.T) {
	t.Parallel()

	client := nmtest.New()
	client.AddDevice(device("ens3", nm.DeviceTypeEthernet))
	client.AddDevice(device("ens4", nm.DeviceTypeEthernet))
	client.AddDevice(device("ens5", nm.DeviceTypeEthernet))
	client.AddDevice(device("team0", nm.DeviceTypeTeam))
	client.AddDevice(device("virbr0", nm.DeviceTypeBridge))

	client.AddProfile(ethernetProfile("ens3", uuidEns3), "")
	client.AddProfile(virtualProfile(nm.TypeTeam, "team0", uuidTeam), "")
	client.AddProfile(portProfile("ens4", uuidPort1, "team0", "team"), "")
	client.AddProfile(portProfile("ens5", uuidPort2, "team0", "team"), "")
	client.AddProfile(virtualProfile(nm.TypeBridge, "virbr0", uuidVirbr), "")

	tracker, rec := newTestTracker(t, client)
	require.NoError(t, tracker.Reload(context.Background()))

	expected := []api.DeviceConfiguration{
		{DeviceName: "ens3", ConnectionUUID: uuidEns3, DeviceType: api.DeviceTypeEthernet},
		{DeviceName: "ens4", DeviceType: api.DeviceTypeEthernet},
		{DeviceName: "ens5", DeviceType: api.DeviceTypeEthernet},
		{DeviceName: "team0", ConnectionUUID: uuidTeam, DeviceType: api.DeviceTypeTeam},
	}

	require.Empty(t, cmp.Diff(expected, tracker.Configurations()))
	require.Len(t, rec.take(), 4)

	// Reloading starts over, announcing the removal of every record.
	require.NoError(t, tracker.Reload(context.Background()))

	diffs := rec.take()
	require.Len(t, diffs, 8)

	for _, diff := range diffs[:4] {
		require.True(t, diff.New.IsZero())
	}

	require.Empty(t, cmp.Diff(expected, tracker.Configurations()))
}

func TestTrackerProfileChoice(t *testing.T) {
	t.Parallel()

	client := nmtest.New()

	dev := device("ens3", nm.DeviceTypeEthernet)
	dev.PermHwAddress = "52:54:00:12:34:56"
	client.AddDevice(dev)

	generic := ethernetProfile("", uuidEns4)
	generic.Connection.ID = "Wired connection 1"
	client.AddProfile(generic, "")

	bound := ethernetProfile("", uuidEns3)
	bound.Connection.ID = "Bound to MAC"
	bound.Wired.MACAddress = "52:54:00:12:34:56"
	client.AddProfile(bound, "")

	snap, err := nm.TakeSnapshot(context.Background(), client)
	require.NoError(t, err)

	snap.Devices[0].AvailableConnections = []string{snap.Connections[0].Path, snap.Connections[1].Path}

	tracker, _ := newTestTracker(t, client)
	require.Equal(t, uuidEns3, tracker.profileOf(snap, &snap.Devices[0]))
}

func TestTrackerEvents(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	client := nmtest.New()
	client.AddDevice(device("ens3", nm.DeviceTypeEthernet))
	client.AddDevice(device("ens4", nm.DeviceTypeEthernet))
	client.AddProfile(ethernetProfile("ens3", uuidEns3), "")
	client.AddProfile(ethernetProfile("ens4", uuidEns4), "")

	tracker, rec := newTestTracker(t, client)
	require.NoError(t, tracker.Reload(ctx))
	rec.take()

	// A removed physical device loses its record.
	path := client.RemoveDevice("ens3")
	tracker.HandleEvent(ctx, nm.Event{Kind: nm.EventDeviceRemoved, Path: path})
	require.Equal(t, []api.DeviceConfigurationDiff{
		{Old: api.DeviceConfiguration{DeviceName: "ens3", ConnectionUUID: uuidEns3, DeviceType: api.DeviceTypeEthernet}},
	}, rec.take())

	// A removed profile keeps the record of its device.
	path = client.RemoveProfile(uuidEns4)
	tracker.HandleEvent(ctx, nm.Event{Kind: nm.EventConnectionRemoved, Path: path})
	require.Equal(t, []api.DeviceConfiguration{
		{DeviceName: "ens4", DeviceType: api.DeviceTypeEthernet},
	}, tracker.Configurations())
	rec.take()

	// A new profile completes it.
	path = client.AddProfile(ethernetProfile("ens4", uuidEns5), "")
	tracker.HandleEvent(ctx, nm.Event{Kind: nm.EventConnectionAdded, Path: path})
	require.Equal(t, []api.DeviceConfigurationDiff{{
		Old: api.DeviceConfiguration{DeviceName: "ens4", DeviceType: api.DeviceTypeEthernet},
		New: api.DeviceConfiguration{DeviceName: "ens4", ConnectionUUID: uuidEns5, DeviceType: api.DeviceTypeEthernet},
	}}, rec.take())

	// A virtual profile gets its device name once active.
	path = client.AddProfile(virtualProfile(nm.TypeBond, "bond0", uuidBond), "")
	tracker.HandleEvent(ctx, nm.Event{Kind: nm.EventConnectionAdded, Path: path})
	require.Contains(t, tracker.Configurations(), api.DeviceConfiguration{ConnectionUUID: uuidBond, DeviceType: api.DeviceTypeBond})

	client.AddDevice(device("bond0", nm.DeviceTypeBond))
	active := client.Activate(uuidBond, "bond0")
	tracker.HandleEvent(ctx, nm.Event{Kind: nm.EventActiveConnectionAdded, Path: active})
	require.Contains(t, tracker.Configurations(), api.DeviceConfiguration{DeviceName: "bond0", ConnectionUUID: uuidBond, DeviceType: api.DeviceTypeBond})

	// And loses it with the device.
	rec.take()

	path = client.RemoveDevice("bond0")
	tracker.HandleEvent(ctx, nm.Event{Kind: nm.EventDeviceRemoved, Path: path})
	require.Equal(t, []api.DeviceConfigurationDiff{{
		Old: api.DeviceConfiguration{DeviceName: "bond0", ConnectionUUID: uuidBond, DeviceType: api.DeviceTypeBond},
		New: api.DeviceConfiguration{ConnectionUUID: uuidBond, DeviceType: api.DeviceTypeBond},
	}}, rec.take())

	// Removing the profile of a virtual device without name drops the record.
	path = client.RemoveProfile(uuidBond)
	tracker.HandleEvent(ctx, nm.Event{Kind: nm.EventConnectionRemoved, Path: path})
	require.Len(t, tracker.Configurations(), 1)
}

func TestTrackerVLANDefaultName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		parent string
	}{
		{"parent by name", "ens3"},
		{"parent by profile", uuidEns3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ctx := context.Background()

			client := nmtest.New()
			client.AddProfile(ethernetProfile("ens3", uuidEns3), "")

			tracker, _ := newTestTracker(t, client)
			require.NoError(t, tracker.Reload(ctx))

			// The profile has no interface name, the device is named after parent and id.
			vlan := virtualProfile(nm.TypeVLAN, "", uuidVLAN)
			vlan.Connection.ID = "VLAN connection 1"
			vlan.VLAN = &nm.VLANSettings{ID: 222, Parent: tt.parent}

			path := client.AddProfile(vlan, "")
			client.AddDevice(device("ens3.222", nm.DeviceTypeVLAN))
			client.Activate(uuidVLAN, "ens3.222")

			tracker.HandleEvent(ctx, nm.Event{Kind: nm.EventConnectionAdded, Path: path})
			require.Contains(t, tracker.Configurations(), api.DeviceConfiguration{
				DeviceName:     "ens3.222",
				ConnectionUUID: uuidVLAN,
				DeviceType:     api.DeviceTypeVLAN,
			})
		})
	}
}

func TestTrackerUnknownDeviceRetry(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	client := nmtest.New()
	tracker, _ := newTestTracker(t, client)
	tracker.retryInterval = 50 * time.Millisecond

	dev := device("ens9", nm.DeviceTypeEthernet)
	dev.State = nm.DeviceStateUnknown
	client.AddDevice(dev)

	snap, err := nm.TakeSnapshot(ctx, client)
	require.NoError(t, err)

	tracker.HandleEvent(ctx, nm.Event{Kind: nm.EventDeviceAdded, Path: snap.Devices[0].Path})
	require.Empty(t, tracker.Configurations())

	client.SetDeviceState("ens9", nm.DeviceStateActivated)

	require.Eventually(t, func() bool {
		return len(tracker.Configurations()) == 1
	}, 5*time.Second, 10*time.Millisecond)

	require.Equal(t, "ens9", tracker.Configurations()[0].DeviceName)
}

func TestTrackerIgnoresUnsupported(t *testing.T) {
	t.Parallel()

	client := nmtest.New()
	client.AddDevice(device("virbr0", nm.DeviceTypeBridge))
	client.AddDevice(device("ens3.222-fcoe", nm.DeviceTypeVLAN))
	client.AddDevice(device("nbft0", nm.DeviceTypeEthernet))
	client.AddDevice(device("ibft0", nm.DeviceTypeEthernet))
	client.AddDevice(device("lo", 14))

	bootif := ethernetProfile("BOOTIF", uuidEns3)
	bootif.Connection.ID = "BOOTIF Connection"
	client.AddProfile(bootif, "/run/NetworkManager/system-connections/BOOTIF.nmconnection")

	tracker, _ := newTestTracker(t, client)
	require.NoError(t, tracker.Reload(context.Background()))
	require.Empty(t, tracker.Configurations())
}
