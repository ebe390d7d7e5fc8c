package network

import (
	"context"
	"sync"
	"testing"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/require"

	"github.com/osinstall/instconfd/api"
	"github.com/osinstall/instconfd/internal/bus"
)

type fakeConn struct {
	mu       sync.Mutex
	signals  map[string][]any
	exported map[string]any
}

func (c *fakeConn) Emit(_ dbus.ObjectPath, name string, values ...any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.signals == nil {
		c.signals = map[string][]any{}
	}

	c.signals[name] = values

	return nil
}

func (c *fakeConn) Export(v any, path dbus.ObjectPath, iface string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.exported == nil {
		c.exported = map[string]any{}
	}

	c.exported[string(path)+" "+iface] = v

	return nil
}

func (c *fakeConn) ExportMethodTable(methods map[string]any, path dbus.ObjectPath, iface string) error {
	return c.Export(methods, path, iface)
}

func (c *fakeConn) signal(name string) []any {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.signals[name]
}

func TestInterface(t *testing.T) {
	t.Parallel()

	conn := &fakeConn{}
	svc := newService(t, nil, "")
	iface := NewInterface(context.Background(), svc, conn, nil)
	require.NoError(t, iface.Publish())

	m, ok := conn.exported[string(ObjectPath)+" "+InterfaceName].(*methods)
	require.True(t, ok)

	errs, warnings, dErr := m.ReadKickstart("network --hostname=bad_name\n")
	require.Nil(t, dErr)
	require.Len(t, errs, 1)
	require.Equal(t, int32(1), errs[0].LineNumber)
	require.Empty(t, warnings)

	require.Nil(t, m.SetHostname("host.example.com"))
	require.NotNil(t, m.SetHostname("bad_name"))

	changed := conn.signal(bus.PropertiesInterface + ".PropertiesChanged")
	require.Len(t, changed, 3)
	require.Equal(t, "host.example.com", changed[1].(map[string]dbus.Variant)["Hostname"].Value())

	ks, dErr := m.GenerateKickstart()
	require.Nil(t, dErr)
	require.Equal(t, "network  --hostname=host.example.com\n", ks)

	require.Nil(t, m.SetFirewall(firewall{Mode: "disabled"}))
	require.Equal(t, api.FirewallModeDisabled, svc.Firewall().Mode)
	require.NotNil(t, m.SetFirewall(firewall{Mode: "bogus"}))

	_, dErr = m.ApplyKickstartWithTask()
	require.NotNil(t, dErr)

	svc.DeviceConfigurationsChanged.Emit([]api.DeviceConfigurationDiff{{
		New: api.DeviceConfiguration{DeviceName: "ens3", DeviceType: api.DeviceTypeEthernet},
	}})

	values := conn.signal(InterfaceName + ".DeviceConfigurationsChanged")
	require.Equal(t, []any{[]deviceConfigurationDiff{{
		New: deviceConfiguration{DeviceName: "ens3", DeviceType: "ethernet"},
	}}}, values)
}
