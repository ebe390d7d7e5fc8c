package localization

import (
	"context"
	"sync"
	"testing"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/require"

	"github.com/osinstall/instconfd/internal/bus"
)

type signal struct {
	name   string
	values []any
}

type fakeConn struct {
	mu       sync.Mutex
	signals  []signal
	exported map[string]any
}

func (c *fakeConn) Emit(_ dbus.ObjectPath, name string, values ...any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.signals = append(c.signals, signal{name: name, values: values})

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

func (c *fakeConn) propertiesChanged() []map[string]dbus.Variant {
	c.mu.Lock()
	defer c.mu.Unlock()

	ret := []map[string]dbus.Variant{}
	for _, s := range c.signals {
		if s.name == bus.PropertiesInterface+".PropertiesChanged" {
			ret = append(ret, s.values[1].(map[string]dbus.Variant))
		}
	}

	return ret
}

func TestInterfaceGroupsPropertyChanges(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	scheduler := bus.NewScheduler()
	go func() { _ = scheduler.Run(ctx) }()

	conn := &fakeConn{}
	svc := newService(t, fakeLoader{works: true})
	iface := NewInterface(ctx, svc, conn, scheduler)
	require.NoError(t, iface.Publish())

	m, ok := conn.exported[string(ObjectPath)+" "+InterfaceName].(*methods)
	require.True(t, ok)

	errs, warnings, dErr := m.ReadKickstart("lang cs_CZ.UTF-8 --addsupport=en_US.UTF-8\n")
	require.Nil(t, dErr)
	require.Empty(t, errs)
	require.Empty(t, warnings)

	// Wait for the queued flushes.
	_, err := bus.CallOnMain(scheduler, func() (struct{}, error) { return struct{}{}, nil })
	require.NoError(t, err)

	changes := conn.propertiesChanged()
	require.Len(t, changes, 1)
	require.Equal(t, map[string]dbus.Variant{
		"LanguageKickstarted": dbus.MakeVariant(true),
		"Language":            dbus.MakeVariant("cs_CZ.UTF-8"),
		"LanguageSupport":     dbus.MakeVariant([]string{"en_US.UTF-8"}),
	}, changes[0])

	ks, dErr := m.GenerateKickstart()
	require.Nil(t, dErr)
	require.Equal(t, "lang cs_CZ.UTF-8 --addsupport=en_US.UTF-8\n", ks)

	reqs, dErr := m.CollectRequirements()
	require.Nil(t, dErr)
	require.Len(t, reqs, 2)

	paths, dErr := m.InstallWithTasks("/mnt/sysroot")
	require.Nil(t, dErr)
	require.Equal(t, []dbus.ObjectPath{
		"/org/osinstall/Instconf/Localization/Tasks/1",
		"/org/osinstall/Instconf/Localization/Tasks/2",
	}, paths)

	require.Nil(t, m.SetXLayouts([]string{"us"}))
	require.Equal(t, []string{"us"}, svc.Model().XLayouts)

	errs, _, dErr = m.ReadKickstart("keyboard\n")
	require.Nil(t, dErr)
	require.Len(t, errs, 1)
	require.Equal(t, int32(1), errs[0].LineNumber)
}
