package bus

import (
	"fmt"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
	"github.com/godbus/dbus/v5/prop"
	"github.com/lxc/incus/v6/shared/revert"
)

// Exporter is the part of *dbus.Conn used to publish objects.
type Exporter interface {
	Emitter

	Export(v any, path dbus.ObjectPath, iface string) error
	ExportMethodTable(methods map[string]any, path dbus.ObjectPath, iface string) error
}

// Object describes something to publish on the bus.
type Object struct {
	Path      dbus.ObjectPath
	Interface string

	// Methods holds the exported methods. Every exported Go method of the value is
	// published, so it must only carry D-Bus methods.
	Methods any

	Properties *Properties
	Signals    []introspect.Signal
}

// Publish exports the object's methods, properties and introspection data. Nothing stays
// exported if any step fails.
func Publish(conn Exporter, obj Object) error {
	reverter := revert.New()
	defer reverter.Fail()

	err := conn.Export(obj.Methods, obj.Path, obj.Interface)
	if err != nil {
		return fmt.Errorf("failed to export %s on %s: %w", obj.Interface, obj.Path, err)
	}

	reverter.Add(func() { _ = conn.Export(nil, obj.Path, obj.Interface) })

	ifaces := []introspect.Interface{introspect.IntrospectData}
	primary := introspect.Interface{
		Name:    obj.Interface,
		Methods: introspect.Methods(obj.Methods),
		Signals: obj.Signals,
	}

	if obj.Properties != nil {
		err = conn.ExportMethodTable(obj.Properties.methodTable(), obj.Path, PropertiesInterface)
		if err != nil {
			return fmt.Errorf("failed to export properties on %s: %w", obj.Path, err)
		}

		reverter.Add(func() { _ = conn.Export(nil, obj.Path, PropertiesInterface) })

		primary.Properties = obj.Properties.Introspection()
		ifaces = append(ifaces, prop.IntrospectData)
	}

	node := &introspect.Node{
		Name:       string(obj.Path),
		Interfaces: append(ifaces, primary),
	}

	err = conn.Export(introspect.NewIntrospectable(node), obj.Path, introspect.IntrospectData.Name)
	if err != nil {
		return fmt.Errorf("failed to export introspection data on %s: %w", obj.Path, err)
	}

	reverter.Success()

	return nil
}

// Unpublish removes everything Publish exported.
func Unpublish(conn Exporter, obj Object) {
	_ = conn.Export(nil, obj.Path, obj.Interface)
	_ = conn.Export(nil, obj.Path, PropertiesInterface)
	_ = conn.Export(nil, obj.Path, introspect.IntrospectData.Name)
}

// Connect opens the system bus, or the session bus when session is set.
func Connect(session bool) (*dbus.Conn, error) {
	if session {
		return dbus.ConnectSessionBus()
	}

	return dbus.ConnectSystemBus()
}

// RequestName claims a well-known name on the bus.
func RequestName(conn *dbus.Conn, name string) error {
	reply, err := conn.RequestName(name, dbus.NameFlagDoNotQueue)
	if err != nil {
		return err
	}

	if reply != dbus.RequestNameReplyPrimaryOwner {
		return fmt.Errorf("name %q is already taken", name)
	}

	return nil
}
