package bus

import (
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
)

// PropertiesInterface is the standard D-Bus properties interface.
const PropertiesInterface = "org.freedesktop.DBus.Properties"

// Emitter sends D-Bus signals. *dbus.Conn implements it.
type Emitter interface {
	Emit(path dbus.ObjectPath, name string, values ...any) error
}

// Properties holds the read-only properties of a published object and batches change
// notifications into a single PropertiesChanged signal.
type Properties struct {
	mu sync.Mutex

	emitter Emitter
	path    dbus.ObjectPath
	iface   string

	getters map[string]func() any
	names   []string
	pending []string
}

// NewProperties returns an empty property set for the interface iface at path. A nil
// emitter drops notifications.
func NewProperties(emitter Emitter, path dbus.ObjectPath, iface string) *Properties {
	return &Properties{
		emitter: emitter,
		path:    path,
		iface:   iface,
		getters: map[string]func() any{},
	}
}

// Define adds a property whose value is returned by getter. The getter must return a
// value godbus can marshal.
func (p *Properties) Define(name string, getter func() any) {
	p.mu.Lock()
	defer p.mu.Unlock()

	_, ok := p.getters[name]
	if !ok {
		p.names = append(p.names, name)
	}

	p.getters[name] = getter
}

// Changed marks the property as changed. The notification is sent by the next Flush.
func (p *Properties) Changed(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if slices.Contains(p.pending, name) {
		return
	}

	p.pending = append(p.pending, name)
}

// Pending returns the names of the properties marked since the last flush, in marking order.
func (p *Properties) Pending() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	return slices.Clone(p.pending)
}

// Flush emits one PropertiesChanged signal for every property marked since the last flush.
func (p *Properties) Flush() error {
	p.mu.Lock()
	pending := p.pending
	p.pending = nil

	changed := make(map[string]dbus.Variant, len(pending))
	for _, name := range pending {
		getter, ok := p.getters[name]
		if !ok {
			continue
		}

		changed[name] = dbus.MakeVariant(getter())
	}

	p.mu.Unlock()

	if len(changed) == 0 || p.emitter == nil {
		return nil
	}

	return p.emitter.Emit(p.path, PropertiesInterface+".PropertiesChanged", p.iface, changed, []string{})
}

// Get implements org.freedesktop.DBus.Properties.Get.
func (p *Properties) Get(iface string, name string) (dbus.Variant, *dbus.Error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if iface != p.iface {
		return dbus.Variant{}, dbus.MakeFailedError(fmt.Errorf("unknown interface %q", iface))
	}

	getter, ok := p.getters[name]
	if !ok {
		return dbus.Variant{}, dbus.MakeFailedError(fmt.Errorf("unknown property %q", name))
	}

	return dbus.MakeVariant(getter()), nil
}

// GetAll implements org.freedesktop.DBus.Properties.GetAll.
func (p *Properties) GetAll(iface string) (map[string]dbus.Variant, *dbus.Error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if iface != p.iface {
		return nil, dbus.MakeFailedError(fmt.Errorf("unknown interface %q", iface))
	}

	ret := make(map[string]dbus.Variant, len(p.getters))
	for name, getter := range p.getters {
		ret[name] = dbus.MakeVariant(getter())
	}

	return ret, nil
}

// Set implements org.freedesktop.DBus.Properties.Set. Every property is read-only, values
// are changed through the interface methods.
func (p *Properties) Set(_ string, name string, _ dbus.Variant) *dbus.Error {
	return dbus.MakeFailedError(fmt.Errorf("property %q is read-only", name))
}

// methodTable returns the D-Bus methods of the properties interface.
func (p *Properties) methodTable() map[string]any {
	return map[string]any{
		"Get":    p.Get,
		"GetAll": p.GetAll,
		"Set":    p.Set,
	}
}

// Introspection describes the properties for the introspection data.
func (p *Properties) Introspection() []introspect.Property {
	p.mu.Lock()
	defer p.mu.Unlock()

	names := slices.Clone(p.names)
	sort.Strings(names)

	ret := make([]introspect.Property, 0, len(names))
	for _, name := range names {
		ret = append(ret, introspect.Property{
			Name:   name,
			Type:   dbus.SignatureOf(p.getters[name]()).String(),
			Access: "read",
		})
	}

	return ret
}
