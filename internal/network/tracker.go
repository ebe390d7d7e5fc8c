package network

import (
	"context"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/osinstall/instconfd/api"
	"github.com/osinstall/instconfd/internal/bus"
	"github.com/osinstall/instconfd/internal/nm"
)

// Devices still in the UNKNOWN state are looked at again after this delay.
const (
	deviceRetryInterval = 500 * time.Millisecond
	deviceRetryAttempts = 10
)

// Tracker keeps the device configurations in sync with NetworkManager. A physical device
// has at most one configuration keyed by its name. A virtual device may have several,
// keyed by profile UUID, which carry the device name only while active.
type Tracker struct {
	mu      sync.Mutex
	configs []api.DeviceConfiguration
	pending []api.DeviceConfigurationDiff

	client    nm.Client
	filter    nm.Filter
	scheduler *bus.Scheduler

	// Object paths of what was added, to make sense of the removal notifications.
	devices     map[string]string
	connections map[string]string

	retryInterval time.Duration

	ConfigurationsChanged bus.Signal[[]api.DeviceConfigurationDiff]
}

// NewTracker returns an empty tracker. Event handling is serialized on the scheduler, a
// nil scheduler handles them on the watching goroutine.
func NewTracker(client nm.Client, filter nm.Filter, scheduler *bus.Scheduler) *Tracker {
	return &Tracker{
		client:        client,
		filter:        filter,
		scheduler:     scheduler,
		devices:       map[string]string{},
		connections:   map[string]string{},
		retryInterval: deviceRetryInterval,
	}
}

// Configurations returns a copy of the current configurations.
func (t *Tracker) Configurations() []api.DeviceConfiguration {
	t.mu.Lock()
	defer t.mu.Unlock()

	return slices.Clone(t.configs)
}

// Reload rebuilds the configurations from scratch.
func (t *Tracker) Reload(ctx context.Context) error {
	snap, err := nm.TakeSnapshot(ctx, t.client)
	if err != nil {
		return err
	}

	t.mu.Lock()
	removed := make([]api.DeviceConfigurationDiff, 0, len(t.configs))
	for _, cfg := range t.configs {
		removed = append(removed, api.DeviceConfigurationDiff{Old: cfg})
	}

	t.configs = nil
	t.devices = map[string]string{}
	t.connections = map[string]string{}
	t.mu.Unlock()

	t.emit(removed)

	for i := range snap.Devices {
		t.AddDevice(ctx, snap, &snap.Devices[i])
	}

	for i := range snap.Connections {
		t.AddConnection(ctx, snap, &snap.Connections[i])
	}

	return nil
}

// AddDevice creates or completes the configuration of the device.
func (t *Tracker) AddDevice(ctx context.Context, snap *nm.Snapshot, dev *nm.Device) {
	t.mu.Lock()
	t.devices[dev.Path] = dev.Interface
	t.mu.Unlock()

	ok, reason := t.filter.DeviceSupported(snap, dev)
	if !ok {
		slog.DebugContext(ctx, "Ignoring device", "iface", dev.Interface, "reason", reason)

		return
	}

	t.mu.Lock()
	defer t.emitLocked()
	defer t.mu.Unlock()

	if t.indexByName(dev.Interface) >= 0 {
		return
	}

	devType := deviceType(dev.Type)

	if dev.Type == nm.DeviceTypeWifi {
		t.create(api.DeviceConfiguration{DeviceName: dev.Interface, DeviceType: devType})

		return
	}

	uuid := t.profileOf(snap, dev)
	if uuid != "" {
		idx := t.indexByUUID(uuid)
		if idx >= 0 {
			if t.configs[idx].DeviceName == "" {
				t.update(idx, func(cfg *api.DeviceConfiguration) { cfg.DeviceName = dev.Interface })

				return
			}

			// The profile already configures another device.
			uuid = ""
		}
	}

	t.create(api.DeviceConfiguration{DeviceName: dev.Interface, ConnectionUUID: uuid, DeviceType: devType})
}

// AddConnection creates or completes the configuration the profile applies to.
func (t *Tracker) AddConnection(ctx context.Context, snap *nm.Snapshot, conn *nm.Connection) {
	uuid := conn.UUID()

	t.mu.Lock()
	t.connections[conn.Path] = uuid
	t.mu.Unlock()

	ok, reason := t.filter.ConnectionSupported(conn)
	if !ok {
		slog.DebugContext(ctx, "Ignoring connection", "id", conn.ID(), "uuid", uuid, "reason", reason)

		return
	}

	t.mu.Lock()
	defer t.emitLocked()
	defer t.mu.Unlock()

	if t.indexByUUID(uuid) >= 0 {
		return
	}

	devType := connectionType(conn.Type())
	iface := conn.InterfaceName()

	if devType.IsVirtual() {
		if devType == api.DeviceTypeVLAN && iface == "" && conn.Settings.VLAN != nil {
			parent := conn.Settings.VLAN.Parent
			if snap.Connection(parent) != nil {
				parent = snap.IfaceOf(parent)
			}

			iface = nm.DefaultVLANName(parent, strconv.FormatUint(uint64(conn.Settings.VLAN.ID), 10))
		}

		name := ""

		dev := snap.Device(iface)
		if dev != nil {
			active := snap.ActiveProfile(dev)
			if active != nil && active.UUID() == uuid {
				name = iface
			}
		}

		t.create(api.DeviceConfiguration{DeviceName: name, ConnectionUUID: uuid, DeviceType: devType})

		return
	}

	if iface == "" {
		iface = snap.IfaceOf(uuid)
	}

	if iface == "" {
		slog.DebugContext(ctx, "Ignoring connection without an interface name", "id", conn.ID(), "uuid", uuid)

		return
	}

	idx := t.indexByName(iface)
	if idx >= 0 {
		if t.configs[idx].ConnectionUUID == "" {
			t.update(idx, func(cfg *api.DeviceConfiguration) { cfg.ConnectionUUID = uuid })
		}

		return
	}

	t.create(api.DeviceConfiguration{DeviceName: iface, ConnectionUUID: uuid, DeviceType: devType})
}

// Watch applies the NetworkManager notifications until the context is cancelled or the
// client goes away. Handlers run on the scheduler.
func (t *Tracker) Watch(ctx context.Context, events <-chan nm.Event, extra func(nm.Event)) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}

				t.schedule(func() {
					t.HandleEvent(ctx, ev)

					if extra != nil {
						extra(ev)
					}
				})
			}
		}
	}()
}

// HandleEvent updates the configurations for a NetworkManager notification.
func (t *Tracker) HandleEvent(ctx context.Context, ev nm.Event) {
	switch ev.Kind {
	case nm.EventDeviceAdded:
		t.deviceAdded(ctx, ev.Path, 0)
	case nm.EventDeviceRemoved:
		t.deviceRemoved(ev.Path)
	case nm.EventConnectionAdded:
		snap, err := nm.TakeSnapshot(ctx, t.client)
		if err != nil {
			slog.WarnContext(ctx, "Failed to read NetworkManager state", "err", err)

			return
		}

		conn := snap.ConnectionByPath(ev.Path)
		if conn != nil {
			t.AddConnection(ctx, snap, conn)
		}
	case nm.EventConnectionRemoved:
		t.connectionRemoved(ev.Path)
	case nm.EventActiveConnectionAdded:
		t.activeConnectionAdded(ctx, ev.Path)
	case nm.EventConnectivityChanged:
	}
}

func (t *Tracker) deviceAdded(ctx context.Context, path string, attempt int) {
	snap, err := nm.TakeSnapshot(ctx, t.client)
	if err != nil {
		slog.WarnContext(ctx, "Failed to read NetworkManager state", "err", err)

		return
	}

	dev := snap.DeviceByPath(path)
	if dev == nil {
		return
	}

	if dev.State == nm.DeviceStateUnknown {
		if attempt >= deviceRetryAttempts {
			slog.WarnContext(ctx, "Device stayed in unknown state, ignoring it", "iface", dev.Interface)

			return
		}

		time.AfterFunc(t.retryInterval, func() {
			t.schedule(func() { t.deviceAdded(ctx, path, attempt+1) })
		})

		return
	}

	t.AddDevice(ctx, snap, dev)
}

func (t *Tracker) deviceRemoved(path string) {
	t.mu.Lock()
	defer t.emitLocked()
	defer t.mu.Unlock()

	iface, ok := t.devices[path]
	if !ok {
		return
	}

	delete(t.devices, path)

	for idx := len(t.configs) - 1; idx >= 0; idx-- {
		if t.configs[idx].DeviceName != iface {
			continue
		}

		if t.configs[idx].DeviceType.IsVirtual() {
			t.update(idx, func(cfg *api.DeviceConfiguration) { cfg.DeviceName = "" })
		} else {
			t.remove(idx)
		}
	}
}

func (t *Tracker) connectionRemoved(path string) {
	t.mu.Lock()
	defer t.emitLocked()
	defer t.mu.Unlock()

	uuid, ok := t.connections[path]
	if !ok {
		return
	}

	delete(t.connections, path)

	idx := t.indexByUUID(uuid)
	if idx < 0 {
		return
	}

	if t.configs[idx].DeviceName != "" {
		t.update(idx, func(cfg *api.DeviceConfiguration) { cfg.ConnectionUUID = "" })
	} else {
		t.remove(idx)
	}
}

func (t *Tracker) activeConnectionAdded(ctx context.Context, path string) {
	snap, err := nm.TakeSnapshot(ctx, t.client)
	if err != nil {
		slog.WarnContext(ctx, "Failed to read NetworkManager state", "err", err)

		return
	}

	active := snap.ActiveConnection(path)
	if active == nil {
		return
	}

	t.mu.Lock()
	defer t.emitLocked()
	defer t.mu.Unlock()

	idx := t.indexByUUID(active.UUID)
	if idx < 0 || !t.configs[idx].DeviceType.IsVirtual() {
		return
	}

	for _, devPath := range active.Devices {
		dev := snap.DeviceByPath(devPath)
		if dev == nil || t.indexByName(dev.Interface) >= 0 {
			continue
		}

		t.devices[dev.Path] = dev.Interface
		t.update(idx, func(cfg *api.DeviceConfiguration) { cfg.DeviceName = dev.Interface })

		return
	}
}

// profileOf returns the UUID of the persistent profile configuring the device.
func (t *Tracker) profileOf(snap *nm.Snapshot, dev *nm.Device) string {
	candidates := snap.AvailableProfiles(dev)
	if len(candidates) == 0 {
		candidates = snap.ProfilesForIface(dev.Interface)
	}

	candidates = slices.DeleteFunc(candidates, func(conn nm.Connection) bool {
		ok, _ := t.filter.ConnectionSupported(&conn)

		return !ok || conn.Settings.IsPort()
	})

	switch len(candidates) {
	case 0:
		return ""
	case 1:
		return candidates[0].UUID()
	}

	active := snap.ActiveProfile(dev)
	if active != nil {
		for _, conn := range candidates {
			if conn.UUID() == active.UUID() {
				return conn.UUID()
			}
		}
	}

	for _, conn := range candidates {
		wired := conn.Settings.Wired
		if wired != nil && wired.MACAddress != "" && strings.EqualFold(wired.MACAddress, dev.MAC()) {
			return conn.UUID()
		}
	}

	return candidates[0].UUID()
}

// The helpers below expect t.mu to be held.

func (t *Tracker) indexByName(iface string) int {
	return slices.IndexFunc(t.configs, func(cfg api.DeviceConfiguration) bool { return cfg.DeviceName == iface })
}

func (t *Tracker) indexByUUID(uuid string) int {
	return slices.IndexFunc(t.configs, func(cfg api.DeviceConfiguration) bool { return cfg.ConnectionUUID == uuid })
}

func (t *Tracker) create(cfg api.DeviceConfiguration) {
	slog.Debug("Device configuration added", "iface", cfg.DeviceName, "uuid", cfg.ConnectionUUID, "type", cfg.DeviceType)

	t.configs = append(t.configs, cfg)
	t.pending = append(t.pending, api.DeviceConfigurationDiff{New: cfg})
}

func (t *Tracker) update(idx int, fn func(cfg *api.DeviceConfiguration)) {
	old := t.configs[idx]
	fn(&t.configs[idx])

	slog.Debug("Device configuration updated", "iface", t.configs[idx].DeviceName, "uuid", t.configs[idx].ConnectionUUID)

	t.pending = append(t.pending, api.DeviceConfigurationDiff{Old: old, New: t.configs[idx]})
}

func (t *Tracker) remove(idx int) {
	old := t.configs[idx]
	t.configs = slices.Delete(t.configs, idx, idx+1)

	slog.Debug("Device configuration removed", "iface", old.DeviceName, "uuid", old.ConnectionUUID)

	t.pending = append(t.pending, api.DeviceConfigurationDiff{Old: old})
}

// emitLocked sends the diffs collected while the lock was held.
func (t *Tracker) emitLocked() {
	t.mu.Lock()
	diffs := t.pending
	t.pending = nil
	t.mu.Unlock()

	t.emit(diffs)
}

func (t *Tracker) emit(diffs []api.DeviceConfigurationDiff) {
	if len(diffs) == 0 {
		return
	}

	t.ConfigurationsChanged.Emit(diffs)
}

func (t *Tracker) schedule(fn func()) {
	if t.scheduler == nil {
		fn()

		return
	}

	t.scheduler.RunOnMain(fn)
}

func deviceType(nmType uint32) api.DeviceType {
	switch nmType {
	case nm.DeviceTypeWifi:
		return api.DeviceTypeWifi
	case nm.DeviceTypeInfiniband:
		return api.DeviceTypeInfiniband
	case nm.DeviceTypeBond:
		return api.DeviceTypeBond
	case nm.DeviceTypeVLAN:
		return api.DeviceTypeVLAN
	case nm.DeviceTypeBridge:
		return api.DeviceTypeBridge
	case nm.DeviceTypeTeam:
		return api.DeviceTypeTeam
	default:
		return api.DeviceTypeEthernet
	}
}

func connectionType(connType string) api.DeviceType {
	switch connType {
	case nm.TypeWifi:
		return api.DeviceTypeWifi
	case nm.TypeInfiniband:
		return api.DeviceTypeInfiniband
	case nm.TypeBond:
		return api.DeviceTypeBond
	case nm.TypeVLAN:
		return api.DeviceTypeVLAN
	case nm.TypeBridge:
		return api.DeviceTypeBridge
	case nm.TypeTeam:
		return api.DeviceTypeTeam
	default:
		return api.DeviceTypeEthernet
	}
}
