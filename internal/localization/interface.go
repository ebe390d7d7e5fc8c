package localization

import (
	"context"

	"github.com/godbus/dbus/v5"

	"github.com/osinstall/instconfd/api"
	"github.com/osinstall/instconfd/internal/bus"
	"github.com/osinstall/instconfd/internal/task"
)

// Bus names of the service.
const (
	BusName       = "org.osinstall.Instconf.Localization"
	ObjectPath    = dbus.ObjectPath("/org/osinstall/Instconf/Localization")
	InterfaceName = "org.osinstall.Instconf.Localization"
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

// Interface publishes the service on the bus.
type Interface struct {
	ctx       context.Context //nolint:containedctx
	svc       *Service
	conn      bus.Exporter
	scheduler *bus.Scheduler
	props     *bus.Properties
	tasks     *task.Publisher
}

// NewInterface binds the service properties. Method calls are run on the scheduler's
// main loop. Call Publish to export it.
func NewInterface(ctx context.Context, svc *Service, conn bus.Exporter, scheduler *bus.Scheduler) *Interface {
	i := &Interface{
		ctx:       ctx,
		svc:       svc,
		conn:      conn,
		scheduler: scheduler,
		props:     bus.NewProperties(conn, ObjectPath, InterfaceName),
		tasks:     task.NewPublisher(conn, scheduler, ObjectPath),
	}

	i.props.Define("Language", func() any { return svc.Model().Language })
	i.props.Define("LanguageSupport", func() any { return svc.Model().LanguageSupport })
	i.props.Define("VirtualConsoleKeymap", func() any { return svc.Model().VCKeymap })
	i.props.Define("XLayouts", func() any { return svc.Model().XLayouts })
	i.props.Define("LayoutSwitchOptions", func() any { return svc.Model().SwitchOptions })
	i.props.Define("LanguageKickstarted", func() any { return svc.Model().LanguageSeen })
	i.props.Define("KeyboardKickstarted", func() any { return svc.Model().KeyboardSeen })

	svc.LanguageChanged.Connect(func(string) { i.changed("Language") })
	svc.LanguageSupportChanged.Connect(func([]string) { i.changed("LanguageSupport") })
	svc.VCKeymapChanged.Connect(func(string) { i.changed("VirtualConsoleKeymap") })
	svc.XLayoutsChanged.Connect(func([]string) { i.changed("XLayouts") })
	svc.SwitchOptionsChanged.Connect(func([]string) { i.changed("LayoutSwitchOptions") })
	svc.LanguageSeenChanged.Connect(func(bool) { i.changed("LanguageKickstarted") })
	svc.KeyboardSeenChanged.Connect(func(bool) { i.changed("KeyboardKickstarted") })

	return i
}

// Publish exports the interface.
func (i *Interface) Publish() error {
	return bus.Publish(i.conn, bus.Object{
		Path:       ObjectPath,
		Interface:  InterfaceName,
		Methods:    &methods{i: i},
		Properties: i.props,
	})
}

// Properties returns the published property set.
func (i *Interface) Properties() *bus.Properties {
	return i.props
}

// changed marks a property and schedules a flush. Setters called within one main loop
// callback end up in the same PropertiesChanged signal.
func (i *Interface) changed(name string) {
	i.props.Changed(name)

	if i.scheduler == nil {
		_ = i.props.Flush()

		return
	}

	i.scheduler.RunOnMain(func() { _ = i.props.Flush() })
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

func (i *Interface) publishTask(t task.Task) (dbus.ObjectPath, error) {
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
		return m.i.svc.ReadKickstart(m.i.ctx, content), nil
	})

	return toMessages(report.Errors), toMessages(report.Warnings), dErr
}

// GenerateKickstart returns the kickstart of the service.
func (m *methods) GenerateKickstart() (string, *dbus.Error) {
	return onMain(m.i, func() (string, error) { return m.i.svc.GenerateKickstart(), nil })
}

// CollectRequirements returns the requirements of the service.
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
func (m *methods) InstallWithTasks(sysroot string) ([]dbus.ObjectPath, *dbus.Error) {
	return onMain(m.i, func() ([]dbus.ObjectPath, error) {
		return m.i.tasks.Publish(m.i.ctx, m.i.svc.InstallWithTasks(sysroot))
	})
}

// PopulateMissingKeyboardConfigurationWithTask publishes the task completing the keyboard.
func (m *methods) PopulateMissingKeyboardConfigurationWithTask() (dbus.ObjectPath, *dbus.Error) {
	return onMain(m.i, func() (dbus.ObjectPath, error) {
		return m.i.publishTask(m.i.svc.PopulateMissingKeyboardConfigurationWithTask())
	})
}

// ApplyKeyboardWithTask publishes the task activating the keyboard.
func (m *methods) ApplyKeyboardWithTask() (dbus.ObjectPath, *dbus.Error) {
	return onMain(m.i, func() (dbus.ObjectPath, error) {
		return m.i.publishTask(m.i.svc.ApplyKeyboardWithTask())
	})
}

// GetKeyboardConfigurationWithTask publishes the task reporting the completed keyboard.
func (m *methods) GetKeyboardConfigurationWithTask() (dbus.ObjectPath, *dbus.Error) {
	return onMain(m.i, func() (dbus.ObjectPath, error) {
		return m.i.publishTask(m.i.svc.GetKeyboardConfigurationWithTask())
	})
}

// SetLanguage sets the language.
func (m *methods) SetLanguage(language string) *dbus.Error {
	_, err := onMain(m.i, func() (struct{}, error) {
		m.i.svc.SetLanguage(language)

		return struct{}{}, nil
	})

	return err
}

// SetLanguageSupport sets the additional languages.
func (m *methods) SetLanguageSupport(languages []string) *dbus.Error {
	_, err := onMain(m.i, func() (struct{}, error) {
		m.i.svc.SetLanguageSupport(languages)

		return struct{}{}, nil
	})

	return err
}

// SetVirtualConsoleKeymap sets the virtual console keymap.
func (m *methods) SetVirtualConsoleKeymap(keymap string) *dbus.Error {
	_, err := onMain(m.i, func() (struct{}, error) {
		m.i.svc.SetVCKeymap(keymap)

		return struct{}{}, nil
	})

	return err
}

// SetXLayouts sets the X layouts.
func (m *methods) SetXLayouts(layouts []string) *dbus.Error {
	_, err := onMain(m.i, func() (struct{}, error) {
		m.i.svc.SetXLayouts(layouts)

		return struct{}{}, nil
	})

	return err
}

// SetLayoutSwitchOptions sets the layout switching options.
func (m *methods) SetLayoutSwitchOptions(options []string) *dbus.Error {
	_, err := onMain(m.i, func() (struct{}, error) {
		m.i.svc.SetSwitchOptions(options)

		return struct{}{}, nil
	})

	return err
}

// SetKeyboardKickstarted sets whether the keyboard came from kickstart.
func (m *methods) SetKeyboardKickstarted(seen bool) *dbus.Error {
	_, err := onMain(m.i, func() (struct{}, error) {
		m.i.svc.SetKeyboardSeen(seen)

		return struct{}{}, nil
	})

	return err
}

// SetLanguageKickstarted sets whether the language came from kickstart.
func (m *methods) SetLanguageKickstarted(seen bool) *dbus.Error {
	_, err := onMain(m.i, func() (struct{}, error) {
		m.i.svc.SetLanguageSeen(seen)

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
