// Package localed wraps the systemd locale daemon.
package localed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"strings"

	"github.com/godbus/dbus/v5"
)

const (
	busName    = "org.freedesktop.locale1"
	objectPath = "/org/freedesktop/locale1"
	iface      = "org.freedesktop.locale1"
)

// ErrUnavailable is returned when the daemon is required but can't be reached.
var ErrUnavailable = errors.New("locale daemon isn't available")

var layoutVariantRe = regexp.MustCompile(`^\s*([/\w]+)\s*(?:\(\s*([-\w]+)\s*\))?\s*$`)

// ParseLayoutVariant splits "layout (variant)" into its parts.
func ParseLayoutVariant(spec string) (string, string, error) {
	m := layoutVariantRe.FindStringSubmatch(spec)
	if m == nil {
		return "", "", fmt.Errorf("invalid keyboard layout and variant specification %q", spec)
	}

	return m[1], m[2], nil
}

// JoinLayoutVariant returns "layout (variant)", or "layout" for an empty variant.
func JoinLayoutVariant(layout string, variant string) string {
	if variant == "" {
		return layout
	}

	return layout + " (" + variant + ")"
}

// LocaleD talks to the locale daemon. Every read or write failure is logged and
// answered with an empty value, so an installer without the daemon keeps working.
type LocaleD struct {
	obj dbus.BusObject
}

// New returns a wrapper for the daemon on conn. If conn is nil or the daemon name is
// neither owned nor activatable, the wrapper is inert unless required is set, in which
// case ErrUnavailable is returned.
func New(conn *dbus.Conn, required bool) (*LocaleD, error) {
	if conn == nil {
		return unavailable(required)
	}

	return newChecked(conn.BusObject(), conn.Object(busName, objectPath), required)
}

// newChecked returns a wrapper for obj after asking the message bus object for the name.
func newChecked(msgBus dbus.BusObject, obj dbus.BusObject, required bool) (*LocaleD, error) {
	if !hasName(msgBus) {
		return unavailable(required)
	}

	return &LocaleD{obj: obj}, nil
}

func unavailable(required bool) (*LocaleD, error) {
	if required {
		return nil, ErrUnavailable
	}

	slog.Debug("Locale daemon isn't available, keyboard conversion is disabled")

	return &LocaleD{}, nil
}

func hasName(msgBus dbus.BusObject) bool {
	owned := false

	err := msgBus.Call("org.freedesktop.DBus.NameHasOwner", 0, busName).Store(&owned)
	if err == nil && owned {
		return true
	}

	activatable := []string{}

	err = msgBus.Call("org.freedesktop.DBus.ListActivatableNames", 0).Store(&activatable)
	if err != nil {
		slog.Debug("Failed to list activatable bus names", "err", err)

		return false
	}

	return slices.Contains(activatable, busName)
}

// NewFromObject returns a wrapper using obj as the daemon object.
func NewFromObject(obj dbus.BusObject) *LocaleD {
	return &LocaleD{obj: obj}
}

// Available reports whether the daemon can be used.
func (l *LocaleD) Available() bool {
	return l.obj != nil
}

func (l *LocaleD) property(name string) string {
	if l.obj == nil {
		return ""
	}

	v, err := l.obj.GetProperty(iface + "." + name)
	if err != nil {
		slog.Warn("Failed to read locale daemon property", "property", name, "err", err)

		return ""
	}

	s, ok := v.Value().(string)
	if !ok {
		slog.Warn("Unexpected locale daemon property type", "property", name, "signature", v.Signature().String())

		return ""
	}

	return s
}

func (l *LocaleD) call(ctx context.Context, method string, args ...any) bool {
	if l.obj == nil {
		return false
	}

	err := l.obj.CallWithContext(ctx, iface+"."+method, 0, args...).Err
	if err != nil {
		slog.WarnContext(ctx, "Locale daemon call failed", "method", method, "err", err)

		return false
	}

	return true
}

// Keymap returns the virtual console keymap.
func (l *LocaleD) Keymap(_ context.Context) string {
	return l.property("VConsoleKeymap")
}

// LayoutsVariants returns the X layouts, paired with their variants.
func (l *LocaleD) LayoutsVariants(_ context.Context) []string {
	layouts := splitValue(l.property("X11Layout"))
	variants := splitValue(l.property("X11Variant"))

	for len(variants) < len(layouts) {
		variants = append(variants, "")
	}

	ret := make([]string, 0, len(layouts))
	for i, layout := range layouts {
		ret = append(ret, JoinLayoutVariant(layout, variants[i]))
	}

	return ret
}

// Options returns the X layout switching options.
func (l *LocaleD) Options(_ context.Context) []string {
	return splitValue(l.property("X11Options"))
}

// SetKeymap sets the virtual console keymap. With convert, the X layouts are updated to
// match.
func (l *LocaleD) SetKeymap(ctx context.Context, keymap string, convert bool) {
	l.call(ctx, "SetVConsoleKeyboard", keymap, "", convert, false)
}

// SetLayouts sets the X layouts and switching options. With convert, the virtual console
// keymap is updated to match.
func (l *LocaleD) SetLayouts(ctx context.Context, layoutsVariants []string, options []string, convert bool) {
	layouts := make([]string, 0, len(layoutsVariants))
	variants := make([]string, 0, len(layoutsVariants))

	for _, spec := range layoutsVariants {
		layout, variant, err := ParseLayoutVariant(spec)
		if err != nil {
			slog.WarnContext(ctx, "Skipping keyboard layout", "err", err)

			continue
		}

		layouts = append(layouts, layout)
		variants = append(variants, variant)
	}

	l.call(ctx, "SetX11Keyboard",
		strings.Join(layouts, ","), "", strings.Join(variants, ","), strings.Join(options, ","), convert, false)
}

// SetAndConvertKeymap sets the keymap and returns the X layouts the daemon derived from it.
func (l *LocaleD) SetAndConvertKeymap(ctx context.Context, keymap string) []string {
	l.SetKeymap(ctx, keymap, true)

	return l.LayoutsVariants(ctx)
}

// SetAndConvertLayouts sets the X layouts and returns the keymap the daemon derived from them.
func (l *LocaleD) SetAndConvertLayouts(ctx context.Context, layoutsVariants []string) string {
	l.SetLayouts(ctx, layoutsVariants, nil, true)

	return l.Keymap(ctx)
}

// ConvertKeymap returns the X layouts matching keymap, leaving the daemon state unchanged.
func (l *LocaleD) ConvertKeymap(ctx context.Context, keymap string) []string {
	if !l.Available() {
		return []string{}
	}

	defer l.Restore(ctx, l.Save(ctx))

	return l.SetAndConvertKeymap(ctx, keymap)
}

// ConvertLayouts returns the keymap matching the X layouts, leaving the daemon state unchanged.
func (l *LocaleD) ConvertLayouts(ctx context.Context, layoutsVariants []string) string {
	if !l.Available() {
		return ""
	}

	defer l.Restore(ctx, l.Save(ctx))

	return l.SetAndConvertLayouts(ctx, layoutsVariants)
}

// State is a snapshot of the daemon's keyboard configuration.
type State struct {
	Keymap          string
	LayoutsVariants []string
	Options         []string
}

// Save returns the current keyboard configuration.
func (l *LocaleD) Save(ctx context.Context) State {
	return State{
		Keymap:          l.Keymap(ctx),
		LayoutsVariants: l.LayoutsVariants(ctx),
		Options:         l.Options(ctx),
	}
}

// Restore sets the keyboard configuration back to s without conversion.
func (l *LocaleD) Restore(ctx context.Context, s State) {
	l.SetLayouts(ctx, s.LayoutsVariants, s.Options, false)
	l.SetKeymap(ctx, s.Keymap, false)
}

func splitValue(value string) []string {
	if value == "" {
		return []string{}
	}

	return strings.Split(value, ",")
}
