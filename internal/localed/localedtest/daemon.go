// Package localedtest provides an in-memory locale daemon for tests.
package localedtest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/godbus/dbus/v5"
)

// Daemon is an in-memory locale daemon object. Only the properties and methods of the
// org.freedesktop.locale1 interface are implemented.
type Daemon struct {
	dbus.BusObject

	mu sync.Mutex

	Keymap   string
	Layout   string
	Variant  string
	Opts     string
	Calls    []string
	Failures map[string]error

	// Keymaps maps a keymap to the "layout" or "layout (variant)" it converts to.
	Keymaps map[string]string

	// X11ConfPath receives a configuration file on every X11 keyboard change when set.
	X11ConfPath string
}

// NewDaemon returns a daemon converting with the given keymap table.
func NewDaemon(keymaps map[string]string) *Daemon {
	return &Daemon{Keymaps: keymaps, Failures: map[string]error{}}
}

// GetProperty implements dbus.BusObject.
func (d *Daemon) GetProperty(p string) (dbus.Variant, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	err := d.Failures[p]
	if err != nil {
		return dbus.Variant{}, err
	}

	switch strings.TrimPrefix(p, "org.freedesktop.locale1.") {
	case "VConsoleKeymap":
		return dbus.MakeVariant(d.Keymap), nil
	case "X11Layout":
		return dbus.MakeVariant(d.Layout), nil
	case "X11Variant":
		return dbus.MakeVariant(d.Variant), nil
	case "X11Options":
		return dbus.MakeVariant(d.Opts), nil
	}

	return dbus.Variant{}, fmt.Errorf("unknown property %q", p)
}

// CallWithContext implements dbus.BusObject.
func (d *Daemon) CallWithContext(_ context.Context, method string, _ dbus.Flags, args ...any) *dbus.Call {
	d.mu.Lock()
	defer d.mu.Unlock()

	name := strings.TrimPrefix(method, "org.freedesktop.locale1.")
	d.Calls = append(d.Calls, fmt.Sprintf("%s%v", name, args))

	err := d.Failures[name]
	if err != nil {
		return &dbus.Call{Err: err}
	}

	switch name {
	case "SetVConsoleKeyboard":
		d.Keymap, _ = args[0].(string)

		convert, _ := args[2].(bool)
		if convert {
			d.Layout, d.Variant = "", ""

			spec, ok := d.Keymaps[d.Keymap]
			if ok {
				d.Layout, d.Variant = splitSpec(spec)
			}
		}

	case "SetX11Keyboard":
		d.Layout, _ = args[0].(string)
		d.Variant, _ = args[2].(string)
		d.Opts, _ = args[3].(string)

		convert, _ := args[4].(bool)
		if convert {
			d.Keymap = ""

			first := strings.Split(d.Layout, ",")[0]
			variant := strings.Split(d.Variant, ",")[0]

			for keymap, spec := range d.Keymaps {
				layout, v := splitSpec(spec)
				if layout == first && v == variant {
					d.Keymap = keymap

					break
				}
			}
		}

		if d.X11ConfPath != "" {
			err := d.writeX11Conf()
			if err != nil {
				return &dbus.Call{Err: err}
			}
		}

	default:
		return &dbus.Call{Err: fmt.Errorf("unknown method %q", method)}
	}

	return &dbus.Call{}
}

func (d *Daemon) writeX11Conf() error {
	err := os.MkdirAll(filepath.Dir(d.X11ConfPath), 0o755)
	if err != nil {
		return err
	}

	content := fmt.Sprintf(`Section "InputClass"
        Identifier "system-keyboard"
        MatchIsKeyboard "on"
        Option "XkbLayout" "%s"
        Option "XkbVariant" "%s"
        Option "XkbOptions" "%s"
EndSection
`, d.Layout, d.Variant, d.Opts)

	return os.WriteFile(d.X11ConfPath, []byte(content), 0o644) //nolint:gosec
}

// State returns the current keymap, layouts, variants and options.
func (d *Daemon) State() (string, string, string, string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.Keymap, d.Layout, d.Variant, d.Opts
}

func splitSpec(spec string) (string, string) {
	layout, variant, ok := strings.Cut(spec, " (")
	if !ok {
		return spec, ""
	}

	return layout, strings.TrimSuffix(variant, ")")
}
