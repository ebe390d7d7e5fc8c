package localed

import (
	"context"
	"errors"
	"testing"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/require"

	"github.com/osinstall/instconfd/internal/localed/localedtest"
)

var keymaps = map[string]string{
	"us":        "us",
	"cz":        "cz",
	"cz-qwerty": "cz (qwerty)",
}

func TestParseLayoutVariant(t *testing.T) {
	t.Parallel()

	layout, variant, err := ParseLayoutVariant("cz (qwerty)")
	require.NoError(t, err)
	require.Equal(t, "cz", layout)
	require.Equal(t, "qwerty", variant)

	layout, variant, err = ParseLayoutVariant(" us ")
	require.NoError(t, err)
	require.Equal(t, "us", layout)
	require.Empty(t, variant)

	_, _, err = ParseLayoutVariant("cz (qwerty")
	require.Error(t, err)

	require.Equal(t, "cz (qwerty)", JoinLayoutVariant("cz", "qwerty"))
	require.Equal(t, "us", JoinLayoutVariant("us", ""))
}

func TestReadProperties(t *testing.T) {
	t.Parallel()

	d := localedtest.NewDaemon(keymaps)
	d.Keymap = "cz"
	d.Layout = "cz,us,de"
	d.Variant = "qwerty"
	d.Opts = "grp:alt_shift_toggle,grp:caps_toggle"

	l := NewFromObject(d)
	ctx := context.Background()

	require.Equal(t, "cz", l.Keymap(ctx))
	require.Equal(t, []string{"cz (qwerty)", "us", "de"}, l.LayoutsVariants(ctx))
	require.Equal(t, []string{"grp:alt_shift_toggle", "grp:caps_toggle"}, l.Options(ctx))
}

func TestReadFailure(t *testing.T) {
	t.Parallel()

	d := localedtest.NewDaemon(keymaps)
	d.Failures["org.freedesktop.locale1.VConsoleKeymap"] = errors.New("no such property")

	l := NewFromObject(d)
	require.Empty(t, l.Keymap(context.Background()))
	require.Empty(t, l.LayoutsVariants(context.Background()))
}

func TestConvertRestores(t *testing.T) {
	t.Parallel()

	d := localedtest.NewDaemon(keymaps)
	d.Keymap = "us"
	d.Layout = "us"
	d.Opts = "grp:alt_shift_toggle"

	l := NewFromObject(d)
	ctx := context.Background()

	require.Equal(t, []string{"cz (qwerty)"}, l.ConvertKeymap(ctx, "cz-qwerty"))
	require.Equal(t, "cz-qwerty", l.ConvertLayouts(ctx, []string{"cz (qwerty)", "us"}))

	keymap, layout, variant, opts := d.State()
	require.Equal(t, "us", keymap)
	require.Equal(t, "us", layout)
	require.Empty(t, variant)
	require.Equal(t, "grp:alt_shift_toggle", opts)
}

func TestConvertRestoresOnFailure(t *testing.T) {
	t.Parallel()

	d := localedtest.NewDaemon(keymaps)
	d.Keymap = "us"
	d.Layout = "us"
	d.Failures["SetVConsoleKeyboard"] = errors.New("denied")

	l := NewFromObject(d)

	// The conversion fails, the daemon still receives the restoring layout change.
	require.Equal(t, []string{"us"}, l.ConvertKeymap(context.Background(), "cz"))
	require.Contains(t, d.Calls, "SetX11Keyboard[us    false false]")
}

func TestSetLayouts(t *testing.T) {
	t.Parallel()

	d := localedtest.NewDaemon(keymaps)
	l := NewFromObject(d)

	l.SetLayouts(context.Background(), []string{"cz (qwerty)", "us", "bad (layout"}, []string{"grp:alt_shift_toggle"}, false)

	_, layout, variant, opts := d.State()
	require.Equal(t, "cz,us", layout)
	require.Equal(t, "qwerty,", variant)
	require.Equal(t, "grp:alt_shift_toggle", opts)
}

func TestUnavailable(t *testing.T) {
	t.Parallel()

	_, err := New(nil, true)
	require.ErrorIs(t, err, ErrUnavailable)

	l, err := New(nil, false)
	require.NoError(t, err)
	require.False(t, l.Available())
	require.Empty(t, l.Keymap(context.Background()))
	require.Empty(t, l.ConvertKeymap(context.Background(), "us"))
	require.Empty(t, l.ConvertLayouts(context.Background(), []string{"us"}))
	l.SetKeymap(context.Background(), "us", true)
}

// messageBus answers the name queries of the message bus.
type messageBus struct {
	dbus.BusObject

	owned       bool
	activatable []string
}

func (b *messageBus) Call(method string, _ dbus.Flags, _ ...any) *dbus.Call {
	switch method {
	case "org.freedesktop.DBus.NameHasOwner":
		return &dbus.Call{Body: []any{b.owned}}
	case "org.freedesktop.DBus.ListActivatableNames":
		return &dbus.Call{Body: []any{b.activatable}}
	}

	return &dbus.Call{Err: errors.New("unknown method " + method)}
}

func TestNameLookup(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		bus       *messageBus
		required  bool
		available bool
		err       error
	}{
		{"owned", &messageBus{owned: true}, true, true, nil},
		{"activatable", &messageBus{activatable: []string{"org.freedesktop.hostname1", busName}}, true, true, nil},
		{"missing required", &messageBus{activatable: []string{"org.freedesktop.hostname1"}}, true, false, ErrUnavailable},
		{"missing optional", &messageBus{}, false, false, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			l, err := newChecked(tt.bus, localedtest.NewDaemon(keymaps), tt.required)
			if tt.err != nil {
				require.ErrorIs(t, err, tt.err)

				return
			}

			require.NoError(t, err)
			require.Equal(t, tt.available, l.Available())
		})
	}
}
