package keyboard

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/osinstall/instconfd/api"
	"github.com/osinstall/instconfd/internal/insterrors"
	"github.com/osinstall/instconfd/internal/localed"
	"github.com/osinstall/instconfd/internal/localed/localedtest"
	"github.com/osinstall/instconfd/internal/task"
)

var keymaps = map[string]string{
	"us":        "us",
	"cz":        "cz",
	"cz-qwerty": "cz (qwerty)",
	"ru":        "ru",
}

type fakeLive []string

func (f fakeLive) ReadLayouts(_ context.Context) []string {
	return f
}

type fakeLoader struct {
	valid   map[string]bool
	missing bool
}

func (f fakeLoader) LoadKeymap(_ context.Context, keymap string) (bool, error) {
	if f.missing {
		return false, insterrors.KeyboardConfiguration("'loadkeys' command not available")
	}

	return f.valid[keymap], nil
}

func TestComplete(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		live LiveKeyboard
		in   api.KeyboardConfiguration
		out  api.KeyboardConfiguration
	}{
		{
			name: "keymap from layouts",
			in:   api.KeyboardConfiguration{XLayouts: []string{"cz (qwerty)", "us"}},
			out:  api.KeyboardConfiguration{XLayouts: []string{"cz (qwerty)", "us"}, VCKeymap: "cz-qwerty"},
		},
		{
			name: "layouts from keymap",
			in:   api.KeyboardConfiguration{VCKeymap: "cz"},
			out:  api.KeyboardConfiguration{XLayouts: []string{"cz"}, VCKeymap: "cz"},
		},
		{
			name: "both given",
			in:   api.KeyboardConfiguration{XLayouts: []string{"us"}, VCKeymap: "cz"},
			out:  api.KeyboardConfiguration{XLayouts: []string{"us"}, VCKeymap: "cz"},
		},
		{
			name: "default",
			in:   api.KeyboardConfiguration{},
			out:  api.KeyboardConfiguration{XLayouts: []string{"us"}, VCKeymap: "us"},
		},
		{
			name: "empty live session",
			live: fakeLive{},
			in:   api.KeyboardConfiguration{},
			out:  api.KeyboardConfiguration{XLayouts: []string{"us"}, VCKeymap: "us"},
		},
		{
			name: "live session",
			live: fakeLive{"ru", "us"},
			in:   api.KeyboardConfiguration{},
			out:  api.KeyboardConfiguration{XLayouts: []string{"ru", "us"}, VCKeymap: "ru"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			conv := localed.NewFromObject(localedtest.NewDaemon(keymaps))
			ctx := context.Background()

			got := Complete(ctx, conv, tt.live, "us", tt.in)
			require.Equal(t, tt.out, got)

			// Completing again changes nothing.
			require.Equal(t, got, Complete(ctx, conv, tt.live, "us", got))
		})
	}
}

func TestCompleteWithoutDaemon(t *testing.T) {
	t.Parallel()

	conv, err := localed.New(nil, false)
	require.NoError(t, err)

	ctx := context.Background()
	in := api.KeyboardConfiguration{VCKeymap: "cz"}

	got := Complete(ctx, conv, nil, "us", in)
	require.Equal(t, api.KeyboardConfiguration{XLayouts: []string{}, VCKeymap: "cz"}, got)
	require.Equal(t, got, Complete(ctx, conv, nil, "us", got))
}

func TestResolveGeneric(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	cfg, err := ResolveGeneric(ctx, fakeLoader{valid: map[string]bool{"us": true}}, true, "us")
	require.NoError(t, err)
	require.Equal(t, api.KeyboardConfiguration{VCKeymap: "us", XLayouts: []string{}}, cfg)

	cfg, err = ResolveGeneric(ctx, fakeLoader{}, true, "us")
	require.NoError(t, err)
	require.Equal(t, api.KeyboardConfiguration{XLayouts: []string{"us"}}, cfg)

	cfg, err = ResolveGeneric(ctx, fakeLoader{missing: true}, false, "us")
	require.NoError(t, err)
	require.Equal(t, "us", cfg.VCKeymap)

	_, err = ResolveGeneric(ctx, fakeLoader{missing: true}, true, "us")
	require.ErrorIs(t, err, insterrors.ErrKeyboardConfiguration)
}

func TestVConsoleFont(t *testing.T) {
	t.Parallel()

	require.Equal(t, "latarcyrheb-sun16", VConsoleFont("ru_RU.UTF-8", "eurlatgr", "latarcyrheb-sun16"))
	require.Equal(t, "latarcyrheb-sun16", VConsoleFont("sr_RS@latin", "eurlatgr", "latarcyrheb-sun16"))
	require.Equal(t, "eurlatgr", VConsoleFont("cs_CZ.UTF-8", "eurlatgr", "latarcyrheb-sun16"))
	require.Equal(t, "eurlatgr", VConsoleFont("", "eurlatgr", "latarcyrheb-sun16"))
}

func TestParseInputSources(t *testing.T) {
	t.Parallel()

	require.Equal(t, []string{"us", "cz (qwerty)"}, ParseInputSources("[('xkb', 'us'), ('ibus', 'anthy'), ('xkb', 'cz+qwerty')]\n"))
	require.Empty(t, ParseInputSources("@a(ss) []"))
}

func TestInstallationTask(t *testing.T) {
	t.Parallel()

	hostRoot := t.TempDir()
	sysroot := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(sysroot, "etc"), 0o755))

	d := localedtest.NewDaemon(keymaps)
	d.Layout = "us"
	d.Keymap = "us"
	d.X11ConfPath = filepath.Join(hostRoot, X11ConfigPath)

	it := NewInstallationTask(localed.NewFromObject(d), nil, InstallOptions{
		Sysroot:         sysroot,
		HostRoot:        hostRoot,
		Language:        "ru_RU.UTF-8",
		Keyboard:        api.KeyboardConfiguration{XLayouts: []string{"cz (qwerty)"}},
		SwitchOptions:   []string{"grp:alt_shift_toggle"},
		DefaultKeyboard: "us",
		DefaultFont:     "eurlatgr",
		CyrillicFont:    "latarcyrheb-sun16",
	})
	require.NoError(t, task.Run(context.Background(), it))

	content, err := os.ReadFile(filepath.Join(sysroot, VConsoleConfigPath))
	require.NoError(t, err)
	require.Equal(t, "KEYMAP=\"cz-qwerty\"\nFONT=\"latarcyrheb-sun16\"\n", string(content))

	content, err = os.ReadFile(filepath.Join(sysroot, X11ConfigPath))
	require.NoError(t, err)
	require.Contains(t, string(content), `Option "XkbLayout" "cz"`)
	require.Contains(t, string(content), `Option "XkbVariant" "qwerty"`)
	require.Contains(t, string(content), `Option "XkbOptions" "grp:alt_shift_toggle"`)

	// The running session is left as it was.
	keymap, layout, variant, opts := d.State()
	require.Equal(t, "us", keymap)
	require.Equal(t, "us", layout)
	require.Empty(t, variant)
	require.Empty(t, opts)
}

func TestInstallationTaskMissingEtc(t *testing.T) {
	t.Parallel()

	l, err := localed.New(nil, false)
	require.NoError(t, err)

	it := NewInstallationTask(l, nil, InstallOptions{
		Sysroot:         filepath.Join(t.TempDir(), "missing"),
		Keyboard:        api.KeyboardConfiguration{VCKeymap: "us", XLayouts: []string{"us"}},
		DefaultKeyboard: "us",
		DefaultFont:     "eurlatgr",
	})

	err = it.Run(context.Background())
	require.ErrorIs(t, err, insterrors.ErrKeyboardInstallation)
}

func TestConfigurationTasks(t *testing.T) {
	t.Parallel()

	conv := localed.NewFromObject(localedtest.NewDaemon(keymaps))

	populate := NewPopulateMissingTask(conv, nil, "us", api.KeyboardConfiguration{VCKeymap: "cz-qwerty"})
	require.NoError(t, populate.Run(context.Background()))
	require.Equal(t, api.KeyboardConfiguration{XLayouts: []string{"cz (qwerty)"}, VCKeymap: "cz-qwerty"}, populate.Result())
	require.Equal(t, "Populate missing keyboard configuration", populate.Name())

	get := NewGetConfigurationTask(conv, nil, "us", api.KeyboardConfiguration{})
	require.NoError(t, get.Run(context.Background()))
	require.Equal(t, api.KeyboardConfiguration{XLayouts: []string{"us"}, VCKeymap: "us"}, get.Result())
	require.Equal(t, "Get keyboard configuration", get.Name())
}

func TestApplyTask(t *testing.T) {
	t.Parallel()

	d := localedtest.NewDaemon(keymaps)
	l := localed.NewFromObject(d)
	loader := fakeLoader{valid: map[string]bool{"cz": true}}

	apply := NewApplyTask(l, loader, true, api.KeyboardConfiguration{VCKeymap: "cz"}, nil)
	require.NoError(t, apply.Run(context.Background()))
	require.Equal(t, api.KeyboardConfiguration{XLayouts: []string{"cz"}, VCKeymap: "cz"}, apply.Result())

	apply = NewApplyTask(l, loader, true, api.KeyboardConfiguration{VCKeymap: "bogus", XLayouts: []string{"cz (qwerty)"}}, []string{"grp:alt_shift_toggle"})
	require.NoError(t, apply.Run(context.Background()))
	require.Equal(t, api.KeyboardConfiguration{XLayouts: []string{"cz (qwerty)"}, VCKeymap: "cz-qwerty"}, apply.Result())

	_, _, _, opts := d.State()
	require.Equal(t, "grp:alt_shift_toggle", opts)

	apply = NewApplyTask(l, fakeLoader{missing: true}, true, api.KeyboardConfiguration{VCKeymap: "cz"}, nil)
	require.ErrorIs(t, apply.Run(context.Background()), insterrors.ErrKeyboardConfiguration)
}
