package keyboard

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/lxc/incus/v6/shared/revert"

	"github.com/osinstall/instconfd/api"
	"github.com/osinstall/instconfd/internal/insterrors"
	"github.com/osinstall/instconfd/internal/localed"
	"github.com/osinstall/instconfd/internal/task"
	"github.com/osinstall/instconfd/internal/util"
)

const (
	// X11ConfigPath is the keyboard configuration written by the locale daemon.
	X11ConfigPath = "/etc/X11/xorg.conf.d/00-keyboard.conf"

	// VConsoleConfigPath is the virtual console configuration.
	VConsoleConfigPath = "/etc/vconsole.conf"
)

// Languages written in Cyrillic script, which need a console font covering it.
var cyrillicLanguages = []string{"ru", "uk", "be", "bg", "mk", "sr", "kk", "ky", "mn", "tg"}

// VConsoleFont returns the console font suitable for the language.
func VConsoleFont(language string, defaultFont string, cyrillicFont string) string {
	code, _, _ := strings.Cut(language, "_")
	code, _, _ = strings.Cut(code, ".")
	code, _, _ = strings.Cut(code, "@")

	for _, c := range cyrillicLanguages {
		if c == code {
			return cyrillicFont
		}
	}

	return defaultFont
}

// InstallOptions configures the keyboard installation.
type InstallOptions struct {
	Sysroot  string
	HostRoot string

	Language      string
	Keyboard      api.KeyboardConfiguration
	SwitchOptions []string

	DefaultKeyboard string
	DefaultFont     string
	CyrillicFont    string
}

// InstallationTask writes the keyboard configuration of the target system.
type InstallationTask struct {
	*task.Base

	localed *localed.LocaleD
	live    LiveKeyboard
	opts    InstallOptions
}

// NewInstallationTask returns the keyboard installation task.
func NewInstallationTask(l *localed.LocaleD, live LiveKeyboard, opts InstallOptions) *InstallationTask {
	return &InstallationTask{
		Base:    task.NewBase("Configure keyboard", 2),
		localed: l,
		live:    live,
		opts:    opts,
	}
}

// Run implements task.Task.
func (t *InstallationTask) Run(ctx context.Context) error {
	cfg := t.opts.Keyboard
	if !cfg.IsComplete() {
		cfg = Complete(ctx, t.localed, t.live, t.opts.DefaultKeyboard, cfg)
	}

	t.ReportProgress("Writing X11 keyboard configuration")

	err := t.writeX11Config(ctx, cfg.XLayouts)
	if err != nil {
		return err
	}

	t.ReportProgress("Writing virtual console configuration")

	return writeVConsoleConfig(t.opts.Sysroot, cfg.VCKeymap, VConsoleFont(t.opts.Language, t.opts.DefaultFont, t.opts.CyrillicFont))
}

// writeX11Config has the locale daemon write the configuration for the layouts and copies
// it to the target. The running session keeps its layouts.
func (t *InstallationTask) writeX11Config(ctx context.Context, layouts []string) error {
	if !t.localed.Available() {
		slog.WarnContext(ctx, "Locale daemon isn't available, skipping the X11 keyboard configuration")

		return nil
	}

	state := t.localed.Save(ctx)
	defer t.localed.Restore(ctx, state)

	t.localed.SetLayouts(ctx, layouts, t.opts.SwitchOptions, false)

	src := util.JoinRoot(t.opts.HostRoot, X11ConfigPath)
	dst := util.JoinRoot(t.opts.Sysroot, X11ConfigPath)

	if !util.PathExists(src) {
		slog.WarnContext(ctx, "The locale daemon didn't write an X11 keyboard configuration", "path", src)

		return nil
	}

	reverter := revert.New()
	defer reverter.Fail()

	if !util.PathExists(dst) {
		reverter.Add(func() { _ = os.Remove(dst) })
	}

	_, err := util.CopyFile(src, dst, true)
	if err != nil {
		return insterrors.Keyboard(err, "cannot write the X11 keyboard configuration")
	}

	reverter.Success()

	return nil
}

func writeVConsoleConfig(sysroot string, keymap string, font string) error {
	var sb strings.Builder

	if keymap != "" {
		fmt.Fprintf(&sb, "KEYMAP=\"%s\"\n", keymap)
	}

	fmt.Fprintf(&sb, "FONT=\"%s\"\n", font)

	err := os.WriteFile(util.JoinRoot(sysroot, VConsoleConfigPath), []byte(sb.String()), 0o644) //nolint:gosec
	if err != nil {
		return insterrors.Keyboard(err, "cannot write the virtual console configuration file")
	}

	return nil
}

// ConfigurationTask completes a keyboard configuration without applying it.
type ConfigurationTask struct {
	*task.Base

	conv            Converter
	live            LiveKeyboard
	defaultKeyboard string
	cfg             api.KeyboardConfiguration

	result api.KeyboardConfiguration
}

// NewPopulateMissingTask returns the task completing the configuration of the service.
func NewPopulateMissingTask(conv Converter, live LiveKeyboard, defaultKeyboard string, cfg api.KeyboardConfiguration) *ConfigurationTask {
	return &ConfigurationTask{
		Base:            task.NewBase("Populate missing keyboard configuration", 1),
		conv:            conv,
		live:            live,
		defaultKeyboard: defaultKeyboard,
		cfg:             cfg,
	}
}

// NewGetConfigurationTask returns a task only reporting the completed configuration.
func NewGetConfigurationTask(conv Converter, live LiveKeyboard, defaultKeyboard string, cfg api.KeyboardConfiguration) *ConfigurationTask {
	t := NewPopulateMissingTask(conv, live, defaultKeyboard, cfg)
	t.Base = task.NewBase("Get keyboard configuration", 1)

	return t
}

// Run implements task.Task.
func (t *ConfigurationTask) Run(ctx context.Context) error {
	t.result = Complete(ctx, t.conv, t.live, t.defaultKeyboard, t.cfg)

	return nil
}

// Result returns the completed configuration.
func (t *ConfigurationTask) Result() api.KeyboardConfiguration {
	return t.result
}

// ApplyTask activates a keyboard configuration in the running installer.
type ApplyTask struct {
	*task.Base

	localed       *localed.LocaleD
	loader        KeymapLoader
	canActivate   bool
	cfg           api.KeyboardConfiguration
	switchOptions []string

	result api.KeyboardConfiguration
}

// NewApplyTask returns the task applying the keyboard configuration.
func NewApplyTask(l *localed.LocaleD, loader KeymapLoader, canActivate bool, cfg api.KeyboardConfiguration, switchOptions []string) *ApplyTask {
	return &ApplyTask{
		Base:          task.NewBase("Apply keyboard configuration", 1),
		localed:       l,
		loader:        loader,
		canActivate:   canActivate,
		cfg:           cfg,
		switchOptions: switchOptions,
	}
}

// Run implements task.Task.
func (t *ApplyTask) Run(ctx context.Context) error {
	layouts := t.cfg.XLayouts
	keymap := t.cfg.VCKeymap

	if keymap != "" && t.canActivate {
		loaded, err := t.loader.LoadKeymap(ctx, keymap)
		if err != nil {
			return err
		}

		if !loaded {
			slog.WarnContext(ctx, "Keymap can't be loaded, ignoring it", "keymap", keymap)

			keymap = ""
		}
	}

	switch {
	case len(layouts) > 0:
		t.localed.SetLayouts(ctx, layouts, t.switchOptions, keymap == "")

		if keymap == "" {
			keymap = t.localed.Keymap(ctx)
		} else {
			t.localed.SetKeymap(ctx, keymap, false)
		}

	case keymap != "":
		layouts = t.localed.SetAndConvertKeymap(ctx, keymap)
	}

	if layouts == nil {
		layouts = []string{}
	}

	t.result = api.KeyboardConfiguration{XLayouts: layouts, VCKeymap: keymap}

	return nil
}

// Result returns the configuration now active.
func (t *ApplyTask) Result() api.KeyboardConfiguration {
	return t.result
}
