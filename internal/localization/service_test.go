package localization

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/osinstall/instconfd/api"
	"github.com/osinstall/instconfd/internal/config"
	"github.com/osinstall/instconfd/internal/insterrors"
	"github.com/osinstall/instconfd/internal/localed"
	"github.com/osinstall/instconfd/internal/localed/localedtest"
	"github.com/osinstall/instconfd/internal/task"
)

var keymaps = map[string]string{
	"us":        "us",
	"cz":        "cz",
	"cz-qwerty": "cz (qwerty)",
}

type fakeLoader struct {
	works bool
	err   error
}

func (f fakeLoader) LoadKeymap(_ context.Context, _ string) (bool, error) {
	return f.works, f.err
}

func newService(t *testing.T, loader fakeLoader) *Service {
	t.Helper()

	cfg := config.Default()
	cfg.System.ProvidesLiveuser = false

	return New(cfg, nil, localed.NewFromObject(localedtest.NewDaemon(keymaps)), loader)
}

func TestKeyboardGenericValidKeymap(t *testing.T) {
	t.Parallel()

	svc := newService(t, fakeLoader{works: true})

	report := svc.ReadKickstart(context.Background(), "keyboard us\n")
	require.True(t, report.IsValid())

	m := svc.Model()
	require.True(t, m.KeyboardSeen)
	require.Equal(t, "us", m.VCKeymap)
	require.Empty(t, m.XLayouts)
	require.Equal(t, "keyboard --vckeymap=us\n", svc.GenerateKickstart())
}

func TestKeyboardGenericLoaderFailure(t *testing.T) {
	t.Parallel()

	svc := newService(t, fakeLoader{err: errors.New("loadkeys is missing")})

	seen := []bool{}
	svc.KeyboardSeenChanged.Connect(func(v bool) { seen = append(seen, v) })

	report := svc.ReadKickstart(context.Background(), "lang cs_CZ.UTF-8\nkeyboard us\n")
	require.False(t, report.IsValid())
	require.Equal(t, 2, report.Errors[0].LineNumber)

	// Nothing of the keyboard command is applied.
	m := svc.Model()
	require.False(t, m.KeyboardSeen)
	require.Empty(t, m.VCKeymap)
	require.Empty(t, m.XLayouts)
	require.Empty(t, seen)
	require.Equal(t, "lang cs_CZ.UTF-8\n", svc.GenerateKickstart())
}

func TestKeyboardGenericInvalidKeymap(t *testing.T) {
	t.Parallel()

	svc := newService(t, fakeLoader{works: false})

	report := svc.ReadKickstart(context.Background(), "keyboard us\n")
	require.True(t, report.IsValid())

	m := svc.Model()
	require.Empty(t, m.VCKeymap)
	require.Equal(t, []string{"us"}, m.XLayouts)
	require.Equal(t, "keyboard --xlayouts='us'\n", svc.GenerateKickstart())
}

func TestKeyboardGenericIgnored(t *testing.T) {
	t.Parallel()

	svc := newService(t, fakeLoader{works: true})

	report := svc.ReadKickstart(context.Background(), "keyboard --vckeymap cz us\n")
	require.True(t, report.IsValid())

	m := svc.Model()
	require.Equal(t, "cz", m.VCKeymap)
	require.Empty(t, m.XLayouts)
}

func TestKeyboardActivationDisabled(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.System.CanActivateKeyboard = false

	svc := New(cfg, nil, localed.NewFromObject(localedtest.NewDaemon(keymaps)), fakeLoader{works: false})

	report := svc.ReadKickstart(context.Background(), "keyboard cz\n")
	require.True(t, report.IsValid())
	require.Equal(t, "cz", svc.Model().VCKeymap)
}

func TestKickstartRoundTrip(t *testing.T) {
	t.Parallel()

	ks := "lang cs_CZ.UTF-8 --addsupport=en_US.UTF-8\nkeyboard --vckeymap=cz --xlayouts='cz (qwerty)','us' --switch='grp:alt_shift_toggle'\n"

	svc := newService(t, fakeLoader{works: true})

	seen := []string{}
	svc.LanguageSeenChanged.Connect(func(bool) { seen = append(seen, "language_seen") })
	svc.LanguageChanged.Connect(func(string) { seen = append(seen, "language") })

	report := svc.ReadKickstart(context.Background(), ks)
	require.True(t, report.IsValid())
	require.Equal(t, []string{"language_seen", "language"}, seen)
	require.Equal(t, ks, svc.GenerateKickstart())

	m := svc.Model()
	require.True(t, m.LanguageSeen)
	require.Equal(t, []string{"cz (qwerty)", "us"}, m.XLayouts)
	require.Equal(t, []string{"grp:alt_shift_toggle"}, m.SwitchOptions)

	require.Equal(t, []api.Requirement{
		{Type: api.RequirementTypeLanguage, Name: "cs_CZ.UTF-8", Reason: "Required to support the locale."},
		{Type: api.RequirementTypeLanguage, Name: "en_US.UTF-8", Reason: "Required to support the locale."},
	}, svc.CollectRequirements())
}

func TestReadKickstartInvalid(t *testing.T) {
	t.Parallel()

	svc := newService(t, fakeLoader{works: true})

	report := svc.ReadKickstart(context.Background(), "\nlang\n")
	require.False(t, report.IsValid())
	require.Equal(t, 2, report.Errors[0].LineNumber)
	require.Empty(t, svc.Model().Language)
}

func TestLanguageInstallationFallback(t *testing.T) {
	t.Parallel()

	sysroot := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(sysroot, "etc"), 0o755))

	it := NewLanguageInstallationTask(sysroot, "cs_CZ.UTF-8", "C.UTF-8")
	it.listLocales = func(context.Context, string) ([]string, error) {
		return []string{"C.utf8"}, nil
	}

	require.NoError(t, task.Run(context.Background(), it))

	content, err := os.ReadFile(filepath.Join(sysroot, LocaleConfigPath))
	require.NoError(t, err)
	require.Equal(t, "LANG=\"C.UTF-8\"\n", string(content))
}

func TestLanguageInstallation(t *testing.T) {
	t.Parallel()

	sysroot := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(sysroot, "etc"), 0o755))

	it := NewLanguageInstallationTask(sysroot, "cs_CZ.UTF-8", "C.UTF-8")
	it.listLocales = func(context.Context, string) ([]string, error) {
		return []string{"C.utf8", "cs_CZ.utf8", "en_US.utf8"}, nil
	}

	require.NoError(t, it.Run(context.Background()))

	content, err := os.ReadFile(filepath.Join(sysroot, LocaleConfigPath))
	require.NoError(t, err)
	require.Equal(t, "LANG=\"cs_CZ.UTF-8\"\n", string(content))

	// The locale database can't be read, the language is kept.
	it = NewLanguageInstallationTask(sysroot, "de_DE.UTF-8", "C.UTF-8")
	it.listLocales = func(context.Context, string) ([]string, error) {
		return nil, errors.New("no locale binary")
	}

	require.NoError(t, it.Run(context.Background()))

	content, err = os.ReadFile(filepath.Join(sysroot, LocaleConfigPath))
	require.NoError(t, err)
	require.Equal(t, "LANG=\"de_DE.UTF-8\"\n", string(content))
}

func TestLanguageInstallationError(t *testing.T) {
	t.Parallel()

	it := NewLanguageInstallationTask(filepath.Join(t.TempDir(), "missing"), "en_US.UTF-8", "C.UTF-8")
	it.listLocales = func(context.Context, string) ([]string, error) {
		return []string{"en_US.utf8"}, nil
	}

	require.ErrorIs(t, it.Run(context.Background()), insterrors.ErrLanguageInstallation)
}

func TestNormalizeLocale(t *testing.T) {
	t.Parallel()

	require.Equal(t, "cs_CZ.utf8", normalizeLocale("cs_CZ.UTF-8"))
	require.Equal(t, "sr_RS.utf8@latin", normalizeLocale("sr_RS.UTF-8@latin"))
	require.Equal(t, "en_US", normalizeLocale("en_US"))
}

func TestInstallWithTasks(t *testing.T) {
	t.Parallel()

	svc := newService(t, fakeLoader{works: true})
	svc.SetLanguage("en_US.UTF-8")

	tasks := svc.InstallWithTasks("/mnt/sysroot")
	require.Len(t, tasks, 2)
	require.Equal(t, "Configure language", tasks[0].Name())
	require.Equal(t, "Configure keyboard", tasks[1].Name())
}

func TestPopulateMissingKeyboardConfiguration(t *testing.T) {
	t.Parallel()

	svc := newService(t, fakeLoader{works: true})
	svc.SetVCKeymap("cz-qwerty")

	require.NoError(t, task.Run(context.Background(), svc.PopulateMissingKeyboardConfigurationWithTask()))
	require.Equal(t, api.KeyboardConfiguration{XLayouts: []string{"cz (qwerty)"}, VCKeymap: "cz-qwerty"}, svc.KeyboardConfiguration())

	svc.SetXLayouts(nil)

	get := svc.GetKeyboardConfigurationWithTask()
	require.NoError(t, task.Run(context.Background(), get))
	require.Empty(t, svc.Model().XLayouts)
}

func TestApplyKeyboard(t *testing.T) {
	t.Parallel()

	svc := newService(t, fakeLoader{works: true})
	svc.SetVCKeymap("cz")

	require.NoError(t, task.Run(context.Background(), svc.ApplyKeyboardWithTask()))
	require.Equal(t, []string{"cz"}, svc.Model().XLayouts)
}
