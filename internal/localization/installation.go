package localization

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/osinstall/instconfd/internal/insterrors"
	"github.com/osinstall/instconfd/internal/task"
	"github.com/osinstall/instconfd/internal/util"
)

// LocaleConfigPath is the system locale configuration.
const LocaleConfigPath = "/etc/locale.conf"

// LanguageInstallationTask writes the language configuration of the target system.
type LanguageInstallationTask struct {
	*task.Base

	sysroot  string
	language string
	fallback string

	listLocales func(ctx context.Context, sysroot string) ([]string, error)
}

// NewLanguageInstallationTask returns the language installation task. Languages the
// target doesn't have a locale for are replaced by fallback.
func NewLanguageInstallationTask(sysroot string, language string, fallback string) *LanguageInstallationTask {
	return &LanguageInstallationTask{
		Base:        task.NewBase("Configure language", 1),
		sysroot:     sysroot,
		language:    language,
		fallback:    fallback,
		listLocales: listLocales,
	}
}

// Run implements task.Task.
func (t *LanguageInstallationTask) Run(ctx context.Context) error {
	language := t.language

	locales, err := t.listLocales(ctx, t.sysroot)
	if err != nil {
		slog.WarnContext(ctx, "Failed to list the locales of the target system", "err", err)
	} else if !hasLocale(locales, language) {
		slog.WarnContext(ctx, "Language isn't available on the target system, using fallback", "language", language, "fallback", t.fallback)

		language = t.fallback
	}

	content := fmt.Sprintf("LANG=\"%s\"\n", language)

	err = os.WriteFile(util.JoinRoot(t.sysroot, LocaleConfigPath), []byte(content), 0o644) //nolint:gosec
	if err != nil {
		return insterrors.Language(err, "cannot write the language configuration file")
	}

	return nil
}

func listLocales(ctx context.Context, sysroot string) ([]string, error) {
	output, err := util.RunInRoot(ctx, sysroot, "locale", "-a")
	if err != nil {
		return nil, err
	}

	return strings.Fields(output), nil
}

// normalizeLocale makes cs_CZ.UTF-8 and cs_CZ.utf8 compare equal.
func normalizeLocale(locale string) string {
	name, codeset, ok := strings.Cut(locale, ".")
	if !ok {
		return locale
	}

	modifier := ""

	codeset, mod, hasMod := strings.Cut(codeset, "@")
	if hasMod {
		modifier = "@" + mod
	}

	return name + "." + strings.ReplaceAll(strings.ToLower(codeset), "-", "") + modifier
}

func hasLocale(locales []string, language string) bool {
	want := normalizeLocale(language)

	for _, locale := range locales {
		if normalizeLocale(locale) == want {
			return true
		}
	}

	return false
}
