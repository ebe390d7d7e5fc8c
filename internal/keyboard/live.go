package keyboard

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"github.com/lxc/incus/v6/shared/subprocess"

	"github.com/osinstall/instconfd/internal/localed"
)

var inputSourceRe = regexp.MustCompile(`\(\s*'xkb'\s*,\s*'([^']+)'\s*\)`)

// GnomeShellKeyboard reads the input sources of the live GNOME session.
type GnomeShellKeyboard struct {
	// User owning the session. The settings are read as the current user when empty.
	User string
}

// ReadLayouts implements LiveKeyboard.
func (g GnomeShellKeyboard) ReadLayouts(ctx context.Context) []string {
	cmd := "gsettings"
	args := []string{"get", "org.gnome.desktop.input-sources", "sources"}

	if g.User != "" {
		args = append([]string{"-u", g.User, cmd}, args...)
		cmd = "sudo"
	}

	output, err := subprocess.RunCommandContext(ctx, cmd, args...)
	if err != nil {
		slog.WarnContext(ctx, "Failed to read the live session keyboard layouts", "err", err)

		return []string{}
	}

	return ParseInputSources(output)
}

// ParseInputSources converts a GNOME input sources value like [('xkb', 'cz+qwerty')]
// into X layouts like "cz (qwerty)". Non-xkb sources are skipped.
func ParseInputSources(value string) []string {
	layouts := []string{}

	for _, m := range inputSourceRe.FindAllStringSubmatch(value, -1) {
		layout, variant, _ := strings.Cut(m[1], "+")
		layouts = append(layouts, localed.JoinLayoutVariant(layout, variant))
	}

	return layouts
}
