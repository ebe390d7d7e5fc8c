package systemd

import (
	"context"
	"path/filepath"

	"github.com/lxc/incus/v6/shared/subprocess"

	"github.com/osinstall/instconfd/internal/util"
)

// EnableUnit enables the units of the system installed at root.
func EnableUnit(ctx context.Context, root string, units ...string) error {
	args := []string{"--root=" + root, "enable"}
	args = append(args, units...)

	_, err := subprocess.RunCommandContext(ctx, "systemctl", args...)
	if err != nil {
		return err
	}

	return nil
}

// IsUnitInstalled reports whether the system installed at root ships the unit.
func IsUnitInstalled(root string, unit string) bool {
	for _, dir := range []string{SystemUnitPath, AdminUnitPath} {
		if util.PathExists(util.JoinRoot(root, filepath.Join(dir, unit))) {
			return true
		}
	}

	return false
}
