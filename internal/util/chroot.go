package util

import (
	"context"
	"os/exec"

	"github.com/lxc/incus/v6/shared/subprocess"
)

// RunInRoot runs a command inside root through chroot. An empty root or / runs the
// command directly.
func RunInRoot(ctx context.Context, root string, name string, args ...string) (string, error) {
	if root == "" || root == "/" {
		return subprocess.RunCommandContext(ctx, name, args...)
	}

	return subprocess.RunCommandContext(ctx, "chroot", append([]string{root, name}, args...)...)
}

// HaveCommand reports whether name can be found in the PATH.
func HaveCommand(name string) bool {
	_, err := exec.LookPath(name)

	return err == nil
}
