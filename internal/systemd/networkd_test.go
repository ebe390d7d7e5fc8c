package systemd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIfnameLinkFile(t *testing.T) {
	t.Parallel()

	link := IfnameLinkFile("ens3", "52:54:00:12:34:56")
	require.Equal(t, "10-anaconda-ifname-ens3.link", link.Name)
	require.Equal(t, "[Match]\nMACAddress=52:54:00:12:34:56\n[Link]\nName=ens3\n", link.Contents)
}

func TestIsUnitInstalled(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	require.False(t, IsUnitInstalled(root, "dnsconfd.service"))

	dir := filepath.Join(root, "usr", "lib", "systemd", "system")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "dnsconfd.service"), nil, 0o644))
	require.True(t, IsUnitInstalled(root, "dnsconfd.service"))
}
