package insterrors

import (
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInstallationErrorMatching(t *testing.T) {
	t.Parallel()

	err := Language(os.ErrPermission, "cannot write %s", "/etc/locale.conf")
	require.ErrorIs(t, err, ErrInstallation)
	require.ErrorIs(t, err, ErrLanguageInstallation)
	require.ErrorIs(t, err, os.ErrPermission)
	require.NotErrorIs(t, err, ErrKeyboardInstallation)
	require.Equal(t, "cannot write /etc/locale.conf: permission denied", err.Error())

	var instErr *InstallationError
	require.ErrorAs(t, err, &instErr)
	require.Equal(t, KindLanguage, instErr.Kind)

	err = Firewall(nil, "firewall-offline-cmd is missing")
	require.ErrorIs(t, err, ErrFirewallConfiguration)
	require.Equal(t, "firewall-offline-cmd is missing", err.Error())

	require.ErrorIs(t, Network(nil, "x"), ErrNetworkInstallation)
	require.ErrorIs(t, Keyboard(nil, "x"), ErrKeyboardInstallation)
}

func TestKeyboardConfigurationError(t *testing.T) {
	t.Parallel()

	err := KeyboardConfiguration("'%s' command not available", "loadkeys")
	require.ErrorIs(t, err, ErrKeyboardConfiguration)
	require.False(t, errors.Is(err, ErrInstallation))
}
