package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/osinstall/instconfd/api"
	"github.com/osinstall/instconfd/internal/bootopts"
	"github.com/osinstall/instconfd/internal/config"
	"github.com/osinstall/instconfd/internal/localed"
)

func offlineDeps(t *testing.T) Deps {
	t.Helper()

	cfg := config.Default()
	cfg.System.HostRoot = t.TempDir()
	cfg.System.SystemBusPresent = false

	return Deps{Config: cfg, Boot: bootopts.Parse("")}
}

func TestLoad(t *testing.T) {
	t.Parallel()

	_, err := Load(context.Background(), offlineDeps(t), "storage")
	require.Error(t, err)

	srvs, err := LoadAll(context.Background(), offlineDeps(t))
	require.NoError(t, err)
	require.Len(t, srvs, len(ValidNames))

	for i, srv := range srvs {
		require.Equal(t, ValidNames[i], srv.Name())
		require.NotEmpty(t, srv.BusName())
		require.NoError(t, srv.Start(context.Background()))
		require.NoError(t, srv.Stop(context.Background()))
	}
}

func TestOfflineKickstart(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	tests := []struct {
		name     string
		content  string
		valid    bool
		expected string
	}{
		{"localization", "lang en_US.UTF-8\n", true, "lang en_US.UTF-8\n"},
		{"network", "network --hostname=host.example.com\n", true, "network  --hostname=host.example.com\n"},
		{"network", "network --hostname=bad_name\n", false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			srv, err := Load(ctx, offlineDeps(t), tt.name)
			require.NoError(t, err)

			report := srv.ReadKickstart(ctx, tt.content)
			require.Equal(t, tt.valid, report.IsValid())
			require.Equal(t, tt.expected, srv.GenerateKickstart(ctx))
		})
	}
}

func TestOfflineRequirements(t *testing.T) {
	t.Parallel()

	srv, err := Load(context.Background(), offlineDeps(t), "network")
	require.NoError(t, err)

	require.Equal(t, []api.Requirement{
		api.PackageRequirement("NetworkManager", "Necessary for network infrastructure."),
	}, srv.CollectRequirements())
}

func TestLocalizationRequiresLocaleDaemon(t *testing.T) {
	t.Parallel()

	deps := offlineDeps(t)
	deps.Config.System.SystemBusPresent = true

	_, err := Load(context.Background(), deps, "localization")
	require.ErrorIs(t, err, localed.ErrUnavailable)

	// The network service doesn't depend on it.
	_, err = Load(context.Background(), deps, "network")
	require.NoError(t, err)
}
