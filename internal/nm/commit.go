package nm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrTimeout is returned when NetworkManager doesn't answer in time.
var ErrTimeout = errors.New("timed out waiting for NetworkManager")

// AddConnection stores a new profile on disk with autoconnect blocked, waiting at most timeout.
func AddConnection(ctx context.Context, client Client, settings Settings, timeout time.Duration) (*Connection, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	slog.DebugContext(ctx, "Adding connection", "id", settings.Connection.ID, "uuid", settings.Connection.UUID)

	conn, err := client.AddConnection(ctx, settings, FlagToDisk|FlagBlockAutoconnect)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("adding connection %q: %w", settings.Connection.ID, ErrTimeout)
		}

		return nil, err
	}

	return conn, nil
}

// CommitConnection writes the settings of conn to disk with autoconnect blocked, waiting at
// most timeout.
func CommitConnection(ctx context.Context, client Client, conn *Connection, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	slog.DebugContext(ctx, "Updating connection", "id", conn.ID(), "uuid", conn.UUID())

	err := client.UpdateConnection(ctx, conn, FlagToDisk|FlagBlockAutoconnect)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("updating connection %q: %w", conn.UUID(), ErrTimeout)
		}

		return err
	}

	return nil
}

// UpdateFromKickstart applies a network command to an existing profile and commits it.
func UpdateFromKickstart(ctx context.Context, client Client, conn *Connection, data KickstartUpdate, timeout time.Duration) error {
	err := UpdateIPSettings(&conn.Settings, data.Data)
	if err != nil {
		return err
	}

	conn.Settings.Connection.Autoconnect = data.Data.OnBoot

	if conn.Type() == TypeEthernet {
		if data.BoundMAC != "" {
			BindConnection(&conn.Settings, BindToMAC, data.DeviceName, data.BoundMAC, false)
		} else {
			BindConnection(&conn.Settings, data.Data.BindTo, data.DeviceName, data.MAC, true)
		}
	}

	return CommitConnection(ctx, client, conn, timeout)
}
