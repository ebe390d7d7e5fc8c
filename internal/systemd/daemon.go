package systemd

import (
	"log/slog"

	"github.com/coreos/go-systemd/v22/daemon"
)

// NotifyReady tells the service manager the daemon is ready.
func NotifyReady() {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if err != nil {
		slog.Warn("Failed to notify readiness", "err", err)

		return
	}

	if !sent {
		slog.Debug("Not running under a service manager, readiness not sent")
	}
}

// NotifyStopping tells the service manager the daemon is shutting down.
func NotifyStopping() {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
}
