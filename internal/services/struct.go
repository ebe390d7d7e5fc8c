package services

import (
	"context"

	"github.com/godbus/dbus/v5"

	"github.com/osinstall/instconfd/api"
	"github.com/osinstall/instconfd/internal/bootopts"
	"github.com/osinstall/instconfd/internal/bus"
	"github.com/osinstall/instconfd/internal/config"
)

// Service represents an installer configuration service.
type Service interface {
	Name() string
	BusName() string

	ReadKickstart(ctx context.Context, content string) api.KickstartReport
	GenerateKickstart(ctx context.Context) string
	CollectRequirements() []api.Requirement

	Start(ctx context.Context) error
	Publish(ctx context.Context, conn bus.Exporter) error
	Stop(ctx context.Context) error

	init(ctx context.Context) error
}

// Deps holds what the services are built from. Conn and Scheduler are nil when the
// services are used offline, without being published.
type Deps struct {
	Config    *config.Config
	Boot      *bootopts.Options
	Conn      *dbus.Conn
	Scheduler *bus.Scheduler
}
