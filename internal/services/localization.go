package services

import (
	"context"

	"github.com/osinstall/instconfd/api"
	"github.com/osinstall/instconfd/internal/bus"
	"github.com/osinstall/instconfd/internal/keyboard"
	"github.com/osinstall/instconfd/internal/localed"
	"github.com/osinstall/instconfd/internal/localization"
)

// Localization represents the localization service.
type Localization struct {
	deps Deps
	svc  *localization.Service
}

func (l *Localization) init(_ context.Context) error {
	// The locale daemon is mandatory when the bus is.
	d, err := localed.New(l.deps.Conn, l.deps.Config.System.SystemBusPresent)
	if err != nil {
		return err
	}

	l.svc = localization.New(l.deps.Config, l.deps.Scheduler, d, keyboard.Loadkeys{})

	return nil
}

// Name returns the service name.
func (*Localization) Name() string {
	return "localization"
}

// BusName returns the well-known bus name of the service.
func (*Localization) BusName() string {
	return localization.BusName
}

// ReadKickstart processes the lang and keyboard commands.
func (l *Localization) ReadKickstart(ctx context.Context, content string) api.KickstartReport {
	return l.svc.ReadKickstart(ctx, content)
}

// GenerateKickstart returns the lang and keyboard commands.
func (l *Localization) GenerateKickstart(_ context.Context) string {
	return l.svc.GenerateKickstart()
}

// CollectRequirements returns the language requirements.
func (l *Localization) CollectRequirements() []api.Requirement {
	return l.svc.CollectRequirements()
}

// Start is a no-op, the service has nothing to follow.
func (*Localization) Start(_ context.Context) error {
	return nil
}

// Publish exports the service on conn.
func (l *Localization) Publish(ctx context.Context, conn bus.Exporter) error {
	return localization.NewInterface(ctx, l.svc, conn, l.deps.Scheduler).Publish()
}

// Stop is a no-op.
func (*Localization) Stop(_ context.Context) error {
	return nil
}
