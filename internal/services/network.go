package services

import (
	"context"
	"log/slog"

	"github.com/osinstall/instconfd/api"
	"github.com/osinstall/instconfd/internal/bus"
	"github.com/osinstall/instconfd/internal/network"
	"github.com/osinstall/instconfd/internal/nm"
)

// Network represents the network service.
type Network struct {
	deps   Deps
	client nm.Client
	svc    *network.Service
}

func (n *Network) init(ctx context.Context) error {
	opts := network.Options{Boot: n.deps.Boot}

	if n.deps.Conn != nil && n.deps.Config.System.CanConfigureNetwork {
		client, err := nm.NewDBusClient(ctx, n.deps.Conn)
		if err != nil {
			slog.WarnContext(ctx, "NetworkManager isn't available", "err", err)
		} else {
			n.client = client
			opts.Client = client
			opts.Factory = nm.Connect
		}
	}

	n.svc = network.New(n.deps.Config, n.deps.Scheduler, opts)

	return nil
}

// Name returns the service name.
func (*Network) Name() string {
	return "network"
}

// BusName returns the well-known bus name of the service.
func (*Network) BusName() string {
	return network.BusName
}

// ReadKickstart processes the network and firewall commands.
func (n *Network) ReadKickstart(_ context.Context, content string) api.KickstartReport {
	return n.svc.ReadKickstart(content)
}

// GenerateKickstart returns the network and firewall commands.
func (n *Network) GenerateKickstart(ctx context.Context) string {
	return n.svc.GenerateKickstart(ctx)
}

// CollectRequirements returns the packages the network configuration needs.
func (n *Network) CollectRequirements() []api.Requirement {
	return n.svc.CollectRequirements()
}

// Start loads the device configurations and follows NetworkManager.
func (n *Network) Start(ctx context.Context) error {
	return n.svc.Start(ctx)
}

// Publish exports the service on conn.
func (n *Network) Publish(ctx context.Context, conn bus.Exporter) error {
	return network.NewInterface(ctx, n.svc, conn, n.deps.Scheduler).Publish()
}

// Stop closes the NetworkManager client.
func (n *Network) Stop(_ context.Context) error {
	if n.client == nil {
		return nil
	}

	return n.client.Close()
}
