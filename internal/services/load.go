package services

import (
	"context"
	"fmt"
)

// ValidNames contains the list of all valid services.
var ValidNames = []string{"localization", "network"}

// Load returns a handler for the given installer service.
func Load(ctx context.Context, deps Deps, name string) (Service, error) {
	var srv Service

	switch name {
	case "localization":
		srv = &Localization{deps: deps}
	case "network":
		srv = &Network{deps: deps}
	default:
		return nil, fmt.Errorf("unknown service %q", name)
	}

	// Initialize the service.
	err := srv.init(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize the %s service: %w", name, err)
	}

	return srv, nil
}

// LoadAll returns a handler for every valid service.
func LoadAll(ctx context.Context, deps Deps) ([]Service, error) {
	ret := make([]Service, 0, len(ValidNames))

	for _, name := range ValidNames {
		srv, err := Load(ctx, deps, name)
		if err != nil {
			return nil, err
		}

		ret = append(ret, srv)
	}

	return ret, nil
}
