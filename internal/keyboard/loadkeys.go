package keyboard

import (
	"context"
	"log/slog"

	"github.com/lxc/incus/v6/shared/subprocess"

	"github.com/osinstall/instconfd/api"
	"github.com/osinstall/instconfd/internal/insterrors"
	"github.com/osinstall/instconfd/internal/util"
)

// KeymapLoader activates virtual console keymaps.
type KeymapLoader interface {
	// LoadKeymap reports whether the keymap could be loaded. An error means the keymap
	// couldn't even be tried.
	LoadKeymap(ctx context.Context, keymap string) (bool, error)
}

// Loadkeys loads keymaps with the loadkeys tool.
type Loadkeys struct{}

// LoadKeymap implements KeymapLoader.
func (Loadkeys) LoadKeymap(ctx context.Context, keymap string) (bool, error) {
	if !util.HaveCommand("loadkeys") {
		return false, insterrors.KeyboardConfiguration("'loadkeys' command not available")
	}

	_, err := subprocess.RunCommandContext(ctx, "loadkeys", keymap)
	if err != nil {
		slog.DebugContext(ctx, "Failed to load keymap", "keymap", keymap, "err", err)

		return false, nil
	}

	return true, nil
}

// ResolveGeneric decides whether the generic keyboard value is a keymap or an X layout.
// It is a keymap if it can be loaded. If activation isn't allowed it is assumed to be one.
func ResolveGeneric(ctx context.Context, loader KeymapLoader, canActivate bool, value string) (api.KeyboardConfiguration, error) {
	if !canActivate {
		return api.KeyboardConfiguration{VCKeymap: value, XLayouts: []string{}}, nil
	}

	loaded, err := loader.LoadKeymap(ctx, value)
	if err != nil {
		return api.KeyboardConfiguration{}, err
	}

	if loaded {
		return api.KeyboardConfiguration{VCKeymap: value, XLayouts: []string{}}, nil
	}

	return api.KeyboardConfiguration{XLayouts: []string{value}}, nil
}
