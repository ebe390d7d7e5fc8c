// Package keyboard completes, activates and installs the keyboard configuration.
package keyboard

import (
	"context"
	"log/slog"
	"slices"

	"github.com/osinstall/instconfd/api"
)

// Converter converts between virtual console keymaps and X layouts.
type Converter interface {
	ConvertKeymap(ctx context.Context, keymap string) []string
	ConvertLayouts(ctx context.Context, layoutsVariants []string) string
}

// LiveKeyboard reads the layouts configured in a live desktop session.
type LiveKeyboard interface {
	ReadLayouts(ctx context.Context) []string
}

// Complete fills in whichever of the two representations is missing. When both are
// missing, the live session layouts are used, or the default keyboard if there are none.
func Complete(ctx context.Context, conv Converter, live LiveKeyboard, defaultKeyboard string, cfg api.KeyboardConfiguration) api.KeyboardConfiguration {
	ret := api.KeyboardConfiguration{
		XLayouts: slices.Clone(cfg.XLayouts),
		VCKeymap: cfg.VCKeymap,
	}

	if ret.XLayouts == nil {
		ret.XLayouts = []string{}
	}

	if ret.VCKeymap == "" && len(ret.XLayouts) == 0 {
		if live != nil {
			layouts := live.ReadLayouts(ctx)
			if len(layouts) > 0 {
				slog.DebugContext(ctx, "Using the live session keyboard layouts", "layouts", layouts)
				ret.XLayouts = layouts
			}
		}

		if len(ret.XLayouts) == 0 {
			slog.DebugContext(ctx, "Using the default keyboard", "keyboard", defaultKeyboard)

			return api.KeyboardConfiguration{
				XLayouts: []string{defaultKeyboard},
				VCKeymap: defaultKeyboard,
			}
		}
	}

	switch {
	case ret.VCKeymap == "" && len(ret.XLayouts) > 0:
		ret.VCKeymap = conv.ConvertLayouts(ctx, ret.XLayouts)
		slog.DebugContext(ctx, "Converted X layouts to a keymap", "layouts", ret.XLayouts, "keymap", ret.VCKeymap)

	case ret.VCKeymap != "" && len(ret.XLayouts) == 0:
		ret.XLayouts = conv.ConvertKeymap(ctx, ret.VCKeymap)
		slog.DebugContext(ctx, "Converted keymap to X layouts", "keymap", ret.VCKeymap, "layouts", ret.XLayouts)
	}

	return ret
}
