package kickstart

import (
	"errors"
)

// KeyboardData is the keyboard command.
type KeyboardData struct {
	Seen       bool
	LineNumber int

	VCKeymap      string
	XLayouts      []string
	SwitchOptions []string

	// Keyboard is the generic argument, either a VC keymap or an X layout.
	Keyboard string
}

func parseKeyboard(args []string) (*KeyboardData, error) {
	fs := newFlagSet("keyboard")
	vcKeymap := fs.String("vckeymap", "", "virtual console keymap")
	xLayouts := fs.String("xlayouts", "", "X layouts")
	switchOptions := fs.String("switch", "", "layout switching options")

	err := fs.Parse(args)
	if err != nil {
		return nil, err
	}

	if fs.NArg() > 1 {
		return nil, errors.New("the keyboard command takes at most one keyboard argument")
	}

	data := &KeyboardData{
		Seen:          true,
		VCKeymap:      *vcKeymap,
		XLayouts:      splitList(*xLayouts),
		SwitchOptions: splitList(*switchOptions),
		Keyboard:      fs.Arg(0),
	}

	if data.VCKeymap == "" && len(data.XLayouts) == 0 && data.Keyboard == "" {
		return nil, errors.New("the keyboard command requires one of --vckeymap, --xlayouts or a keyboard argument")
	}

	return data, nil
}

// String renders the command, or nothing if no keyboard is set.
func (k KeyboardData) String() string {
	if k.VCKeymap == "" && len(k.XLayouts) == 0 && k.Keyboard == "" {
		return ""
	}

	line := "keyboard"

	if k.VCKeymap != "" {
		line += " --vckeymap=" + k.VCKeymap
	}

	if len(k.XLayouts) > 0 {
		line += " --xlayouts=" + quoteList(k.XLayouts)
	}

	if len(k.SwitchOptions) > 0 {
		line += " --switch=" + quoteList(k.SwitchOptions)
	}

	if k.VCKeymap == "" && len(k.XLayouts) == 0 {
		line += " " + k.Keyboard
	}

	return line + "\n"
}
