package kickstart

import (
	"errors"
	"strings"
)

// LangData is the lang command.
type LangData struct {
	Seen       bool
	LineNumber int

	Lang       string
	AddSupport []string
}

func parseLang(args []string) (*LangData, error) {
	fs := newFlagSet("lang")
	addSupport := fs.StringSlice("addsupport", nil, "additional languages")

	err := fs.Parse(args)
	if err != nil {
		return nil, err
	}

	if fs.NArg() != 1 {
		return nil, errors.New("the lang command requires exactly one language argument")
	}

	return &LangData{
		Seen:       true,
		Lang:       fs.Arg(0),
		AddSupport: *addSupport,
	}, nil
}

// String renders the command, or nothing if no language is set.
func (l LangData) String() string {
	if l.Lang == "" {
		return ""
	}

	line := "lang " + l.Lang
	if len(l.AddSupport) > 0 {
		line += " --addsupport=" + strings.Join(l.AddSupport, ",")
	}

	return line + "\n"
}
