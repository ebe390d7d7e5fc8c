package kickstart

import (
	"errors"
	"strings"
)

// FirewallData is the firewall command.
type FirewallData struct {
	Seen       bool
	LineNumber int

	Enabled           bool
	UseSystemDefaults bool

	Ports          []string
	Trusts         []string
	Services       []string
	RemoveServices []string
}

// Shorthand options allowing a well known service.
var firewallServiceFlags = []string{"ssh", "ftp", "http", "smtp", "telnet"}

func parseFirewall(args []string) (*FirewallData, error) {
	fs := newFlagSet("firewall")
	enabled := fs.Bool("enabled", false, "enable the firewall")
	enable := fs.Bool("enable", false, "enable the firewall")
	disabled := fs.Bool("disabled", false, "disable the firewall")
	disable := fs.Bool("disable", false, "disable the firewall")
	useSystemDefaults := fs.Bool("use-system-defaults", false, "keep the system defaults")
	ports := fs.StringSlice("port", nil, "ports to open")
	trusts := fs.StringSlice("trust", nil, "trusted devices")
	services := fs.StringSlice("service", nil, "services to allow")
	removeServices := fs.StringSlice("remove-service", nil, "services to disallow")

	serviceFlags := map[string]*bool{}
	for _, name := range firewallServiceFlags {
		serviceFlags[name] = fs.Bool(name, false, "allow "+name)
	}

	err := fs.Parse(args)
	if err != nil {
		return nil, err
	}

	if fs.NArg() > 0 {
		return nil, errors.New("the firewall command takes no arguments")
	}

	isEnabled := *enabled || *enable
	isDisabled := *disabled || *disable

	if isEnabled && isDisabled {
		return nil, errors.New("--enabled and --disabled are mutually exclusive")
	}

	data := &FirewallData{
		Seen:              true,
		Enabled:           !isDisabled,
		UseSystemDefaults: *useSystemDefaults,
		Ports:             *ports,
		Trusts:            *trusts,
		Services:          *services,
		RemoveServices:    *removeServices,
	}

	for _, name := range firewallServiceFlags {
		if *serviceFlags[name] {
			data.Services = append(data.Services, name)
		}
	}

	return data, nil
}

// String renders the command, or nothing if the firewall wasn't configured.
func (f FirewallData) String() string {
	if !f.Seen {
		return ""
	}

	if f.UseSystemDefaults {
		return "firewall --use-system-defaults\n"
	}

	if !f.Enabled {
		return "firewall --disabled\n"
	}

	line := "firewall --enabled"

	for _, opt := range []struct {
		name  string
		items []string
	}{
		{"trust", f.Trusts},
		{"port", f.Ports},
		{"service", f.Services},
		{"remove-service", f.RemoveServices},
	} {
		if len(opt.items) > 0 {
			line += " --" + opt.name + "=" + strings.Join(opt.items, ",")
		}
	}

	return line + "\n"
}
