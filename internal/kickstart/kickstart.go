// Package kickstart reads and writes the kickstart commands owned by the configuration
// services: lang, keyboard, network and firewall.
package kickstart

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/kballard/go-shellquote"
	"github.com/spf13/pflag"

	"github.com/osinstall/instconfd/api"
)

// ParseError is a kickstart line that couldn't be accepted.
type ParseError struct {
	LineNumber int
	Message    string
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d: %s", e.LineNumber, e.Message)
}

// Warning is a problem that didn't prevent the kickstart from being accepted.
type Warning struct {
	LineNumber int
	Message    string
}

// Data holds the parsed commands.
type Data struct {
	Lang     LangData
	Keyboard KeyboardData
	Network  []NetworkData
	Firewall FirewallData

	Warnings []Warning
}

var validate = validator.New()

// Parse reads a kickstart file. Commands handled elsewhere and script or package sections
// are skipped.
func Parse(r io.Reader) (*Data, error) {
	data := &Data{}
	scanner := bufio.NewScanner(r)
	lineNumber := 0
	inSection := false

	for scanner.Scan() {
		lineNumber++

		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if strings.HasPrefix(line, "%") {
			inSection = !strings.HasPrefix(line, "%end")

			continue
		}

		if inSection {
			continue
		}

		words, err := shellquote.Split(line)
		if err != nil {
			return nil, &ParseError{LineNumber: lineNumber, Message: err.Error()}
		}

		if len(words) == 0 {
			continue
		}

		err = data.parseCommand(lineNumber, words[0], words[1:])
		if err != nil {
			return nil, &ParseError{LineNumber: lineNumber, Message: err.Error()}
		}
	}

	err := scanner.Err()
	if err != nil {
		return nil, err
	}

	return data, nil
}

// ParseString is a shorthand for Parse on a string.
func ParseString(content string) (*Data, error) {
	return Parse(strings.NewReader(content))
}

func (d *Data) parseCommand(lineNumber int, command string, args []string) error {
	switch command {
	case "lang":
		if d.Lang.Seen {
			d.warn(lineNumber, "the lang command was already specified")
		}

		lang, err := parseLang(args)
		if err != nil {
			return err
		}

		lang.LineNumber = lineNumber
		d.Lang = *lang

	case "keyboard":
		if d.Keyboard.Seen {
			d.warn(lineNumber, "the keyboard command was already specified")
		}

		keyboard, err := parseKeyboard(args)
		if err != nil {
			return err
		}

		keyboard.LineNumber = lineNumber
		d.Keyboard = *keyboard

	case "network":
		network, err := parseNetwork(args)
		if err != nil {
			return err
		}

		network.LineNumber = lineNumber
		d.Network = append(d.Network, *network)

	case "firewall":
		if d.Firewall.Seen {
			d.warn(lineNumber, "the firewall command was already specified")
		}

		firewall, err := parseFirewall(args)
		if err != nil {
			return err
		}

		firewall.LineNumber = lineNumber
		d.Firewall = *firewall
	}

	return nil
}

func (d *Data) warn(lineNumber int, msg string) {
	d.Warnings = append(d.Warnings, Warning{LineNumber: lineNumber, Message: msg})
}

// String renders the commands in canonical form.
func (d *Data) String() string {
	var sb strings.Builder

	for _, section := range []string{d.Lang.String(), d.Keyboard.String()} {
		sb.WriteString(section)
	}

	for _, network := range d.Network {
		sb.WriteString(network.String())
	}

	sb.WriteString(d.Firewall.String())

	return sb.String()
}

func newFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(io.Discard)

	return fs
}

// splitList splits a comma separated value, dropping empty items.
func splitList(value string) []string {
	ret := []string{}

	for _, item := range strings.Split(value, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			ret = append(ret, item)
		}
	}

	return ret
}

// ParseBool accepts the boolean spellings kickstart allows.
func ParseBool(value string) (bool, error) {
	switch strings.ToLower(value) {
	case "on", "yes", "true", "1":
		return true, nil
	case "off", "no", "false", "0":
		return false, nil
	default:
		return false, fmt.Errorf("invalid boolean value %q", value)
	}
}

// quote wraps value in double quotes when it can't be written bare.
func quote(value string) string {
	if value != "" && !strings.ContainsAny(value, " \t\"'\\{}$`;&|<>()*?[]#~") {
		return value
	}

	return `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`, "$", `\$`, "`", "\\`").Replace(value) + `"`
}

// quoteList renders items as 'a','b' the way layout lists are written.
func quoteList(items []string) string {
	quoted := make([]string, 0, len(items))
	for _, item := range items {
		quoted = append(quoted, "'"+item+"'")
	}

	return strings.Join(quoted, ",")
}

// Report converts the outcome of processing a kickstart into a report. data may be nil
// when parsing failed.
func Report(data *Data, err error) api.KickstartReport {
	report := api.KickstartReport{Errors: []api.KickstartMessage{}, Warnings: []api.KickstartMessage{}}

	if data != nil {
		for _, w := range data.Warnings {
			report.Warnings = append(report.Warnings, api.KickstartMessage{Message: w.Message, LineNumber: w.LineNumber})
		}
	}

	if err != nil {
		msg := api.KickstartMessage{Message: err.Error()}

		var parseErr *ParseError
		if errors.As(err, &parseErr) {
			msg = api.KickstartMessage{Message: parseErr.Message, LineNumber: parseErr.LineNumber}
		}

		report.Errors = append(report.Errors, msg)
	}

	return report
}
