// Package bootopts reads the installer's kernel command line.
package bootopts

import (
	"os"
	"strings"

	"github.com/kballard/go-shellquote"
)

// Options is a parsed kernel command line. A key may be given several times.
type Options struct {
	values map[string][]string
}

// Parse parses a kernel command line.
func Parse(cmdline string) *Options {
	words, err := shellquote.Split(cmdline)
	if err != nil {
		words = strings.Fields(cmdline)
	}

	opts := &Options{values: map[string][]string{}}
	for _, word := range words {
		key, value, _ := strings.Cut(word, "=")
		if key == "" {
			continue
		}

		opts.values[key] = append(opts.values[key], value)
	}

	return opts
}

// Load parses the kernel command line stored at path.
func Load(path string) (*Options, error) {
	content, err := os.ReadFile(path) //nolint:gosec
	if err != nil {
		return nil, err
	}

	return Parse(strings.TrimSpace(string(content))), nil
}

// Has reports whether the key was given.
func (o *Options) Has(key string) bool {
	_, ok := o.values[key]

	return ok
}

// Get returns the last value of key.
func (o *Options) Get(key string) (string, bool) {
	values, ok := o.values[key]
	if !ok {
		return "", false
	}

	return values[len(values)-1], true
}

// Values returns every value of key in command line order.
func (o *Options) Values(key string) []string {
	return append([]string{}, o.values[key]...)
}

// KSDevice returns the ksdevice option.
func (o *Options) KSDevice() string {
	v, _ := o.Get("ksdevice")

	return v
}

// NoIPv6 reports whether IPv6 was disabled.
func (o *Options) NoIPv6() bool {
	return o.Has("noipv6")
}

// Bootif returns the normalized MAC address from the BOOTIF option.
func (o *Options) Bootif() string {
	v, ok := o.Get("BOOTIF")
	if !ok {
		return ""
	}

	return NormalizeBootif(v)
}

// IfnameValues returns the "<iface>:<mac>" values of every ifname option. A single
// option may hold a space separated list.
func (o *Options) IfnameValues() []string {
	ret := []string{}

	for _, v := range o.values["ifname"] {
		ret = append(ret, strings.Fields(v)...)
	}

	return ret
}

// BiosDevNameDisabled reports whether biosdevname naming was disabled with biosdevname=0.
func (o *Options) BiosDevNameDisabled() bool {
	v, ok := o.Get("biosdevname")

	return ok && v == "0"
}

// DNSBackend returns the rd.net.dns-backend option.
func (o *Options) DNSBackend() string {
	v, _ := o.Get("rd.net.dns-backend")

	return v
}

// NormalizeBootif converts a BOOTIF value like 01-52-54-00-12-34-56 to 52:54:00:12:34:56.
func NormalizeBootif(value string) string {
	value = strings.TrimPrefix(value, "01-")

	return strings.ToUpper(strings.ReplaceAll(value, "-", ":"))
}

// IfnameBinding is a device rename requested with the ifname option.
type IfnameBinding struct {
	Iface string
	MAC   string
}

// ParseIfname splits an "<iface>:<mac>" value.
func ParseIfname(value string) (IfnameBinding, bool) {
	iface, mac, ok := strings.Cut(value, ":")
	if !ok || iface == "" || mac == "" {
		return IfnameBinding{}, false
	}

	return IfnameBinding{Iface: iface, MAC: mac}, true
}

// IfnameMAC returns the MAC address an ifname value binds iface to.
func IfnameMAC(values []string, iface string) (string, bool) {
	for _, v := range values {
		binding, ok := ParseIfname(v)
		if ok && binding.Iface == iface {
			return binding.MAC, true
		}
	}

	return "", false
}
