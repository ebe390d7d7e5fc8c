package nm

import (
	"path/filepath"
	"strings"

	"gopkg.in/ini.v1"
)

// Where persistent profiles are stored.
const (
	KeyfileDir      = "/etc/NetworkManager/system-connections"
	NetworkScripts  = "/etc/sysconfig/network-scripts"
	keyfileSuffix   = ".nmconnection"
	ifcfgFilePrefix = "ifcfg-"
)

// Keyfile is the identity of a profile read from its file.
type Keyfile struct {
	Path          string
	UUID          string
	ID            string
	InterfaceName string
}

// ReadKeyfile reads a profile in NetworkManager's keyfile format.
func ReadKeyfile(path string) (*Keyfile, error) {
	f, err := ini.Load(path)
	if err != nil {
		return nil, err
	}

	section := f.Section("connection")

	return &Keyfile{
		Path:          path,
		UUID:          section.Key("uuid").String(),
		ID:            section.Key("id").String(),
		InterfaceName: section.Key("interface-name").String(),
	}, nil
}

// ReadIfcfg reads a profile in the legacy initscripts format.
func ReadIfcfg(path string) (*Keyfile, error) {
	f, err := ini.LoadSources(ini.LoadOptions{IgnoreInlineComment: true}, path)
	if err != nil {
		return nil, err
	}

	section := f.Section(ini.DefaultSection)

	return &Keyfile{
		Path:          path,
		UUID:          section.Key("UUID").String(),
		ID:            section.Key("NAME").String(),
		InterfaceName: section.Key("DEVICE").String(),
	}, nil
}

// FindProfileFile returns the file under root storing the profile with the UUID, or an
// empty string. Unreadable files are skipped.
func FindProfileFile(root string, uuid string) string {
	keyfiles, _ := filepath.Glob(filepath.Join(root, KeyfileDir, "*"+keyfileSuffix))
	for _, path := range keyfiles {
		kf, err := ReadKeyfile(path)
		if err == nil && kf.UUID == uuid {
			return path
		}
	}

	ifcfgs, _ := filepath.Glob(filepath.Join(root, NetworkScripts, ifcfgFilePrefix+"*"))
	for _, path := range ifcfgs {
		if strings.HasSuffix(path, "~") {
			continue
		}

		kf, err := ReadIfcfg(path)
		if err == nil && strings.EqualFold(kf.UUID, uuid) {
			return path
		}
	}

	return ""
}
