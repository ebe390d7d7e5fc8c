package nm

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/lxc/incus/v6/shared/subprocess"
)

// ZdevToZnet converts a persistent channel configuration to a rd.znet argument.
const ZdevToZnet = "/lib/s390-tools/zdev-to-rd.znet"

// S390Settings are the channel settings of a s390 network device.
type S390Settings struct {
	Subchannels []string
	NetType     string
	Options     map[string]string
}

// Apply stores the channel settings in the wired setting.
func (s *S390Settings) Apply(wired *WiredSettings) {
	if len(s.Subchannels) == 0 {
		return
	}

	wired.S390Subchannels = slices.Clone(s.Subchannels)
	wired.S390NetType = s.NetType

	if len(s.Options) > 0 {
		wired.S390Options = maps.Clone(s.Options)
	}
}

// ReadS390Settings reads the channel settings of iface from sysfs, using the subchannels
// NetworkManager reports when available.
func ReadS390Settings(sysfsRoot string, dev *Device) *S390Settings {
	base := filepath.Join(sysfsRoot, "/sys/class/net", dev.Interface, "device")
	ret := &S390Settings{
		Subchannels: slices.Clone(dev.S390Subchannels),
		NetType:     dev.Driver,
		Options:     map[string]string{},
	}

	if len(ret.Subchannels) == 0 {
		for i := range 3 {
			target, err := filepath.EvalSymlinks(filepath.Join(base, fmt.Sprintf("cdev%d", i)))
			if err != nil {
				break
			}

			ret.Subchannels = append(ret.Subchannels, filepath.Base(target))
		}
	}

	if ret.NetType == "" {
		target, err := filepath.EvalSymlinks(filepath.Join(base, "driver"))
		if err == nil {
			ret.NetType = filepath.Base(target)
		}
	}

	for _, opt := range []string{"layer2", "portno"} {
		content, err := os.ReadFile(filepath.Join(base, opt)) //nolint:gosec
		if err == nil && strings.TrimSpace(string(content)) != "" {
			ret.Options[opt] = strings.TrimSpace(string(content))
		}
	}

	return ret
}

// ZnetArgument returns the rd.znet argument of a s390 wired setting, or an empty string.
// The persistent zdev configuration is preferred over the profile.
func ZnetArgument(ctx context.Context, wired *WiredSettings) string {
	if wired == nil || len(wired.S390Subchannels) == 0 {
		return ""
	}

	out, err := subprocess.RunCommandContext(ctx, ZdevToZnet, "persistent", wired.S390Subchannels[0])
	if err == nil && strings.TrimSpace(out) != "" {
		return strings.TrimSpace(out)
	}

	if err != nil {
		slog.DebugContext(ctx, "Falling back to the profile for rd.znet", "subchannel", wired.S390Subchannels[0], "err", err)
	}

	if wired.S390NetType == "" {
		return ""
	}

	arg := "rd.znet=" + wired.S390NetType + "," + strings.Join(wired.S390Subchannels, ",")

	for _, key := range slices.Sorted(maps.Keys(wired.S390Options)) {
		arg += "," + key + "=" + wired.S390Options[key]
	}

	return arg
}
