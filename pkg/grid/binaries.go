package grid

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// ErrBinary reports a grid tool that could not be resolved to an executable.
var ErrBinary = errors.New("binary not found or not executable")

// Binaries holds the resolved paths of the external grid tools.
type Binaries struct {
	Dasgoclient   string
	Curl          string
	VomsProxyInfo string
	VomsProxyInit string
	Xrdcp         string
}

// toolNames are the command names looked up on PATH. Configuration override
// keys are the same names with dashes replaced by underscores, as in the
// [binaries] section.
var toolNames = []string{"dasgoclient", "curl", "voms-proxy-info", "voms-proxy-init", "xrdcp"}

// ResolveBinaries locates every grid tool, preferring explicit paths from
// the [binaries] configuration section over a PATH lookup, and verifies each
// is executable.
func ResolveBinaries(overrides map[string]string) (*Binaries, error) {
	resolved := make(map[string]string, len(toolNames))

	for _, name := range toolNames {
		key := strings.ReplaceAll(name, "-", "_")

		path, ok := overrides[key]
		if !ok {
			var err error
			path, err = exec.LookPath(name)
			if err != nil {
				return nil, fmt.Errorf("%w: %s", ErrBinary, name)
			}
		}

		if !isExecutable(path) {
			return nil, fmt.Errorf("%w: %s", ErrBinary, path)
		}
		resolved[key] = path
	}

	return &Binaries{
		Dasgoclient:   resolved["dasgoclient"],
		Curl:          resolved["curl"],
		VomsProxyInfo: resolved["voms_proxy_info"],
		VomsProxyInit: resolved["voms_proxy_init"],
		Xrdcp:         resolved["xrdcp"],
	}, nil
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return info.Mode().Perm()&0o111 != 0
}
