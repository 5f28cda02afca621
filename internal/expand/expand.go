// Package expand resolves environment variables and tildes in configured
// paths.
//
// Site cache paths in the configuration use shell-style references such as
// "/scratch-cbe/users/${USER}/file_cache" and the slice form
// "/afs/cern.ch/work/${USER:0:1}/${USER}/file_cache", where ${USER:0:1} is
// the first character of $USER. Both forms are supported, along with a
// leading "~" for the home directory.
package expand

import (
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

var sliceRef = regexp.MustCompile(`^(\w+):(\d+):(\d+)$`)

// Path expands environment variables (including ${VAR:off:len} slices) and a
// leading tilde in name. Undefined variables expand to the empty string, as
// they do in the shell.
func Path(name string) string {
	expanded := os.Expand(name, lookup)

	if expanded == "~" {
		if home, err := os.UserHomeDir(); err == nil {
			return home
		}
		return expanded
	}
	if strings.HasPrefix(expanded, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, expanded[2:])
		}
	}

	return expanded
}

// lookup resolves a single ${...} reference. Plain names map to the
// environment; VAR:off:len slices into the variable's value.
func lookup(ref string) string {
	if m := sliceRef.FindStringSubmatch(ref); m != nil {
		value := os.Getenv(m[1])
		off, _ := strconv.Atoi(m[2])
		n, _ := strconv.Atoi(m[3])
		if off >= len(value) {
			return ""
		}
		end := off + n
		if end > len(value) {
			end = len(value)
		}
		return value[off:end]
	}

	return os.Getenv(ref)
}
