// Package pathutil converts host filesystem paths to the POSIX form a Linux
// container expects, so bind mounts work when the daemon runs on Windows.
package pathutil

import (
	"regexp"
	"strings"
)

var driveLetter = regexp.MustCompile(`^([A-Za-z]):[\\/]`)

// ToPOSIX rewrites a Windows-style path for use inside a POSIX mount spec.
// `C:\work\repo` becomes `/c/work/repo`; paths that are already POSIX pass
// through unchanged.
func ToPOSIX(p string) string {
	if m := driveLetter.FindStringSubmatch(p); m != nil {
		p = "/" + strings.ToLower(m[1]) + "/" + p[len(m[0]):]
	}
	return strings.ReplaceAll(p, `\`, "/")
}
