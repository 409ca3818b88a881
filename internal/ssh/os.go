package ssh

import (
	"fmt"
	"strings"

	"ssh-fleet/internal/errors"
)

// OSFamily is the package-management family of a remote host
type OSFamily int

const (
	OSUnknown OSFamily = iota
	Debian
	RedHat
	Arch
)

func (f OSFamily) String() string {
	switch f {
	case Debian:
		return "debian"
	case RedHat:
		return "redhat"
	case Arch:
		return "arch"
	default:
		return "unknown"
	}
}

// DetectScript prints "<ID_LIKE>:<ID>" from /etc/os-release and exits
// non-zero on hosts it cannot identify
const DetectScript = `
case "$(uname -s)" in
    Linux)
        if [ -f /etc/os-release ]; then
            os_id=$(grep '^ID=' /etc/os-release | cut -d'=' -f2 | tr -d '"')
            os_id_like=$(grep '^ID_LIKE=' /etc/os-release | cut -d'=' -f2 | tr -d '"')
            echo "$os_id_like:$os_id"
        elif [ -f /etc/redhat-release ]; then
            echo "rhel:rhel"
        elif [ -f /etc/debian_version ]; then
            echo "debian:debian"
        else
            exit 1
        fi
        ;;
    *)
        exit 1
        ;;
esac`

// ClassifyOS maps the output of DetectScript to a family
func ClassifyOS(output string) (OSFamily, error) {
	parts := strings.Split(strings.TrimSpace(output), ":")
	if len(parts) != 2 {
		return OSUnknown, fmt.Errorf("failed to detect OS type from /etc/os-release: unexpected output %q", output)
	}
	idLike, id := parts[0], parts[1]

	switch {
	case strings.Contains(idLike, "debian") || oneOf(id, "debian", "ubuntu", "kali", "linuxmint", "pop", "raspbian"):
		return Debian, nil
	case strings.Contains(idLike, "rhel") || strings.Contains(idLike, "fedora") ||
		oneOf(id, "rhel", "centos", "fedora", "rocky", "alma", "ol", "amzn"):
		return RedHat, nil
	case strings.Contains(idLike, "arch") || oneOf(id, "arch", "manjaro"):
		return Arch, nil
	}

	return OSUnknown, errors.NewUnsupportedOSError(id, idLike)
}

func oneOf(s string, options ...string) bool {
	for _, o := range options {
		if s == o {
			return true
		}
	}
	return false
}
