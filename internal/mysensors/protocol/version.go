package protocol

import (
	"fmt"
	"strings"
)

// DefaultVersion is assumed when a gateway config does not name one.
const DefaultVersion = "2.3"

// supportedVersions are the library versions whose frame layout this package speaks.
var supportedVersions = []string{"1.4", "1.5", "2.0", "2.1", "2.2", "2.3"}

// ValidateVersion checks a configured protocol version. Gateways report
// versions like "2.3.2"; only the major.minor prefix is compared.
func ValidateVersion(version string) error {
	mm := MajorMinor(version)
	for _, v := range supportedVersions {
		if v == mm {
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrUnsupportedVersion, version)
}

// MajorMinor trims a version string to its first two components.
func MajorMinor(version string) string {
	parts := strings.SplitN(strings.TrimSpace(version), ".", 3)
	if len(parts) < 2 {
		return strings.TrimSpace(version)
	}
	return parts[0] + "." + parts[1]
}

// SupportsHeartbeatResponse reports whether nodes on this version answer
// I_HEARTBEAT_REQUEST. It was introduced in 2.0.
func SupportsHeartbeatResponse(version string) bool {
	return strings.Compare(MajorMinor(version), "2.0") >= 0
}
