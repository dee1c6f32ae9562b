package gdprvault

import "fmt"

// Version of the gdprvault library
const Version = "0.4.0"

// Build information (set by ldflags during build)
var (
	GitCommit string
	BuildDate string
)

// VersionInfo returns formatted version information
func VersionInfo() string {
	if GitCommit == "" {
		return fmt.Sprintf("gdprvault v%s", Version)
	}
	short := GitCommit
	if len(short) > 7 {
		short = short[:7]
	}
	return fmt.Sprintf("gdprvault v%s (commit: %s, built: %s)", Version, short, BuildDate)
}
