package version

import "fmt"

var (
	// Version is the current application version
	Version = "dev"
	// GitSHA is the git commit SHA
	GitSHA = "unknown"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)

// String returns the version line printed by `tsmap version`.
func String() string {
	return fmt.Sprintf("tsmap %s (commit %s, built %s)", Version, GitSHA, BuildTime)
}
