// Package version carries the build identity stamped in at link time:
//
//	go build -ldflags "-X github.com/veloframe/steady.video/internal/version.Version=v1.2.0 ..."
package version

import "fmt"

var (
	// Version is the release tag; "dev" for local builds.
	Version = "dev"
	// GitSHA is the commit the binary was built from.
	GitSHA = "unknown"
	// BuildTime is the UTC build timestamp.
	BuildTime = "unknown"
)

// String formats the full identity for version subcommands.
func String() string {
	return fmt.Sprintf("%s (%s, built %s)", Version, GitSHA, BuildTime)
}
