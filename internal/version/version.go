// Package version holds build version information. It is a separate package
// so that both the CLI and the API client can read it without an import cycle.
package version

// Version is the build version string, set by ldflags during build.
// Format: vX.Y.Z or vX.Y.Z-dev for development builds.
var Version = "v1.0.0-dev"

// BuildTime is the build timestamp, set by ldflags during build.
var BuildTime = "unknown"

// UserAgent is sent by the API client on every request.
func UserAgent() string {
	return "fshare/" + Version
}
