// Package version exposes build metadata stamped in via ldflags.
package version

var (
	// Version is the semantic version.
	Version = "v0.0.0-dev"

	// GitCommit is the git commit hash.
	GitCommit = "unknown"

	// BuildTime is the build timestamp.
	BuildTime = "unknown"
)

// Info returns a single-line version string for startup banners.
func Info() string {
	return Version + " (" + GitCommit + ") built at " + BuildTime
}
