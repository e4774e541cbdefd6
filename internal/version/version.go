// Package version carries build metadata injected with -ldflags "-X stockfeed/internal/version.Version=...".
package version

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)
