// Package version exposes build-time version metadata injected via -ldflags.
package version

// Version and Commit are overridden at build time with:
//
//	-ldflags "-X github.com/linkbroker/linkbroker/internal/version.Version=... -X .../internal/version.Commit=..."
var (
	Version = "dev"
	Commit  = "unknown"
)
