// Package version exposes build metadata for wits.
//
// Version, Commit and BuildTime are injected through -ldflags and default to
// values suitable for local builds.
package version
