// Package version carries build-time version information.
package version

// Version is the release version, overridden at build time via
// -ldflags "-X github.com/intellidoc/agentflow/pkg/version.Version=...".
var Version = "dev"
