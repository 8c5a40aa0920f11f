// Package version holds the build version string.
package version

// Version is the semantic version of the build. Overridden at link time
// for release builds.
var Version = "0.1.0-dev"
