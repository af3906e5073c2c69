package version

// AppVersion is the carbonara release version.
// Overridden at build time with -ldflags "-X .../internal/version.AppVersion=x.y.z".
var AppVersion = "0.4.0-dev"
