package config

// Version is reported by GET /api/version. Overridable at build time via
// -ldflags "-X github.com/feedrelay/hub/config.Version=...".
var Version = "dev"
