package conf

import "github.com/specphone/specphone/internal/buildinfo"

// Context carries the process-wide state handed to CLI commands. Settings is
// filled in by the root command before any subcommand runs.
type Context struct {
	Settings *Settings
	Build    *buildinfo.Context
}

// NewContext returns a context with empty settings.
func NewContext(build *buildinfo.Context) *Context {
	return &Context{Settings: &Settings{}, Build: build}
}
