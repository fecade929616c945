package version

// Build-time variables, overridden via -ldflags.
var (
	Version   = "0.3.0"
	GitCommit = "unknown"
	BuildTime = "unknown"
)
