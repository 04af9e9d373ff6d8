package utils

// Build metadata, overridden at link time via -ldflags.
var (
	Tag        = "dev"
	GitHash    = ""
	BuildStamp = ""
)
