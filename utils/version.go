package utils

// Build information, set with -ldflags "-X" at release time.
var (
	Tag        = "dev"
	GitHash    = "unknown"
	BuildStamp = "unknown"
)
