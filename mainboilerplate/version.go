package mainboilerplate

// Version and BuildDate are set at build time via -ldflags.
var (
	Version   = "development"
	BuildDate = "unknown"
)
