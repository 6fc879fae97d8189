package version

// Build information. These variables are set at build time via ldflags.
var (
	// Version is the semantic version (if tagged)
	Version = "dev"

	// Commit is the git commit hash when the binary was built
	Commit = "unknown"

	// Date is when the binary was built
	Date = "unknown"
)
