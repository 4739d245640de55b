package info

// version is overridden at build time with ldflags.
var version = "v0.1.0"

// gitCommit is overridden at build time with ldflags.
var gitCommit = ""

// GetVersionString returns the version of the binary, with the git commit
// appended when one was stamped in at build time.
func GetVersionString() string {
	if gitCommit != "" {
		return version + "-" + gitCommit
	}
	return version
}
