package privscan

// Version is the semantic version of the library.
const Version = "0.4.0"

// VersionInfo returns the full version string with library name.
func VersionInfo() string {
	return "go-privscan v" + Version
}
