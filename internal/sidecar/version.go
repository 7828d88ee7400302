package sidecar

// CurrentVersion is stamped into every sidecar Scout writes. A sidecar
// loaded with a different version is "outdated" per base spec §3/§7 and
// triggers a re-scan under --force rather than being treated as corrupt.
const CurrentVersion = "scout-1"

// IsCurrentVersion reports whether s was written by this build.
func (s Sidecar) IsCurrentVersion() bool {
	return s.Version == CurrentVersion
}
