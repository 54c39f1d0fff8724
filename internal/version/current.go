// Package version provides the build version of the module,
// overridable at build time via ldflags.
package version

// Set at build time:
//
//	-ldflags "-X github.com/effective-security/p11mac/internal/version.version=1.2.3"
var (
	version = "0.1.0"
	commit  = ""
)

// Info describes the build
type Info struct {
	Version string
	Commit  string
}

// Current returns the current build info
func Current() Info {
	return Info{
		Version: version,
		Commit:  commit,
	}
}

func (i Info) String() string {
	if i.Commit != "" {
		return i.Version + "-" + i.Commit
	}
	return i.Version
}
