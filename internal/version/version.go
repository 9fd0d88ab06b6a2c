// Package version holds build metadata for the bidup-live binaries.
//
// Values are stamped with ldflags:
//
//	go build -ldflags "-X github.com/rickgao/bidup-live/internal/version.Version=1.0.0 \
//	                   -X github.com/rickgao/bidup-live/internal/version.Commit=$(git rev-parse --short HEAD)"
package version

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// String returns "version (commit) built time".
func String() string {
	return Version + " (" + Commit + ") built " + BuildTime
}

// UserAgent is sent on every REST request and hub handshake.
func UserAgent() string {
	return "bidup-live/" + Version
}
