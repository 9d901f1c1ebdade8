package version

import "fmt"

// Set at build time via -ldflags.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

type Info struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Date    string `json:"date"`
}

func Get() Info {
	return Info{Version: Version, Commit: Commit, Date: Date}
}

func (i Info) String() string {
	return fmt.Sprintf("Autopilot %s (commit: %s, built: %s)", i.Version, i.Commit, i.Date)
}

// UserAgent is sent on outbound HTTP requests to tool providers and
// inference backends.
func UserAgent() string {
	return "autopilot/" + Version
}
