// Package buildinfo reports the linebot release and the process it runs in.
// Release fields are stamped with -ldflags "-X", for example:
//
//	go build -ldflags "-X github.com/nugget/linebot-mcp/internal/buildinfo.Version=v1.2.0" ./cmd/linebot
package buildinfo

import (
	"runtime"
	"strings"
	"time"
)

var (
	Version   = "dev"
	GitCommit = "unknown"
	GitBranch = "unknown"
	BuildTime = "unknown"
)

var started = time.Now()

// Info is served at GET /version, printed by "linebot -o json version"
// and shown on the admin dashboard.
func Info() map[string]string {
	info := map[string]string{
		"version":    Version,
		"git_commit": GitCommit,
		"git_branch": GitBranch,
		"build_time": BuildTime,
		"go_version": runtime.Version(),
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
	}
	info["uptime"] = Uptime().String()
	return info
}

// Uptime is whole seconds since the process started.
func Uptime() time.Duration {
	return time.Since(started).Truncate(time.Second)
}

// UserAgent identifies linebot to the LINE and Gemini APIs.
func UserAgent() string {
	return "LineBotMCP/" + strings.TrimPrefix(Version, "v")
}

func String() string {
	var b strings.Builder
	b.WriteString("linebot ")
	b.WriteString(Version)
	if GitCommit != "unknown" {
		b.WriteString(" (" + GitCommit + "@" + GitBranch + ")")
	}
	if BuildTime != "unknown" {
		b.WriteString(" built " + BuildTime)
	}
	return b.String()
}
