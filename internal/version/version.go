// Package version provides version information for the Stellar renderer.
package version

import (
	"fmt"
	"os"
	"runtime"
	"strings"
)

// These variables are set at build time using -ldflags
var (
	// Name is the application name
	Name = "Stellar Renderer"

	// Version is the semantic version (set via -ldflags at build time)
	Version = "0.1.0"

	// BuildTime is the build timestamp (set via -ldflags at build time)
	BuildTime = ""

	// GitCommit is the git commit hash (set via -ldflags at build time)
	GitCommit = ""
)

// Info contains version information
type Info struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	BuildTime string `json:"buildTime,omitempty"`
	GitCommit string `json:"gitCommit,omitempty"`
}

// GetInfo returns the current version information
func GetInfo() Info {
	return Info{
		Name:      Name,
		Version:   Version,
		BuildTime: BuildTime,
		GitCommit: GitCommit,
	}
}

// String returns a formatted version string
func (i Info) String() string {
	s := fmt.Sprintf("%s v%s", i.Name, i.Version)
	if i.GitCommit != "" {
		s += fmt.Sprintf(" (%s)", i.GitCommit[:min(7, len(i.GitCommit))])
	}
	if i.BuildTime != "" {
		s += fmt.Sprintf(" built %s", i.BuildTime)
	}
	return s
}

// Product is the product token, e.g. "StellarRenderer/0.1.0".
func (i Info) Product() string {
	return strings.ReplaceAll(i.Name, " ", "") + "/" + i.Version
}

// ServerHeader returns the SERVER value sent in SSDP and HTTP responses:
// "<os>/<os version> UPnP/1.0 <product>/<version>".
func ServerHeader() string {
	return fmt.Sprintf("%s/%s UPnP/1.0 %s", osName(), osRelease(), GetInfo().Product())
}

func osName() string {
	if runtime.GOOS == "" {
		return "Unknown"
	}
	return strings.ToUpper(runtime.GOOS[:1]) + runtime.GOOS[1:]
}

func osRelease() string {
	data, err := os.ReadFile("/proc/sys/kernel/osrelease")
	if err != nil {
		return "1.0"
	}
	release := strings.TrimSpace(string(data))
	// Drop the distribution suffix, "6.1.0-rpi7-rpi-v8" -> "6.1.0".
	if i := strings.IndexAny(release, "-+"); i > 0 {
		release = release[:i]
	}
	return release
}
