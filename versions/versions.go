// Package versions reports build and dependency versions for the platform's
// binaries. Version and Commit are set at link time:
//
//	go build -ldflags "-X github.com/rickyliu0219/Cloud-Real-time-Monitoring-Platform/versions.Version=1.2.0"
package versions

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"sort"
	"strings"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

// Info describes one running binary.
type Info struct {
	Service      string            `json:"service"`
	Version      string            `json:"version"`
	Commit       string            `json:"commit"`
	GoVersion    string            `json:"go_version"`
	Dependencies map[string]string `json:"dependencies,omitempty"`
}

// Get returns the build information for service.
func Get(service string) Info {
	info := Info{
		Service:      service,
		Version:      Version,
		Commit:       Commit,
		GoVersion:    runtime.Version(),
		Dependencies: make(map[string]string),
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, dep := range bi.Deps {
			if dep.Replace != nil {
				dep = dep.Replace
			}
			info.Dependencies[dep.Path] = dep.Version
		}
		if info.Commit == "unknown" {
			for _, s := range bi.Settings {
				if s.Key == "vcs.revision" {
					info.Commit = s.Value
				}
			}
		}
	}
	return info
}

// String renders a human readable banner.
func (i Info) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s (commit %s, %s)", i.Service, i.Version, i.Commit, i.GoVersion)
	paths := make([]string, 0, len(i.Dependencies))
	for p := range i.Dependencies {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		fmt.Fprintf(&b, "\n  %s %s", p, i.Dependencies[p])
	}
	return b.String()
}
