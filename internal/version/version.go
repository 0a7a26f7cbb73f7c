// © 2024 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package version provides the version and build information.
package version

import (
	"runtime"
	"runtime/debug"
	"strings"
	"sync"
)

// Info is the version and build information of the current binary.
type Info struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Commit  string `json:"commit,omitempty"`   // vcs.revision
	BuiltAt string `json:"built_at,omitempty"` // vcs.time
	Go      string `json:"go"`
	OS      string `json:"os"`
	Arch    string `json:"arch"`
}

// String implements the [fmt.Stringer] interface.
func (i Info) String() string {
	var sb strings.Builder
	sb.WriteString(i.Name + " " + i.Version + " (" + i.Go + ", " + i.OS + "/" + i.Arch + ")\n")
	if i.Commit != "" {
		sb.WriteString("commit " + i.Commit + "\n")
	}
	if i.BuiltAt != "" {
		sb.WriteString("built at " + i.BuiltAt + "\n")
	}
	return sb.String()
}

// CmdName is the name of the binary, used in help output and the User-Agent.
const CmdName = "gptbot"

var (
	loadFunc = debug.ReadBuildInfo
	info     = sync.OnceValue(func() Info { return loadInfo(loadFunc) })
)

// Version returns the version and build information of the current binary.
func Version() Info { return info() }

// UserAgent returns the User-Agent header value for outgoing HTTP requests.
func UserAgent() string { return userAgent(Version()) }

func userAgent(i Info) string {
	ua := i.Name + "/" + i.Version
	if len(i.Commit) >= 7 {
		ua += " (+" + i.Commit[:7] + ")"
	}
	return ua
}

func loadInfo(load func() (*debug.BuildInfo, bool)) Info {
	i := Info{
		Name:    CmdName,
		Version: "devel",
		Go:      runtime.Version(),
		OS:      runtime.GOOS,
		Arch:    runtime.GOARCH,
	}
	bi, ok := load()
	if !ok {
		return i
	}
	if v := bi.Main.Version; v != "" && v != "(devel)" {
		i.Version = v
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			i.Commit = s.Value
		case "vcs.time":
			i.BuiltAt = s.Value
		}
	}
	return i
}
