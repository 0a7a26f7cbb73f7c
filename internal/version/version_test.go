// © 2024 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package version

import (
	"runtime"
	"runtime/debug"
	"testing"

	"go.astrophena.name/gptbot/internal/testutil"
)

func TestLoadInfo(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		bi     *debug.BuildInfo
		ok     bool
		want   Info
		wantUA string
	}{
		"no build info": {
			want: Info{
				Name:    "gptbot",
				Version: "devel",
				Go:      runtime.Version(),
				OS:      runtime.GOOS,
				Arch:    runtime.GOARCH,
			},
			wantUA: "gptbot/devel",
		},
		"devel with vcs": {
			bi: &debug.BuildInfo{
				Main: debug.Module{Version: "(devel)"},
				Settings: []debug.BuildSetting{
					{Key: "vcs.revision", Value: "0123456789abcdef"},
					{Key: "vcs.time", Value: "2026-10-01T12:00:00Z"},
				},
			},
			ok: true,
			want: Info{
				Name:    "gptbot",
				Version: "devel",
				Commit:  "0123456789abcdef",
				BuiltAt: "2026-10-01T12:00:00Z",
				Go:      runtime.Version(),
				OS:      runtime.GOOS,
				Arch:    runtime.GOARCH,
			},
			wantUA: "gptbot/devel (+0123456)",
		},
		"tagged": {
			bi: &debug.BuildInfo{Main: debug.Module{Version: "v1.2.3"}},
			ok: true,
			want: Info{
				Name:    "gptbot",
				Version: "v1.2.3",
				Go:      runtime.Version(),
				OS:      runtime.GOOS,
				Arch:    runtime.GOARCH,
			},
			wantUA: "gptbot/v1.2.3",
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			got := loadInfo(func() (*debug.BuildInfo, bool) { return tc.bi, tc.ok })
			testutil.AssertEqual(t, got, tc.want)
			testutil.AssertEqual(t, userAgent(got), tc.wantUA)
		})
	}
}

func TestInfoString(t *testing.T) {
	t.Parallel()

	i := Info{Name: "gptbot", Version: "v1.0.0", Commit: "abc", Go: "go1.24", OS: "linux", Arch: "amd64"}
	testutil.AssertEqual(t, i.String(), "gptbot v1.0.0 (go1.24, linux/amd64)\ncommit abc\n")
}
