package version

import (
	"strings"
	"testing"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		name     string
		version  string
		commit   string
		settings map[string]string
		want     string
	}{
		{
			name:    "ldflags win",
			version: "v0.3.0", commit: "abc1234",
			settings: map[string]string{"vcs.revision": "ffffffffffff"},
			want:     "v0.3.0 (commit: abc1234)",
		},
		{
			name:     "vcs settings",
			settings: map[string]string{"vcs.revision": "0123456789abcdef", "vcs.time": "2024-05-06T07:08:09Z", "vcs.modified": "true"},
			want:     "dev-20240506 (commit: 0123456-dirty)",
		},
		{
			name:     "module version",
			settings: map[string]string{"main.version": "v1.2.3"},
			want:     "v1.2.3 (commit: unknown)",
		},
		{
			name:     "nothing known",
			settings: map[string]string{},
			want:     "dev (commit: unknown)",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := resolve(tt.version, tt.commit, tt.settings).String()
			if got != tt.want {
				t.Errorf("resolve() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFull(t *testing.T) {
	if !strings.Contains(Full(), "commit:") {
		t.Errorf("Full() = %q, want a commit", Full())
	}
	if Get().GoVersion == "" {
		t.Error("Get().GoVersion should be set")
	}
}
