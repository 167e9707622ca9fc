package version

import (
	"runtime"
	"testing"
)

func TestString(t *testing.T) {
	origVersion, origCommit := Version, GitCommit
	defer func() { Version, GitCommit = origVersion, origCommit }()

	tests := []struct {
		version, commit, want string
	}{
		{"dev", "unknown", "dev"},
		{"1.2.0", "3f2a9c1d8e", "1.2.0 (3f2a9c1)"},
		{"1.2.0", "abc", "1.2.0 (abc)"},
	}
	for _, tt := range tests {
		Version, GitCommit = tt.version, tt.commit
		if got := String(); got != tt.want {
			t.Errorf("String() with %q/%q = %q, want %q", tt.version, tt.commit, got, tt.want)
		}
	}
}

func TestGet(t *testing.T) {
	info := Get()
	if info.GoVersion != runtime.Version() {
		t.Errorf("GoVersion = %q, want %q", info.GoVersion, runtime.Version())
	}
	if info.Platform != runtime.GOOS+"/"+runtime.GOARCH {
		t.Errorf("Platform = %q", info.Platform)
	}
	if got := UserAgent(); got != "servernode/"+Version {
		t.Errorf("UserAgent() = %q", got)
	}
}
