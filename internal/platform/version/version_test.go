package version

import (
	"runtime"
	"strings"
	"testing"
)

func TestGet(t *testing.T) {
	info := Get()

	if info.Version == "" || info.Commit == "" || info.BuildTime == "" {
		t.Fatalf("build fields must have defaults, got %+v", info)
	}
	if info.GoVersion != runtime.Version() {
		t.Errorf("GoVersion = %q, want %q", info.GoVersion, runtime.Version())
	}
	if info.Platform != runtime.GOOS+"/"+runtime.GOARCH {
		t.Errorf("Platform = %q", info.Platform)
	}
}

func TestInfoString(t *testing.T) {
	s := Info{Version: "v1.2.0", Commit: "abc123", BuildTime: "2026-01-01", GoVersion: "go1.24", Platform: "linux/amd64"}.String()

	if !strings.HasPrefix(s, "twitch-indicator v1.2.0") || !strings.Contains(s, "abc123") {
		t.Errorf("unexpected version line %q", s)
	}
}
