package version

import (
	"runtime"
	"testing"
)

func TestSetKeepsInjectedValues(t *testing.T) {
	Set(Info{Version: "v1.2.3", Commit: "abc123", BuildTime: "2024-05-01T12:00:00Z"})

	got := Current()
	if got.Version != "v1.2.3" || got.Commit != "abc123" || got.BuildTime != "2024-05-01T12:00:00Z" {
		t.Fatalf("unexpected info %+v", got)
	}
	if got.GoVersion != runtime.Version() {
		t.Fatalf("expected go version %q, got %q", runtime.Version(), got.GoVersion)
	}
}

func TestSetDefaultsVersion(t *testing.T) {
	Set(Info{})
	if got := Current().Version; got == "" {
		t.Fatalf("expected a default version")
	}
}
