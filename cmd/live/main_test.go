package main

import (
	"path/filepath"
	"testing"
)

func TestRunReturnsExitCodes(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "test-key")
	t.Setenv("API_KEY", "")
	missing := filepath.Join(t.TempDir(), "missing.yaml")

	cases := map[string]struct {
		args []string
		want int
	}{
		"bad flag":       {[]string{"-nope"}, 2},
		"missing config": {[]string{"-config", missing}, 2},
		"unknown mode":   {[]string{"-mode", "poetry"}, 2},
		"empty prompt":   {[]string{"-mode", "chat"}, 2},
	}
	for name, tc := range cases {
		if got := run(tc.args); got != tc.want {
			t.Fatalf("%s: exit code want=%d got=%d", name, tc.want, got)
		}
	}
}

func TestRunRequiresAPIKey(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("API_KEY", "")
	if got := run([]string{"-mode", "chat", "hello"}); got != 2 {
		t.Fatalf("exit code without api key: %d", got)
	}
}

func TestImageExt(t *testing.T) {
	cases := map[string]string{"image/jpeg": ".jpg", "image/webp": ".webp", "image/png": ".png", "": ".png"}
	for mime, want := range cases {
		if got := imageExt(mime); got != want {
			t.Fatalf("imageExt(%q): want=%s got=%s", mime, want, got)
		}
	}
}
