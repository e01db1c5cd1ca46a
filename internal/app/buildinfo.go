package app

import (
	"fmt"
	"strings"
	"time"
)

var (
	// Version is filled by ldflags in release builds.
	Version = "dev"
	// Commit is filled by ldflags in release builds.
	Commit = ""
	// BuildDate is filled by ldflags in release builds.
	BuildDate = ""
)

func BuildVersion() string {
	version := strings.TrimSpace(Version)
	if version == "" {
		return "dev"
	}

	return version
}

func BuildDateYMD() string {
	raw := strings.TrimSpace(BuildDate)
	if raw == "" {
		return ""
	}

	if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
		return parsed.Format(time.DateOnly)
	}
	if len(raw) >= len(time.DateOnly) {
		if _, err := time.Parse(time.DateOnly, raw[:len(time.DateOnly)]); err == nil {
			return raw[:len(time.DateOnly)]
		}
	}

	return raw
}

func shortCommit() string {
	c := strings.TrimSpace(Commit)
	if len(c) > 7 {
		return c[:7]
	}

	return c
}

// BuildString renders "ctigo 1.2.0 (abc1234, 2026-01-30)" for --version.
func BuildString() string {
	var extra []string
	if c := shortCommit(); c != "" {
		extra = append(extra, c)
	}
	if d := BuildDateYMD(); d != "" {
		extra = append(extra, d)
	}
	if len(extra) == 0 {
		return fmt.Sprintf("%s %s", Name, BuildVersion())
	}

	return fmt.Sprintf("%s %s (%s)", Name, BuildVersion(), strings.Join(extra, ", "))
}
