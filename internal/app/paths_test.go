package app

import (
	"os"
	"path/filepath"
	"testing"
)

func TestResolvePaths_UsesUserConfigDirectory(t *testing.T) {
	configHome := filepath.Join(t.TempDir(), "cfg")
	t.Setenv("XDG_CONFIG_HOME", configHome)
	t.Setenv("HOME", t.TempDir())

	paths, err := ResolvePaths()
	if err != nil {
		t.Fatalf("resolve paths: %v", err)
	}

	root, err := os.UserConfigDir()
	if err != nil {
		t.Fatalf("user config dir: %v", err)
	}
	if paths.RootDir != filepath.Join(root, Name) {
		t.Fatalf("unexpected root dir: %q", paths.RootDir)
	}
	if _, err := os.Stat(paths.RootDir); err != nil {
		t.Fatalf("expected root directory to exist: %v", err)
	}
}

func TestPathsIn(t *testing.T) {
	root := filepath.Join(t.TempDir(), "nested", "ctigo")

	paths, err := PathsIn(root)
	if err != nil {
		t.Fatalf("paths in: %v", err)
	}
	if paths.ConfigFile != filepath.Join(root, ConfigFilename) {
		t.Fatalf("unexpected config file: %q", paths.ConfigFile)
	}
	if paths.DBFile != filepath.Join(root, DBFilename) {
		t.Fatalf("unexpected db file: %q", paths.DBFile)
	}
	if paths.LogFile != filepath.Join(root, LogFilename) {
		t.Fatalf("unexpected log file: %q", paths.LogFile)
	}
}
