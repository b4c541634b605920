// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/microsoft/gitsvnsync/config"
)

func TestDecodeJSONFileRoundTripsConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	body := `{
		"Personal": {"PollIntervalSecs": 60, "DataDir": "/tmp/data", "LogLevel": "info"},
		"SVN": {"URL": "https://svn.example.com/repo/trunk", "Username": "svcuser", "PasswordEnv": "SVN_PASSWORD"},
		"GitHub": {"APIURL": "", "Repo": "golang/go", "TokenEnv": "GITHUB_TOKEN", "DefaultBranch": "main"},
		"Developer": {"Name": "Sync Bot", "Email": "sync@example.com", "SVNUsername": "syncbot"},
		"CommitFormat": {"SvnToGit": "svn r{{.Rev}}", "GitToSvn": "git {{.SHA}}"},
		"Options": {"NormalizeLineEndings": true, "MaxFileSize": 1048576}
	}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	var cfg config.Config
	if err := decodeJSONFile(path, &cfg); err != nil {
		t.Fatalf("decodeJSONFile() = %v", err)
	}
	if cfg.GitHub.Repo != "golang/go" {
		t.Errorf("GitHub.Repo = %q, want golang/go", cfg.GitHub.Repo)
	}
	if cfg.Personal.PollIntervalSecs != 60 {
		t.Errorf("Personal.PollIntervalSecs = %d, want 60", cfg.Personal.PollIntervalSecs)
	}
	if !cfg.Options.NormalizeLineEndings {
		t.Error("Options.NormalizeLineEndings = false, want true")
	}
}

func TestDecodeJSONFileRejectsUnknownField(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(`{"NotARealField": true}`), 0o644); err != nil {
		t.Fatal(err)
	}

	var cfg config.Config
	if err := decodeJSONFile(path, &cfg); err == nil {
		t.Fatal("decodeJSONFile() with unknown field = nil error, want error")
	}
}

func TestDecodeJSONFileMissingFile(t *testing.T) {
	var cfg config.Config
	if err := decodeJSONFile("/nonexistent/config.json", &cfg); err == nil {
		t.Fatal("decodeJSONFile() on missing file = nil error, want error")
	}
}

func TestLoadConfigRequiresPath(t *testing.T) {
	if _, err := loadConfig(""); err == nil {
		t.Fatal("loadConfig(\"\") = nil error, want error")
	}
}

func TestLoadConfigRejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(`{"Personal": {"DataDir": "/tmp/data"}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := loadConfig(path); err == nil {
		t.Fatal("loadConfig() on config missing required fields = nil error, want error")
	}
}
