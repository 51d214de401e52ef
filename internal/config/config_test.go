package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"pocketdb/internal/snapshot"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{EnvDriver, EnvPath, EnvDSN, EnvS3Bucket, EnvS3Region,
		EnvS3Endpoint, EnvS3PathStyle, EnvS3Key, EnvAsyncCommit, EnvStrictReload} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if diff := cmp.Diff(Default(), cfg); diff != "" {
		t.Fatalf("defaults mismatch (-want +got):\n%s", diff)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "pocketdb.yaml")
	doc := "driver: sqlite\npath: from-file.db\nasync_commit: true\ns3:\n  region: eu-west-1\n"
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv(EnvPath, "from-env.db")
	t.Setenv(EnvStrictReload, "true")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := Config{
		Driver:       snapshot.DriverSQLite,
		Path:         "from-env.db",
		S3:           S3{Region: "eu-west-1"},
		AsyncCommit:  true,
		StrictReload: true,
	}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Fatalf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestValidationFailures(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvDriver, "floppy")
	if _, err := FromEnv(); err == nil || !strings.Contains(err.Error(), "oneof") {
		t.Fatalf("expected driver validation error, got %v", err)
	}
	t.Setenv(EnvDriver, "S3")
	if _, err := FromEnv(); err == nil || !strings.Contains(err.Error(), "required_for_s3") {
		t.Fatalf("expected bucket requirement, got %v", err)
	}
	t.Setenv(EnvS3Bucket, "snapshots")
	t.Setenv(EnvS3PathStyle, "yes please")
	if _, err := FromEnv(); err == nil {
		t.Fatalf("expected bool parse error")
	}
	t.Setenv(EnvS3PathStyle, "1")
	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Driver != snapshot.DriverS3 || !cfg.S3.PathStyle {
		t.Fatalf("unexpected config %+v", cfg)
	}
}

func TestLoadMissingFile(t *testing.T) {
	clearEnv(t)
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("expected read error")
	}
}
