package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/waabox/bgrelease/internal/config"
	"github.com/waabox/bgrelease/internal/domain"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_FromFile(t *testing.T) {
	path := writeConfig(t, `
[cluster]
infra = "eks"
namespace = "releases"

[jenkins]
url = "http://jenkins.internal:8080"
user = "release-bot"
infer_lost_tickets = false

[release]
green_label = "3.0 (GREEN)"
auto_push = true

[timeouts]
ready_timeout = "12m"
build_interval = "30s"
`)

	cfg, err := config.LoadFrom(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Cluster.Infra != "eks" {
		t.Errorf("expected infra 'eks', got '%s'", cfg.Cluster.Infra)
	}
	if cfg.Cluster.Namespace != "releases" {
		t.Errorf("expected namespace 'releases', got '%s'", cfg.Cluster.Namespace)
	}
	if cfg.Jenkins.URL != "http://jenkins.internal:8080" {
		t.Errorf("unexpected jenkins url '%s'", cfg.Jenkins.URL)
	}
	if cfg.Jenkins.InferLostTickets == nil || *cfg.Jenkins.InferLostTickets {
		t.Errorf("expected infer_lost_tickets to be explicitly false")
	}
	if !cfg.Release.AutoPush {
		t.Errorf("expected auto_push")
	}
	if cfg.Timeouts.ReadyTimeout.Duration != 12*time.Minute {
		t.Errorf("expected ready_timeout 12m, got %s", cfg.Timeouts.ReadyTimeout)
	}
	if cfg.Timeouts.BuildInterval.Duration != 30*time.Second {
		t.Errorf("expected build_interval 30s, got %s", cfg.Timeouts.BuildInterval)
	}
}

func TestLoad_EnvVarsTakePrecedence(t *testing.T) {
	path := writeConfig(t, `
[jenkins]
url = "http://fromfile:8080"
password = "fromfile"
`)

	t.Setenv("JENKINS_URL", "http://fromenv:8080")
	t.Setenv("JENKINS_USER", "envuser")
	t.Setenv("JENKINS_PASSWORD", "envpass")
	t.Setenv("BGRELEASE_NAMESPACE", "envns")
	t.Setenv("AWS_REGION", "eu-west-1")

	cfg, err := config.LoadFrom(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Jenkins.URL != "http://fromenv:8080" {
		t.Errorf("expected env url, got '%s'", cfg.Jenkins.URL)
	}
	if cfg.Jenkins.User != "envuser" || cfg.Jenkins.Password != "envpass" {
		t.Errorf("expected env credentials, got '%s'/'%s'", cfg.Jenkins.User, cfg.Jenkins.Password)
	}
	if cfg.Cluster.Namespace != "envns" {
		t.Errorf("expected env namespace, got '%s'", cfg.Cluster.Namespace)
	}
	if cfg.Cluster.AWSRegion != "eu-west-1" {
		t.Errorf("expected env region, got '%s'", cfg.Cluster.AWSRegion)
	}
}

func TestLoad_MissingFileIsNotError(t *testing.T) {
	t.Setenv("JENKINS_URL", "http://onlyenv:8080")
	cfg, err := config.LoadFrom("/nonexistent/path/config.toml")
	if err != nil {
		t.Fatalf("missing file should not be an error, got: %v", err)
	}
	if cfg.Jenkins.URL != "http://onlyenv:8080" {
		t.Errorf("expected url from env, got '%s'", cfg.Jenkins.URL)
	}
}

func TestLoad_RejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, `
[jenkins]
ulr = "typo"
`)
	_, err := config.LoadFrom(path)
	if !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestLoad_RejectsBadDuration(t *testing.T) {
	path := writeConfig(t, `
[timeouts]
ready_timeout = "seven minutes"
`)
	if _, err := config.LoadFrom(path); err == nil {
		t.Fatal("expected error for invalid duration")
	}
}

func TestSave_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	in := config.Config{
		Cluster:  config.ClusterConfig{Namespace: "saved"},
		Timeouts: config.TimeoutsConfig{ReadyTimeout: config.Duration{Duration: 3 * time.Minute}},
	}
	if err := config.Save(path, in); err != nil {
		t.Fatalf("save: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("expected mode 0600, got %v", info.Mode().Perm())
	}
	out, err := config.LoadFrom(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if out.Cluster.Namespace != "saved" || out.Timeouts.ReadyTimeout.Duration != 3*time.Minute {
		t.Errorf("round trip lost values: %+v", out)
	}
}

func TestSample_ResolvesToDefaults(t *testing.T) {
	t.Setenv("AWS_REGION", "")
	t.Setenv("BGRELEASE_NAMESPACE", "")
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := config.Save(path, config.Sample()); err != nil {
		t.Fatalf("save: %v", err)
	}
	cfg, err := config.LoadFrom(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	rc, err := config.Resolve(cfg, config.Flags{GitRepoURL: "https://github.com/acme/shop.git"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if rc.Timeouts != config.DefaultTimeouts {
		t.Errorf("timeouts = %+v, want defaults", rc.Timeouts)
	}
	if rc.Namespace != config.DefaultNamespace || rc.Infra != config.InfraMinikube {
		t.Errorf("unexpected cluster settings: namespace %q infra %q", rc.Namespace, rc.Infra)
	}
	if !rc.Jenkins.InferLostTickets || !rc.Release.VerifyActive {
		t.Error("sample should keep inference and verification enabled")
	}
}
