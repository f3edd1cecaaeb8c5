package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/waabox/bgrelease/internal/auth"
	"github.com/waabox/bgrelease/internal/config"
	"github.com/waabox/bgrelease/internal/domain"
	"github.com/waabox/bgrelease/internal/metrics"
	"github.com/waabox/bgrelease/internal/template"
	"github.com/waabox/bgrelease/internal/tui"
)

func testRunConfig(t *testing.T, flags config.Flags) config.RunConfiguration {
	t.Helper()
	if flags.GitRepoURL == "" && !flags.CleanupOnly {
		flags.GitRepoURL = "https://github.com/acme/blue-green-app.git"
	}
	if flags.Workdir == "" {
		flags.Workdir = t.TempDir()
	}
	rc, err := config.Resolve(config.Config{}, flags)
	require.NoError(t, err)
	return rc
}

func testWiring(in string) wiring {
	var out bytes.Buffer
	return wiring{
		in:      strings.NewReader(in),
		out:     &out,
		console: tui.NewConsole(&out),
		logger:  zap.NewNop(),
		metrics: metrics.New(),
	}
}

func TestBuildGates_AutoApproveProceedsEverywhere(t *testing.T) {
	rc := testRunConfig(t, config.Flags{AutoApprove: true})

	g, err := buildGates(rc, testWiring(""))
	require.NoError(t, err)

	for name, gate := range map[string]domain.ApprovalGate{"build": g.build, "push": g.push, "cleanup": g.cleanup} {
		d, err := gate.RequestDecision(context.Background(), domain.Prompt{Title: name, Default: domain.Abort})
		require.NoError(t, err, name)
		assert.Equal(t, domain.Proceed, d, name)
	}
}

func TestBuildGates_CleanupOnlyNeedsNoTerminal(t *testing.T) {
	rc := testRunConfig(t, config.Flags{CleanupOnly: true})

	g, err := buildGates(rc, testWiring(""))
	require.NoError(t, err)

	d, err := g.cleanup.RequestDecision(context.Background(), domain.Prompt{Title: "cleanup", Default: domain.Abort})
	require.NoError(t, err)
	assert.Equal(t, domain.Abort, d)
}

func TestBuildGates_RefusesWithoutTerminal(t *testing.T) {
	rc := testRunConfig(t, config.Flags{})

	_, err := buildGates(rc, testWiring("yes\n"))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConfiguration)
	assert.Contains(t, err.Error(), "--auto-approve")
}

func TestInfraRegistry_Variants(t *testing.T) {
	rc := testRunConfig(t, config.Flags{})

	reg := infraRegistry(rc, template.Defaults(), zap.NewNop())
	assert.Equal(t, []string{"eks", "minikube"}, reg.Names())
}

func TestWire_Minikube(t *testing.T) {
	rc := testRunConfig(t, config.Flags{AutoApprove: true})

	deps, err := wire(context.Background(), rc, testWiring(""))
	require.NoError(t, err)

	assert.NotNil(t, deps.Infra)
	assert.NotNil(t, deps.Secrets, "the provisioner also reads cluster secrets")
	assert.NotNil(t, deps.Watcher)
	assert.Nil(t, deps.Publisher, "no publisher unless auto push is enabled")
}

func TestWire_AutoPushCreatesPublisher(t *testing.T) {
	rc := testRunConfig(t, config.Flags{AutoApprove: true})
	rc.Release.AutoPush = true

	deps, err := wire(context.Background(), rc, testWiring(""))
	require.NoError(t, err)
	assert.NotNil(t, deps.Publisher)
}

func TestWire_BadTemplateDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, template.HelmValuesFile), 0o755))
	rc := testRunConfig(t, config.Flags{AutoApprove: true})
	rc.Jenkins.TemplateDir = dir

	_, err := wire(context.Background(), rc, testWiring(""))
	require.Error(t, err)
}

func TestConnectJenkins_ReloadsPasswordOnRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, _ := r.BasicAuth()
		if user != "admin" || pass != "fresh" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("X-Jenkins", "2.452.1")
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	refreshed := 0
	ci := connectJenkins(srv.URL, auth.Credentials{User: "admin", Password: "stale"}, func(context.Context) (string, error) {
		refreshed++
		return "fresh", nil
	})

	version, err := ci.Ping(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2.452.1", version)
	assert.Equal(t, 1, refreshed)
}

func TestInitConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bgrelease", "config.toml")
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	t.Cleanup(func() { rootCmd.SetArgs(nil); rootCmd.SetOut(nil) })

	rootCmd.SetArgs([]string{"init-config", "--config", path})
	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), path)

	cfg, err := config.LoadFrom(path)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultNamespace, cfg.Cluster.Namespace)

	rootCmd.SetArgs([]string{"init-config", "--config", path})
	err = rootCmd.Execute()
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConfiguration)

	rootCmd.SetArgs([]string{"init-config", "--config", path, "--force"})
	require.NoError(t, rootCmd.Execute())
}

func TestRoot_RequiresRepository(t *testing.T) {
	t.Setenv("JENKINS_URL", "")
	t.Cleanup(func() { rootCmd.SetArgs(nil) })

	rootCmd.SetArgs([]string{"--config", filepath.Join(t.TempDir(), "missing.toml"), "--infra", "minikube"})
	err := rootCmd.Execute()
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConfiguration)
	assert.Contains(t, err.Error(), "--git-repo-url is required")
}
