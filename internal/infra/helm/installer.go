// Package helm installs and removes the CI server chart with the Helm SDK.
package helm

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"
	"helm.sh/helm/v3/pkg/action"
	"helm.sh/helm/v3/pkg/chart"
	"helm.sh/helm/v3/pkg/chart/loader"
	"helm.sh/helm/v3/pkg/cli"
	"helm.sh/helm/v3/pkg/storage/driver"
)

// Chart identifies a chart in a repository.
type Chart struct {
	RepoURL string
	Name    string
	Version string
}

// Installer manages releases in one namespace.
type Installer struct {
	namespace string
	settings  *cli.EnvSettings
	logger    *zap.Logger
	// newConfig and locate are replaced in tests.
	newConfig func() (*action.Configuration, error)
	locate    func(c Chart) (*chart.Chart, error)
}

// NewInstaller creates an Installer using the given kubeconfig and context; empty
// values fall back to the Helm defaults ($KUBECONFIG, current context).
func NewInstaller(namespace, kubeconfig, kubeContext string, logger *zap.Logger) *Installer {
	if logger == nil {
		logger = zap.NewNop()
	}
	settings := cli.New()
	if kubeconfig != "" {
		settings.KubeConfig = kubeconfig
	}
	if kubeContext != "" {
		settings.KubeContext = kubeContext
	}
	settings.SetNamespace(namespace)

	i := &Installer{namespace: namespace, settings: settings, logger: logger}
	i.newConfig = i.actionConfig
	i.locate = i.locateChart
	return i
}

func (i *Installer) actionConfig() (*action.Configuration, error) {
	cfg := new(action.Configuration)
	logFn := func(format string, v ...interface{}) {
		i.logger.Debug(fmt.Sprintf(format, v...))
	}
	if err := cfg.Init(i.settings.RESTClientGetter(), i.namespace, os.Getenv("HELM_DRIVER"), logFn); err != nil {
		return nil, fmt.Errorf("initializing helm: %w", err)
	}
	return cfg, nil
}

func (i *Installer) locateChart(c Chart) (*chart.Chart, error) {
	opts := action.ChartPathOptions{RepoURL: c.RepoURL, Version: c.Version}
	path, err := opts.LocateChart(c.Name, i.settings)
	if err != nil {
		return nil, fmt.Errorf("locating chart %s in %s: %w", c.Name, c.RepoURL, err)
	}
	return loader.Load(path)
}

// Install installs the release, or upgrades it when it already exists so a run can be
// repeated against the same cluster. It does not wait for the pods.
func (i *Installer) Install(ctx context.Context, release string, c Chart, values map[string]interface{}) error {
	cfg, err := i.newConfig()
	if err != nil {
		return err
	}
	chrt, err := i.locate(c)
	if err != nil {
		return err
	}

	_, err = action.NewGet(cfg).Run(release)
	switch {
	case errors.Is(err, driver.ErrReleaseNotFound):
		install := action.NewInstall(cfg)
		install.ReleaseName = release
		install.Namespace = i.namespace
		install.Version = c.Version
		rel, err := install.RunWithContext(ctx, chrt, values)
		if err != nil {
			return fmt.Errorf("installing %s: %w", release, err)
		}
		i.logger.Info("chart installed", zap.String("release", rel.Name), zap.String("chart", chrt.Metadata.Name), zap.String("version", chrt.Metadata.Version))
	case err != nil:
		return fmt.Errorf("reading release %s: %w", release, err)
	default:
		upgrade := action.NewUpgrade(cfg)
		upgrade.Namespace = i.namespace
		upgrade.Version = c.Version
		rel, err := upgrade.RunWithContext(ctx, release, chrt, values)
		if err != nil {
			return fmt.Errorf("upgrading %s: %w", release, err)
		}
		i.logger.Info("chart upgraded", zap.String("release", rel.Name), zap.Int("revision", rel.Version))
	}
	return nil
}

// Uninstall removes the release; a missing release is not an error.
func (i *Installer) Uninstall(release string) error {
	cfg, err := i.newConfig()
	if err != nil {
		return err
	}
	uninstall := action.NewUninstall(cfg)
	uninstall.IgnoreNotFound = true
	_, err = uninstall.Run(release)
	if err != nil && !errors.Is(err, driver.ErrReleaseNotFound) {
		return fmt.Errorf("uninstalling %s: %w", release, err)
	}
	return nil
}
