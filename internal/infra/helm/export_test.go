package helm

import (
	"helm.sh/helm/v3/pkg/action"
	"helm.sh/helm/v3/pkg/chart"
)

// WithFakes swaps the cluster connection and the chart source.
func (i *Installer) WithFakes(cfg *action.Configuration, c *chart.Chart) *Installer {
	i.newConfig = func() (*action.Configuration, error) { return cfg, nil }
	i.locate = func(Chart) (*chart.Chart, error) { return c, nil }
	return i
}
