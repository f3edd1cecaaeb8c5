// Package template renders the job definition and chart values handed to the CI server
// and the cluster, and rewrites the application version marker between stages.
//
// Placeholders are literal {{NAME}} tokens replaced verbatim. Nothing is escaped.
package template

import (
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/waabox/bgrelease/internal/domain"
)

// Placeholder tokens.
const (
	GitRepoURL  = "GIT_REPO_URL"
	GitBranch   = "GIT_BRANCH"
	AdminUser   = "ADMIN_USER"
	ServiceType = "SERVICE_TYPE"
)

// File names, both embedded and in an override directory.
const (
	JobConfigFile  = "job_config.xml"
	HelmValuesFile = "jenkins-values.yaml"
)

//go:embed defaults/job_config.xml defaults/jenkins-values.yaml
var defaults embed.FS

var leftover = regexp.MustCompile(`\{\{[A-Z0-9_]+\}\}`)

// Render replaces every {{KEY}} of values in tmpl. A key whose token does not appear in
// tmpl, or a token left without a value, is an error: the rendered artifact would
// otherwise silently keep the placeholder.
func Render(tmpl string, values map[string]string) (string, error) {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := tmpl
	for _, k := range keys {
		token := "{{" + k + "}}"
		if !strings.Contains(out, token) {
			return "", fmt.Errorf("placeholder %s not found in template: %w", token, domain.ErrConfiguration)
		}
		out = strings.ReplaceAll(out, token, values[k])
	}
	if missing := leftover.FindAllString(out, -1); len(missing) > 0 {
		return "", fmt.Errorf("template placeholders without a value: %s: %w", strings.Join(unique(missing), ", "), domain.ErrConfiguration)
	}
	return out, nil
}

func unique(in []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// Set holds the raw templates of a run.
type Set struct {
	JobConfig  string
	HelmValues string
}

// Defaults returns the embedded templates.
func Defaults() Set {
	job, err := defaults.ReadFile("defaults/" + JobConfigFile)
	if err != nil {
		panic(err)
	}
	values, err := defaults.ReadFile("defaults/" + HelmValuesFile)
	if err != nil {
		panic(err)
	}
	return Set{JobConfig: string(job), HelmValues: string(values)}
}

// Load returns the embedded templates with any file present in dir taking precedence.
// An empty dir returns the defaults.
func Load(dir string) (Set, error) {
	set := Defaults()
	if dir == "" {
		return set, nil
	}
	for name, dst := range map[string]*string{JobConfigFile: &set.JobConfig, HelmValuesFile: &set.HelmValues} {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return Set{}, fmt.Errorf("reading template %s: %w", name, err)
		}
		*dst = string(data)
	}
	return set, nil
}

// JobDefinition renders the pipeline job for repo.
func (s Set) JobDefinition(repo domain.Repository) (string, error) {
	return Render(s.JobConfig, map[string]string{
		GitRepoURL: repo.URL,
		GitBranch:  repo.Branch,
	})
}

// ChartValues renders the chart values and decodes them. Rendering that yields invalid
// YAML is a configuration error.
func (s Set) ChartValues(adminUser string, mode domain.ExposureMode) (map[string]any, error) {
	rendered, err := Render(s.HelmValues, map[string]string{
		AdminUser:   adminUser,
		ServiceType: string(mode),
	})
	if err != nil {
		return nil, err
	}
	values := map[string]any{}
	if err := yaml.Unmarshal([]byte(rendered), &values); err != nil {
		return nil, fmt.Errorf("chart values are not valid YAML: %v: %w", err, domain.ErrConfiguration)
	}
	return values, nil
}
