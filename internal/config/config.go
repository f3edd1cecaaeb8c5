package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/waabox/bgrelease/internal/domain"
)

// Infrastructure variants.
const (
	InfraMinikube = "minikube"
	InfraEKS      = "eks"
)

// Input policies for CI builds paused for input.
const (
	InputProceed = "proceed"
	InputPrompt  = "prompt"
	InputAbort   = "abort"
)

// Duration is a time.Duration written as a string ("7m", "10s") in the config file.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// ClusterConfig selects and tunes the cluster the CI server runs on.
type ClusterConfig struct {
	Infra           string `toml:"infra"`
	Namespace       string `toml:"namespace"`
	Kubeconfig      string `toml:"kubeconfig"`
	KubeContext     string `toml:"kube_context"`
	MinikubeProfile string `toml:"minikube_profile"`
	MinikubeMemory  string `toml:"minikube_memory"`
	MinikubeCPUs    int    `toml:"minikube_cpus"`
	EKSClusterName  string `toml:"eks_cluster_name"`
	AWSRegion       string `toml:"aws_region"`
	AWSAccountID    string `toml:"aws_account_id"`
}

// JenkinsConfig holds the CI server installation and access settings.
type JenkinsConfig struct {
	URL              string `toml:"url"`
	User             string `toml:"user"`
	Password         string `toml:"password"`
	ReleaseName      string `toml:"release_name"`
	ChartRepo        string `toml:"chart_repo"`
	Chart            string `toml:"chart"`
	ChartVersion     string `toml:"chart_version"`
	JobName          string `toml:"job_name"`
	AdminSecretKey   string `toml:"admin_secret_key"`
	ControllerLabel  string `toml:"controller_label"`
	TemplateDir      string `toml:"template_dir"`
	InputPolicy      string `toml:"input_policy"`
	InferLostTickets *bool  `toml:"infer_lost_tickets"`
}

// ReleaseConfig describes the application being released.
type ReleaseConfig struct {
	BlueLabel       string `toml:"blue_label"`
	GreenLabel      string `toml:"green_label"`
	AppFile         string `toml:"app_file"`
	VersionVariable string `toml:"version_variable"`
	ActiveService   string `toml:"active_service"`
	AutoPush        bool   `toml:"auto_push"`
	PushRemote      string `toml:"push_remote"`
	AuthorName      string `toml:"author_name"`
	AuthorEmail     string `toml:"author_email"`
	VerifyActive    *bool  `toml:"verify_active"`
}

// TimeoutsConfig bounds every wait of a run.
type TimeoutsConfig struct {
	ServiceInterval Duration `toml:"service_interval"`
	ServiceTimeout  Duration `toml:"service_timeout"`
	ReadyInterval   Duration `toml:"ready_interval"`
	ReadyTimeout    Duration `toml:"ready_timeout"`
	ConnectInterval Duration `toml:"connect_interval"`
	ConnectTimeout  Duration `toml:"connect_timeout"`
	StartInterval   Duration `toml:"start_interval"`
	StartTimeout    Duration `toml:"start_timeout"`
	BuildInterval   Duration `toml:"build_interval"`
}

// Config holds all bgrelease file configuration.
type Config struct {
	Cluster  ClusterConfig  `toml:"cluster"`
	Jenkins  JenkinsConfig  `toml:"jenkins"`
	Release  ReleaseConfig  `toml:"release"`
	Timeouts TimeoutsConfig `toml:"timeouts"`
}

// LoadFrom reads configuration from the given TOML file path.
// If the file does not exist, it returns an empty config without error.
// Environment variables always take precedence over file values:
//   - JENKINS_URL          overrides jenkins.url
//   - JENKINS_USER         overrides jenkins.user
//   - JENKINS_PASSWORD     overrides jenkins.password
//   - BGRELEASE_NAMESPACE  overrides cluster.namespace
//   - AWS_REGION           overrides cluster.aws_region
func LoadFrom(path string) (Config, error) {
	var cfg Config
	if _, err := os.Stat(path); err == nil {
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %v: %w", path, err, domain.ErrConfiguration)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return Config{}, fmt.Errorf("%s: unknown keys %s: %w", path, strings.Join(keys, ", "), domain.ErrConfiguration)
		}
	}
	applyEnvOverrides(&cfg)
	return cfg, nil
}

// DefaultConfigPath returns the default path for the bgrelease config file.
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "bgrelease", "config.toml")
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("JENKINS_URL"); v != "" {
		cfg.Jenkins.URL = v
	}
	if v := os.Getenv("JENKINS_USER"); v != "" {
		cfg.Jenkins.User = v
	}
	if v := os.Getenv("JENKINS_PASSWORD"); v != "" {
		cfg.Jenkins.Password = v
	}
	if v := os.Getenv("BGRELEASE_NAMESPACE"); v != "" {
		cfg.Cluster.Namespace = v
	}
	if v := os.Getenv("AWS_REGION"); v != "" {
		cfg.Cluster.AWSRegion = v
	}
}

// Save writes cfg to the given TOML file path, creating parent directories as needed.
// Existing file contents are overwritten. Permissions on the written file are 0600,
// since the file may hold the CI password.
func Save(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("opening config file: %w", err)
	}
	if encErr := toml.NewEncoder(f).Encode(cfg); encErr != nil {
		f.Close()
		return encErr
	}
	return f.Close()
}

// Sample returns a configuration with every default spelled out, as a starting point
// for a config file.
func Sample() Config {
	t := DefaultTimeouts
	infer, verify := true, true
	return Config{
		Cluster: ClusterConfig{
			Infra:           InfraMinikube,
			Namespace:       DefaultNamespace,
			MinikubeProfile: DefaultMinikubeProfile,
			MinikubeMemory:  "4096",
			MinikubeCPUs:    2,
			EKSClusterName:  DefaultEKSClusterName,
			AWSRegion:       DefaultRegion,
		},
		Jenkins: JenkinsConfig{
			User:             DefaultAdminUser,
			ReleaseName:      DefaultReleaseName,
			ChartRepo:        DefaultChartRepo,
			Chart:            DefaultChart,
			JobName:          DefaultJobName,
			AdminSecretKey:   DefaultAdminSecretKey,
			ControllerLabel:  DefaultControllerLabel,
			InputPolicy:      InputProceed,
			InferLostTickets: &infer,
		},
		Release: ReleaseConfig{
			BlueLabel:       DefaultBlueLabel,
			GreenLabel:      DefaultGreenLabel,
			AppFile:         DefaultAppFile,
			VersionVariable: DefaultVersionVariable,
			ActiveService:   DefaultActiveService,
			PushRemote:      "origin",
			VerifyActive:    &verify,
		},
		Timeouts: TimeoutsConfig{
			ServiceInterval: Duration{t.ServiceInterval},
			ServiceTimeout:  Duration{t.ServiceTimeout},
			ReadyInterval:   Duration{t.ReadyInterval},
			ReadyTimeout:    Duration{t.ReadyTimeout},
			ConnectInterval: Duration{t.ConnectInterval},
			ConnectTimeout:  Duration{t.ConnectTimeout},
			StartInterval:   Duration{t.StartInterval},
			StartTimeout:    Duration{t.StartTimeout},
			BuildInterval:   Duration{t.BuildInterval},
		},
	}
}
