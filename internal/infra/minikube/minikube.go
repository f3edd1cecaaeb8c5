// Package minikube drives a local cluster through the minikube CLI.
package minikube

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/waabox/bgrelease/internal/command"
	"github.com/waabox/bgrelease/internal/domain"
)

const binary = "minikube"

// Profile is a named minikube cluster.
type Profile struct {
	Name string
	// Memory is passed as is, e.g. "4096" or "4g".
	Memory string
	CPUs   int
}

// Cluster runs minikube commands for one profile.
type Cluster struct {
	run     command.Runner
	profile Profile
}

// New creates a Cluster.
func New(run command.Runner, profile Profile) *Cluster {
	return &Cluster{run: run, profile: profile}
}

// Profile returns the profile the cluster was created for.
func (c *Cluster) Profile() Profile {
	return c.profile
}

// Check verifies the minikube binary is installed.
func (c *Cluster) Check() error {
	_, err := c.run.LookPath(binary)
	return err
}

// Start starts the cluster, or does nothing when it is already running.
func (c *Cluster) Start(ctx context.Context) error {
	if c.Running(ctx) {
		return nil
	}
	args := []string{"start", "--profile", c.profile.Name}
	if c.profile.Memory != "" {
		args = append(args, "--memory", c.profile.Memory)
	}
	if c.profile.CPUs > 0 {
		args = append(args, "--cpus", strconv.Itoa(c.profile.CPUs))
	}
	if _, err := c.run.Run(ctx, binary, args...); err != nil {
		return fmt.Errorf("starting minikube profile %s: %w", c.profile.Name, err)
	}
	return nil
}

// Running reports whether the profile's host is running. Any failure counts as not
// running.
func (c *Cluster) Running(ctx context.Context) bool {
	res := c.run.Probe(ctx, binary, "status", "--profile", c.profile.Name, "--format", "{{.Host}}")
	return res.ExitCode == 0 && strings.TrimSpace(res.Stdout) == "Running"
}

// IP returns the node address of the cluster.
func (c *Cluster) IP(ctx context.Context) (string, error) {
	res, err := c.run.Run(ctx, binary, "ip", "--profile", c.profile.Name)
	if err != nil {
		return "", fmt.Errorf("reading minikube ip: %w", err)
	}
	ip := strings.TrimSpace(res.Stdout)
	if net.ParseIP(ip) == nil {
		return "", fmt.Errorf("minikube ip returned %q: %w", ip, domain.ErrConfiguration)
	}
	return ip, nil
}

// Delete removes the profile. It never fails; the outcome is logged by the runner.
func (c *Cluster) Delete(ctx context.Context) bool {
	res := c.run.Probe(ctx, binary, "delete", "--profile", c.profile.Name)
	return res.ExitCode == 0
}
