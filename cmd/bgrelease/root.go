package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/waabox/bgrelease/internal/config"
	"github.com/waabox/bgrelease/internal/git"
	"github.com/waabox/bgrelease/internal/logging"
	"github.com/waabox/bgrelease/internal/metrics"
	"github.com/waabox/bgrelease/internal/orchestrator"
	"github.com/waabox/bgrelease/internal/tui"
)

// options are the flags that are not part of the run configuration.
type options struct {
	configPath  string
	verbose     bool
	jsonLogs    bool
	metricsFile string
}

var (
	opts  options
	flags config.Flags
)

var rootCmd = &cobra.Command{
	Use:   "bgrelease",
	Short: "Blue/green release of an application through Jenkins on Kubernetes",
	Long: `Provision a cluster with Jenkins, build and deploy the blue version of an
application, switch it to the green version and offer to clean everything up.

Examples:
  bgrelease --git-repo-url https://github.com/acme/blue-green-app.git
  bgrelease --git-repo-url git@github.com:acme/app.git --infra eks --aws-account-id 123456789012
  bgrelease --skip-setup --git-repo-url https://github.com/acme/app.git
  bgrelease --cleanup-only`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	Args:          cobra.NoArgs,
	RunE:          runRelease,
}

func init() {
	f := rootCmd.Flags()
	f.StringVar(&flags.GitRepoURL, "git-repo-url", "", "repository the pipeline builds (required unless --cleanup-only)")
	f.StringVar(&flags.GitBranch, "git-branch", "", "branch the pipeline builds (default \"main\")")
	f.BoolVar(&flags.SkipSetup, "skip-setup", false, "use an existing cluster, Jenkins and job")
	f.BoolVar(&flags.CleanupOnly, "cleanup-only", false, "only tear down what a previous run created")
	f.StringVar(&flags.Infra, "infra", "", "infrastructure: minikube or eks (default \"minikube\")")
	f.StringVar(&flags.AWSAccountID, "aws-account-id", "", "AWS account the EKS cluster belongs to (required for eks)")
	f.StringVar(&flags.AWSRegion, "aws-region", "", "AWS region (default \"us-east-1\")")
	f.StringVar(&flags.Namespace, "namespace", "", "Kubernetes namespace (default \"blue-green-demo\")")
	f.StringVar(&flags.JobName, "job-name", "", "Jenkins job name (default \"blue-green-pipeline\")")
	f.StringVar(&flags.Workdir, "workdir", "", "checkout holding the application source (default current directory)")
	f.BoolVar(&flags.AutoApprove, "auto-approve", false, "answer every question with proceed, including cleanup")

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", "", "config file (default ~/.config/bgrelease/config.toml)")
	pf.BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")
	pf.BoolVar(&opts.jsonLogs, "json-logs", false, "log JSON lines instead of console text")
	rootCmd.Flags().StringVar(&opts.metricsFile, "metrics-file", "", "write prometheus metrics of the run to this file")
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

func configPath() string {
	if opts.configPath != "" {
		return opts.configPath
	}
	return config.DefaultConfigPath()
}

func runRelease(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadFrom(configPath())
	if err != nil {
		return err
	}
	rc, err := config.Resolve(cfg, flags)
	if err != nil {
		return err
	}

	runID := uuid.NewString()
	logger := logging.New(logging.Options{Verbose: opts.verbose, JSON: opts.jsonLogs, RunID: runID})
	defer logging.Sync(logger)
	rec := metrics.New()

	console := tui.NewConsole(cmd.OutOrStdout())
	subtitle := fmt.Sprintf("run %s on %s, namespace %s", runID[:8], rc.Infra, rc.Namespace)
	if !rc.CleanupOnly {
		subtitle = fmt.Sprintf("%s (%s), %s", rc.Repo.Slug(), rc.Repo.Branch, subtitle)
	}
	console.Banner("bgrelease "+version, subtitle)
	checkCheckout(rc, console, logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := wire(ctx, rc, wiring{
		in:      cmd.InOrStdin(),
		out:     cmd.OutOrStdout(),
		console: console,
		logger:  logger,
		metrics: rec,
	})
	if err != nil {
		return err
	}

	res := orchestrator.New(rc, deps).Run(ctx)

	addr, _ := res.Handle.ActiveServiceAddress()
	console.Summary(tui.Summary{Phases: res.Phases, State: res.Release, ActiveAddress: addr, Err: res.Err})
	if opts.metricsFile != "" {
		if err := rec.WriteTextfile(opts.metricsFile); err != nil {
			logger.Warn("writing metrics", zap.String("path", opts.metricsFile), zap.Error(err))
		}
	}
	return res.Err
}

// checkCheckout warns when the working directory is not a checkout of the repository
// the job builds, since the green version is authored there.
func checkCheckout(rc config.RunConfiguration, console *tui.Console, logger *zap.Logger) {
	if rc.CleanupOnly {
		return
	}
	local, err := git.DetectRepository(rc.Workdir)
	if err != nil {
		logger.Debug("working directory is not a git checkout", zap.String("workdir", rc.Workdir), zap.Error(err))
		return
	}
	if local.Slug() != rc.Repo.Slug() {
		console.Warnf("%s is a checkout of %s, but the job builds %s", rc.Workdir, local.Slug(), rc.Repo.Slug())
	}
}
