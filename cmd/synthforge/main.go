package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var (
	configPath   string
	resumeConfig string
	envFile      string
	verbose      bool
	metricsAddr  string
	force        bool
	outputDir    string
	dbPath       string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "synthforge",
		Short: "synthforge - chunked synthetic data generation",
		Long: `synthforge turns a seed dataset into a larger synthetic dataset by
running every record through an LLM generation strategy. Jobs stream the
input in chunks, checkpoint after each chunk and can be resumed.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", Version, GitCommit, BuildTime),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run a generation job",
		Long: `Run a generation job described by a TOML configuration file.
A new job directory is created under the output directory unless
[job].resume_from_job names an existing one.`,
		Args: cobra.NoArgs,
		RunE: runGeneration,
	}
	runCmd.Flags().StringVar(&configPath, "config", "config.toml", "Path to configuration file")
	runCmd.Flags().StringVar(&envFile, "env-file", ".env", "Path to environment file")
	runCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	runCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (overrides [metrics].listen_addr)")
	runCmd.Flags().BoolVar(&force, "force", false, "Resume even if the configuration changed since the checkpoint")

	resumeCmd := &cobra.Command{
		Use:   "resume <job-dir>",
		Short: "Resume a job from its checkpoint",
		Long: `Resume an interrupted job. The configuration backed up in the job
directory is used unless --config is given.`,
		Args: cobra.ExactArgs(1),
		RunE: resumeJob,
	}
	resumeCmd.Flags().StringVar(&resumeConfig, "config", "", "Path to configuration file (default: the job's config.toml.bak)")
	resumeCmd.Flags().StringVar(&envFile, "env-file", ".env", "Path to environment file")
	resumeCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	resumeCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	resumeCmd.Flags().BoolVar(&force, "force", false, "Resume even if the configuration changed since the checkpoint")

	statusCmd := &cobra.Command{
		Use:   "status <job-dir>",
		Short: "Show the checkpoint and report of a job",
		Args:  cobra.ExactArgs(1),
		RunE:  showStatus,
	}

	checkpointCmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Manage checkpoints",
		Long:  "Inspect the checkpoints of generation jobs",
	}
	checkpointCmd.PersistentFlags().StringVar(&dbPath, "db", "", "SQLite checkpoint database (default: file checkpoints in the job directories)")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List all jobs with a checkpoint",
		Args:  cobra.NoArgs,
		RunE:  listCheckpoints,
	}
	listCmd.Flags().StringVar(&outputDir, "output-dir", "output", "Directory holding job directories")

	inspectCmd := &cobra.Command{
		Use:   "inspect <job-dir>",
		Short: "Show a checkpoint and its commit history",
		Args:  cobra.ExactArgs(1),
		RunE:  inspectCheckpoint,
	}

	strategiesCmd := &cobra.Command{
		Use:   "strategies",
		Short: "List the generation strategies",
		Args:  cobra.NoArgs,
		RunE:  listStrategies,
	}

	checkpointCmd.AddCommand(listCmd)
	checkpointCmd.AddCommand(inspectCmd)

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(checkpointCmd)
	rootCmd.AddCommand(strategiesCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
