// physobj - generator-level particle extraction
// Runs analyzer plugins over event files and writes columnar particle tables.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	_ "github.com/physobj/physobj/pkg/analyzers/genparticle"
	"github.com/physobj/physobj/pkg/tui"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

// CLI flags
var (
	configFile      string
	verbose         bool
	outputFile      string
	formatFlag      string
	compressionFlag string
	batchSize       int
	maxEvents       int64
	skipEvents      int64
	uploadURL       string
	checkpointDir   string
	redisAddr       string
	force           bool
	topN            int
	watchExisting   bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		tui.PrintError(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "physobj",
	Short: "physobj - extract generator-level particles into columnar tables",
	Long: `physobj runs analyzer plugins over generator-level event files (JSONL, LCIO)
and writes one row per event to Apache Parquet or Arrow IPC.`,
	Version:       fmt.Sprintf("%s (%s)", version, commit),
	SilenceUsage:  true,
	SilenceErrors: true,
}

var runCmd = &cobra.Command{
	Use:   "run [inputs...]",
	Short: "Run the configured analyzers over input files",
	Long: `Run the configured analyzers over one or more input files.

Inputs may be glob patterns. Without arguments the job file's source.files are used.
A job whose checkpoint is already complete is skipped unless --force is set.

Examples:
  physobj run events.jsonl -o genparticles.parquet
  physobj run 'data/*.slcio' -o out.parquet --compression zstd
  physobj run -c job.yaml --max-events 1000
  physobj run events.jsonl.gz -o out.parquet --upload s3://bucket/prefix`,
	RunE: runRun,
}

var inspectCmd = &cobra.Command{
	Use:   "inspect <output.parquet>",
	Short: "Summarize a produced particle table",
	Args:  cobra.ExactArgs(1),
	RunE:  runInspect,
}

var watchCmd = &cobra.Command{
	Use:   "watch <dir>",
	Short: "Run a job for every input file that appears in a directory",
	Long: `Watch a directory and run the configured analyzers once per settled input file.

Each input <name>.jsonl writes <outdir>/<name>.parquet.

Examples:
  physobj watch incoming/ -o tables/`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

var pluginsCmd = &cobra.Command{
	Use:   "plugins",
	Short: "List registered analyzer plugins",
	RunE:  runPlugins,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration as YAML",
	RunE:  runConfig,
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Job configuration file (YAML)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	// Job flags shared by run and watch
	for _, cmd := range []*cobra.Command{runCmd, watchCmd} {
		cmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output file (run) or directory (watch)")
		cmd.Flags().StringVar(&formatFlag, "format", "", "Output format (parquet, arrow)")
		cmd.Flags().StringVar(&compressionFlag, "compression", "", "Parquet compression (none, snappy, gzip, zstd, lz4, brotli)")
		cmd.Flags().IntVar(&batchSize, "batch-size", 0, "Rows per record batch")
		cmd.Flags().Int64Var(&maxEvents, "max-events", -1, "Stop after N events (-1 = all)")
		cmd.Flags().Int64Var(&skipEvents, "skip-events", 0, "Skip the first N events")
		cmd.Flags().StringVar(&uploadURL, "upload", "", "Upload finished outputs to s3://bucket/prefix")
		cmd.Flags().StringVar(&checkpointDir, "checkpoint-dir", "", "Store checkpoints in this directory")
		cmd.Flags().StringVar(&redisAddr, "redis", "", "Store checkpoints in Redis at host:port")
		cmd.Flags().BoolVar(&force, "force", false, "Rerun jobs that already completed")
	}
	runCmd.MarkFlagsMutuallyExclusive("checkpoint-dir", "redis")
	watchCmd.MarkFlagsMutuallyExclusive("checkpoint-dir", "redis")
	watchCmd.Flags().BoolVar(&watchExisting, "existing", false, "Also process files already in the directory")

	inspectCmd.Flags().IntVar(&topN, "top", 10, "Number of PDG IDs to list")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(pluginsCmd)
	rootCmd.AddCommand(configCmd)
}
