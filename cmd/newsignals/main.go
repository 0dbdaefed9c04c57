// newsignals — entity news-signal dataset generator.
//
// Main CLI entrypoint using cobra command framework.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/newsmap/newsignals/internal/aggregator"
	"github.com/newsmap/newsignals/internal/config"
	"github.com/newsmap/newsignals/internal/dataset"
	"github.com/newsmap/newsignals/internal/infra"
	"github.com/newsmap/newsignals/internal/logger"
	"github.com/newsmap/newsignals/internal/source"
	"github.com/newsmap/newsignals/pkg/models"
	"github.com/newsmap/newsignals/pkg/utils"
)

// Build-time variables (set via -ldflags).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Global config
var cfg *config.Config

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "newsignals",
	Short: "newsignals — build time-indexed news signal datasets for named entities",
	Long: `newsignals queries a news backend for every entity in an input CSV,
aggregates article volume into aligned per-entity time series, and writes
the result as a dataset directory: one JSON artifact per entity plus a
manifest with per-entity completion status.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		configFile, _ := cmd.Flags().GetString("config")
		if configFile != "" {
			cfg, err = config.LoadFromFile(configFile)
		} else {
			cfg, err = config.Load()
		}
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "config file path (default: ./config/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level override (debug, info, warn, error)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(statusCmd)
}

// --- Version Command ---

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("newsignals %s\n", version)
		fmt.Printf("  commit:  %s\n", commit)
		fmt.Printf("  built:   %s\n", date)
	},
}

// --- Generate Command ---

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a news signal dataset from an entity CSV",
	Long: `Generate fetches bucketed article volume for every entity between
--start (inclusive) and --end (exclusive) and writes the dataset to
--output-dataset-dir. Per-entity fetch failures never abort the run;
the manifest records each entity's completion status.

Dates use the YYYY/MM/DD form.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		csvPath, _ := flags.GetString("input-csv")
		idField, _ := flags.GetString("id-field")
		nameField, _ := flags.GetString("name-field")
		startStr, _ := flags.GetString("start")
		endStr, _ := flags.GetString("end")
		outDir, _ := flags.GetString("output-dataset-dir")
		bucketStr, _ := flags.GetString("bucket")
		sourceName, _ := flags.GetString("source")
		overwrite, _ := flags.GetBool("overwrite")
		resume, _ := flags.GetBool("resume")

		log := newLogger(cmd)

		start, err := utils.ParseDate(startStr)
		if err != nil {
			return err
		}
		end, err := utils.ParseDate(endStr)
		if err != nil {
			return err
		}
		r := models.DateRange{Start: start, End: end}

		size, err := dataset.ParseBucketSize(bucketStr)
		if err != nil {
			return err
		}
		buckets, err := dataset.Buckets(r, size)
		if err != nil {
			return err
		}

		table, err := dataset.LoadEntityTable(csvPath, idField, nameField, log)
		if err != nil {
			return err
		}
		if table.Len() == 0 {
			return fmt.Errorf("no valid entities in %s", csvPath)
		}

		src, err := newSource(sourceName)
		if err != nil {
			return err
		}

		writer, err := dataset.NewWriter(outDir, overwrite || resume, log)
		if err != nil {
			return err
		}
		fetcher := source.NewFetcher(src,
			infra.NewLimiter(cfg.Fetch.RatePerSecond, cfg.Fetch.Burst),
			infra.RetryPolicy{
				MaxRetries: cfg.Fetch.MaxRetries,
				BaseDelay:  time.Duration(cfg.Fetch.RetryBaseMs) * time.Millisecond,
			},
			time.Duration(cfg.Fetch.TimeoutSec)*time.Second,
		)

		opts := aggregator.Options{
			Concurrency:      cfg.Run.Concurrency,
			Deadline:         time.Duration(cfg.Run.DeadlineSec) * time.Second,
			StoriesPerBucket: cfg.Run.StoriesPerBucket,
			Resume:           resume,
		}
		if v, _ := flags.GetInt("concurrency"); v > 0 {
			opts.Concurrency = v
		}
		if v, _ := flags.GetInt("deadline"); v > 0 {
			opts.Deadline = time.Duration(v) * time.Second
		}
		if flags.Changed("stories-per-bucket") {
			opts.StoriesPerBucket, _ = flags.GetInt("stories-per-bucket")
		}

		log.Infof("generating dataset: %d entities, %d buckets (%s), source %s",
			table.Len(), len(buckets), size, src.Name())

		agg := aggregator.New(fetcher, writer, log, opts)
		ds, summary, err := agg.Run(cmd.Context(), table.Entities(), buckets, size)
		if err != nil {
			return err
		}

		_, report, err := writer.Finalize(ds, "News Signals Dataset")
		if err != nil {
			return err
		}

		fmt.Printf("Dataset written to %s\n", outDir)
		fmt.Printf("  entities:  %d complete, %d partial, %d failed", summary.Complete, summary.Partial, summary.Failed)
		if summary.Resumed > 0 {
			fmt.Printf(" (%d resumed)", summary.Resumed)
		}
		fmt.Println()
		fmt.Printf("  artifacts: %d written, %d reused\n", report.Artifacts, report.Skipped)
		// Partial results are still a success: the manifest is the
		// authoritative failure report.
		return nil
	},
}

func init() {
	generateCmd.Flags().String("input-csv", "", "path to the entity CSV (required)")
	generateCmd.Flags().String("id-field", "Wikidata ID", "CSV column holding the entity id")
	generateCmd.Flags().String("name-field", "Name", "CSV column holding the entity display name")
	generateCmd.Flags().String("start", "", "range start date, YYYY/MM/DD, inclusive (required)")
	generateCmd.Flags().String("end", "", "range end date, YYYY/MM/DD, exclusive (required)")
	generateCmd.Flags().String("output-dataset-dir", "", "output dataset directory (required)")
	generateCmd.Flags().String("bucket", "daily", "bucket size: daily or weekly")
	generateCmd.Flags().String("source", "", "news backend: newsapi or rss (default from config)")
	generateCmd.Flags().Bool("overwrite", false, "allow writing into a non-empty output directory")
	generateCmd.Flags().Bool("resume", false, "reuse existing entity artifacts instead of refetching")
	generateCmd.Flags().Int("stories-per-bucket", 0, "sample up to N stories per non-empty bucket")
	generateCmd.Flags().Int("concurrency", 0, "entity worker pool size (default from config)")
	generateCmd.Flags().Int("deadline", 0, "wall-clock run deadline in seconds (0 = none)")

	for _, f := range []string{"input-csv", "start", "end", "output-dataset-dir"} {
		_ = generateCmd.MarkFlagRequired(f)
	}
}

// newSource builds the configured news backend. The backend choice pins the
// entity matching strategy for the whole dataset.
func newSource(override string) (source.Source, error) {
	name := cfg.Source.Name
	if override != "" {
		name = override
	}
	switch name {
	case "newsapi":
		return source.NewNewsAPI(cfg.Source.NewsAPI.BaseURL, cfg.Source.NewsAPI.AppID, cfg.Source.NewsAPI.APIKey), nil
	case "rss":
		return source.NewRSS(cfg.Source.RSS.BaseURL, cfg.Source.RSS.Language), nil
	default:
		return nil, fmt.Errorf("unknown source %q (want newsapi or rss)", name)
	}
}

func newLogger(cmd *cobra.Command) *logrus.Logger {
	level := cfg.Logging.Level
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		level = v
	}
	return logger.New(level, cfg.Logging.Format, os.Stderr)
}

// --- Inspect Command ---

var inspectCmd = &cobra.Command{
	Use:   "inspect [dataset-dir]",
	Short: "Summarize a generated dataset from its manifest",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := dataset.LoadManifest(args[0])
		if err != nil {
			return err
		}

		complete, partial, failed := m.Counts()
		fmt.Printf("%s (schema v%s)\n", m.Name, m.SchemaVersion)
		fmt.Printf("  range:     %s – %s (%s buckets)\n",
			utils.FormatDate(m.Range.Start), utils.FormatDate(m.Range.End), m.BucketSize)
		fmt.Printf("  source:    %s\n", m.Source)
		fmt.Printf("  generated: %s\n", m.GeneratedAt.Format(time.RFC3339))
		fmt.Printf("  entities:  %d complete, %d partial, %d failed\n", complete, partial, failed)

		verbose, _ := cmd.Flags().GetBool("verbose")
		if verbose {
			for _, e := range m.Entities {
				line := fmt.Sprintf("    %-12s %-8s %s", e.ID, e.Status, e.Name)
				if e.FailedBuckets > 0 {
					line += fmt.Sprintf(" (%d buckets missing)", e.FailedBuckets)
				}
				if e.Reason != "" {
					line += " [" + e.Reason + "]"
				}
				fmt.Println(line)
			}
		}
		return nil
	},
}

func init() {
	inspectCmd.Flags().Bool("verbose", false, "list per-entity status")
}

// --- Status Command ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show configuration and credential status",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println("newsignals — configuration")
		fmt.Printf("  Version:     %s (%s)\n", version, commit)
		fmt.Printf("  Source:      %s\n", cfg.Source.Name)
		fmt.Printf("  Rate budget: %.1f req/s (burst %d)\n", cfg.Fetch.RatePerSecond, cfg.Fetch.Burst)
		fmt.Printf("  Retries:     %d (base delay %dms)\n", cfg.Fetch.MaxRetries, cfg.Fetch.RetryBaseMs)
		fmt.Printf("  Concurrency: %d\n", cfg.Run.Concurrency)
		fmt.Println()

		fmt.Println("  API Keys:")
		for _, k := range config.CheckAPIKeys(cfg) {
			status := "not set"
			if k.IsSet {
				status = fmt.Sprintf("set (%s: %s)", k.Source, k.Masked)
			}
			fmt.Printf("    %-18s %s\n", k.Name+":", status)
		}
		return nil
	},
}
