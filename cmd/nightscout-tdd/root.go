package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	slogctx "github.com/veqryn/slog-context"

	repository "github.com/adamlounds/nightscout-tdd/adapters"
	"github.com/adamlounds/nightscout-tdd/config"
	"github.com/adamlounds/nightscout-tdd/models"
)

type ctxKeyConfig int

const configKey ctxKeyConfig = 0

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "nightscout-tdd",
		Short: "Daily insulin totals from a Nightscout instance",
		Long: `Fetch treatments from Nightscout, total basal, bolus and SMB insulin per
calendar day and write index.html, tdd.json and tdd.png.

Requires NS_URL plus NS_SECRET or NS_TOKEN in the environment.`,
		SilenceUsage:      true,
		PersistentPreRunE: loadConfig,
		RunE:              runReportCmd,
	}

	rootCmd.Flags().Int("days", 0, "report the last N complete days, 0 for all (default TDD_DAYS)")
	rootCmd.Flags().String("as-of", "", "cutoff instant, RFC3339 or YYYY-MM-DD")
	rootCmd.Flags().String("tz", "", "IANA zone for day boundaries (default TDD_TIMEZONE)")
	rootCmd.Flags().StringP("out", "o", "", "output directory (default TDD_OUTPUT_DIR)")
	rootCmd.Flags().Bool("profiles", false, "fill basal gaps from the active profile")
	rootCmd.Flags().Bool("desc", false, "newest day first")
	rootCmd.Flags().Bool("dense", false, "include days without insulin as zero rows")
	rootCmd.Flags().Bool("publish", false, "upload to S3_CONFIG and save to postgres when configured")

	rootCmd.AddCommand(newServeCmd())
	return rootCmd
}

// loadConfig reads the environment, sets up logging and stores both on the
// command context.
func loadConfig(cmd *cobra.Command, args []string) error {
	var cfg config.ReportConfig
	if err := cfg.RegisterEnv(); err != nil {
		return err
	}

	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}
	h := slogctx.NewHandler(slog.NewJSONHandler(os.Stdout, opts), nil)
	log := slog.New(h)
	slog.SetDefault(log.With(slog.Int("pid", os.Getpid())))

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = slogctx.NewCtx(ctx, slog.Default())
	cmd.SetContext(context.WithValue(ctx, configKey, &cfg))
	return nil
}

func configFromCmd(cmd *cobra.Command) *config.ReportConfig {
	cfg, _ := cmd.Context().Value(configKey).(*config.ReportConfig)
	return cfg
}

type runFlags struct {
	Dense      bool
	Descending bool
	Publish    bool
}

// applyFlags overrides cfg with the flags the user actually set.
func applyFlags(cmd *cobra.Command, cfg *config.ReportConfig) (runFlags, models.ReportOptions, error) {
	var rf runFlags
	flags := cmd.Flags()

	if flags.Changed("tz") {
		name, _ := flags.GetString("tz")
		loc, err := time.LoadLocation(name)
		if err != nil {
			return rf, models.ReportOptions{}, fmt.Errorf("cannot load --tz: %w", err)
		}
		cfg.TimezoneName, cfg.Location = name, loc
	}
	if flags.Changed("days") {
		days, _ := flags.GetInt("days")
		if days < 0 {
			return rf, models.ReportOptions{}, fmt.Errorf("--days must not be negative, got %d", days)
		}
		cfg.WindowDays = days
	}
	if flags.Changed("out") {
		cfg.OutputDir, _ = flags.GetString("out")
	}
	if flags.Changed("profiles") {
		cfg.UseProfiles, _ = flags.GetBool("profiles")
	}
	rf.Dense, _ = flags.GetBool("dense")
	rf.Descending, _ = flags.GetBool("desc")
	rf.Publish, _ = flags.GetBool("publish")

	opts := reportOptions(cfg)
	opts.Dense = rf.Dense
	opts.Descending = rf.Descending
	if raw, _ := flags.GetString("as-of"); raw != "" {
		asOf, err := models.ParseAsOf(raw, cfg.Location)
		if err != nil {
			return rf, models.ReportOptions{}, fmt.Errorf("cannot parse --as-of: %w", err)
		}
		opts.AsOf = asOf
	}
	return rf, opts, nil
}

func reportOptions(cfg *config.ReportConfig) models.ReportOptions {
	return models.ReportOptions{
		AggregateOptions: models.AggregateOptions{
			Location:   cfg.Location,
			WindowDays: cfg.WindowDays,
			GridStep:   cfg.GridStep,
			Classifier: cfg.Classifier,
		},
		UseProfiles: cfg.UseProfiles,
		FetchCount:  cfg.FetchCount,
	}
}

func newTDDService(cfg *config.ReportConfig) *models.TDDService {
	var secretHash string
	if cfg.Nightscout.APISecret != "" {
		secretHash = config.SecretHash(cfg.Nightscout.APISecret)
	}
	nsRepo := repository.NewNightscoutRepository(repository.NightscoutConfig{
		URL:        cfg.Nightscout.URL,
		Token:      cfg.Nightscout.Token,
		SecretHash: secretHash,
	})
	return &models.TDDService{TreatmentRepository: nsRepo, ProfileRepository: nsRepo}
}

func runReportCmd(cmd *cobra.Command, args []string) error {
	cfg := configFromCmd(cmd)
	rf, opts, err := applyFlags(cmd, cfg)
	if err != nil {
		return err
	}
	return runReport(cmd.Context(), cfg, newTDDService(cfg), opts, rf.Publish)
}

// runReport builds one report, writes it to the output directory and, when
// asked, publishes it. Local files are written before any publishing.
func runReport(ctx context.Context, cfg *config.ReportConfig, svc *models.TDDService, opts models.ReportOptions, publish bool) error {
	log := slogctx.FromCtx(ctx)

	report, err := svc.BuildReport(ctx, opts)
	if err != nil {
		return err
	}
	files, err := renderFiles(report)
	if err != nil {
		return err
	}
	if err := writeFiles(cfg.OutputDir, files); err != nil {
		return err
	}
	log.Info("report written",
		slog.String("dir", cfg.OutputDir),
		slog.Int("numDays", len(report.Rows)),
		slog.Int("numSkipped", report.Skipped),
	)

	if !publish {
		return nil
	}
	return publishReport(ctx, cfg, report, files)
}

func writeFiles(dir string, files repository.ReportFiles) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create output dir: %w", err)
	}
	for name, body := range map[string][]byte{
		"index.html": files.HTML,
		"tdd.json":   files.JSON,
		"tdd.png":    files.PNG,
	} {
		if err := os.WriteFile(filepath.Join(dir, name), body, 0o644); err != nil {
			return fmt.Errorf("cannot write %s: %w", name, err)
		}
	}
	return nil
}
