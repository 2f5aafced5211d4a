package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"medscreen/internal/assessment"
	"medscreen/internal/batch"
	"medscreen/internal/config"
	"medscreen/internal/domain"
	"medscreen/internal/ident"
	"medscreen/internal/jobstore"
	"medscreen/internal/llm"
	"medscreen/internal/logging"
	"medscreen/internal/screening"
)

var (
	// Global flags
	configPath string
	verbose    bool

	cfg    config.Config
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "medscreen",
	Short: "LLM-ensemble screening and quality assessment for medical literature",
	Long: `medscreen screens bibliographic records against PICO/SPIDER/PEO criteria
with a multi-model ensemble and a deterministic rule engine, and runs
tool-based quality assessments (RoB 2, AMSTAR-2, NOS, ...) over full-text
documents.

Screening decisions carry a consensus tier: rule overrides and confident
unanimous votes resolve automatically, split votes go to human review.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if verbose {
			cfg.Logging.DebugMode = true
			cfg.Logging.Level = "debug"
		}
		return logging.Initialize(cfg.Workspace, logging.Options{
			DebugMode:  cfg.Logging.DebugMode,
			Level:      cfg.Logging.Level,
			JSONFormat: cfg.Logging.JSONFormat,
			Categories: cfg.Logging.Categories,
		})
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// screenCmd screens a JSONL file of records against a criteria file.
var screenCmd = &cobra.Command{
	Use:   "screen [records.jsonl]",
	Short: "Screen bibliographic records with the model ensemble",
	Long: `Reads one JSON record per line, fans each record out to the configured
ensemble, applies the rule engine and writes one decision per line.

Example:
  medscreen screen records.jsonl --criteria criteria.yaml --out decisions.jsonl`,
	Args: cobra.ExactArgs(1),
	RunE: runScreen,
}

// assessCmd runs a quality assessment over a single document.
var assessCmd = &cobra.Command{
	Use:   "assess [document]",
	Short: "Run a tool-based quality assessment over one document",
	Long: `Extracts text from the document, selects the appraisal tool for the
given document type and runs one model call per criterion.

Example:
  medscreen assess trial.txt --type RCT`,
	Args: cobra.ExactArgs(1),
	RunE: runAssess,
}

// batchCmd assesses several documents as one tracked batch.
var batchCmd = &cobra.Command{
	Use:   "batch [documents...]",
	Short: "Assess multiple documents as one batch",
	Long: `Creates a batch job, runs one background assessment per document and
waits for completion. Job state is persisted to the configured store and
checkpointed to the workspace snapshot.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runBatch,
}

// statusCmd prints provider health and audit counters.
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show provider circuit state and audit log size",
	RunE:  runStatus,
}

// sweepCmd removes stored PDFs past their retention window.
var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete stored documents older than the retention window",
	RunE:  runSweep,
}

// recoverCmd marks assessments orphaned by a crash as errored.
var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Mark in-flight assessments from a previous run as errored",
	RunE:  runRecover,
}

var (
	criteriaPath string
	outPath      string
	seed         int64
	temperature  float64
	workers      int

	docType string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "medscreen.yaml", "configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	screenCmd.Flags().StringVar(&criteriaPath, "criteria", "", "criteria YAML file (required)")
	screenCmd.Flags().StringVar(&outPath, "out", "", "decisions output file (default stdout)")
	screenCmd.Flags().Int64Var(&seed, "seed", 0, "sampling seed passed to models that honor it")
	screenCmd.Flags().Float64Var(&temperature, "temperature", 0, "sampling temperature for models that support it")
	screenCmd.Flags().IntVar(&workers, "workers", 4, "records screened concurrently")
	_ = screenCmd.MarkFlagRequired("criteria")

	assessCmd.Flags().StringVar(&docType, "type", "", "document type, e.g. RCT, Cohort, Systematic Review (required)")
	_ = assessCmd.MarkFlagRequired("type")

	batchCmd.Flags().StringVar(&docType, "type", "", "document type applied to every file (required)")
	_ = batchCmd.MarkFlagRequired("type")

	rootCmd.AddCommand(screenCmd, assessCmd, batchCmd, statusCmd, sweepCmd, recoverCmd)
}

// buildCaller wires the provider registry, cache and dispatcher.
func buildCaller() (*llm.Dispatcher, error) {
	reg, err := llm.NewRegistry(cfg.LLM, cfg.Rate, cfg.Breaker)
	if err != nil {
		return nil, err
	}
	return llm.NewDispatcher(reg, llm.NewCache(cfg.Cache), cfg.Retry), nil
}

// openStore picks Redis when configured, the in-process store otherwise.
func openStore(ctx context.Context) (jobstore.Store, error) {
	if cfg.Storage.RedisAddr != "" {
		return jobstore.NewRedisStore(ctx, cfg.Storage.RedisAddr)
	}
	logger.Debug("no redis address configured, using in-memory job store")
	return jobstore.NewMemoryStore(), nil
}

func buildCoordinator(ctx context.Context) (*batch.Coordinator, jobstore.Store, error) {
	store, err := openStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	caller, err := buildCaller()
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	snap := jobstore.NewSnapshotFile(cfg.Storage.ResolveSnapshotPath(cfg.Workspace))
	coord := batch.NewCoordinator(store, snap, ident.NewAllocator(snap),
		assessment.NewAssessor(caller, cfg.LLM.Assessor), assessment.PlainTextExtractor{},
		cfg.Storage, cfg.Storage.ResolvePDFDir(cfg.Workspace))
	return coord, store, nil
}

func loadCriteria(path string) (domain.Criteria, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.Criteria{}, fmt.Errorf("failed to read criteria %s: %w", path, err)
	}
	var criteria domain.Criteria
	if err := yaml.Unmarshal(data, &criteria); err != nil {
		return domain.Criteria{}, fmt.Errorf("failed to parse criteria %s: %w", path, err)
	}
	if err := criteria.Validate(); err != nil {
		return domain.Criteria{}, fmt.Errorf("invalid criteria %s: %w", path, err)
	}
	return criteria, nil
}

func runScreen(cmd *cobra.Command, args []string) error {
	ctx := signalContext()

	criteria, err := loadCriteria(criteriaPath)
	if err != nil {
		return err
	}
	caller, err := buildCaller()
	if err != nil {
		return err
	}
	audit, err := screening.OpenAuditLog(cfg.Storage.ResolveAuditDBPath(cfg.Workspace))
	if err != nil {
		return err
	}
	defer audit.Close()

	pcfg := screening.PipelineConfig{
		Models:   cfg.LLM.Ensemble,
		Ensemble: cfg.Ensemble,
		Seed:     seed,
	}
	if cmd.Flags().Changed("temperature") {
		t := temperature
		pcfg.Temperature = &t
	}
	pipeline := screening.NewPipeline(caller, audit, pcfg)

	records, err := readRecords(args[0])
	if err != nil {
		return err
	}

	// Bounded fan-out over records; decisions are written in input order.
	decisions := make([]domain.ScreeningDecision, len(records))
	g, gctx := errgroup.WithContext(ctx)
	if workers < 1 {
		workers = 1
	}
	g.SetLimit(workers)
	for i, record := range records {
		i, record := i, record
		g.Go(func() error {
			decision, err := pipeline.Screen(gctx, record, criteria)
			if err != nil {
				return fmt.Errorf("record %s: %w", record.RecordID, err)
			}
			decisions[i] = decision
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	out := os.Stdout
	if outPath != "" {
		out, err = os.Create(outPath)
		if err != nil {
			return fmt.Errorf("failed to create output %s: %w", outPath, err)
		}
		defer out.Close()
	}
	enc := json.NewEncoder(out)
	tiers := map[domain.Tier]int{}
	counts := map[domain.Decision]int{}
	for _, d := range decisions {
		if err := enc.Encode(d); err != nil {
			return fmt.Errorf("failed to write decision for %s: %w", d.RecordID, err)
		}
		tiers[d.Tier]++
		counts[d.Decision]++
	}

	fmt.Fprintf(os.Stderr, "screened %d records\n", len(decisions))
	fmt.Fprintf(os.Stderr, "  tier 0 (rule override)   %5d\n", tiers[domain.TierRuleOverride])
	fmt.Fprintf(os.Stderr, "  tier 1 (high confidence) %5d\n", tiers[domain.TierHighConf])
	fmt.Fprintf(os.Stderr, "  tier 2 (majority)        %5d\n", tiers[domain.TierMajority])
	fmt.Fprintf(os.Stderr, "  tier 3 (human review)    %5d\n", tiers[domain.TierHumanReview])
	logger.Info("screening finished",
		zap.Int("include", counts[domain.DecisionInclude]),
		zap.Int("exclude", counts[domain.DecisionExclude]),
		zap.Int("human_review", counts[domain.DecisionHumanReview]))
	return nil
}

func readRecords(path string) ([]domain.Record, error) {
	in, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open records %s: %w", path, err)
	}
	defer in.Close()

	var records []domain.Record
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 1<<20), 1<<20)
	line := 0
	for scanner.Scan() {
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		var record domain.Record
		if err := json.Unmarshal([]byte(raw), &record); err != nil {
			return nil, fmt.Errorf("bad record on line %d: %w", line, err)
		}
		records = append(records, record)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read records: %w", err)
	}
	return records, nil
}

func runAssess(cmd *cobra.Command, args []string) error {
	ctx := signalContext()

	caller, err := buildCaller()
	if err != nil {
		return err
	}
	text, err := assessment.PlainTextExtractor{}.Extract(ctx, args[0])
	if err != nil {
		return err
	}

	assessor := assessment.NewAssessor(caller, cfg.LLM.Assessor)
	start := time.Now()
	result, err := assessor.Assess(ctx, docType, text, func(done, total int) {
		fmt.Fprintf(os.Stderr, "\r%d/%d criteria", done, total)
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(os.Stderr)
	if result.Message != "" {
		logger.Warn(result.Message)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		return err
	}
	logger.Info("assessment finished",
		zap.String("tool", result.ToolName),
		zap.Int("criteria", result.Total),
		zap.Int("negative_findings", result.Negative),
		zap.Duration("elapsed", time.Since(start)))
	return nil
}

func runBatch(cmd *cobra.Command, args []string) error {
	ctx := signalContext()

	coord, store, err := buildCoordinator(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	sweepCtx, stopSweeper := context.WithCancel(ctx)
	defer stopSweeper()
	go coord.RunSweeper(sweepCtx, cfg.Storage.PDFRetention()/2)

	uploads := make([]batch.Upload, 0, len(args))
	for _, path := range args {
		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		uploads = append(uploads, batch.Upload{
			Filename:     filepath.Base(path),
			DocumentType: docType,
			Content:      content,
		})
	}

	job, err := coord.CreateBatch(ctx, uploads)
	if err != nil {
		return err
	}
	logger.Info("batch created", zap.String("batch_id", job.BatchID),
		zap.Int("accepted", len(job.AssessmentIDs)), zap.Int("total", job.TotalFiles))

	coord.Wait()

	final, err := coord.Batch(ctx, job.BatchID)
	if err != nil {
		return err
	}
	jobs, err := coord.BatchAssessments(ctx, final)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(struct {
		Batch       domain.BatchJob        `json:"batch"`
		Assessments []domain.AssessmentJob `json:"assessments"`
	}{final, jobs}); err != nil {
		return err
	}
	logger.Info("batch finished", zap.String("status", string(final.Status)),
		zap.Int("succeeded", len(final.SuccessfulFilenames)),
		zap.Int("failed", len(final.FailedFilenames)))
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := signalContext()

	caller, err := buildCaller()
	if err != nil {
		return err
	}
	stats := caller.Stats()
	if len(stats) == 0 {
		fmt.Println("no providers configured (are the API key env vars set?)")
	}
	for _, s := range stats {
		fmt.Printf("%-40s %-10s calls=%-6d success=%.1f%% avg=%s\n",
			s.Name, s.State, s.TotalCalls, s.SuccessRate*100, s.AvgLatency.Round(time.Millisecond))
	}

	auditPath := cfg.Storage.ResolveAuditDBPath(cfg.Workspace)
	if _, err := os.Stat(auditPath); err == nil {
		audit, err := screening.OpenAuditLog(auditPath)
		if err != nil {
			return err
		}
		defer audit.Close()
		n, err := audit.Count(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("audit entries: %d\n", n)
	}
	return nil
}

func runSweep(cmd *cobra.Command, args []string) error {
	ctx := signalContext()
	coord, store, err := buildCoordinator(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	removed, err := coord.SweepPDFs(ctx)
	if err != nil {
		return err
	}
	logger.Info("sweep finished", zap.Int("removed", removed),
		zap.Duration("retention", cfg.Storage.PDFRetention()))
	return nil
}

func runRecover(cmd *cobra.Command, args []string) error {
	ctx := signalContext()
	coord, store, err := buildCoordinator(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	recovered, err := coord.Recover(ctx)
	if err != nil {
		return err
	}
	logger.Info("recover finished", zap.Int("marked_errored", recovered))
	return nil
}

// signalContext cancels on SIGINT/SIGTERM so in-flight model calls stop
// cleanly.
func signalContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
