package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"archsearch/internal/logging"
	"archsearch/internal/telemetry"
	api "archsearch/pkg/archsearch"
)

const (
	artifactsDir   = "runs"
	exportsDir     = "exports"
	defaultStore   = "badger"
	defaultDBPath  = "archsearch.db"
	defaultLogFmt  = "auto"
	defaultLogLvl  = "info"
	shutdownWindow = 2 * time.Second
)

var stdout io.Writer = os.Stdout

func main() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageError("missing command")
	}

	switch args[0] {
	case "init":
		return runInit(ctx, args[1:])
	case "optimize":
		return runOptimize(ctx, args[1:])
	case "sample":
		return runSample(ctx, args[1:])
	case "runs":
		return runRuns(ctx, args[1:])
	case "fitness":
		return runFitness(ctx, args[1:])
	case "diagnostics":
		return runDiagnostics(ctx, args[1:])
	case "lineage":
		return runLineage(ctx, args[1:])
	case "population":
		return runPopulation(ctx, args[1:])
	case "top":
		return runTop(ctx, args[1:])
	case "export":
		return runExport(ctx, args[1:])
	default:
		return usageError(fmt.Sprintf("unknown command: %s", args[0]))
	}
}

// commonFlags are accepted by every command.
type commonFlags struct {
	storeKind    string
	dbPath       string
	logLevel     string
	logFormat    string
	metricsAddr  string
	artifactsDir string
}

func registerCommon(fs *flag.FlagSet) *commonFlags {
	c := &commonFlags{}
	fs.StringVar(&c.storeKind, "store", defaultStore, "store backend: memory|badger|sqlite")
	fs.StringVar(&c.dbPath, "db-path", defaultDBPath, "sqlite database file or badger directory")
	fs.StringVar(&c.logLevel, "log-level", defaultLogLvl, "log level: debug|info|warn|error")
	fs.StringVar(&c.logFormat, "log-format", defaultLogFmt, "log format: auto|text|json")
	fs.StringVar(&c.metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address while the command runs")
	fs.StringVar(&c.artifactsDir, "artifacts-dir", artifactsDir, "directory for run artifacts")
	return c
}

// session is an open client plus whatever the command started alongside it.
type session struct {
	client  *api.Client
	logger  *slog.Logger
	metrics *telemetry.Metrics
	server  *http.Server
}

func (c *commonFlags) open(ctx context.Context) (*session, error) {
	logger, err := logging.New(os.Stderr, logging.Options{Level: c.logLevel, Format: c.logFormat})
	if err != nil {
		return nil, err
	}
	s := &session{logger: logger}
	if c.metricsAddr != "" {
		s.metrics = telemetry.NewMetrics()
		if s.server, err = serveMetrics(ctx, c.metricsAddr, s.metrics, logger); err != nil {
			return nil, err
		}
	}
	s.client, err = api.New(api.Options{
		StoreKind:    c.storeKind,
		DBPath:       c.dbPath,
		ArtifactsDir: c.artifactsDir,
		ExportsDir:   exportsDir,
		Logger:       logger,
		Metrics:      s.metrics,
	})
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *session) Close() error {
	var errs []error
	if s.client != nil {
		errs = append(errs, s.client.Close())
	}
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownWindow)
		defer cancel()
		errs = append(errs, s.server.Shutdown(ctx))
	}
	return errors.Join(errs...)
}

func serveMetrics(ctx context.Context, addr string, metrics *telemetry.Metrics, logger *slog.Logger) (*http.Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listener: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", "error", err)
		}
	}()
	logger.Info("serving metrics", "addr", listener.Addr().String())
	return server, nil
}

func runInit(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	common := registerCommon(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	s, err := common.open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = s.Close()
	}()
	if err := s.client.Init(ctx); err != nil {
		return err
	}

	fmt.Fprintf(stdout, "initialized store=%s\n", common.storeKind)
	return nil
}

func runOptimize(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("optimize", flag.ContinueOnError)
	common := registerCommon(fs)
	configPath := fs.String("config", "", "JSON or TOML run configuration")
	runID := fs.String("run-id", "", "run id (generated when empty)")
	seed := fs.Int64("seed", 1, "random seed")
	topN := fs.Int("top", 5, "ranked solutions to keep in artifacts")
	verbose := fs.Bool("verbose", false, "log every evaluation")
	jsonOut := fs.Bool("json", false, "emit the run summary as JSON")
	overrides := registerOptimizeOverrides(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	file, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	cfg := file.Config
	if err := overrides.apply(fs, cfg); err != nil {
		return err
	}
	req := api.RunRequest{
		Config:  cfg,
		Seed:    file.seedOr(fs, "seed", *seed),
		RunID:   file.runIDOr(fs, "run-id", *runID),
		Verbose: *verbose,
		TopN:    *topN,
	}

	s, err := common.open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = s.Close()
	}()

	started := time.Now()
	summary, err := s.client.Optimize(ctx, req)
	if err != nil {
		return err
	}
	if *jsonOut {
		return writeJSON(summary)
	}

	fmt.Fprintf(stdout, "run_id=%s generations=%d evaluations=%s stop_reason=%s elapsed=%s\n",
		summary.RunID,
		summary.Generations,
		humanize.Comma(int64(summary.Evaluations)),
		summary.StopReason,
		time.Since(started).Round(time.Millisecond),
	)
	fmt.Fprintf(stdout, "best layers=%v look_back=%d fitness=%s\n",
		summary.BestLayers,
		summary.BestLookBack,
		formatFitness(summary.BestFitness),
	)
	if summary.ArtifactsDir != "" {
		fmt.Fprintf(stdout, "artifacts=%s\n", summary.ArtifactsDir)
	}
	return nil
}

func runSample(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("sample", flag.ContinueOnError)
	common := registerCommon(fs)
	configPath := fs.String("config", "", "JSON or TOML sampling configuration")
	runID := fs.String("run-id", "", "run id (generated when empty)")
	seed := fs.Int64("seed", 1, "random seed")
	verbose := fs.Bool("verbose", false, "log every record")
	jsonOut := fs.Bool("json", false, "emit records as JSON")
	overrides := registerSampleOverrides(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	file, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	cfg := file.Config
	if err := overrides.apply(fs, cfg); err != nil {
		return err
	}

	s, err := common.open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = s.Close()
	}()

	summary, err := s.client.Sample(ctx, api.SampleRequest{
		Config:  cfg,
		Seed:    file.seedOr(fs, "seed", *seed),
		RunID:   file.runIDOr(fs, "run-id", *runID),
		Verbose: *verbose,
	})
	if err != nil {
		return err
	}
	if *jsonOut {
		return writeJSON(summary.Records)
	}

	for _, record := range summary.Records {
		fmt.Fprintf(stdout, "architecture=%v look_back=%d metrics=%s\n", record.Architecture, record.LookBack, formatFitness(record.Metrics))
	}
	fmt.Fprintf(stdout, "run_id=%s architectures=%d records=%s\n", summary.RunID, summary.Architectures, humanize.Comma(int64(len(summary.Records))))
	if summary.CSVPath != "" {
		fmt.Fprintf(stdout, "csv=%s\n", summary.CSVPath)
	}
	return nil
}

func runRuns(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	common := registerCommon(fs)
	limit := fs.Int("limit", 20, "max runs to list")
	mode := fs.String("mode", "", "only list runs of this mode: optimize|sample")
	jsonOut := fs.Bool("json", false, "emit runs list as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *limit <= 0 {
		return errors.New("limit must be > 0")
	}

	s, err := common.open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = s.Close()
	}()

	runs, err := s.client.Runs(ctx, api.RunsRequest{Limit: *limit, Mode: *mode})
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(stdout, "no runs found")
		return nil
	}
	if *jsonOut {
		return writeJSON(runs)
	}

	for _, item := range runs {
		started, _ := time.Parse(time.RFC3339, item.StartedAt)
		fmt.Fprintf(stdout, "run_id=%s mode=%s seed=%d generations=%d evaluations=%s best=%s started=%s\n",
			item.RunID,
			item.Mode,
			item.Seed,
			item.Generations,
			humanize.Comma(int64(item.Evaluations)),
			formatFitness(item.BestFitness),
			humanize.Time(started),
		)
	}
	return nil
}

func runFitness(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("fitness", flag.ContinueOnError)
	common := registerCommon(fs)
	ref := registerRunRef(fs, "show fitness history for the most recent run")
	limit := fs.Int("limit", 50, "max generations to print (<=0 for all)")
	jsonOut := fs.Bool("json", false, "emit fitness history as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := ref.validate("fitness"); err != nil {
		return err
	}

	s, err := common.open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = s.Close()
	}()

	history, err := s.client.FitnessHistory(ctx, api.FitnessHistoryRequest{RunRef: ref.RunRef, Limit: max(*limit, 0)})
	if err != nil {
		return err
	}
	if len(history) == 0 {
		fmt.Fprintln(stdout, "no fitness history")
		return nil
	}
	if *jsonOut {
		return writeJSON(history)
	}

	for i, best := range history {
		fmt.Fprintf(stdout, "generation=%d best_fitness=%.6f\n", i, best)
	}
	return nil
}

func runDiagnostics(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("diagnostics", flag.ContinueOnError)
	common := registerCommon(fs)
	ref := registerRunRef(fs, "show diagnostics for the most recent run")
	limit := fs.Int("limit", 50, "max generations to print (<=0 for all)")
	jsonOut := fs.Bool("json", false, "emit diagnostics as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := ref.validate("diagnostics"); err != nil {
		return err
	}

	s, err := common.open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = s.Close()
	}()

	diagnostics, err := s.client.Diagnostics(ctx, api.DiagnosticsRequest{RunRef: ref.RunRef, Limit: max(*limit, 0)})
	if err != nil {
		return err
	}
	if len(diagnostics) == 0 {
		fmt.Fprintln(stdout, "no diagnostics")
		return nil
	}
	if *jsonOut {
		return writeJSON(diagnostics)
	}

	for _, d := range diagnostics {
		fmt.Fprintf(stdout, "generation=%d evaluations=%d best=%.6f mean=%.6f worst=%.6f std=%.6f mean_length=%.2f distinct=%d offspring_survived=%d\n",
			d.Generation,
			d.Evaluations,
			d.BestFitness,
			d.MeanFitness,
			d.WorstFitness,
			d.FitnessStdDev,
			d.MeanGenomeLength,
			d.DistinctGenomes,
			d.OffspringSurvived,
		)
	}
	return nil
}

func runLineage(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("lineage", flag.ContinueOnError)
	common := registerCommon(fs)
	ref := registerRunRef(fs, "show lineage for the most recent run")
	limit := fs.Int("limit", 50, "max lineage records to print (<=0 for all)")
	jsonOut := fs.Bool("json", false, "emit lineage as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := ref.validate("lineage"); err != nil {
		return err
	}

	s, err := common.open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = s.Close()
	}()

	lineage, err := s.client.Lineage(ctx, api.LineageRequest{RunRef: ref.RunRef, Limit: max(*limit, 0)})
	if err != nil {
		return err
	}
	if len(lineage) == 0 {
		fmt.Fprintln(stdout, "no lineage")
		return nil
	}
	if *jsonOut {
		return writeJSON(lineage)
	}

	for _, record := range lineage {
		parent := record.ParentID
		if parent == "" {
			parent = "-"
		}
		fmt.Fprintf(stdout, "generation=%d solution_id=%s parent_id=%s operation=%s encoding=%v\n",
			record.Generation,
			record.SolutionID,
			parent,
			record.Operation,
			record.Encoding,
		)
	}
	return nil
}

func runPopulation(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("population", flag.ContinueOnError)
	common := registerCommon(fs)
	ref := registerRunRef(fs, "show the final population of the most recent run")
	jsonOut := fs.Bool("json", false, "emit the population as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := ref.validate("population"); err != nil {
		return err
	}

	s, err := common.open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = s.Close()
	}()

	population, err := s.client.FinalPopulation(ctx, ref.RunRef)
	if err != nil {
		return err
	}
	if *jsonOut {
		return writeJSON(population)
	}

	fmt.Fprintf(stdout, "population_id=%s run_id=%s generation=%d size=%d\n",
		population.ID,
		population.RunID,
		population.Generation,
		len(population.Solutions),
	)
	for _, record := range population.Solutions {
		fmt.Fprintf(stdout, "solution_id=%s encodings=%v fitness=%s\n", record.ID, record.Encodings, formatFitness(record.Fitness))
	}
	return nil
}

func runTop(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("top", flag.ContinueOnError)
	common := registerCommon(fs)
	ref := registerRunRef(fs, "show top solutions for the most recent run")
	limit := fs.Int("limit", 5, "max top solutions to print (<=0 for all)")
	jsonOut := fs.Bool("json", false, "emit top solutions as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := ref.validate("top"); err != nil {
		return err
	}

	s, err := common.open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = s.Close()
	}()

	top, err := s.client.TopSolutions(ctx, api.TopSolutionsRequest{RunRef: ref.RunRef, Limit: max(*limit, 0)})
	if err != nil {
		return err
	}
	if len(top) == 0 {
		fmt.Fprintln(stdout, "no top solutions")
		return nil
	}
	if *jsonOut {
		return writeJSON(top)
	}

	for _, item := range top {
		fmt.Fprintf(stdout, "rank=%d fitness=%s solution_id=%s look_back=%d hidden=%v\n",
			item.Rank,
			formatFitness(item.Fitness),
			item.SolutionID,
			item.LookBack,
			item.HiddenLayers,
		)
	}
	return nil
}

func runExport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	common := registerCommon(fs)
	ref := registerRunRef(fs, "export the most recent run")
	outDir := fs.String("out", exportsDir, "export output directory")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := ref.validate("export"); err != nil {
		return err
	}

	s, err := common.open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = s.Close()
	}()

	exported, err := s.client.Export(ctx, api.ExportRequest{RunRef: ref.RunRef, OutDir: *outDir})
	if err != nil {
		return err
	}

	fmt.Fprintf(stdout, "exported run_id=%s to=%s\n", exported.RunID, exported.Directory)
	return nil
}

type runRefFlags struct {
	api.RunRef
}

func registerRunRef(fs *flag.FlagSet, latestUsage string) *runRefFlags {
	r := &runRefFlags{}
	fs.StringVar(&r.RunID, "run-id", "", "run id")
	fs.BoolVar(&r.Latest, "latest", false, latestUsage)
	return r
}

func (r *runRefFlags) validate(command string) error {
	if r.RunID != "" && r.Latest {
		return errors.New("use either --run-id or --latest, not both")
	}
	if r.RunID == "" && !r.Latest {
		return fmt.Errorf("%s requires --run-id or --latest", command)
	}
	return nil
}

func formatFitness(fitness map[string]float64) string {
	if len(fitness) == 0 {
		return "-"
	}
	keys := make([]string, 0, len(fitness))
	for k := range fitness {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s:%.6f", k, fitness[k]))
	}
	return strings.Join(parts, ",")
}

func writeJSON(v any) error {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func usageError(msg string) error {
	return fmt.Errorf("%s\nusage: archsearchctl <init|optimize|sample|runs|fitness|diagnostics|lineage|population|top|export> [flags]", msg)
}
