package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/aluiziolira/go-resale-estimator/config"
	"github.com/aluiziolira/go-resale-estimator/estimator"
	"github.com/aluiziolira/go-resale-estimator/ledger"
	"github.com/aluiziolira/go-resale-estimator/notify"
	"github.com/aluiziolira/go-resale-estimator/pipeline"
	"github.com/aluiziolira/go-resale-estimator/scraper"
	"github.com/aluiziolira/go-resale-estimator/server"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
		os.Exit(1)
	}

	cfg, err := configFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	keyword := flag.String("keyword", "", "Estimate a single keyword and print the result")
	keywordsFile := flag.String("keywords-file", "", "File with one keyword per line to estimate in batch")
	serve := flag.Bool("serve", false, "Run the HTTP service")
	listenAddr := flag.String("addr", cfg.ListenAddr, "HTTP listen address")
	workers := flag.Int("workers", cfg.Workers, "Concurrent batch lookups")
	outputFile := flag.String("output", cfg.OutputFile, "Batch output file path")
	outputFormat := flag.String("format", cfg.OutputFormat, "Output format: csv, json, or dual")
	jitterMinMs := flag.Int("jitter-min", int(cfg.JitterMin/time.Millisecond), "Minimum pause between failed strategies (milliseconds)")
	jitterMaxMs := flag.Int("jitter-max", int(cfg.JitterMax/time.Millisecond), "Maximum pause between failed strategies (milliseconds)")
	verbose := flag.Bool("v", cfg.Verbose, "Enable verbose logging")

	flag.Parse()

	cfg.ListenAddr = *listenAddr
	cfg.Workers = *workers
	cfg.OutputFile = *outputFile
	cfg.OutputFormat = strings.ToLower(*outputFormat)
	cfg.JitterMin = time.Duration(*jitterMinMs) * time.Millisecond
	cfg.JitterMax = time.Duration(*jitterMaxMs) * time.Millisecond
	cfg.Verbose = *verbose

	logger, level := newLogger(cfg.Verbose)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics := scraper.NewMetrics()
	observer := scraper.MultiObserver{scraper.NewLogObserver(logger), metrics}
	var lookup estimator.Lookup = estimator.NewFromConfig(cfg, metrics, observer)
	if cfg.CacheSize > 0 {
		lookup = estimator.NewCache(lookup, cfg.CacheSize, cfg.CacheTTL)
	}

	switch {
	case *serve:
		err = runServer(ctx, cfg, lookup, metrics)
	case *keywordsFile != "":
		err = runBatch(ctx, cfg, lookup, *keywordsFile)
	case *keyword != "":
		err = runOnce(ctx, lookup, *keyword)
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		slog.Error("estimator failed", slog.Any("error", err))
		os.Exit(1)
	}
}

// configFromEnv overlays ESTIMATOR_* and LINE_* variables on the defaults.
func configFromEnv() (*config.Config, error) {
	cfg := config.DefaultConfig()

	stringVars := []struct {
		key string
		dst *string
	}{
		{"ESTIMATOR_API_URL", &cfg.APIURL},
		{"ESTIMATOR_SEARCH_URL", &cfg.SearchURL},
		{"ESTIMATOR_RELAY_PREFIX", &cfg.RelayPrefix},
		{"ESTIMATOR_OUTPUT", &cfg.OutputFile},
		{"ESTIMATOR_FORMAT", &cfg.OutputFormat},
		{"ESTIMATOR_ADDR", &cfg.ListenAddr},
		{"LINE_CHANNEL_SECRET", &cfg.LineChannelSecret},
		{"LINE_CHANNEL_ACCESS_TOKEN", &cfg.LineAccessToken},
	}
	for _, s := range stringVars {
		if value, ok := config.EnvString(s.key); ok {
			*s.dst = value
		}
	}

	intVars := []struct {
		key string
		dst *int
	}{
		{"ESTIMATOR_WORKERS", &cfg.Workers},
		{"ESTIMATOR_MAX_RETRIES", &cfg.MaxRetries},
		{"ESTIMATOR_CACHE_SIZE", &cfg.CacheSize},
		{"ESTIMATOR_FEE_RATE", &cfg.DefaultFeeRate},
	}
	for _, i := range intVars {
		value, ok, err := config.EnvInt(i.key)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", i.key, err)
		}
		if ok {
			*i.dst = value
		}
	}

	durationVars := []struct {
		key string
		dst *time.Duration
	}{
		{"ESTIMATOR_API_TIMEOUT", &cfg.APITimeout},
		{"ESTIMATOR_PAGE_TIMEOUT", &cfg.PageTimeout},
		{"ESTIMATOR_RELAY_TIMEOUT", &cfg.RelayTimeout},
		{"ESTIMATOR_CACHE_TTL", &cfg.CacheTTL},
	}
	for _, d := range durationVars {
		value, ok, err := config.EnvDuration(d.key)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", d.key, err)
		}
		if ok {
			*d.dst = value
		}
	}

	return cfg, nil
}

func runOnce(ctx context.Context, lookup estimator.Lookup, keyword string) error {
	result, err := lookup.Estimate(ctx, keyword)
	if err != nil {
		return err
	}
	if !result.Found {
		fmt.Printf("%s: no estimate available\n", result.Keyword)
		return nil
	}
	fmt.Printf("%s: ¥%s (%d samples via %s)\n", result.Keyword, groupDigits(result.Average), len(result.Samples), result.Source)
	return nil
}

func runBatch(ctx context.Context, cfg *config.Config, lookup estimator.Lookup, path string) error {
	keywords, err := readKeywords(path)
	if err != nil {
		return err
	}

	writer, err := createWriter(cfg.OutputFormat, cfg.OutputFile)
	if err != nil {
		return fmt.Errorf("creating writer: %w", err)
	}
	defer func() {
		if err := writer.Close(); err != nil {
			slog.Error("close writer", slog.Any("error", err))
		}
	}()

	slog.Info("starting batch",
		slog.Int("keywords", len(keywords)),
		slog.Int("workers", cfg.Workers),
		slog.String("output", cfg.OutputFile),
	)

	p := pipeline.NewPipeline(ctx, lookup, writer, cfg)
	p.Start(cfg.Workers)
	if cfg.Verbose {
		p.StartMetricsReporting(10 * time.Second)
	}

	startTime := time.Now()
	if err := p.Process(keywords...); err != nil {
		slog.Warn("batch interrupted", slog.Any("error", err))
	}
	if err := p.Close(); err != nil {
		return fmt.Errorf("pipeline shutdown: %w", err)
	}
	if err := writer.Validate(); err != nil {
		return fmt.Errorf("output validation: %w", err)
	}

	printSummary(time.Since(startTime), cfg.OutputFile, p.GetMetrics())
	return nil
}

func runServer(ctx context.Context, cfg *config.Config, lookup estimator.Lookup, metrics *scraper.Metrics) error {
	store := ledger.NewStore()
	opts := []server.Option{
		server.WithMetrics(metrics),
		server.WithDefaultFeeRate(cfg.DefaultFeeRate),
	}
	if cfg.NotificationsEnabled() {
		client, err := notify.FromConfig(cfg)
		if err != nil {
			return err
		}
		opts = append(opts,
			server.WithWebhook(notify.NewWebhook(cfg.LineChannelSecret, store, client, slog.Default())),
			server.WithNotifier(client),
		)
		slog.Info("LINE webhook enabled")
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.NewHandler(lookup, store, opts...).Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("listening", slog.String("addr", cfg.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}

func readKeywords(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open keywords: %w", err)
	}
	defer f.Close()

	var keywords []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		keywords = append(keywords, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read keywords: %w", err)
	}
	return keywords, nil
}

func createWriter(format, filename string) (pipeline.OutputWriter, error) {
	switch format {
	case "json":
		return pipeline.NewJSONWriter(filename)
	case "csv":
		return pipeline.NewCSVWriter(filename)
	case "dual":
		jsonFilename := strings.TrimSuffix(filename, ".csv") + ".json"
		return pipeline.NewDualWriter(filename, jsonFilename)
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}

func printSummary(duration time.Duration, outputFile string, metrics map[string]interface{}) {
	separator := "--------------------------------------------------"
	fmt.Println("\n" + separator)
	fmt.Println("Batch complete")

	processed, _ := metrics["processed_keywords"].(int64)
	found, _ := metrics["estimates_found"].(int64)

	fmt.Printf("  Keywords:      %d\n", processed)
	fmt.Printf("  Estimated:     %d\n", found)
	hitRate := 0.0
	if processed > 0 {
		hitRate = float64(found) / float64(processed) * 100
	}
	fmt.Printf("  Hit rate:      %.2f%%\n", hitRate)
	if skipped, ok := metrics["skipped"].(map[string]int); ok && len(skipped) > 0 {
		encoded, _ := json.Marshal(skipped)
		fmt.Printf("  Skipped:       %s\n", encoded)
	}
	fmt.Printf("  Duration:      %v\n", duration)
	fmt.Printf("  Output file:   %s\n", outputFile)
	fmt.Println(separator)
}

// groupDigits renders n with comma thousands separators.
func groupDigits(n int) string {
	if n < 0 {
		return "-" + groupDigits(-n)
	}
	s := strconv.Itoa(n)
	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	return b.String()
}

func newLogger(verbose bool) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(os.Stderr) {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}

	return slog.New(handler), level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
