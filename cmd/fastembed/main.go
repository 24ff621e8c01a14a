// Package main is the fastembed CLI entry point.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/hyperjump/fastembed/internal/artifact"
	"github.com/hyperjump/fastembed/internal/cli"
	"github.com/hyperjump/fastembed/internal/config"
	"github.com/hyperjump/fastembed/internal/extract"
	"github.com/hyperjump/fastembed/pkg/metrics"
	"github.com/hyperjump/fastembed/internal/server"
	"github.com/hyperjump/fastembed/internal/storage"
	"github.com/hyperjump/fastembed/pkg/fastembed"
	"github.com/hyperjump/fastembed/pkg/models"
	"github.com/hyperjump/fastembed/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/fastembed/config.yaml"

// errUsage marks errors already explained by usage output.
var errUsage = errors.New("usage error")

// loadConfig loads config from path. When path is the default, config.yaml in
// the current directory wins if it exists; when neither exists, defaults and
// environment overrides are used. Returns the path that was actually loaded,
// empty for defaults.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
		if _, statErr := os.Stat(path); statErr != nil {
			cfg, err := config.Default()
			return cfg, "", err
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	_ = godotenv.Load()
	if len(os.Args) < 2 {
		printUsage(os.Stderr)
		os.Exit(1)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1], os.Args[2:], os.Stdout)
	stop()
	switch {
	case errors.Is(err, errUsage):
		os.Exit(2)
	case err != nil:
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, command string, args []string, stdout io.Writer) error {
	switch command {
	case "embed":
		return runEmbed(ctx, args, stdout)
	case "similarity":
		return runSimilarity(ctx, args, stdout)
	case "models":
		return runModels(args, stdout)
	case "download":
		return runDownload(ctx, args, stdout)
	case "cache":
		return runCache(ctx, args, stdout)
	case "serve", "server":
		return runServe(ctx, args)
	case "version", "--version", "-v":
		fmt.Fprintf(stdout, "fastembed version %s\n", version)
		return nil
	case "help", "--help", "-h":
		printUsage(stdout)
		return nil
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage(os.Stderr)
		return errUsage
	}
}

// modelFlags are shared by every command that loads a model.
type modelFlags struct {
	configPath string
	model      string
	cacheDir   string
	endpoint   string
	maxLength  int
	debug      bool
	quiet      bool
}

func addModelFlags(fs *flag.FlagSet) *modelFlags {
	f := &modelFlags{}
	fs.StringVar(&f.configPath, "config", defaultConfigPath, "config file path")
	fs.StringVar(&f.model, "model", "", "model name or id (see 'fastembed models')")
	fs.StringVar(&f.cacheDir, "cache-dir", "", "artifact cache directory")
	fs.StringVar(&f.endpoint, "endpoint", "", "artifact host")
	fs.IntVar(&f.maxLength, "max-length", 0, "token sequence length")
	fs.BoolVar(&f.debug, "debug", false, "enable debug logging")
	fs.BoolVar(&f.quiet, "quiet", false, "do not report download progress")
	return f
}

// load returns the validated config with flag overrides, and a logger.
func (f *modelFlags) load() (*config.Config, *zap.Logger, error) {
	cfg, _, err := loadConfig(f.configPath)
	if err != nil {
		return nil, nil, err
	}
	if f.model != "" {
		cfg.Model.Name = f.model
	}
	if f.cacheDir != "" {
		cfg.Model.CacheDir = f.cacheDir
	}
	if f.endpoint != "" {
		cfg.Model.Endpoint = f.endpoint
	}
	if f.maxLength != 0 {
		cfg.Model.MaxLength = f.maxLength
	}
	if f.quiet {
		show := false
		cfg.Model.ShowDownloadProgress = &show
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	logger, err := utils.NewLogger(cfg.Debug || f.debug)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return cfg, logger, nil
}

func newSession(ctx context.Context, cfg *config.Config, logger *zap.Logger, m *metrics.Metrics) (*fastembed.TextEmbedding, error) {
	return fastembed.New(ctx, cfg.ToOptions(logger, m)...)
}

// parseFlags parses args and maps -h to a nil error.
func parseFlags(fs *flag.FlagSet, args []string) (done bool, err error) {
	fs.SetOutput(os.Stderr)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return true, nil
		}
		return true, errUsage
	}
	return false, nil
}

// reorderArgs moves any flags (and their values) that appear after the first
// positional argument to the front so that flag.Parse() sees them. Go's flag
// package stops at the first non-flag argument.
func reorderArgs(args []string) []string {
	for i, a := range args {
		if len(a) > 1 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

// input is one text to embed and where it came from.
type input struct {
	source string
	text   string
}

// collectInputs turns positional texts, "-" (stdin) and document files into inputs.
func collectInputs(args, files []string, split extract.SplitMode, stdin io.Reader) ([]input, error) {
	var out []input
	for _, a := range args {
		if a != "-" {
			out = append(out, input{text: a})
			continue
		}
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		for _, t := range extract.Split(string(data), split) {
			out = append(out, input{source: "stdin", text: t})
		}
	}
	ex := extract.NewExtractor()
	for _, path := range files {
		text, err := ex.Extract(path)
		if err != nil {
			return nil, err
		}
		for _, t := range extract.Split(text, split) {
			out = append(out, input{source: filepath.Base(path), text: t})
		}
	}
	return out, nil
}

func specFor(name string) (models.ModelSpec, error) {
	m, err := models.Parse(name)
	if err != nil {
		return models.ModelSpec{}, err
	}
	return m.Spec()
}

// prefixFor returns the text prefix for an embed mode.
func prefixFor(spec models.ModelSpec, mode string) (string, error) {
	switch mode {
	case server.ModeDefault:
		return "", nil
	case server.ModeQuery:
		return spec.QueryPrefix, nil
	case server.ModePassage:
		return spec.PassagePrefix, nil
	default:
		return "", fmt.Errorf("unknown mode %q (want query or passage)", mode)
	}
}

func runEmbed(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("embed", flag.ContinueOnError)
	mf := addModelFlags(fs)
	var files []string
	fs.Func("file", "embed the text of a document (repeatable)", func(v string) error {
		files = append(files, v)
		return nil
	})
	split := fs.String("split", "none", "split documents and stdin into: none, lines or paragraphs")
	mode := fs.String("mode", "", "apply the model's retrieval prefix: query or passage")
	batchSize := fs.Int("batch-size", 0, "texts per inference batch (0 = config)")
	output := fs.String("output", "text", "output format: text or json")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: fastembed embed [flags] [text... | -]\n\n")
		fs.PrintDefaults()
	}
	if done, err := parseFlags(fs, reorderArgs(args)); done {
		return err
	}

	format, err := cli.ParseOutputFormat(*output)
	if err != nil {
		return err
	}
	splitMode, err := extract.ParseSplitMode(*split)
	if err != nil {
		return err
	}
	inputs, err := collectInputs(fs.Args(), files, splitMode, os.Stdin)
	if err != nil {
		return err
	}
	if len(inputs) == 0 {
		fs.Usage()
		return errUsage
	}
	cfg, logger, err := mf.load()
	if err != nil {
		return err
	}
	defer logger.Sync()
	spec, err := specFor(cfg.Model.Name)
	if err != nil {
		return err
	}
	prefix, err := prefixFor(spec, *mode)
	if err != nil {
		return err
	}
	bs := *batchSize
	if bs == 0 {
		bs = cfg.Model.BatchSize
	}

	session, err := newSession(ctx, cfg, logger, nil)
	if err != nil {
		return err
	}
	defer session.Close()

	texts := make([]string, len(inputs))
	for i, in := range inputs {
		texts[i] = prefix + in.text
	}
	start := time.Now()
	vecs, err := session.Embed(ctx, texts, bs)
	if err != nil {
		return err
	}
	result := &cli.EmbeddingResult{
		Model:      spec.ID,
		Dimensions: session.Dimensions(),
		TookMs:     time.Since(start).Milliseconds(),
		Items:      make([]cli.EmbeddedText, len(inputs)),
	}
	for i, in := range inputs {
		result.Items[i] = cli.EmbeddedText{Index: i, Source: in.source, Text: in.text, Vector: vecs[i]}
	}
	return cli.WriteEmbeddings(stdout, result, format)
}

func runSimilarity(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("similarity", flag.ContinueOnError)
	mf := addModelFlags(fs)
	output := fs.String("output", "text", "output format: text or json")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: fastembed similarity [flags] <text> <text>...\n\n")
		fs.PrintDefaults()
	}
	if done, err := parseFlags(fs, reorderArgs(args)); done {
		return err
	}
	format, err := cli.ParseOutputFormat(*output)
	if err != nil {
		return err
	}
	texts := fs.Args()
	if len(texts) < 2 {
		fs.Usage()
		return errUsage
	}
	cfg, logger, err := mf.load()
	if err != nil {
		return err
	}
	defer logger.Sync()
	session, err := newSession(ctx, cfg, logger, nil)
	if err != nil {
		return err
	}
	defer session.Close()
	vecs, err := session.Embed(ctx, texts, cfg.Model.BatchSize)
	if err != nil {
		return err
	}
	return cli.WriteSimilarity(stdout, cli.NewSimilarityResult(session.ModelSpec().ID, texts, vecs), format)
}

func runModels(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("models", flag.ContinueOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	cacheDir := fs.String("cache-dir", "", "artifact cache directory")
	output := fs.String("output", "text", "output format: text or json")
	if done, err := parseFlags(fs, args); done {
		return err
	}
	format, err := cli.ParseOutputFormat(*output)
	if err != nil {
		return err
	}
	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if *cacheDir != "" {
		cfg.Model.CacheDir = *cacheDir
	}
	cached := make(map[string]bool)
	if cache, err := artifact.New(cfg.Model.CacheDir, artifact.Options{}); err == nil {
		entries, _ := cache.List()
		for _, e := range entries {
			cached[e.ModelID] = true
		}
	}
	return cli.WriteModels(stdout, fastembed.ListSupportedModels(), cached, format)
}

// openCache builds the artifact cache the same way a session does.
func openCache(cfg *config.Config, logger *zap.Logger) (*artifact.Cache, func(), error) {
	opts := artifact.Options{
		Endpoint:              cfg.Model.Endpoint,
		DialTimeout:           cfg.Download.DialTimeout,
		TLSHandshakeTimeout:   cfg.Download.TLSHandshakeTimeout,
		ResponseHeaderTimeout: cfg.Download.ResponseHeaderTimeout,
		StallTimeout:          cfg.Download.StallTimeout,
		LockTimeout:           cfg.Download.LockTimeout,
		VerifyChecksums:       cfg.Model.VerifyChecksums,
		Logger:                logger,
	}
	if cfg.Model.ShowDownloadProgressOrDefault() {
		opts.Progress = artifact.ProgressFunc(fastembed.ProgressWriter(os.Stderr))
	}
	closer := func() {}
	if cfg.Model.ManifestPath != "" {
		m, err := storage.NewSQLiteManifest(cfg.Model.ManifestPath)
		if err != nil {
			return nil, nil, err
		}
		opts.Manifest = m
		closer = func() { _ = m.Close() }
	}
	cache, err := artifact.New(cfg.Model.CacheDir, opts)
	if err != nil {
		closer()
		return nil, nil, err
	}
	return cache, closer, nil
}

func runDownload(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("download", flag.ContinueOnError)
	mf := addModelFlags(fs)
	if done, err := parseFlags(fs, args); done {
		return err
	}
	cfg, logger, err := mf.load()
	if err != nil {
		return err
	}
	defer logger.Sync()
	cache, closeCache, err := openCache(cfg, logger)
	if err != nil {
		return err
	}
	defer closeCache()
	spec, err := specFor(cfg.Model.Name)
	if err != nil {
		return err
	}
	a, err := cache.Ensure(ctx, spec)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "%s cached at %s (%s)\n", spec.ID, a.Dir, cli.FormatBytes(a.Size()))
	return nil
}

func runCache(ctx context.Context, args []string, stdout io.Writer) error {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: fastembed cache <list|clear|verify> [flags]")
		return errUsage
	}
	sub := args[0]
	fs := flag.NewFlagSet("cache "+sub, flag.ContinueOnError)
	mf := addModelFlags(fs)
	all := fs.Bool("all", false, "clear every cached model")
	output := fs.String("output", "text", "output format: text or json")
	if done, err := parseFlags(fs, args[1:]); done {
		return err
	}
	cfg, logger, err := mf.load()
	if err != nil {
		return err
	}
	defer logger.Sync()
	cache, closeCache, err := openCache(cfg, logger)
	if err != nil {
		return err
	}
	defer closeCache()

	switch sub {
	case "list":
		format, err := cli.ParseOutputFormat(*output)
		if err != nil {
			return err
		}
		entries, err := cache.List()
		if err != nil {
			return err
		}
		return cli.WriteCacheEntries(stdout, entries, format)
	case "clear":
		spec, err := specFor(cfg.Model.Name)
		if err != nil {
			return err
		}
		specs := []models.ModelSpec{spec}
		if *all {
			specs = fastembed.ListSupportedModels()
		}
		removed := 0
		for _, spec := range specs {
			if _, ok := cache.Lookup(spec); !ok && *all {
				continue
			}
			if err := cache.Remove(ctx, spec); err != nil {
				return err
			}
			removed++
			fmt.Fprintf(stdout, "removed %s\n", spec.ID)
		}
		if removed == 0 {
			fmt.Fprintln(stdout, "nothing to remove")
		}
		return nil
	case "verify":
		spec, err := specFor(cfg.Model.Name)
		if err != nil {
			return err
		}
		a, ok := cache.Lookup(spec)
		if !ok {
			return fmt.Errorf("%s is not cached", spec.ID)
		}
		if err := artifact.Verify(a); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "%s ok (%d files)\n", spec.ID, len(a.Marker.Files))
		return nil
	default:
		fmt.Fprintf(os.Stderr, "Unknown cache command: %s\n", sub)
		return errUsage
	}
}

func runServe(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	mf := addModelFlags(fs)
	host := fs.String("host", "", "listen host (default from config)")
	port := fs.Int("port", 0, "listen port (default from config)")
	if done, err := parseFlags(fs, args); done {
		return err
	}
	cfg, logger, err := mf.load()
	if err != nil {
		return err
	}
	defer logger.Sync()
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}

	m := metrics.New()
	session, err := newSession(ctx, cfg, logger, m)
	if err != nil {
		return err
	}
	defer session.Close()

	srv := server.NewServer(session, cfg, m, logger)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}
	logger.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Stop(shutdownCtx)
}

func printUsage(w io.Writer) {
	fmt.Fprintf(w, `fastembed turns text into embedding vectors with local ONNX models.

Usage:
  fastembed <command> [flags]

Commands:
  embed       Embed texts, stdin (-) or documents (-file) and print the vectors
  similarity  Print the cosine similarity matrix of two or more texts
  models      List supported models and whether they are cached
  download    Download a model's artifacts into the cache
  cache       Manage the cache: list, clear [-all], verify
  serve       Run the HTTP embedding API
  version     Print the version

Examples:
  fastembed embed "hello world" "goodbye"
  fastembed embed -model AllMiniLML6V2 -file notes.pdf -split paragraphs -output json
  cat queries.txt | fastembed embed -split lines -mode query -
  fastembed similarity "a cat" "a kitten" "a car"
  fastembed serve -port 8080

Supported document types: %s
Environment: FASTEMBED_MODEL, FASTEMBED_CACHE_DIR, FASTEMBED_MAX_LENGTH, FASTEMBED_ENDPOINT,
ONNXRUNTIME_LIB. A .env file in the working directory is loaded first.
`, strings.Join(extract.SupportedExtensions(), " "))
}
