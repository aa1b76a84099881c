package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/moodlearchiver/internal/domain/download"
	"github.com/GriffinCanCode/moodlearchiver/internal/domain/session"
	"github.com/GriffinCanCode/moodlearchiver/internal/infrastructure/config"
	"github.com/GriffinCanCode/moodlearchiver/internal/infrastructure/logging"
	"github.com/GriffinCanCode/moodlearchiver/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/moodlearchiver/internal/moodle"
	"github.com/GriffinCanCode/moodlearchiver/internal/storage"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("archiver", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "YAML or TOML config file")
	dev := fs.Bool("dev", false, "Development logging")
	backendURL := fs.String("backend", "", "Moodle site URL (overrides config)")
	output := fs.String("output", "", "Directory for archives (overrides config)")
	fs.Usage = func() { usage(fs) }
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		usage(fs)
		return 2
	}

	// Variables from a local .env file; the real environment wins
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintln(stderr, "failed to read .env:", err)
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	if *dev {
		cfg.Logging.Development = true
	}
	if *backendURL != "" {
		cfg.Moodle.Backend = *backendURL
	}
	if *output != "" {
		cfg.Storage.OutputDir = *output
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(stderr, "invalid configuration:", err)
		return 1
	}

	logger := logging.FromSettings(cfg.Logging.Level, cfg.Logging.Development)
	defer logger.Sync()

	a, err := newApp(cfg, logger, monitoring.NewMetrics())
	if err != nil {
		logger.Error("Failed to initialise", zap.Error(err))
		return 1
	}
	a.stdin, a.stdout, a.stderr = stdin, stdout, stderr

	if err := a.dispatch(ctx, fs.Arg(0), fs.Args()[1:]); err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return 1
	}
	return 0
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}

// newApp wires storage, the Moodle connector and the domain services
func newApp(cfg *config.Config, logger *logging.Logger, metrics *monitoring.Metrics) (*app, error) {
	kv, err := openStore(cfg, logger)
	if err != nil {
		return nil, err
	}

	connector := moodle.NewConnector(moodle.OptionsFromConfig(cfg), logger)
	sessions := session.NewStore(kv, connector, logger.Named("session")).WithMetrics(metrics)
	orchestrator := download.NewOrchestrator(kv, logger.Named("download")).WithMetrics(metrics)

	return &app{
		cfg:          cfg,
		logger:       logger,
		metrics:      metrics,
		sessions:     sessions,
		orchestrator: orchestrator,
		stdin:        os.Stdin,
		stdout:       os.Stdout,
		stderr:       os.Stderr,
	}, nil
}

func openStore(cfg *config.Config, logger *logging.Logger) (storage.Store, error) {
	if cfg.Storage.RedisURL != "" {
		logger.Debug("Using redis state", zap.String("key", cfg.Storage.RedisKey))
		return storage.NewRedis(cfg.Storage.RedisURL, cfg.Storage.RedisKey)
	}
	statePath, err := cfg.StatePath()
	if err != nil {
		return nil, err
	}
	logger.Debug("Using state file", zap.String("path", statePath))
	return storage.NewFile(statePath)
}

func usage(fs *flag.FlagSet) {
	out := fs.Output()
	fmt.Fprintln(out, "Usage: archiver [flags] <command> [args]")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Commands:")
	fmt.Fprintln(out, "  login [-u user]            Sign in and remember the session")
	fmt.Fprintln(out, "  logout                     Forget the session")
	fmt.Fprintln(out, "  status                     Show the session")
	fmt.Fprintln(out, "  extend                     Restart the session validity period")
	fmt.Fprintln(out, "  courses [-q text]          List enrolled courses")
	fmt.Fprintln(out, "  download [-q text] [-all] [id...]")
	fmt.Fprintln(out, "                             Archive courses into a zip")
	fmt.Fprintln(out, "  serve                      Run the local HTTP API")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Flags:")
	fs.PrintDefaults()
}
