package moodle

import (
	"time"

	"github.com/GriffinCanCode/moodlearchiver/internal/backend"
	"github.com/GriffinCanCode/moodlearchiver/internal/infrastructure/config"
	"github.com/GriffinCanCode/moodlearchiver/internal/infrastructure/logging"
)

// Options tunes every client created by a Connector
type Options struct {
	Service           string
	Timeout           time.Duration
	RequestsPerSecond float64
	Concurrency       int
	Retries           int
	Exclude           []string
	OutputDir         string
	UserAgent         string
}

// DefaultOptions returns the options used by the Moodle mobile app service
func DefaultOptions() Options {
	return Options{
		Service:           "moodle_mobile_app",
		Timeout:           60 * time.Second,
		RequestsPerSecond: 10,
		Concurrency:       4,
		Retries:           3,
		OutputDir:         ".",
		UserAgent:         "moodlearchiver/1.0",
	}
}

// OptionsFromConfig maps application configuration onto client options
func OptionsFromConfig(cfg *config.Config) Options {
	opts := DefaultOptions()
	opts.Service = cfg.Moodle.Service
	opts.Timeout = cfg.Moodle.Timeout.Std()
	opts.RequestsPerSecond = cfg.Moodle.RequestsPerSecond
	opts.Concurrency = cfg.Moodle.Concurrency
	opts.Exclude = cfg.Moodle.Exclude
	opts.OutputDir = cfg.Storage.OutputDir
	return opts
}

// Connector creates clients sharing one set of options
type Connector struct {
	opts   Options
	logger *logging.Logger
}

// NewConnector creates a connector
func NewConnector(opts Options, logger *logging.Logger) *Connector {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Connector{opts: opts, logger: logger}
}

// Connect returns an unauthenticated client for username on backendURL
func (c *Connector) Connect(username, backendURL string) backend.Client {
	return NewClient(username, backendURL, c.opts, c.logger)
}
