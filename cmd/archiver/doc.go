// Command archiver downloads the files of Moodle courses into zip archives.
//
// A session is created once with `archiver login` and reused for ninety days.
// Archives are written to the output directory and their path is printed on
// stdout; progress and prompts go to stderr.
//
// Usage:
//
//	archiver login -u alice
//	archiver courses -q algebra
//	archiver download 12 7
//	archiver download -all -q 2024
//	archiver serve
//
// Configuration comes from a YAML or TOML file given with -config, then
// environment variables (MOODLE_BACKEND, OUTPUT_DIR, STATE_PATH, LOG_LEVEL,
// and friends), then flags.
//
// Signals:
//   - SIGINT, SIGTERM: cancel the running command; serve shuts down gracefully
package main
