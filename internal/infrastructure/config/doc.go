// Package config loads archiver configuration.
//
// Defaults come from Default. An optional YAML or TOML file is applied on top,
// and environment variables win over both:
//
//	MOODLE_BACKEND=https://school.moodledemo.net/ archiver courses
//	archiver -config archiver.yaml serve
package config
