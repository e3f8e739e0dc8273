// Package config loads the runtime settings shared by the pipelines from an
// optional YAML file with SPEECHMESH_ environment overrides on top.
package config
