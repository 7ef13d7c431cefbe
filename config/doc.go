// Package config handles loading and parsing of the simulation
// configuration from YAML files, environment variables and bound flags. It
// defines the scenario shape: client and server counts, traffic pattern,
// backend weights and processing delays, the selection algorithm and its
// tuning, and logging settings.
package config
