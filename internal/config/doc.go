// Package config holds node configuration: identity, listen addresses,
// the static peer list and the anti-entropy policy knobs. Values come from
// an optional YAML file and are overridden by command-line flags.
package config
