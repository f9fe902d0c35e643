// Package agentwatch provides embedded assets for the agentwatch binary.
//
// The root package exists solely to embed [config.default.toml] via
// [DefaultConfigTOML]. The "config init" subcommand writes it to the data
// directory.
package agentwatch

import _ "embed"

// DefaultConfigTOML holds the raw bytes of config.default.toml, embedded at
// build time.
//
//go:embed config.default.toml
var DefaultConfigTOML []byte
