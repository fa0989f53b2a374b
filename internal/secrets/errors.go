// Package secrets detects and redacts credentials in recorded conversations
// before they are persisted. Detection uses the Gitleaks rule set; allowlists
// are TOML files in the Gitleaks format.
package secrets

import "errors"

var (
	// ErrInvalidRegex indicates an allowlist pattern failed to compile.
	ErrInvalidRegex = errors.New("invalid regex pattern")

	// ErrInvalidTOML indicates an allowlist file could not be parsed.
	ErrInvalidTOML = errors.New("invalid TOML format")
)
