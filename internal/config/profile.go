// ABOUTME: Operator profile loading (server URL and token) from a TOML file
// ABOUTME: Defaults to the XDG config path with environment variable expansion

package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Profile is the per-operator client configuration kept outside the
// engine config: where the backend lives and the token to present.
type Profile struct {
	Server ServerProfile `toml:"server"`
}

// ServerProfile holds connection credentials for one backend.
type ServerProfile struct {
	URL   string `toml:"url"`
	Token string `toml:"token"`
}

// DefaultProfilePath returns the XDG location for the operator profile.
func DefaultProfilePath() (string, error) {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolving home directory: %w", err)
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "opsdesk", "profile.toml"), nil
}

// LoadProfile reads the operator profile, expanding ${VAR} references so
// tokens can live in the environment rather than on disk.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading profile: %w", err)
	}

	var p Profile
	if _, err := toml.Decode(expandEnvVars(string(data)), &p); err != nil {
		return nil, fmt.Errorf("parsing profile: %w", err)
	}

	if p.Server.URL == "" {
		return nil, fmt.Errorf("profile server.url is required")
	}
	if p.Server.Token == "" {
		return nil, fmt.Errorf("profile server.token is required")
	}
	return &p, nil
}
