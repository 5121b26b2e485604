package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const configHeader = `# Arcadia Configuration File
#
# This file was generated by "arcadia init". Every value can be overridden
# with an environment variable: ARCADIA_<SECTION>_<KEY>, for example
# ARCADIA_LOGGING_LEVEL=DEBUG or ARCADIA_REDIS_ADDR=redis.internal:6379.
#
# The auth secret below was randomly generated for development use. For
# production, set ARCADIA_AUTH_SECRET from your secret manager instead of
# keeping it in this file.

`

// InitConfig creates a sample configuration file at the default location.
// Returns the path of the created file.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	if err := InitConfigToPath(path, force); err != nil {
		return "", err
	}
	return path, nil
}

// InitConfigToPath creates a sample configuration file at the given path.
func InitConfigToPath(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
		}
	}

	cfg := GetDefaultConfig()
	secret, err := generateSecret()
	if err != nil {
		return fmt.Errorf("failed to generate auth secret: %w", err)
	}
	cfg.Auth.Secret = secret

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal sample config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// 0600: the file carries the generated secret.
	if err := os.WriteFile(path, append([]byte(configHeader), data...), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// generateSecret returns 32 bytes of entropy as a hex string.
func generateSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
