package app

import (
	"os"
	"path/filepath"
)

// ConfigDir returns ~/.config/agentpipe/ on all platforms.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "agentpipe"), nil
}

// EnsureConfigDir creates the config directory and default config.yaml if missing.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return err
	}

	configFile := filepath.Join(dir, "config.yaml")
	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		return os.WriteFile(configFile, []byte(defaultConfig), 0600)
	}
	return nil
}

// AgentsPath returns the path to the global agent-profile document.
func AgentsPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "agents.yaml"), nil
}

// TemplatesPath returns the path to the global pipeline-template document.
func TemplatesPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "templates.yaml"), nil
}

const defaultConfig = `# agentpiped configuration
# Run: agentpiped --help

# Optional: override the SQLite database location.
# Can also be set via AGENTPIPE_DB_PATH or --db-path.
# db_path: ~/.config/agentpipe/agentpipe.db
`
