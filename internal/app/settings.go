package app

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"gopkg.in/yaml.v3"
)

// Settings represents configuration loaded from config.yaml.
// Field names match snake_case YAML keys.
type Settings struct {
	DBPath                  string `yaml:"db_path"`
	AgentsPath              string `yaml:"agents_path"`
	TemplatesPath           string `yaml:"templates_path"`
	StepTimeoutSeconds      int    `yaml:"step_timeout_seconds"`
	HeartbeatIntervalSecs   int    `yaml:"heartbeat_interval_seconds"`
	ReconnectDelaySeconds   int    `yaml:"reconnect_delay_seconds"`
	SubscriberInboxCapacity int    `yaml:"subscriber_inbox_capacity"`
}

// RunnerSettings are effective runtime values used by the pipeline runner and broker.
type RunnerSettings struct {
	StepTimeoutSeconds      int `json:"step_timeout_seconds"`
	HeartbeatIntervalSecs   int `json:"heartbeat_interval_seconds"`
	ReconnectDelaySeconds   int `json:"reconnect_delay_seconds"`
	SubscriberInboxCapacity int `json:"subscriber_inbox_capacity"`
}

const (
	defaultStepTimeoutSeconds      = 600
	defaultHeartbeatIntervalSecs   = 5
	defaultReconnectDelaySeconds   = 1
	defaultSubscriberInboxCapacity = 512
)

// EffectiveRunnerSettings returns validated runner/broker settings with
// defaults, overridable by config.yaml and then by AGENTPIPE_* environment
// variables (env wins, matching GetDBPath's precedence order).
func EffectiveRunnerSettings() RunnerSettings {
	cfg := RunnerSettings{
		StepTimeoutSeconds:      defaultStepTimeoutSeconds,
		HeartbeatIntervalSecs:   defaultHeartbeatIntervalSecs,
		ReconnectDelaySeconds:   defaultReconnectDelaySeconds,
		SubscriberInboxCapacity: defaultSubscriberInboxCapacity,
	}

	if s, err := LoadSettings(); err == nil {
		if s.StepTimeoutSeconds > 0 {
			cfg.StepTimeoutSeconds = s.StepTimeoutSeconds
		}
		if s.HeartbeatIntervalSecs > 0 {
			cfg.HeartbeatIntervalSecs = s.HeartbeatIntervalSecs
		}
		if s.ReconnectDelaySeconds > 0 {
			cfg.ReconnectDelaySeconds = s.ReconnectDelaySeconds
		}
		if s.SubscriberInboxCapacity > 0 {
			cfg.SubscriberInboxCapacity = s.SubscriberInboxCapacity
		}
	}

	if v := envInt("AGENTPIPE_STEP_TIMEOUT_SECONDS"); v > 0 {
		cfg.StepTimeoutSeconds = v
	}
	if v := envInt("AGENTPIPE_HEARTBEAT_INTERVAL_SECONDS"); v > 0 {
		cfg.HeartbeatIntervalSecs = v
	}
	if v := envInt("AGENTPIPE_RECONNECT_DELAY_SECONDS"); v > 0 {
		cfg.ReconnectDelaySeconds = v
	}
	if v := envInt("AGENTPIPE_SUBSCRIBER_INBOX_CAPACITY"); v > 0 {
		cfg.SubscriberInboxCapacity = v
	}

	return cfg
}

func envInt(name string) int {
	v, ok := os.LookupEnv(name)
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

// settingsOnce, settings, settingsErr implement the sync.Once lazy-load singleton for config.
// dbPathOverrideMu and dbPathOverride implement a mutex-protected process-wide override for CLI --db-path.
// These globals are required by the sync.Once pattern and the RWMutex pattern; they cannot be avoided.
//
//nolint:gochecknoglobals // sync.Once singleton + RWMutex override are intentional process-wide state
var (
	settingsOnce sync.Once
	settings     Settings
	settingsErr  error

	dbPathOverrideMu sync.RWMutex
	dbPathOverride   string
)

// SetDBPathOverride sets a process-wide database path override.
// Intended for CLI flag support (e.g. --db-path).
func SetDBPathOverride(path string) {
	dbPathOverrideMu.Lock()
	dbPathOverride = path
	dbPathOverrideMu.Unlock()
}

func getDBPathOverride() string {
	dbPathOverrideMu.RLock()
	v := dbPathOverride
	dbPathOverrideMu.RUnlock()
	return v
}

// LoadSettings loads configuration once using the documented lookup order.
// Lookup order (first found wins):
// 1) ~/.config/agentpipe/config.yaml
// 2) /etc/agentpipe/config.yaml
// 3) ./config.yaml (lowest priority; allows repo-local overrides if desired)
// Environment variables are handled separately.
func LoadSettings() (Settings, error) {
	settingsOnce.Do(func() {
		settings = Settings{}

		// 1) User config (~/.config/agentpipe/config.yaml)
		dir, err := ConfigDir()
		if err != nil {
			settingsErr = err
			return
		}
		if s, err := loadSettingsFile(filepath.Join(dir, "config.yaml")); err == nil {
			settings = s
			return
		} else if err != nil && !errors.Is(err, os.ErrNotExist) {
			settingsErr = err
			return
		}

		// 2) /etc
		if s, err := loadSettingsFile(filepath.Join(string(os.PathSeparator), "etc", "agentpipe", "config.yaml")); err == nil {
			settings = s
			return
		} else if err != nil && !errors.Is(err, os.ErrNotExist) {
			settingsErr = err
			return
		}

		// 3) Local ./config.yaml (lowest priority)
		if s, err := loadSettingsFile("config.yaml"); err == nil {
			settings = s
			return
		} else if err != nil && !errors.Is(err, os.ErrNotExist) {
			settingsErr = err
			return
		}
	})

	return settings, settingsErr
}

func loadSettingsFile(path string) (Settings, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, err
	}

	var s Settings
	if err := yaml.Unmarshal(b, &s); err != nil {
		return Settings{}, err
	}
	return s, nil
}
