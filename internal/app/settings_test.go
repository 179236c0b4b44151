package app

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadSettings_PrefersUserConfigOverLocal(t *testing.T) {
	resetSettingsStateForTest()
	t.Cleanup(resetSettingsStateForTest)

	home := t.TempDir()
	t.Setenv("HOME", home)

	workdir := t.TempDir()
	oldwd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(workdir))
	t.Cleanup(func() { _ = os.Chdir(oldwd) })

	userConfigPath := filepath.Join(home, ".config", "agentpipe", "config.yaml")
	require.NoError(t, os.MkdirAll(filepath.Dir(userConfigPath), 0o755))
	require.NoError(t, os.WriteFile(userConfigPath, []byte("db_path: /tmp/from-user.db\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(workdir, "config.yaml"), []byte("db_path: /tmp/from-local.db\n"), 0o600))

	s, err := LoadSettings()
	require.NoError(t, err)
	require.Equal(t, "/tmp/from-user.db", s.DBPath)
}

func TestLoadSettings_FallsBackToLocalConfig(t *testing.T) {
	resetSettingsStateForTest()
	t.Cleanup(resetSettingsStateForTest)

	home := t.TempDir()
	t.Setenv("HOME", home)

	workdir := t.TempDir()
	oldwd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(workdir))
	t.Cleanup(func() { _ = os.Chdir(oldwd) })

	require.NoError(t, os.WriteFile(filepath.Join(workdir, "config.yaml"), []byte("db_path: /tmp/from-local.db\n"), 0o600))

	s, err := LoadSettings()
	require.NoError(t, err)
	require.Equal(t, "/tmp/from-local.db", s.DBPath)
}

func TestLoadSettings_InvalidYAMLReturnsError(t *testing.T) {
	resetSettingsStateForTest()
	t.Cleanup(resetSettingsStateForTest)

	home := t.TempDir()
	t.Setenv("HOME", home)

	userConfigPath := filepath.Join(home, ".config", "agentpipe", "config.yaml")
	require.NoError(t, os.MkdirAll(filepath.Dir(userConfigPath), 0o755))
	require.NoError(t, os.WriteFile(userConfigPath, []byte("db_path: ["), 0o600))

	_, err := LoadSettings()
	require.Error(t, err)
}

func TestLoadSettingsFile_ReadsYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("db_path: /tmp/read.db\n"), 0o600))

	s, err := loadSettingsFile(path)
	require.NoError(t, err)
	require.Equal(t, "/tmp/read.db", s.DBPath)
}

func TestLoadSettingsFile_ReadsRunnerFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "step_timeout_seconds: 120\n" +
		"heartbeat_interval_seconds: 10\n" +
		"reconnect_delay_seconds: 2\n" +
		"subscriber_inbox_capacity: 1024\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	s, err := loadSettingsFile(path)
	require.NoError(t, err)
	require.Equal(t, 120, s.StepTimeoutSeconds)
	require.Equal(t, 10, s.HeartbeatIntervalSecs)
	require.Equal(t, 2, s.ReconnectDelaySeconds)
	require.Equal(t, 1024, s.SubscriberInboxCapacity)
}

func TestEffectiveRunnerSettings_Defaults(t *testing.T) {
	resetSettingsStateForTest()
	t.Cleanup(resetSettingsStateForTest)

	home := t.TempDir()
	t.Setenv("HOME", home)

	cfg := EffectiveRunnerSettings()
	require.Equal(t, 600, cfg.StepTimeoutSeconds)
	require.Equal(t, 5, cfg.HeartbeatIntervalSecs)
	require.Equal(t, 1, cfg.ReconnectDelaySeconds)
	require.Equal(t, 512, cfg.SubscriberInboxCapacity)
}

func TestEffectiveRunnerSettings_ConfigOverridesDefaults(t *testing.T) {
	resetSettingsStateForTest()
	t.Cleanup(resetSettingsStateForTest)

	home := t.TempDir()
	t.Setenv("HOME", home)

	userConfigPath := filepath.Join(home, ".config", "agentpipe", "config.yaml")
	require.NoError(t, os.MkdirAll(filepath.Dir(userConfigPath), 0o755))
	require.NoError(t, os.WriteFile(userConfigPath, []byte(strings.Join([]string{
		"step_timeout_seconds: 30",
		"heartbeat_interval_seconds: 15",
		"reconnect_delay_seconds: 3",
		"subscriber_inbox_capacity: 64",
		"",
	}, "\n")), 0o600))

	cfg := EffectiveRunnerSettings()
	require.Equal(t, 30, cfg.StepTimeoutSeconds)
	require.Equal(t, 15, cfg.HeartbeatIntervalSecs)
	require.Equal(t, 3, cfg.ReconnectDelaySeconds)
	require.Equal(t, 64, cfg.SubscriberInboxCapacity)
}

func TestEffectiveRunnerSettings_EnvOverridesConfig(t *testing.T) {
	resetSettingsStateForTest()
	t.Cleanup(resetSettingsStateForTest)

	home := t.TempDir()
	t.Setenv("HOME", home)

	userConfigPath := filepath.Join(home, ".config", "agentpipe", "config.yaml")
	require.NoError(t, os.MkdirAll(filepath.Dir(userConfigPath), 0o755))
	require.NoError(t, os.WriteFile(userConfigPath, []byte("step_timeout_seconds: 30\n"), 0o600))

	t.Setenv("AGENTPIPE_STEP_TIMEOUT_SECONDS", "45")

	cfg := EffectiveRunnerSettings()
	require.Equal(t, 45, cfg.StepTimeoutSeconds)
}
