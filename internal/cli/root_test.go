package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cashutrack/internal/config"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "cashutrack", cmd.Use)
	assert.Contains(t, cmd.Long, "Cashu")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := []string{"run", "decode", "status"}

	for _, cmdName := range commands {
		t.Run(cmdName, func(t *testing.T) {
			subCmd, _, err := cmd.Find([]string{cmdName})
			require.NoError(t, err, "Command %s should exist", cmdName)
			require.NotNil(t, subCmd)
			assert.Equal(t, cmdName, subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	configFlag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, configFlag)
	assert.Equal(t, "", configFlag.DefValue)
}

func TestRunCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	runCmd, _, err := cmd.Find([]string{"run"})
	require.NoError(t, err)

	for name, def := range map[string]string{
		"db":            "",
		"driver":        "",
		"input":         "-",
		"drain":         "false",
		"poll-interval": "0s",
		"check-path":    "",
	} {
		flag := runCmd.Flags().Lookup(name)
		require.NotNil(t, flag, "flag %s", name)
		assert.Equal(t, def, flag.DefValue, "flag %s", name)
	}
	assert.Equal(t, "i", runCmd.Flags().Lookup("input").Shorthand)
}

func TestStatusCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	statusCmd, _, err := cmd.Find([]string{"status"})
	require.NoError(t, err)

	assert.NotNil(t, statusCmd.Flags().Lookup("db"))
	assert.NotNil(t, statusCmd.Flags().Lookup("driver"))
}

func TestInvalidFormat(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--format", "yaml", "decode", "cashuAxyz"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestLoadConfig_InvalidOverride(t *testing.T) {
	_, err := loadConfig(&RootOptions{}, func(c *config.Config) {
		c.StoreDriver = "redis"
	})
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := loadConfig(&RootOptions{ConfigPath: filepath.Join(t.TempDir(), "absent.yaml")}, nil)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestLoadConfig_FileAndOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cashutrack.yaml")
	require.NoError(t, os.WriteFile(path, []byte("poll_interval: 2s\nstore_driver: json\n"), 0o644))

	cfg, err := loadConfig(&RootOptions{ConfigPath: path}, func(c *config.Config) {
		c.StorePath = "override.json"
	})
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, cfg.PollInterval)
	assert.Equal(t, config.DriverJSON, cfg.StoreDriver)
	assert.Equal(t, "override.json", cfg.StorePath)
}
