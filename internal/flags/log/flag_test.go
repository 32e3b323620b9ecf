package log

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func command(t *testing.T, args ...string) (*cobra.Command, *bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := &cobra.Command{Use: "test"}
	RegisterLoggingFlags(cmd.Flags())
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	require.NoError(t, cmd.ParseFlags(args))
	return cmd, &stdout, &stderr
}

func TestGetBaseLoggerDefaults(t *testing.T) {
	cmd, stdout, stderr := command(t)
	logger, err := GetBaseLogger(cmd)
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Warn("shown", "pkg", "a")
	assert.Empty(t, stdout.String())
	assert.NotContains(t, stderr.String(), "hidden")
	assert.Contains(t, stderr.String(), "msg=shown pkg=a")
}

func TestGetBaseLoggerJSON(t *testing.T) {
	cmd, stdout, _ := command(t, "--logformat", "json", "--loglevel", "debug", "--logoutput", "stdout")
	logger, err := GetBaseLogger(cmd)
	require.NoError(t, err)

	logger.Debug("packed", "pkg", "a")
	var record map[string]any
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &record))
	assert.Equal(t, "DEBUG", record["level"])
	assert.Equal(t, "packed", record["msg"])
	assert.Equal(t, "a", record["pkg"])
}

func TestInvalidLevel(t *testing.T) {
	cmd := &cobra.Command{Use: "test"}
	RegisterLoggingFlags(cmd.Flags())
	require.Error(t, cmd.ParseFlags([]string{"--loglevel", "trace"}))
}
