package cli

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tabrecall/tabrecall/internal/agent"
)

// writeTestConfig creates a config file whose paths stay inside a temp
// directory, so executed commands never touch the real home directory.
func writeTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := fmt.Sprintf("agent:\n  state_path: %s\nserver:\n  sqlite_file: %s\n",
		filepath.Join(dir, "state.json"), filepath.Join(dir, "tabrecall.db"))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	old := os.Stdout
	r, w, err := os.Pipe()
	require.NoError(t, err)
	os.Stdout = w

	fn()

	w.Close()
	os.Stdout = old

	var buf bytes.Buffer
	buf.ReadFrom(r)
	return buf.String()
}

func TestVersionFlag(t *testing.T) {
	output := captureStdout(t, func() {
		err := RunWithArgs("0.1.0-test", []string{"--version"})
		assert.NoError(t, err)
	})
	assert.Contains(t, output, "tabrecall 0.1.0-test")
}

func TestVersionOutputFormat(t *testing.T) {
	output := captureStdout(t, func() {
		_ = RunWithArgs("1.2.3", []string{"--version"})
	})
	assert.Equal(t, "tabrecall 1.2.3", strings.TrimSpace(output))
}

func TestAllSubcommandsRegistered(t *testing.T) {
	parser, _, _ := buildParser("test")
	for _, name := range []string{"serve", "agent", "sync", "login", "register", "sessions", "status"} {
		assert.NotNil(t, parser.Find(name), name)
	}
}

func TestStatusSubcommandRuns(t *testing.T) {
	cfgPath := writeTestConfig(t)
	output := captureStdout(t, func() {
		err := RunWithArgs("test", []string{"--config", cfgPath, "status"})
		assert.NoError(t, err)
	})
	assert.Contains(t, output, "Agent:          not running")
	assert.Contains(t, output, "Credentials:    none")
}

func TestStatusJSONOutput(t *testing.T) {
	cfgPath := writeTestConfig(t)
	output := captureStdout(t, func() {
		err := RunWithArgs("test", []string{"--config", cfgPath, "--json", "status"})
		assert.NoError(t, err)
	})
	assert.Contains(t, output, `"agent_running": false`)
	assert.Contains(t, output, `"pending": 0`)
}

func TestSyncRequiresCredentials(t *testing.T) {
	cfgPath := writeTestConfig(t)
	err := RunWithArgs("test", []string{"--config", cfgPath, "sync"})
	assert.ErrorIs(t, err, agent.ErrNoCredential)
}

func TestSessionsRequiresCredentials(t *testing.T) {
	cfgPath := writeTestConfig(t)
	err := RunWithArgs("test", []string{"--config", cfgPath, "sessions"})
	assert.ErrorIs(t, err, agent.ErrNoCredential)
}

func TestSessionsRejectsUnknownMode(t *testing.T) {
	cfgPath := writeTestConfig(t)
	err := RunWithArgs("test", []string{"--config", cfgPath, "sessions", "--mode", "fuzzy"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--mode")
}

func TestSessionsRejectsMalformedTimeFilter(t *testing.T) {
	cfgPath := writeTestConfig(t)
	err := RunWithArgs("test", []string{"--config", cfgPath, "sessions", "--from", "yesterday"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--from")
}

func TestServeFailsFastWithoutAuthSecret(t *testing.T) {
	cfgPath := writeTestConfig(t)
	err := RunWithArgs("test", []string{"--config", cfgPath, "serve"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "auth_secret")
}

func TestLoginRequiresEmail(t *testing.T) {
	cfgPath := writeTestConfig(t)
	err := RunWithArgs("test", []string{"--config", cfgPath, "login"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--email")
}

func TestUnknownCommandErrors(t *testing.T) {
	err := RunWithArgs("test", []string{"purge"})
	assert.Error(t, err)
}
