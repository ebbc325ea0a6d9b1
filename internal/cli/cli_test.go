package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/supportmesh/core"
)

func executeCLI(t *testing.T, args ...string) (string, string, error) {
	t.Helper()

	root := newRootCmd()
	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetArgs(append([]string{"--env-prefix", "SMCLI_TEST", "--log-level", "error"}, args...))

	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

func TestProcessJSONOutput(t *testing.T) {
	stdout, _, err := executeCLI(t, "process", "--json", "I", "can't", "log", "in")
	require.NoError(t, err)

	var resp core.Response
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	assert.Equal(t, core.StatusCompleted, resp.Status)
	assert.Equal(t, "account", resp.Category)
	assert.NotEmpty(t, resp.SessionID)
}

func TestProcessTextWithTrace(t *testing.T) {
	stdout, _, err := executeCLI(t, "process", "--mode", "sequential", "--trace", "Critical: Service is completely down")
	require.NoError(t, err)

	assert.Contains(t, stdout, "status:     COMPLETED")
	assert.Contains(t, stdout, "escalated:  yes (ticket TKT-")
	assert.Contains(t, stdout, core.EventRequestStart)
	assert.Contains(t, stdout, core.EventEscalation)
	assert.Contains(t, stdout, core.EventRequestEnd)
}

func TestProcessRejectsUnknownMode(t *testing.T) {
	_, _, err := executeCLI(t, "process", "--mode", "round-robin", "hello")
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestProcessUsesEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cli.env")
	require.NoError(t, os.WriteFile(path, []byte("SMCLI_TEST_MODE=LOOP\nSMCLI_TEST_LOOP_MAX_TURNS=1\n"), 0o600))
	t.Cleanup(func() {
		_ = os.Unsetenv("SMCLI_TEST_MODE")
		_ = os.Unsetenv("SMCLI_TEST_LOOP_MAX_TURNS")
	})

	stdout, _, err := executeCLI(t, "--env-file", path, "process", "--trace", "My dashboard widgets show stale numbers")
	require.NoError(t, err)

	assert.Equal(t, 1, strings.Count(stdout, core.EventLoopTurn))
}

func TestPauseUnknownSession(t *testing.T) {
	_, _, err := executeCLI(t, "pause", "does-not-exist")
	assert.ErrorIs(t, err, core.ErrSessionNotFound)
}

func TestResumeRequiresToken(t *testing.T) {
	_, _, err := executeCLI(t, "resume", "some-session")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `required flag(s) "token" not set`)
}

func TestMetricsSnapshot(t *testing.T) {
	stdout, _, err := executeCLI(t, "metrics")
	require.NoError(t, err)
	assert.True(t, json.Valid([]byte(stdout)))
	assert.Contains(t, stdout, `"total_events"`)
}

func TestDemo(t *testing.T) {
	if testing.Short() {
		t.Skip("runs all scenarios")
	}

	stdout, _, err := executeCLI(t, "demo", "--pause", "0s", "--tool-latency", "20ms")
	require.NoError(t, err)

	for _, section := range []string{
		"=== Test 1: Parallel Agent Execution ===",
		"=== Test 2: Sequential Agent Execution ===",
		"=== Test 3: Long-Running Operations ===",
		"=== Test 4: Observability & Metrics ===",
	} {
		assert.Contains(t, stdout, section)
	}

	assert.Contains(t, stdout, `"category": "billing"`)
	assert.Contains(t, stdout, `"escalation_flag": true`)
	assert.Contains(t, stdout, `"interaction_count"`)
}
