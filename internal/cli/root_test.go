package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// execute runs the root command with args and returns what it wrote to
// stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func tempDB(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "rebalancer.db")
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "rebalancer", cmd.Use)
	assert.Contains(t, cmd.Long, "REBALANCER_")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := [][]string{
		{"chains", "add"},
		{"chains", "list"},
		{"approve"},
		{"revoke"},
		{"worker"},
		{"session"},
		{"logs"},
		{"txs"},
		{"signature"},
		{"calldata"},
		{"scenario"},
	}

	for _, path := range commands {
		t.Run(path[len(path)-1], func(t *testing.T) {
			subCmd, _, err := cmd.Find(path)
			require.NoError(t, err, "command %v should exist", path)
			require.NotNil(t, subCmd)
			assert.Equal(t, path[len(path)-1], subCmd.Name())
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

	dbFlag := cmd.PersistentFlags().Lookup("db")
	require.NotNil(t, dbFlag)
	assert.Equal(t, "rebalancer.db", dbFlag.DefValue)

	timeoutFlag := cmd.PersistentFlags().Lookup("timeout")
	require.NotNil(t, timeoutFlag)
	assert.Equal(t, (30 * time.Minute).String(), timeoutFlag.DefValue)

	for _, name := range []string{"config", "key-path", "key-version"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(name), name)
	}
}

func TestLogsCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	logsCmd, _, err := cmd.Find([]string{"logs"})
	require.NoError(t, err)

	countFlag := logsCmd.Flags().Lookup("count")
	require.NotNil(t, countFlag)
	assert.Equal(t, "10", countFlag.DefValue)
}

func TestCalldataCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	calldataCmd, _, err := cmd.Find([]string{"calldata"})
	require.NoError(t, err)

	argsFlag := calldataCmd.Flags().Lookup("args")
	require.NotNil(t, argsFlag)
	assert.Equal(t, "{}", argsFlag.DefValue)
	assert.NotNil(t, calldataCmd.Flags().Lookup("chain"))
	assert.NotNil(t, calldataCmd.Flags().Lookup("chains"))
}

func TestInvalidFormat(t *testing.T) {
	_, err := execute(t, "--db", tempDB(t), "--format", "xml", "chains", "list")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "invalid format")
}

func TestConfig_FromFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "rebalancer.yaml")
	db := filepath.Join(dir, "from-config.db")
	require.NoError(t, os.WriteFile(cfgPath, []byte("format: json\ndb: "+db+"\n"), 0o644))

	out, err := execute(t, "--config", cfgPath, "chains", "list")
	require.NoError(t, err)
	assert.Contains(t, out, `"status":"ok"`)
	assert.FileExists(t, db)
}

func TestConfig_FlagBeatsFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "rebalancer.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("format: json\n"), 0o644))

	out, err := execute(t, "--config", cfgPath, "--format", "text", "--db", tempDB(t), "chains", "list")
	require.NoError(t, err)
	assert.Equal(t, "No chains configured.\n", out)
}

func TestConfig_MissingFile(t *testing.T) {
	_, err := execute(t, "--config", filepath.Join(t.TempDir(), "absent.yaml"), "chains", "list")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestConfig_FromEnvironment(t *testing.T) {
	db := tempDB(t)
	t.Setenv("REBALANCER_FORMAT", "json")
	t.Setenv("REBALANCER_DB", db)

	out, err := execute(t, "chains", "list")
	require.NoError(t, err)
	assert.Contains(t, out, `"status":"ok"`)
	assert.FileExists(t, db)
}

func TestConfig_BadEnvironmentValue(t *testing.T) {
	t.Setenv("REBALANCER_TIMEOUT", "soon")

	_, err := execute(t, "--db", tempDB(t), "chains", "list")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "timeout")
}
