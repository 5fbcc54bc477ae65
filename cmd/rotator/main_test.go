package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"RotationSentinel/internal/model"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	cfg := fmt.Sprintf(`app:
  log_level: error
data_source:
  provider: mock
strategy:
  fetch_delay_ms: 0
portfolio:
  state_file: %[1]s/trading_data.json
storage:
  cache_file: %[1]s/bar_cache.json
  signal_file: %[1]s/last_signal.json
`, dir)
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))
	return path
}

func run(t *testing.T, cfgPath string, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	root := newRootCmd()
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(append([]string{"--config", cfgPath}, args...))
	err := root.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func TestHoldingAndCapitalCommands(t *testing.T) {
	cfg := writeConfig(t)

	out, _, err := run(t, cfg, "holding", "add", "黄金ETF", "1000", "5.12")
	require.NoError(t, err)
	assert.Contains(t, out, "黄金ETF 1000 @ 5.120")
	id := strings.Fields(out)[0]

	out, _, err = run(t, cfg, "holding", "list")
	require.NoError(t, err)
	assert.Contains(t, out, id)
	assert.Contains(t, out, "1,000")

	out, _, err = run(t, cfg, "capital", "--total", "100000", "--cash", "20000")
	require.NoError(t, err)
	assert.Contains(t, out, "total 100,000 | cash 20,000 | strategy budget 80,000")

	_, _, err = run(t, cfg, "holding", "remove", id)
	require.NoError(t, err)
	_, _, err = run(t, cfg, "holding", "remove", id)
	assert.Error(t, err)

	_, _, err = run(t, cfg, "holding", "add", "黄金ETF", "many", "5")
	assert.Error(t, err)
}

func TestImportCommand(t *testing.T) {
	cfg := writeConfig(t)
	file := filepath.Join(t.TempDir(), "import.json")
	require.NoError(t, os.WriteFile(file, []byte(`{
		"holdings": [{"name": "纳指ETF", "shares": 200, "cost_price": 1.4}],
		"summary": {"total_assets": 50000, "cash_balance": 1000}
	}`), 0o644))

	out, _, err := run(t, cfg, "import", file)
	require.NoError(t, err)
	assert.Contains(t, out, "imported 1 holdings")

	out, _, err = run(t, cfg, "capital")
	require.NoError(t, err)
	assert.Contains(t, out, "total 50,000 | cash 1,000")
}

func TestSignalCommand_LocalThenStored(t *testing.T) {
	cfg := writeConfig(t)

	out, errOut, err := run(t, cfg, "signal", "--local")
	require.NoError(t, err)
	assert.Contains(t, errOut, "provider: local")
	assert.Contains(t, errOut, "INSTRUMENT")
	sig, err := model.DecodeSignal([]byte(out))
	require.NoError(t, err)
	assert.Equal(t, "银华日利", sig.DefensiveInstrument)

	out, errOut, err = run(t, cfg, "signal")
	require.NoError(t, err)
	assert.Contains(t, errOut, "provider: stored")
	again, err := model.DecodeSignal([]byte(out))
	require.NoError(t, err)
	assert.Equal(t, sig.Date, again.Date)
}

func TestAdviseAndHealthCommands(t *testing.T) {
	cfg := writeConfig(t)
	_, _, err := run(t, cfg, "capital", "--total", "100000")
	require.NoError(t, err)

	out, _, err := run(t, cfg, "advise", "--local")
	require.NoError(t, err)
	assert.Contains(t, out, "ACTION")
	assert.Contains(t, out, ", local)")

	_, _, err = run(t, cfg, "health")
	assert.Error(t, err, "no remote configured")
}

func TestInvalidConfigIsRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("data_source:\n  provider: carrier-pigeon\n"), 0o644))
	_, _, err := run(t, path, "capital")
	assert.ErrorIs(t, err, model.ErrInvalidConfiguration)
}

func TestNewTable_AlignsColumns(t *testing.T) {
	var buf bytes.Buffer
	tbl := newTable(&buf, "NAME", "SHARES")
	tbl.Append([]string{"黄金ETF", "1,000"})
	tbl.Append([]string{"a", "2"})
	tbl.Render()

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "NAME")
	assert.NotContains(t, buf.String(), "|")
	assert.Equal(t, strings.Index(lines[2], "2"), strings.Index(lines[0], "SHARES"), "values line up under the header")
}
