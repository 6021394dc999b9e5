package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/decision-cli/internal/activation"
	"github.com/sells-group/decision-cli/internal/config"
	"github.com/sells-group/decision-cli/internal/engine"
	"github.com/sells-group/decision-cli/internal/ingest"
)

// testConfig returns a config pointing at throwaway paths, valid for
// every command mode.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		Store: config.StoreConfig{
			Driver:      "sqlite",
			DatabaseURL: filepath.Join(dir, "test.db"),
		},
		Resolver: config.ResolverConfig{
			RegistryPath:      filepath.Join(dir, "teams.yaml"),
			WindowHours:       24,
			NoHintWindowHours: 72,
		},
		Evidence: config.EvidenceConfig{
			FreshnessWindowHours: 72,
			NumericTolerance:     0.1,
			MinSources:           1,
		},
		Engine:  config.EngineConfig{MinConfidence: 0.62},
		Reports: config.ReportsConfig{Dir: filepath.Join(dir, "reports"), MaxBundles: 30},
		Import:  config.ImportConfig{UserAgent: "decision-cli-test", TimeoutSecs: 5, MaxRetries: 1},
		Server:  config.ServerConfig{Port: 8080},
		Log:     config.LogConfig{Level: "info", Format: "json"},
	}
}

func TestRootCommand_HasSubcommands(t *testing.T) {
	cmds := rootCmd.Commands()

	names := make(map[string]bool)
	for _, c := range cmds {
		names[c.Name()] = true
	}

	expected := []string{"run", "resolve", "import", "measure", "graduate", "burnin", "runs", "serve", "health"}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "decision-cli", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestAnalyzeCommand_HiddenAndDeprecated(t *testing.T) {
	assert.True(t, analyzeCmd.Hidden)

	err := analyzeCmd.RunE(analyzeCmd, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, engine.ErrDeprecatedAnalyze)
}

func TestRunCommand_Flags(t *testing.T) {
	for _, name := range []string{"home", "away", "kickoff", "markets"} {
		assert.NotNil(t, runCmd.Flags().Lookup(name), "run should have --%s flag", name)
	}
}

func TestResolveCommand_Flags(t *testing.T) {
	for _, name := range []string{"home", "away", "kickoff"} {
		assert.NotNil(t, resolveCmd.Flags().Lookup(name), "resolve should have --%s flag", name)
	}
}

func TestBurninCommand_Flags(t *testing.T) {
	dryRun := burninCmd.Flags().Lookup("dry-run")
	require.NotNil(t, dryRun)
	assert.Equal(t, "true", dryRun.DefValue)

	connector := burninCmd.Flags().Lookup("connector")
	require.NotNil(t, connector)
	assert.Equal(t, activation.DefaultBurnInConnector, connector.DefValue)

	for _, name := range []string{"matches", "activate", "approval-token", "policy-pin"} {
		assert.NotNil(t, burninCmd.Flags().Lookup(name), "burnin should have --%s flag", name)
	}
}

func TestGraduateCommand_Flags(t *testing.T) {
	flag := graduateCmd.Flags().Lookup("strict-exit")
	require.NotNil(t, flag)
	assert.Equal(t, "false", flag.DefValue)
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag)
	assert.Equal(t, "0", flag.DefValue)
}

func TestImportCommand_Flags(t *testing.T) {
	flag := importCmd.Flags().Lookup("source")
	require.NotNil(t, flag)
	assert.Equal(t, ingest.DefaultSource, flag.DefValue)
}

func TestRunsCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range runsCmd.Commands() {
		names[c.Name()] = true
	}
	for _, name := range []string{"list", "show", "settle", "stats"} {
		assert.True(t, names[name], "runs should have subcommand %q", name)
	}
}
