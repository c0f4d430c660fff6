package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	expected := []string{"migrate", "ingest", "enrich", "sync", "status", "purge", "serve"}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "candidate-tracker", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestIngestCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range ingestCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["backfill"])
	assert.True(t, names["state"])

	for _, c := range ingestCmd.Commands() {
		for _, flagName := range []string{"cycles", "parties", "offices"} {
			assert.NotNil(t, c.Flags().Lookup(flagName), "ingest %s should have --%s flag", c.Name(), flagName)
		}
	}
	assert.NotNil(t, ingestStateCmd.Flags().Lookup("state"))
}

func TestEnrichCommand_Flags(t *testing.T) {
	for _, flagName := range []string{"limit", "offset", "all", "max-batches", "refresh"} {
		assert.NotNil(t, enrichCmd.Flags().Lookup(flagName), "enrich should have --%s flag", flagName)
	}
	flag := enrichCmd.Flags().Lookup("limit")
	require.NotNil(t, flag)
	assert.Equal(t, "0", flag.DefValue)
}

func TestSyncCommand_Flags(t *testing.T) {
	flag := syncCmd.Flags().Lookup("target")
	require.NotNil(t, flag, "sync command should have --target flag")
	assert.Equal(t, "", flag.DefValue)
}

func TestPurgeCommand_Flags(t *testing.T) {
	for _, flagName := range []string{"origin", "cycle", "yes"} {
		assert.NotNil(t, purgeCmd.Flags().Lookup(flagName), "purge should have --%s flag", flagName)
	}
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}
