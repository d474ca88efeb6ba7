package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildCLIRootCommand(t *testing.T) {
	cmd := BuildCLI()
	require.NotNil(t, cmd)
	assert.Equal(t, "warehouse-broker", cmd.Use)

	names := map[string]bool{}
	for _, c := range cmd.Commands() {
		names[c.Use] = true
	}
	assert.True(t, names["warehouse"])
	assert.True(t, names["broker"])

	configFlag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, configFlag)
	assert.Equal(t, "", configFlag.DefValue)
}

func TestBuildWarehouseRunCommandFlags(t *testing.T) {
	cmd := buildWarehouseRunCommand()
	require.NotNil(t, cmd.RunE)

	for _, name := range []string{"fast", "duration", "loaders", "managers", "metrics-addr"} {
		assert.NotNil(t, cmd.Flags().Lookup(name), "missing flag %q", name)
	}
}

func TestBuildBrokerCommandSubcommands(t *testing.T) {
	cmd := buildBrokerCommand()
	names := map[string]bool{}
	for _, c := range cmd.Commands() {
		names[c.Use] = true
	}
	assert.True(t, names["run"])
	assert.True(t, names["status"])
}

func TestBrokerRunRequiresConfigFlag(t *testing.T) {
	configFile = ""
	cmd := buildBrokerRunCommand()
	err := cmd.RunE(cmd, nil)
	assert.ErrorContains(t, err, "--config")
}

func TestBrokerStatusRequiresConfigFlag(t *testing.T) {
	configFile = ""
	cmd := buildBrokerStatusCommand()
	err := cmd.RunE(cmd, nil)
	assert.ErrorContains(t, err, "--config")
}

func TestParsePort(t *testing.T) {
	assert.Equal(t, 9090, parsePort(":9090"))
	assert.Equal(t, 9090, parsePort("0.0.0.0:9090"))
}
