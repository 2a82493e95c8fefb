package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildCLI(t *testing.T) {
	cmd := BuildCLI()

	assert.NotNil(t, cmd)
	assert.Equal(t, "procpool", cmd.Use)
	assert.Equal(t, "1.0.0", cmd.Version)

	commands := cmd.Commands()
	names := make(map[string]bool)
	for _, c := range commands {
		names[c.Name()] = true
	}

	assert.True(t, names["run"])
	assert.True(t, names["submit"])
	assert.True(t, names["status"])

	configFlag := cmd.PersistentFlags().Lookup("config")
	assert.NotNil(t, configFlag)
	assert.Equal(t, "configs/default.yaml", configFlag.DefValue)
}

func TestBuildRunCommand(t *testing.T) {
	cmd := buildRunCommand()
	assert.Equal(t, "run", cmd.Name())
	assert.NotNil(t, cmd.RunE)
}

func TestBuildSubmitCommand(t *testing.T) {
	cmd := buildSubmitCommand()
	assert.Equal(t, "submit", cmd.Name())

	fnFlag := cmd.Flags().Lookup("fn")
	assert.NotNil(t, fnFlag)

	assert.NotNil(t, cmd.RunE)
	assert.Error(t, cmd.RunE(cmd, nil), "submit without --fn must fail")
}

func TestBuildStatusCommand(t *testing.T) {
	cmd := buildStatusCommand()
	assert.Equal(t, "status", cmd.Name())
	assert.NotNil(t, cmd.RunE)
}

func TestNormalizeArgsJSON(t *testing.T) {
	out, err := normalizeArgsJSON(`{"a":1}`)
	assert.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(out))
}

func TestNormalizeArgsJSONRejectsMalformed(t *testing.T) {
	_, err := normalizeArgsJSON(`{not json`)
	assert.Error(t, err)
}
