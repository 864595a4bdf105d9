package commands

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/pelletier/go-toml/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/inkpulse/inkpulse/am"
	"github.com/inkpulse/inkpulse/version"
)

func testConfig() *am.Config {
	cfg := &am.Config{}
	cfg.Database.Driver = am.DriverPostgres
	cfg.Database.DSN = "postgres://inkpulse:secret@db/inkpulse"
	cfg.Pulse.Workers = 4
	cfg.Actions.SendURL = "http://mailer/send"
	cfg.Actions.Token = "s3cret"
	cfg.Server.Port = 8787
	return cfg
}

func TestRenderConfig_Formats(t *testing.T) {
	cfg := testConfig()

	out, err := renderConfig(cfg, "toml")
	require.NoError(t, err)
	var fromTOML am.Config
	require.NoError(t, toml.Unmarshal([]byte(out), &fromTOML))
	assert.Equal(t, 4, fromTOML.Pulse.Workers)
	assert.Equal(t, "http://mailer/send", fromTOML.Actions.SendURL)

	out, err = renderConfig(cfg, "yaml")
	require.NoError(t, err)
	var fromYAML am.Config
	require.NoError(t, yaml.Unmarshal([]byte(out), &fromYAML))
	assert.Equal(t, 8787, fromYAML.Server.Port)

	out, err = renderConfig(cfg, "json")
	require.NoError(t, err)
	var fromJSON am.Config
	require.NoError(t, json.Unmarshal([]byte(out), &fromJSON))
	assert.Equal(t, am.DriverPostgres, fromJSON.Database.Driver)

	_, err = renderConfig(cfg, "ini")
	assert.Error(t, err)
}

func TestRenderConfig_RedactsSecrets(t *testing.T) {
	cfg := testConfig()
	for _, format := range []string{"toml", "yaml", "json"} {
		out, err := renderConfig(cfg, format)
		require.NoError(t, err)
		assert.NotContains(t, out, "s3cret", format)
		assert.NotContains(t, out, "secret@db", format)
	}
	assert.Equal(t, "s3cret", cfg.Actions.Token, "caller's config untouched")
}

func TestVersionCmd_JSON(t *testing.T) {
	var buf bytes.Buffer
	VersionCmd.SetOut(&buf)
	t.Cleanup(func() { VersionCmd.SetOut(nil) })
	require.NoError(t, VersionCmd.Flags().Set("json", "true"))
	t.Cleanup(func() { _ = VersionCmd.Flags().Set("json", "false") })

	require.NoError(t, VersionCmd.RunE(VersionCmd, nil))

	var info version.Info
	require.NoError(t, json.Unmarshal(buf.Bytes(), &info))
	assert.Equal(t, version.Get().GoVersion, info.GoVersion)
}
