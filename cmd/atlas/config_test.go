// cmd/atlas/config_test.go
package main

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Corphon/ChronoAtlas/internal/config"
)

func TestConfigInit_WritesLoadableDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "atlas.yaml")
	var out bytes.Buffer
	configInitCmd.SetOut(&out)
	t.Cleanup(func() { forceOverwrite = false })

	require.NoError(t, runConfigInit(configInitCmd, []string{path}))
	assert.Contains(t, out.String(), path)

	cfg, err := config.LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, config.Default().Port, cfg.Port)
	assert.Empty(t, cfg.LLM.APIKey)

	// 已存在时需要 --force
	assert.Error(t, runConfigInit(configInitCmd, []string{path}))

	forceOverwrite = true
	assert.NoError(t, runConfigInit(configInitCmd, []string{path}))
}
