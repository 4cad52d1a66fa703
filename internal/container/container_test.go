package container

import (
	"testing"

	"github.com/PennBBL/GAMM-Tutorial/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Setenv("GAMM_SIM_COUNT", "99")
	t.Setenv("GAMM_PLOT_WIDTH", "640")
	cfg, err := config.Load()
	require.NoError(t, err)

	c, err := New(cfg, 2)
	require.NoError(t, err)

	assert.NotNil(t, c.Fitter)
	assert.NotNil(t, c.Mixed)
	assert.NotNil(t, c.Reader)
	assert.NotNil(t, c.Renderer)
	assert.NotNil(t, c.Analysis)
	assert.Equal(t, 99, c.Orchestrator.Config().SimCount)
}

func TestNewRequiresConfig(t *testing.T) {
	_, err := New(nil, 1)
	assert.Error(t, err)
}
