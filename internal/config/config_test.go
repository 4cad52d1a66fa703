package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/PennBBL/GAMM-Tutorial/domain/core"
	"github.com/PennBBL/GAMM-Tutorial/domain/dataset"
	"github.com/PennBBL/GAMM-Tutorial/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 0.05, cfg.Stats.Alpha)
	assert.Equal(t, 4.0, cfg.Stats.BonferroniDivisor)
	assert.Equal(t, 1000, cfg.Stats.SimCount)
	assert.Equal(t, 1000, cfg.Stats.GridSize)
	assert.Equal(t, 2.0, cfg.Stats.CIMultiplier)
	assert.Equal(t, "./output", cfg.Paths.OutputDir)
	assert.Equal(t, 800, cfg.Plot.Width)

	oc := cfg.Orchestrator()
	assert.Equal(t, cfg.Stats.SimCount, oc.SimCount)
	assert.Equal(t, cfg.Stats.BonferroniDivisor, oc.BonferroniDivisor)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("GAMM_SIM_COUNT", "250")
	t.Setenv("GAMM_SEED", "77")
	t.Setenv("GAMM_BONFERRONI_DIVISOR", "2")
	t.Setenv("GAMM_FONT_SIZE", "18")
	t.Setenv("GAMM_OUTPUT_DIR", "/tmp/gamm")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 250, cfg.Stats.SimCount)
	assert.Equal(t, uint64(77), cfg.Stats.Seed)
	assert.Equal(t, 2.0, cfg.Stats.BonferroniDivisor)
	assert.Equal(t, 18.0, cfg.Plot.FontSize)
	assert.Equal(t, "/tmp/gamm", cfg.Paths.OutputDir)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"GAMM_ALPHA", "1.5"},
		{"GAMM_BONFERRONI_DIVISOR", "0.5"},
		{"GAMM_SIM_COUNT", "-3"},
		{"GAMM_GRID_SIZE", "1"},
		{"GAMM_CI_MULTIPLIER", "-2"},
		{"GAMM_PLOT_WIDTH", "10"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			require.Error(t, err)
			assert.Equal(t, errors.CodeConfigInvalid, errors.GetCode(err))
		})
	}
}

const manifestYAML = `
data: data/regions.xlsx
sheet: long
group: subject
exclude: exclude
plot_excluded: true
columns:
  - name: age
  - name: sex
    kind: categorical
  - name: oSex
    kind: ordered
    levels: [female, male]
  - name: thickness
tasks:
  - label: frontal
    formula: thickness ~ oSex + s(age, k = 4, fx = TRUE) + s(age, by = oSex, k = 4, fx = TRUE)
    smooth_var: age
    interaction_var: oSex
    model_test: true
    bootstrap: true
    derivatives: true
  - label: parietal
    formula: thickness ~ sex + s(age, k = 4)
`

func TestParseManifest(t *testing.T) {
	m, err := ParseManifest([]byte(manifestYAML))
	require.NoError(t, err)
	assert.Equal(t, "data/regions.xlsx", m.Data)
	require.Len(t, m.Tasks, 2)

	schema, err := m.Schema()
	require.NoError(t, err)
	assert.Equal(t, "long", schema.Sheet)
	require.Len(t, schema.Columns, 6)
	assert.Equal(t, dataset.OrderedCategorical, schema.Columns[2].Kind)
	assert.Equal(t, []string{"female", "male"}, schema.Columns[2].Levels)
	assert.Equal(t, "subject", schema.Columns[4].Name)
	assert.Equal(t, dataset.Categorical, schema.Columns[4].Kind)
	assert.True(t, schema.Columns[5].Bool)

	tasks, err := m.OrchestratorTasks()
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, "frontal", tasks[0].Label)
	assert.Len(t, tasks[0].Spec.Terms, 3)
	assert.True(t, tasks[0].Bootstrap)
	assert.Equal(t, dataset.GroupKey("subject"), tasks[0].Group)
	assert.NotNil(t, tasks[0].Exclude)
	assert.True(t, tasks[0].PlotExcluded)
	assert.True(t, tasks[1].PlotExcluded)
	require.NoError(t, tasks[0].Validate())
	assert.False(t, tasks[1].ModelTest)
}

func TestParseManifestErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"not yaml", "tasks: [unclosed"},
		{"no group", "tasks:\n  - label: a\n    formula: y ~ x\n"},
		{"no tasks", "group: subject\n"},
		{"duplicate label", "group: s\ntasks:\n  - {label: a, formula: y ~ x}\n  - {label: a, formula: y ~ z}\n"},
		{"missing formula", "group: s\ntasks:\n  - {label: a}\n"},
		{"bad kind", "group: s\ncolumns:\n  - {name: x, kind: complex}\ntasks:\n  - {label: a, formula: y ~ x}\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseManifest([]byte(tt.doc))
			require.Error(t, err)
			assert.Equal(t, errors.CodeInvalidInput, errors.GetCode(err))
		})
	}
}

func TestOrchestratorTasksBadFormula(t *testing.T) {
	m, err := ParseManifest([]byte("group: s\ntasks:\n  - {label: a, formula: \"y ~ s(\"}\n"))
	require.NoError(t, err)
	_, err = m.OrchestratorTasks()
	require.Error(t, err)
	assert.True(t, core.IsInvalidSpecError(err))
}

func TestLoadManifestFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.yaml")
	require.NoError(t, os.WriteFile(path, []byte(manifestYAML), 0o644))
	m, err := LoadManifest(path)
	require.NoError(t, err)
	assert.Len(t, m.Tasks, 2)

	_, err = LoadManifest(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
