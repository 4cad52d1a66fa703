package config

import (
	"fmt"
	"os"

	"github.com/PennBBL/GAMM-Tutorial/domain/dataset"
	"github.com/PennBBL/GAMM-Tutorial/domain/formula"
	"github.com/PennBBL/GAMM-Tutorial/internal/errors"
	"github.com/PennBBL/GAMM-Tutorial/internal/orchestrator"
	"github.com/PennBBL/GAMM-Tutorial/ports"

	"gopkg.in/yaml.v3"
)

// Manifest describes a batch of tasks over one data file.
type Manifest struct {
	Data    string `yaml:"data"`
	Sheet   string `yaml:"sheet,omitempty"`
	Group   string `yaml:"group"`
	Exclude string `yaml:"exclude,omitempty"`
	// PlotExcluded keeps excluded rows in the plotted trajectories.
	PlotExcluded bool             `yaml:"plot_excluded,omitempty"`
	Columns      []ColumnManifest `yaml:"columns"`
	Tasks        []TaskManifest   `yaml:"tasks"`
}

// ColumnManifest declares one input column.
type ColumnManifest struct {
	Name   string   `yaml:"name"`
	Kind   string   `yaml:"kind,omitempty"`
	Levels []string `yaml:"levels,omitempty"`
}

// TaskManifest is one model-testing task.
type TaskManifest struct {
	Label          string `yaml:"label"`
	Formula        string `yaml:"formula"`
	SmoothVar      string `yaml:"smooth_var,omitempty"`
	InteractionVar string `yaml:"interaction_var,omitempty"`
	ModelTest      bool   `yaml:"model_test,omitempty"`
	Bootstrap      bool   `yaml:"bootstrap,omitempty"`
	Derivatives    bool   `yaml:"derivatives,omitempty"`
}

// LoadManifest reads and validates a YAML task manifest.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read manifest %s", path)
	}
	return ParseManifest(data)
}

// ParseManifest decodes a manifest document.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, errors.InvalidInput(fmt.Sprintf("failed to parse manifest: %v", err))
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks the fields that cannot be defaulted.
func (m *Manifest) Validate() error {
	if m.Group == "" {
		return errors.InvalidInput("manifest needs a group column")
	}
	if len(m.Tasks) == 0 {
		return errors.InvalidInput("manifest has no tasks")
	}
	seen := make(map[string]bool, len(m.Tasks))
	for i, t := range m.Tasks {
		if t.Label == "" {
			return errors.InvalidInput(fmt.Sprintf("task %d has no label", i+1))
		}
		if seen[t.Label] {
			return errors.InvalidInput(fmt.Sprintf("duplicate task label %q", t.Label))
		}
		seen[t.Label] = true
		if t.Formula == "" {
			return errors.InvalidInput(fmt.Sprintf("task %q has no formula", t.Label))
		}
	}
	for _, c := range m.Columns {
		if _, err := dataset.ParseCovariateKind(c.Kind); err != nil && c.Kind != "bool" {
			return errors.InvalidInput(fmt.Sprintf("column %q: %v", c.Name, err))
		}
	}
	return nil
}

// Schema builds the reader schema. The group column is read as a factor
// and the exclusion column as a boolean flag, whether or not they are listed.
func (m *Manifest) Schema() (ports.Schema, error) {
	s := ports.Schema{Sheet: m.Sheet}
	listed := make(map[string]bool)
	for _, c := range m.Columns {
		listed[c.Name] = true
		if c.Kind == "bool" {
			s.Columns = append(s.Columns, ports.ColumnSpec{Name: c.Name, Bool: true})
			continue
		}
		kind, err := dataset.ParseCovariateKind(c.Kind)
		if err != nil {
			return ports.Schema{}, errors.InvalidInput(err.Error())
		}
		s.Columns = append(s.Columns, ports.ColumnSpec{Name: c.Name, Kind: kind, Levels: c.Levels})
	}
	if !listed[m.Group] {
		s.Columns = append(s.Columns, ports.ColumnSpec{Name: m.Group, Kind: dataset.Categorical})
	}
	if m.Exclude != "" && !listed[m.Exclude] {
		s.Columns = append(s.Columns, ports.ColumnSpec{Name: m.Exclude, Bool: true})
	}
	return s, nil
}

// OrchestratorTasks parses every formula into a runnable task.
func (m *Manifest) OrchestratorTasks() ([]orchestrator.Task, error) {
	tasks := make([]orchestrator.Task, 0, len(m.Tasks))
	for _, t := range m.Tasks {
		spec, err := formula.Parse(t.Formula)
		if err != nil {
			return nil, errors.Wrapf(err, "task %q", t.Label)
		}
		task := orchestrator.Task{
			Label:          t.Label,
			Spec:           spec,
			Group:          dataset.GroupKey(m.Group),
			SmoothVar:      t.SmoothVar,
			InteractionVar: t.InteractionVar,
			ModelTest:      t.ModelTest,
			Bootstrap:      t.Bootstrap,
			Derivatives:    t.Derivatives,
			PlotExcluded:   m.PlotExcluded,
		}
		if m.Exclude != "" {
			task.Exclude = dataset.ExcludeWhere(m.Exclude)
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}
