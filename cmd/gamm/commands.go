package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/PennBBL/GAMM-Tutorial/app"
	"github.com/PennBBL/GAMM-Tutorial/domain/dataset"
	"github.com/PennBBL/GAMM-Tutorial/domain/formula"
	"github.com/PennBBL/GAMM-Tutorial/internal/config"
	"github.com/PennBBL/GAMM-Tutorial/internal/container"
	"github.com/PennBBL/GAMM-Tutorial/internal/errors"
	"github.com/PennBBL/GAMM-Tutorial/internal/orchestrator"
	"github.com/PennBBL/GAMM-Tutorial/internal/report"

	"github.com/spf13/cobra"
)

// modelFlags describe one model on the command line.
type modelFlags struct {
	data           string
	sheet          string
	formula        string
	group          string
	exclude        string
	plotExcluded   bool
	factors        []string
	ordered        []string
	label          string
	smoothVar      string
	interactionVar string
	modelTest      bool
	bootstrap      bool
	derivatives    bool
}

func (f *modelFlags) register(cmd *cobra.Command, task bool) {
	cmd.Flags().StringVarP(&f.data, "data", "d", "", "Data file (.xlsx or .csv, default GAMM_DATA_FILE)")
	cmd.Flags().StringVar(&f.sheet, "sheet", "", "Worksheet name (default first sheet)")
	cmd.Flags().StringVarP(&f.formula, "formula", "f", "", `Model formula, e.g. "y ~ sex + s(age, k=4, fx=TRUE)"`)
	cmd.Flags().StringVarP(&f.group, "group", "g", "", "Column identifying the subject for the random intercept")
	cmd.Flags().StringVar(&f.exclude, "exclude", "", "Boolean column; rows where it is true are dropped")
	cmd.Flags().StringSliceVar(&f.factors, "factor", nil, "Column read as an unordered factor (repeatable)")
	cmd.Flags().StringArrayVar(&f.ordered, "ordered", nil, "Ordered factor with its levels, e.g. oSex=female,male (repeatable)")
	_ = cmd.MarkFlagRequired("formula")
	_ = cmd.MarkFlagRequired("group")
	if !task {
		return
	}
	cmd.Flags().BoolVar(&f.plotExcluded, "plot-excluded", false, "Draw excluded rows in the trajectory plot")
	cmd.Flags().StringVar(&f.label, "label", "model", "Task label used in reports")
	cmd.Flags().StringVar(&f.smoothVar, "smooth-var", "", "Covariate whose derivative is analyzed")
	cmd.Flags().StringVar(&f.interactionVar, "interaction-var", "", "Variable tested by the last term")
	cmd.Flags().BoolVar(&f.modelTest, "model-test", false, "Test whether the last term is needed")
	cmd.Flags().BoolVar(&f.bootstrap, "bootstrap", false, "Use the parametric bootstrap for the model test")
	cmd.Flags().BoolVar(&f.derivatives, "derivatives", false, "Find regions of significant change in --smooth-var")
}

// manifest turns the flags into a one-task manifest. Formula variables not
// named as factors are read as continuous columns.
func (f *modelFlags) manifest(defaultData string) (*config.Manifest, error) {
	spec, err := formula.Parse(f.formula)
	if err != nil {
		return nil, err
	}
	m := &config.Manifest{
		Data:         f.data,
		Sheet:        f.sheet,
		Group:        f.group,
		Exclude:      f.exclude,
		PlotExcluded: f.plotExcluded,
		Tasks: []config.TaskManifest{{
			Label:          f.label,
			Formula:        f.formula,
			SmoothVar:      f.smoothVar,
			InteractionVar: f.interactionVar,
			ModelTest:      f.modelTest,
			Bootstrap:      f.bootstrap,
			Derivatives:    f.derivatives,
		}},
	}
	if m.Data == "" {
		m.Data = defaultData
	}
	if m.Data == "" {
		return nil, errors.InvalidInput("no data file given (use --data or GAMM_DATA_FILE)")
	}
	if m.Tasks[0].Label == "" {
		m.Tasks[0].Label = "model"
	}

	kinds := make(map[string]config.ColumnManifest)
	for _, name := range f.factors {
		kinds[name] = config.ColumnManifest{Name: name, Kind: dataset.Categorical.String()}
	}
	for _, o := range f.ordered {
		name, levels, ok := strings.Cut(o, "=")
		if !ok || name == "" || levels == "" {
			return nil, errors.InvalidInput(fmt.Sprintf("--ordered %q: want name=level1,level2", o))
		}
		kinds[name] = config.ColumnManifest{Name: name, Kind: dataset.OrderedCategorical.String(), Levels: strings.Split(levels, ",")}
	}
	for _, v := range append([]string{spec.Response}, spec.Variables()...) {
		col, ok := kinds[v]
		if !ok {
			col = config.ColumnManifest{Name: v, Kind: dataset.Continuous.String()}
		}
		m.Columns = append(m.Columns, col)
		delete(kinds, v)
	}
	for _, name := range sortedKeys(kinds) {
		m.Columns = append(m.Columns, kinds[name])
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func newFitCmd(root *rootOptions) *cobra.Command {
	flags := &modelFlags{}
	cmd := &cobra.Command{
		Use:   "fit",
		Short: "Fit one model and write its report",
		Long: `Fit a single model formula, optionally test its last term and find
regions of significant change.

Example:
  gamm fit -d long.xlsx -g bblid --ordered oSex=female,male \
    -f "thickness ~ oSex + s(age, k=4, fx=TRUE) + s(age, by=oSex, k=4, fx=TRUE)" \
    --interaction-var oSex --model-test --bootstrap --smooth-var age --derivatives`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newContainer(root)
			if err != nil {
				return err
			}
			m, err := flags.manifest(c.Config.Paths.DataFile)
			if err != nil {
				return err
			}
			return runManifest(cmd.Context(), c, m, outputDir(root, c), cmd.OutOrStdout())
		},
	}
	flags.register(cmd, true)
	return cmd
}

func newRunCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run [manifest.yaml]",
		Short: "Run every task of a YAML manifest",
		Long: `Run a batch of tasks described by a YAML manifest. A relative data
path is resolved against the manifest's directory.

Example:
  gamm run regions.yaml -o results -j 4`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newContainer(root)
			if err != nil {
				return err
			}
			m, err := config.LoadManifest(args[0])
			if err != nil {
				return err
			}
			if m.Data == "" {
				m.Data = c.Config.Paths.DataFile
			} else if !filepath.IsAbs(m.Data) {
				m.Data = filepath.Join(filepath.Dir(args[0]), m.Data)
			}
			return runManifest(cmd.Context(), c, m, outputDir(root, c), cmd.OutOrStdout())
		},
	}
}

func newConcurvityCmd(root *rootOptions) *cobra.Command {
	flags := &modelFlags{}
	cmd := &cobra.Command{
		Use:   "concurvity",
		Short: "Fit one model and print its concurvity matrices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newContainer(root)
			if err != nil {
				return err
			}
			m, err := flags.manifest(c.Config.Paths.DataFile)
			if err != nil {
				return err
			}
			return runConcurvity(cmd.Context(), c, m, cmd.OutOrStdout())
		},
	}
	flags.register(cmd, false)
	return cmd
}

func newContainer(root *rootOptions) (*container.Container, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return container.New(cfg, root.jobs)
}

func outputDir(root *rootOptions, c *container.Container) string {
	if root.output != "" {
		return root.output
	}
	return c.Config.Paths.OutputDir
}

func loadData(ctx context.Context, c *container.Container, m *config.Manifest) (*dataset.Dataset, []orchestrator.Task, error) {
	schema, err := m.Schema()
	if err != nil {
		return nil, nil, err
	}
	tasks, err := m.OrchestratorTasks()
	if err != nil {
		return nil, nil, err
	}
	data, err := c.Reader.Read(ctx, m.Data, schema)
	if err != nil {
		return nil, nil, err
	}
	return data, tasks, nil
}

func runManifest(ctx context.Context, c *container.Container, m *config.Manifest, dir string, out io.Writer) error {
	data, tasks, err := loadData(ctx, c, m)
	if err != nil {
		return err
	}
	batch, err := c.Analysis.RunAll(ctx, data, tasks)
	if err != nil {
		return err
	}
	for _, res := range batch.Results() {
		if _, err := out.Write(report.Markdown(res, "")); err != nil {
			return err
		}
	}
	art, err := c.Analysis.WriteReports(ctx, batch, dir, "GAMM analysis of "+filepath.Base(m.Data))
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Report: %s\n", art.HTML)
	if art.Workbook != "" {
		fmt.Fprintf(out, "Tables: %s\n", art.Workbook)
	}
	return batchError(batch)
}

func runConcurvity(ctx context.Context, c *container.Container, m *config.Manifest, out io.Writer) error {
	data, tasks, err := loadData(ctx, c, m)
	if err != nil {
		return err
	}
	task := tasks[0]
	if task.Exclude != nil {
		data = data.Without(task.Exclude)
	}
	fm, err := c.Fitter.Fit(ctx, task.Spec, data, task.Group)
	if err != nil {
		return err
	}
	conc, err := c.Fitter.Concurvity(ctx, fm)
	if err != nil {
		return errors.Wrapf(err, "concurvity of %s", fm.Spec)
	}
	fmt.Fprintf(out, "%s\n\n%s\nWorst case:\n\n%s\nObserved:\n\n%s",
		fm.Spec, report.RegressionTable(fm), report.ConcurvityTable(conc, false), report.ConcurvityTable(conc, true))
	return nil
}

// batchError reports failed tasks after the successful ones were written.
func batchError(batch *app.BatchResult) error {
	failed := batch.Failed()
	if len(failed) == 0 {
		return nil
	}
	labels := make([]string, len(failed))
	for i, o := range failed {
		labels[i] = o.Task.Label
		fmt.Fprintf(os.Stderr, "task %q: %v\n", o.Task.Label, o.Err)
	}
	return errors.Wrapf(failed[0].Err, "%d of %d tasks failed: %s",
		len(failed), len(batch.Outcomes), strings.Join(labels, ", "))
}

func sortedKeys(m map[string]config.ColumnManifest) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
