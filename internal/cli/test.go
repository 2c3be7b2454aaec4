package cli

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/recordkit/internal/config"
	"github.com/roach88/recordkit/internal/harness"
)

// ErrCodeTestFailed is reported when at least one scenario fails.
const ErrCodeTestFailed = "E_TEST_FAILED"

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	Update bool   // regenerate golden files
	Filter string // scenario filter (glob pattern)
}

// Golden file states reported per scenario.
const (
	GoldenMatched  = "matched"
	GoldenUpdated  = "updated"
	GoldenMissing  = "missing"
	GoldenMismatch = "mismatch"
)

// ScenarioResult holds the result of a single scenario execution.
type ScenarioResult struct {
	Name    string   `json:"name"`
	File    string   `json:"file"`
	Backend string   `json:"backend,omitempty"`
	Steps   int      `json:"steps"`
	Golden  string   `json:"golden,omitempty"`
	Pass    bool     `json:"pass"`
	Errors  []string `json:"errors,omitempty"`
}

func (r *ScenarioResult) fail(format string, args ...any) {
	r.Pass = false
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

// TestResult holds the overall test result.
type TestResult struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
}

// String renders one line per scenario and a summary.
func (r TestResult) String() string {
	if r.Total == 0 {
		return "No scenarios found."
	}
	var b strings.Builder
	for _, s := range r.Scenarios {
		if s.Pass {
			fmt.Fprintf(&b, "✓ %s (%s, %d steps", s.Name, s.Backend, s.Steps)
			if s.Golden == GoldenUpdated {
				b.WriteString(", golden updated")
			}
			b.WriteString(")\n")
			continue
		}
		fmt.Fprintf(&b, "✗ %s\n", s.Name)
		for _, e := range s.Errors {
			fmt.Fprintf(&b, "  %s\n", e)
		}
	}
	fmt.Fprintf(&b, "\nTest Summary: %d passed, %d failed, %d total", r.Passed, r.Failed, r.Total)
	if r.Failed == 0 {
		b.WriteString("\n✓ All scenarios passed")
	}
	return b.String()
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test <scenarios-dir>",
		Short: "Run adapter scenarios",
		Long: `Run adapter scenarios using the harness.

Every scenario file under the directory runs against a fresh backend with
a fake clock, checking expected outcomes and assertions. When
<scenarios-dir>/golden/<name>.golden exists the trace must match it.

--backend memory|sqlite runs every scenario against that backend instead
of the one the scenario names.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid paths, etc.)

Examples:
  recordkit test ./scenarios
  recordkit test ./scenarios --filter "ttl_*"
  recordkit test ./scenarios --backend sqlite
  recordkit test ./scenarios --update
  recordkit test ./scenarios --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTests(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Update, "update", false, "regenerate golden files")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by glob pattern")

	return cmd
}

func runTests(opts *TestOptions, scenariosDir string, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)

	if _, err := os.Stat(scenariosDir); os.IsNotExist(err) {
		return NewExitError(ExitCommandError, fmt.Sprintf("scenarios directory not found: %s", scenariosDir))
	}

	var runOpts []harness.Option
	switch opts.Backend {
	case "":
	case config.BackendMemory, config.BackendSQLite:
		runOpts = append(runOpts, harness.WithBackend(opts.Backend))
	default:
		return NewExitError(ExitCommandError, fmt.Sprintf("scenarios run on memory or sqlite, not %q", opts.Backend))
	}
	if opts.Verbose {
		runOpts = append(runOpts, harness.WithLogger(newLogger(opts.RootOptions, cmd.ErrOrStderr())))
	}

	files, err := findScenarioFiles(scenariosDir, opts.Filter)
	if err != nil {
		return fmt.Errorf("failed to find scenarios: %w", err)
	}

	result := TestResult{Scenarios: make([]ScenarioResult, 0, len(files)), Total: len(files)}
	for _, file := range files {
		f.VerboseLog("running %s", file)
		sr := runScenario(file, opts, runOpts)
		result.Scenarios = append(result.Scenarios, sr)
		if sr.Pass {
			result.Passed++
		} else {
			result.Failed++
		}
	}

	if result.Failed == 0 {
		return f.Success(result)
	}

	message := fmt.Sprintf("%d scenario(s) failed", result.Failed)
	if f.Format == "json" {
		if err := f.Error(ErrCodeTestFailed, message, result); err != nil {
			return err
		}
	} else {
		fmt.Fprintln(f.Writer, result)
	}
	return NewExitError(ExitFailure, message)
}

// findScenarioFiles finds all YAML scenario files in a directory.
// Golden directories are skipped.
func findScenarioFiles(dir string, filter string) ([]string, error) {
	var files []string

	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && d.Name() == "golden" {
				return filepath.SkipDir
			}
			return nil
		}

		ext := filepath.Ext(path)
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}
		if filter != "" {
			matched, err := filepath.Match(filter, strings.TrimSuffix(d.Name(), ext))
			if err != nil {
				return fmt.Errorf("invalid filter pattern: %w", err)
			}
			if !matched {
				return nil
			}
		}

		files = append(files, path)
		return nil
	})

	return files, err
}

// runScenario loads and runs one scenario file, then checks its golden
// trace.
func runScenario(file string, opts *TestOptions, runOpts []harness.Option) ScenarioResult {
	sr := ScenarioResult{Name: filepath.Base(file), File: file, Pass: true}

	scenario, err := harness.LoadScenario(file)
	if err != nil {
		sr.fail("load error: %v", err)
		return sr
	}
	sr.Name = scenario.Name
	sr.Backend = scenario.Backend
	if opts.Backend != "" {
		sr.Backend = opts.Backend
	}
	if sr.Backend == "" {
		sr.Backend = config.BackendMemory
	}

	result, err := harness.Run(scenario, runOpts...)
	if err != nil {
		sr.fail("execution error: %v", err)
		return sr
	}
	sr.Steps = len(result.Trace)
	for _, e := range result.Errors {
		sr.fail("%s", e)
	}

	trace, err := harness.MarshalTrace(scenario.Name, result)
	if err != nil {
		sr.fail("marshal trace: %v", err)
		return sr
	}
	sr.Golden, err = checkGolden(goldenFilePath(file), trace, opts.Update)
	switch {
	case err != nil:
		sr.fail("golden file: %v", err)
	case sr.Golden == GoldenMismatch:
		sr.fail("trace does not match golden file (run with --update to regenerate)")
	}
	return sr
}

// goldenFilePath returns the path to the golden file for a scenario.
func goldenFilePath(scenarioFile string) string {
	base := filepath.Base(scenarioFile)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(filepath.Dir(scenarioFile), "golden", name+".golden")
}

// checkGolden compares trace with the golden file at path, or writes it
// when update is set. A missing golden file is not an error.
func checkGolden(path string, trace []byte, update bool) (string, error) {
	if update {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return "", fmt.Errorf("create golden directory: %w", err)
		}
		if err := os.WriteFile(path, trace, 0644); err != nil {
			return "", fmt.Errorf("write: %w", err)
		}
		return GoldenUpdated, nil
	}

	golden, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return GoldenMissing, nil
	}
	if err != nil {
		return "", fmt.Errorf("read: %w", err)
	}
	if !bytes.Equal(golden, trace) {
		return GoldenMismatch, nil
	}
	return GoldenMatched, nil
}
