// Command forge is the CLI driver for the engine: a thin boundary that
// parses flags, loads a rule-graph document, and calls build/run/test/
// clean, mapping every returned error to the documented exit code.
//
// Grounded on the teacher's cmd/scriptweaver/main.go + internal/cli/
// input.go, with flag's manual parsing replaced by github.com/spf13/cobra
// per the rest of the pack's CLI convention, and exit-code mapping
// delegated to forgeerr.ExitCode instead of a parallel CLI-local table.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/forgebuild/forge/internal/engine"
	"github.com/forgebuild/forge/internal/forgeerr"
	"github.com/forgebuild/forge/internal/graphfile"
	"github.com/forgebuild/forge/internal/metrics"
	"github.com/forgebuild/forge/internal/projectroot"
	"github.com/forgebuild/forge/internal/rule"
	"github.com/forgebuild/forge/internal/scheduler"
)

var (
	flagRulesFile  string
	flagTargets    []string
	flagComponents []string
	flagKeepGoing  bool
	flagMetrics    bool
)

func main() {
	root := &cobra.Command{
		Use:           "forge",
		Short:         "Forge: a content-addressed, parallel build orchestrator",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flagRulesFile, "rules", "", "path to a JSON or YAML rule-graph document")
	root.PersistentFlags().StringArrayVar(&flagTargets, "target", nil, "target to build/run/test (repeatable)")
	root.PersistentFlags().StringArrayVar(&flagComponents, "component", nil, "component to build/run/test (repeatable)")
	root.PersistentFlags().BoolVar(&flagKeepGoing, "keep-going", false, "cancel only a failed rule's dependents instead of the whole build")
	root.PersistentFlags().BoolVar(&flagMetrics, "metrics", false, "serve Prometheus metrics on :9090 for the duration of the command")

	root.AddCommand(buildCmd(), runCmd(), testCmd(), cleanCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCodeFor(err))
	}
}

func buildCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "build",
		Short: "build the selected targets/components",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, closeFn, err := openEngine()
			if err != nil {
				return err
			}
			defer closeFn()

			report, err := e.Build(cmd.Context(), flagTargets, flagComponents)
			if err != nil {
				return err
			}
			printReport(report.Report)
			if err := cmd.Context().Err(); err != nil {
				return forgeerr.New(forgeerr.KindCancelled, "", "build cancelled: %v", err)
			}
			if report.Failed {
				return forgeerr.New(forgeerr.KindCommandFailed, "", "build failed")
			}
			return nil
		},
	}
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "build then exec the produced binary",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, closeFn, err := openEngine()
			if err != nil {
				return err
			}
			defer closeFn()

			target, component, err := singleTargetComponent()
			if err != nil {
				return err
			}
			exit, err := e.Run(cmd.Context(), target, component)
			if err != nil {
				return err
			}
			os.Stdout.Write(exit.Stdout)
			os.Stderr.Write(exit.Stderr)
			if exit.ExitCode != 0 {
				os.Exit(exit.ExitCode)
			}
			return nil
		},
	}
}

func testCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test",
		Short: "build in test mode and run the resulting binary",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, closeFn, err := openEngine()
			if err != nil {
				return err
			}
			defer closeFn()

			target, component, err := singleTargetComponent()
			if err != nil {
				return err
			}
			report, err := e.Test(cmd.Context(), target, component)
			if err != nil {
				return err
			}
			if report.Exit != nil {
				os.Stdout.Write(report.Exit.Stdout)
				os.Stderr.Write(report.Exit.Stderr)
			}
			if !report.Passed {
				return forgeerr.New(forgeerr.KindCommandFailed, "", "test failed")
			}
			return nil
		},
	}
}

func cleanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clean",
		Short: "recursively delete forge-out/",
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := projectroot.Find(".")
			if err != nil {
				return err
			}
			e, err := engine.Open(root, engine.Options{})
			if err != nil {
				return err
			}
			defer e.Close()
			return e.Clean()
		},
	}
}

func singleTargetComponent() (string, string, error) {
	if len(flagTargets) != 1 || len(flagComponents) != 1 {
		return "", "", forgeerr.New(forgeerr.KindConfig, "", "run/test require exactly one --target and one --component")
	}
	return flagTargets[0], flagComponents[0], nil
}

// openEngine resolves the project root, opens the Engine, loads the rule
// document named by --rules (defaulting to <root>/rules.json), and returns
// a closer the caller must defer. Rule submission happens here, not inside
// the engine package, since intake format is a CLI-layer concern (§6: the
// engine's only contract is add_rule).
func openEngine() (*engine.Engine, func(), error) {
	root, err := projectroot.Find(".")
	if err != nil {
		return nil, nil, err
	}

	rec := metrics.New()
	e, err := engine.Open(root, engine.Options{
		Jobs:      scheduler.JobsFromEnv(),
		KeepGoing: flagKeepGoing,
		Metrics:   rec,
	})
	if err != nil {
		return nil, nil, err
	}

	if flagMetrics {
		serveMetrics(rec)
	}

	rulesPath := flagRulesFile
	if rulesPath == "" {
		rulesPath = filepath.Join(root, "rules.json")
	}
	if err := loadRules(rulesPath, e); err != nil {
		e.Close()
		return nil, nil, err
	}

	return e, func() { e.Close() }, nil
}

// serveMetrics starts a background /metrics listener for the lifetime of
// the process; it never blocks command execution and logs nothing on its
// own failure beyond what http.Serve's caller would see, since a metrics
// endpoint is diagnostic, not load-bearing.
func serveMetrics(rec *metrics.Recorder) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", rec.Handler())
	go func() { _ = http.ListenAndServe(":9090", mux) }()
}

func loadRules(path string, e *engine.Engine) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return forgeerr.New(forgeerr.KindIO, "", "reading rule document %q: %v", path, err)
	}

	b := rule.NewBuilder()
	loader := graphfile.LoadJSON
	if filepath.Ext(path) == ".yaml" || filepath.Ext(path) == ".yml" {
		loader = graphfile.LoadYAML
	}
	if err := loader(data, b); err != nil {
		return err
	}

	g, err := b.Build()
	if err != nil {
		return err
	}
	for _, r := range g.Rules() {
		if err := e.AddRule(*r); err != nil {
			return err
		}
	}
	return nil
}

func printReport(r *scheduler.Report) {
	for name, res := range r.Results {
		fmt.Fprintf(os.Stdout, "%-30s %s\n", name, res.Outcome)
	}
}

func exitCodeFor(err error) int {
	return forgeerr.ExitCode(err)
}
