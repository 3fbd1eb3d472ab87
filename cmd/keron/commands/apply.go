package commands

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/keronhq/keron/internal/applier"
	"github.com/keronhq/keron/internal/discovery"
	"github.com/keronhq/keron/internal/evaluator"
	"github.com/keronhq/keron/internal/evaluator/secret"
	"github.com/keronhq/keron/internal/graph"
	"github.com/keronhq/keron/internal/kerr"
	"github.com/keronhq/keron/internal/manifest"
	"github.com/keronhq/keron/internal/planner"
	"github.com/keronhq/keron/internal/planner/pkgmgr"
	"github.com/keronhq/keron/internal/policy"
	"github.com/keronhq/keron/internal/report"
	"github.com/keronhq/keron/internal/source"
	"github.com/keronhq/keron/internal/telemetry"
)

func newApplyCommand(exitCode *int) *cobra.Command {
	var (
		execute      bool
		format       string
		color        string
		verbose      bool
		noHints      bool
		policyFile   string
		pkgmgrConfig string
		page         bool
	)

	cmd := &cobra.Command{
		Use:   "apply <source>",
		Short: "Plan (and optionally apply) a manifest source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			*exitCode = runApply(cmd.Context(), args[0], applyFlags{
				execute:      execute,
				format:       report.Format(format),
				color:        report.Color(color),
				verbose:      verbose,
				noHints:      noHints,
				policyFile:   policyFile,
				pkgmgrConfig: pkgmgrConfig,
				page:         page,
			})
			return nil
		},
	}

	cmd.Flags().BoolVar(&execute, "execute", false, "apply the plan instead of a dry run")
	cmd.Flags().StringVar(&format, "format", "text", "output format: text|json")
	cmd.Flags().StringVar(&color, "color", "auto", "color mode: auto|always|never")
	cmd.Flags().BoolVar(&verbose, "verbose", false, "enable verbose logging and stage tracing")
	cmd.Flags().BoolVar(&noHints, "no-hints", false, "suppress follow-up hints in text output")
	cmd.Flags().StringVar(&policyFile, "policy-file", "", "path to an additional .rego policy")
	cmd.Flags().StringVar(&pkgmgrConfig, "pkgmgr-config", "", "path to a YAML file declaring additional package-manager adapters")
	cmd.Flags().BoolVar(&page, "page", true, "page text output through $PAGER when stdout is a TTY")

	return cmd
}

type applyFlags struct {
	execute      bool
	format       report.Format
	color        report.Color
	verbose      bool
	noHints      bool
	policyFile   string
	pkgmgrConfig string
	page         bool
}

// runApply drives C1 -> C2 -> C3 -> C4 -> C5 -> (if execute) C6 and
// returns the process exit code per the CLI's exit-code table.
func runApply(ctx context.Context, src string, flags applyFlags) int {
	logger := telemetry.NewLogger(flags.verbose, report.ResolveColor(flags.color, telemetry.StderrIsTTY()))
	tracer, err := telemetry.NewTracer(flags.verbose)
	if err != nil {
		logger.Error().Err(err).Msg("failed to initialize tracer, continuing without tracing")
		tracer, _ = telemetry.NewTracer(false)
	}
	defer tracer.Shutdown(ctx)

	resolver := source.New(telemetry.WithComponent(logger, "source"))
	resolved, err := traced(ctx, tracer, "source", func(ctx context.Context) (*source.Resolved, error) {
		return resolver.Resolve(ctx, src)
	})
	if err != nil {
		return failPipeline(logger, "source", err)
	}
	defer resolved.Cleanup()

	discoverer := discovery.New(telemetry.WithComponent(logger, "discovery"))
	paths, err := traced(ctx, tracer, "discovery", func(context.Context) ([]string, error) {
		return discoverer.Discover(resolved.Root)
	})
	if err != nil {
		return failPipeline(logger, "discovery", err)
	}

	known := make(evaluator.Known, len(paths))
	for _, p := range paths {
		known[p] = true
	}

	eval := evaluator.New(secret.NewRegistry(), telemetry.WithComponent(logger, "evaluator"))
	manifests, err := traced(ctx, tracer, "evaluate", func(context.Context) ([]*manifest.Manifest, error) {
		var out []*manifest.Manifest
		for _, p := range paths {
			m, err := eval.Evaluate(p, known)
			if err != nil {
				return nil, err
			}
			out = append(out, m)
		}
		return out, nil
	})
	if err != nil {
		return failPipeline(logger, "evaluate", err)
	}

	builder := graph.New(telemetry.WithComponent(logger, "graph"))
	ordered, err := traced(ctx, tracer, "graph", func(context.Context) ([]*manifest.Manifest, error) {
		return builder.Build(manifests)
	})
	if err != nil {
		return failPipeline(logger, "graph", err)
	}

	registry := pkgmgr.NewRegistry()
	if flags.pkgmgrConfig != "" {
		if err := registry.LoadExtensions(flags.pkgmgrConfig); err != nil {
			return failPipeline(logger, "plan", fmt.Errorf("loading package-manager extensions: %w", err))
		}
	}

	plan, err := traced(ctx, tracer, "plan", func(ctx context.Context) (*manifest.Plan, error) {
		p := planner.New(registry, telemetry.WithComponent(logger, "planner"))
		return p.Plan(ctx, ordered)
	})
	if err != nil {
		return failPipeline(logger, "plan", err)
	}

	guardrail := policy.New(logger)
	if flags.policyFile != "" {
		policyText, err := os.ReadFile(flags.policyFile)
		if err != nil {
			return failPipeline(logger, "plan", fmt.Errorf("reading policy file: %w", err))
		}
		if err := guardrail.LoadFile(filepath.Base(flags.policyFile), string(policyText)); err != nil {
			return failPipeline(logger, "plan", err)
		}
	}
	if err := guardrail.Apply(ctx, plan); err != nil {
		return failPipeline(logger, "plan", err)
	}

	metrics := telemetry.NewMetrics()
	metrics.ObservePlan(plan)
	stdoutIsTTY := telemetry.StdoutIsTTY()
	opts := report.Options{Format: flags.format, Color: report.ResolveColor(flags.color, stdoutIsTTY), NoHints: flags.noHints, Metrics: metrics.Snapshot()}
	shouldPage := flags.page && stdoutIsTTY && flags.format == report.FormatText

	if !flags.execute {
		var buf bytes.Buffer
		if err := report.RenderPlan(&buf, plan, opts); err != nil {
			logger.Error().Err(err).Msg("failed to render plan")
			return 1
		}
		if err := report.Page(os.Stdout, shouldPage, buf.String()); err != nil {
			logger.Error().Err(err).Msg("failed to page plan output")
			return 1
		}
		if plan.HasDrift() {
			return 2
		}
		return 0
	}

	a := applier.New(registry, telemetry.WithComponent(logger, "applier"))
	result, _ := traced(ctx, tracer, "apply", func(ctx context.Context) (*manifest.ApplyResult, error) {
		return a.Apply(ctx, plan), nil
	})
	metrics.ObserveApply(result)
	opts.Metrics = metrics.Snapshot()

	var buf bytes.Buffer
	if err := report.RenderApply(&buf, plan, result, opts); err != nil {
		logger.Error().Err(err).Msg("failed to render apply result")
		return 1
	}
	if err := report.Page(os.Stdout, shouldPage, buf.String()); err != nil {
		logger.Error().Err(err).Msg("failed to page apply output")
		return 1
	}

	for _, outcome := range result.Outcomes {
		if outcome.Status == manifest.OutcomeFailed {
			return 1
		}
	}
	if result.Halted {
		return 1
	}
	return 0
}

func failPipeline(logger zerolog.Logger, stage string, err error) int {
	event := logger.Error().Str("stage", stage)
	if ke, ok := kerr.As(err); ok {
		event = event.Str("class", string(ke.Class)).Str("code", ke.Code)
	}
	event.Err(err).Msg("pipeline stage failed")
	return 1
}

func traced[T any](ctx context.Context, tracer *telemetry.Tracer, stage string, fn func(context.Context) (T, error)) (T, error) {
	spanCtx, span := tracer.StartStage(ctx, stage)
	result, err := fn(spanCtx)
	telemetry.End(span, err)
	return result, err
}
