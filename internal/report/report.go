// Package report renders a Plan or ApplyResult as aligned plain text or
// JSON, redacting any sensitive template variable before it is ever
// serialized, and pages long text output to a TTY.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/keronhq/keron/internal/manifest"
)

const redacted = "<redacted>"

// Format selects the reporter's output encoding.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// Color selects whether text output carries ANSI color codes.
type Color string

const (
	ColorAuto   Color = "auto"
	ColorAlways Color = "always"
	ColorNever  Color = "never"
)

// ResolveColor decides whether color is actually used, given the
// --color flag value and whether stderr/stdout is a TTY.
func ResolveColor(c Color, isTTY bool) bool {
	switch c {
	case ColorAlways:
		return true
	case ColorNever:
		return false
	default:
		return isTTY
	}
}

// Options controls rendering.
type Options struct {
	Format  Format
	Color   bool
	NoHints bool
	Metrics map[string]float64
}

// RenderPlan writes plan in the requested format to w.
func RenderPlan(w io.Writer, plan *manifest.Plan, opts Options) error {
	if opts.Format == FormatJSON {
		return renderPlanJSON(w, plan, opts)
	}
	return renderPlanText(w, plan, opts)
}

// RenderApply writes the apply outcome (plan + result) in the requested
// format to w.
func RenderApply(w io.Writer, plan *manifest.Plan, result *manifest.ApplyResult, opts Options) error {
	if opts.Format == FormatJSON {
		return renderApplyJSON(w, plan, result, opts)
	}
	return renderApplyText(w, plan, result, opts)
}

type jsonOp struct {
	Seq            uint64 `json:"seq"`
	Origin         string `json:"origin"`
	Kind           string `json:"kind"`
	Classification string `json:"classification"`
	Reason         string `json:"reason,omitempty"`
	Detail         string `json:"detail,omitempty"`
	PackageName    string `json:"package_name,omitempty"`
	Manager        string `json:"manager,omitempty"`
	Dest           string `json:"dest,omitempty"`
	Vars           map[string]string `json:"vars,omitempty"`
}

func toJSONOp(op manifest.PlanOp) jsonOp {
	j := jsonOp{
		Seq:            op.Seq,
		Origin:         string(op.Origin),
		Kind:           string(op.Kind),
		Classification: string(op.Classification),
		Reason:         string(op.Reason),
		Detail:         op.Detail,
		PackageName:    op.PackageName,
		Manager:        op.Manager,
	}
	switch op.Kind {
	case manifest.OpKindLink:
		if op.Link != nil {
			j.Dest = op.Link.Dest
		}
	case manifest.OpKindTemplate:
		if op.Template != nil {
			j.Dest = op.Template.Dest
			j.Vars = redactVars(op.Template.Vars)
		}
	}
	return j
}

func redactVars(vars map[string]manifest.RenderedValue) map[string]string {
	if len(vars) == 0 {
		return nil
	}
	out := make(map[string]string, len(vars))
	for k, v := range vars {
		if v.Sensitive {
			out[k] = redacted
		} else {
			out[k] = v.Value
		}
	}
	return out
}

func renderPlanJSON(w io.Writer, plan *manifest.Plan, opts Options) error {
	doc := struct {
		ID      string                 `json:"id"`
		Ops     []jsonOp               `json:"ops"`
		Summary map[string]int         `json:"summary"`
		Metrics map[string]float64     `json:"metrics,omitempty"`
	}{
		ID:      plan.ID,
		Summary: plan.Summary.MarshalSummary(),
		Metrics: opts.Metrics,
	}
	for _, op := range plan.Ops {
		doc.Ops = append(doc.Ops, toJSONOp(op))
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

func renderApplyJSON(w io.Writer, plan *manifest.Plan, result *manifest.ApplyResult, opts Options) error {
	doc := struct {
		ID       string             `json:"id"`
		Ops      []jsonOp           `json:"ops"`
		Summary  map[string]int     `json:"summary"`
		Outcomes []manifest.ApplyOutcome `json:"outcomes"`
		Halted   bool               `json:"halted"`
		Metrics  map[string]float64 `json:"metrics,omitempty"`
	}{
		ID:       plan.ID,
		Summary:  plan.Summary.MarshalSummary(),
		Outcomes: result.Outcomes,
		Halted:   result.Halted,
		Metrics:  opts.Metrics,
	}
	for _, op := range plan.Ops {
		doc.Ops = append(doc.Ops, toJSONOp(op))
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

func renderPlanText(w io.Writer, plan *manifest.Plan, opts Options) error {
	for _, op := range plan.Ops {
		fmt.Fprintln(w, formatOpLine(op, opts.Color))
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "plan %s: %d unchanged, %d change, %d conflict, %d error\n",
		plan.ID, plan.Summary.Unchanged, plan.Summary.Change, plan.Summary.Conflict, plan.Summary.Error)

	if !opts.NoHints && (plan.Summary.Change > 0 || plan.Summary.Conflict > 0) {
		fmt.Fprintln(w, "run with --execute to apply this plan")
	}
	return nil
}

func renderApplyText(w io.Writer, plan *manifest.Plan, result *manifest.ApplyResult, opts Options) error {
	outcomeBySeq := make(map[uint64]manifest.ApplyOutcome, len(result.Outcomes))
	for _, o := range result.Outcomes {
		outcomeBySeq[o.Seq] = o
	}

	for _, op := range plan.Ops {
		outcome, ran := outcomeBySeq[op.Seq]
		line := formatOpLine(op, opts.Color)
		if ran {
			line += fmt.Sprintf(" -> %s", outcome.Status)
			if outcome.Reason != "" {
				line += fmt.Sprintf(" (%s)", outcome.Reason)
			}
		} else {
			line += " -> not reached"
		}
		fmt.Fprintln(w, line)
	}

	if result.Halted {
		fmt.Fprintln(w, "\napply halted after the first failed op")
	}
	return nil
}

func formatOpLine(op manifest.PlanOp, color bool) string {
	label := fmt.Sprintf("[%03d] %-10s %-10s", op.Seq, op.Kind, op.Classification)
	if op.Reason != "" {
		label += " " + string(op.Reason)
	}
	if op.Detail != "" {
		label += ": " + op.Detail
	}
	if !color {
		return label
	}
	return colorize(op.Classification, label)
}

func colorize(c manifest.Classification, s string) string {
	var code string
	switch c {
	case manifest.Unchanged:
		code = "2" // green
	case manifest.Change:
		code = "3" // yellow
	case manifest.Conflict, manifest.Error:
		code = "1" // red
	default:
		return s
	}
	return fmt.Sprintf("\x1b[3%sm%s\x1b[0m", code, s)
}

// Page writes content to a pager ($PAGER, falling back to less) when w is
// a TTY; otherwise it writes content directly. Errors launching the pager
// fall back to a direct write rather than losing output.
func Page(w io.Writer, isTTY bool, content string) error {
	if !isTTY {
		_, err := io.WriteString(w, content)
		return err
	}

	pager := os.Getenv("PAGER")
	if pager == "" {
		pager = "less"
	}

	fields := strings.Fields(pager)
	if len(fields) == 0 {
		_, err := io.WriteString(w, content)
		return err
	}

	cmd := exec.Command(fields[0], fields[1:]...)
	cmd.Stdin = strings.NewReader(content)
	cmd.Stdout = w
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		_, writeErr := io.WriteString(w, content)
		return writeErr
	}
	return nil
}
