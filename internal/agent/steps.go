package agent

import (
	"context"
	"fmt"
)

// Step is one typed unit of a provisioning sequence. Progress is the
// checkpoint reported after the step succeeds; checkpoints must be
// non-decreasing within a sequence. A Tolerant step may fail without
// aborting the sequence.
type Step struct {
	Desc     string
	Cmd      string
	Progress int
	Tolerant bool
}

// ProgressFunc receives progress checkpoints while a sequence runs.
// Implementations must not block; reporting is fire-and-forget.
type ProgressFunc func(progress int, desc string)

// nopProgress is used when the caller does not care about checkpoints.
func nopProgress(int, string) {}

// remapProgress scales a 0-100 progress stream into the [lo, hi] range so
// sub-sequences can be embedded in a larger workflow without breaking
// monotonicity.
func remapProgress(report ProgressFunc, lo, hi int) ProgressFunc {
	return func(progress int, desc string) {
		report(lo+progress*(hi-lo)/100, desc)
	}
}

// runSteps executes a sequence in order, reporting each checkpoint. It
// returns the last checkpoint reached and an error describing the first
// fatal failure.
func (a *Agent) runSteps(ctx context.Context, steps []Step, report ProgressFunc) (int, error) {
	if report == nil {
		report = nopProgress
	}

	progress := 0
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return progress, err
		}

		a.log.Debug("running step", "desc", step.Desc, "cmd", step.Cmd)

		res, err := a.runner.Run(ctx, step.Cmd)
		if err != nil {
			return progress, fmt.Errorf("step %q: %w", step.Desc, err)
		}

		if res.ExitCode != 0 {
			if step.Tolerant {
				a.log.Warn("tolerated step failure",
					"desc", step.Desc,
					"exit_code", res.ExitCode,
					"stderr", res.Stderr)
				continue
			}
			detail := res.Stderr
			if detail == "" {
				detail = res.Stdout
			}
			return progress, fmt.Errorf("step %q failed with exit code %d: %s", step.Desc, res.ExitCode, detail)
		}

		progress = step.Progress
		report(progress, step.Desc)
	}

	return progress, nil
}
