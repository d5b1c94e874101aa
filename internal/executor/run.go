package executor

import (
	"context"
	"sort"
	"time"

	"github.com/technosupport/flowforge/internal/store"
)

type WorkflowStatus string

const (
	WorkflowCompleted           WorkflowStatus = "completed"
	WorkflowCompletedWithSkips  WorkflowStatus = "completed_with_skips"
	WorkflowPartialFailed       WorkflowStatus = "partial_failed"
	WorkflowFailed              WorkflowStatus = "failed"
)

type StepResult struct {
	StepID string
	Result Result
	Status store.ExecutionStatus
}

type WorkflowRunResult struct {
	Status       WorkflowStatus
	Steps        []StepResult
	Completed    int
	Failed       int
	Skipped      int
}

// RunWorkflow implements the sequential execution loop of spec §4.4: run
// each active step in ascending order, record skips for inactive steps,
// and aggregate an overall status. continueOnFailure controls whether a
// failed step halts the run.
func RunWorkflow(ctx context.Context, ex *Executor, wf *store.Workflow, mode Mode, continueOnFailure bool, resolveWorkDir func(step store.Step) string) WorkflowRunResult {
	steps := make([]store.Step, len(wf.Steps))
	copy(steps, wf.Steps)
	sort.Slice(steps, func(i, j int) bool { return steps[i].Order < steps[j].Order })

	var out WorkflowRunResult
	for _, step := range steps {
		if !step.IsActive {
			out.Steps = append(out.Steps, StepResult{StepID: step.ID, Status: store.StatusSkipped})
			out.Skipped++
			continue
		}

		workDir := step.DirectoryName
		if resolveWorkDir != nil {
			workDir = resolveWorkDir(step)
		}

		res := ex.Execute(ctx, Request{
			WorkflowID: wf.ID.String(),
			StepID:     step.ID,
			Mode:       mode,
			ScriptPath: step.ScriptFilename,
			RunCommand: step.RunCommand,
			WorkingDir: workDir,
			ScriptType: step.ScriptType,
			Parameters: step.Parameters,
			Dependencies: step.Dependencies,
		})

		out.Steps = append(out.Steps, StepResult{StepID: step.ID, Result: res, Status: res.Status})

		if res.Status == store.StatusCompleted {
			out.Completed++
		} else {
			out.Failed++
			if !continueOnFailure {
				break
			}
		}
	}

	out.Status = aggregateStatus(out, continueOnFailure)
	return out
}

func aggregateStatus(r WorkflowRunResult, continueOnFailure bool) WorkflowStatus {
	switch {
	case r.Failed > 0 && !continueOnFailure:
		return WorkflowFailed
	case r.Failed > 0 && continueOnFailure:
		return WorkflowPartialFailed
	case r.Skipped > 0:
		return WorkflowCompletedWithSkips
	default:
		return WorkflowCompleted
	}
}

// ApplyResults writes per-step execution metadata back onto wf.Steps in
// place (spec §4.4 step 6: "Persist updated step metadata back to the
// workflow").
func ApplyResults(wf *store.Workflow, run WorkflowRunResult, startedAt time.Time) {
	byID := make(map[string]StepResult, len(run.Steps))
	for _, sr := range run.Steps {
		byID[sr.StepID] = sr
	}
	for i := range wf.Steps {
		sr, ok := byID[wf.Steps[i].ID]
		if !ok {
			continue
		}
		wf.Steps[i].LastStatus = sr.Status
		wf.Steps[i].LastReturnCode = sr.Result.ReturnCode
		wf.Steps[i].LastOutput = sr.Result.Output
		wf.Steps[i].LastError = sr.Result.Error
		start := sr.Result.StartTime
		end := sr.Result.EndTime
		wf.Steps[i].LastRunStartedAt = &start
		wf.Steps[i].LastRunEndedAt = &end
		wf.Steps[i].LastExecutionSec = sr.Result.ExecutionTimeS
	}
}
