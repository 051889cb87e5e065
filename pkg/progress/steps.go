package progress

import (
	"sort"
	"time"

	"github.com/dukex/inkwell/pkg/models"
)

// SyncStep locates or creates the step named by the update and folds the
// update into it. The returned list is sorted by actual run order.
func SyncStep(steps []models.ProcessingStep, update models.ProgressUpdate, now time.Time) []models.ProcessingStep {
	if update.NodeID == "" {
		return steps
	}

	step := models.ProcessingStep{
		NodeID:     update.NodeID,
		Name:       update.NodeName,
		Provider:   update.Provider,
		Tokens:     nonNegative(update.Tokens),
		Words:      nonNegative(update.Words),
		TotalNodes: update.TotalNodes,
		UpdatedAt:  now,
	}

	if update.Status != "" {
		step.Status = models.NormalizeStepStatus(update.Status)
	}

	if update.Progress != nil {
		step.Progress = clampPercent(*update.Progress)
	} else if prev, ok := findStep(steps, update.NodeID); ok {
		// A status-only update keeps the progress already reported.
		step.Progress = prev.Progress
	}

	if step.Status == models.StepStatusCompleted {
		step.Progress = 100
	}

	switch {
	case update.Sequence != nil:
		step.ExecutionOrder = *update.Sequence
	case update.GraphIndex > 0:
		step.ExecutionOrder = update.GraphIndex
	}

	return UpsertStep(steps, step)
}

func findStep(steps []models.ProcessingStep, nodeID string) (models.ProcessingStep, bool) {
	for _, step := range steps {
		if step.NodeID == nodeID {
			return step, true
		}
	}

	return models.ProcessingStep{}, false
}

// UpsertStep merges step into the list by node id. Zero-valued fields of step
// keep the previous value.
func UpsertStep(steps []models.ProcessingStep, step models.ProcessingStep) []models.ProcessingStep {
	out := append([]models.ProcessingStep(nil), steps...)

	found := false

	for i := range out {
		if out[i].NodeID == step.NodeID {
			out[i] = mergeStep(out[i], step)
			found = true

			break
		}
	}

	if !found {
		if step.Status == "" {
			step.Status = models.StepStatusPending
		}

		out = append(out, step)
	}

	sortSteps(out)

	return out
}

func mergeStep(prev, next models.ProcessingStep) models.ProcessingStep {
	merged := prev

	if next.Name != "" {
		merged.Name = next.Name
	}

	if next.Status != "" {
		merged.Status = next.Status
		merged.Progress = next.Progress
	} else if next.Progress > merged.Progress {
		merged.Progress = next.Progress
	}

	if merged.Status == models.StepStatusCompleted {
		merged.Progress = 100
	}

	if next.Tokens > 0 {
		merged.Tokens = next.Tokens
	}

	if next.Words > 0 {
		merged.Words = next.Words
	}

	if next.Provider != "" {
		merged.Provider = next.Provider
	}

	if next.ExecutionOrder > 0 {
		merged.ExecutionOrder = next.ExecutionOrder
	}

	if next.TotalNodes > 0 {
		merged.TotalNodes = next.TotalNodes
	}

	if next.UpdatedAt.After(merged.UpdatedAt) {
		merged.UpdatedAt = next.UpdatedAt
	}

	return merged
}

// Steps without a known order sort last; ties break on node id.
func sortSteps(steps []models.ProcessingStep) {
	sort.SliceStable(steps, func(i, j int) bool {
		oi, oj := orderKey(steps[i]), orderKey(steps[j])
		if oi != oj {
			return oi < oj
		}

		return steps[i].NodeID < steps[j].NodeID
	})
}

func orderKey(step models.ProcessingStep) int {
	if step.ExecutionOrder <= 0 {
		return int(^uint(0) >> 1)
	}

	return step.ExecutionOrder
}

// OverallProgress averages step progress over the known node count.
func OverallProgress(steps []models.ProcessingStep) float64 {
	if len(steps) == 0 {
		return 0
	}

	total := len(steps)
	sum := 0.0

	for _, step := range steps {
		if step.TotalNodes > total {
			total = step.TotalNodes
		}

		sum += step.Progress
	}

	return clampPercent(sum / float64(total))
}

// CurrentNode is the latest running step by run order, or the latest
// completed one when nothing runs.
func CurrentNode(steps []models.ProcessingStep) string {
	current := ""

	for _, step := range steps {
		if step.Status == models.StepStatusRunning {
			current = step.NodeID
		}
	}

	if current != "" {
		return current
	}

	for _, step := range steps {
		if step.Status == models.StepStatusCompleted || step.Status == models.StepStatusFailed {
			current = step.NodeID
		}
	}

	return current
}
