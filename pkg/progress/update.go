package progress

import (
	"time"

	"github.com/dukex/inkwell/pkg/models"
)

// ApplyUpdate folds one progress callback into the snapshot. Node-scoped data
// lands in the step list and node results; overall progress and the current
// node are derived from the steps alone, independent of the order in which
// updates for different nodes arrive. An explicit patch carried by the update
// is merged last.
func ApplyUpdate(prev models.ProgressSnapshot, update models.ProgressUpdate, now time.Time) models.ProgressSnapshot {
	var patch models.SnapshotPatch

	if update.NodeID != "" {
		if result := nodeResultFromUpdate(update); len(result) > 0 {
			patch.NodeResults = map[string]models.NodeResult{update.NodeID: result}
		}
	}

	next := MergeSnapshot(prev, patch)

	if update.NodeID != "" {
		next.ProcessingSteps = SyncStep(next.ProcessingSteps, update, now)
		next.Progress = OverallProgress(next.ProcessingSteps)

		if current := CurrentNode(next.ProcessingSteps); current != "" {
			next.CurrentNode = current
		}
	} else if update.Progress != nil {
		next.Progress = clampPercent(*update.Progress)
	}

	if update.Patch != nil {
		next = MergeSnapshot(next, *update.Patch)
	}

	return next
}

func nodeResultFromUpdate(update models.ProgressUpdate) models.NodeResult {
	result := models.NodeResult{}

	switch output := update.Output.(type) {
	case nil:
	case map[string]any:
		result = MergeNodeResult(result, output)
	case models.NodeResult:
		result = MergeNodeResult(result, output)
	case string:
		result["content"] = output
	default:
		result["output"] = output
	}

	if update.Tokens > 0 {
		result["tokens"] = update.Tokens
	}

	if update.Words > 0 {
		result["words"] = update.Words
	}

	if update.Cost > 0 {
		result["cost"] = update.Cost
	}

	if update.Provider != "" {
		result["provider"] = update.Provider
	}

	if update.Model != "" {
		result["model"] = update.Model
	}

	return result
}
