// Package progress turns the asynchronous stream of node updates into one
// durable, mergeable execution snapshot.
package progress

import (
	"maps"

	"github.com/dukex/inkwell/pkg/models"
)

// MergeSnapshot applies patch to prev and returns a new snapshot. prev is not
// mutated. Mapping fields merge key by key and recursively, every other field
// is last-write-wins. Metrics are re-derived from the merged node results.
func MergeSnapshot(prev models.ProgressSnapshot, patch models.SnapshotPatch) models.ProgressSnapshot {
	next := cloneSnapshot(prev)

	if patch.Progress != nil {
		next.Progress = clampPercent(*patch.Progress)
	}

	if patch.CurrentNode != nil {
		next.CurrentNode = *patch.CurrentNode
	}

	if patch.Message != nil {
		next.Message = *patch.Message
	}

	if patch.Error != nil {
		next.Error = *patch.Error
	}

	for _, step := range patch.ProcessingSteps {
		next.ProcessingSteps = UpsertStep(next.ProcessingSteps, step)
	}

	for nodeID, result := range patch.NodeResults {
		if next.NodeResults == nil {
			next.NodeResults = make(map[string]models.NodeResult, len(patch.NodeResults))
		}

		next.NodeResults[nodeID] = MergeNodeResult(next.NodeResults[nodeID], result)
	}

	next.AllFormats = MergeMap(next.AllFormats, patch.AllFormats)
	next.CheckpointData = MergeMap(next.CheckpointData, patch.CheckpointData)
	next.LastValidationError = MergeMap(next.LastValidationError, patch.LastValidationError)
	next.StoryContext = MergeMap(next.StoryContext, patch.StoryContext)

	for nodeID, attempt := range patch.RegenerationAttempts {
		if next.RegenerationAttempts == nil {
			next.RegenerationAttempts = make(map[string]models.RegenerationAttempt, len(patch.RegenerationAttempts))
		}

		next.RegenerationAttempts[nodeID] = attempt
	}

	next.Metrics = RecomputeMetrics(next.NodeResults)

	return next
}

// MergeNodeResult deep-merges next into prev.
func MergeNodeResult(prev, next models.NodeResult) models.NodeResult {
	return models.NodeResult(MergeMap(prev, next))
}

// MergeMap returns a fresh map holding prev with next merged on top. Values
// that are maps on both sides are merged recursively; anything else in next
// replaces the previous value.
func MergeMap[M ~map[string]any](prev, next M) M {
	if prev == nil && next == nil {
		return nil
	}

	out := make(M, len(prev)+len(next))

	for k, v := range prev {
		out[k] = cloneValue(v)
	}

	for k, v := range next {
		prevMap, prevIsMap := asMap(out[k])
		nextMap, nextIsMap := asMap(v)

		if prevIsMap && nextIsMap {
			out[k] = MergeMap(prevMap, nextMap)

			continue
		}

		out[k] = cloneValue(v)
	}

	return out
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case models.NodeResult:
		return map[string]any(m), true
	default:
		return nil, false
	}
}

func cloneValue(v any) any {
	switch typed := v.(type) {
	case map[string]any:
		return MergeMap(typed, nil)
	case models.NodeResult:
		return map[string]any(MergeMap(typed, nil))
	case []any:
		out := make([]any, len(typed))
		for i, item := range typed {
			out[i] = cloneValue(item)
		}

		return out
	default:
		return v
	}
}

func cloneSnapshot(s models.ProgressSnapshot) models.ProgressSnapshot {
	out := s

	if s.ProcessingSteps != nil {
		out.ProcessingSteps = append([]models.ProcessingStep(nil), s.ProcessingSteps...)
	}

	if s.NodeResults != nil {
		out.NodeResults = make(map[string]models.NodeResult, len(s.NodeResults))
		for id, result := range s.NodeResults {
			out.NodeResults[id] = MergeNodeResult(result, nil)
		}
	}

	out.AllFormats = MergeMap(s.AllFormats, nil)
	out.CheckpointData = MergeMap(s.CheckpointData, nil)
	out.LastValidationError = MergeMap(s.LastValidationError, nil)
	out.StoryContext = MergeMap(s.StoryContext, nil)

	if s.RegenerationAttempts != nil {
		out.RegenerationAttempts = maps.Clone(s.RegenerationAttempts)
	}

	return out
}

func clampPercent(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	default:
		return v
	}
}
