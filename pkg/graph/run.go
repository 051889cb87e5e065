package graph

import (
	"slices"

	"github.com/dukex/inkwell/pkg/models"
)

// nodeOutput is what a node handler produced, including usage of every
// provider call it made.
type nodeOutput struct {
	output   map[string]any
	usage    models.TokenUsage
	cost     float64
	words    int64
	provider string
	model    string
	calls    []models.UsageRecord
	formats  map[string]any
}

// run is the mutable state of one Execute or Resume call.
type run struct {
	executionID string
	order       []models.Node
	edges       []models.Edge
	parents     map[string][]string
	progress    models.ProgressCallback

	inputs    map[string]any
	outputs   map[string]any
	story     map[string]any
	completed []string
	sequence  int

	target          string
	attempt         int
	validationError string

	tokenUsage map[string]models.TokenUsage
	ledger     []models.UsageRecord
	tokens     int64
	cost       float64
	words      int64
}

func newRun(executionID string, edges []models.Edge, order []models.Node, progress models.ProgressCallback) *run {
	return &run{
		executionID: executionID,
		order:       order,
		edges:       edges,
		parents:     parents(edges),
		progress:    progress,
		inputs:      map[string]any{},
		outputs:     map[string]any{},
		story:       map[string]any{},
		tokenUsage:  map[string]models.TokenUsage{},
	}
}

func (r *run) nextSequence() int {
	r.sequence++

	return r.sequence
}

func (r *run) emit(update models.ProgressUpdate) {
	if r.progress != nil {
		r.progress(update)
	}
}

func (r *run) baseUpdate(node models.Node, sequence int, status string) models.ProgressUpdate {
	return models.ProgressUpdate{
		NodeID:     node.ID,
		NodeName:   node.Name,
		Status:     status,
		Sequence:   &sequence,
		GraphIndex: node.Position,
		TotalNodes: len(r.order),
	}
}

// record books the usage of a node, successful or not.
func (r *run) record(node models.Node, out nodeOutput, succeeded bool) {
	if out.usage.TotalTokens > 0 {
		usage := r.tokenUsage[node.ID]
		usage.PromptTokens += out.usage.PromptTokens
		usage.CompletionTokens += out.usage.CompletionTokens
		usage.TotalTokens += out.usage.TotalTokens
		r.tokenUsage[node.ID] = usage
	}

	r.ledger = append(r.ledger, out.calls...)
	r.tokens += out.usage.TotalTokens
	r.cost += out.cost

	if !succeeded {
		return
	}

	r.words += out.words
	r.outputs[node.ID] = out.output

	if !slices.Contains(r.completed, node.ID) {
		r.completed = append(r.completed, node.ID)
	}
}

func (r *run) result() *models.GraphResult {
	return &models.GraphResult{
		NodeOutputs:         cloneMap(r.outputs),
		TotalTokensUsed:     r.tokens,
		TotalCostIncurred:   r.cost,
		TotalWordsGenerated: r.words,
		TokenUsage:          r.tokenUsage,
		TokenLedger:         r.ledger,
		StoryContext:        cloneMap(r.story),
	}
}

// previous joins the content of the node's direct parents.
func (r *run) previous(nodeID string) string {
	var parts []string

	for _, parent := range r.parents[nodeID] {
		if content := contentOf(r.outputs[parent]); content != "" {
			parts = append(parts, content)
		}
	}

	return joinParagraphs(parts)
}

func (r *run) templateData(node models.Node) map[string]any {
	data := map[string]any{
		"inputs":   r.inputs,
		"outputs":  r.outputs,
		"story":    r.story,
		"previous": r.previous(node.ID),
		"node": map[string]any{
			"id":   node.ID,
			"name": node.Name,
			"type": node.Type,
		},
		"attempt":          0,
		"validation_error": "",
	}

	if node.ID == r.target {
		data["attempt"] = r.attempt
		data["validation_error"] = r.validationError
	}

	return data
}
