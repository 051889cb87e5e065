package models

// ProgressUpdate is one invocation of the graph executor's progress callback.
// Token, word and cost figures are the node's running totals so that
// replaying an update never double-counts.
type ProgressUpdate struct {
	NodeID     string         `json:"node_id,omitempty"`
	NodeName   string         `json:"node_name,omitempty"`
	Status     string         `json:"status,omitempty"`
	Progress   *float64       `json:"progress,omitempty"`
	Output     any            `json:"output,omitempty"`
	Tokens     int64          `json:"tokens,omitempty"`
	Words      int64          `json:"words,omitempty"`
	Cost       float64        `json:"cost,omitempty"`
	Provider   string         `json:"provider,omitempty"`
	Model      string         `json:"model,omitempty"`
	Sequence   *int           `json:"sequence,omitempty"`
	GraphIndex int            `json:"graph_index,omitempty"`
	TotalNodes int            `json:"total_nodes,omitempty"`
	Patch      *SnapshotPatch `json:"patch,omitempty"`
}

// ProgressCallback receives progress updates for a single execution.
type ProgressCallback func(update ProgressUpdate)
