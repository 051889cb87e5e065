package models

// TokenUsage is the usage reported by a provider call.
type TokenUsage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

// UsageRecord is one provider call recorded by the graph executor.
type UsageRecord struct {
	NodeID   string  `json:"node_id"`
	Provider string  `json:"provider"`
	Model    string  `json:"model"`
	Tokens   int64   `json:"tokens"`
	Cost     float64 `json:"cost"`
}

// ExecuteRequest is everything the graph executor needs for a fresh run.
type ExecuteRequest struct {
	ExecutionID      string
	UserID           string
	Nodes            []Node
	Edges            []Edge
	Inputs           map[string]any
	ExecutionContext map[string]any
}

// ResumeRequest replays one node from a checkpoint.
type ResumeRequest struct {
	ExecutionID  string
	UserID       string
	Nodes        []Node
	Edges        []Edge
	Checkpoint   map[string]any
	StoryContext map[string]any
	TargetNodeID string
	Attempt      int
	// ValidationError is the reason the node is being replayed.
	ValidationError string
}

// GraphResult is what the graph executor resolves with.
type GraphResult struct {
	NodeOutputs         map[string]any        `json:"node_outputs"`
	TotalTokensUsed     int64                 `json:"total_tokens_used"`
	TotalCostIncurred   float64               `json:"total_cost_incurred"`
	TotalWordsGenerated int64                 `json:"total_words_generated"`
	TokenUsage          map[string]TokenUsage `json:"token_usage,omitempty"`
	TokenLedger         []UsageRecord         `json:"token_ledger,omitempty"`
	StoryContext        map[string]any        `json:"story_context,omitempty"`
}
