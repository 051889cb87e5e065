package models

import "time"

// Node types understood by the reference graph executor.
const (
	NodeTypeInput    = "input"
	NodeTypeGenerate = "generate"
	NodeTypeOutline  = "outline"
	NodeTypeCompile  = "compile"
	NodeTypeOutput   = "output"
)

// EngineDefinition is a user-owned generation workflow: the node graph plus
// its model bindings. Callers reach it through a capability key.
type EngineDefinition struct {
	ID         string                  `json:"id"                    yaml:"id"          validate:"required"`
	UserID     string                  `json:"user_id"               yaml:"user_id"     validate:"required"`
	Name       string                  `json:"name"                  yaml:"name"        validate:"required,min=3"`
	APIKeyHash string                  `json:"api_key_hash,omitempty" yaml:"-"`
	Nodes      []Node                  `json:"nodes"                 yaml:"nodes"       validate:"required,min=1,dive"`
	Edges      []Edge                  `json:"edges"                 yaml:"edges"       validate:"dive"`
	Models     map[string]ModelBinding `json:"models,omitempty"      yaml:"models"`
	CreatedAt  time.Time               `json:"created_at"            yaml:"-"`
	UpdatedAt  time.Time               `json:"updated_at"            yaml:"-"`
}

// Node is a unit of work in the engine graph.
type Node struct {
	ID       string         `json:"id"                 yaml:"id"       validate:"required"`
	Name     string         `json:"name"               yaml:"name"     validate:"required"`
	Type     string         `json:"type"               yaml:"type"     validate:"required,oneof=input generate outline compile output"`
	Provider string         `json:"provider,omitempty" yaml:"provider"`
	Model    string         `json:"model,omitempty"    yaml:"model"`
	Prompt   string         `json:"prompt,omitempty"   yaml:"prompt"`
	Config   map[string]any `json:"config,omitempty"   yaml:"config"`
	Position int            `json:"position"           yaml:"position"`
}

// Edge connects two nodes; Target runs after Source.
type Edge struct {
	ID     string `json:"id"     yaml:"id"`
	Source string `json:"source" yaml:"source" validate:"required"`
	Target string `json:"target" yaml:"target" validate:"required"`
}

// ModelBinding overrides the provider/model of a node by node id.
type ModelBinding struct {
	Provider string `json:"provider" yaml:"provider"`
	Model    string `json:"model"    yaml:"model"`
}

// Node returns the node with the given id.
func (e *EngineDefinition) Node(id string) (Node, bool) {
	for _, node := range e.Nodes {
		if node.ID == id {
			return node, true
		}
	}

	return Node{}, false
}

// ResolvedNodes returns the nodes with model bindings applied.
func (e *EngineDefinition) ResolvedNodes() []Node {
	nodes := make([]Node, len(e.Nodes))

	for i, node := range e.Nodes {
		if binding, ok := e.Models[node.ID]; ok {
			if binding.Provider != "" {
				node.Provider = binding.Provider
			}

			if binding.Model != "" {
				node.Model = binding.Model
			}
		}

		nodes[i] = node
	}

	return nodes
}
