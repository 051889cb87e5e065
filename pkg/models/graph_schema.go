package models

import (
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// ErrInvalidGraph indicates an engine graph failed validation.
var ErrInvalidGraph = errors.New("invalid engine graph")

var graphSchema = map[string]any{
	"type":     "object",
	"required": []any{"nodes"},
	"properties": map[string]any{
		"nodes": map[string]any{
			"type":     "array",
			"minItems": 1,
			"items": map[string]any{
				"type":     "object",
				"required": []any{"id", "name", "type"},
				"properties": map[string]any{
					"id":   map[string]any{"type": "string", "minLength": 1},
					"name": map[string]any{"type": "string", "minLength": 1},
					"type": map[string]any{
						"type": "string",
						"enum": []any{NodeTypeInput, NodeTypeGenerate, NodeTypeOutline, NodeTypeCompile, NodeTypeOutput},
					},
					"provider": map[string]any{"type": "string"},
					"model":    map[string]any{"type": "string"},
					"prompt":   map[string]any{"type": "string"},
					"config":   map[string]any{"type": []any{"object", "null"}},
					"position": map[string]any{"type": "integer", "minimum": 0},
				},
			},
		},
		"edges": map[string]any{
			"type": []any{"array", "null"},
			"items": map[string]any{
				"type":     "object",
				"required": []any{"source", "target"},
				"properties": map[string]any{
					"source": map[string]any{"type": "string", "minLength": 1},
					"target": map[string]any{"type": "string", "minLength": 1},
				},
			},
		},
	},
}

// ValidateGraph checks the engine's node/edge document against the graph
// schema and verifies that node ids are unique and edges reference known
// nodes.
func ValidateGraph(engine *EngineDefinition) error {
	document := map[string]any{
		"nodes": engine.Nodes,
		"edges": engine.Edges,
	}

	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(graphSchema), gojsonschema.NewGoLoader(document))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidGraph, err)
	}

	if !result.Valid() {
		messages := make([]string, 0, len(result.Errors()))
		for _, resultErr := range result.Errors() {
			messages = append(messages, resultErr.String())
		}

		return fmt.Errorf("%w: %s", ErrInvalidGraph, strings.Join(messages, "; "))
	}

	seen := make(map[string]bool, len(engine.Nodes))
	for _, node := range engine.Nodes {
		if seen[node.ID] {
			return fmt.Errorf("%w: duplicate node id %q", ErrInvalidGraph, node.ID)
		}

		seen[node.ID] = true
	}

	for _, edge := range engine.Edges {
		if !seen[edge.Source] {
			return fmt.Errorf("%w: edge source %q is not a node", ErrInvalidGraph, edge.Source)
		}

		if !seen[edge.Target] {
			return fmt.Errorf("%w: edge target %q is not a node", ErrInvalidGraph, edge.Target)
		}
	}

	return nil
}
