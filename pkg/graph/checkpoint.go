package graph

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidCheckpoint indicates checkpoint data that cannot be decoded.
var ErrInvalidCheckpoint = errors.New("invalid checkpoint")

type checkpoint struct {
	CompletedNodes []string       `json:"completed_nodes"`
	NodeOutputs    map[string]any `json:"node_outputs"`
	Inputs         map[string]any `json:"inputs"`
	LastNode       string         `json:"last_node"`
	Sequence       int            `json:"sequence"`
}

// checkpoint captures enough state to replay any completed node later.
func (r *run) checkpoint(lastNode string) map[string]any {
	completed := make([]any, len(r.completed))
	for i, id := range r.completed {
		completed[i] = id
	}

	return map[string]any{
		"completed_nodes": completed,
		"node_outputs":    cloneMap(r.outputs),
		"inputs":          cloneMap(r.inputs),
		"last_node":       lastNode,
		"sequence":        r.sequence,
	}
}

// ValidateCheckpoint reports whether raw can be resumed from.
func ValidateCheckpoint(raw map[string]any) error {
	_, err := decodeCheckpoint(raw)

	return err
}

// decodeCheckpoint reads checkpoint data that may have been through a JSON
// round trip.
func decodeCheckpoint(raw map[string]any) (checkpoint, error) {
	var cp checkpoint

	data, err := json.Marshal(raw)
	if err != nil {
		return cp, fmt.Errorf("%w: %w", ErrInvalidCheckpoint, err)
	}

	if err := json.Unmarshal(data, &cp); err != nil {
		return cp, fmt.Errorf("%w: %w", ErrInvalidCheckpoint, err)
	}

	if cp.NodeOutputs == nil {
		cp.NodeOutputs = map[string]any{}
	}

	if cp.Inputs == nil {
		cp.Inputs = map[string]any{}
	}

	return cp, nil
}
