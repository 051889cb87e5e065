package graph

import (
	"cmp"
	"errors"
	"fmt"
	"slices"

	"github.com/dukex/inkwell/pkg/models"
)

var (
	ErrCycle       = errors.New("graph contains a cycle")
	ErrUnknownNode = errors.New("unknown node")
)

// TopoSort orders nodes so every edge source precedes its target. Ready
// nodes are taken by position, then id, so the order is deterministic.
func TopoSort(nodes []models.Node, edges []models.Edge) ([]models.Node, error) {
	byID := make(map[string]models.Node, len(nodes))
	indegree := make(map[string]int, len(nodes))

	for _, node := range nodes {
		byID[node.ID] = node
		indegree[node.ID] = 0
	}

	children := make(map[string][]string)

	for _, edge := range edges {
		if _, ok := byID[edge.Source]; !ok {
			return nil, fmt.Errorf("%w: edge source %s", ErrUnknownNode, edge.Source)
		}

		if _, ok := byID[edge.Target]; !ok {
			return nil, fmt.Errorf("%w: edge target %s", ErrUnknownNode, edge.Target)
		}

		children[edge.Source] = append(children[edge.Source], edge.Target)
		indegree[edge.Target]++
	}

	var ready []models.Node

	for _, node := range nodes {
		if indegree[node.ID] == 0 {
			ready = append(ready, node)
		}
	}

	order := make([]models.Node, 0, len(nodes))

	for len(ready) > 0 {
		slices.SortFunc(ready, byPosition)

		node := ready[0]
		ready = ready[1:]
		order = append(order, node)

		for _, child := range children[node.ID] {
			indegree[child]--
			if indegree[child] == 0 {
				ready = append(ready, byID[child])
			}
		}
	}

	if len(order) != len(nodes) {
		return nil, ErrCycle
	}

	return order, nil
}

func byPosition(a, b models.Node) int {
	if c := cmp.Compare(a.Position, b.Position); c != 0 {
		return c
	}

	return cmp.Compare(a.ID, b.ID)
}

// Descendants returns id and every node reachable from it.
func Descendants(id string, edges []models.Edge) map[string]bool {
	children := make(map[string][]string)
	for _, edge := range edges {
		children[edge.Source] = append(children[edge.Source], edge.Target)
	}

	seen := map[string]bool{id: true}
	queue := []string{id}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		for _, child := range children[current] {
			if !seen[child] {
				seen[child] = true
				queue = append(queue, child)
			}
		}
	}

	return seen
}

func parents(edges []models.Edge) map[string][]string {
	out := make(map[string][]string)
	for _, edge := range edges {
		out[edge.Target] = append(out[edge.Target], edge.Source)
	}

	return out
}
