// Package router picks the outgoing edge of a node.
package router

import "github.com/aretw0/parley/pkg/domain"

// Next resolves the target of sourceID for the given branch label.
//
// A branch-specific edge (matching SourceHandle) wins; otherwise the first
// handle-less edge from the source is the default. ok is false when the node
// has no usable outgoing edge.
func Next(edges []domain.Edge, sourceID, branch string) (targetID string, ok bool) {
	if branch != "" {
		for _, e := range edges {
			if e.Source == sourceID && e.SourceHandle == branch {
				return e.Target, true
			}
		}
	}
	for _, e := range edges {
		if e.Source == sourceID && e.SourceHandle == "" {
			return e.Target, true
		}
	}
	return "", false
}

// Outgoing lists the edges leaving sourceID in definition order.
func Outgoing(edges []domain.Edge, sourceID string) []domain.Edge {
	var out []domain.Edge
	for _, e := range edges {
		if e.Source == sourceID {
			out = append(out, e)
		}
	}
	return out
}
