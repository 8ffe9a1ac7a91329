// Package evidence builds the per-tenant evidence graph spec.md §4.8
// requires the Receipt Service to grow on every receipt: a DAG of Action/
// Approval/Receipt/Policy/Control nodes connected by typed edges, queryable
// by an Action's id to answer "show me everything that justified this
// action". Grounded on core/pkg/proofgraph/graph.go's node-and-edge
// bookkeeping (generalized from that file's single-chain, hash-linked DAG
// to a plain queryable node/edge store, since OARS's evidence graph is an
// audit index rather than a tamper-evident ledger — the ledger package
// already owns that property) and core/pkg/evidence/registry.go's naming.
package evidence

import (
	"context"
	"fmt"

	"github.com/MokiMeow/OARS-sub000/pkg/contracts"
)

// Store persists evidence nodes and edges per tenant.
type Store interface {
	PutNode(ctx context.Context, node contracts.EvidenceNode) error
	PutEdge(ctx context.Context, edge contracts.EvidenceEdge) error
	ListNodes(ctx context.Context, tenantID string) ([]contracts.EvidenceNode, error)
	ListEdges(ctx context.Context, tenantID string) ([]contracts.EvidenceEdge, error)
}

// Service is the evidence graph builder and query surface.
type Service struct {
	store Store
}

func NewService(store Store) *Service {
	return &Service{store: store}
}

// AddNode records one vertex. Satisfies pkg/receipt.EvidenceRecorder.
func (s *Service) AddNode(ctx context.Context, node contracts.EvidenceNode) error {
	if err := s.store.PutNode(ctx, node); err != nil {
		return fmt.Errorf("evidence: put node: %w", err)
	}
	return nil
}

// AddEdge records one directed relationship. Satisfies
// pkg/receipt.EvidenceRecorder.
func (s *Service) AddEdge(ctx context.Context, edge contracts.EvidenceEdge) error {
	if err := s.store.PutEdge(ctx, edge); err != nil {
		return fmt.Errorf("evidence: put edge: %w", err)
	}
	return nil
}

// Graph walks every edge reachable from rootActionID (in either
// direction, since relation direction encodes semantics like "produced"
// or "governed-by" rather than traversal order) and returns the induced
// subgraph of nodes and edges.
func (s *Service) Graph(ctx context.Context, tenantID, rootActionID string) (*contracts.EvidenceGraph, error) {
	nodes, err := s.store.ListNodes(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("evidence: list nodes: %w", err)
	}
	edges, err := s.store.ListEdges(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("evidence: list edges: %w", err)
	}

	nodesByRef := make(map[string]contracts.EvidenceNode, len(nodes))
	nodesByID := make(map[string]contracts.EvidenceNode, len(nodes))
	for _, n := range nodes {
		nodesByRef[n.RefID] = n
		nodesByID[n.NodeID] = n
	}

	root, ok := nodesByRef[rootActionID]
	if !ok {
		return &contracts.EvidenceGraph{RootActionID: rootActionID}, nil
	}

	reachable := map[string]bool{root.NodeID: true}
	frontier := []string{root.NodeID}
	var keptEdges []contracts.EvidenceEdge

	for len(frontier) > 0 {
		var next []string
		for _, id := range frontier {
			for _, e := range edges {
				var neighbor string
				switch id {
				case e.FromNodeID:
					neighbor = e.ToNodeID
				case e.ToNodeID:
					neighbor = e.FromNodeID
				default:
					continue
				}
				keptEdges = append(keptEdges, e)
				if !reachable[neighbor] {
					reachable[neighbor] = true
					next = append(next, neighbor)
				}
			}
		}
		frontier = next
	}

	graph := &contracts.EvidenceGraph{RootActionID: rootActionID}
	for id := range reachable {
		if n, ok := nodesByID[id]; ok {
			graph.Nodes = append(graph.Nodes, n)
		}
	}
	graph.Edges = dedupeEdges(keptEdges)
	return graph, nil
}

func dedupeEdges(edges []contracts.EvidenceEdge) []contracts.EvidenceEdge {
	seen := make(map[contracts.EvidenceEdge]bool, len(edges))
	out := make([]contracts.EvidenceEdge, 0, len(edges))
	for _, e := range edges {
		key := e
		key.CreatedAt = key.CreatedAt.UTC().Truncate(0)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, e)
	}
	return out
}
