package store

import (
	"context"
	"fmt"

	"github.com/MokiMeow/OARS-sub000/pkg/contracts"
)

type evidenceDoc struct {
	Nodes map[string][]contracts.EvidenceNode `json:"nodes"` // tenantId -> nodes
	Edges []contracts.EvidenceEdge            `json:"edges"` // global; scoped to a tenant via its endpoint node ids
}

// FileEvidenceStore implements pkg/evidence.Store over a single JSON
// file. EvidenceEdge carries no TenantID of its own (it links two
// NodeIDs), so edges are kept in one slice and ListEdges filters down to
// the edges touching a node the caller's tenant actually owns.
type FileEvidenceStore struct {
	file *jsonFile[evidenceDoc]
}

func NewFileEvidenceStore(path string) (*FileEvidenceStore, error) {
	f, err := openJSONFile(path, evidenceDoc{Nodes: make(map[string][]contracts.EvidenceNode)})
	if err != nil {
		return nil, fmt.Errorf("store: open evidence file: %w", err)
	}
	return &FileEvidenceStore{file: f}, nil
}

func (s *FileEvidenceStore) PutNode(_ context.Context, node contracts.EvidenceNode) error {
	return s.file.withLock(true, func(d *evidenceDoc) {
		d.Nodes[node.TenantID] = append(d.Nodes[node.TenantID], node)
	})
}

func (s *FileEvidenceStore) PutEdge(_ context.Context, edge contracts.EvidenceEdge) error {
	return s.file.withLock(true, func(d *evidenceDoc) {
		d.Edges = append(d.Edges, edge)
	})
}

func (s *FileEvidenceStore) ListNodes(_ context.Context, tenantID string) ([]contracts.EvidenceNode, error) {
	var out []contracts.EvidenceNode
	_ = s.file.withLock(false, func(d *evidenceDoc) {
		out = append(out, d.Nodes[tenantID]...)
	})
	return out, nil
}

func (s *FileEvidenceStore) ListEdges(_ context.Context, tenantID string) ([]contracts.EvidenceEdge, error) {
	var out []contracts.EvidenceEdge
	_ = s.file.withLock(false, func(d *evidenceDoc) {
		owned := make(map[string]bool, len(d.Nodes[tenantID]))
		for _, n := range d.Nodes[tenantID] {
			owned[n.NodeID] = true
		}
		for _, e := range d.Edges {
			if owned[e.FromNodeID] || owned[e.ToNodeID] {
				out = append(out, e)
			}
		}
	})
	return out, nil
}
