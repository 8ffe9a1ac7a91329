// Package connector implements the Connector Registry half of L11:
// the pluggable tool contract, a toolId-keyed registry with an
// allow-list, and optional per-tool JSON Schema validation of
// Action.Input before dispatch. Grounded on
// core/pkg/firewall/firewall.go's PolicyFirewall (allowlist + compiled
// jsonschema.Schema map + delegating Dispatcher), generalized from one
// process-wide dispatcher into a registry of named Connector
// implementations.
package connector

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/MokiMeow/OARS-sub000/pkg/contracts"
	"github.com/MokiMeow/OARS-sub000/pkg/errs"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Connector is the pluggable contract every tool integration implements.
// Individual connector business logic (Jira, Slack, IAM, Confluence,
// Database) is out of scope; this package only defines and enforces the
// contract and the registry around it.
type Connector interface {
	ToolID() string
	Execute(ctx context.Context, action *contracts.Action) (contracts.ConnectorResult, error)
}

// Registry holds registered Connectors keyed by toolId, gated by an
// allow-list and optional input schemas.
type Registry struct {
	mu         sync.RWMutex
	connectors map[string]Connector
	allowed    map[string]bool
	schemas    map[string]*jsonschema.Schema
}

// NewRegistry constructs an empty Registry. Nothing is reachable until
// Register and Allow have both been called for a toolId.
func NewRegistry() *Registry {
	return &Registry{
		connectors: make(map[string]Connector),
		allowed:    make(map[string]bool),
		schemas:    make(map[string]*jsonschema.Schema),
	}
}

// Register adds a Connector implementation to the registry. It is not
// visible to Lookup until Allow is also called for the same toolId.
func (r *Registry) Register(c Connector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connectors[c.ToolID()] = c
}

// Allow marks a toolId visible. An optional JSON Schema (draft 2020-12)
// validates Action.Input before dispatch when non-empty.
func (r *Registry) Allow(toolID string, inputSchema string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.allowed[toolID] = true

	if inputSchema == "" {
		delete(r.schemas, toolID)
		return nil
	}
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	schemaURL := fmt.Sprintf("https://oars.schemas.local/connector/%s.schema.json", toolID)
	if err := compiler.AddResource(schemaURL, strings.NewReader(inputSchema)); err != nil {
		return fmt.Errorf("connector: load schema for %s: %w", toolID, err)
	}
	compiled, err := compiler.Compile(schemaURL)
	if err != nil {
		return fmt.Errorf("connector: compile schema for %s: %w", toolID, err)
	}
	r.schemas[toolID] = compiled
	return nil
}

// Lookup returns the connector for toolID if registered and allow-listed.
func (r *Registry) Lookup(toolID string) (Connector, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.allowed[toolID] {
		return nil, false
	}
	c, ok := r.connectors[toolID]
	return c, ok
}

// ValidateInput checks action input against the toolId's configured
// schema, if any. A toolId with no configured schema always passes.
func (r *Registry) ValidateInput(toolID string, input map[string]any) error {
	r.mu.RLock()
	schema, ok := r.schemas[toolID]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	if err := schema.Validate(input); err != nil {
		return fmt.Errorf("%w: input for %s: %v", errs.ErrInvalidInput, toolID, err)
	}
	return nil
}
