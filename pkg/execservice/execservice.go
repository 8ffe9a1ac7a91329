// Package execservice is the Execution Service half of L11: the
// dispatch policy that runs before a connector ever sees an action
// (failure simulation, target sandbox, vault secret preconditions,
// connector lookup), output sanitization, and stable reference IDs.
// Grounded on core/pkg/firewall/firewall.go's CallTool ordering
// (allowlist check, then schema validation, then delegate) generalized
// into the spec's six-step execution policy, and on
// core/pkg/runtime/sandbox/policy.go's fail-closed CheckNetwork shape
// for the target-sandbox guard.
package execservice

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/MokiMeow/OARS-sub000/pkg/connector"
	"github.com/MokiMeow/OARS-sub000/pkg/contracts"
	"github.com/MokiMeow/OARS-sub000/pkg/errs"
)

// DatabaseConnectionSecretName is the vault secret name the database
// tool requires to exist before execution is permitted.
const DatabaseConnectionSecretName = "database:connection"

// SecretRevealer checks for and reveals vault secrets at dispatch time.
// Satisfied by *pkg/vault.Service.
type SecretRevealer interface {
	Reveal(ctx context.Context, tenantID, name string) (string, error)
}

// sanitizedOutputKeys is checked case-insensitively against output map
// keys; matches are replaced with the literal string "[REDACTED]".
var sanitizedOutputKeys = []string{"password", "secret", "token"}

// Service is the Execution Service.
type Service struct {
	registry *connector.Registry
	vault    SecretRevealer
	clock    func() time.Time
}

// NewService constructs an Execution Service.
func NewService(registry *connector.Registry, vault SecretRevealer, clock func() time.Time) *Service {
	if clock == nil {
		clock = time.Now
	}
	return &Service{registry: registry, vault: vault, clock: clock}
}

// Execute runs the execution policy against action and, if every
// precondition passes, dispatches to the registered connector.
func (s *Service) Execute(ctx context.Context, action *contracts.Action) (contracts.ExecutionResult, error) {
	now := s.clock()
	referenceID := "exec_" + action.ActionID

	if strings.Contains(action.Resource.Operation, "fail") {
		return contracts.ExecutionResult{
			Success:     false,
			Error:       fmt.Sprintf("simulated failure for operation %q", action.Resource.Operation),
			ReferenceID: referenceID,
			ExecutedAt:  now,
		}, nil
	}

	if isForbiddenTarget(action.Resource.Target) {
		return contracts.ExecutionResult{}, fmt.Errorf("%w: target %q is sandboxed", errs.ErrForbidden, action.Resource.Target)
	}

	if action.Resource.ToolID == "database" {
		if s.vault == nil {
			return contracts.ExecutionResult{}, fmt.Errorf("%w: database tool requires a vault connection secret", errs.ErrInvalidInput)
		}
		if _, err := s.vault.Reveal(ctx, action.TenantID, DatabaseConnectionSecretName); err != nil {
			return contracts.ExecutionResult{}, fmt.Errorf("%w: database connection secret missing for tenant %s", errs.ErrInvalidInput, action.TenantID)
		}
	}

	if err := s.registry.ValidateInput(action.Resource.ToolID, action.Input); err != nil {
		return contracts.ExecutionResult{}, err
	}

	conn, ok := s.registry.Lookup(action.Resource.ToolID)
	if !ok {
		return contracts.ExecutionResult{}, fmt.Errorf("%w: no connector registered for tool %q", errs.ErrNotFound, action.Resource.ToolID)
	}

	result, err := conn.Execute(ctx, action)
	if err != nil {
		return contracts.ExecutionResult{}, fmt.Errorf("execservice: dispatch to %s: %w", action.Resource.ToolID, err)
	}

	return contracts.ExecutionResult{
		Success:     result.Success,
		Output:      sanitizeOutput(result.Output),
		Error:       result.Error,
		ReferenceID: referenceID,
		ExecutedAt:  now,
	}, nil
}

// sanitizeOutput walks a decoded JSON-shaped output tree, replacing the
// value of any map key matching a sensitive name with "[REDACTED]".
func sanitizeOutput(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			if isSensitiveOutputKey(k) {
				out[k] = "[REDACTED]"
				continue
			}
			out[k] = sanitizeOutput(inner)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = sanitizeOutput(inner)
		}
		return out
	default:
		return v
	}
}

func isSensitiveOutputKey(key string) bool {
	lower := strings.ToLower(key)
	for _, candidate := range sanitizedOutputKeys {
		if strings.Contains(lower, candidate) {
			return true
		}
	}
	return false
}
