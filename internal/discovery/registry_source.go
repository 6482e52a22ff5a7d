package discovery

import (
	"context"

	"github.com/dbusmcp/opctl/internal/fabric"
	"github.com/dbusmcp/opctl/pkg/models"
)

// RegistrySource adapts a *fabric.Registry (protocol/agent/plugin tool
// factories already registered at startup) into a discovery Source. It
// is always available and simply snapshots the Registry's current
// definition list on Discover.
type RegistrySource struct {
	sourceType SourceType
	name       string
	registry   *fabric.Registry
}

// NewRegistrySource wraps registry as a discovery Source reporting
// sourceType (Builtin, Dbus, Plugin, or Agent, depending on which
// Registry instance it fronts).
func NewRegistrySource(sourceType SourceType, name string, registry *fabric.Registry) *RegistrySource {
	return &RegistrySource{sourceType: sourceType, name: name, registry: registry}
}

func (s *RegistrySource) SourceType() SourceType { return s.sourceType }
func (s *RegistrySource) Name() string            { return s.name }
func (s *RegistrySource) Description() string     { return "registry-backed source: " + s.name }
func (s *RegistrySource) IsAvailable(ctx context.Context) bool { return s.registry != nil }

func (s *RegistrySource) Discover(ctx context.Context) ([]models.ToolDefinition, error) {
	if s.registry == nil {
		return nil, nil
	}
	return s.registry.List(), nil
}
