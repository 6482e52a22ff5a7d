package plugins

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dbusmcp/opctl/internal/protocol/ovsdb"
)

// NetworkBridgePlugin is a concrete StatePlugin over the OVSDB bridge
// table: desired state names the bridges that should exist, GetState
// reports the bridges that do, and Diff/Apply compute and perform the
// create/delete set difference. Grounded on
// internal/protocol/ovsdb/bridge.go's CreateBridge/DeleteBridge/
// ListBridges, the same operations the Protocol Bridge's tool factories
// wrap directly — this plugin instead drives them from a declarative
// desired-state document, per spec.md §4.11.
type NetworkBridgePlugin struct {
	client *ovsdb.Client
}

// NewNetworkBridgePlugin builds a NetworkBridgePlugin over client.
func NewNetworkBridgePlugin(client *ovsdb.Client) *NetworkBridgePlugin {
	return &NetworkBridgePlugin{client: client}
}

func (p *NetworkBridgePlugin) ID() string { return "network-bridge" }

func (p *NetworkBridgePlugin) Capabilities() Capabilities {
	return Capabilities{
		CanRead:        true,
		CanWrite:       true,
		CanDelete:      true,
		SupportsDryRun: true,
	}
}

type networkBridgeState struct {
	Bridges []string `json:"bridges"`
}

func (p *NetworkBridgePlugin) GetState(ctx context.Context, storage *PluginStorage) (json.RawMessage, error) {
	bridges, err := p.client.ListBridges(ctx)
	if err != nil {
		return nil, fmt.Errorf("network-bridge: get_state: %w", err)
	}
	return json.Marshal(networkBridgeState{Bridges: bridges})
}

// desiredBridges computes the create/delete sets between current and
// desired bridge name lists.
func desiredBridges(current, desired []string) (toCreate, toDelete []string) {
	currentSet := make(map[string]bool, len(current))
	for _, b := range current {
		currentSet[b] = true
	}
	desiredSet := make(map[string]bool, len(desired))
	for _, b := range desired {
		desiredSet[b] = true
		if !currentSet[b] {
			toCreate = append(toCreate, b)
		}
	}
	for _, b := range current {
		if !desiredSet[b] {
			toDelete = append(toDelete, b)
		}
	}
	return toCreate, toDelete
}

func (p *NetworkBridgePlugin) Diff(ctx context.Context, storage *PluginStorage, desired json.RawMessage) ([]Change, error) {
	var want networkBridgeState
	if err := json.Unmarshal(desired, &want); err != nil {
		return nil, fmt.Errorf("network-bridge: diff: invalid desired state: %w", err)
	}
	current, err := p.client.ListBridges(ctx)
	if err != nil {
		return nil, fmt.Errorf("network-bridge: diff: %w", err)
	}

	toCreate, toDelete := desiredBridges(current, want.Bridges)
	changes := make([]Change, 0, len(toCreate)+len(toDelete))
	for _, b := range toCreate {
		changes = append(changes, Change{Op: ChangeCreate, Path: b, Description: "create bridge " + b})
	}
	for _, b := range toDelete {
		changes = append(changes, Change{Op: ChangeDelete, Path: b, Description: "delete bridge " + b})
	}
	return changes, nil
}

func (p *NetworkBridgePlugin) Apply(ctx context.Context, storage *PluginStorage, desired json.RawMessage) ([]Change, error) {
	planned, err := p.Diff(ctx, storage, desired)
	if err != nil {
		return nil, err
	}

	performed := make([]Change, 0, len(planned))
	for _, c := range planned {
		switch c.Op {
		case ChangeCreate:
			if err := p.client.CreateBridge(ctx, c.Path); err != nil {
				return performed, fmt.Errorf("network-bridge: apply: create %s: %w", c.Path, err)
			}
		case ChangeDelete:
			if err := p.client.DeleteBridge(ctx, c.Path); err != nil {
				return performed, fmt.Errorf("network-bridge: apply: delete %s: %w", c.Path, err)
			}
		}
		performed = append(performed, c)
	}
	return performed, nil
}
