package ovsdb

import (
	"context"
	"encoding/json"
	"fmt"
)

// namedUUID builds an OVSDB ["named-uuid", name] reference.
func namedUUID(name string) []any { return []any{"named-uuid", name} }

// uuidRef builds an OVSDB ["uuid", id] reference.
func uuidRef(id string) []any { return []any{"uuid", id} }

// CreateBridge inserts Bridge + Port + Interface rows bound by named-uuid
// and mutates Open_vSwitch.bridges, all in one transaction — the exact
// shape of original_source/crates/op-jsonrpc/src/ovsdb.rs's create_bridge.
func (c *Client) CreateBridge(ctx context.Context, name string) error {
	bridgeUUID := "bridge-" + name
	portUUID := "port-" + name
	ifaceUUID := "iface-" + name

	ops := []Operation{
		{
			"op":    "insert",
			"table": "Interface",
			"row": map[string]any{
				"name": name,
				"type": "internal",
			},
			"uuid-name": ifaceUUID,
		},
		{
			"op":    "insert",
			"table": "Port",
			"row": map[string]any{
				"name":       name,
				"interfaces": []any{"set", []any{namedUUID(ifaceUUID)}},
			},
			"uuid-name": portUUID,
		},
		{
			"op":    "insert",
			"table": "Bridge",
			"row": map[string]any{
				"name":  name,
				"ports": []any{"set", []any{namedUUID(portUUID)}},
			},
			"uuid-name": bridgeUUID,
		},
		{
			"op":    "mutate",
			"table": "Open_vSwitch",
			"where": []any{},
			"mutations": []any{
				[]any{"bridges", "insert", []any{"set", []any{namedUUID(bridgeUUID)}}},
			},
		},
	}

	_, err := c.Transact(ctx, "Open_vSwitch", ops)
	if err != nil {
		return fmt.Errorf("ovsdb: create bridge %q: %w", name, err)
	}
	return nil
}

// DeleteBridge removes a bridge by name: looks up its UUID, then deletes
// the Bridge row and mutates it out of Open_vSwitch.bridges.
func (c *Client) DeleteBridge(ctx context.Context, name string) error {
	bridgeUUID, err := c.findBridgeUUID(ctx, name)
	if err != nil {
		return err
	}

	ops := []Operation{
		{
			"op":    "mutate",
			"table": "Open_vSwitch",
			"where": []any{},
			"mutations": []any{
				[]any{"bridges", "delete", uuidRef(bridgeUUID)},
			},
		},
		{
			"op":    "delete",
			"table": "Bridge",
			"where": []any{[]any{"_uuid", "==", uuidRef(bridgeUUID)}},
		},
	}
	_, err = c.Transact(ctx, "Open_vSwitch", ops)
	if err != nil {
		return fmt.Errorf("ovsdb: delete bridge %q: %w", name, err)
	}
	return nil
}

// AddPort attaches a new port+interface pair to an existing bridge.
func (c *Client) AddPort(ctx context.Context, bridge, port string) error {
	bridgeUUID, err := c.findBridgeUUID(ctx, bridge)
	if err != nil {
		return err
	}
	portUUID := "port-" + port
	ifaceUUID := "iface-" + port

	ops := []Operation{
		{
			"op":        "insert",
			"table":     "Interface",
			"row":       map[string]any{"name": port},
			"uuid-name": ifaceUUID,
		},
		{
			"op":    "insert",
			"table": "Port",
			"row": map[string]any{
				"name":       port,
				"interfaces": []any{"set", []any{namedUUID(ifaceUUID)}},
			},
			"uuid-name": portUUID,
		},
		{
			"op":    "mutate",
			"table": "Bridge",
			"where": []any{[]any{"_uuid", "==", uuidRef(bridgeUUID)}},
			"mutations": []any{
				[]any{"ports", "insert", []any{"set", []any{namedUUID(portUUID)}}},
			},
		},
	}
	_, err = c.Transact(ctx, "Open_vSwitch", ops)
	if err != nil {
		return fmt.Errorf("ovsdb: add port %q to bridge %q: %w", port, bridge, err)
	}
	return nil
}

// ListBridges returns the names of all configured bridges.
func (c *Client) ListBridges(ctx context.Context) ([]string, error) {
	ops := []Operation{
		{"op": "select", "table": "Bridge", "where": []any{}, "columns": []any{"name"}},
	}
	results, err := c.Transact(ctx, "Open_vSwitch", ops)
	if err != nil {
		return nil, err
	}
	return extractStringColumn(results, "name")
}

func (c *Client) findBridgeUUID(ctx context.Context, name string) (string, error) {
	ops := []Operation{
		{
			"op":      "select",
			"table":   "Bridge",
			"where":   []any{[]any{"name", "==", name}},
			"columns": []any{"_uuid"},
		},
	}
	results, err := c.Transact(ctx, "Open_vSwitch", ops)
	if err != nil {
		return "", err
	}
	rows, err := firstSelectRows(results)
	if err != nil {
		return "", err
	}
	if len(rows) == 0 {
		return "", fmt.Errorf("ovsdb: bridge %q not found", name)
	}
	var row struct {
		UUID []json.RawMessage `json:"_uuid"`
	}
	if err := json.Unmarshal(rows[0], &row); err != nil {
		return "", fmt.Errorf("ovsdb: decode bridge row: %w", err)
	}
	if len(row.UUID) != 2 {
		return "", fmt.Errorf("ovsdb: malformed _uuid for bridge %q", name)
	}
	var id string
	if err := json.Unmarshal(row.UUID[1], &id); err != nil {
		return "", fmt.Errorf("ovsdb: decode bridge uuid: %w", err)
	}
	return id, nil
}

type selectResult struct {
	Rows []json.RawMessage `json:"rows"`
}

func firstSelectRows(results []json.RawMessage) ([]json.RawMessage, error) {
	if len(results) == 0 {
		return nil, fmt.Errorf("ovsdb: empty transaction result")
	}
	var sel selectResult
	if err := json.Unmarshal(results[0], &sel); err != nil {
		return nil, fmt.Errorf("ovsdb: decode select result: %w", err)
	}
	return sel.Rows, nil
}

func extractStringColumn(results []json.RawMessage, column string) ([]string, error) {
	rows, err := firstSelectRows(results)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(rows))
	for _, raw := range rows {
		var m map[string]json.RawMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			continue
		}
		val, ok := m[column]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(val, &s); err == nil {
			out = append(out, s)
		}
	}
	return out, nil
}
