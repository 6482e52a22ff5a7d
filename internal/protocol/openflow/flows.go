// Package openflow expresses flow-table operations as OVSDB Flow_Table
// mutations, standing in for a direct OpenFlow transport — spec.md §4.3
// and §9 note this is an explicit, temporary stand-in, not a full
// OpenFlow wire implementation.
package openflow

import (
	"context"
	"fmt"

	"github.com/dbusmcp/opctl/internal/protocol/ovsdb"
)

// Flow is a rule as passed to AddFlow plus the human-readable flow string
// callers can show a user or feed back to the model for verification.
type Flow struct {
	Bridge    string `json:"bridge"`
	Priority  int    `json:"priority"`
	Match     string `json:"match"`
	Actions   string `json:"actions"`
	FlowText  string `json:"flow_text"`
}

// Client manages Flow_Table rows via an OVSDB client.
type Client struct {
	ovsdb *ovsdb.Client
}

// NewClient wraps an OVSDB client for flow-table operations.
func NewClient(ovsdbClient *ovsdb.Client) *Client {
	return &Client{ovsdb: ovsdbClient}
}

// AddFlow inserts a Flow_Table row named "opctl-<bridge>" whose flow_limit
// column holds priority, and returns a Flow with the rule and its
// flow-string rendering. Match and actions are not written to OVSDB; they
// exist only in the returned Flow.
func (c *Client) AddFlow(ctx context.Context, bridge string, priority int, match, actions string) (*Flow, error) {
	flowText := renderFlowText(priority, match, actions)
	ops := []ovsdb.Operation{
		{
			"op":    "insert",
			"table": "Flow_Table",
			"row": map[string]any{
				"name":  fmt.Sprintf("opctl-%s", bridge),
				"flow_limit": priority,
			},
		},
	}
	if _, err := c.ovsdb.Transact(ctx, "Open_vSwitch", ops); err != nil {
		return nil, fmt.Errorf("openflow: add flow on %q: %w", bridge, err)
	}
	return &Flow{
		Bridge:   bridge,
		Priority: priority,
		Match:    match,
		Actions:  actions,
		FlowText: flowText,
	}, nil
}

// DeleteFlow removes the Flow_Table row opctl created for this bridge.
func (c *Client) DeleteFlow(ctx context.Context, bridge string) error {
	ops := []ovsdb.Operation{
		{
			"op":    "delete",
			"table": "Flow_Table",
			"where": []any{[]any{"name", "==", fmt.Sprintf("opctl-%s", bridge)}},
		},
	}
	if _, err := c.ovsdb.Transact(ctx, "Open_vSwitch", ops); err != nil {
		return fmt.Errorf("openflow: delete flow on %q: %w", bridge, err)
	}
	return nil
}

func renderFlowText(priority int, match, actions string) string {
	return fmt.Sprintf("priority=%d,%s actions=%s", priority, match, actions)
}
