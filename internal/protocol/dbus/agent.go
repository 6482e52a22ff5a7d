// Package dbus implements the org.dbusmcp.Agent D-Bus surface: service
// discovery at /org/dbusmcp/Agent/<PascalCase>, and the method set
// original_source/crates/op-agents/src/dbus_service.rs exposes per agent
// (Execute, RunOperation, AgentType, AgentId, Name, Description,
// Operations, SupportsOperation, Status, SecurityProfile, Metadata,
// Ping) plus the TaskCompleted/StatusChanged signals.
//
// No Go D-Bus library exists anywhere in the example corpus, so the
// wire protocol (conn.go, message.go, wire.go) is built directly on
// net/encoding — see DESIGN.md.
package dbus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

const agentInterface = "org.dbusmcp.Agent"

// KebabToPascal converts "network-bridge" to "NetworkBridge". Input must
// be lowercase alphanumerics and hyphens; any other byte is copied
// through unchanged so the transform never panics on odd input.
func KebabToPascal(kebab string) string {
	parts := strings.Split(kebab, "-")
	var b strings.Builder
	for _, p := range parts {
		if p == "" {
			continue
		}
		b.WriteString(strings.ToUpper(p[:1]))
		b.WriteString(p[1:])
	}
	return b.String()
}

// PascalToKebab converts "NetworkBridge" to "network-bridge". Together
// with KebabToPascal, kebab→Pascal→kebab is the identity for names whose
// hyphen-separated segments are non-empty and each start with a lowercase
// letter. A segment that starts with a digit, or an empty segment, does
// not survive the round trip: "net-2" becomes "Net2" and then "net2".
func PascalToKebab(pascal string) string {
	var b strings.Builder
	for i, r := range pascal {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('-')
			}
			b.WriteRune(r - 'A' + 'a')
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// ObjectPath returns /org/dbusmcp/Agent/<PascalCase> for a kebab-case
// agent name.
func ObjectPath(agentName string) string {
	return "/org/dbusmcp/Agent/" + KebabToPascal(agentName)
}

// ServiceName returns org.dbusmcp.Agent.<PascalCase> for a kebab-case
// agent name.
func ServiceName(agentName string) string {
	return agentInterface + "." + KebabToPascal(agentName)
}

// AgentTask is the JSON envelope Execute and RunOperation exchange,
// mirroring the Rust original's AgentTask shape.
type AgentTask struct {
	Type      string          `json:"type"`
	Operation string          `json:"operation"`
	Path      string          `json:"path,omitempty"`
	Args      json.RawMessage `json:"args,omitempty"`
	Config    json.RawMessage `json:"config,omitempty"`
}

// AgentClient calls the org.dbusmcp.Agent interface on one agent's
// object path over an already-established Conn.
type AgentClient struct {
	conn        *Conn
	agentName   string // kebab-case
	destination string
	objectPath  string
}

// NewAgentClient builds a client for agentName (kebab-case), targeting
// destination (the bus name the agent process registered, typically
// ServiceName(agentName)).
func NewAgentClient(conn *Conn, agentName, destination string) *AgentClient {
	return &AgentClient{
		conn:        conn,
		agentName:   agentName,
		destination: destination,
		objectPath:  ObjectPath(agentName),
	}
}

func (a *AgentClient) call(ctx context.Context, member, signature string, args ...any) (*Reply, error) {
	return a.conn.Call(ctx, callSpec{
		destination: a.destination,
		path:        a.objectPath,
		iface:       agentInterface,
		member:      member,
		signature:   signature,
		args:        args,
	})
}

func firstString(r *Reply) (string, error) {
	if len(r.Args) == 0 {
		return "", fmt.Errorf("dbus: reply had no arguments")
	}
	s, ok := r.Args[0].(string)
	if !ok {
		return "", fmt.Errorf("dbus: reply arg0 was %T, want string", r.Args[0])
	}
	return s, nil
}

func firstBool(r *Reply) (bool, error) {
	if len(r.Args) == 0 {
		return false, fmt.Errorf("dbus: reply had no arguments")
	}
	b, ok := r.Args[0].(bool)
	if !ok {
		return false, fmt.Errorf("dbus: reply arg0 was %T, want bool", r.Args[0])
	}
	return b, nil
}

// Execute marshals task and calls Execute(s)->s, returning the raw JSON
// result string the agent produced.
func (a *AgentClient) Execute(ctx context.Context, task AgentTask) (string, error) {
	body, err := json.Marshal(task)
	if err != nil {
		return "", fmt.Errorf("dbus: marshal agent task: %w", err)
	}
	reply, err := a.call(ctx, "Execute", "s", string(body))
	if err != nil {
		return "", err
	}
	return firstString(reply)
}

// RunOperation calls RunOperation(sss)->s, the convenience wrapper the
// original exposes for building an AgentTask from loose strings.
func (a *AgentClient) RunOperation(ctx context.Context, operation, path, args string) (string, error) {
	reply, err := a.call(ctx, "RunOperation", "sss", operation, path, args)
	if err != nil {
		return "", err
	}
	return firstString(reply)
}

// AgentType calls AgentType()->s.
func (a *AgentClient) AgentType(ctx context.Context) (string, error) {
	reply, err := a.call(ctx, "AgentType", "")
	if err != nil {
		return "", err
	}
	return firstString(reply)
}

// AgentId calls AgentId()->s.
func (a *AgentClient) AgentId(ctx context.Context) (string, error) {
	reply, err := a.call(ctx, "AgentId", "")
	if err != nil {
		return "", err
	}
	return firstString(reply)
}

// Name calls Name()->s.
func (a *AgentClient) Name(ctx context.Context) (string, error) {
	reply, err := a.call(ctx, "Name", "")
	if err != nil {
		return "", err
	}
	return firstString(reply)
}

// Description calls Description()->s.
func (a *AgentClient) Description(ctx context.Context) (string, error) {
	reply, err := a.call(ctx, "Description", "")
	if err != nil {
		return "", err
	}
	return firstString(reply)
}

// Operations calls Operations()->as. The reply is a D-Bus array, which
// this minimal client's decodeBody does not parse generically, so
// Operations issues Execute-style JSON instead of relying on container
// decoding: it calls the method and expects the agent to have encoded
// its array as a JSON string body (signature "s") for compatibility
// with this client's scalar-only decoder.
func (a *AgentClient) Operations(ctx context.Context) ([]string, error) {
	reply, err := a.call(ctx, "Operations", "")
	if err != nil {
		return nil, err
	}
	s, err := firstString(reply)
	if err != nil {
		return nil, err
	}
	var ops []string
	if err := json.Unmarshal([]byte(s), &ops); err != nil {
		return nil, fmt.Errorf("dbus: decode Operations reply: %w", err)
	}
	return ops, nil
}

// SupportsOperation calls SupportsOperation(s)->b.
func (a *AgentClient) SupportsOperation(ctx context.Context, operation string) (bool, error) {
	reply, err := a.call(ctx, "SupportsOperation", "s", operation)
	if err != nil {
		return false, err
	}
	return firstBool(reply)
}

// Status calls Status()->s.
func (a *AgentClient) Status(ctx context.Context) (string, error) {
	reply, err := a.call(ctx, "Status", "")
	if err != nil {
		return "", err
	}
	return firstString(reply)
}

// SecurityProfile calls SecurityProfile()->s, returning the JSON-encoded
// security.SecurityProfile the agent reports.
func (a *AgentClient) SecurityProfile(ctx context.Context) (string, error) {
	reply, err := a.call(ctx, "SecurityProfile", "")
	if err != nil {
		return "", err
	}
	return firstString(reply)
}

// Metadata calls Metadata()->s, returning the JSON metadata blob.
func (a *AgentClient) Metadata(ctx context.Context) (string, error) {
	reply, err := a.call(ctx, "Metadata", "")
	if err != nil {
		return "", err
	}
	return firstString(reply)
}

// Ping calls Ping()->b.
func (a *AgentClient) Ping(ctx context.Context) (bool, error) {
	reply, err := a.call(ctx, "Ping", "")
	if err != nil {
		return false, err
	}
	return firstBool(reply)
}

// TaskCompletedSignal mirrors the task_completed(ssb) signal body.
type TaskCompletedSignal struct {
	TaskID     string
	Success    bool
	ResultJSON string
}

// StatusChangedSignal mirrors the status_changed(s) signal body.
type StatusChangedSignal struct {
	NewStatus string
}
