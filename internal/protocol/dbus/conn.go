package dbus

import (
	"bufio"
	"context"
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// SystemBusAddress is the conventional system bus socket path.
const SystemBusAddress = "/var/run/dbus/system_bus_socket"

// Conn is a single-connection D-Bus client: one socket, one in-flight
// auth handshake, then unbounded method calls keyed by serial. It does
// not implement the full bus protocol (no eavesdropping, no match
// rules) — only what a forced-tool agent surface needs to call methods
// on a well-known service and read back a reply.
type Conn struct {
	conn       net.Conn
	br         *bufio.Reader
	mu         sync.Mutex // serializes writes; one call in flight at a time
	nextSerial atomic.Uint32
	uniqueName string
}

// Dial connects to addr (a Unix socket path), performs the EXTERNAL SASL
// handshake, and registers with the bus via Hello.
func Dial(ctx context.Context, addr string) (*Conn, error) {
	d := &net.Dialer{}
	raw, err := d.DialContext(ctx, "unix", addr)
	if err != nil {
		return nil, fmt.Errorf("dbus: dial %s: %w", addr, err)
	}
	c := &Conn{conn: raw, br: bufio.NewReader(raw)}
	if err := c.authenticate(); err != nil {
		raw.Close()
		return nil, err
	}
	name, err := c.hello(ctx)
	if err != nil {
		raw.Close()
		return nil, err
	}
	c.uniqueName = name
	return c, nil
}

// authenticate runs the EXTERNAL SASL mechanism: a NUL byte, then
// "AUTH EXTERNAL <hex-uid>", then "BEGIN" once the server answers OK.
func (c *Conn) authenticate() error {
	if _, err := c.conn.Write([]byte{0}); err != nil {
		return fmt.Errorf("dbus: write initial NUL: %w", err)
	}
	uid := fmt.Sprintf("%d", os.Getuid())
	line := fmt.Sprintf("AUTH EXTERNAL %s\r\n", hex.EncodeToString([]byte(uid)))
	if _, err := c.conn.Write([]byte(line)); err != nil {
		return fmt.Errorf("dbus: write AUTH: %w", err)
	}
	resp, err := c.br.ReadString('\n')
	if err != nil {
		return fmt.Errorf("dbus: read AUTH response: %w", err)
	}
	if !strings.HasPrefix(resp, "OK") {
		return fmt.Errorf("dbus: auth rejected: %s", strings.TrimSpace(resp))
	}
	if _, err := c.conn.Write([]byte("BEGIN\r\n")); err != nil {
		return fmt.Errorf("dbus: write BEGIN: %w", err)
	}
	return nil
}

func (c *Conn) hello(ctx context.Context) (string, error) {
	reply, err := c.Call(ctx, callSpec{
		destination: "org.freedesktop.DBus",
		path:        "/org/freedesktop/DBus",
		iface:       "org.freedesktop.DBus",
		member:      "Hello",
	})
	if err != nil {
		return "", fmt.Errorf("dbus: Hello: %w", err)
	}
	if len(reply.Args) != 1 {
		return "", fmt.Errorf("dbus: Hello returned %d args, want 1", len(reply.Args))
	}
	name, _ := reply.Args[0].(string)
	return name, nil
}

// Close shuts down the underlying socket.
func (c *Conn) Close() error { return c.conn.Close() }

// callSpec describes an outgoing method call before serialization.
type callSpec struct {
	destination string
	path        string
	iface       string
	member      string
	signature   string // e.g. "ss" — type codes for args, positional
	args        []any
}

// CallSpec is the exported form of callSpec, for callers outside this
// package (the Tool Fabric's Protocol Method Factory) that need to issue
// an arbitrary method call rather than go through AgentClient's fixed
// surface.
type CallSpec struct {
	Destination string
	Path        string
	Interface   string
	Member      string
	Signature   string
	Args        []any
}

// CallMethod is the exported equivalent of Call, taking a CallSpec.
func (c *Conn) CallMethod(ctx context.Context, spec CallSpec) (*Reply, error) {
	return c.Call(ctx, callSpec{
		destination: spec.Destination,
		path:        spec.Path,
		iface:       spec.Interface,
		member:      spec.Member,
		signature:   spec.Signature,
		args:        spec.Args,
	})
}

// Reply is a decoded METHOD_RETURN: positional arguments in declaration
// order, already converted to JSON-friendly Go values per the scalar
// type mapping in wire.go.
type Reply struct {
	Args []any
}

// Call sends a METHOD_CALL and blocks for its METHOD_RETURN or ERROR,
// bounded by ctx. Only one call may be in flight per Conn at a time —
// callers needing concurrency should use one Conn per goroutine, which
// matches the per-task agent lifecycle spec.md §5 describes.
func (c *Conn) Call(ctx context.Context, spec callSpec) (*Reply, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetDeadline(deadline)
	} else {
		_ = c.conn.SetDeadline(time.Now().Add(30 * time.Second))
	}
	defer c.conn.SetDeadline(time.Time{})

	serial := c.nextSerial.Add(1)
	msg, err := encodeMethodCall(serial, spec)
	if err != nil {
		return nil, fmt.Errorf("dbus: encode call %s.%s: %w", spec.iface, spec.member, err)
	}
	if _, err := c.conn.Write(msg); err != nil {
		return nil, fmt.Errorf("dbus: write call: %w", err)
	}

	for {
		hdr, body, err := readMessage(c.br)
		if err != nil {
			return nil, fmt.Errorf("dbus: read reply: %w", err)
		}
		if hdr.replySerial != serial {
			// A signal or an unrelated reply arrived first; this minimal
			// client only expects replies to its own outstanding call.
			continue
		}
		if hdr.msgType == msgTypeError {
			name, detail := decodeErrorBody(hdr.signature, body)
			return nil, fmt.Errorf("dbus: %s: %s", name, detail)
		}
		args, err := decodeBody(hdr.signature, body)
		if err != nil {
			return nil, fmt.Errorf("dbus: decode reply body: %w", err)
		}
		return &Reply{Args: args}, nil
	}
}

func decodeErrorBody(signature string, body []byte) (name, detail string) {
	args, err := decodeBody(signature, body)
	if err != nil || len(args) == 0 {
		return "org.freedesktop.DBus.Error.Failed", ""
	}
	if s, ok := args[0].(string); ok {
		detail = s
	}
	return "org.freedesktop.DBus.Error.Failed", detail
}
