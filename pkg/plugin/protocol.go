// Package plugin is the wire protocol spoken between autopilot and tool
// providers that run as separate processes. Provider authors implement
// Handler and call Serve from their main function.
package plugin

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

const (
	// HandshakeVersion is the protocol version in the handshake line.
	HandshakeVersion = 1
	// MaxMessageSize is the maximum length of a single protocol message (4 MB).
	MaxMessageSize = 4 * 1024 * 1024
)

const (
	MethodCapabilities = "capabilities"
	MethodCall         = "call"
)

// Request is the wire format sent from the host to the provider.
type Request struct {
	Method     string         `json:"method"`
	ID         string         `json:"id,omitempty"`
	Capability string         `json:"capability,omitempty"`
	Args       map[string]any `json:"args,omitempty"`
}

// Response is the wire format sent from the provider back to the host.
// Error is set when the capability ran and failed; the host reports it
// as a tool failure rather than a transport failure.
type Response struct {
	CallID  string           `json:"call_id,omitempty"`
	Content string           `json:"content,omitempty"`
	Error   string           `json:"error,omitempty"`
	Caps    *CapabilitiesMsg `json:"caps,omitempty"`
}

// CapabilitiesMsg carries the provider's self-description.
type CapabilitiesMsg struct {
	Name         string          `json:"name"`
	Description  string          `json:"description"`
	Capabilities []CapabilityMsg `json:"capabilities"`
}

// CapabilityMsg describes one callable operation.
type CapabilityMsg struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  []ParameterMsg `json:"parameters,omitempty"`
}

// ParameterMsg describes one argument of a capability. Type is one of
// string, number, integer, boolean, object, array; empty means any.
type ParameterMsg struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Type        string `json:"type"`
	Required    bool   `json:"required"`
}

// Handshake is the first line a provider binary writes to stdout.
// Format: "<version>|<network>|<address>\n"
// Example: "1|unix|/tmp/autopilot-workspace.sock"
type Handshake struct {
	Version int
	Network string // "unix" or "tcp"
	Address string // socket path or host:port
}

func (h Handshake) String() string {
	return fmt.Sprintf("%d|%s|%s", h.Version, h.Network, h.Address)
}

// ParseHandshake parses a handshake line from a provider binary.
func ParseHandshake(line string) (Handshake, error) {
	parts := strings.SplitN(strings.TrimSpace(line), "|", 3)
	if len(parts) != 3 {
		return Handshake{}, fmt.Errorf("invalid handshake %q: expected version|network|address", line)
	}

	var h Handshake
	if _, err := fmt.Sscan(parts[0], &h.Version); err != nil {
		return Handshake{}, fmt.Errorf("invalid handshake version %q: %w", parts[0], err)
	}
	h.Network = parts[1]
	h.Address = parts[2]

	if h.Version != HandshakeVersion {
		return Handshake{}, fmt.Errorf("unsupported handshake version %d (want %d)", h.Version, HandshakeVersion)
	}
	if h.Network != "unix" && h.Network != "tcp" {
		return Handshake{}, fmt.Errorf("unsupported network %q (want unix or tcp)", h.Network)
	}
	if h.Address == "" {
		return Handshake{}, fmt.Errorf("invalid handshake %q: empty address", line)
	}
	return h, nil
}

// WriteMessage sends a length-prefixed JSON message.
func WriteMessage(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	if len(data) > MaxMessageSize {
		return fmt.Errorf("message too large: %d bytes (max %d)", len(data), MaxMessageSize)
	}
	buf := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(buf, uint32(len(data)))
	copy(buf[4:], data)
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// ReadMessage reads a length-prefixed JSON message.
func ReadMessage(r io.Reader, v any) error {
	header := make([]byte, 4)
	if _, err := io.ReadFull(r, header); err != nil {
		return fmt.Errorf("read header: %w", err)
	}
	size := binary.BigEndian.Uint32(header)
	if size > MaxMessageSize {
		return fmt.Errorf("message too large: %d bytes (max %d)", size, MaxMessageSize)
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	return json.Unmarshal(body, v)
}
