package capability

import "fmt"

type DuplicateProviderError struct {
	Provider string
}

func (e *DuplicateProviderError) Error() string {
	return fmt.Sprintf("provider %q already registered", e.Provider)
}

type UnknownProviderError struct {
	Provider string
}

func (e *UnknownProviderError) Error() string {
	return fmt.Sprintf("provider %q not registered", e.Provider)
}

// ConnectionError reports a failed discovery round-trip. Err is the
// transport, protocol or timeout cause.
type ConnectionError struct {
	Provider string
	Address  string
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect provider %q at %s: %v", e.Provider, e.Address, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

type NotConnectedError struct {
	Provider string
	State    ConnectionState
}

func (e *NotConnectedError) Error() string {
	return fmt.Sprintf("provider %q is not connected (state %s)", e.Provider, e.State)
}

// UnknownCapabilityError reports a capability name that the provider
// did not expose at its last successful discovery.
type UnknownCapabilityError struct {
	Provider   string
	Capability string
}

func (e *UnknownCapabilityError) Error() string {
	return fmt.Sprintf("provider %q has no capability %q", e.Provider, e.Capability)
}

type InvalidArgumentError struct {
	Capability string
	Argument   string
	Reason     string
}

func (e *InvalidArgumentError) Error() string {
	return fmt.Sprintf("capability %q: argument %q: %s", e.Capability, e.Argument, e.Reason)
}

// InvocationError wraps any failure of a capability call after
// validation passed: transport errors, timeouts, and ToolError.
type InvocationError struct {
	Provider   string
	Capability string
	Err        error
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("invoke %s.%s: %v", e.Provider, e.Capability, e.Err)
}

func (e *InvocationError) Unwrap() error { return e.Err }

// ToolError is a failure reported by the provider itself.
type ToolError struct {
	Message string
}

func (e *ToolError) Error() string {
	return "tool reported error: " + e.Message
}
