// Package qoserr defines the tagged error variants surfaced to clients and
// operators (§6, §7). Each is a distinct Go type rather than a single error
// with an embedded code string, so callers can errors.As to the structured
// fields instead of parsing a message.
package qoserr

import (
	"errors"
	"fmt"
	"strings"

	"github.com/appstonia/qosgov/internal/qos/limits"
)

// Classified is implemented by every error type in this package. Code is
// the host-level error code from §6 (INSUFFICIENT_RESOURCES or
// PROGRAM_LIMIT_EXCEEDED); Detail and Hint are the companion fields §6
// requires alongside the short message.
type Classified interface {
	error
	Code() string
	Detail() string
	Hint() string
}

const (
	codeInsufficientResources = "INSUFFICIENT_RESOURCES"
	codeProgramLimitExceeded  = "PROGRAM_LIMIT_EXCEEDED"
)

// InvalidName is raised by strict configuration validation (§4.1, §7) when
// a SET/ALTER ... SET qos.* statement names an unrecognized setting.
type InvalidName struct {
	Name string
}

func (e *InvalidName) Error() string {
	return fmt.Sprintf("qos: unrecognized setting: %q", e.Name)
}
func (e *InvalidName) Code() string   { return codeInsufficientResources }
func (e *InvalidName) Detail() string { return fmt.Sprintf("Setting: %s", e.Name) }
func (e *InvalidName) Hint() string   { return "Check the spelling of the qos.* setting name." }

// InvalidValue is raised by strict configuration validation when a
// recognized qos.* setting is given a malformed value.
type InvalidValue struct {
	Name  string
	Value string
	Cause error
}

func (e *InvalidValue) Error() string {
	return fmt.Sprintf("qos: invalid value for %s: %q", e.Name, e.Value)
}
func (e *InvalidValue) Unwrap() error { return e.Cause }
func (e *InvalidValue) Code() string  { return codeInsufficientResources }
func (e *InvalidValue) Detail() string {
	if e.Cause != nil {
		return e.Cause.Error()
	}
	return fmt.Sprintf("Setting: %s, Value: %s", e.Name, e.Value)
}
func (e *InvalidValue) Hint() string { return "Contact administrator to correct the setting value." }

// LimitExceeded is raised by admission (§4.5) when a concurrency limit
// (transaction count, or a per-kind statement count) is reached.
type LimitExceeded struct {
	Kind    limits.CmdKind // CmdNone means "transaction limit", not a statement kind
	Current int32
	Max     int32
}

func (e *LimitExceeded) Error() string {
	if e.Kind == limits.CmdNone {
		return "qos: maximum concurrent transactions exceeded"
	}
	return fmt.Sprintf("qos: maximum concurrent %s statements exceeded", strings.ToUpper(e.Kind.String()))
}
func (e *LimitExceeded) Code() string { return codeProgramLimitExceeded }
func (e *LimitExceeded) Detail() string {
	return fmt.Sprintf("Current: %d, Maximum: %d", e.Current, e.Max)
}
func (e *LimitExceeded) Hint() string { return "Wait for other queries to complete." }

// WorkMemExceeded is raised in the utility hook (§4.8) on SET work_mem when
// the requested value exceeds the effective limit and
// work_mem_error_level = error.
type WorkMemExceeded struct {
	RequestedBytes int64
	MaxBytes       int64
}

func (e *WorkMemExceeded) Error() string { return "qos: work_mem exceeds the configured maximum" }
func (e *WorkMemExceeded) Code() string  { return codeInsufficientResources }
func (e *WorkMemExceeded) Detail() string {
	return fmt.Sprintf("Requested %d KB, maximum allowed is %d KB", e.RequestedBytes/1024, e.MaxBytes/1024)
}
func (e *WorkMemExceeded) Hint() string { return "Contact administrator to increase qos.work_mem_limit." }

var (
	_ Classified = (*InvalidName)(nil)
	_ Classified = (*InvalidValue)(nil)
	_ Classified = (*LimitExceeded)(nil)
	_ Classified = (*WorkMemExceeded)(nil)
)

// ErrPlatformUnavailable and ErrSharedStateUninitialized are internal
// sentinels (§7: "PlatformUnavailable -- internal only" and "transient
// shared-memory unavailability ... no error is surfaced"). They are never
// returned to a client; components that encounter them treat the operation
// as a silent no-op. They are exported as errors.Is-comparable values so
// that internal callers across packages can agree on the same sentinel
// without a dependency cycle back to the components that raise them.
var (
	ErrPlatformUnavailable      = errors.New("qos: platform facility unavailable")
	ErrSharedStateUninitialized = errors.New("qos: shared state not yet initialized")
)
