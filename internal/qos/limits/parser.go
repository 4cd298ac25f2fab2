package limits

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Name identifies a recognized qos.* setting, with the qos. prefix removed.
type Name string

const (
	NameWorkMemLimit        Name = "work_mem_limit"
	NameCPUCoreLimit        Name = "cpu_core_limit"
	NameMaxConcurrentTx     Name = "max_concurrent_tx"
	NameMaxConcurrentSelect Name = "max_concurrent_select"
	NameMaxConcurrentUpdate Name = "max_concurrent_update"
	NameMaxConcurrentDelete Name = "max_concurrent_delete"
	NameMaxConcurrentInsert Name = "max_concurrent_insert"
	NameWorkMemErrorLevel   Name = "work_mem_error_level"
	NameEnabled             Name = "enabled"
)

// Prefix is the reserved configuration namespace this module owns.
const Prefix = "qos."

// Sentinel error kinds. Callers recover the structured detail via
// errors.As against qoserr's classified error types in the caller-facing
// layer; within this package a plain wrapped error is enough since
// ParseEntry/ApplyValue are pure functions with no host error channel of
// their own.
var (
	ErrInvalidName  = errors.New("qos: invalid setting name")
	ErrInvalidValue = errors.New("qos: invalid setting value")
)

// ParseError wraps one of the sentinels above with a human-readable detail.
type ParseError struct {
	Kind error
	Msg  string
}

func newParseError(kind error, format string, args ...any) *ParseError {
	return &ParseError{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func (e *ParseError) Error() string { return e.Msg }

func (e *ParseError) Unwrap() error { return e.Kind }

// IsValidName reports whether name (with its qos. prefix intact) is one of
// the recognized setting names.
func IsValidName(name string) bool {
	_, ok := stripPrefix(name)
	return ok
}

func stripPrefix(name string) (Name, bool) {
	if !strings.HasPrefix(name, Prefix) {
		return "", false
	}
	n := Name(strings.TrimPrefix(name, Prefix))
	switch n {
	case NameWorkMemLimit, NameCPUCoreLimit, NameMaxConcurrentTx,
		NameMaxConcurrentSelect, NameMaxConcurrentUpdate, NameMaxConcurrentDelete, NameMaxConcurrentInsert,
		NameWorkMemErrorLevel, NameEnabled:
		return n, true
	default:
		return "", false
	}
}

// ParseEntry splits a "name=value" configuration entry into its name and
// value, trimming whitespace around both halves. It does not validate that
// the name is recognized; callers interested in qos.* entries only should
// check IsValidName (or just call ApplyValue, which does).
func ParseEntry(text string) (name, value string, err error) {
	idx := strings.IndexByte(text, '=')
	if idx < 0 {
		return "", "", newParseError(ErrInvalidValue, "qos: malformed entry, missing '=': %q", text)
	}
	name = strings.TrimSpace(text[:idx])
	value = strings.TrimSpace(text[idx+1:])
	if name == "" {
		return "", "", newParseError(ErrInvalidValue, "qos: malformed entry, empty name: %q", text)
	}
	return name, value, nil
}

// ApplyValue parses text as the value for name and sets the corresponding
// field on l. In strict mode (direct SET/ALTER ... SET qos.* statements)
// an unrecognized name or a malformed value is returned as an error to be
// surfaced to the client. In non-strict mode (parsing persisted catalog
// entries, §4.1/§4.2) the same errors are returned, ErrInvalidName for an
// unrecognized name included; the non-strict contract is "drop the
// offending entry, keep scanning the rest of the row", which the catalog
// reader implements by ignoring the returned error.
func ApplyValue(l *Limits, name, text string, strict bool) error {
	n, ok := stripPrefix(name)
	if !ok {
		if strict {
			return newParseError(ErrInvalidName, "qos: unrecognized setting: %q", name)
		}
		return newParseError(ErrInvalidName, "qos: ignoring non-qos setting: %q", name)
	}

	switch n {
	case NameWorkMemLimit:
		v, err := ParseMemory(text)
		if err != nil {
			return err
		}
		l.WorkMemBytes = v
	case NameCPUCoreLimit:
		v, err := parseNonNegative32(text)
		if err != nil {
			return err
		}
		l.CPUCoreLimit = v
	case NameMaxConcurrentTx:
		v, err := parseNonNegative32(text)
		if err != nil {
			return err
		}
		l.MaxConcurrentTx = v
	case NameMaxConcurrentSelect:
		v, err := parseNonNegative32(text)
		if err != nil {
			return err
		}
		l.MaxConcurrentSelect = v
	case NameMaxConcurrentUpdate:
		v, err := parseNonNegative32(text)
		if err != nil {
			return err
		}
		l.MaxConcurrentUpdate = v
	case NameMaxConcurrentDelete:
		v, err := parseNonNegative32(text)
		if err != nil {
			return err
		}
		l.MaxConcurrentDelete = v
	case NameMaxConcurrentInsert:
		v, err := parseNonNegative32(text)
		if err != nil {
			return err
		}
		l.MaxConcurrentInsert = v
	case NameWorkMemErrorLevel:
		v, err := parseErrorLevel(text)
		if err != nil {
			return err
		}
		l.WorkMemErrorLevel = v
		l.workMemErrorLevelSet = true
	case NameEnabled:
		// qos.enabled is a process-wide flag (§6), not a Limits field; the
		// hook glue holds it in hooks.Enabled, set by the host through
		// SetEnabled. Validate
		// the value shape here so strict SET qos.enabled = <garbage> still
		// fails fast.
		if _, err := parseBool(text); err != nil {
			return err
		}
	default:
		return newParseError(ErrInvalidName, "qos: unrecognized setting: %q", name)
	}
	return nil
}

// parseNonNegative32 parses a non-negative 32-bit integer limit, with -1
// reserved as "unset". Any other negative value is an error.
func parseNonNegative32(text string) (int32, error) {
	text = strings.TrimSpace(text)
	v, err := strconv.ParseInt(text, 10, 32)
	if err != nil {
		return 0, newParseError(ErrInvalidValue, "qos: not a valid integer: %q", text)
	}
	if v < 0 && v != Unset {
		return 0, newParseError(ErrInvalidValue, "qos: negative limit other than -1: %q", text)
	}
	return int32(v), nil
}

func parseErrorLevel(text string) (ErrorLevel, error) {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "warning":
		return ErrorLevelWarning, nil
	case "error":
		return ErrorLevelError, nil
	default:
		return 0, newParseError(ErrInvalidValue, "qos: work_mem_error_level must be 'warning' or 'error', got %q", text)
	}
}

func parseBool(text string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "true", "on", "yes", "1":
		return true, nil
	case "false", "off", "no", "0":
		return false, nil
	default:
		return false, newParseError(ErrInvalidValue, "qos: not a valid boolean: %q", text)
	}
}
