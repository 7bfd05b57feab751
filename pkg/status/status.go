// Package status defines the discriminated result of every fallible engine
// operation: a status kind plus an ordered stack of human-readable diagnostic
// messages describing the cause chain of the failure.
package status

import (
	"fmt"
	"strings"
)

// Kind enumerates the possible failure classes of an engine operation.
type Kind int

const (
	KindSuccess Kind = iota
	KindOutOfMemory
	KindIO
	KindInvalidArgument
	KindStopIteration
	KindKeyError
	KindInvalidState
	KindRuntime
	KindActivation
	KindActivationLimit
	KindActivationThrottled
	KindActivationRefused
)

func (k Kind) String() string {
	switch k {
	case KindSuccess:
		return "SUCCESS"
	case KindOutOfMemory:
		return "OUT_OF_MEMORY"
	case KindIO:
		return "IO_ERROR"
	case KindInvalidArgument:
		return "INVALID_ARGUMENT"
	case KindStopIteration:
		return "STOP_ITERATION"
	case KindKeyError:
		return "KEY_ERROR"
	case KindInvalidState:
		return "INVALID_STATE"
	case KindRuntime:
		return "RUNTIME_ERROR"
	case KindActivation:
		return "ACTIVATION_ERROR"
	case KindActivationLimit:
		return "ACTIVATION_LIMIT_REACHED"
	case KindActivationThrottled:
		return "ACTIVATION_THROTTLED"
	case KindActivationRefused:
		return "ACTIVATION_REFUSED"
	default:
		return fmt.Sprintf("UNKNOWN_STATUS_%d", int(k))
	}
}

// Error makes a Kind usable as a target of errors.Is.
func (k Kind) Error() string {
	return k.String()
}

// MaxStackDepth is the maximum amount of entries kept in a diagnostic stack.
// Wrapping beyond this depth discards the deepest entries.
const MaxStackDepth = 8

// Error is a failed operation result: a Kind and a diagnostic message stack,
// ordered from the most recent wrap (index 0) to the deepest cause.
type Error struct {
	kind     Kind
	messages []string
}

var _ error = (*Error)(nil)

// Errorf constructs an Error of the given kind with a single-entry stack.
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{
		kind:     kind,
		messages: []string{fmt.Sprintf(format, args...)},
	}
}

// Wrap prepends a message to the diagnostic stack of `err`, preserving its
// kind. A non-status error is absorbed as the deepest entry with KindRuntime.
func Wrap(err error, format string, args ...any) *Error {
	msg := fmt.Sprintf(format, args...)
	statusErr, ok := err.(*Error)
	if !ok {
		statusErr = &Error{
			kind: KindRuntime,
		}
		if err != nil {
			statusErr.messages = []string{err.Error()}
		}
	}
	messages := make([]string, 0, len(statusErr.messages)+1)
	messages = append(messages, msg)
	messages = append(messages, statusErr.messages...)
	if len(messages) > MaxStackDepth {
		messages = messages[:MaxStackDepth]
	}
	return &Error{
		kind:     statusErr.kind,
		messages: messages,
	}
}

// Convert returns err as-is if it already is a status error, and otherwise
// absorbs it as a KindRuntime failure.
func Convert(err error) *Error {
	if err == nil {
		return nil
	}
	if statusErr, ok := err.(*Error); ok {
		return statusErr
	}
	return &Error{
		kind:     KindRuntime,
		messages: []string{err.Error()},
	}
}

func (e *Error) Kind() Kind {
	return e.kind
}

// Messages returns a copy of the diagnostic stack; the caller owns it.
func (e *Error) Messages() []string {
	out := make([]string, len(e.messages))
	copy(out, e.messages)
	return out
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.kind, strings.Join(e.messages, ": "))
}

// FormatStack renders the stack the way the engine demos print it:
//
//	[0] outermost message
//	[1] its cause
func (e *Error) FormatStack() string {
	var sb strings.Builder
	for idx, msg := range e.messages {
		if idx != 0 {
			sb.WriteByte('\n')
		}
		fmt.Fprintf(&sb, "[%d] %s", idx, msg)
	}
	return sb.String()
}

// Is reports a match against a Kind target, so that
// errors.Is(err, status.KindIO) works.
func (e *Error) Is(target error) bool {
	kind, ok := target.(Kind)
	if !ok {
		return false
	}
	return e.kind == kind
}
