// Package kverrors defines the engine's error taxonomy.
//
// Errors are values, not exception types: command execution returns a
// *Error alongside (or instead of) a response value, and the connection
// handler never tears down the session because of one -- only framing
// failures do that.
package kverrors

import "fmt"

// Kind enumerates the command-local error categories.
type Kind int

const (
	WrongType Kind = iota
	KeyNotFound
	NotAnInteger
	NotAFloat
	Overflow
	WrongArgumentCount
	SyntaxError
	UnknownCommand
	InvalidState
	ReadOnly
	MaxMemoryReached
	Moved
	Ask
	ConsumerGroupNotFound
	Internal
)

func (k Kind) String() string {
	switch k {
	case WrongType:
		return "WRONGTYPE"
	case KeyNotFound:
		return "KEYNOTFOUND"
	case NotAnInteger:
		return "NOTANINTEGER"
	case NotAFloat:
		return "NOTAFLOAT"
	case Overflow:
		return "OVERFLOW"
	case WrongArgumentCount:
		return "WRONGARGS"
	case SyntaxError:
		return "SYNTAXERROR"
	case UnknownCommand:
		return "UNKNOWNCOMMAND"
	case InvalidState:
		return "INVALIDSTATE"
	case ReadOnly:
		return "READONLY"
	case MaxMemoryReached:
		return "MAXMEMORY"
	case Moved:
		return "MOVED"
	case Ask:
		return "ASK"
	case ConsumerGroupNotFound:
		return "NOGROUP"
	case Internal:
		return "INTERNAL"
	default:
		return "UNKNOWN"
	}
}

// Error is the engine's uniform command-local error value.
type Error struct {
	Kind   Kind
	Detail string

	// Slot/Addr are only meaningful for Moved/Ask.
	Slot int
	Addr string
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s %s", e.Kind.String(), e.Detail)
}

func New(kind Kind, detail string) *Error {
	return &Error{Kind: kind, Detail: detail}
}

func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

func Movedf(slot int, addr string) *Error {
	return &Error{Kind: Moved, Slot: slot, Addr: addr, Detail: fmt.Sprintf("%d %s", slot, addr)}
}

func Askf(slot int, addr string) *Error {
	return &Error{Kind: Ask, Slot: slot, Addr: addr, Detail: fmt.Sprintf("%d %s", slot, addr)}
}

// Is reports whether err is a *Error of the given kind.
func Is(err error, kind Kind) bool {
	e, ok := err.(*Error)
	return ok && e.Kind == kind
}
