package fserrors

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrMalformedPath        = errors.New("shardfs: malformed path")
	ErrUnsupportedExtension = errors.New("shardfs: unsupported extension")
	ErrUsage                = errors.New("shardfs: usage error")
	ErrNotFound             = errors.New("shardfs: not found")
	ErrPermissionDenied     = errors.New("shardfs: permission denied")
	ErrTransport            = errors.New("shardfs: transport failure")
	ErrProtocol             = errors.New("shardfs: protocol violation")
	ErrUnknownCommand       = errors.New("shardfs: unknown command")
	ErrInternal             = errors.New("shardfs: internal error")
)

// Kind is the failure class carried on the wire next to the message text.
type Kind uint8

const (
	KindInternal Kind = iota
	KindMalformedPath
	KindUnsupportedExtension
	KindUsage
	KindNotFound
	KindPermissionDenied
	KindTransport
	KindProtocol
	KindUnknownCommand
)

var kindSentinels = map[Kind]error{
	KindInternal:             ErrInternal,
	KindMalformedPath:        ErrMalformedPath,
	KindUnsupportedExtension: ErrUnsupportedExtension,
	KindUsage:                ErrUsage,
	KindNotFound:             ErrNotFound,
	KindPermissionDenied:     ErrPermissionDenied,
	KindTransport:            ErrTransport,
	KindProtocol:             ErrProtocol,
	KindUnknownCommand:       ErrUnknownCommand,
}

func (k Kind) String() string {
	switch k {
	case KindMalformedPath:
		return "MalformedPath"
	case KindUnsupportedExtension:
		return "UnsupportedExtension"
	case KindUsage:
		return "UsageError"
	case KindNotFound:
		return "NotFound"
	case KindPermissionDenied:
		return "PermissionDenied"
	case KindTransport:
		return "TransportFailure"
	case KindProtocol:
		return "ProtocolViolation"
	case KindUnknownCommand:
		return "UnknownCommand"
	default:
		return "Internal"
	}
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	_, ok := kindSentinels[k]
	return ok
}

// Failure is an application-level error reply: a store or the dispatcher
// refused the operation. It matches its kind's sentinel with errors.Is.
type Failure struct {
	Kind Kind
	Msg  string
}

func (f *Failure) Error() string {
	return f.Kind.String() + ": " + f.Msg
}

func (f *Failure) Is(target error) bool {
	return kindSentinels[f.Kind] == target
}

// Fail builds a Failure with a formatted message.
func Fail(kind Kind, format string, args ...any) *Failure {
	return &Failure{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// KindOf maps any error to the kind used on the wire.
func KindOf(err error) Kind {
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}
	for k := KindMalformedPath; k <= KindUnknownCommand; k++ {
		if errors.Is(err, kindSentinels[k]) {
			return k
		}
	}
	return KindInternal
}

// AsFailure converts err into a Failure, keeping the kind of a wrapped sentinel.
func AsFailure(err error) *Failure {
	var f *Failure
	if errors.As(err, &f) {
		return f
	}
	return &Failure{Kind: KindOf(err), Msg: trimPrefix(err.Error())}
}

func trimPrefix(msg string) string {
	return strings.TrimPrefix(msg, "shardfs: ")
}
