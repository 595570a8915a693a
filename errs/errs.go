// Package errs defines the error taxonomy shared by every layer of
// pspproxy: the provider, the PDU engine, and the proxy context. Errors
// are plain typed values (no third-party error-wrapping library appears
// anywhere in the retrieval pack) so callers can use errors.As to recover
// the specific kind and, where Error.Fatal reports true, know a Context
// must be recreated.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error the way pspproxy's public operations report it.
type Kind int

const (
	// KindArgument: bad size, stride, or mutually exclusive flags caught
	// before any wire traffic.
	KindArgument Kind = iota
	// KindProvider: substrate-level I/O failure (a TransportFailure).
	KindProvider
	// KindFraming: magic mismatch, length out of range, checksum mismatch,
	// or RRN-ID out of range. Recoverable: the receive state machine resets
	// and resynchronizes, it does not kill the Context.
	KindFraming
	// KindSequence: inbound counter gap. Fatal.
	KindSequence
	// KindReset: the stub restarted (beacon counter regression). Fatal,
	// a distinct flavor of KindSequence so callers can tell the two apart.
	KindReset
	// KindUnexpectedPdu: a well-formed PDU arrived whose RRN-ID is neither
	// the awaited response nor a known notification. Fatal.
	KindUnexpectedPdu
	// KindTimeout: informational, the operation may be retried.
	KindTimeout
	// KindRemote: the response carried a non-success stub-side status.
	KindRemote
	// KindUnsupported: the provider does not implement the capability.
	KindUnsupported
)

func (k Kind) String() string {
	switch k {
	case KindArgument:
		return "argument"
	case KindProvider:
		return "provider"
	case KindFraming:
		return "framing"
	case KindSequence:
		return "sequence"
	case KindReset:
		return "reset"
	case KindUnexpectedPdu:
		return "unexpected-pdu"
	case KindTimeout:
		return "timeout"
	case KindRemote:
		return "remote"
	case KindUnsupported:
		return "unsupported"
	default:
		return "unknown"
	}
}

// Error is the concrete error type returned by every pspproxy operation
// that fails. Use errors.As to pull one out of a wrapped chain.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("pspproxy: %s: %s: %v", e.Op, e.Msg, e.Err)
	}
	return fmt.Sprintf("pspproxy: %s: %s", e.Op, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error with the same Kind, so callers
// can do errors.Is(err, errs.Timeout) style checks via the sentinels below.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

// Fatal reports whether the error kind means the owning Context must be
// recreated rather than retried.
func (e *Error) Fatal() bool {
	switch e.Kind {
	case KindSequence, KindReset, KindUnexpectedPdu:
		return true
	default:
		return false
	}
}

func New(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

func Wrap(kind Kind, op, msg string, err error) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg, Err: err}
}

// Sentinels usable with errors.Is against the Kind only (Op/Msg ignored by Is).
var (
	Argument      = &Error{Kind: KindArgument}
	Provider      = &Error{Kind: KindProvider}
	Framing       = &Error{Kind: KindFraming}
	Sequence      = &Error{Kind: KindSequence}
	Reset         = &Error{Kind: KindReset}
	UnexpectedPdu = &Error{Kind: KindUnexpectedPdu}
	Timeout       = &Error{Kind: KindTimeout}
	Remote        = &Error{Kind: KindRemote}
	Unsupported   = &Error{Kind: KindUnsupported}
)
