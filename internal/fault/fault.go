// Package fault defines the failure taxonomy shared by every orchestration step.
package fault

import (
	"errors"
	"fmt"
)

// Kind classifies why a step failed.
type Kind string

const (
	// KindNone is reported for errors that carry no classification.
	KindNone Kind = ""
	// KindConnectivity means the host could not be reached or authenticated.
	KindConnectivity Kind = "connectivity"
	// KindCommand means the host was reached but the command exited non-zero.
	KindCommand Kind = "command"
	// KindTimeout means no response arrived within the per-call bound or polling budget.
	KindTimeout Kind = "timeout"
	// KindParse means a remote state document could not be interpreted.
	KindParse Kind = "parse"
	// KindDrift means the declared role disagrees with the discovered one.
	KindDrift Kind = "drift"
	// KindUserAbort means the operator declined to continue.
	KindUserAbort Kind = "user_abort"
	// KindConfig means local setup (inventory, manifest, build) is unusable.
	KindConfig Kind = "config"
)

// Classified is implemented by errors that know their failure kind.
type Classified interface {
	FaultKind() Kind
}

// Error is a classified failure with optional host context.
type Error struct {
	Kind Kind
	Host string
	Err  error
}

// New builds a classified error.
func New(kind Kind, host string, err error) *Error {
	return &Error{Kind: kind, Host: host, Err: err}
}

// Newf builds a classified error from a format string.
func Newf(kind Kind, host, format string, args ...any) *Error {
	return &Error{Kind: kind, Host: host, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	if e.Host == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s on %s: %v", e.Kind, e.Host, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// FaultKind reports the failure kind.
func (e *Error) FaultKind() Kind { return e.Kind }

// KindOf returns the kind of the first classified error in err's chain.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	var c Classified
	if errors.As(err, &c) {
		return c.FaultKind()
	}
	return KindNone
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// FatalError marks an error that must abort the whole run.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string { return e.Err.Error() }

func (e *FatalError) Unwrap() error { return e.Err }

// Fatal marks err as run-aborting. A nil error stays nil.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &FatalError{Err: err}
}

// IsFatal reports whether err was marked with Fatal.
func IsFatal(err error) bool {
	var fatalErr *FatalError
	return errors.As(err, &fatalErr)
}
