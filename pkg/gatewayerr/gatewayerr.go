// Package gatewayerr defines the error-kind taxonomy shared across the
// Gateway's components so callers can branch on propagation policy
// (retry, alert, terminate-session, drop) without parsing error strings.
package gatewayerr

import (
	"errors"
	"fmt"
)

// Kind classifies an error by how it must be propagated.
type Kind string

const (
	KindTransport  Kind = "transport"  // connect/read/write failure
	KindFraming    Kind = "framing"    // unexpected token or EOF mid-frame
	KindDecode     Kind = "decode"     // JSON parse failure
	KindStorage    Kind = "storage"    // durable-store failure
	KindSignature  Kind = "signature"  // signature verification rejected
	KindPolicy     Kind = "policy"     // license rejected, no in-flight slot, unknown device
	KindCancelled  Kind = "cancelled"  // shutdown in progress
	KindExternal   Kind = "external"   // recommender/cloud call failure
)

// Error wraps an underlying error with a propagation Kind.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with the given Kind and operation label. Returns nil if err
// is nil, so it is safe to use as `return gatewayerr.New(...)` at the end of
// a function that may or may not have failed.
func New(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind == kind
	}
	return false
}
