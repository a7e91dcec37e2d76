package ccu

import (
	"errors"
	"fmt"

	"github.com/ManuGH/hm2g/internal/xmlrpc"
)

var (
	// Sentinel errors for errors.Is checks at the boundary.
	ErrUnreachable = errors.New("ccu: host unreachable or transport failure")
	ErrTimeout     = errors.New("ccu: request timed out")
	ErrFault       = errors.New("ccu: method returned a fault")
	ErrBadResponse = errors.New("ccu: invalid response format or malformed data")
)

// CallError is a rich error type that wraps the sentinel errors with
// call context.
type CallError struct {
	Sentinel  error
	Operation string
	Method    string
	Status    int           // HTTP status when relevant
	Fault     *xmlrpc.Fault // set when Sentinel is ErrFault
	Err       error         // nested lower-level error
}

func (e *CallError) Error() string {
	msg := fmt.Sprintf("ccu: %s: %v", e.Operation, e.Sentinel)
	if e.Status > 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.Status)
	}
	if e.Fault != nil {
		msg = fmt.Sprintf("%s: fault %d: %s", msg, e.Fault.Code, e.Fault.Message)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *CallError) Unwrap() error {
	return e.Sentinel
}
