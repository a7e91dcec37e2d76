// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package xmlrpc

import (
	"errors"
	"fmt"
)

// ErrMalformedRequest marks transport-level decode failures. The HTTP layer
// maps it to a 400 response instead of an XML-RPC fault.
var ErrMalformedRequest = errors.New("malformed XML-RPC request")

// Well-known fault codes used by the dispatcher.
const (
	CodeMethodNotFound = -32601
	CodeInternalError  = -32603
)

// Fault is an application-level XML-RPC failure. It travels inside a
// methodResponse, distinct from transport errors.
type Fault struct {
	Code    int
	Message string
}

func (f *Fault) Error() string {
	return fmt.Sprintf("xmlrpc fault %d: %s", f.Code, f.Message)
}

// MethodNotFound builds the standard fault for an unregistered method name.
func MethodNotFound(method string) *Fault {
	return &Fault{Code: CodeMethodNotFound, Message: fmt.Sprintf("Method not found: %s", method)}
}

// InternalError builds the standard fault wrapping a handler failure.
func InternalError(err error) *Fault {
	return &Fault{Code: CodeInternalError, Message: fmt.Sprintf("Internal error: %v", err)}
}
