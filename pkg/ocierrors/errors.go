// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package ocierrors defines the error taxonomy shared by the registry
// client, the OCI layout store, and the copier. Callers branch on Kind
// rather than on concrete types, following the registry package's old
// error-code style but collapsed into a single comparable enum.
package ocierrors

import (
	"errors"
	"fmt"

	"github.com/containerd/errdefs"
)

// Kind is one of the taxonomy's named error categories.
type Kind string

const (
	InvalidReference       Kind = "InvalidReference"
	InvalidDigest          Kind = "InvalidDigest"
	UnsupportedAlgorithm   Kind = "UnsupportedAlgorithm"
	Unauthorized           Kind = "Unauthorized"
	NotFound               Kind = "NotFound"
	DigestMismatch         Kind = "DigestMismatch"
	InvalidManifestHeaders Kind = "InvalidManifestHeaders"
	TransportErrorKind     Kind = "TransportError"
	IncompatibleLayout     Kind = "IncompatibleLayout"
	DeleteNotSupported     Kind = "DeleteNotSupported"
	Cancelled              Kind = "Cancelled"
)

// Error is the concrete error type this module uses for every taxonomy
// kind above; some operations also pass through plain I/O, JSON or
// file-reading errors unwrapped. StatusCode is non-zero only for
// TransportErrorKind.
type Error struct {
	Kind       Kind
	Message    string
	StatusCode int
	Cause      error
}

func (e *Error) Error() string {
	if e.Message == "" {
		if e.StatusCode != 0 {
			return fmt.Sprintf("%s: status %d", e.Kind, e.StatusCode)
		}
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is recognizes containerd/errdefs' ErrNotFound so code that already
// branches on errdefs.IsNotFound keeps working against layout-store errors.
func (e *Error) Is(target error) bool {
	if e.Kind == NotFound && target == errdefs.ErrNotFound {
		return true
	}
	return false
}

// New constructs an *Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap constructs an *Error of the given kind around a lower-level cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// Transport constructs a TransportErrorKind error carrying an HTTP status
// code, the only kind for which StatusCode is meaningful.
func Transport(statusCode int, format string, args ...any) *Error {
	return &Error{Kind: TransportErrorKind, Message: fmt.Sprintf(format, args...), StatusCode: statusCode}
}

// NotFoundFrom wraps a storage-layer error as NotFound, keeping its
// message. It does not inspect cause: any non-nil cause becomes NotFound.
func NotFoundFrom(cause error) *Error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: NotFound, Message: cause.Error(), Cause: cause}
}

// KindOf extracts the Kind of err, if err is (or wraps) an *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	if errdefs.IsNotFound(err) {
		return NotFound, true
	}
	return "", false
}

// StatusCodeOf extracts the HTTP status code of a TransportErrorKind
// error, if any.
func StatusCodeOf(err error) (int, bool) {
	var e *Error
	if errors.As(err, &e) && e.Kind == TransportErrorKind {
		return e.StatusCode, true
	}
	return 0, false
}
