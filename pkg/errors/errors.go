/*
Copyright Kestrel Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package errors

import (
	"errors"
	"fmt"
)

//nolint:gochecknoglobals
var (
	transientType  = &transient{}
	badRequestType = &badRequest{}
	authType       = &auth{}
	notFoundType   = &notFound{}
	conflictType   = &conflict{}
)

// NewTransient returns a transient error that wraps the given error in order to indicate to the
// caller that a retry may resolve the problem, whereas a non-transient (persistent) error will
// always fail with the same outcome if retried.
func NewTransient(err error) error {
	return &transient{err: err}
}

// NewTransientf returns a transient error in order to indicate to the caller that a retry may
// resolve the problem.
func NewTransientf(format string, a ...interface{}) error {
	return &transient{err: fmt.Errorf(format, a...)}
}

// IsTransient returns true if the given error is a 'transient' error.
func IsTransient(err error) bool {
	return errors.As(err, &transientType)
}

// NewBadRequest returns a 'bad request' error that wraps the given error in order to indicate
// to the caller that the request was invalid.
func NewBadRequest(err error) error {
	return &badRequest{err: err}
}

// NewBadRequestf returns a 'bad request' error in order to indicate to the caller that the
// request was invalid.
func NewBadRequestf(format string, a ...interface{}) error {
	return &badRequest{err: fmt.Errorf(format, a...)}
}

// IsBadRequest returns true if the given error is a 'bad request' error.
func IsBadRequest(err error) bool {
	return errors.As(err, &badRequestType)
}

// NewAuth returns an authentication/authorization error. The request carried a missing,
// invalid, or unverifiable HTTP signature.
func NewAuth(err error) error {
	return &auth{err: err}
}

// NewAuthf returns an authentication/authorization error.
func NewAuthf(format string, a ...interface{}) error {
	return &auth{err: fmt.Errorf(format, a...)}
}

// IsAuth returns true if the given error is an authentication error.
func IsAuth(err error) bool {
	return errors.As(err, &authType)
}

// NewNotFound returns a 'not found' error for an unknown actor, activity, or object.
func NewNotFound(err error) error {
	return &notFound{err: err}
}

// NewNotFoundf returns a 'not found' error.
func NewNotFoundf(format string, a ...interface{}) error {
	return &notFound{err: fmt.Errorf(format, a...)}
}

// IsNotFound returns true if the given error is a 'not found' error.
func IsNotFound(err error) bool {
	return errors.As(err, &notFoundType)
}

// NewConflict returns a 'conflict' error, e.g. an attempt to recreate an existing ID with a
// different body.
func NewConflict(err error) error {
	return &conflict{err: err}
}

// NewConflictf returns a 'conflict' error.
func NewConflictf(format string, a ...interface{}) error {
	return &conflict{err: fmt.Errorf(format, a...)}
}

// IsConflict returns true if the given error is a 'conflict' error.
func IsConflict(err error) bool {
	return errors.As(err, &conflictType)
}

type transient struct {
	err error
}

func (e *transient) Error() string {
	return e.err.Error()
}

func (e *transient) Unwrap() error {
	return e.err
}

type badRequest struct {
	err error
}

func (e *badRequest) Error() string {
	return e.err.Error()
}

func (e *badRequest) Unwrap() error {
	return e.err
}

type auth struct {
	err error
}

func (e *auth) Error() string {
	return e.err.Error()
}

func (e *auth) Unwrap() error {
	return e.err
}

type notFound struct {
	err error
}

func (e *notFound) Error() string {
	return e.err.Error()
}

func (e *notFound) Unwrap() error {
	return e.err
}

type conflict struct {
	err error
}

func (e *conflict) Error() string {
	return e.err.Error()
}

func (e *conflict) Unwrap() error {
	return e.err
}
