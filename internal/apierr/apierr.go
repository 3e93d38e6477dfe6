// Copyright 2025 shiioo
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package apierr is the single source of typed error kinds used across the
// control plane. Every manager returns one of these instead of an ad hoc
// fmt.Errorf so that the HTTP layer can map kind to status code in one
// place.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is a closed set of error categories every component may return.
type Kind string

const (
	NotFound           Kind = "NotFound"
	AlreadyExists       Kind = "AlreadyExists"
	InvalidInput        Kind = "InvalidInput"
	QuotaExceeded       Kind = "QuotaExceeded"
	Unauthorized        Kind = "Unauthorized"
	NotApproved         Kind = "NotApproved"
	AlreadyResolved     Kind = "AlreadyResolved"
	NotAVoter           Kind = "NotAVoter"
	DuplicateVote       Kind = "DuplicateVote"
	NoCapacity          Kind = "NoCapacity"
	RateLimited         Kind = "RateLimited"
	Timeout             Kind = "Timeout"
	Cancelled           Kind = "Cancelled"
	UnknownStep         Kind = "UnknownStep"
	CircularDependency  Kind = "CircularDependency"
	InvalidCron         Kind = "InvalidCron"
	MissingParam        Kind = "MissingParam"
	IntegrityViolation  Kind = "IntegrityViolation"
	StorageError        Kind = "StorageError"
	Internal            Kind = "Internal"
)

// Error is the single error type returned by every manager in this repo.
type Error struct {
	Kind    Kind
	Message string
	Details string
}

func (e *Error) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// New builds an *Error for the given kind and message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf builds an *Error with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WithDetails returns a copy of e with Details set.
func (e *Error) WithDetails(details string) *Error {
	return &Error{Kind: e.Kind, Message: e.Message, Details: details}
}

// As reports whether err is an *Error, unwrapping if necessary.
func As(err error) (*Error, bool) {
	var ae *Error
	ok := errors.As(err, &ae)
	return ae, ok
}

// HTTPStatus maps a Kind to the status code the API layer should respond
// with. This is the one place that translation happens.
func (k Kind) HTTPStatus() int {
	switch k {
	case NotFound:
		return http.StatusNotFound
	case AlreadyExists, AlreadyResolved, DuplicateVote:
		return http.StatusConflict
	case InvalidInput, MissingParam, UnknownStep, CircularDependency,
		InvalidCron, NotAVoter, NotApproved:
		return http.StatusBadRequest
	case QuotaExceeded, RateLimited, NoCapacity:
		return http.StatusTooManyRequests
	case Unauthorized:
		return http.StatusUnauthorized
	case Timeout:
		return http.StatusGatewayTimeout
	case Cancelled:
		return http.StatusConflict
	case IntegrityViolation:
		return http.StatusUnprocessableEntity
	case StorageError, Internal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// Body is the JSON shape every API error response takes.
type Body struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// ToBody converts err into the API's JSON error contract, falling back to
// a generic Internal error for anything not already an *Error.
func ToBody(err error) (int, Body) {
	ae, ok := As(err)
	if !ok {
		return http.StatusInternalServerError, Body{Error: err.Error()}
	}
	return ae.Kind.HTTPStatus(), Body{Error: ae.Message, Details: ae.Details}
}
