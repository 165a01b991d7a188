// Copyright 2024 The Tapis Project Authors.
//
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

package tapiserrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind identifies the category of a tapis error
type Kind string

const (
	// KindBase is the generic error kind
	KindBase Kind = "base"
	// KindNoToken indicates that no credential was present
	KindNoToken Kind = "no_token"
	// KindAuthentication indicates that a credential was present but invalid or inapplicable
	KindAuthentication Kind = "authentication"
	// KindPermissions indicates that a well-formed credential was used in a disallowed way
	KindPermissions Kind = "permissions"
	// KindRegistryUnavailable indicates that the tenants registry could not be reached
	KindRegistryUnavailable Kind = "registry_unavailable"
	// KindConfiguration indicates a deployment or service misconfiguration
	KindConfiguration Kind = "configuration"
	// KindTenantNotFound indicates that a tenant could not be resolved
	KindTenantNotFound Kind = "tenant_not_found"
	// KindMalformedToken indicates that a token could not be decoded
	KindMalformedToken Kind = "malformed_token"
)

var (
	// ErrNoToken matches any error of kind KindNoToken
	ErrNoToken = &Error{Kind: KindNoToken}
	// ErrAuthentication matches any error of kind KindAuthentication
	ErrAuthentication = &Error{Kind: KindAuthentication}
	// ErrPermissions matches any error of kind KindPermissions
	ErrPermissions = &Error{Kind: KindPermissions}
	// ErrRegistryUnavailable matches any error of kind KindRegistryUnavailable
	ErrRegistryUnavailable = &Error{Kind: KindRegistryUnavailable}
	// ErrConfiguration matches any error of kind KindConfiguration
	ErrConfiguration = &Error{Kind: KindConfiguration}
	// ErrTenantNotFound matches any error of kind KindTenantNotFound
	ErrTenantNotFound = &Error{Kind: KindTenantNotFound}
	// ErrMalformedToken matches any error of kind KindMalformedToken
	ErrMalformedToken = &Error{Kind: KindMalformedToken}
	// ErrBase matches any error of kind KindBase
	ErrBase = &Error{Kind: KindBase}
)

// Error is the error type returned by all tapis service components
//
//	Code is an HTTP status code that should be returned to the caller when the error is surfaced
type Error struct {
	Kind    Kind
	Message string
	Code    int
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Message
	}
	if e.Message == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

// Unwrap returns the wrapped cause
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is a tapis error of the same kind
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func newError(kind Kind, code int, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Code: code, Err: cause}
}

// New returns a generic error carrying message and HTTP status code
func New(message string, code int) *Error {
	if code == 0 {
		code = http.StatusBadRequest
	}
	return newError(KindBase, code, message, nil)
}

// Wrap returns a generic error carrying message and wrapping cause
func Wrap(message string, cause error) *Error {
	return newError(KindBase, http.StatusBadRequest, message, cause)
}

// NewNoTokenError returns an error indicating that no token was present
func NewNoTokenError(message string) *Error {
	return newError(KindNoToken, http.StatusUnauthorized, message, nil)
}

// NewAuthenticationError returns an error indicating that a token could not be validated
func NewAuthenticationError(message string, cause error) *Error {
	return newError(KindAuthentication, http.StatusUnauthorized, message, cause)
}

// NewPermissionsError returns an error indicating that a token was used in a disallowed way
func NewPermissionsError(message string) *Error {
	return newError(KindPermissions, http.StatusForbidden, message, nil)
}

// NewRegistryUnavailableError returns an error indicating that the tenants registry could not be loaded
func NewRegistryUnavailableError(message string, cause error) *Error {
	return newError(KindRegistryUnavailable, http.StatusServiceUnavailable, message, cause)
}

// NewConfigurationError returns an error indicating a misconfiguration
func NewConfigurationError(message string, cause error) *Error {
	return newError(KindConfiguration, http.StatusInternalServerError, message, cause)
}

// NewTenantNotFoundError returns an error indicating that a tenant could not be resolved
func NewTenantNotFoundError(message string) *Error {
	return newError(KindTenantNotFound, http.StatusBadRequest, message, nil)
}

// NewMalformedTokenError returns an error indicating that a token could not be decoded
func NewMalformedTokenError(message string, cause error) *Error {
	return newError(KindMalformedToken, http.StatusBadRequest, message, cause)
}

// StatusCode returns the HTTP status code carried by err
//
//	Errors that are not tapis errors map to 500
func StatusCode(err error) int {
	if err == nil {
		return http.StatusOK
	}
	var tapisErr *Error
	if errors.As(err, &tapisErr) && tapisErr.Code != 0 {
		return tapisErr.Code
	}
	return http.StatusInternalServerError
}

// KindOf returns the kind of the outermost tapis error in err, or an empty kind
func KindOf(err error) Kind {
	var tapisErr *Error
	if errors.As(err, &tapisErr) {
		return tapisErr.Kind
	}
	return ""
}
