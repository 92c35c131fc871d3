// Copyright 2026 The OpenTrusty Authors
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

// Package apierr defines the application-wide error taxonomy used to map
// internal failures onto HTTP responses without leaning on string matching.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error into one of the taxonomy's buckets.
type Kind string

const (
	KindAuthentication Kind = "authentication_error"
	KindAuthorization  Kind = "authorization_error"
	KindValidation     Kind = "validation_error"
	KindConfiguration  Kind = "configuration_error"
	KindUpstream       Kind = "upstream_error"
	KindRateLimit      Kind = "rate_limit_error"
	KindInternal       Kind = "internal_error"
)

// Error is a classified application error carrying an HTTP status and a
// message safe to return to a caller.
type Error struct {
	Kind    Kind
	Message string
	Status  int
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func newErr(kind Kind, status int, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Status: status, Err: cause}
}

// Authentication reports that the caller failed to prove its identity
// (bad credentials, invalid or expired bearer token, unknown client).
func Authentication(message string, cause error) *Error {
	return newErr(KindAuthentication, http.StatusUnauthorized, message, cause)
}

// Authorization reports that the caller is known but not entitled to the
// requested action or scope.
func Authorization(message string, cause error) *Error {
	return newErr(KindAuthorization, http.StatusForbidden, message, cause)
}

// Validation reports malformed or semantically invalid caller input.
func Validation(message string, cause error) *Error {
	return newErr(KindValidation, http.StatusBadRequest, message, cause)
}

// Configuration reports a deployment misconfiguration. These are always
// server-side and fatal at startup, or surfaced as 500s if discovered later.
func Configuration(message string, cause error) *Error {
	return newErr(KindConfiguration, http.StatusInternalServerError, message, cause)
}

// Upstream reports a failure from the brokerage's own OAuth or API surface.
func Upstream(message string, cause error) *Error {
	return newErr(KindUpstream, http.StatusBadGateway, message, cause)
}

// RateLimit reports that the caller exceeded a token-bucket limit.
func RateLimit(message string) *Error {
	return newErr(KindRateLimit, http.StatusTooManyRequests, message, nil)
}

// Internal reports an unexpected server-side failure that carries no detail
// safe to return to the caller.
func Internal(message string, cause error) *Error {
	return newErr(KindInternal, http.StatusInternalServerError, message, cause)
}

// As extracts an *Error from err's chain, if present.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// StatusCode returns the HTTP status to send for err, defaulting to 500 for
// errors outside the taxonomy.
func StatusCode(err error) int {
	if e, ok := As(err); ok {
		return e.Status
	}
	return http.StatusInternalServerError
}
