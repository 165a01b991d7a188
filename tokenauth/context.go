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

package tokenauth

import (
	"context"

	"github.com/google/uuid"
)

type contextKey struct{}

// RequestContext holds the identity resolved for a single inbound request
//
//	A RequestContext must never be shared between requests
type RequestContext struct {
	RequestID string

	// Copied from the request headers
	XTapisToken         string
	XTapisTenant        string
	XTapisUser          string
	XTapisUserTokenHash string

	// Set from the validated token
	TokenClaims     *Claims
	Username        string
	RequestUsername string // Username the request is performed as. For service tokens this is the X-Tapis-User header
	TenantID        string
	AccountType     string
	Delegation      bool
	SiteID          string

	// Set when the request tenant is resolved
	RequestTenantID      string
	RequestTenantBaseURL string
}

// HasToken returns true if the request carried an access token
func (r *RequestContext) HasToken() bool {
	return r != nil && r.XTapisToken != ""
}

// IsOBO returns true if the request set either on-behalf-of header
func (r *RequestContext) IsOBO() bool {
	return r != nil && (r.XTapisTenant != "" || r.XTapisUser != "")
}

// NewRequestContext creates an empty RequestContext with a new request ID
func NewRequestContext() *RequestContext {
	return &RequestContext{RequestID: uuid.NewString()}
}

// NewContext returns a copy of ctx carrying rc
func NewContext(ctx context.Context, rc *RequestContext) context.Context {
	return context.WithValue(ctx, contextKey{}, rc)
}

// FromContext returns the RequestContext carried by ctx, if any
func FromContext(ctx context.Context) (*RequestContext, bool) {
	if ctx == nil {
		return nil, false
	}
	rc, ok := ctx.Value(contextKey{}).(*RequestContext)
	return rc, ok && rc != nil
}
