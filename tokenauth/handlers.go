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
	"errors"
	"net/http"

	liberrors "github.com/rokwire/logging-library-go/v2/errors"
	"github.com/rokwire/logging-library-go/v2/logutils"
	"github.com/tapis-project/tapis-service-go/authutils"
	"github.com/tapis-project/tapis-service-go/tapiserrors"
)

const (
	typeRequestTenant logutils.MessageDataType = "request tenant"
	typeAccountType   logutils.MessageDataType = "account type"
)

// AuthnCallback is called when a request carries no access token
//
//	Returning nil accepts the request without a token
type AuthnCallback func(req *http.Request, rc *RequestContext) error

// AuthzCallback is called after a request has been authenticated and its tenant resolved
type AuthzCallback func(req *http.Request, rc *RequestContext) error

// Handler is an interface for token auth handlers
type Handler interface {
	Check(req *http.Request) (int, *RequestContext, error)
	GetResolver() *Resolver
}

// Handlers represents the standard token auth handlers
type Handlers struct {
	Standard Handler
	User     AccountTypeHandler
	Service  AccountTypeHandler
}

// NewHandlers creates new token auth handlers
func NewHandlers(auth Handler) Handlers {
	userAuth := NewAccountTypeHandler(auth, authutils.AccountTypeUser)
	serviceAuth := NewAccountTypeHandler(auth, authutils.AccountTypeService)

	return Handlers{Standard: auth, User: userAuth, Service: serviceAuth}
}

// StandardHandler entity
// This enforces that the token is valid and the request tenant can be resolved
type StandardHandler struct {
	resolver *Resolver

	authn AuthnCallback
	authz AuthzCallback
}

// Check checks the token in the provided request
func (a StandardHandler) Check(req *http.Request) (int, *RequestContext, error) {
	request := NewRequest(req)
	rc := NewRequestContext()
	a.resolver.AddHeaders(rc, request)

	err := a.resolver.ValidateRequestToken(rc)
	if errors.Is(err, tapiserrors.ErrNoToken) && a.authn != nil {
		err = a.authn(req, rc)
	}
	if err != nil {
		return tapiserrors.StatusCode(err), nil, wrapCheckError(logutils.TypeToken, err)
	}

	_, err = a.resolver.ResolveTenantID(rc, request)
	if err != nil {
		return tapiserrors.StatusCode(err), nil, wrapCheckError(typeRequestTenant, err)
	}

	if a.authz != nil && req.Method != http.MethodOptions {
		err = a.authz(req, rc)
		if err != nil {
			if tapiserrors.KindOf(err) == "" {
				err = tapiserrors.NewPermissionsError(err.Error())
			}
			return tapiserrors.StatusCode(err), nil, wrapCheckError(logutils.TypePermission, err)
		}
	}

	return http.StatusOK, rc, nil
}

// GetResolver exposes the Resolver for the handler
func (a StandardHandler) GetResolver() *Resolver {
	return a.resolver
}

// NewStandardHandler creates a new StandardHandler
//
//	authn and authz are optional
func NewStandardHandler(resolver *Resolver, authn AuthnCallback, authz AuthzCallback) StandardHandler {
	return StandardHandler{resolver: resolver, authn: authn, authz: authz}
}

// AccountTypeHandler entity
// This enforces that the token belongs to an account of the given type
type AccountTypeHandler struct {
	auth        Handler
	accountType string
}

// Check checks the token in the provided request
func (a AccountTypeHandler) Check(req *http.Request) (int, *RequestContext, error) {
	status, rc, err := a.auth.Check(req)
	if err != nil || rc == nil {
		return status, rc, err
	}

	if rc.AccountType != a.accountType {
		err = tapiserrors.NewPermissionsError("token must belong to a " + a.accountType + " account")
		return tapiserrors.StatusCode(err), nil, wrapCheckError(typeAccountType, err)
	}

	return status, rc, err
}

// GetResolver exposes the Resolver for the handler
func (a AccountTypeHandler) GetResolver() *Resolver {
	return a.auth.GetResolver()
}

// NewAccountTypeHandler creates a new AccountTypeHandler
func NewAccountTypeHandler(auth Handler, accountType string) AccountTypeHandler {
	return AccountTypeHandler{auth: auth, accountType: accountType}
}

// AuthenticationHandler returns middleware that checks each request with auth before calling next
//
//	The resolved RequestContext is stored on the request context and can be read with FromContext
func AuthenticationHandler(auth Handler, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		status, rc, err := auth.Check(req)
		if err != nil {
			auth.GetResolver().logger.Infof("rejecting request %s %s: %v", req.Method, req.URL.Path, err)
			http.Error(w, http.StatusText(status), status)
			return
		}

		next.ServeHTTP(w, req.WithContext(NewContext(req.Context(), rc)))
	})
}

func wrapCheckError(dataType logutils.MessageDataType, err error) error {
	return liberrors.WrapErrorAction(logutils.ActionValidate, dataType, nil, err)
}
