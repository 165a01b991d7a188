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

package authservice

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/rokwire/logging-library-go/v2/logs"
	"github.com/tapis-project/tapis-service-go/authutils"
	"github.com/tapis-project/tapis-service-go/metrics"
	"github.com/tapis-project/tapis-service-go/tapiserrors"
	"github.com/tapis-project/tapis-service-go/tenants"
	"github.com/tapis-project/tapis-service-go/tokenauth"
)

const (
	apiPrefix string = "/v3/"

	// oauth2 is the path segment the authenticator service is served under
	pathAuthenticator string = "oauth2"
)

type serviceIdentityKey struct{}
type oboKey struct{}
type operationKey struct{}

// Identity is the tenant and user an outbound request is made on behalf of
type Identity struct {
	TenantID string
	Username string
}

// Operation identifies the remote operation an outbound request invokes
type Operation struct {
	Service     string
	OperationID string
}

// WithServiceIdentity marks requests made with ctx as made by the implementing service for its own tenant
func WithServiceIdentity(ctx context.Context) context.Context {
	return context.WithValue(ctx, serviceIdentityKey{}, true)
}

// WithOBO marks requests made with ctx as made on behalf of username in tenantID
func WithOBO(ctx context.Context, tenantID string, username string) context.Context {
	return context.WithValue(ctx, oboKey{}, Identity{TenantID: tenantID, Username: username})
}

// WithOperation sets the remote service and operation invoked by requests made with ctx
//
//	Without it, the service is taken from the /v3/<service> request path
func WithOperation(ctx context.Context, service string, operationID string) context.Context {
	return context.WithValue(ctx, operationKey{}, Operation{Service: service, OperationID: operationID})
}

// IsTokenOperation returns true if op creates or refreshes tokens
//
//	Such requests must never trigger a service token refresh
func IsTokenOperation(op Operation) bool {
	switch op.Service {
	case tenants.ServiceTokens:
		return op.OperationID == OperationCreateToken || op.OperationID == OperationRefreshToken
	case tenants.ServiceAuthenticator:
		return op.OperationID == OperationCreateToken
	}
	return false
}

// -------------------- Transport --------------------

// Transport is an http.RoundTripper that routes outbound service requests to the site that must serve them
// and attaches the implementing service's identity headers and service token
type Transport struct {
	// Base performs the request. Defaults to http.DefaultTransport
	Base http.RoundTripper
	// Defaults is used for requests without a per-call identity
	Defaults *Identity

	manager *ServiceTokenManager
	logger  *logs.Logger
	metrics *metrics.Metrics
}

// RoundTrip implements http.RoundTripper interface
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	out, err := t.prepare(req)
	if err != nil {
		if req.Body != nil {
			req.Body.Close()
		}
		return nil, err
	}
	return t.base().RoundTrip(out)
}

// prepare returns a copy of req addressed to the site that must serve it, carrying identity headers and a service token
//
//	A failed token refresh is logged and the cached token is sent
func (t *Transport) prepare(req *http.Request) (*http.Request, error) {
	ctx := req.Context()
	registry := t.manager.Registry()

	identity, err := t.identity(ctx)
	if err != nil {
		return nil, err
	}
	op := operation(ctx, req)
	t.logger.Debugf("intercepting %s %s for operation %s.%s", req.Method, req.URL.Path, op.Service, op.OperationID)

	siteID, baseURL, err := registry.RouteForService(identity.TenantID, op.Service)
	if err != nil {
		return nil, err
	}

	out := req.Clone(ctx)
	err = rewriteBaseURL(out, baseURL)
	if err != nil {
		return nil, err
	}
	t.logger.Debugf("final url: %s", out.URL.String())

	out.Header.Set(authutils.HeaderTenant, identity.TenantID)
	out.Header.Set(authutils.HeaderUser, identity.Username)

	adminTenantID, err := registry.AdminTenantForSite(siteID)
	if err != nil {
		return nil, err
	}
	t.logger.Debugf("site admin tenant for the request: %s", adminTenantID)

	tokens, ok := t.manager.Tokens(adminTenantID)
	if !ok {
		if !strings.Contains(out.URL.Path, tokensPath) {
			t.logger.Warnf("not able to set the access token: no service tokens for tenant %s", adminTenantID)
		}
		t.metrics.OutboundRequest(siteID, metrics.OutboundTokenMissing)
		return out, nil
	}

	setToken(out, tokens.AccessToken.Raw)
	state := metrics.OutboundTokenAttached
	if t.manager.NeedsRefresh(tokens.AccessToken) {
		if IsTokenOperation(op) {
			t.logger.Debugf("not refreshing service tokens for token operation %s.%s", op.Service, op.OperationID)
		} else {
			t.logger.Info("service tokens expired, attempting to refresh service tokens")
			accessToken, err := t.manager.Refresh(ctx, adminTenantID)
			if err != nil {
				t.logger.Errorf("error refreshing the service token; will proceed with the request: %v", err)
				state = metrics.OutboundTokenRefreshFailed
			} else {
				t.logger.Info("service tokens refreshed successfully")
				setToken(out, accessToken.Raw)
				state = metrics.OutboundTokenRefreshed
			}
		}
	}
	t.metrics.OutboundRequest(siteID, state)

	return out, nil
}

// identity determines who the request is made on behalf of
func (t *Transport) identity(ctx context.Context) (Identity, error) {
	service := t.manager.Registry().Service()

	if fromService, _ := ctx.Value(serviceIdentityKey{}).(bool); fromService {
		return Identity{TenantID: service.TenantID, Username: service.Name}, nil
	}
	if obo, ok := ctx.Value(oboKey{}).(Identity); ok && obo.TenantID != "" && obo.Username != "" {
		return obo, nil
	}
	if t.Defaults != nil && t.Defaults.TenantID != "" && t.Defaults.Username != "" {
		return *t.Defaults, nil
	}

	rc, ok := tokenauth.FromContext(ctx)
	if !ok || rc.RequestTenantID == "" {
		return Identity{}, tapiserrors.New("could not determine the X-Tapis-Tenant and X-Tapis-User headers: "+
			"use WithServiceIdentity or WithOBO outside of an authenticated request", 0)
	}

	identity := Identity{TenantID: rc.RequestTenantID, Username: service.Name}
	if rc.XTapisUser != "" {
		identity.Username = rc.XTapisUser
	} else if rc.Username != "" {
		identity.Username = rc.Username
	} else if obo, ok := ctx.Value(oboKey{}).(Identity); ok && obo.Username != "" {
		identity.Username = obo.Username
	}
	return identity, nil
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

// operation returns the operation set on ctx or derives it from the request path and method
func operation(ctx context.Context, req *http.Request) Operation {
	if op, ok := ctx.Value(operationKey{}).(Operation); ok && op.Service != "" {
		return op
	}

	op := Operation{}
	idx := strings.Index(req.URL.Path, apiPrefix)
	if idx < 0 {
		return op
	}
	op.Service = strings.SplitN(req.URL.Path[idx+len(apiPrefix):], "/", 2)[0]
	if op.Service == pathAuthenticator {
		op.Service = tenants.ServiceAuthenticator
	}

	switch {
	case op.Service == tenants.ServiceTokens && req.Method == http.MethodPost:
		op.OperationID = OperationCreateToken
	case op.Service == tenants.ServiceTokens && req.Method == http.MethodPut:
		op.OperationID = OperationRefreshToken
	case op.Service == tenants.ServiceAuthenticator && req.Method == http.MethodPost && strings.HasSuffix(strings.TrimRight(req.URL.Path, "/"), "/tokens"):
		op.OperationID = OperationCreateToken
	}
	return op
}

// rewriteBaseURL replaces everything before the /v3 path of req with baseURL
func rewriteBaseURL(req *http.Request, baseURL string) error {
	base, err := url.Parse(baseURL)
	if err != nil {
		return tapiserrors.NewConfigurationError(fmt.Sprintf("invalid base url %s", baseURL), err)
	}

	path := trimBeforeAPI(req.URL.Path)
	rawPath := trimBeforeAPI(req.URL.EscapedPath())

	req.URL.Scheme = base.Scheme
	req.URL.Host = base.Host
	req.URL.Path = strings.TrimRight(base.Path, "/") + path
	// RawPath keeps escaped separators such as %2F in path segments
	req.URL.RawPath = strings.TrimRight(base.EscapedPath(), "/") + rawPath
	req.Host = base.Host
	return nil
}

// trimBeforeAPI drops everything before the /v3 prefix of path
func trimBeforeAPI(path string) string {
	if idx := strings.Index(path, "/v3"); idx >= 0 {
		return path[idx:]
	}
	return path
}

func setToken(req *http.Request, token string) {
	req.Header.Set(authutils.HeaderToken, token)
	req.Header.Del("Authorization")
}

// NewTransport creates a new Transport using manager for service tokens
//
//	If base is nil, http.DefaultTransport is used
func NewTransport(manager *ServiceTokenManager, base http.RoundTripper, logger *logs.Logger, metrics *metrics.Metrics) (*Transport, error) {
	if manager == nil {
		return nil, fmt.Errorf("service token manager is missing")
	}
	if logger == nil {
		logger = manager.logger
	}
	return &Transport{Base: base, manager: manager, logger: logger, metrics: metrics}, nil
}

// -------------------- ServiceClient --------------------

// ServiceClient bundles the token manager and the HTTP client the implementing service calls other services with
type ServiceClient struct {
	Manager   *ServiceTokenManager
	Transport *Transport
	Client    *http.Client
}

// NewServiceClient wires a RemoteTokenIssuer, a ServiceTokenManager and a Transport together
//
//	Token requests made by the issuer go through the same Transport as every other outbound request.
//	Bootstrap must be called on the manager before service tokens are attached.
func NewServiceClient(registry *tenants.Registry, password string, base http.RoundTripper, logger *logs.Logger, config ServiceTokenManagerConfig) (*ServiceClient, error) {
	if registry == nil {
		return nil, fmt.Errorf("tenants registry is missing")
	}

	client := &http.Client{}
	issuer, err := NewRemoteTokenIssuer(registry.Service(), password, client, logger)
	if err != nil {
		return nil, tapiserrors.NewConfigurationError("error creating token issuer", err)
	}
	manager, err := NewServiceTokenManager(registry, issuer, logger, config)
	if err != nil {
		return nil, tapiserrors.NewConfigurationError("error creating service token manager", err)
	}
	transport, err := NewTransport(manager, base, logger, config.Metrics)
	if err != nil {
		return nil, tapiserrors.NewConfigurationError("error creating service transport", err)
	}
	client.Transport = transport

	return &ServiceClient{Manager: manager, Transport: transport, Client: client}, nil
}
