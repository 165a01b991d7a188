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
	"fmt"
	"net/http"
	"strings"

	"github.com/rokwire/logging-library-go/v2/logs"
	"github.com/tapis-project/tapis-service-go/authutils"
	"github.com/tapis-project/tapis-service-go/tapiserrors"
	"github.com/tapis-project/tapis-service-go/tenants"
)

const (
	// DefaultDevRequestURL is the request URL marker used by local test clients
	DefaultDevRequestURL string = "dev://request_url"
)

var localURLMarkers = []string{"http://localhost:", "http://172.17.0.1:"}

// Request represents the parts of an inbound request used to resolve its tenant
type Request struct {
	Headers http.Header
	BaseURL string // Request URL including scheme, host, port and path but no query
	Method  string
}

// NewRequest builds a Request from req
//
//	The scheme is taken from the X-Forwarded-Proto header when set
func NewRequest(req *http.Request) Request {
	scheme := "http"
	if req.TLS != nil {
		scheme = "https"
	}
	if proto := req.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = strings.ToLower(strings.TrimSpace(strings.Split(proto, ",")[0]))
	}

	host := req.Host
	if host == "" {
		host = req.URL.Host
	}

	return Request{Headers: req.Header, BaseURL: scheme + "://" + host + req.URL.Path, Method: req.Method}
}

// ResolverConfig holds optional settings for a Resolver
type ResolverConfig struct {
	// DevRequestURL overrides DefaultDevRequestURL
	DevRequestURL string
}

// Resolver determines the tenant of inbound requests and enforces how tokens may be used
type Resolver struct {
	registry  *tenants.Registry
	validator *Validator
	logger    *logs.Logger

	devMarkers []string
}

// Validator returns the token validator used by the resolver
func (r *Resolver) Validator() *Validator {
	return r.validator
}

// Registry returns the tenants registry used by the resolver
func (r *Resolver) Registry() *tenants.Registry {
	return r.registry
}

// Resolve copies the request headers, validates the token if one is present and resolves the request tenant
func (r *Resolver) Resolve(req Request) (*RequestContext, error) {
	rc := NewRequestContext()
	r.AddHeaders(rc, req)

	if rc.HasToken() {
		err := r.ValidateRequestToken(rc)
		if err != nil {
			return rc, err
		}
	}

	_, err := r.ResolveTenantID(rc, req)
	return rc, err
}

// AddHeaders copies the platform headers of req into rc
func (r *Resolver) AddHeaders(rc *RequestContext, req Request) {
	rc.XTapisToken = req.Headers.Get(authutils.HeaderToken)
	rc.XTapisTenant = req.Headers.Get(authutils.HeaderTenant)
	rc.XTapisUser = req.Headers.Get(authutils.HeaderUser)
	rc.XTapisUserTokenHash = req.Headers.Get(authutils.HeaderUserTokenHash)
}

// ValidateRequestToken validates the token in rc and sets the identity it carries on rc
//
//	Service tokens are additionally checked with ServiceTokenChecks. User tokens may not be sent with on-behalf-of headers.
func (r *Resolver) ValidateRequestToken(rc *RequestContext) error {
	if !rc.HasToken() {
		return tapiserrors.NewNoTokenError("no access token found in the request")
	}

	claims, err := r.validator.Validate(rc.XTapisToken)
	if err != nil {
		return err
	}

	rc.TokenClaims = claims
	rc.Username = claims.Username
	rc.RequestUsername = claims.Username
	rc.TenantID = claims.TenantID
	rc.AccountType = claims.AccountType
	rc.Delegation = claims.Delegation

	if claims.IsService() {
		rc.SiteID = claims.TargetSiteID
		err = r.ServiceTokenChecks(rc, claims)
		if err != nil {
			return err
		}
		rc.RequestUsername = rc.XTapisUser
		return nil
	}

	if rc.IsOBO() {
		return tapiserrors.NewAuthenticationError("invalid request: cannot set OBO headers with a user token", nil)
	}
	return nil
}

// ServiceTokenChecks verifies that a service token may be used for the request in rc at this site
//
//	The token must target this site and the request must carry both on-behalf-of headers. Requests for tenants
//	owned by another site are only accepted at the primary site, and only for services the owning site does not run.
func (r *Resolver) ServiceTokenChecks(rc *RequestContext, claims *Claims) error {
	service := r.registry.Service()
	if claims.TargetSiteID != service.SiteID {
		r.logger.Infof("token's target_site (%s) does not match service's site_id (%s)", claims.TargetSiteID, service.SiteID)
		return tapiserrors.NewAuthenticationError("invalid service token: target_site claim does not match this service's site_id", nil)
	}

	if rc.XTapisTenant == "" {
		return tapiserrors.NewAuthenticationError("invalid service request: X-Tapis-Tenant header missing", nil)
	}
	if rc.XTapisUser == "" {
		return tapiserrors.NewAuthenticationError("invalid service request: X-Tapis-User header missing", nil)
	}

	requestTenant, err := r.registry.GetTenant(rc.XTapisTenant)
	if err != nil {
		return tapiserrors.NewAuthenticationError(fmt.Sprintf("invalid service request: unknown tenant %s", rc.XTapisTenant), err)
	}
	if requestTenant.SiteID == service.SiteID {
		r.logger.Debug("request is for the same site as the service; allowing request")
		return nil
	}

	if !r.registry.RunningAtPrimarySite() {
		return tapiserrors.NewAuthenticationError("cross-site service requests are only allowed to the primary site", nil)
	}
	if requestTenant.Site.HostsService(service.Name) {
		return tapiserrors.NewAuthenticationError(fmt.Sprintf("the primary site does not handle requests to service %s for site %s", service.Name, requestTenant.SiteID), nil)
	}

	r.logger.Debugf("service %s is not run by site %s; allowing the request at the primary site", service.Name, requestTenant.SiteID)
	return nil
}

// ResolveTenantID determines the tenant of the request and sets it on rc
//
//	The X-Tapis-Tenant header wins when set and requires a service token. Otherwise the tenant is resolved from the
//	request URL and must match the tenant of the token, if any. Local development URLs carry no tenant, so the
//	token's tenant is used, or the dev tenant when there is no token.
func (r *Resolver) ResolveTenantID(rc *RequestContext, req Request) (string, error) {
	if rc.HasToken() && rc.TokenClaims == nil {
		err := r.ValidateRequestToken(rc)
		if err != nil {
			return "", err
		}
	}

	if rc.XTapisTenant != "" {
		if rc.HasToken() && !rc.TokenClaims.IsService() {
			return "", tapiserrors.NewPermissionsError("setting the X-Tapis-Tenant header with an access token requires a service token")
		}
		tenant, err := r.registry.GetTenant(rc.XTapisTenant)
		if err != nil {
			return "", err
		}
		rc.RequestTenantID = tenant.TenantID
		rc.RequestTenantBaseURL = tenant.BaseURL
		return rc.RequestTenantID, nil
	}

	r.logger.Debugf("resolving tenant from the request url: %s", req.BaseURL)
	if r.isDevURL(req.BaseURL) {
		if !rc.HasToken() {
			r.logger.Warnf("no token on local development request; using the %s tenant", tenants.DevTenantID)
			rc.RequestTenantID = tenants.DevTenantID
			rc.RequestTenantBaseURL = tenants.DevTenantBaseURL
			return rc.RequestTenantID, nil
		}
		tenant, err := r.registry.GetTenant(rc.TokenClaims.TenantID)
		if err != nil {
			return "", err
		}
		rc.RequestTenantID = tenant.TenantID
		rc.RequestTenantBaseURL = tenant.BaseURL
		return rc.RequestTenantID, nil
	}

	tenant, err := r.registry.GetTenantByURL(req.BaseURL)
	if err != nil {
		return "", err
	}
	rc.RequestTenantID = tenant.TenantID
	rc.RequestTenantBaseURL = tenant.BaseURL

	if rc.HasToken() && rc.TokenClaims.TenantID != rc.RequestTenantID {
		return "", tapiserrors.NewPermissionsError(fmt.Sprintf("the tenant_id claim in the token, %s, does not match the URL tenant, %s", rc.TokenClaims.TenantID, rc.RequestTenantID))
	}

	return rc.RequestTenantID, nil
}

func (r *Resolver) isDevURL(url string) bool {
	for _, marker := range r.devMarkers {
		if strings.Contains(url, marker) {
			return true
		}
	}
	return false
}

// NewResolver creates a new Resolver instance
func NewResolver(validator *Validator, logger *logs.Logger, config ResolverConfig) (*Resolver, error) {
	if validator == nil {
		return nil, fmt.Errorf("token validator is missing")
	}
	if logger == nil {
		logger = validator.logger
	}
	if config.DevRequestURL == "" {
		config.DevRequestURL = DefaultDevRequestURL
	}

	devMarkers := append(append([]string{}, localURLMarkers...), config.DevRequestURL)
	return &Resolver{registry: validator.registry, validator: validator, logger: logger, devMarkers: devMarkers}, nil
}
