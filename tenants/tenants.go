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

package tenants

import (
	"fmt"
	"strings"

	"github.com/tapis-project/tapis-service-go/authutils"
	"github.com/tapis-project/tapis-service-go/keys"
)

const (
	// ServiceTenants is the name of the tenants service, which is only deployed at the primary site
	ServiceTenants string = "tenants"
	// ServiceSK is the name of the security kernel service
	ServiceSK string = "sk"
	// ServiceSecurity is an alternative name of the security kernel service
	ServiceSecurity string = "security"
	// ServiceTokens is the name of the token issuing service
	ServiceTokens string = "tokens"
	// ServiceAuthenticator is the name of the authenticator service
	ServiceAuthenticator string = "authenticator"

	// DevTenantID is the tenant used for local development requests
	DevTenantID string = "dev"
	// DevTenantBaseURL is the base URL of the local development tenant
	DevTenantBaseURL string = "http://dev.develop.tapis.io"
)

// -------------------- Service --------------------

// Service contains the identity of the implementing service
type Service struct {
	Name                    string // Name of the implementing service (eg. "files")
	SiteID                  string // Site the implementing service is deployed at
	TenantID                string // Admin tenant of the implementing service's site
	PrimarySiteAdminBaseURL string // Base URL of the primary site's admin tenant
}

// IsSecurityService returns true if name is the security kernel or token issuing service
func IsSecurityService(name string) bool {
	return name == ServiceSK || name == ServiceSecurity || name == ServiceTokens
}

func checkService(s *Service) error {
	if s == nil {
		return fmt.Errorf("service is missing")
	}
	if s.Name == "" {
		return fmt.Errorf("service name is missing")
	}
	if s.SiteID == "" {
		return fmt.Errorf("service site ID is missing")
	}
	if s.TenantID == "" {
		return fmt.Errorf("service tenant ID is missing")
	}
	return nil
}

// -------------------- Site --------------------

// Site represents a deployment of the platform owning a set of tenants and services
type Site struct {
	SiteID                string   `json:"site_id" yaml:"site_id" validate:"required"`
	Primary               bool     `json:"primary" yaml:"primary"`
	BaseURL               string   `json:"base_url" yaml:"base_url"`
	SiteAdminTenantID     string   `json:"site_admin_tenant_id" yaml:"site_admin_tenant_id" validate:"required"`
	TenantBaseURLTemplate string   `json:"tenant_base_url_template" yaml:"tenant_base_url_template"`
	Services              []string `json:"services" yaml:"services"`
}

// HostsService returns true if the site runs its own deployment of the named service
func (s *Site) HostsService(name string) bool {
	if s == nil {
		return false
	}
	return authutils.ContainsString(s.Services, name)
}

// TenantBaseURL returns the base URL for tenantID computed from the site's tenant base URL template
func (s *Site) TenantBaseURL(tenantID string) (string, error) {
	if s == nil || s.TenantBaseURLTemplate == "" {
		return "", fmt.Errorf("site is missing a tenant base URL template")
	}
	return strings.ReplaceAll(s.TenantBaseURLTemplate, authutils.TenantIDPlaceholder, tenantID), nil
}

// -------------------- Tenant --------------------

// Tenant represents a tenant record from the tenants registry
type Tenant struct {
	TenantID  string `json:"tenant_id" yaml:"tenant_id" validate:"required"`
	BaseURL   string `json:"base_url" yaml:"base_url" validate:"required"`
	PublicKey string `json:"public_key" yaml:"public_key"`
	SiteID    string `json:"site_id" yaml:"site_id" validate:"required"`
	Status    string `json:"status" yaml:"status"`

	// Site is the owning site, resolved on every registry refresh
	Site *Site `json:"-" yaml:"-"`
	// Extension holds service specific attributes set by the registry's ExtendTenant hook
	Extension map[string]interface{} `json:"-" yaml:"-"`

	pubKey *keys.PubKey
}

// IsSiteAdmin returns true if the tenant is the admin tenant of its owning site
func (t *Tenant) IsSiteAdmin() bool {
	return t != nil && t.Site != nil && t.Site.SiteAdminTenantID == t.TenantID
}

// PubKey returns the decoded token signing key of the tenant
func (t *Tenant) PubKey() (*keys.PubKey, error) {
	if t == nil {
		return nil, fmt.Errorf("tenant is nil")
	}
	if t.pubKey != nil {
		return t.pubKey, nil
	}
	if t.PublicKey == "" {
		return nil, fmt.Errorf("no public key associated with tenant %s", t.TenantID)
	}
	return keys.NewPubKey(t.PublicKey)
}
