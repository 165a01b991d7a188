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
	"sort"
	"sync"
	"time"

	"github.com/rokwire/logging-library-go/v2/logs"
	"github.com/tapis-project/tapis-service-go/authutils"
	"github.com/tapis-project/tapis-service-go/metrics"
	"github.com/tapis-project/tapis-service-go/tapiserrors"
	"github.com/tapis-project/tapis-service-go/tenants"
	"github.com/tapis-project/tapis-service-go/tokenauth"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultAccessTokenTTL is the lifetime requested for service access tokens
	DefaultAccessTokenTTL time.Duration = 24 * time.Hour
	// DefaultRefreshTokenTTL is the lifetime requested for service refresh tokens
	DefaultRefreshTokenTTL time.Duration = 3153600000 * time.Second
	// DefaultRefreshWindow is how close to expiry an access token is refreshed before an outbound request
	DefaultRefreshWindow time.Duration = 5 * time.Second
)

// -------------------- ServiceTokens --------------------

// AccessToken represents a service access token
type AccessToken struct {
	Raw       string
	Claims    *tokenauth.Claims
	ExpiresAt time.Time // Zero if the expiry is unknown
}

// ExpiresIn returns the time left before the token expires
func (t AccessToken) ExpiresIn(now time.Time) time.Duration {
	return t.ExpiresAt.Sub(now)
}

// RefreshToken represents a service refresh token
type RefreshToken struct {
	Raw       string
	ExpiresAt time.Time
}

// ServiceTokens holds the tokens the service uses to call services on behalf of one admin tenant
type ServiceTokens struct {
	AccessToken  AccessToken
	RefreshToken RefreshToken
}

// -------------------- ServiceTokenManager --------------------

// ServiceTokenManagerConfig holds optional settings for a ServiceTokenManager
type ServiceTokenManagerConfig struct {
	AccessTokenTTL  time.Duration // Defaults to DefaultAccessTokenTTL
	RefreshTokenTTL time.Duration // Defaults to DefaultRefreshTokenTTL
	RefreshWindow   time.Duration // Defaults to DefaultRefreshWindow

	Metrics *metrics.Metrics
	Now     func() time.Time
}

// ServiceTokenManager obtains and refreshes the implementing service's tokens for every admin tenant it calls into
type ServiceTokenManager struct {
	registry *tenants.Registry
	issuer   TokenIssuer
	logger   *logs.Logger

	config ServiceTokenManagerConfig

	tokens     map[string]ServiceTokens // Keyed by admin tenant ID
	tokensLock *sync.RWMutex

	refreshGroup singleflight.Group
}

// Registry returns the tenants registry used by the manager
func (m *ServiceTokenManager) Registry() *tenants.Registry {
	return m.registry
}

// Bootstrap creates a new token pair for every admin tenant returned by the registry's AdminTenantsForService
func (m *ServiceTokenManager) Bootstrap(ctx context.Context) error {
	service := m.registry.Service()
	for _, tenantID := range m.registry.AdminTenantsForService() {
		m.logger.Debugf("attempting to generate token for tenant %s", tenantID)
		err := m.CreateTokens(ctx, tenantID)
		if err != nil {
			return tapiserrors.Wrap(fmt.Sprintf("could not generate service tokens for service %s", service.Name), err)
		}
		m.logger.Infof("generated service tokens for tenant %s", tenantID)
	}
	return nil
}

// CreateTokens creates a new token pair for adminTenantID and caches it
func (m *ServiceTokenManager) CreateTokens(ctx context.Context, adminTenantID string) error {
	tenant, err := m.registry.GetTenant(adminTenantID)
	if err != nil {
		return fmt.Errorf("error computing target site id: %v", err)
	}

	service := m.registry.Service()
	req := CreateTokenRequest{TokenUsername: service.Name, TokenTenantID: service.TenantID, AccountType: authutils.AccountTypeService,
		AccessTokenTTL: int64(m.config.AccessTokenTTL.Seconds()), GenerateRefreshToken: true,
		RefreshTokenTTL: int64(m.config.RefreshTokenTTL.Seconds()), TargetSiteID: tenant.SiteID}
	tokens, err := m.issuer.CreateToken(ctx, req)
	if err != nil {
		return err
	}

	m.SetTokens(adminTenantID, *tokens)
	return nil
}

// Refresh exchanges the cached refresh token of adminTenantID for a new token pair
//
//	Concurrent refreshes for the same tenant share a single call to the issuer
func (m *ServiceTokenManager) Refresh(ctx context.Context, adminTenantID string) (*AccessToken, error) {
	result, err, _ := m.refreshGroup.Do(adminTenantID, func() (interface{}, error) {
		tokens, err := m.refresh(ctx, adminTenantID)
		m.config.Metrics.ServiceTokenRefresh(adminTenantID, err)
		return tokens, err
	})
	if err != nil {
		return nil, err
	}

	accessToken := result.(ServiceTokens).AccessToken
	return &accessToken, nil
}

func (m *ServiceTokenManager) refresh(ctx context.Context, adminTenantID string) (ServiceTokens, error) {
	cached, ok := m.Tokens(adminTenantID)
	if !ok || cached.RefreshToken.Raw == "" {
		return ServiceTokens{}, tapiserrors.New(fmt.Sprintf("no refresh token found for tenant %s", adminTenantID), 0)
	}

	tokens, err := m.issuer.RefreshToken(ctx, cached.RefreshToken.Raw)
	if err != nil {
		return ServiceTokens{}, tapiserrors.Wrap(fmt.Sprintf("error refreshing service tokens for tenant %s", adminTenantID), err)
	}
	if tokens.RefreshToken.Raw == "" {
		tokens.RefreshToken = cached.RefreshToken
	}

	m.SetTokens(adminTenantID, *tokens)
	return *tokens, nil
}

// Tokens returns the cached tokens of adminTenantID
func (m *ServiceTokenManager) Tokens(adminTenantID string) (ServiceTokens, bool) {
	m.tokensLock.RLock()
	defer m.tokensLock.RUnlock()

	tokens, ok := m.tokens[adminTenantID]
	return tokens, ok
}

// SetTokens caches tokens for adminTenantID
func (m *ServiceTokenManager) SetTokens(adminTenantID string, tokens ServiceTokens) {
	m.tokensLock.Lock()
	m.tokens[adminTenantID] = tokens
	m.tokensLock.Unlock()
}

// TenantIDs returns the admin tenants with cached tokens
func (m *ServiceTokenManager) TenantIDs() []string {
	m.tokensLock.RLock()
	defer m.tokensLock.RUnlock()

	ids := make([]string, 0, len(m.tokens))
	for id := range m.tokens {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// NeedsRefresh returns true if token expires within the manager's refresh window
//
//	Tokens with an unknown expiry never need a refresh
func (m *ServiceTokenManager) NeedsRefresh(token AccessToken) bool {
	if token.ExpiresAt.IsZero() {
		return false
	}
	return token.ExpiresIn(m.now()) < m.config.RefreshWindow
}

func (m *ServiceTokenManager) now() time.Time {
	if m.config.Now != nil {
		return m.config.Now()
	}
	return time.Now()
}

// NewServiceTokenManager creates and configures a new ServiceTokenManager instance
func NewServiceTokenManager(registry *tenants.Registry, issuer TokenIssuer, logger *logs.Logger, config ServiceTokenManagerConfig) (*ServiceTokenManager, error) {
	if registry == nil {
		return nil, fmt.Errorf("tenants registry is missing")
	}
	if issuer == nil {
		return nil, fmt.Errorf("token issuer is missing")
	}
	if logger == nil {
		logger = logs.NewLogger(registry.Service().Name, nil)
	}

	if config.AccessTokenTTL <= 0 {
		config.AccessTokenTTL = DefaultAccessTokenTTL
	}
	if config.RefreshTokenTTL <= 0 {
		config.RefreshTokenTTL = DefaultRefreshTokenTTL
	}
	if config.RefreshWindow <= 0 {
		config.RefreshWindow = DefaultRefreshWindow
	}

	return &ServiceTokenManager{registry: registry, issuer: issuer, logger: logger, config: config,
		tokens: map[string]ServiceTokens{}, tokensLock: &sync.RWMutex{}}, nil
}
