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

package authservice_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/tapis-project/tapis-service-go/authservice"
	"github.com/tapis-project/tapis-service-go/authservice/mocks"
	"github.com/tapis-project/tapis-service-go/internal/testutils"
	"github.com/tapis-project/tapis-service-go/tapiserrors"
	"github.com/tapis-project/tapis-service-go/tenants"
)

func setupTestManager(t *testing.T, service *tenants.Service, issuer authservice.TokenIssuer) *authservice.ServiceTokenManager {
	registry, err := testutils.SetupTestRegistry(service, tenants.NewStaticRegistrySource(testutils.GetSampleTenants(), testutils.GetSampleSites()))
	if err != nil {
		t.Fatalf("Error initializing test registry: %v", err)
	}
	manager, err := authservice.NewServiceTokenManager(registry, issuer, nil, authservice.ServiceTokenManagerConfig{})
	if err != nil {
		t.Fatalf("Error initializing test manager: %v", err)
	}
	return manager
}

func sampleTokens(name string, expiresIn time.Duration) *authservice.ServiceTokens {
	return &authservice.ServiceTokens{
		AccessToken:  authservice.AccessToken{Raw: "access-" + name, ExpiresAt: time.Now().Add(expiresIn)},
		RefreshToken: authservice.RefreshToken{Raw: "refresh-" + name, ExpiresAt: time.Now().Add(authservice.DefaultRefreshTokenTTL)},
	}
}

func matchTargetSite(siteID string) interface{} {
	return mock.MatchedBy(func(req authservice.CreateTokenRequest) bool { return req.TargetSiteID == siteID })
}

func TestServiceTokenManager_Bootstrap(t *testing.T) {
	tests := []struct {
		name        string
		service     *tenants.Service
		wantTenants []string
		wantSites   []string
	}{
		{"create tokens for every site at primary site", testutils.GetPrimaryService(), []string{"admin", "uhadmin"}, []string{"tacc", "uh"}},
		{"create tokens for own and primary site at associate site", testutils.GetAssociateService(), []string{"admin", "uhadmin"}, []string{"tacc", "uh"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockIssuer := mocks.NewTokenIssuer(t)
			for i, siteID := range tt.wantSites {
				mockIssuer.On("CreateToken", mock.Anything, matchTargetSite(siteID)).Return(sampleTokens(tt.wantTenants[i], time.Hour), nil).Once()
			}
			manager := setupTestManager(t, tt.service, mockIssuer)

			err := manager.Bootstrap(context.Background())
			assert.NoError(t, err)
			assert.Equal(t, tt.wantTenants, manager.TenantIDs())

			for i, tenantID := range tt.wantTenants {
				tokens, ok := manager.Tokens(tenantID)
				if assert.True(t, ok) {
					assert.Equal(t, "access-"+tt.wantTenants[i], tokens.AccessToken.Raw)
				}
			}
		})
	}
}

func TestServiceTokenManager_CreateTokens_Request(t *testing.T) {
	mockIssuer := mocks.NewTokenIssuer(t)
	want := authservice.CreateTokenRequest{TokenUsername: "files", TokenTenantID: "uhadmin", AccountType: "service", AccessTokenTTL: 86400,
		GenerateRefreshToken: true, RefreshTokenTTL: 3153600000, TargetSiteID: "tacc"}
	mockIssuer.On("CreateToken", mock.Anything, want).Return(sampleTokens("admin", time.Hour), nil).Once()

	manager := setupTestManager(t, testutils.GetAssociateService(), mockIssuer)
	assert.NoError(t, manager.CreateTokens(context.Background(), "admin"))
}

func TestServiceTokenManager_Bootstrap_Error(t *testing.T) {
	mockIssuer := mocks.NewTokenIssuer(t)
	mockIssuer.On("CreateToken", mock.Anything, mock.Anything).Return(nil, errors.New("invalid password")).Once()
	manager := setupTestManager(t, testutils.GetPrimaryService(), mockIssuer)

	err := manager.Bootstrap(context.Background())
	assert.Equal(t, tapiserrors.KindBase, tapiserrors.KindOf(err))
	assert.Empty(t, manager.TenantIDs())
}

func TestServiceTokenManager_Refresh(t *testing.T) {
	tests := []struct {
		name        string
		cached      *authservice.ServiceTokens
		refreshed   *authservice.ServiceTokens
		refreshErr  error
		wantAccess  string
		wantRefresh string
		wantErr     bool
	}{
		{"replace cached tokens", sampleTokens("old", time.Second), sampleTokens("new", time.Hour), nil, "access-new", "refresh-new", false},
		{"keep refresh token when not returned", sampleTokens("old", time.Second), &authservice.ServiceTokens{AccessToken: authservice.AccessToken{Raw: "access-new"}}, nil, "access-new", "refresh-old", false},
		{"return err and keep cache when refresh fails", sampleTokens("old", time.Second), nil, errors.New("tokens unavailable"), "access-old", "refresh-old", true},
		{"return err when nothing cached", nil, nil, nil, "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockIssuer := mocks.NewTokenIssuer(t)
			if tt.cached != nil {
				mockIssuer.On("RefreshToken", mock.Anything, tt.cached.RefreshToken.Raw).Return(tt.refreshed, tt.refreshErr).Once()
			}
			manager := setupTestManager(t, testutils.GetPrimaryService(), mockIssuer)
			if tt.cached != nil {
				manager.SetTokens("uhadmin", *tt.cached)
			}

			got, err := manager.Refresh(context.Background(), "uhadmin")
			if (err != nil) != tt.wantErr {
				t.Errorf("ServiceTokenManager.Refresh() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr {
				assert.Equal(t, tt.wantAccess, got.Raw)
			} else {
				assert.Equal(t, tapiserrors.KindBase, tapiserrors.KindOf(err))
			}

			tokens, _ := manager.Tokens("uhadmin")
			assert.Equal(t, tt.wantAccess, tokens.AccessToken.Raw)
			assert.Equal(t, tt.wantRefresh, tokens.RefreshToken.Raw)
		})
	}
}

func TestServiceTokenManager_Refresh_Coalesced(t *testing.T) {
	release := make(chan struct{})
	mockIssuer := mocks.NewTokenIssuer(t)
	mockIssuer.On("RefreshToken", mock.Anything, "refresh-old").Run(func(args mock.Arguments) { <-release }).Return(sampleTokens("new", time.Hour), nil)

	manager := setupTestManager(t, testutils.GetPrimaryService(), mockIssuer)
	manager.SetTokens("uhadmin", *sampleTokens("old", time.Second))

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := manager.Refresh(context.Background(), "uhadmin")
			if assert.NoError(t, err) {
				assert.Equal(t, "access-new", got.Raw)
			}
		}()
	}
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	mockIssuer.AssertNumberOfCalls(t, "RefreshToken", 1)
}

func TestServiceTokenManager_NeedsRefresh(t *testing.T) {
	manager := setupTestManager(t, testutils.GetPrimaryService(), mocks.NewTokenIssuer(t))

	tests := []struct {
		name  string
		token authservice.AccessToken
		want  bool
	}{
		{"refresh token one second from expiry", authservice.AccessToken{ExpiresAt: time.Now().Add(time.Second)}, true},
		{"refresh expired token", authservice.AccessToken{ExpiresAt: time.Now().Add(-time.Minute)}, true},
		{"keep token valid for an hour", authservice.AccessToken{ExpiresAt: time.Now().Add(time.Hour)}, false},
		{"keep token with unknown expiry", authservice.AccessToken{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, manager.NeedsRefresh(tt.token))
		})
	}
}

func TestNewServiceTokenManager(t *testing.T) {
	_, err := authservice.NewServiceTokenManager(nil, mocks.NewTokenIssuer(t), nil, authservice.ServiceTokenManagerConfig{})
	assert.Error(t, err)
}
