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

package tenants_test

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/tapis-project/tapis-service-go/internal/testutils"
	"github.com/tapis-project/tapis-service-go/tapiserrors"
	"github.com/tapis-project/tapis-service-go/tenants"
)

func setupTestRegistry(t *testing.T, service *tenants.Service) *tenants.Registry {
	registry, err := testutils.SetupTestRegistry(service, testutils.SetupExampleMockRegistrySource())
	if err != nil || registry == nil {
		t.Fatalf("Error initializing test registry: %v", err)
	}
	return registry
}

func TestNewRegistry(t *testing.T) {
	sites := testutils.GetSampleSites()
	noPrimary := testutils.GetSampleSites()
	noPrimary[0].Primary = false
	twoPrimaries := testutils.GetSampleSites()
	twoPrimaries[1].Primary = true

	tests := []struct {
		name     string
		service  *tenants.Service
		source   tenants.RegistrySource
		wantKind tapiserrors.Kind
	}{
		{"return registry on valid records", testutils.GetPrimaryService(), testutils.SetupMockRegistrySource(testutils.GetSampleTenants(), sites, nil), ""},
		{"return registry unavailable when source fails", testutils.GetPrimaryService(), testutils.SetupMockRegistrySource(nil, nil, errors.New("connection refused")), tapiserrors.KindRegistryUnavailable},
		{"return configuration error without primary site", testutils.GetPrimaryService(), testutils.SetupMockRegistrySource(testutils.GetSampleTenants(), noPrimary, nil), tapiserrors.KindConfiguration},
		{"return configuration error with two primary sites", testutils.GetPrimaryService(), testutils.SetupMockRegistrySource(testutils.GetSampleTenants(), twoPrimaries, nil), tapiserrors.KindConfiguration},
		{"return configuration error on missing service site", &tenants.Service{Name: "files", TenantID: "admin"}, testutils.SetupExampleMockRegistrySource(), tapiserrors.KindConfiguration},
		{"return configuration error on missing source", testutils.GetPrimaryService(), nil, tapiserrors.KindConfiguration},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			registry, err := tenants.NewRegistry(tt.service, tt.source, nil, tenants.RegistryConfig{})
			if tt.wantKind == "" {
				assert.NoError(t, err)
				assert.NotNil(t, registry)
				return
			}
			assert.Nil(t, registry)
			assert.Equal(t, tt.wantKind, tapiserrors.KindOf(err))
		})
	}
}

func TestRegistry_SkipsTenantWithUnknownSite(t *testing.T) {
	tenantList := append(testutils.GetSampleTenants(), tenants.Tenant{TenantID: "orphan", BaseURL: "https://orphan.tapis.io", SiteID: "nowhere"})
	registry, err := testutils.SetupTestRegistry(testutils.GetPrimaryService(), testutils.SetupMockRegistrySource(tenantList, testutils.GetSampleSites(), nil))
	if err != nil {
		t.Fatalf("Error initializing test registry: %v", err)
	}

	assert.Len(t, registry.Tenants(), len(testutils.GetSampleTenants()))
	_, err = registry.GetTenant("orphan")
	assert.True(t, errors.Is(err, tapiserrors.ErrTenantNotFound))
}

func TestRegistry_Lookups(t *testing.T) {
	registry := setupTestRegistry(t, testutils.GetPrimaryService())

	for _, want := range testutils.GetSampleTenants() {
		t.Run(want.TenantID, func(t *testing.T) {
			byID, err := registry.GetTenant(want.TenantID)
			if assert.NoError(t, err) {
				assert.Equal(t, want.TenantID, byID.TenantID)
				assert.Equal(t, want.SiteID, byID.Site.SiteID)
			}

			byURL, err := registry.GetTenantByURL(want.BaseURL)
			if assert.NoError(t, err) {
				assert.Equal(t, want.TenantID, byURL.TenantID)
			}
		})
	}
}

func TestRegistry_GetTenant(t *testing.T) {
	type args struct {
		tenantID string
	}
	tests := []struct {
		name         string
		args         args
		want         string
		wantErr      bool
		wantRefreshs int
	}{
		{"return tenant when found", args{"a"}, "a", false, 1},
		{"refresh once and return err when not found", args{"missing"}, "", true, 2},
		{"return err without refresh on empty id", args{""}, "", true, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockSource := testutils.SetupExampleMockRegistrySource()
			registry, err := testutils.SetupTestRegistry(testutils.GetPrimaryService(), mockSource)
			if err != nil {
				t.Fatalf("Error initializing test registry: %v", err)
			}

			got, err := registry.GetTenant(tt.args.tenantID)
			if (err != nil) != tt.wantErr {
				t.Errorf("Registry.GetTenant() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if tt.wantErr {
				assert.True(t, errors.Is(err, tapiserrors.ErrTenantNotFound))
			} else {
				assert.Equal(t, tt.want, got.TenantID)
			}
			mockSource.AssertNumberOfCalls(t, "ListTenants", tt.wantRefreshs)
		})
	}
}

func TestRegistry_GetTenant_FoundAfterRefresh(t *testing.T) {
	initial := testutils.GetSampleTenants()
	updated := append(testutils.GetSampleTenants(), tenants.Tenant{TenantID: "c", BaseURL: "https://c.tapis.io", SiteID: testutils.PrimarySiteID})

	mockSource := testutils.SetupMockRegistrySource(nil, testutils.GetSampleSites(), nil)
	mockSource.ExpectedCalls = nil
	mockSource.On("ListTenants").Return(initial, nil).Once()
	mockSource.On("ListTenants").Return(updated, nil)
	mockSource.On("ListSites").Return(testutils.GetSampleSites(), nil)

	registry, err := testutils.SetupTestRegistry(testutils.GetPrimaryService(), mockSource)
	if err != nil {
		t.Fatalf("Error initializing test registry: %v", err)
	}

	got, err := registry.GetTenant("c")
	if assert.NoError(t, err) {
		assert.Equal(t, "c", got.TenantID)
	}
	mockSource.AssertNumberOfCalls(t, "ListTenants", 2)
}

func TestRegistry_Refresh_KeepsSnapshotOnFailure(t *testing.T) {
	mockSource := testutils.SetupExampleMockRegistrySource()
	mockSource.ExpectedCalls = nil
	mockSource.On("ListTenants").Return(testutils.GetSampleTenants(), nil).Once()
	mockSource.On("ListTenants").Return(nil, errors.New("timeout"))
	mockSource.On("ListSites").Return(testutils.GetSampleSites(), nil)

	registry, err := testutils.SetupTestRegistry(testutils.GetPrimaryService(), mockSource)
	if err != nil {
		t.Fatalf("Error initializing test registry: %v", err)
	}

	err = registry.Refresh()
	assert.True(t, errors.Is(err, tapiserrors.ErrRegistryUnavailable))

	got, err := registry.GetTenant("b")
	if assert.NoError(t, err) {
		assert.Equal(t, testutils.AssociateSiteID, got.SiteID)
	}
}

func TestRegistry_GetTenantByURL(t *testing.T) {
	type args struct {
		url string
	}
	tests := []struct {
		name    string
		args    args
		want    string
		wantErr bool
	}{
		{"return tenant for base url", args{"https://b.tapis.hawaii.edu"}, "b", false},
		{"return tenant for url below base url", args{"https://a.tapis.io/v3/files/ops"}, "a", false},
		{"return tenant for http url", args{"http://a.tapis.io/v3/systems"}, "a", false},
		{"return associate tenant for primary site url", args{"https://b.tapis.io/v3/files"}, "b", false},
		{"return dev tenant for local url", args{"http://localhost:5000/v3/oauth2/tenant"}, "dev", false},
		{"return err when host only shares a prefix", args{"https://a.tapis.io.evil.com/v3"}, "", true},
		{"return err when not found", args{"https://unknown.example.com"}, "", true},
		{"return err on empty url", args{""}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			registry := setupTestRegistry(t, testutils.GetPrimaryService())

			got, err := registry.GetTenantByURL(tt.args.url)
			if (err != nil) != tt.wantErr {
				t.Errorf("Registry.GetTenantByURL() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && got.TenantID != tt.want {
				t.Errorf("Registry.GetTenantByURL() = %v, want %v", got.TenantID, tt.want)
			}
		})
	}
}

func TestRegistry_BaseURLAtPrimarySite(t *testing.T) {
	registry := setupTestRegistry(t, testutils.GetPrimaryService())
	got, err := registry.BaseURLAtPrimarySite("b")
	assert.NoError(t, err)
	assert.Equal(t, "https://b.tapis.io", got)

	sites := testutils.GetSampleSites()
	sites[0].TenantBaseURLTemplate = ""
	registry, err = testutils.SetupTestRegistry(testutils.GetPrimaryService(), testutils.SetupMockRegistrySource(testutils.GetSampleTenants(), sites, nil))
	if err != nil {
		t.Fatalf("Error initializing test registry: %v", err)
	}
	_, err = registry.BaseURLAtPrimarySite("b")
	assert.True(t, errors.Is(err, tapiserrors.ErrConfiguration))
}

func TestRegistry_RouteForService(t *testing.T) {
	type args struct {
		tenantID    string
		serviceName string
	}
	tests := []struct {
		name        string
		service     *tenants.Service
		args        args
		wantSiteID  string
		wantBaseURL string
		wantErr     bool
	}{
		{"route tenants to primary site", testutils.GetPrimaryService(), args{"b", "tenants"}, "tacc", "https://admin.tapis.io", false},
		{"route tenants to primary site from associate", testutils.GetAssociateService(), args{"uhadmin", "tenants"}, "tacc", "https://admin.tapis.io", false},
		{"route hosted service to owning site", testutils.GetPrimaryService(), args{"b", "files"}, "uh", "https://b.tapis.hawaii.edu", false},
		{"route sk for foreign tenant to primary site", testutils.GetPrimaryService(), args{"b", "sk"}, "tacc", "https://b.tapis.io", false},
		{"route tokens for foreign tenant to primary site", testutils.GetPrimaryService(), args{"b", "tokens"}, "tacc", "https://b.tapis.io", false},
		{"route sk for own tenant to own site", testutils.GetAssociateService(), args{"b", "sk"}, "uh", "https://b.tapis.hawaii.edu", false},
		{"route sk for primary tenant from associate to primary", testutils.GetAssociateService(), args{"a", "sk"}, "tacc", "https://a.tapis.io", false},
		{"route service not hosted by owning site to primary", testutils.GetAssociateService(), args{"b", "systems"}, "tacc", "https://b.tapis.io", false},
		{"route primary tenant to primary site", testutils.GetAssociateService(), args{"a", "files"}, "tacc", "https://a.tapis.io", false},
		{"return err on unknown tenant", testutils.GetPrimaryService(), args{"missing", "files"}, "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			registry := setupTestRegistry(t, tt.service)

			siteID, baseURL, err := registry.RouteForService(tt.args.tenantID, tt.args.serviceName)
			if (err != nil) != tt.wantErr {
				t.Errorf("Registry.RouteForService() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			assert.Equal(t, tt.wantSiteID, siteID)
			assert.Equal(t, tt.wantBaseURL, baseURL)
		})
	}
}

func TestRegistry_AdminTenantsForService(t *testing.T) {
	tenantsService := &tenants.Service{Name: tenants.ServiceTenants, SiteID: testutils.AssociateSiteID, TenantID: testutils.AssociateAdminTenantID}

	tests := []struct {
		name             string
		service          *tenants.Service
		want             []string
		runningAtPrimary bool
	}{
		{"return every site admin tenant at primary site", testutils.GetPrimaryService(), []string{"admin", "uhadmin"}, true},
		{"return own and primary admin tenant at associate site", testutils.GetAssociateService(), []string{"uhadmin", "admin"}, false},
		{"treat tenants service as running at primary site", tenantsService, []string{"admin", "uhadmin"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			registry := setupTestRegistry(t, tt.service)

			assert.Equal(t, tt.runningAtPrimary, registry.RunningAtPrimarySite())
			assert.Equal(t, tt.want, registry.AdminTenantsForService())
		})
	}
}

func TestRegistry_AdminTenantForSite(t *testing.T) {
	registry := setupTestRegistry(t, testutils.GetPrimaryService())

	got, err := registry.AdminTenantForSite(testutils.AssociateSiteID)
	assert.NoError(t, err)
	assert.Equal(t, testutils.AssociateAdminTenantID, got)

	_, err = registry.AdminTenantForSite("missing")
	assert.Error(t, err)
}

func TestRegistry_RefreshIfStale(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var lock sync.Mutex
	clock := func() time.Time {
		lock.Lock()
		defer lock.Unlock()
		return now
	}
	advance := func(d time.Duration) {
		lock.Lock()
		now = now.Add(d)
		lock.Unlock()
	}

	mockSource := testutils.SetupExampleMockRegistrySource()
	registry, err := tenants.NewRegistry(testutils.GetPrimaryService(), mockSource, nil, tenants.RegistryConfig{Now: clock})
	if err != nil {
		t.Fatalf("Error initializing test registry: %v", err)
	}

	steps := []struct {
		advance       time.Duration
		wantRefreshed bool
		wantCalls     int
	}{
		{0, false, 1},
		{89 * time.Second, false, 1},
		{2 * time.Second, true, 2},
		{time.Second, false, 2},
		{tenants.DefaultRefreshCooldown + time.Second, true, 3},
	}
	for i, step := range steps {
		t.Run(fmt.Sprintf("step %d", i), func(t *testing.T) {
			advance(step.advance)
			refreshed, err := registry.RefreshIfStale()
			assert.NoError(t, err)
			assert.Equal(t, step.wantRefreshed, refreshed)
			mockSource.AssertNumberOfCalls(t, "ListTenants", step.wantCalls)
		})
	}
}

func TestRegistry_ExtendTenant(t *testing.T) {
	extend := func(tenant *tenants.Tenant) error {
		tenant.Extension = map[string]interface{}{"admin": tenant.IsSiteAdmin()}
		return nil
	}
	registry, err := tenants.NewRegistry(testutils.GetPrimaryService(), testutils.SetupExampleMockRegistrySource(), nil, tenants.RegistryConfig{ExtendTenant: extend})
	if err != nil {
		t.Fatalf("Error initializing test registry: %v", err)
	}

	admin, err := registry.GetTenant(testutils.PrimaryAdminTenantID)
	if assert.NoError(t, err) {
		assert.Equal(t, true, admin.Extension["admin"])
	}
	tenant, err := registry.GetTenant("a")
	if assert.NoError(t, err) {
		assert.Equal(t, false, tenant.Extension["admin"])
	}

	failing := func(tenant *tenants.Tenant) error {
		return errors.New("missing attribute")
	}
	_, err = tenants.NewRegistry(testutils.GetPrimaryService(), testutils.SetupExampleMockRegistrySource(), nil, tenants.RegistryConfig{ExtendTenant: failing})
	assert.True(t, errors.Is(err, tapiserrors.ErrConfiguration))
}

func TestRegistry_ConcurrentReads(t *testing.T) {
	registry := setupTestRegistry(t, testutils.GetPrimaryService())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			assert.NoError(t, registry.Refresh())
		}()
		go func() {
			defer wg.Done()
			_, _, err := registry.RouteForService("b", "files")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
}
