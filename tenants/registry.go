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
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rokwire/logging-library-go/v2/errors"
	"github.com/rokwire/logging-library-go/v2/logs"
	"github.com/rokwire/logging-library-go/v2/logutils"
	"github.com/tapis-project/tapis-service-go/metrics"
	"github.com/tapis-project/tapis-service-go/tapiserrors"
	"golang.org/x/sync/singleflight"
)

const (
	typeTenant     logutils.MessageDataType   = "tenant"
	typeSite       logutils.MessageDataType   = "site"
	typePrimary    logutils.MessageDataType   = "primary site"
	actionLoad     logutils.MessageActionType = "loading"
	actionExtend   logutils.MessageActionType = "extending"
	statusMissing  logutils.MessageDataStatus = "missing"
	statusMultiple logutils.MessageDataStatus = "duplicated"

	// DefaultRefreshCooldown is the minimum time between refreshes triggered by token verification failures
	DefaultRefreshCooldown time.Duration = 90 * time.Second

	localDevURLMarker string = "http://localhost:500"
)

// -------------------- Registry --------------------

// RegistryConfig holds optional settings for a Registry
type RegistryConfig struct {
	// ExtendTenant is called once per tenant on every refresh to add service specific attributes
	ExtendTenant func(tenant *Tenant) error
	// RefreshCooldown overrides DefaultRefreshCooldown
	RefreshCooldown time.Duration
	// Metrics records refresh outcomes when set
	Metrics *metrics.Metrics
	// Now overrides the clock used for refresh bookkeeping
	Now func() time.Time
}

// Registry holds the tenants and sites known to the implementing service
//
//	The registry is rebuilt from its RegistrySource on startup and replaced wholesale on refresh.
//	Readers always observe a complete snapshot.
type Registry struct {
	service *Service
	source  RegistrySource
	logger  *logs.Logger

	config RegistryConfig

	current     *snapshot
	lastAttempt time.Time // Most recent time a refresh was started
	lock        *sync.RWMutex

	refreshGroup singleflight.Group
}

type snapshot struct {
	tenants          map[string]*Tenant
	sites            map[string]*Site
	primarySite      *Site
	runningAtPrimary bool
	updated          time.Time
}

// Service returns the identity of the implementing service
func (r *Registry) Service() *Service {
	return r.service
}

// Refresh loads all tenants and sites from the registry source and replaces the current snapshot
//
//	Concurrent calls share a single load. On failure the previous snapshot is kept.
func (r *Registry) Refresh() error {
	_, err, _ := r.refreshGroup.Do("refresh", func() (interface{}, error) {
		return nil, r.refresh()
	})
	return err
}

// RefreshIfStale refreshes the registry only if the refresh cooldown has elapsed since the last refresh
//
//	Returns true if a refresh was performed
func (r *Registry) RefreshIfStale() (bool, error) {
	if !r.CooldownElapsed() {
		return false, nil
	}
	return true, r.Refresh()
}

// CooldownElapsed returns true if the refresh cooldown has elapsed since the last refresh
func (r *Registry) CooldownElapsed() bool {
	r.lock.RLock()
	lastAttempt := r.lastAttempt
	r.lock.RUnlock()

	return r.now().After(lastAttempt.Add(r.config.RefreshCooldown))
}

// LastRefresh returns the time the most recent refresh was started
func (r *Registry) LastRefresh() time.Time {
	r.lock.RLock()
	defer r.lock.RUnlock()

	return r.lastAttempt
}

func (r *Registry) refresh() error {
	r.lock.Lock()
	r.lastAttempt = r.now()
	r.lock.Unlock()

	r.logger.Debug("loading sites and tenants from the tenants registry")
	snap, err := r.load()
	r.config.Metrics.RegistryRefresh(err)
	if err != nil {
		r.logger.Errorf("error refreshing tenants registry: %v", err)
		return err
	}

	r.lock.Lock()
	r.current = snap
	r.lock.Unlock()

	r.logger.Infof("loaded %d tenants and %d sites; service running at primary site: %t", len(snap.tenants), len(snap.sites), snap.runningAtPrimary)
	return nil
}

func (r *Registry) load() (*snapshot, error) {
	tenantList, err := r.source.ListTenants()
	if err != nil {
		return nil, tapiserrors.NewRegistryUnavailableError("unable to retrieve tenants from the tenants API", err)
	}
	siteList, err := r.source.ListSites()
	if err != nil {
		return nil, tapiserrors.NewRegistryUnavailableError("unable to retrieve sites from the tenants API", err)
	}

	snap := snapshot{tenants: make(map[string]*Tenant, len(tenantList)), sites: make(map[string]*Site, len(siteList)), updated: r.now()}
	for i := range siteList {
		site := siteList[i]
		site.Services = append([]string(nil), site.Services...)
		snap.sites[site.SiteID] = &site
		if !site.Primary {
			continue
		}
		if snap.primarySite != nil {
			return nil, tapiserrors.NewConfigurationError("invalid sites", errors.ErrorData(statusMultiple, typePrimary, &logutils.FieldArgs{"site_id": site.SiteID, "other": snap.primarySite.SiteID}))
		}
		snap.primarySite = snap.sites[site.SiteID]
	}
	if snap.primarySite == nil {
		return nil, tapiserrors.NewConfigurationError("invalid sites", errors.ErrorData(statusMissing, typePrimary, nil))
	}
	snap.runningAtPrimary = r.service.Name == ServiceTenants || snap.primarySite.SiteID == r.service.SiteID

	for i := range tenantList {
		tenant := tenantList[i]
		site, ok := snap.sites[tenant.SiteID]
		if !ok {
			r.logger.Errorf("skipping tenant %s: owning site %s is not in the registry", tenant.TenantID, tenant.SiteID)
			continue
		}
		tenant.Site = site

		if tenant.PublicKey != "" {
			pubKey, err := tenant.PubKey()
			if err != nil {
				r.logger.Warnf("error decoding public key for tenant %s: %v", tenant.TenantID, err)
			} else {
				tenant.pubKey = pubKey
			}
		}

		if r.config.ExtendTenant != nil {
			err = r.config.ExtendTenant(&tenant)
			if err != nil {
				return nil, tapiserrors.NewConfigurationError("error extending tenant", errors.WrapErrorAction(actionExtend, typeTenant, &logutils.FieldArgs{"tenant_id": tenant.TenantID}, err))
			}
		}

		snap.tenants[tenant.TenantID] = &tenant
	}

	return &snap, nil
}

func (r *Registry) snapshot() *snapshot {
	r.lock.RLock()
	defer r.lock.RUnlock()

	return r.current
}

// PrimarySite returns the primary site
func (r *Registry) PrimarySite() *Site {
	site := *r.snapshot().primarySite
	return &site
}

// RunningAtPrimarySite returns true if the implementing service is deployed at the primary site
func (r *Registry) RunningAtPrimarySite() bool {
	return r.snapshot().runningAtPrimary
}

// Tenants returns every tenant in the registry ordered by tenant ID
func (r *Registry) Tenants() []Tenant {
	snap := r.snapshot()
	list := make([]Tenant, 0, len(snap.tenants))
	for _, tenant := range snap.tenants {
		list = append(list, *tenant)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].TenantID < list[j].TenantID })
	return list
}

// GetTenant returns the tenant with the given ID
//
//	If the tenant is not found, the registry is refreshed once and the lookup retried
func (r *Registry) GetTenant(tenantID string) (*Tenant, error) {
	if tenantID == "" {
		return nil, tapiserrors.NewTenantNotFoundError("tenant id is missing")
	}

	r.logger.Debugf("looking for tenant with tenant_id: %s", tenantID)
	if tenant := r.snapshot().findByID(tenantID); tenant != nil {
		return tenant, nil
	}

	r.logger.Infof("did not find tenant %s; reloading tenants", tenantID)
	if err := r.Refresh(); err != nil {
		r.logger.Warnf("error reloading tenants: %v", err)
	}
	if tenant := r.snapshot().findByID(tenantID); tenant != nil {
		return tenant, nil
	}

	return nil, tapiserrors.NewTenantNotFoundError(fmt.Sprintf("invalid tenant id %s", tenantID))
}

// GetTenantByURL returns the tenant whose base URL, or base URL at the primary site, matches url
//
//	If no tenant is found, the registry is refreshed once and the lookup retried
func (r *Registry) GetTenantByURL(url string) (*Tenant, error) {
	if url == "" {
		return nil, tapiserrors.NewTenantNotFoundError("url is missing")
	}
	if strings.Contains(url, localDevURLMarker) {
		r.logger.Debugf("%s in url; resolving tenant id to %s", localDevURLMarker, DevTenantID)
		return r.GetTenant(DevTenantID)
	}
	if strings.HasPrefix(url, "http://") {
		url = "https://" + strings.TrimPrefix(url, "http://")
	}

	r.logger.Debugf("looking for tenant with url: %s", url)
	if tenant := r.snapshot().findByURL(url); tenant != nil {
		return tenant, nil
	}

	r.logger.Infof("did not find tenant for url %s; reloading tenants", url)
	if err := r.Refresh(); err != nil {
		r.logger.Warnf("error reloading tenants: %v", err)
	}
	if tenant := r.snapshot().findByURL(url); tenant != nil {
		return tenant, nil
	}

	return nil, tapiserrors.NewTenantNotFoundError(fmt.Sprintf("no tenant found for url %s", url))
}

// BaseURLAtPrimarySite returns the URL at which the primary site serves tenantID
func (r *Registry) BaseURLAtPrimarySite(tenantID string) (string, error) {
	return r.snapshot().baseURLAtPrimarySite(tenantID)
}

// AdminTenantForSite returns the admin tenant ID of the given site
func (r *Registry) AdminTenantForSite(siteID string) (string, error) {
	site, ok := r.snapshot().sites[siteID]
	if !ok {
		return "", tapiserrors.NewConfigurationError(fmt.Sprintf("unknown site %s", siteID), nil)
	}
	return site.SiteAdminTenantID, nil
}

// AdminTenantsForService returns the admin tenants the implementing service must hold service tokens for
//
//	At the primary site this is the admin tenant of every site. At an associate site it is the
//	service's own tenant and the primary site's admin tenant.
func (r *Registry) AdminTenantsForService() []string {
	snap := r.snapshot()

	var adminTenants []string
	if snap.runningAtPrimary {
		for _, tenant := range snap.tenants {
			if tenant.IsSiteAdmin() {
				adminTenants = append(adminTenants, tenant.TenantID)
			}
		}
		sort.Strings(adminTenants)
	} else {
		adminTenants = []string{r.service.TenantID}
		if snap.primarySite.SiteAdminTenantID != r.service.TenantID {
			adminTenants = append(adminTenants, snap.primarySite.SiteAdminTenantID)
		}
	}

	r.logger.Debugf("site admin tenants for service: %v", adminTenants)
	return adminTenants
}

// RouteForService returns the site ID and base URL a request for serviceName on behalf of tenantID should be sent to
//
//	Requests to the tenants service always go to the primary site. Requests to the security kernel and tokens
//	services stay at the implementing service's site when it owns the tenant and go to the primary site
//	otherwise. All other requests go to the tenant's owning site when it hosts the service and to the primary
//	site otherwise.
func (r *Registry) RouteForService(tenantID string, serviceName string) (string, string, error) {
	r.logger.Debugf("computing route for tenant_id: %s and service: %s", tenantID, serviceName)
	primarySite := r.snapshot().primarySite

	if serviceName == ServiceTenants {
		adminTenant, err := r.GetTenant(primarySite.SiteAdminTenantID)
		if err != nil {
			return "", "", tapiserrors.NewConfigurationError("primary site admin tenant not found", err)
		}
		return primarySite.SiteID, adminTenant.BaseURL, nil
	}

	tenant, err := r.GetTenant(tenantID)
	if err != nil {
		return "", "", err
	}

	if IsSecurityService(serviceName) {
		if r.service.SiteID == tenant.SiteID {
			return r.service.SiteID, tenant.BaseURL, nil
		}
		return r.routeToPrimarySite(tenantID)
	}

	if tenant.Site.HostsService(serviceName) {
		return tenant.SiteID, tenant.BaseURL, nil
	}
	return r.routeToPrimarySite(tenantID)
}

func (r *Registry) routeToPrimarySite(tenantID string) (string, string, error) {
	snap := r.snapshot()
	baseURL, err := snap.baseURLAtPrimarySite(tenantID)
	if err != nil {
		return "", "", err
	}
	return snap.primarySite.SiteID, baseURL, nil
}

func (r *Registry) now() time.Time {
	if r.config.Now != nil {
		return r.config.Now()
	}
	return time.Now()
}

func (s *snapshot) findByID(tenantID string) *Tenant {
	tenant, ok := s.tenants[tenantID]
	if !ok {
		return nil
	}
	found := *tenant
	return &found
}

func (s *snapshot) findByURL(url string) *Tenant {
	for _, tenant := range s.tenants {
		if urlMatches(url, tenant.BaseURL) {
			found := *tenant
			return &found
		}
		primaryURL, err := s.baseURLAtPrimarySite(tenant.TenantID)
		if err == nil && urlMatches(url, primaryURL) {
			found := *tenant
			return &found
		}
	}
	return nil
}

func (s *snapshot) baseURLAtPrimarySite(tenantID string) (string, error) {
	baseURL, err := s.primarySite.TenantBaseURL(tenantID)
	if err != nil {
		return "", tapiserrors.NewConfigurationError(fmt.Sprintf("could not compute the base url for tenant %s at the primary site", tenantID), err)
	}
	return baseURL, nil
}

// urlMatches returns true if url is baseURL or a path below it
func urlMatches(url string, baseURL string) bool {
	baseURL = strings.TrimRight(baseURL, "/")
	if baseURL == "" || !strings.HasPrefix(url, baseURL) {
		return false
	}
	rest := url[len(baseURL):]
	return rest == "" || rest[0] == '/' || rest[0] == '?' || rest[0] == '#'
}

// NewRegistry creates a Registry and performs the initial load from source
//
//	A failure of the initial load is returned as an error
func NewRegistry(service *Service, source RegistrySource, logger *logs.Logger, config RegistryConfig) (*Registry, error) {
	err := checkService(service)
	if err != nil {
		return nil, tapiserrors.NewConfigurationError("error checking service", err)
	}
	if source == nil {
		return nil, tapiserrors.NewConfigurationError("registry source is missing", nil)
	}
	if logger == nil {
		logger = logs.NewLogger(service.Name, nil)
	}
	if config.RefreshCooldown <= 0 {
		config.RefreshCooldown = DefaultRefreshCooldown
	}

	registry := &Registry{service: service, source: source, logger: logger, config: config, lock: &sync.RWMutex{}}

	err = registry.refresh()
	if err != nil {
		return nil, err
	}

	return registry, nil
}
