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

package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	resultSuccess string = "success"
	resultFailure string = "failure"

	// OutboundTokenAttached indicates a cached service token was attached to an outbound request
	OutboundTokenAttached string = "attached"
	// OutboundTokenRefreshed indicates a service token was refreshed before an outbound request
	OutboundTokenRefreshed string = "refreshed"
	// OutboundTokenRefreshFailed indicates a refresh failed and the stale token was sent
	OutboundTokenRefreshFailed string = "refresh_failed"
	// OutboundTokenMissing indicates no service token was available for an outbound request
	OutboundTokenMissing string = "missing"
)

// Metrics holds the prometheus collectors for the tapis service components
//
//	A nil *Metrics is valid and records nothing
type Metrics struct {
	registryRefreshes     *prometheus.CounterVec
	tokenValidations      *prometheus.CounterVec
	serviceTokenRefreshes *prometheus.CounterVec
	outboundRequests      *prometheus.CounterVec
}

// RegistryRefresh records the outcome of a tenants registry refresh
func (m *Metrics) RegistryRefresh(err error) {
	if m == nil {
		return
	}
	m.registryRefreshes.WithLabelValues(result(err)).Inc()
}

// TokenValidation records the outcome of an access token validation
func (m *Metrics) TokenValidation(err error) {
	if m == nil {
		return
	}
	m.tokenValidations.WithLabelValues(result(err)).Inc()
}

// ServiceTokenRefresh records the outcome of a service token refresh for tenantID
func (m *Metrics) ServiceTokenRefresh(tenantID string, err error) {
	if m == nil {
		return
	}
	m.serviceTokenRefreshes.WithLabelValues(tenantID, result(err)).Inc()
}

// OutboundRequest records how the service token was handled for an outbound request to siteID
func (m *Metrics) OutboundRequest(siteID string, tokenState string) {
	if m == nil {
		return
	}
	m.outboundRequests.WithLabelValues(siteID, tokenState).Inc()
}

func result(err error) string {
	if err != nil {
		return resultFailure
	}
	return resultSuccess
}

// NewMetrics creates the collectors and registers them with reg
func NewMetrics(namespace string, reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		registryRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tenant_registry_refreshes_total",
			Help:      "Number of tenant registry refreshes by result.",
		}, []string{"result"}),
		tokenValidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_validations_total",
			Help:      "Number of inbound access token validations by result.",
		}, []string{"result"}),
		serviceTokenRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "service_token_refreshes_total",
			Help:      "Number of service token refreshes by admin tenant and result.",
		}, []string{"tenant_id", "result"}),
		outboundRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbound_requests_total",
			Help:      "Number of intercepted outbound service requests by destination site and token state.",
		}, []string{"site_id", "token"}),
	}

	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{m.registryRefreshes, m.tokenValidations, m.serviceTokenRefreshes, m.outboundRequests} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("error registering metrics collector: %v", err)
		}
	}

	return m, nil
}
