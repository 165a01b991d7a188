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

package metrics_test

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/tapis-project/tapis-service-go/metrics"
)

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Error gathering metrics: %v", err)
	}
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			if labelsMatch(metric, labels) {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func labelsMatch(metric *dto.Metric, labels map[string]string) bool {
	for _, pair := range metric.GetLabel() {
		if labels[pair.GetName()] != pair.GetValue() {
			return false
		}
	}
	return true
}

func TestMetrics_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := metrics.NewMetrics("tapis", reg)
	if err != nil {
		t.Fatalf("Error creating metrics: %v", err)
	}

	m.RegistryRefresh(nil)
	m.RegistryRefresh(errors.New("down"))
	m.RegistryRefresh(nil)
	m.TokenValidation(nil)
	m.ServiceTokenRefresh("admin", errors.New("refresh failed"))
	m.OutboundRequest("tacc", metrics.OutboundTokenAttached)

	assert.Equal(t, 2.0, counterValue(t, reg, "tapis_tenant_registry_refreshes_total", map[string]string{"result": "success"}))
	assert.Equal(t, 1.0, counterValue(t, reg, "tapis_tenant_registry_refreshes_total", map[string]string{"result": "failure"}))
	assert.Equal(t, 1.0, counterValue(t, reg, "tapis_token_validations_total", map[string]string{"result": "success"}))
	assert.Equal(t, 1.0, counterValue(t, reg, "tapis_service_token_refreshes_total", map[string]string{"tenant_id": "admin", "result": "failure"}))
	assert.Equal(t, 1.0, counterValue(t, reg, "tapis_outbound_requests_total", map[string]string{"site_id": "tacc", "token": "attached"}))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *metrics.Metrics
	assert.NotPanics(t, func() {
		m.RegistryRefresh(nil)
		m.TokenValidation(errors.New("invalid"))
		m.ServiceTokenRefresh("admin", nil)
		m.OutboundRequest("tacc", metrics.OutboundTokenMissing)
	})
}

func TestNewMetrics_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	if _, err := metrics.NewMetrics("tapis", reg); err != nil {
		t.Fatalf("Error creating metrics: %v", err)
	}
	_, err := metrics.NewMetrics("tapis", reg)
	assert.Error(t, err)
}
