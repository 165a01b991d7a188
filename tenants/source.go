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
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/tapis-project/tapis-service-go/authutils"
	"gopkg.in/go-playground/validator.v9"
)

// -------------------- RegistrySource --------------------

// RegistrySource declares an interface to load the tenants and sites held by a Registry
type RegistrySource interface {
	// ListTenants loads every tenant record
	ListTenants() ([]Tenant, error)
	// ListSites loads every site record
	ListSites() ([]Site, error)
}

// RemoteRegistrySource provides a RegistrySource implementation for the remote tenants API
type RemoteRegistrySource struct {
	baseURL string // Base URL of the primary site's admin tenant

	client   *http.Client
	validate *validator.Validate
}

type resultEnvelope struct {
	Result  json.RawMessage `json:"result"`
	Status  string          `json:"status"`
	Message string          `json:"message"`
}

// ListTenants implements RegistrySource interface
func (r *RemoteRegistrySource) ListTenants() ([]Tenant, error) {
	var tenants []Tenant
	err := r.get("/v3/tenants", &tenants)
	if err != nil {
		return nil, fmt.Errorf("error loading tenants: %v", err)
	}

	for _, tenant := range tenants {
		err = r.validate.Struct(tenant)
		if err != nil {
			return nil, fmt.Errorf("error validating tenant data: %v", err)
		}
	}

	return tenants, nil
}

// ListSites implements RegistrySource interface
func (r *RemoteRegistrySource) ListSites() ([]Site, error) {
	var sites []Site
	err := r.get("/v3/sites", &sites)
	if err != nil {
		return nil, fmt.Errorf("error loading sites: %v", err)
	}

	for _, site := range sites {
		err = r.validate.Struct(site)
		if err != nil {
			return nil, fmt.Errorf("error validating site data: %v", err)
		}
	}

	return sites, nil
}

func (r *RemoteRegistrySource) get(path string, result interface{}) error {
	req, err := http.NewRequest(http.MethodGet, r.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("error formatting request: %v", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("error requesting %s: %v", path, err)
	}

	body, err := authutils.ReadResponseBody(resp)
	if err != nil {
		return err
	}

	var envelope resultEnvelope
	err = json.Unmarshal(body, &envelope)
	if err != nil {
		return fmt.Errorf("error on unmarshal response: %v", err)
	}
	if len(envelope.Result) == 0 {
		return fmt.Errorf("response is missing a result: %s", envelope.Message)
	}

	err = json.Unmarshal(envelope.Result, result)
	if err != nil {
		return fmt.Errorf("error on unmarshal result: %v", err)
	}

	return nil
}

// NewRemoteRegistrySource creates and configures a new RemoteRegistrySource instance
//
//	baseURL is the base URL of the primary site's admin tenant. If client is nil a client with a 30 second timeout is used.
func NewRemoteRegistrySource(baseURL string, client *http.Client) (*RemoteRegistrySource, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("primary site admin base URL is missing")
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	return &RemoteRegistrySource{baseURL: strings.TrimRight(baseURL, "/"), client: client, validate: validator.New()}, nil
}

// -------------------- StaticRegistrySource --------------------

// StaticRegistrySource provides a RegistrySource implementation serving fixed records
type StaticRegistrySource struct {
	Tenants []Tenant `json:"tenants" yaml:"tenants"`
	Sites   []Site   `json:"sites" yaml:"sites"`
}

// ListTenants implements RegistrySource interface
func (s *StaticRegistrySource) ListTenants() ([]Tenant, error) {
	return append([]Tenant(nil), s.Tenants...), nil
}

// ListSites implements RegistrySource interface
func (s *StaticRegistrySource) ListSites() ([]Site, error) {
	return append([]Site(nil), s.Sites...), nil
}

// NewStaticRegistrySource creates a new StaticRegistrySource instance
func NewStaticRegistrySource(tenants []Tenant, sites []Site) *StaticRegistrySource {
	return &StaticRegistrySource{Tenants: tenants, Sites: sites}
}
