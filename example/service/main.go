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

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rokwire/logging-library-go/v2/logs"
	"github.com/rs/cors"
	"github.com/tapis-project/tapis-service-go/authservice"
	"github.com/tapis-project/tapis-service-go/authutils"
	"github.com/tapis-project/tapis-service-go/config"
	"github.com/tapis-project/tapis-service-go/metrics"
	"github.com/tapis-project/tapis-service-go/tenants"
	"github.com/tapis-project/tapis-service-go/tokenauth"
)

func main() {
	logger := logs.NewLogger("example", nil)

	cfg, err := config.Load(context.Background(), nil)
	if err != nil {
		logger.Fatalf("Error loading service config: %v", err)
	}

	reg := prometheus.NewRegistry()
	m, err := metrics.NewMetrics(cfg.MetricsNamespace, reg)
	if err != nil {
		logger.Fatalf("Error initializing metrics: %v", err)
	}

	// Load tenants and sites from the tenants service at the primary site
	source, err := tenants.NewRemoteRegistrySource(cfg.PrimarySiteAdminTenantBaseURL, nil)
	if err != nil {
		logger.Fatalf("Error initializing tenants registry source: %v", err)
	}
	registry, err := tenants.NewRegistry(cfg.Service(), source, logger, tenants.RegistryConfig{RefreshCooldown: cfg.TenantsRefreshCooldown(), Metrics: m})
	if err != nil {
		logger.Fatalf("Error initializing tenants registry: %v", err)
	}

	validator, err := tokenauth.NewValidator(registry, logger, m)
	if err != nil {
		logger.Fatalf("Error initializing token validator: %v", err)
	}
	resolver, err := tokenauth.NewResolver(validator, logger, tokenauth.ResolverConfig{DevRequestURL: cfg.DevRequestURL})
	if err != nil {
		logger.Fatalf("Error initializing request resolver: %v", err)
	}
	handlers := tokenauth.NewHandlers(tokenauth.NewStandardHandler(resolver, nil, nil))

	serviceClient, err := authservice.NewServiceClient(registry, cfg.ServicePassword, nil, logger, authservice.ServiceTokenManagerConfig{
		AccessTokenTTL:  cfg.AccessTokenTTL(),
		RefreshTokenTTL: cfg.RefreshTokenTTL(),
		Metrics:         m,
	})
	if err != nil {
		logger.Fatalf("Error initializing service client: %v", err)
	}
	err = serviceClient.Manager.Bootstrap(context.Background())
	if err != nil {
		logger.Fatalf("Error generating service tokens: %v", err)
	}

	app := example{config: cfg, client: serviceClient.Client, logger: logger}

	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.Write([]byte("ok")) })
	r.Get("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}).ServeHTTP)
	r.Group(func(r chi.Router) {
		r.Use(func(next http.Handler) http.Handler { return tokenauth.AuthenticationHandler(handlers.Standard, next) })
		r.Get("/v3/"+cfg.ServiceName+"/hello", app.hello)
		r.Get("/v3/"+cfg.ServiceName+"/systems/{systemID}", app.getSystem)
	})
	r.Group(func(r chi.Router) {
		r.Use(func(next http.Handler) http.Handler { return tokenauth.AuthenticationHandler(handlers.Service, next) })
		r.Get("/v3/"+cfg.ServiceName+"/admin/tenants", app.listTenants(registry))
	})

	handler := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", authutils.HeaderToken, authutils.HeaderTenant, authutils.HeaderUser, authutils.HeaderUserTokenHash},
	}).Handler(r)

	srv := &http.Server{Addr: cfg.ListenAddr, Handler: handler}
	go func() {
		logger.Infof("%s listening on %s", cfg.ServiceName, cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Error serving requests: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}

type example struct {
	config *config.Config
	client *http.Client
	logger *logs.Logger
}

// hello returns the identity resolved for the request
func (e example) hello(w http.ResponseWriter, req *http.Request) {
	rc, _ := tokenauth.FromContext(req.Context())
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"request_id":        rc.RequestID,
		"username":          rc.Username,
		"tenant_id":         rc.TenantID,
		"request_tenant_id": rc.RequestTenantID,
		"account_type":      rc.AccountType,
		"obo":               rc.IsOBO(),
	})
}

// getSystem reads a system from the systems service on behalf of the calling user
func (e example) getSystem(w http.ResponseWriter, req *http.Request) {
	url := fmt.Sprintf("%s/v3/systems/%s", e.config.PrimarySiteAdminTenantBaseURL, chi.URLParam(req, "systemID"))
	out, err := http.NewRequestWithContext(req.Context(), http.MethodGet, url, nil)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	resp, err := e.client.Do(out)
	if err != nil {
		e.logger.Errorf("error calling systems service: %v", err)
		http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.StatusCode)
	io.Copy(w, resp.Body)
}

// listTenants returns the tenants known to the service
func (e example) listTenants(registry *tenants.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		ids := []string{}
		for _, tenant := range registry.Tenants() {
			ids = append(ids, tenant.TenantID)
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"tenants": ids, "admin_tenants": registry.AdminTenantsForService()})
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
