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

package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/secretsmanager"
	"github.com/aws/aws-sdk-go/service/secretsmanager/secretsmanageriface"
	"github.com/joeshaw/envdecode"
	"github.com/tapis-project/tapis-service-go/tapiserrors"
	"github.com/tapis-project/tapis-service-go/tenants"
	"gopkg.in/go-playground/validator.v9"
	"gopkg.in/yaml.v3"
)

const (
	// PathEnvVar is the environment variable holding the path of the service config file
	PathEnvVar string = "TAPIS_CONFIG_PATH"
	// DefaultPath is used when PathEnvVar is not set
	DefaultPath string = "/home/tapis/config.json"

	// DefaultDevRequestURL is the request URL that always resolves to the dev tenant
	DefaultDevRequestURL string = "dev://request_url"
)

var envVarPattern = regexp.MustCompile(`\$env\{(.*?)\}`)

// Config contains the settings of a service built on this library
//
//	Values are read from a JSON or YAML file and then overridden by environment variables
type Config struct {
	ServiceName                   string `json:"service_name" yaml:"service_name" env:"TAPIS_SERVICE_NAME" validate:"required"`
	ServicePassword               string `json:"service_password" yaml:"service_password" env:"TAPIS_SERVICE_PASSWORD" validate:"required"`
	ServicePasswordSecretID       string `json:"service_password_secret_id" yaml:"service_password_secret_id" env:"TAPIS_SERVICE_PASSWORD_SECRET_ID"`
	AWSRegion                     string `json:"aws_region" yaml:"aws_region" env:"AWS_REGION"`
	ServiceTenantID               string `json:"service_tenant_id" yaml:"service_tenant_id" env:"TAPIS_SERVICE_TENANT_ID" validate:"required"`
	ServiceSiteID                 string `json:"service_site_id" yaml:"service_site_id" env:"TAPIS_SERVICE_SITE_ID" validate:"required"`
	PrimarySiteAdminTenantBaseURL string `json:"primary_site_admin_tenant_base_url" yaml:"primary_site_admin_tenant_base_url" env:"TAPIS_PRIMARY_SITE_ADMIN_TENANT_BASE_URL" validate:"required,url"`
	DevRequestURL                 string `json:"dev_request_url" yaml:"dev_request_url" env:"TAPIS_DEV_REQUEST_URL"`

	TenantsRefreshCooldownSeconds int `json:"tenants_refresh_cooldown_seconds" yaml:"tenants_refresh_cooldown_seconds" env:"TAPIS_TENANTS_REFRESH_COOLDOWN_SECONDS" validate:"gte=0"`
	AccessTokenTTLSeconds         int `json:"access_token_ttl_seconds" yaml:"access_token_ttl_seconds" env:"TAPIS_ACCESS_TOKEN_TTL_SECONDS" validate:"gt=0"`
	RefreshTokenTTLSeconds        int `json:"refresh_token_ttl_seconds" yaml:"refresh_token_ttl_seconds" env:"TAPIS_REFRESH_TOKEN_TTL_SECONDS" validate:"gt=0"`

	ListenAddr       string `json:"listen_addr" yaml:"listen_addr" env:"TAPIS_LISTEN_ADDR" validate:"required"`
	MetricsNamespace string `json:"metrics_namespace" yaml:"metrics_namespace" env:"TAPIS_METRICS_NAMESPACE"`
	Version          string `json:"version" yaml:"version" env:"TAPIS_VERSION"`
}

// Service returns the identity of the implementing service
func (c *Config) Service() *tenants.Service {
	return &tenants.Service{
		Name:                    c.ServiceName,
		SiteID:                  c.ServiceSiteID,
		TenantID:                c.ServiceTenantID,
		PrimarySiteAdminBaseURL: c.PrimarySiteAdminTenantBaseURL,
	}
}

// TenantsRefreshCooldown returns the minimum time between stale-key registry refreshes
func (c *Config) TenantsRefreshCooldown() time.Duration {
	return time.Duration(c.TenantsRefreshCooldownSeconds) * time.Second
}

// AccessTokenTTL returns the requested lifetime of service access tokens
func (c *Config) AccessTokenTTL() time.Duration {
	return time.Duration(c.AccessTokenTTLSeconds) * time.Second
}

// RefreshTokenTTL returns the requested lifetime of service refresh tokens
func (c *Config) RefreshTokenTTL() time.Duration {
	return time.Duration(c.RefreshTokenTTLSeconds) * time.Second
}

// Validate checks that every required setting is present and well formed
func (c *Config) Validate() error {
	err := validator.New().Struct(c)
	if err != nil {
		return tapiserrors.NewConfigurationError("invalid service config", err)
	}
	return nil
}

// ApplyEnv overrides settings with the environment variables that are set
func (c *Config) ApplyEnv() error {
	err := envdecode.Decode(c)
	if err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return tapiserrors.NewConfigurationError("error reading service config from environment", err)
	}
	return nil
}

// ResolveServicePassword reads the service password from AWS Secrets Manager when a secret ID is configured
//
//	If client is nil, a client is created for AWSRegion
func (c *Config) ResolveServicePassword(ctx context.Context, client secretsmanageriface.SecretsManagerAPI) error {
	if c.ServicePasswordSecretID == "" {
		return nil
	}

	if client == nil {
		sess, err := session.NewSession(&aws.Config{Region: aws.String(c.AWSRegion)})
		if err != nil {
			return tapiserrors.NewConfigurationError("error creating aws session", err)
		}
		client = secretsmanager.New(sess)
	}

	out, err := client.GetSecretValueWithContext(ctx, &secretsmanager.GetSecretValueInput{SecretId: aws.String(c.ServicePasswordSecretID)})
	if err != nil {
		return tapiserrors.NewConfigurationError(fmt.Sprintf("error reading service password secret %s", c.ServicePasswordSecretID), err)
	}
	if out.SecretString == nil || *out.SecretString == "" {
		return tapiserrors.NewConfigurationError(fmt.Sprintf("service password secret %s is empty", c.ServicePasswordSecretID), nil)
	}

	c.ServicePassword = *out.SecretString
	return nil
}

// Default returns a Config holding the default settings
func Default() *Config {
	return &Config{
		DevRequestURL:                 DefaultDevRequestURL,
		TenantsRefreshCooldownSeconds: int(tenants.DefaultRefreshCooldown / time.Second),
		AccessTokenTTLSeconds:         86400,
		RefreshTokenTTLSeconds:        3153600000,
		ListenAddr:                    ":5000",
		MetricsNamespace:              "tapis",
	}
}

// LoadFile reads the config file at path over c
//
//	Every $env{NAME} in the file is replaced with the value of the environment variable NAME when it is set.
//	Files ending in .yaml or .yml are parsed as YAML, any other file as JSON.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return tapiserrors.NewConfigurationError(fmt.Sprintf("could not read config file at %s", path), err)
	}
	data = []byte(ReplaceEnvVars(string(data)))

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, c)
	default:
		err = json.Unmarshal(data, c)
	}
	if err != nil {
		return tapiserrors.NewConfigurationError(fmt.Sprintf("could not load configs from file at %s", path), err)
	}
	return nil
}

// ReplaceEnvVars replaces every $env{NAME} in text with the value of NAME
//
//	References to unset or empty variables are left in place
func ReplaceEnvVars(text string) string {
	return envVarPattern.ReplaceAllStringFunc(text, func(match string) string {
		name := envVarPattern.FindStringSubmatch(match)[1]
		if val := os.Getenv(name); val != "" {
			return val
		}
		return match
	})
}

// Load builds the service config from defaults, the config file, the environment and Secrets Manager, then validates it
//
//	The config file is read from the path in TAPIS_CONFIG_PATH, or DefaultPath. A missing file at DefaultPath is skipped.
func Load(ctx context.Context, secrets secretsmanageriface.SecretsManagerAPI) (*Config, error) {
	c := Default()

	path, explicit := os.LookupEnv(PathEnvVar)
	if !explicit {
		path = DefaultPath
	}
	if _, err := os.Stat(path); err == nil || explicit {
		err = c.LoadFile(path)
		if err != nil {
			return nil, err
		}
	}

	err := c.ApplyEnv()
	if err != nil {
		return nil, err
	}
	err = c.ResolveServicePassword(ctx, secrets)
	if err != nil {
		return nil, err
	}
	err = c.Validate()
	if err != nil {
		return nil, err
	}
	return c, nil
}
